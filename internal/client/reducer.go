package client

import (
	"github.com/Perfect-Match-Org/PMTI/internal/catalog"
	"github.com/Perfect-Match-Org/PMTI/internal/protocol"
)

// Event is anything Reduce accepts.
type Event interface {
	event()
}

type (
	// Reset starts a fresh bootstrap. The durable snapshot is kept as the
	// last known good view.
	Reset struct{}
	// Subscribed means the realtime channel acknowledged the subscription.
	Subscribed struct{}
	// Fetched carries the initial durable state.
	Fetched struct{ Status protocol.StatusResponse }
	// DurableUpdate is a row-update push.
	DurableUpdate struct{ Snapshot protocol.Snapshot }
	// EphemeralUpdate is a selection broadcast from another participant.
	EphemeralUpdate struct{ Payload protocol.SelectionPayload }
	SelectionChanged struct{ OptionID string }
	SubmitStarted    struct{}
	SubmitSucceeded  struct{ Snapshot protocol.Snapshot }
	SubmitFailed     struct{ Err error }
	TransportFailed  struct{ Err error }
	Disconnected     struct{ Err error }
	// Released means the channel was closed on purpose.
	Released struct{}
	// Settled ends the transient advancing phase.
	Settled struct{}
)

func (Reset) event()            {}
func (Subscribed) event()       {}
func (Fetched) event()          {}
func (DurableUpdate) event()    {}
func (EphemeralUpdate) event()  {}
func (SelectionChanged) event() {}
func (SubmitStarted) event()    {}
func (SubmitSucceeded) event()  {}
func (SubmitFailed) event()     {}
func (TransportFailed) event()  {}
func (Disconnected) event()     {}
func (Released) event()         {}
func (Settled) event()          {}

// Reduce returns the state after ev. It never mutates s.
func Reduce(cat *catalog.Catalog, s State, ev Event) State {
	switch ev := ev.(type) {
	case Reset:
		s.Subscribed = false
		s.Bootstrapped = false
		s.Connected = false
		s.Failure = FailureNone
		s.Err = nil
		s.SubmitErr = nil
		s.Submitting = false
		return s.withOverlay(map[string]LiveStatus{})

	case Subscribed:
		s.Subscribed = true
		s.Connected = true
		return s

	case Fetched:
		if ev.Status.PartnerID != "" {
			s.Partner = ev.Status.PartnerID
		}
		s = applyDurable(cat, s, ev.Status.Snapshot)
		s.Bootstrapped = true
		return s

	case DurableUpdate:
		return applyDurable(cat, s, ev.Snapshot)

	case EphemeralUpdate:
		return applyEphemeral(cat, s, ev.Payload)

	case SelectionChanged:
		if CanSelect(cat, s, ev.OptionID) != nil {
			return s
		}
		s.LocalSelection = ev.OptionID
		return s

	case SubmitStarted:
		s.Submitting = true
		s.SubmitErr = nil
		return s

	case SubmitSucceeded:
		s.Submitting = false
		return applyDurable(cat, s, ev.Snapshot)

	case SubmitFailed:
		s.Submitting = false
		s.SubmitErr = ev.Err
		if kind := KindOf(ev.Err); kind.Terminal() {
			s.Failure = kind
			s.Err = ev.Err
		}
		return s

	case TransportFailed:
		s.Failure = KindOf(ev.Err)
		s.Err = ev.Err
		if s.Failure == FailureTransport {
			s.Connected = false
		}
		return s

	case Disconnected:
		s.Subscribed = false
		s.Connected = false
		s.Failure = FailureTransport
		s.Err = ev.Err
		return s.withOverlay(map[string]LiveStatus{})

	case Released:
		s.Subscribed = false
		s.Connected = false
		return s.withOverlay(map[string]LiveStatus{})

	case Settled:
		s.Advancing = false
		return s
	}
	return s
}

// applyDurable overwrites the durable layer when snap is newer than what is
// held. Equal or older revisions are duplicates or late deliveries.
func applyDurable(cat *catalog.Catalog, s State, snap protocol.Snapshot) State {
	if s.HaveSnapshot && snap.Revision <= s.Snapshot.Revision {
		return s
	}

	advanced := s.HaveSnapshot && snap.CurrentQuestionIndex != s.Snapshot.CurrentQuestionIndex
	snap.ParticipantStatus = snap.ParticipantStatus.Clone()
	s.Snapshot = snap
	s.HaveSnapshot = true

	if advanced {
		s.Advancing = true
		s.LocalSelection = ""
		s.SubmitErr = nil
		return s.withOverlay(map[string]LiveStatus{})
	}

	q, ok := cat.At(snap.CurrentQuestionIndex)
	overlay := s.cloneOverlay()
	for who, live := range overlay {
		if !ok || live.QuestionID != q.ID {
			delete(overlay, who)
		}
	}
	return s.withOverlay(overlay)
}

func applyEphemeral(cat *catalog.Catalog, s State, p protocol.SelectionPayload) State {
	if p.ParticipantID == "" || p.ParticipantID == s.Self {
		return s
	}
	if s.Partner != "" && p.ParticipantID != s.Partner {
		return s
	}
	q, ok := s.CurrentQuestion(cat)
	if !ok || p.QuestionID != q.ID {
		return s
	}
	if prev, seen := s.Overlay[p.ParticipantID]; seen && p.Timestamp.Before(prev.Timestamp) {
		return s
	}

	overlay := s.cloneOverlay()
	overlay[p.ParticipantID] = LiveStatus{
		Selection:  p.Selection,
		QuestionID: p.QuestionID,
		Timestamp:  p.Timestamp,
	}
	return s.withOverlay(overlay)
}
