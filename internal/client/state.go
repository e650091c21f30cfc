// Package client drives one participant's view of a shared survey. All state
// transitions go through Reduce; the Controller feeds it events from the HTTP
// API and the realtime channel.
package client

import (
	"time"

	"github.com/Perfect-Match-Org/PMTI/internal/catalog"
	"github.com/Perfect-Match-Org/PMTI/internal/protocol"
)

type Phase string

const (
	PhaseLoading   Phase = "loading"
	PhaseReady     Phase = "ready"
	PhaseAdvancing Phase = "advancing"
	PhaseCompleted Phase = "completed"
	PhaseAbandoned Phase = "abandoned"
	PhaseError     Phase = "error"
)

// LiveStatus is the partner's unsubmitted selection as last broadcast.
type LiveStatus struct {
	Selection  string
	QuestionID string
	Timestamp  time.Time
}

// State holds two layers: the durable snapshot confirmed by the server and
// an ephemeral overlay of live selections. They are merged only in BuildView.
type State struct {
	Self    string
	Partner string
	Total   int

	Snapshot     protocol.Snapshot
	HaveSnapshot bool
	Bootstrapped bool
	Subscribed   bool
	Connected    bool
	Advancing    bool

	Overlay        map[string]LiveStatus
	LocalSelection string
	Submitting     bool

	Failure   FailureKind
	Err       error
	SubmitErr error
}

func NewState(self string, total int) State {
	return State{Self: self, Total: total, Overlay: map[string]LiveStatus{}}
}

// Completed reports whether the durable snapshot is past the last question.
func (s State) Completed() bool {
	return s.HaveSnapshot &&
		(s.Snapshot.Status == protocol.StatusCompleted || s.Snapshot.CurrentQuestionIndex >= s.Total)
}

func (s State) Phase() Phase {
	switch {
	case s.Failure.Terminal():
		return PhaseError
	case s.Completed():
		return PhaseCompleted
	case s.HaveSnapshot && s.Snapshot.Status == protocol.StatusAbandoned:
		return PhaseAbandoned
	case s.Failure != FailureNone:
		return PhaseError
	case !s.Subscribed || !s.Bootstrapped:
		return PhaseLoading
	case s.Advancing:
		return PhaseAdvancing
	default:
		return PhaseReady
	}
}

// SelfSubmitted reports whether the durable snapshot shows this participant
// as submitted for the current question.
func (s State) SelfSubmitted() bool {
	return s.Snapshot.ParticipantStatus.Submitted(s.Self)
}

// CurrentQuestion resolves the durable index through the catalog.
func (s State) CurrentQuestion(cat *catalog.Catalog) (catalog.Question, bool) {
	if !s.HaveSnapshot {
		return catalog.Question{}, false
	}
	return cat.At(s.Snapshot.CurrentQuestionIndex)
}

// CanSelect reports why optionID cannot be chosen right now, or nil.
func CanSelect(cat *catalog.Catalog, s State, optionID string) error {
	q, ok := s.CurrentQuestion(cat)
	if !ok || s.Snapshot.Status != protocol.StatusStarted {
		return ErrSessionOver
	}
	if s.SelfSubmitted() {
		return ErrAlreadySubmitted
	}
	if s.Submitting {
		return ErrSubmitInFlight
	}
	if !q.HasOption(optionID) {
		return ErrInvalidOption
	}
	return nil
}

func (s State) withOverlay(m map[string]LiveStatus) State {
	s.Overlay = m
	return s
}

func (s State) cloneOverlay() map[string]LiveStatus {
	out := make(map[string]LiveStatus, len(s.Overlay))
	for k, v := range s.Overlay {
		out[k] = v
	}
	return out
}
