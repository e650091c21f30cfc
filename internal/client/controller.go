package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Perfect-Match-Org/PMTI/internal/catalog"
	"github.com/Perfect-Match-Org/PMTI/internal/logger"
	"github.com/Perfect-Match-Org/PMTI/internal/protocol"

	"github.com/rs/zerolog"
)

type Option func(*Controller)

// WithOnChange registers a callback invoked with the new view after every
// state change. Calls are serialized; fn may read View but must not call
// controller actions.
func WithOnChange(fn func(View)) Option {
	return func(c *Controller) { c.onChange = fn }
}

// WithOnAdvance registers a callback invoked exactly once per observed
// question change, whichever source reported it first.
func WithOnAdvance(fn func(from, to int)) Option {
	return func(c *Controller) { c.onAdvance = fn }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller owns one participant's session view. It is safe for concurrent
// use; channel callbacks and user actions are funnelled through Reduce.
type Controller struct {
	cat      *catalog.Catalog
	api      StatusAPI
	dialer   Dialer
	surveyID string

	mu      sync.Mutex
	state   State
	channel Channel
	gen     int

	emitMu    sync.Mutex
	onChange  func(View)
	onAdvance func(from, to int)
	now       func() time.Time
	log       zerolog.Logger
}

func NewController(cat *catalog.Catalog, api StatusAPI, dialer Dialer, surveyID, self string, opts ...Option) *Controller {
	c := &Controller{
		cat:      cat,
		api:      api,
		dialer:   dialer,
		surveyID: surveyID,
		state:    NewState(self, cat.TotalQuestions()),
		now:      time.Now,
		log:      logger.Component("client").With().Str("survey_id", surveyID).Str("self", self).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithSession runs fn against a started controller and always releases the
// realtime subscription afterwards.
func WithSession(ctx context.Context, c *Controller, fn func(*Controller) error) error {
	defer c.Close()
	if err := c.Start(ctx); err != nil {
		return err
	}
	return fn(c)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return BuildView(c.cat, c.state)
}

// Start subscribes first and fetches second, so no durable change can fall
// between the fetch and the subscription.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.releaseLocked()
	c.gen++
	gen := c.gen
	c.mu.Unlock()
	c.dispatch(Reset{})

	ch, err := c.dialer.Dial(ctx, c.surveyID, ChannelHandler{
		OnMessage: func(m protocol.Message) { c.handleMessage(gen, m) },
		OnClose:   func(err error) { c.handleClose(gen, err) },
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("subscribe")
		c.dispatch(TransportFailed{Err: err})
		return err
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = ch.Close()
		return ErrNotReady
	}
	c.channel = ch
	c.mu.Unlock()
	c.dispatch(Subscribed{})

	status, err := c.api.Status(ctx, c.surveyID)
	if err != nil {
		c.log.Warn().Err(err).Msg("fetch status")
		c.mu.Lock()
		if gen == c.gen {
			c.releaseLocked()
		}
		c.mu.Unlock()
		c.dispatch(TransportFailed{Err: err})
		return err
	}
	c.dispatch(Fetched{Status: *status})
	return nil
}

// Retry repeats the bootstrap after an error.
func (c *Controller) Retry(ctx context.Context) error {
	return c.Start(ctx)
}

// Close releases the realtime subscription. No callbacks from it are
// processed afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.gen++
	err := c.releaseLocked()
	c.mu.Unlock()
	c.dispatch(Released{})
	return err
}

// UpdateSelection records a candidate answer locally and broadcasts it to
// the partner.
func (c *Controller) UpdateSelection(ctx context.Context, optionID string) error {
	var (
		q    catalog.Question
		self string
		ch   Channel
	)
	err := c.transition(SelectionChanged{OptionID: optionID}, func(s State) error {
		if err := CanSelect(c.cat, s, optionID); err != nil {
			return err
		}
		q, _ = s.CurrentQuestion(c.cat)
		self, ch = s.Self, c.channel
		return nil
	})
	if err != nil || ch == nil {
		return err
	}

	msg, err := protocol.SelectionUpdate(protocol.SelectionPayload{
		ParticipantID: self,
		Selection:     optionID,
		QuestionID:    q.ID,
		Timestamp:     c.now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := ch.Send(ctx, msg); err != nil {
		c.log.Warn().Err(err).Msg("broadcast selection")
		return fmt.Errorf("broadcast selection: %w", err)
	}
	return nil
}

// Submit sends the final answer for the current question. Nothing is applied
// locally until the server confirms.
func (c *Controller) Submit(ctx context.Context, optionID string) error {
	var q catalog.Question
	err := c.transition(SubmitStarted{}, func(s State) error {
		switch {
		case !s.Bootstrapped:
			return ErrNotReady
		case s.Submitting:
			return ErrSubmitInFlight
		}
		if err := CanSelect(c.cat, s, optionID); err != nil {
			return err
		}
		q, _ = s.CurrentQuestion(c.cat)
		return nil
	})
	if err != nil {
		return err
	}

	resp, err := c.api.Submit(ctx, c.surveyID, protocol.SubmitRequest{QuestionID: q.ID, SelectedOption: optionID})
	if err != nil {
		c.log.Warn().Err(err).Str("question_id", q.ID).Msg("submit")
		c.dispatch(SubmitFailed{Err: err})
		return err
	}
	c.dispatch(SubmitSucceeded{Snapshot: resp.Snapshot(c.surveyID)})
	return nil
}

func (c *Controller) handleMessage(gen int, m protocol.Message) {
	c.mu.Lock()
	stale := gen != c.gen
	c.mu.Unlock()
	if stale {
		return
	}

	switch {
	case m.Type == protocol.TypeRowUpdate:
		var snap protocol.Snapshot
		if err := m.Decode(&snap); err != nil {
			c.log.Warn().Err(err).Msg("decode row update")
			return
		}
		c.dispatch(DurableUpdate{Snapshot: snap})
	case m.IsSelectionUpdate():
		var p protocol.SelectionPayload
		if err := m.Decode(&p); err != nil {
			c.log.Warn().Err(err).Msg("decode selection")
			return
		}
		c.dispatch(EphemeralUpdate{Payload: p})
	case m.Type == protocol.TypeSystem && m.Event == protocol.EventError:
		var p protocol.ErrorPayload
		_ = m.Decode(&p)
		c.log.Warn().Str("error", p.Error).Msg("channel rejected a message")
	}
}

func (c *Controller) handleClose(gen int, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.channel = nil
	c.mu.Unlock()

	if err == nil {
		err = fmt.Errorf("realtime channel closed")
	}
	c.log.Warn().Err(err).Msg("disconnected")
	c.dispatch(Disconnected{Err: err})
}

func (c *Controller) releaseLocked() error {
	if c.channel == nil {
		return nil
	}
	err := c.channel.Close()
	c.channel = nil
	return err
}

func (c *Controller) dispatch(ev Event) {
	_ = c.transition(ev, nil)
}

// transition applies ev when guard accepts the current state. The check and
// the update happen under one lock; views are published afterwards. When the
// question changed, the advancing view is published, the advance hook runs,
// and the state settles back to ready.
func (c *Controller) transition(ev Event, guard func(State) error) error {
	c.mu.Lock()
	if guard != nil {
		if err := guard(c.state); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	before := c.state
	c.state = Reduce(c.cat, c.state, ev)
	after := c.state
	c.mu.Unlock()

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.emit(c.State())
	if before.Advancing || !after.Advancing {
		return nil
	}

	from, to := before.Snapshot.CurrentQuestionIndex, after.Snapshot.CurrentQuestionIndex
	c.log.Debug().Int("from", from).Int("to", to).Msg("question advanced")
	if c.onAdvance != nil {
		c.onAdvance(from, to)
	}

	c.mu.Lock()
	c.state = Reduce(c.cat, c.state, Settled{})
	settled := c.state
	c.mu.Unlock()
	c.emit(settled)
	return nil
}

func (c *Controller) emit(s State) {
	if c.onChange != nil {
		c.onChange(BuildView(c.cat, s))
	}
}
