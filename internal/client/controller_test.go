package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Perfect-Match-Org/PMTI/internal/protocol"
	"github.com/Perfect-Match-Org/PMTI/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeAPI struct {
	log       *callLog
	mu        sync.Mutex
	status    protocol.StatusResponse
	statusErr error
	submit    func(protocol.SubmitRequest) (*protocol.SubmitResponse, error)
}

func (a *fakeAPI) Status(_ context.Context, _ string) (*protocol.StatusResponse, error) {
	a.log.add("status")
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.statusErr != nil {
		return nil, a.statusErr
	}
	s := a.status
	return &s, nil
}

func (a *fakeAPI) Submit(_ context.Context, _ string, req protocol.SubmitRequest) (*protocol.SubmitResponse, error) {
	a.log.add("submit")
	return a.submit(req)
}

type fakeChannel struct {
	mu     sync.Mutex
	sent   []protocol.Message
	closed bool
}

func (c *fakeChannel) Send(_ context.Context, msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeDialer struct {
	log     *callLog
	mu      sync.Mutex
	err     error
	channel *fakeChannel
	handler ChannelHandler
}

func (d *fakeDialer) Dial(_ context.Context, _ string, h ChannelHandler) (Channel, error) {
	d.log.add("dial")
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.channel = &fakeChannel{}
	d.handler = h
	return d.channel, nil
}

func (d *fakeDialer) push(t *testing.T, msg protocol.Message) {
	t.Helper()
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	h.OnMessage(msg)
}

func (d *fakeDialer) current() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channel
}

type harness struct {
	api      *fakeAPI
	dialer   *fakeDialer
	ctrl     *Controller
	advances *callLog
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	log := &callLog{}
	h := &harness{
		api: &fakeAPI{
			log:    log,
			status: protocol.StatusResponse{Snapshot: snapshot(1, 0, nil), PartnerID: testutil.Bob},
		},
		dialer:   &fakeDialer{log: log},
		advances: &callLog{},
	}
	opts = append(opts, WithOnAdvance(func(from, to int) {
		h.advances.add("advance")
	}))
	h.ctrl = NewController(testutil.Catalog(t), h.api, h.dialer, "s1", testutil.Alice, opts...)
	return h
}

func rowUpdate(t *testing.T, s protocol.Snapshot) protocol.Message {
	t.Helper()
	m, err := protocol.RowUpdate(s)
	require.NoError(t, err)
	return m
}

func TestStartSubscribesBeforeFetching(t *testing.T) {
	var phases []Phase
	h := newHarness(t, WithOnChange(func(v View) { phases = append(phases, v.Phase) }))

	require.NoError(t, h.ctrl.Start(context.Background()))

	assert.Equal(t, []string{"dial", "status"}, h.api.log.list())
	v := h.ctrl.View()
	assert.Equal(t, PhaseReady, v.Phase)
	assert.True(t, v.Connected)
	assert.Equal(t, testutil.Bob, v.Partner.Email)
	assert.Equal(t, PhaseLoading, phases[0])
	assert.Equal(t, PhaseReady, phases[len(phases)-1])
}

func TestStartFailureAndRetry(t *testing.T) {
	h := newHarness(t)
	h.dialer.err = errors.New("connection refused")

	err := h.ctrl.Start(context.Background())
	require.Error(t, err)
	v := h.ctrl.View()
	assert.Equal(t, PhaseError, v.Phase)
	assert.Equal(t, FailureTransport, v.Failure)

	h.dialer.mu.Lock()
	h.dialer.err = nil
	h.dialer.mu.Unlock()
	require.NoError(t, h.ctrl.Retry(context.Background()))
	assert.Equal(t, PhaseReady, h.ctrl.View().Phase)
}

func TestStartForbiddenReleasesChannel(t *testing.T) {
	h := newHarness(t)
	h.api.statusErr = &Failure{Kind: FailureForbidden, Status: 403, Message: "access denied"}

	err := h.ctrl.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, FailureForbidden, KindOf(err))
	assert.Equal(t, PhaseError, h.ctrl.View().Phase)
	assert.True(t, h.dialer.current().closed)
}

func TestUpdateSelectionBroadcasts(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	h := newHarness(t, WithClock(func() time.Time { return at }))
	require.NoError(t, h.ctrl.Start(context.Background()))

	require.NoError(t, h.ctrl.UpdateSelection(context.Background(), "B"))
	assert.Equal(t, "B", h.ctrl.View().Self.CurrentSelection)

	sent := h.dialer.current().sent
	require.Len(t, sent, 1)
	require.True(t, sent[0].IsSelectionUpdate())
	var p protocol.SelectionPayload
	require.NoError(t, sent[0].Decode(&p))
	assert.Equal(t, protocol.SelectionPayload{ParticipantID: testutil.Alice, Selection: "B", QuestionID: "Q1", Timestamp: at}, p)

	assert.ErrorIs(t, h.ctrl.UpdateSelection(context.Background(), "Z"), ErrInvalidOption)
	assert.Len(t, h.dialer.current().sent, 1)
}

func TestSubmitSingleFlight(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.api.submit = func(req protocol.SubmitRequest) (*protocol.SubmitResponse, error) {
		<-release
		return &protocol.SubmitResponse{
			Success:           true,
			ParticipantStatus: protocol.StatusMap{testutil.Alice: {HasSubmitted: true}},
			Status:            protocol.StatusStarted,
			Revision:          2,
		}, nil
	}
	require.NoError(t, h.ctrl.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Submit(context.Background(), "A") }()
	require.Eventually(t, func() bool { return h.ctrl.View().Submitting }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, h.ctrl.Submit(context.Background(), "A"), ErrSubmitInFlight)
	close(release)
	require.NoError(t, <-done)

	v := h.ctrl.View()
	assert.True(t, v.Self.HasSubmitted)
	assert.False(t, v.Submitting)
	assert.ErrorIs(t, h.ctrl.Submit(context.Background(), "B"), ErrAlreadySubmitted)
	assert.ErrorIs(t, h.ctrl.UpdateSelection(context.Background(), "B"), ErrAlreadySubmitted)
}

// A slow view subscriber must not open a window in which a second submit or
// a late selection slips past the in-flight check.
func TestSubmitSingleFlightWhileViewBlocked(t *testing.T) {
	var armed atomic.Bool
	entered := make(chan struct{}, 1)
	gate := make(chan struct{})
	h := newHarness(t, WithOnChange(func(View) {
		if armed.CompareAndSwap(true, false) {
			entered <- struct{}{}
			<-gate
		}
	}))
	var calls atomic.Int32
	h.api.submit = func(protocol.SubmitRequest) (*protocol.SubmitResponse, error) {
		calls.Add(1)
		return &protocol.SubmitResponse{
			Success:           true,
			ParticipantStatus: protocol.StatusMap{testutil.Alice: {HasSubmitted: true}},
			Status:            protocol.StatusStarted,
			Revision:          2,
		}, nil
	}
	require.NoError(t, h.ctrl.Start(context.Background()))

	msg, err := protocol.SelectionUpdate(protocol.SelectionPayload{
		ParticipantID: testutil.Bob, Selection: "B", QuestionID: "Q1", Timestamp: time.Now(),
	})
	require.NoError(t, err)
	armed.Store(true)
	pushed := make(chan struct{})
	go func() {
		defer close(pushed)
		h.dialer.push(t, msg)
	}()
	<-entered

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- h.ctrl.Submit(context.Background(), "A") }()
	}
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrSubmitInFlight)
	case <-time.After(2 * time.Second):
		t.Fatal("second submit was not rejected while the first was in flight")
	}
	assert.ErrorIs(t, h.ctrl.UpdateSelection(context.Background(), "C"), ErrSubmitInFlight)
	assert.Empty(t, h.dialer.current().sent)

	close(gate)
	<-pushed
	require.NoError(t, <-errs)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, h.ctrl.View().Self.HasSubmitted)
}

func TestSubmitBeforeStart(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.ctrl.Submit(context.Background(), "A"), ErrNotReady)
}

func TestSubmitFailureDoesNotApply(t *testing.T) {
	h := newHarness(t)
	h.api.submit = func(protocol.SubmitRequest) (*protocol.SubmitResponse, error) {
		return nil, errors.New("timeout")
	}
	require.NoError(t, h.ctrl.Start(context.Background()))

	require.Error(t, h.ctrl.Submit(context.Background(), "A"))
	v := h.ctrl.View()
	assert.False(t, v.Self.HasSubmitted)
	assert.Equal(t, PhaseReady, v.Phase)
	assert.Error(t, v.SubmitErr)
}

func TestAdvanceRunsOnceForResponseAndPush(t *testing.T) {
	h := newHarness(t)
	advance := snapshot(3, 1, nil)
	h.api.submit = func(protocol.SubmitRequest) (*protocol.SubmitResponse, error) {
		return &protocol.SubmitResponse{Success: true, ParticipantStatus: protocol.StatusMap{}, CurrentQuestionIndex: 1,
			Status: protocol.StatusStarted, Revision: 3}, nil
	}
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.dialer.push(t, rowUpdate(t, snapshot(2, 0, protocol.StatusMap{testutil.Bob: {HasSubmitted: true}})))
	require.NoError(t, h.ctrl.Submit(context.Background(), "A"))
	h.dialer.push(t, rowUpdate(t, advance))

	assert.Len(t, h.advances.list(), 1)
	v := h.ctrl.View()
	assert.Equal(t, PhaseReady, v.Phase)
	assert.Equal(t, "Q2", v.Question.ID)
}

func TestAdvanceFromPushBeforeResponse(t *testing.T) {
	h := newHarness(t)
	advance := snapshot(3, 1, nil)
	h.api.submit = func(protocol.SubmitRequest) (*protocol.SubmitResponse, error) {
		h.dialer.push(t, rowUpdate(t, advance))
		return &protocol.SubmitResponse{Success: true, ParticipantStatus: protocol.StatusMap{}, CurrentQuestionIndex: 1,
			Status: protocol.StatusStarted, Revision: 3}, nil
	}
	require.NoError(t, h.ctrl.Start(context.Background()))

	require.NoError(t, h.ctrl.Submit(context.Background(), "A"))
	assert.Len(t, h.advances.list(), 1)
	assert.Equal(t, 1, h.ctrl.State().Snapshot.CurrentQuestionIndex)
}

func TestPartnerSelectionAppearsInView(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background()))

	msg, err := protocol.SelectionUpdate(protocol.SelectionPayload{
		ParticipantID: testutil.Bob, Selection: "C", QuestionID: "Q1", Timestamp: time.Now(),
	})
	require.NoError(t, err)
	h.dialer.push(t, msg)

	v := h.ctrl.View()
	assert.Equal(t, "C", v.Partner.CurrentSelection)
	assert.False(t, v.Partner.HasSubmitted)
}

func TestCloseReleasesAndIgnoresLateMessages(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background()))
	ch := h.dialer.current()

	require.NoError(t, h.ctrl.Close())
	assert.True(t, ch.closed)
	assert.False(t, h.ctrl.View().Connected)

	h.dialer.push(t, rowUpdate(t, snapshot(9, 1, nil)))
	assert.Equal(t, int64(1), h.ctrl.State().Snapshot.Revision)
}

func TestDisconnectSurfacesRetryableError(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.dialer.mu.Lock()
	onClose := h.dialer.handler.OnClose
	h.dialer.mu.Unlock()
	onClose(errors.New("network lost"))

	v := h.ctrl.View()
	assert.Equal(t, PhaseError, v.Phase)
	assert.Equal(t, FailureTransport, v.Failure)
	require.NotNil(t, v.Question)

	h.api.mu.Lock()
	h.api.status = protocol.StatusResponse{
		Snapshot:  snapshot(2, 0, protocol.StatusMap{testutil.Bob: {HasSubmitted: true}}),
		PartnerID: testutil.Bob,
	}
	h.api.mu.Unlock()

	require.NoError(t, h.ctrl.Retry(context.Background()))
	v = h.ctrl.View()
	assert.Equal(t, PhaseReady, v.Phase)
	assert.True(t, v.Partner.HasSubmitted)
}

func TestWithSessionAlwaysReleases(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("boom")

	err := WithSession(context.Background(), h.ctrl, func(c *Controller) error {
		assert.Equal(t, PhaseReady, c.View().Phase)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, h.dialer.current().closed)
}
