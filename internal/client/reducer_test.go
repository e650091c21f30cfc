package client

import (
	"errors"
	"testing"
	"time"

	"github.com/Perfect-Match-Org/PMTI/internal/catalog"
	"github.com/Perfect-Match-Org/PMTI/internal/protocol"
	"github.com/Perfect-Match-Org/PMTI/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(rev int64, index int, status protocol.StatusMap) protocol.Snapshot {
	if status == nil {
		status = protocol.StatusMap{}
	}
	return protocol.Snapshot{
		SurveyID:             "s1",
		CurrentQuestionIndex: index,
		ParticipantStatus:    status,
		Status:               protocol.StatusStarted,
		Revision:             rev,
	}
}

func reduceAll(cat *catalog.Catalog, s State, events ...Event) State {
	for _, ev := range events {
		s = Reduce(cat, s, ev)
	}
	return s
}

func readyState(t *testing.T) (*catalog.Catalog, State) {
	t.Helper()
	cat := testutil.Catalog(t)
	s := reduceAll(cat, NewState(testutil.Alice, cat.TotalQuestions()),
		Subscribed{},
		Fetched{Status: protocol.StatusResponse{Snapshot: snapshot(1, 0, nil), PartnerID: testutil.Bob}},
	)
	require.Equal(t, PhaseReady, s.Phase())
	return cat, s
}

func selection(from, option, question string, at time.Time) EphemeralUpdate {
	return EphemeralUpdate{Payload: protocol.SelectionPayload{
		ParticipantID: from,
		Selection:     option,
		QuestionID:    question,
		Timestamp:     at,
	}}
}

func TestBootstrapPhases(t *testing.T) {
	cat := testutil.Catalog(t)
	s := NewState(testutil.Alice, cat.TotalQuestions())
	assert.Equal(t, PhaseLoading, s.Phase())

	s = Reduce(cat, s, Subscribed{})
	assert.Equal(t, PhaseLoading, s.Phase())
	assert.True(t, s.Connected)

	s = Reduce(cat, s, Fetched{Status: protocol.StatusResponse{Snapshot: snapshot(1, 0, nil), PartnerID: testutil.Bob}})
	assert.Equal(t, PhaseReady, s.Phase())
	assert.Equal(t, testutil.Bob, s.Partner)
}

func TestFetchDoesNotClobberNewerPush(t *testing.T) {
	cat := testutil.Catalog(t)
	s := reduceAll(cat, NewState(testutil.Alice, cat.TotalQuestions()),
		Subscribed{},
		DurableUpdate{Snapshot: snapshot(2, 0, protocol.StatusMap{testutil.Bob: {HasSubmitted: true}})},
		Fetched{Status: protocol.StatusResponse{Snapshot: snapshot(1, 0, nil), PartnerID: testutil.Bob}},
	)

	assert.Equal(t, PhaseReady, s.Phase())
	assert.Equal(t, int64(2), s.Snapshot.Revision)
	assert.True(t, s.Snapshot.ParticipantStatus.Submitted(testutil.Bob))
}

func TestStaleDurableUpdateIgnored(t *testing.T) {
	cat, s := readyState(t)

	s = Reduce(cat, s, DurableUpdate{Snapshot: snapshot(3, 0, protocol.StatusMap{testutil.Alice: {HasSubmitted: true}})})
	s = Reduce(cat, s, DurableUpdate{Snapshot: snapshot(2, 0, nil)})

	assert.Equal(t, int64(3), s.Snapshot.Revision)
	assert.True(t, s.SelfSubmitted())
}

func TestEphemeralOrderingRejectsOlderTimestamp(t *testing.T) {
	cat, s := readyState(t)
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Second)

	s = Reduce(cat, s, selection(testutil.Bob, "B", "Q1", t1))
	s = Reduce(cat, s, selection(testutil.Bob, "A", "Q1", t0))

	v := BuildView(cat, s)
	assert.Equal(t, "B", v.Partner.CurrentSelection)
	assert.False(t, v.Partner.HasSubmitted)

	s = Reduce(cat, s, selection(testutil.Bob, "C", "Q1", t1))
	assert.Equal(t, "C", BuildView(cat, s).Partner.CurrentSelection)
}

func TestEphemeralRejections(t *testing.T) {
	cat, s := readyState(t)
	now := time.Now()

	cases := map[string]EphemeralUpdate{
		"other question": selection(testutil.Bob, "A", "Q2", now),
		"self":           selection(testutil.Alice, "A", "Q1", now),
		"stranger":       selection(testutil.Mallory, "A", "Q1", now),
		"anonymous":      selection("", "A", "Q1", now),
	}
	for name, ev := range cases {
		t.Run(name, func(t *testing.T) {
			next := Reduce(cat, s, ev)
			assert.Empty(t, next.Overlay)
		})
	}
}

func TestEphemeralNeverMarksSubmitted(t *testing.T) {
	cat, s := readyState(t)
	s = Reduce(cat, s, DurableUpdate{Snapshot: snapshot(2, 0, protocol.StatusMap{testutil.Bob: {HasSubmitted: true}})})
	s = Reduce(cat, s, selection(testutil.Bob, "A", "Q1", time.Now()))

	v := BuildView(cat, s)
	assert.True(t, v.Partner.HasSubmitted)
	assert.Equal(t, "A", v.Partner.CurrentSelection)

	s = Reduce(cat, s, DurableUpdate{Snapshot: snapshot(3, 0, protocol.StatusMap{})})
	assert.False(t, BuildView(cat, s).Partner.HasSubmitted)
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	cat, s := readyState(t)
	before := Reduce(cat, s, selection(testutil.Bob, "A", "Q1", time.Now()))
	_ = Reduce(cat, before, selection(testutil.Bob, "B", "Q1", time.Now().Add(time.Second)))

	assert.Equal(t, "A", before.Overlay[testutil.Bob].Selection)
}

func TestAdvanceResetsEphemeralState(t *testing.T) {
	cat, s := readyState(t)
	s = reduceAll(cat, s,
		SelectionChanged{OptionID: "B"},
		selection(testutil.Bob, "C", "Q1", time.Now()),
	)
	require.Equal(t, "B", s.LocalSelection)
	require.Len(t, s.Overlay, 1)

	s = Reduce(cat, s, DurableUpdate{Snapshot: snapshot(3, 1, nil)})
	assert.Equal(t, PhaseAdvancing, s.Phase())
	assert.Empty(t, s.Overlay)
	assert.Empty(t, s.LocalSelection)
	assert.Empty(t, s.Snapshot.ParticipantStatus)

	s = Reduce(cat, s, Settled{})
	assert.Equal(t, PhaseReady, s.Phase())
	v := BuildView(cat, s)
	require.NotNil(t, v.Question)
	assert.Equal(t, "Q2", v.Question.ID)
	assert.Equal(t, 2, v.QuestionNumber)
}

func TestDuplicateAdvanceAppliedOnce(t *testing.T) {
	cat, s := readyState(t)
	advance := snapshot(3, 1, nil)

	s = Reduce(cat, s, DurableUpdate{Snapshot: advance})
	require.True(t, s.Advancing)
	s = Reduce(cat, s, Settled{})

	s = Reduce(cat, s, SubmitSucceeded{Snapshot: advance})
	assert.False(t, s.Advancing)
	assert.Equal(t, PhaseReady, s.Phase())
}

func TestSelectionSuppressedAfterSubmit(t *testing.T) {
	cat, s := readyState(t)
	s = Reduce(cat, s, SelectionChanged{OptionID: "A"})
	s = Reduce(cat, s, SubmitSucceeded{Snapshot: snapshot(2, 0, protocol.StatusMap{testutil.Alice: {HasSubmitted: true}})})

	s = Reduce(cat, s, SelectionChanged{OptionID: "C"})
	assert.Equal(t, "A", s.LocalSelection)
	assert.ErrorIs(t, CanSelect(cat, s, "C"), ErrAlreadySubmitted)

	s = Reduce(cat, s, SelectionChanged{OptionID: "Z"})
	assert.Equal(t, "A", s.LocalSelection)
}

func TestSubmitFailureKeepsDurableState(t *testing.T) {
	cat, s := readyState(t)
	s = Reduce(cat, s, SubmitStarted{})
	assert.True(t, s.Submitting)
	assert.ErrorIs(t, CanSelect(cat, s, "B"), ErrSubmitInFlight)

	s = Reduce(cat, s, SubmitFailed{Err: errors.New("connection reset")})
	assert.False(t, s.Submitting)
	assert.False(t, s.SelfSubmitted())
	assert.Equal(t, int64(1), s.Snapshot.Revision)
	assert.Equal(t, PhaseReady, s.Phase())
	assert.Error(t, BuildView(cat, s).SubmitErr)

	s = Reduce(cat, s, SubmitFailed{Err: &Failure{Kind: FailureForbidden, Status: 403}})
	assert.Equal(t, PhaseError, s.Phase())
}

func TestCompletion(t *testing.T) {
	cat, s := readyState(t)
	done := snapshot(5, 2, nil)
	done.Status = protocol.StatusCompleted

	s = Reduce(cat, s, DurableUpdate{Snapshot: done})
	assert.Equal(t, PhaseCompleted, s.Phase())
	assert.Nil(t, BuildView(cat, s).Question)
	assert.ErrorIs(t, CanSelect(cat, s, "A"), ErrSessionOver)
}

func TestAbandoned(t *testing.T) {
	cat, s := readyState(t)
	gone := snapshot(2, 0, nil)
	gone.Status = protocol.StatusAbandoned

	s = Reduce(cat, s, DurableUpdate{Snapshot: gone})
	assert.Equal(t, PhaseAbandoned, s.Phase())
	assert.ErrorIs(t, CanSelect(cat, s, "A"), ErrSessionOver)
}

func TestDisconnectAndReconnect(t *testing.T) {
	cat, s := readyState(t)
	s = Reduce(cat, s, selection(testutil.Bob, "A", "Q1", time.Now()))

	s = Reduce(cat, s, Disconnected{Err: errors.New("eof")})
	assert.Equal(t, PhaseError, s.Phase())
	assert.Equal(t, FailureTransport, s.Failure)
	assert.Empty(t, s.Overlay)
	assert.Equal(t, int64(1), s.Snapshot.Revision)

	s = Reduce(cat, s, Reset{})
	assert.Equal(t, PhaseLoading, s.Phase())
	assert.True(t, s.HaveSnapshot)

	s = reduceAll(cat, s,
		Subscribed{},
		Fetched{Status: protocol.StatusResponse{
			Snapshot:  snapshot(2, 0, protocol.StatusMap{testutil.Bob: {HasSubmitted: true}}),
			PartnerID: testutil.Bob,
		}},
	)
	assert.Equal(t, PhaseReady, s.Phase())
	assert.True(t, BuildView(cat, s).Partner.HasSubmitted)
}

func TestBuildViewRoles(t *testing.T) {
	cat, s := readyState(t)
	v := BuildView(cat, s)

	assert.Equal(t, catalog.RoleUser1, v.Self.Role)
	assert.Equal(t, catalog.RoleUser2, v.Partner.Role)
	assert.Equal(t, "one for user1?", v.Perspective.Question)
	assert.Equal(t, 2, v.TotalQuestions)
}

func TestMergeStatus(t *testing.T) {
	durable := protocol.StatusMap{testutil.Bob: {HasSubmitted: true}}
	overlay := map[string]LiveStatus{testutil.Bob: {Selection: "B", QuestionID: "Q1"}}

	v := MergeStatus(durable, overlay, testutil.Bob, "Q1")
	assert.Equal(t, ParticipantView{Email: testutil.Bob, HasSubmitted: true, CurrentSelection: "B"}, v)

	v = MergeStatus(durable, overlay, testutil.Bob, "Q2")
	assert.Empty(t, v.CurrentSelection)

	v = MergeStatus(nil, nil, testutil.Alice, "Q1")
	assert.False(t, v.HasSubmitted)
}
