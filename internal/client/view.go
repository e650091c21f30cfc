package client

import (
	"github.com/Perfect-Match-Org/PMTI/internal/catalog"
	"github.com/Perfect-Match-Org/PMTI/internal/protocol"
)

type ParticipantView struct {
	Email            string
	Role             catalog.Role
	HasSubmitted     bool
	CurrentSelection string
}

// View is what a UI renders.
type View struct {
	Phase          Phase
	Question       *catalog.Question
	Perspective    catalog.Perspective
	QuestionNumber int
	TotalQuestions int
	Self           ParticipantView
	Partner        ParticipantView
	Connected      bool
	Submitting     bool
	Failure        FailureKind
	Err            error
	SubmitErr      error
}

// MergeStatus combines a participant's durable submission flag with the live
// overlay. The overlay only contributes a selection for the given question
// and never marks a participant as submitted.
func MergeStatus(durable protocol.StatusMap, overlay map[string]LiveStatus, who, questionID string) ParticipantView {
	v := ParticipantView{Email: who, HasSubmitted: durable.Submitted(who)}
	if live, ok := overlay[who]; ok && live.QuestionID == questionID {
		v.CurrentSelection = live.Selection
	}
	return v
}

func BuildView(cat *catalog.Catalog, s State) View {
	v := View{
		Phase:          s.Phase(),
		TotalQuestions: s.Total,
		Connected:      s.Connected,
		Submitting:     s.Submitting,
		Failure:        s.Failure,
		Err:            s.Err,
		SubmitErr:      s.SubmitErr,
	}

	var questionID string
	if q, ok := s.CurrentQuestion(cat); ok {
		v.Question = &q
		v.QuestionNumber = s.Snapshot.CurrentQuestionIndex + 1
		questionID = q.ID
	}

	v.Self = ParticipantView{
		Email:            s.Self,
		HasSubmitted:     s.SelfSubmitted(),
		CurrentSelection: s.LocalSelection,
	}
	v.Partner = MergeStatus(s.Snapshot.ParticipantStatus, s.Overlay, s.Partner, questionID)

	if s.Partner != "" {
		v.Self.Role = catalog.RoleFor(s.Self, s.Partner)
		v.Partner.Role = catalog.RoleFor(s.Partner, s.Self)
		if v.Question != nil {
			v.Perspective = v.Question.Perspective(v.Self.Role)
		}
	}
	return v
}
