package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Perfect-Match-Org/PMTI/internal/protocol"
)

// Submit records a participant's final answer for the current question. The
// returned snapshot lets the caller render "waiting for partner" immediately;
// the partner learns about the change through the notifier.
//
// A submission for a question the survey has already moved past is a race
// the client recovers from on its own, so it returns the current snapshot
// instead of an error.
func (s *SurveyService) Submit(ctx context.Context, surveyID, participant, questionID, optionID string) (protocol.Snapshot, error) {
	if questionID == "" || optionID == "" {
		return protocol.Snapshot{}, fmt.Errorf("%w: questionId and selectedOption are required", ErrInvalidRequest)
	}

	survey, err := s.Access(ctx, surveyID, participant)
	if err != nil {
		return protocol.Snapshot{}, err
	}

	question, ok := s.catalog.QuestionByID(questionID)
	if !ok {
		return protocol.Snapshot{}, fmt.Errorf("%w: %s", ErrQuestionNotFound, questionID)
	}
	if !question.HasOption(optionID) {
		return protocol.Snapshot{}, fmt.Errorf("%w: %s has no option %s", ErrInvalidOption, questionID, optionID)
	}

	result, err := s.store.RecordSubmission(ctx, surveyID, participant, questionID, optionID)
	if errors.Is(err, ErrQuestionMismatch) {
		s.log.Info().Err(err).Str("survey_id", surveyID).Str("participant", participant).
			Msg("ignoring stale submission")
		current, getErr := s.store.Get(ctx, surveyID)
		if getErr != nil {
			return survey.Snapshot(), nil
		}
		return current.Snapshot(), nil
	}
	if err != nil {
		return protocol.Snapshot{}, err
	}

	snapshot := result.Survey.Snapshot()
	if result.Recorded {
		ev := s.log.Info().Str("survey_id", surveyID).Str("participant", participant).
			Str("question_id", questionID).Int64("revision", snapshot.Revision)
		if result.Advanced {
			ev = ev.Int("current_question_index", snapshot.CurrentQuestionIndex).Str("status", snapshot.Status)
		}
		ev.Bool("advanced", result.Advanced).Msg("submission recorded")
		s.notify(ctx, snapshot)
	}
	return snapshot, nil
}

// Abandon ends a started survey on behalf of one of its participants.
func (s *SurveyService) Abandon(ctx context.Context, surveyID, participant string) (protocol.Snapshot, error) {
	survey, err := s.store.Abandon(ctx, surveyID, participant)
	if err != nil {
		return protocol.Snapshot{}, err
	}
	snapshot := survey.Snapshot()
	s.log.Info().Str("survey_id", surveyID).Str("participant", participant).Msg("survey abandoned")
	s.notify(ctx, snapshot)
	return snapshot, nil
}
