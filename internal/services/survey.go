package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Perfect-Match-Org/PMTI/internal/catalog"
	"github.com/Perfect-Match-Org/PMTI/internal/logger"
	"github.com/Perfect-Match-Org/PMTI/internal/models"
	"github.com/Perfect-Match-Org/PMTI/internal/protocol"

	"github.com/rs/zerolog"
)

// ChangeNotifier receives every committed durable survey mutation.
type ChangeNotifier interface {
	SurveyChanged(ctx context.Context, snapshot protocol.Snapshot) error
}

// EmailPolicy decides which identities may take part in a survey.
type EmailPolicy interface {
	Allowed(email string) bool
}

type SurveyService struct {
	store    *SurveyStore
	catalog  *catalog.Catalog
	notifier ChangeNotifier
	policy   EmailPolicy
	log      zerolog.Logger
}

func NewSurveyService(store *SurveyStore, cat *catalog.Catalog, notifier ChangeNotifier, policy EmailPolicy) *SurveyService {
	return &SurveyService{
		store:    store,
		catalog:  cat,
		notifier: notifier,
		policy:   policy,
		log:      logger.Component("survey"),
	}
}

func (s *SurveyService) Catalog() *catalog.Catalog {
	return s.catalog
}

// Provision creates the survey for an accepted invitation.
func (s *SurveyService) Provision(ctx context.Context, p CreateSurveyParams) (*models.Survey, error) {
	if s.policy != nil {
		for _, email := range []string{p.ParticipantA, p.ParticipantB} {
			if !s.policy.Allowed(NormalizeEmail(email)) {
				return nil, fmt.Errorf("%w: %s is not an allowed participant", ErrInvalidRequest, email)
			}
		}
	}

	survey, err := s.store.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("survey_id", survey.ID).Str("relationship", p.Relationship).Msg("survey provisioned")
	return survey, nil
}

// Access loads a survey and checks that participant belongs to it.
func (s *SurveyService) Access(ctx context.Context, surveyID, participant string) (*models.Survey, error) {
	survey, err := s.store.Get(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if !survey.Participants.Includes(participant) {
		return nil, ErrForbidden
	}
	return survey, nil
}

func (s *SurveyService) Status(ctx context.Context, surveyID, participant string) (*protocol.StatusResponse, error) {
	survey, err := s.Access(ctx, surveyID, participant)
	if err != nil {
		return nil, err
	}
	return &protocol.StatusResponse{
		Snapshot:  survey.Snapshot(),
		PartnerID: survey.Participants.PartnerOf(participant),
	}, nil
}

// Validate reports whether participant may open the survey. Lookup failures
// other than not-found and forbidden are returned as errors.
func (s *SurveyService) Validate(ctx context.Context, surveyID, participant string) (bool, error) {
	_, err := s.Access(ctx, surveyID, participant)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrSurveyNotFound), errors.Is(err, ErrForbidden):
		return false, nil
	default:
		return false, err
	}
}

func (s *SurveyService) Responses(ctx context.Context, surveyID, participant string) ([]models.SurveyResponse, error) {
	if _, err := s.Access(ctx, surveyID, participant); err != nil {
		return nil, err
	}
	return s.store.Responses(ctx, surveyID, participant)
}

func (s *SurveyService) Count(ctx context.Context, status string) (int64, error) {
	switch status {
	case "", protocol.StatusStarted, protocol.StatusCompleted, protocol.StatusAbandoned:
	default:
		return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}
	return s.store.Count(ctx, status)
}

// QuestionAnalytics is the answer distribution for one question.
type QuestionAnalytics struct {
	QuestionID      string           `json:"questionId"`
	OptionFrequency map[string]int64 `json:"optionFrequency"`
	Total           int64            `json:"total"`
}

// Analytics reports how often each option of questionID has been chosen.
// Options nobody picked are listed with zero.
func (s *SurveyService) Analytics(ctx context.Context, questionID string) (*QuestionAnalytics, error) {
	q, ok := s.catalog.QuestionByID(questionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQuestionNotFound, questionID)
	}
	counts, err := s.store.OptionFrequency(ctx, questionID)
	if err != nil {
		return nil, err
	}

	out := &QuestionAnalytics{QuestionID: q.ID, OptionFrequency: make(map[string]int64, len(q.Options))}
	for _, o := range q.Options {
		out.OptionFrequency[o.ID] = counts[o.ID]
		out.Total += counts[o.ID]
	}
	return out, nil
}

func (s *SurveyService) notify(ctx context.Context, snapshot protocol.Snapshot) {
	if s.notifier == nil {
		return
	}
	// The row is committed; the notification must go out even if the caller
	// has already gone away.
	if err := s.notifier.SurveyChanged(context.WithoutCancel(ctx), snapshot); err != nil {
		s.log.Error().Err(err).Str("survey_id", snapshot.SurveyID).Int64("revision", snapshot.Revision).
			Msg("publish survey change")
	}
}
