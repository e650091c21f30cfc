package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Perfect-Match-Org/PMTI/internal/catalog"
	"github.com/Perfect-Match-Org/PMTI/internal/models"
	"github.com/Perfect-Match-Org/PMTI/internal/protocol"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SurveyStore is the single source of truth for a survey's durable fields.
// Every mutation runs in one transaction holding the survey row lock.
type SurveyStore struct {
	db      *gorm.DB
	catalog *catalog.Catalog
	now     func() time.Time
}

func NewSurveyStore(db *gorm.DB, cat *catalog.Catalog) *SurveyStore {
	return &SurveyStore{db: db, catalog: cat, now: time.Now}
}

type CreateSurveyParams struct {
	ParticipantA string
	ParticipantB string
	Relationship string
}

// SubmissionResult describes the survey after RecordSubmission. Recorded is
// false when the call was an identical retry and nothing was written.
type SubmissionResult struct {
	Survey   models.Survey
	Recorded bool
	Advanced bool
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *SurveyStore) Create(ctx context.Context, p CreateSurveyParams) (*models.Survey, error) {
	a, b := NormalizeEmail(p.ParticipantA), NormalizeEmail(p.ParticipantB)
	if a == "" || b == "" || a == b {
		return nil, fmt.Errorf("%w: two distinct participants are required", ErrInvalidRequest)
	}
	if !models.ValidRelationship(p.Relationship) {
		return nil, fmt.Errorf("%w: unknown relationship %q", ErrInvalidRequest, p.Relationship)
	}
	if a > b {
		a, b = b, a
	}

	now := s.now()
	survey := models.Survey{
		Status:               protocol.StatusStarted,
		SurveyVersion:        "1.0",
		CurrentQuestionIndex: 0,
		Revision:             1,
		StartedAt:            now,
		LastActivityAt:       now,
	}
	survey.SetStatuses(nil)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&survey).Error; err != nil {
			return err
		}
		survey.Participants = models.SurveyParticipants{
			SurveyID:       survey.ID,
			User1Email:     a,
			User2Email:     b,
			Relationship:   p.Relationship,
			ParticipatedAt: now,
		}
		return tx.Create(&survey.Participants).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create survey: %w", err)
	}
	return &survey, nil
}

func (s *SurveyStore) Get(ctx context.Context, surveyID string) (*models.Survey, error) {
	var survey models.Survey
	err := s.db.WithContext(ctx).Preload("Participants").Where("id = ?", surveyID).First(&survey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSurveyNotFound
		}
		return nil, fmt.Errorf("get survey: %w", err)
	}
	if survey.Participants.SurveyID == "" {
		return nil, fmt.Errorf("%w: survey %s has no participants", ErrSurveyNotFound, surveyID)
	}
	return &survey, nil
}

// RecordSubmission appends the participant's answer and advances the survey
// once every participant has submitted for the current question.
func (s *SurveyStore) RecordSubmission(ctx context.Context, surveyID, participant, questionID, optionID string) (*SubmissionResult, error) {
	total := s.catalog.TotalQuestions()
	var result SubmissionResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		survey, pair, err := lockSurvey(tx, surveyID)
		if err != nil {
			return err
		}
		if !pair.Includes(participant) {
			return ErrForbidden
		}
		result.Survey = *survey

		var existing models.SurveyResponse
		err = tx.Where("survey_id = ? AND user_email = ? AND question_id = ?", surveyID, participant, questionID).
			Limit(1).Find(&existing).Error
		if err != nil {
			return err
		}
		if existing.ID != 0 {
			if existing.SelectedOption != optionID {
				return ErrAlreadySubmitted
			}
			return nil
		}

		if survey.Terminal(total) {
			return ErrConflict
		}
		current, _ := s.catalog.At(survey.CurrentQuestionIndex)
		if current.ID != questionID {
			return fmt.Errorf("%w: submitted %s, current is %s", ErrQuestionMismatch, questionID, current.ID)
		}
		if !current.HasOption(optionID) {
			return ErrInvalidOption
		}

		now := s.now()
		response := models.SurveyResponse{
			SurveyID:       surveyID,
			UserEmail:      participant,
			QuestionID:     questionID,
			SelectedOption: optionID,
			RespondedAt:    now,
		}
		insert := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&response)
		if insert.Error != nil {
			return insert.Error
		}
		if insert.RowsAffected == 0 {
			return nil
		}

		statuses := survey.Statuses()
		statuses[participant] = protocol.SubmissionState{HasSubmitted: true}

		allSubmitted := true
		for _, email := range pair.Emails() {
			if !statuses.Submitted(email) {
				allSubmitted = false
				break
			}
		}

		if allSubmitted {
			survey.CurrentQuestionIndex++
			statuses = protocol.StatusMap{}
			if survey.CurrentQuestionIndex >= total {
				complete(survey, now)
			}
			result.Advanced = true
		}

		survey.SetStatuses(statuses)
		survey.Revision++
		survey.LastActivityAt = now
		if err := tx.Omit(clause.Associations).Save(survey).Error; err != nil {
			return err
		}

		result.Survey = *survey
		result.Recorded = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Abandon marks a started survey as abandoned.
func (s *SurveyStore) Abandon(ctx context.Context, surveyID, participant string) (*models.Survey, error) {
	var out models.Survey
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		survey, pair, err := lockSurvey(tx, surveyID)
		if err != nil {
			return err
		}
		if !pair.Includes(participant) {
			return ErrForbidden
		}
		if survey.Status != protocol.StatusStarted {
			return ErrConflict
		}

		survey.Status = protocol.StatusAbandoned
		survey.SetStatuses(nil)
		survey.Revision++
		survey.LastActivityAt = s.now()
		if err := tx.Omit(clause.Associations).Save(survey).Error; err != nil {
			return err
		}
		out = *survey
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Responses returns one participant's answers in the order they were given.
func (s *SurveyStore) Responses(ctx context.Context, surveyID, participant string) ([]models.SurveyResponse, error) {
	var responses []models.SurveyResponse
	if err := s.db.WithContext(ctx).
		Where("survey_id = ? AND user_email = ?", surveyID, participant).
		Order("responded_at ASC, id ASC").
		Find(&responses).Error; err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	return responses, nil
}

// Count returns the number of surveys, optionally filtered by status.
func (s *SurveyStore) Count(ctx context.Context, status string) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Survey{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count surveys: %w", err)
	}
	return count, nil
}

// OptionFrequency counts how often each option was chosen for questionID
// across every survey.
func (s *SurveyStore) OptionFrequency(ctx context.Context, questionID string) (map[string]int64, error) {
	var rows []struct {
		SelectedOption string
		Frequency      int64
	}
	if err := s.db.WithContext(ctx).
		Model(&models.SurveyResponse{}).
		Select("selected_option, COUNT(*) AS frequency").
		Where("question_id = ?", questionID).
		Group("selected_option").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("option frequency: %w", err)
	}

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.SelectedOption] = r.Frequency
	}
	return out, nil
}

func lockSurvey(tx *gorm.DB, surveyID string) (*models.Survey, *models.SurveyParticipants, error) {
	var survey models.Survey
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", surveyID).First(&survey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrSurveyNotFound
		}
		return nil, nil, err
	}

	var pair models.SurveyParticipants
	if err := tx.Where("survey_id = ?", surveyID).First(&pair).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("%w: survey %s has no participants", ErrSurveyNotFound, surveyID)
		}
		return nil, nil, err
	}
	survey.Participants = pair
	return &survey, &pair, nil
}

func complete(survey *models.Survey, now time.Time) {
	survey.Status = protocol.StatusCompleted
	survey.CompletedAt = &now
	duration := int(now.Sub(survey.StartedAt).Seconds())
	survey.Duration = &duration
}
