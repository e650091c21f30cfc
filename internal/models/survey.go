package models

import (
	"time"

	"github.com/Perfect-Match-Org/PMTI/internal/protocol"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Survey struct {
	ID                   string                                 `gorm:"type:uuid;primaryKey" json:"id"`
	Status               string                                 `gorm:"size:20;not null;default:'started';index:surveys_status_idx" json:"status"`
	SurveyVersion        string                                 `gorm:"size:20;not null;default:'1.0'" json:"survey_version"`
	CurrentQuestionIndex int                                    `gorm:"not null;default:0" json:"current_question_index"`
	Revision             int64                                  `gorm:"not null;default:1" json:"revision"`
	ParticipantStatus    datatypes.JSONType[protocol.StatusMap] `json:"participant_status"`
	StartedAt            time.Time                              `gorm:"not null" json:"started_at"`
	CompletedAt          *time.Time                             `gorm:"index:surveys_completed_at_idx" json:"completed_at,omitempty"`
	Duration             *int                                   `json:"duration,omitempty"`
	LastActivityAt       time.Time                              `gorm:"not null" json:"last_activity_at"`
	Participants         SurveyParticipants                     `gorm:"foreignKey:SurveyID" json:"participants"`
}

func (s *Survey) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Statuses returns the decoded participant status map, never nil.
func (s *Survey) Statuses() protocol.StatusMap {
	m := s.ParticipantStatus.Data()
	if m == nil {
		return protocol.StatusMap{}
	}
	return m.Clone()
}

func (s *Survey) SetStatuses(m protocol.StatusMap) {
	if m == nil {
		m = protocol.StatusMap{}
	}
	s.ParticipantStatus = datatypes.NewJSONType(m)
}

// Terminal reports whether no further submissions can change the survey.
func (s *Survey) Terminal(totalQuestions int) bool {
	return s.Status == protocol.StatusCompleted ||
		s.Status == protocol.StatusAbandoned ||
		s.CurrentQuestionIndex >= totalQuestions
}

func (s *Survey) Snapshot() protocol.Snapshot {
	return protocol.Snapshot{
		SurveyID:             s.ID,
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		ParticipantStatus:    s.Statuses(),
		Status:               s.Status,
		Revision:             s.Revision,
	}
}
