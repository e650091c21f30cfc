package models

import "time"

// SurveyResponse is an append-only answer log row. The unique index makes a
// participant's answer to a question insertable exactly once.
type SurveyResponse struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SurveyID       string    `gorm:"type:uuid;not null;uniqueIndex:idx_response_unique;index:survey_responses_survey_idx" json:"survey_id"`
	UserEmail      string    `gorm:"size:255;not null;uniqueIndex:idx_response_unique" json:"user_email"`
	QuestionID     string    `gorm:"size:32;not null;uniqueIndex:idx_response_unique" json:"question_id"`
	SelectedOption string    `gorm:"size:32;not null" json:"selected_option"`
	RespondedAt    time.Time `gorm:"not null;index" json:"responded_at"`
}
