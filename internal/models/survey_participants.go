package models

import "time"

const (
	RelationshipCouple        = "couple"
	RelationshipSituationship = "situationship"
	RelationshipBesties       = "besties"
	RelationshipJustFriends   = "just_friends"
)

func ValidRelationship(r string) bool {
	switch r {
	case RelationshipCouple, RelationshipSituationship, RelationshipBesties, RelationshipJustFriends:
		return true
	}
	return false
}

// SurveyParticipants pairs the two identities of a survey. User1Email is always
// the lexicographically smaller address.
type SurveyParticipants struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SurveyID       string    `gorm:"type:uuid;not null;uniqueIndex" json:"survey_id"`
	User1Email     string    `gorm:"size:255;not null;index:survey_participants_users_idx,priority:1;check:email_order_check,user1_email < user2_email" json:"user1_email"`
	User2Email     string    `gorm:"size:255;not null;index:survey_participants_users_idx,priority:2;index" json:"user2_email"`
	Relationship   string    `gorm:"size:20;not null" json:"relationship"`
	ParticipatedAt time.Time `json:"participated_at"`
}

func (p SurveyParticipants) Includes(email string) bool {
	return email != "" && (p.User1Email == email || p.User2Email == email)
}

// PartnerOf returns the other participant, or "" if email is not a participant.
func (p SurveyParticipants) PartnerOf(email string) string {
	switch email {
	case p.User1Email:
		return p.User2Email
	case p.User2Email:
		return p.User1Email
	}
	return ""
}

func (p SurveyParticipants) Emails() []string {
	return []string{p.User1Email, p.User2Email}
}
