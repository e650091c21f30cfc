// Package protocol defines the JSON shapes shared by the HTTP API, the
// realtime channel and the client controller.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusAbandoned = "abandoned"
)

// Realtime envelope types.
const (
	TypeRowUpdate = "row-update"
	TypeBroadcast = "broadcast"
	TypeSystem    = "system"

	EventSelectionUpdate = "selection_update"
	EventSubscribed      = "subscribed"
	EventError           = "error"
)

// SubmissionState is the only per-participant state that is persisted.
type SubmissionState struct {
	HasSubmitted bool `json:"hasSubmitted"`
}

// StatusMap is keyed by participant identity (email).
type StatusMap map[string]SubmissionState

func (m StatusMap) Clone() StatusMap {
	out := make(StatusMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m StatusMap) Submitted(participant string) bool {
	return m[participant].HasSubmitted
}

// Snapshot is the durable view of a session. Revision increases with every
// persisted mutation.
type Snapshot struct {
	SurveyID             string    `json:"surveyId"`
	CurrentQuestionIndex int       `json:"currentQuestionIndex"`
	ParticipantStatus    StatusMap `json:"participantStatus"`
	Status               string    `json:"status"`
	Revision             int64     `json:"revision"`
}

type StatusResponse struct {
	Snapshot
	PartnerID string `json:"partnerId"`
}

type SubmitRequest struct {
	QuestionID     string `json:"questionId" binding:"required"`
	SelectedOption string `json:"selectedOption" binding:"required"`
}

type SubmitResponse struct {
	Success              bool      `json:"success"`
	ParticipantStatus    StatusMap `json:"participantStatus"`
	CurrentQuestionIndex int       `json:"currentQuestionIndex"`
	Status               string    `json:"status"`
	Revision             int64     `json:"revision"`
}

func (r SubmitResponse) Snapshot(surveyID string) Snapshot {
	return Snapshot{
		SurveyID:             surveyID,
		CurrentQuestionIndex: r.CurrentQuestionIndex,
		ParticipantStatus:    r.ParticipantStatus,
		Status:               r.Status,
		Revision:             r.Revision,
	}
}

// SelectionPayload is the ephemeral live-selection broadcast.
type SelectionPayload struct {
	ParticipantID string    `json:"participantId"`
	Selection     string    `json:"selection"`
	QuestionID    string    `json:"questionId"`
	Timestamp     time.Time `json:"timestamp"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

type Message struct {
	Type    string          `json:"type"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func Topic(surveyID string) string {
	return "survey-" + surveyID
}

func NewMessage(typ, event string, payload any) (Message, error) {
	msg := Message{Type: typ, Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		msg.Payload = raw
	}
	return msg, nil
}

func RowUpdate(s Snapshot) (Message, error) {
	return NewMessage(TypeRowUpdate, "", s)
}

func SelectionUpdate(p SelectionPayload) (Message, error) {
	return NewMessage(TypeBroadcast, EventSelectionUpdate, p)
}

func (m Message) IsSelectionUpdate() bool {
	return m.Type == TypeBroadcast && m.Event == EventSelectionUpdate
}

func (m Message) IsSubscribed() bool {
	return m.Type == TypeSystem && m.Event == EventSubscribed
}

func (m Message) Decode(dest any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	return json.Unmarshal(m.Payload, dest)
}
