package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Perfect-Match-Org/PMTI/internal/logger"
	"github.com/Perfect-Match-Org/PMTI/internal/middleware"
	"github.com/Perfect-Match-Org/PMTI/internal/protocol"
	"github.com/Perfect-Match-Org/PMTI/internal/realtime"
	"github.com/Perfect-Match-Org/PMTI/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxFrameSize = 4096
)

type RealtimeHandler struct {
	surveyService *services.SurveyService
	hub           *realtime.Hub
	bus           realtime.Bus
	upgrader      websocket.Upgrader
	log           zerolog.Logger
}

func NewRealtimeHandler(surveyService *services.SurveyService, hub *realtime.Hub, bus realtime.Bus) *RealtimeHandler {
	return &RealtimeHandler{
		surveyService: surveyService,
		hub:           hub,
		bus:           bus,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: logger.Component("realtime"),
	}
}

// Subscribe godoc
// @Summary      Realtime channel for a survey
// @Description  Receives row updates and relays live selections between the two participants
// @Tags         realtime
// @Security     BearerAuth
// @Param        id path string true "Survey ID"
// @Param        access_token query string false "Bearer token for clients that cannot set headers"
// @Router       /realtime/survey/{id} [get]
func (h *RealtimeHandler) Subscribe(c *gin.Context) {
	surveyID := c.Param("id")
	email := middleware.Email(c)
	if _, err := h.surveyService.Access(c.Request.Context(), surveyID, email); err != nil {
		abortWithError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("survey_id", surveyID).Msg("websocket upgrade")
		return
	}

	topic := protocol.Topic(surveyID)
	sub := realtime.NewConnSubscriber(conn, email)
	defer h.hub.Unsubscribe(topic, sub)

	ack, _ := json.Marshal(protocol.Message{Type: protocol.TypeSystem, Event: protocol.EventSubscribed})
	if err := sub.Join(h.hub, topic, ack); err != nil {
		h.log.Warn().Err(err).Str("survey_id", surveyID).Msg("send subscription ack")
		return
	}
	h.log.Info().Str("survey_id", surveyID).Str("email", email).Msg("participant subscribed")

	done := make(chan struct{})
	defer close(done)
	go h.keepAlive(sub, done)

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("survey_id", surveyID).Msg("read")
			}
			return
		}
		h.handleFrame(c.Request.Context(), topic, sub, data)
	}
}

func (h *RealtimeHandler) handleFrame(ctx context.Context, topic string, sub *realtime.ConnSubscriber, data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.reject(sub, "malformed message")
		return
	}
	if !msg.IsSelectionUpdate() {
		h.reject(sub, "unsupported message type")
		return
	}

	var p protocol.SelectionPayload
	if err := msg.Decode(&p); err != nil || p.QuestionID == "" || p.Selection == "" {
		h.reject(sub, "selection_update requires questionId and selection")
		return
	}
	p.ParticipantID = sub.Email()
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}

	out, err := protocol.SelectionUpdate(p)
	if err != nil {
		h.reject(sub, "invalid selection payload")
		return
	}
	if err := h.bus.Publish(ctx, topic, out, sub.ID()); err != nil {
		h.log.Error().Err(err).Str("topic", topic).Msg("relay selection")
	}
}

func (h *RealtimeHandler) reject(sub *realtime.ConnSubscriber, reason string) {
	msg, err := protocol.NewMessage(protocol.TypeSystem, protocol.EventError, protocol.ErrorPayload{Error: reason})
	if err != nil {
		return
	}
	data, _ := json.Marshal(msg)
	_ = sub.Send(data)
}

func (h *RealtimeHandler) keepAlive(sub *realtime.ConnSubscriber, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := sub.Ping(); err != nil {
				return
			}
		}
	}
}
