package handlers

import (
	"net/http"
	"time"

	"github.com/Perfect-Match-Org/PMTI/internal/middleware"
	"github.com/Perfect-Match-Org/PMTI/internal/protocol"
	"github.com/Perfect-Match-Org/PMTI/internal/services"

	"github.com/gin-gonic/gin"
)

type SurveyHandler struct {
	surveyService *services.SurveyService
}

func NewSurveyHandler(surveyService *services.SurveyService) *SurveyHandler {
	return &SurveyHandler{surveyService: surveyService}
}

type ValidateResponse struct {
	HasAccess bool `json:"hasAccess" example:"true"`
}

type CountResponse struct {
	Count int64 `json:"count" example:"42"`
}

type ProvisionRequest struct {
	ParticipantA string `json:"participantA" binding:"required" example:"alice@cornell.edu"`
	ParticipantB string `json:"participantB" binding:"required" example:"bob@cornell.edu"`
	Relationship string `json:"relationship" binding:"required" example:"couple"`
}

type ProvisionResponse struct {
	SurveyID     string `json:"surveyId"`
	User1Email   string `json:"user1Email"`
	User2Email   string `json:"user2Email"`
	Relationship string `json:"relationship"`
	Status       string `json:"status"`
}

type ResponseEntry struct {
	QuestionID     string    `json:"questionId"`
	SelectedOption string    `json:"selectedOption"`
	RespondedAt    time.Time `json:"respondedAt"`
}

// GetStatus godoc
// @Summary      Get survey status
// @Description  Durable state of a survey as seen by one participant
// @Tags         surveys
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Survey ID"
// @Success      200 {object} protocol.StatusResponse
// @Failure      403 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /api/survey/{id}/status [get]
func (h *SurveyHandler) GetStatus(c *gin.Context) {
	status, err := h.surveyService.Status(c.Request.Context(), c.Param("id"), middleware.Email(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Submit godoc
// @Summary      Submit an answer
// @Description  Record the caller's final answer for the current question
// @Tags         surveys
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Survey ID"
// @Param        request body protocol.SubmitRequest true "Answer"
// @Success      200 {object} protocol.SubmitResponse
// @Failure      400 {object} ErrorResponse
// @Failure      403 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Router       /api/survey/{id}/submit [post]
func (h *SurveyHandler) Submit(c *gin.Context) {
	var req protocol.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "questionId and selectedOption are required"})
		return
	}

	snap, err := h.surveyService.Submit(c.Request.Context(), c.Param("id"), middleware.Email(c), req.QuestionID, req.SelectedOption)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, protocol.SubmitResponse{
		Success:              true,
		ParticipantStatus:    snap.ParticipantStatus,
		CurrentQuestionIndex: snap.CurrentQuestionIndex,
		Status:               snap.Status,
		Revision:             snap.Revision,
	})
}

// Validate godoc
// @Summary      Check survey access
// @Tags         surveys
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Survey ID"
// @Success      200 {object} ValidateResponse
// @Router       /api/survey/{id}/validate [get]
func (h *SurveyHandler) Validate(c *gin.Context) {
	ok, err := h.surveyService.Validate(c.Request.Context(), c.Param("id"), middleware.Email(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ValidateResponse{HasAccess: ok})
}

// Abandon godoc
// @Summary      Abandon a survey
// @Tags         surveys
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Survey ID"
// @Success      200 {object} protocol.Snapshot
// @Failure      409 {object} ErrorResponse
// @Router       /api/survey/{id}/abandon [post]
func (h *SurveyHandler) Abandon(c *gin.Context) {
	snap, err := h.surveyService.Abandon(c.Request.Context(), c.Param("id"), middleware.Email(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ListResponses godoc
// @Summary      List the caller's answers
// @Tags         surveys
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Survey ID"
// @Success      200 {array} ResponseEntry
// @Router       /api/survey/{id}/responses [get]
func (h *SurveyHandler) ListResponses(c *gin.Context) {
	responses, err := h.surveyService.Responses(c.Request.Context(), c.Param("id"), middleware.Email(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	out := make([]ResponseEntry, 0, len(responses))
	for _, r := range responses {
		out = append(out, ResponseEntry{QuestionID: r.QuestionID, SelectedOption: r.SelectedOption, RespondedAt: r.RespondedAt})
	}
	c.JSON(http.StatusOK, out)
}

// Count godoc
// @Summary      Count surveys
// @Tags         surveys
// @Produce      json
// @Param        status query string false "started, completed or abandoned"
// @Success      200 {object} CountResponse
// @Router       /api/surveys/count [get]
func (h *SurveyHandler) Count(c *gin.Context) {
	count, err := h.surveyService.Count(c.Request.Context(), c.Query("status"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: count})
}

// QuestionAnalytics godoc
// @Summary      Answer distribution for a question
// @Tags         internal
// @Produce      json
// @Param        X-Internal-API-Key header string true "Internal API key"
// @Param        questionId path string true "Question ID"
// @Success      200 {object} services.QuestionAnalytics
// @Failure      404 {object} ErrorResponse
// @Router       /api/internal/questions/{questionId}/analytics [get]
func (h *SurveyHandler) QuestionAnalytics(c *gin.Context) {
	out, err := h.surveyService.Analytics(c.Request.Context(), c.Param("questionId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Provision godoc
// @Summary      Create a survey for an accepted invitation
// @Tags         internal
// @Accept       json
// @Produce      json
// @Param        X-Internal-API-Key header string true "Internal API key"
// @Param        request body ProvisionRequest true "Participants"
// @Success      201 {object} ProvisionResponse
// @Failure      400 {object} ErrorResponse
// @Router       /api/internal/surveys [post]
func (h *SurveyHandler) Provision(c *gin.Context) {
	var req ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	survey, err := h.surveyService.Provision(c.Request.Context(), services.CreateSurveyParams{
		ParticipantA: req.ParticipantA,
		ParticipantB: req.ParticipantB,
		Relationship: req.Relationship,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, ProvisionResponse{
		SurveyID:     survey.ID,
		User1Email:   survey.Participants.User1Email,
		User2Email:   survey.Participants.User2Email,
		Relationship: survey.Participants.Relationship,
		Status:       survey.Status,
	})
}
