package handlers

import (
	"errors"
	"net/http"

	"github.com/Perfect-Match-Org/PMTI/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type ErrorResponse struct {
	Error string `json:"error" example:"something went wrong"`
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrSurveyNotFound), errors.Is(err, services.ErrQuestionNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict), errors.Is(err, services.ErrAlreadySubmitted):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidOption), errors.Is(err, services.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		msg = "internal server error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg})
}
