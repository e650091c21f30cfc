package services

import "errors"

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("access denied")
	ErrSurveyNotFound   = errors.New("survey not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrConflict         = errors.New("survey is not accepting submissions")
	ErrQuestionMismatch = errors.New("question is not the current question")
	ErrInvalidOption    = errors.New("invalid option for question")
	ErrAlreadySubmitted = errors.New("a different answer was already submitted")
	ErrInvalidRequest   = errors.New("invalid request")
)
