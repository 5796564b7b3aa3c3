package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"MailScheduler/internal/errors"
	"MailScheduler/internal/models"
)

// Response is the envelope of every API response.
type Response struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	JobID   string          `json:"jobId,omitempty"`
	Data    any             `json:"data,omitempty"`
	Results []models.Result `json:"results,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func JSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func OK(w http.ResponseWriter, body Response) {
	body.Success = true
	JSON(w, http.StatusOK, body)
}

func BadRequest(w http.ResponseWriter, message string) {
	JSON(w, http.StatusBadRequest, Response{Message: message})
}

func NotFound(w http.ResponseWriter, message string) {
	JSON(w, http.StatusNotFound, Response{Message: message})
}

// InternalError logs err and responds 500 with message and the error text.
func InternalError(w http.ResponseWriter, logger *zap.Logger, message string, err error) {
	logger.Error(message, zap.Error(err))

	body := Response{Message: message}
	if err != nil {
		body.Message = message + ": " + err.Error()
		body.Error = err.Error()
	}
	JSON(w, http.StatusInternalServerError, body)
}

// HandleStoreError maps a store error to a response. It reports whether a
// response was written.
func HandleStoreError(w http.ResponseWriter, logger *zap.Logger, err error, notFoundMsg, failMsg string) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, errors.ErrNotFound):
		NotFound(w, notFoundMsg)
	case errors.Is(err, errors.ErrValidation):
		BadRequest(w, err.Error())
	default:
		InternalError(w, logger, failMsg, err)
	}
	return true
}
