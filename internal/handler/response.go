package handler

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"marketplace-security/internal/service"
	"marketplace-security/internal/upload"
	"marketplace-security/internal/util"
)

// Response represents a standard API response
type Response struct {
	Success           bool        `json:"success"`
	Data              interface{} `json:"data,omitempty"`
	Error             string      `json:"error,omitempty"`
	Message           string      `json:"message,omitempty"`
	Details           []string    `json:"details,omitempty"`
	RemainingAttempts *int        `json:"remainingAttempts,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(errText, message string, details ...string) Response {
	return Response{
		Success: false,
		Error:   errText,
		Message: message,
		Details: details,
	}
}

// responder is shared by the handlers for JSON output.
type responder struct {
	logger *zap.Logger
}

func (h responder) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError logs err but only sends message to the client.
func (h responder) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(http.StatusText(statusCode), message))
}

func getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUserAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, upload.ErrSubpathNotAllowed),
		errors.Is(err, upload.ErrInvalidFileType),
		errors.Is(err, upload.ErrPathEscapesRoot),
		errors.Is(err, upload.ErrEmptyName):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}
