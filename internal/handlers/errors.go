package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/face-attendance/internal/imageprocessor"
	"github.com/example/face-attendance/internal/logging"
	"github.com/example/face-attendance/internal/usecase"
)

// Stable reason codes returned alongside every error.
const (
	reasonValidation           = "validation_error"
	reasonDuplicate            = "duplicate_registration"
	reasonInProgress           = "registration_in_progress"
	reasonNoFace               = "no_face_detected"
	reasonStudentNotFound      = "student_not_found"
	reasonNotRegistered        = "not_registered"
	reasonNoMatch              = "no_match"
	reasonPersistence          = "persistence_error"
	reasonGroupNotFound        = "group_not_found"
	reasonNotConfirmable       = "candidate_not_confirmable"
	reasonForbidden            = "forbidden"
	reasonPayloadTooLarge      = "payload_too_large"
	reasonUnsupportedMediaType = "unsupported_media_type"
	reasonExtractorUnavailable = "extractor_unavailable"
	reasonTimeout              = "timeout"
	reasonInternal             = "internal_error"
)

type errorMapping struct {
	target error
	status int
	reason string
}

// Order matters: an unsupported image is also a validation error.
var errorMappings = []errorMapping{
	{imageprocessor.ErrUnsupportedImage, http.StatusUnsupportedMediaType, reasonUnsupportedMediaType},
	{usecase.ErrValidation, http.StatusBadRequest, reasonValidation},
	{usecase.ErrDuplicateRegistration, http.StatusConflict, reasonDuplicate},
	{usecase.ErrRegistrationInProgress, http.StatusConflict, reasonInProgress},
	{usecase.ErrNoFaceDetected, http.StatusUnprocessableEntity, reasonNoFace},
	{usecase.ErrStudentNotFound, http.StatusNotFound, reasonStudentNotFound},
	{usecase.ErrNotRegistered, http.StatusNotFound, reasonNotRegistered},
	{usecase.ErrNoMatch, http.StatusUnprocessableEntity, reasonNoMatch},
	{usecase.ErrGroupNotFound, http.StatusNotFound, reasonGroupNotFound},
	{usecase.ErrCandidateNotConfirmable, http.StatusConflict, reasonNotConfirmable},
	{usecase.ErrForbidden, http.StatusForbidden, reasonForbidden},
	{usecase.ErrExtractorUnavailable, http.StatusBadGateway, reasonExtractorUnavailable},
	{usecase.ErrPersistence, http.StatusInternalServerError, reasonPersistence},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, reasonTimeout},
}

func classify(err error) (int, string) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge, reasonPayloadTooLarge
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.reason
		}
	}
	return http.StatusInternalServerError, reasonInternal
}

// respondError writes err with its status and reason code. Server-side
// failures do not leak their cause to the client.
func respondError(c *gin.Context, err error) {
	status, reason := classify(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		message = http.StatusText(status)
	}
	abortWithError(c, status, reason, message)
}

func abortWithError(c *gin.Context, status int, reason, message string) {
	body := gin.H{"error": message, "reason": reason}
	if requestID := logging.RequestIDFromContext(c.Request.Context()); requestID != "" {
		body["request_id"] = requestID
	}
	c.AbortWithStatusJSON(status, body)
}
