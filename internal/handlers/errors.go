package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"market-chat/internal/apperr"
)

// statusFor maps an error code to an HTTP status. Forbidden is reported as
// 404 so non-members cannot discover conversation ids.
func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperr.CodeForbidden, apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeInvalidArgument, apperr.CodeInvalidOperation:
		return http.StatusBadRequest
	case apperr.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, logger zerolog.Logger, err error) {
	code := apperr.CodeOf(err)
	status := statusFor(code)

	msg := "internal error"
	switch {
	case code == apperr.CodeForbidden:
		code = apperr.CodeNotFound
		msg = apperr.ErrConversationNotFound.Error()
	case status < http.StatusInternalServerError:
		msg = err.Error()
	default:
		logger.Error().Err(err).
			Str("route", c.FullPath()).
			Str("request_id", requestIDFromContext(c)).
			Msg("request failed")
		if code == apperr.CodeUnknown {
			code = apperr.CodeInternal
		}
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "code": apperr.CodeInvalidArgument})
}
