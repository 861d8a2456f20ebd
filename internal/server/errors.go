package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/merchantshield/internal/auth"
	"github.com/mbd888/merchantshield/internal/logging"
	"github.com/mbd888/merchantshield/internal/transport"
)

// respondError maps client errors onto API responses. Local validation is
// the caller's fault; a backend 4xx is passed through with its message;
// anything else the backend did wrong is a bad gateway; an unreachable
// backend is unavailable.
func respondError(c *gin.Context, err error) {
	var (
		validation *auth.ValidationError
		shape      *auth.ResponseShapeError
		httpErr    *transport.HTTPError
		decodeErr  *transport.DecodeError
		netErr     *transport.NetworkError
	)

	switch {
	case errors.As(err, &validation):
		body := gin.H{"error": "validation_error", "message": validation.Message}
		if validation.Field != "" {
			body["field"] = validation.Field
		}
		c.JSON(http.StatusBadRequest, body)
	case errors.As(err, &httpErr) && httpErr.Status < 500:
		status := httpErr.Status
		if status < 400 {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": "backend_rejected", "message": httpErr.Message})
	case errors.As(err, &httpErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend_error", "message": httpErr.Message})
	case errors.As(err, &decodeErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "invalid_backend_response", "message": decodeErr.Error()})
	case errors.As(err, &shape):
		c.JSON(http.StatusBadGateway, gin.H{"error": "invalid_backend_response", "message": shape.Message})
	case errors.As(err, &netErr):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backend_unavailable", "message": transport.NetworkMessage})
	default:
		logging.L(c.Request.Context()).Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": message})
}
