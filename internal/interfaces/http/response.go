package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/procurement-workflow/internal/domain/apperr"
)

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// statusFor maps an error kind to its HTTP status
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindPrecondition:
		return http.StatusPreconditionFailed
	default:
		return http.StatusServiceUnavailable
	}
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

// respondError writes the error envelope. Store failures are logged with their cause;
// clients only see the message.
func (h *Handlers) respondError(c *gin.Context, action string, err error) {
	kind := apperr.KindOf(err)
	if statusFor(kind) >= http.StatusInternalServerError {
		h.logger.Error("Failed to "+action, "error", err, "path", c.Request.URL.Path)
	} else {
		h.logger.Warn("Rejected request to "+action, "error", err, "kind", kind)
	}

	WriteError(c, err)
}

// WriteError writes the error envelope with the status for err's kind
func WriteError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	c.JSON(statusFor(kind), Response{
		Success: false,
		Error:   apperr.Message(err),
		Code:    string(kind),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   msg,
		Code:    string(apperr.KindValidation),
	})
}
