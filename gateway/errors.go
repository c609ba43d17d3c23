package gateway

import (
	"net/http"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/apperr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// renderError writes err as {"error", "code"[, "details"]} with the status
// of its category.
func (g *Gateway) renderError(c *gin.Context, err error) {
	e := apperr.From(err)
	status := e.HTTPStatus()

	fields := []zap.Field{
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("code", e.Reason),
		zap.Int("status", status),
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}
	if status >= http.StatusInternalServerError {
		g.logger.Error("Request failed", fields...)
	} else {
		g.logger.Debug("Request rejected", fields...)
	}

	body := gin.H{"error": e.Message, "code": e.Reason}
	if len(e.Details) > 0 {
		body["details"] = e.Details
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(err error) error {
	return apperr.ErrInvalidInput.Withf("invalid request body: %v", err)
}
