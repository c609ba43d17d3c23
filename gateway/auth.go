package gateway

import (
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/apperr"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// callerHandler is a handler that runs on behalf of an authenticated user.
type callerHandler func(c *gin.Context, caller auth.Caller)

// authenticated verifies the bearer token and hands the resulting Caller to
// next. Requests without a valid token never reach next.
func (g *Gateway) authenticated(next callerHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			g.renderError(c, apperr.ErrNotAuthenticated)
			return
		}

		caller, err := g.tokens.Verify(token)
		if err != nil {
			g.logger.Debug("Rejected bearer token",
				zap.String("request_id", c.GetString(requestIDKey)),
				zap.Error(err))
			g.renderError(c, apperr.ErrNotAuthenticated.Withf("invalid or expired token"))
			return
		}

		next(c, caller)
	}
}
