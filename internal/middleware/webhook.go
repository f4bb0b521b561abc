package middleware

import (
	"crypto/subtle"
	"net/http"

	"loyalty-service/internal/config"

	"github.com/gin-gonic/gin"
)

const webhookTokenHeader = "asaas-access-token"

// WebhookAuth gates gateway notifications on the shared webhook token. The
// configured bypass flag is honored only outside release mode, for local
// and test invocation.
func WebhookAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := config.GlobalConfig

		if cfg.Asaas.AllowBypass && cfg.Server.Mode != "release" {
			c.Next()
			return
		}

		token := c.GetHeader(webhookTokenHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Asaas.WebhookToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
			return
		}

		c.Next()
	}
}
