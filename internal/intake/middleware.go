package intake

import (
	"github.com/gin-gonic/gin"

	"fieldserve_backend/platform/apperr"
	"fieldserve_backend/platform/httpkit"
	"fieldserve_backend/platform/logger"
)

const (
	apiKeyHeader = "X-API-Key"
	// sourceContextKey carries the authenticated channel label through the
	// request so submissions can be attributed.
	sourceContextKey = "intake.source"
)

// RequireAPIKey authenticates intake requests against the stored key hashes.
// The matched key's label is attached to the request context as the
// submission source.
func RequireAPIKey(repo *Repository, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(apiKeyHeader)
		if raw == "" {
			httpkit.HandleError(c, apperr.Unauthorized("missing API key"))
			c.Abort()
			return
		}

		key, err := repo.FindActiveByHash(c.Request.Context(), HashKey(raw))
		if err != nil {
			httpkit.HandleError(c, err)
			c.Abort()
			return
		}

		if err := repo.TouchLastUsed(c.Request.Context(), key.ID); err != nil {
			log.Warn("api key touch failed", "keyId", key.ID, "error", err)
		}

		c.Set(sourceContextKey, key.Label)
		c.Next()
	}
}

// SourceFrom returns the authenticated channel label, or "unknown" when the
// middleware did not run.
func SourceFrom(c *gin.Context) string {
	if v, ok := c.Get(sourceContextKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "unknown"
}
