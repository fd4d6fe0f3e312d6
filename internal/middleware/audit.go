package middleware

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
)

// AuditWriter persists one audit record. Implemented by the Postgres store.
type AuditWriter interface {
	WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error
}

// AuditMiddleware records every API request as an audit row: who touched
// which resource, from where, with what outcome. Health checks and metrics
// scrapes are not recorded. The write happens off the request path.
func AuditMiddleware(writer AuditWriter) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		// Fiber recycles the context after the response, so everything
		// the goroutine needs is captured up front.
		method := c.Method()
		path := c.Path()
		ip := c.IP()
		userAgent := c.Get("User-Agent")

		err := c.Next()

		if !auditable(path) {
			return err
		}

		userID := "anonymous"
		if uc := GetUserContext(c); uc != nil {
			userID = uc.UserID
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method":      method,
			"path":        path,
			"status":      c.Response().StatusCode(),
			"duration_ms": time.Since(start).Milliseconds(),
		})

		go func() {
			if writeErr := writer.WriteAudit(
				userID, "http_request", auditResource(path), path,
				string(details), ip, userAgent,
			); writeErr != nil {
				slog.Error("failed to write audit log", "path", path, "error", writeErr)
			}
		}()

		return err
	}
}

func auditable(path string) bool {
	switch path {
	case "/metrics", "/api/v1/health":
		return false
	}
	return true
}

// auditResource reduces a request path to the resource family it touches,
// e.g. /api/v1/projects/42/ask audits as "projects".
func auditResource(path string) string {
	trimmed := strings.TrimPrefix(path, "/api/v1/")
	trimmed = strings.TrimPrefix(trimmed, "/")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[:i]
	}
	if trimmed == "" {
		return "api"
	}
	return trimmed
}
