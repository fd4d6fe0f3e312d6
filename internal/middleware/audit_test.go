package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type auditRecord struct {
	userID, action, resource, resourceID, details, ip, userAgent string
}

type captureWriter struct {
	records chan auditRecord
}

func (w *captureWriter) WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error {
	w.records <- auditRecord{userID, action, resource, resourceID, details, ip, userAgent}
	return nil
}

func newAuditApp(w *captureWriter) *fiber.App {
	app := fiber.New()
	app.Use(AuditMiddleware(w))
	app.Get("/api/v1/health", func(c fiber.Ctx) error { return c.JSON(fiber.Map{"status": "healthy"}) })
	app.Get("/api/v1/projects/:id", func(c fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })
	return app
}

func TestAuditMiddlewareRecordsRequest(t *testing.T) {
	w := &captureWriter{records: make(chan auditRecord, 1)}
	app := newAuditApp(w)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/projects/42", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	select {
	case rec := <-w.records:
		assert.Equal(t, "anonymous", rec.userID)
		assert.Equal(t, "http_request", rec.action)
		assert.Equal(t, "projects", rec.resource)
		assert.Equal(t, "/api/v1/projects/42", rec.resourceID)
		assert.Contains(t, rec.details, `"status":200`)
	case <-time.After(2 * time.Second):
		t.Fatal("audit record was not written")
	}
}

func TestAuditMiddlewareSkipsHealthChecks(t *testing.T) {
	w := &captureWriter{records: make(chan auditRecord, 1)}
	app := newAuditApp(w)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/health", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	select {
	case rec := <-w.records:
		t.Fatalf("health check was audited: %+v", rec)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAuditResource(t *testing.T) {
	assert.Equal(t, "projects", auditResource("/api/v1/projects/42/ask"))
	assert.Equal(t, "jobs", auditResource("/api/v1/jobs/7/stream"))
	assert.Equal(t, "me", auditResource("/api/v1/me"))
	assert.Equal(t, "api", auditResource("/api/v1/"))
	assert.Equal(t, "unknown", auditResource("/unknown"))
}
