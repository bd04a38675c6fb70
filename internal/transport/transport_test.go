package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/attendance-engine/internal/observability"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.New(core))})
	app.Use(CorrelationID())
	app.Get("/missing", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "event not found")
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("pq: connection refused")
	})

	tests := []struct {
		path      string
		wantCode  int
		wantError string
		wantLevel zapcore.Level
	}{
		{path: "/missing", wantCode: fiber.StatusNotFound, wantError: "event not found", wantLevel: zapcore.WarnLevel},
		{path: "/boom", wantCode: fiber.StatusInternalServerError, wantError: "internal server error", wantLevel: zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		req.Header.Set(fiber.HeaderXRequestID, "req-"+tt.path)

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test() error = %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if resp.StatusCode != tt.wantCode {
			t.Fatalf("%s status = %d, want %d", tt.path, resp.StatusCode, tt.wantCode)
		}
		var parsed map[string]string
		if err := json.Unmarshal(body, &parsed); err != nil {
			t.Fatalf("json unmarshal error = %v", err)
		}
		if parsed["error"] != tt.wantError {
			t.Fatalf("%s error = %q, want %q", tt.path, parsed["error"], tt.wantError)
		}

		entries := logs.FilterField(zap.String("correlationId", "req-"+tt.path)).All()
		if len(entries) != 1 || entries[0].Level != tt.wantLevel {
			t.Fatalf("%s log entries = %+v, want one at %s", tt.path, entries, tt.wantLevel)
		}
	}
}

func TestCorrelationIDGeneratesAndEchoes(t *testing.T) {
	t.Parallel()

	var seen string
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		seen, _ = observability.CorrelationIDFromContext(c.UserContext())
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	header := resp.Header.Get(fiber.HeaderXRequestID)
	if header == "" || header != seen {
		t.Fatalf("header = %q, context = %q, want the same generated id", header, seen)
	}
}
