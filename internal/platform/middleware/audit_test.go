package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/nmbsim/nmbsim/internal/platform/auth"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func newAuditContext(method, path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "dr-grey")
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{auth.RoleAnesthesiologist})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestAudit_RecordsSimulation(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{}
	c, _ := newAuditContext(http.MethodPost, "/api/v1/simulations")
	c.Set("request_id", "req-1")

	err := Audit(zerolog.New(&buf), rec)(func(c echo.Context) error {
		c.Set("patient_id", "MRN-42")
		c.Set("model", "Wierda")
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rec.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(rec.entries))
	}
	got := rec.entries[0]
	if got.UserID != "dr-grey" || got.PatientID != "MRN-42" || got.Model != "Wierda" {
		t.Errorf("unexpected entry %+v", got)
	}
	if got.Action != "simulate" || got.StatusCode != http.StatusOK || got.RequestID != "req-1" {
		t.Errorf("unexpected entry %+v", got)
	}
	if !strings.Contains(buf.String(), "patient_data_access") {
		t.Errorf("expected audit log line, got %s", buf.String())
	}
}

func TestAudit_CapturesErrorStatus(t *testing.T) {
	rec := &mockRecorder{}
	c, _ := newAuditContext(http.MethodPost, "/api/v1/simulations/export")

	_ = Audit(zerolog.Nop(), rec)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "nope")
	})(c)

	if len(rec.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(rec.entries))
	}
	if rec.entries[0].StatusCode != http.StatusForbidden || rec.entries[0].Action != "export" {
		t.Errorf("unexpected entry %+v", rec.entries[0])
	}
}

func TestAudit_SkipsNonPatientPaths(t *testing.T) {
	rec := &mockRecorder{}
	for _, path := range []string{"/health", "/api/v1/models"} {
		c, _ := newAuditContext(http.MethodGet, path)
		_ = Audit(zerolog.Nop(), rec)(okHandler)(c)
	}
	if len(rec.entries) != 0 {
		t.Errorf("expected no audit entries, got %d", len(rec.entries))
	}
}

func TestAudit_RecorderFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{err: errors.New("disk full")}
	c, _ := newAuditContext(http.MethodPost, "/api/v1/validate")

	if err := Audit(zerolog.New(&buf), rec)(okHandler)(c); err != nil {
		t.Fatalf("recorder failure must not fail the request: %v", err)
	}
	if !strings.Contains(buf.String(), "failed to record audit entry") {
		t.Errorf("expected recorder failure to be logged, got %s", buf.String())
	}
}

func TestAuditAction(t *testing.T) {
	tests := map[string]string{
		"/api/v1/simulations":        "simulate",
		"/api/v1/simulations/points": "simulate-page",
		"/api/v1/simulations/export": "export",
		"/api/v1/parameters":         "derive",
		"/api/v1/validate":           "validate",
	}
	for path, want := range tests {
		if got := auditAction(path); got != want {
			t.Errorf("auditAction(%s) = %s, want %s", path, got, want)
		}
	}
}
