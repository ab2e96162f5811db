package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/nmbsim/nmbsim/internal/domain/pkpd"
	"github.com/nmbsim/nmbsim/internal/domain/simulation"
	"github.com/nmbsim/nmbsim/internal/platform/auth"
	"github.com/nmbsim/nmbsim/internal/platform/cache"
)

var testJWT = auth.JWTConfig{SigningKey: []byte("client-test-key"), Skipper: auth.AuthSkipper}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc := simulation.NewService(pkpd.NewEngine(zerolog.Nop()), cache.NewMemory(),
		simulation.Options{CacheTTL: time.Minute}, zerolog.Nop())

	e := echo.New()
	api := e.Group("/api/v1", auth.JWTMiddleware(testJWT))
	simulation.NewHandler(svc).RegisterRoutes(api)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func token(t *testing.T, roles ...string) string {
	t.Helper()
	tok, err := auth.IssueToken(testJWT, "dr-test", roles, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return tok
}

func request() simulation.Request {
	return simulation.Request{
		Patient: pkpd.Patient{
			ID: "MRN-7", Age: 45, Weight: 80, Height: 180, Sex: pkpd.SexFemale, Model: pkpd.Cooper,
			AnesthesiaStart: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
		},
		DoseEvents:  []pkpd.DoseEvent{{Time: 0, BolusMg: 48}},
		DurationMin: 90,
	}
}

func TestClient_Simulate(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL, token(t, auth.RoleClinician), zerolog.Nop())
	ctx := context.Background()

	out, err := c.Simulate(ctx, request())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Cached {
		t.Error("first request should be a cache miss")
	}
	if len(out.Result.TimePoints) != 91 {
		t.Errorf("expected 91 points, got %d", len(out.Result.TimePoints))
	}
	if out.Result.Patient.Sex != pkpd.SexFemale || out.Result.CalculationMethod != "Cooper Model" {
		t.Errorf("unexpected result echo: %+v", out.Result.Patient)
	}

	again, err := c.Simulate(ctx, request())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !again.Cached || again.Result.ID != out.Result.ID {
		t.Error("expected a cache hit with the same result id")
	}
}

func TestClient_ErrorBodies(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	bad := request()
	bad.DoseEvents[0].BolusMg = 500
	_, err := New(srv.URL, token(t, auth.RoleAnesthesiologist), zerolog.Nop()).Simulate(ctx, bad)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", apiErr.StatusCode)
	}
	if len(apiErr.Messages) != 1 || !strings.Contains(apiErr.Messages[0], "Bolus dose") {
		t.Errorf("unexpected messages %v", apiErr.Messages)
	}

	_, err = New(srv.URL, "", zerolog.Nop()).Simulate(ctx, request())
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
	if len(apiErr.Messages) != 1 {
		t.Errorf("expected echo message to be surfaced, got %v", apiErr.Messages)
	}

	_, err = New(srv.URL, token(t, "viewer"), zerolog.Nop()).Simulate(ctx, request())
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestClient_ModelsArePublic(t *testing.T) {
	srv := newTestServer(t)

	models, err := New(srv.URL, "", zerolog.Nop()).Models(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(models) != 5 {
		t.Fatalf("expected 5 models, got %d", len(models))
	}
	if models[3].Variant != pkpd.AlvarezGomez || models[3].Label != "Alvarez-Gomez Model" {
		t.Errorf("unexpected model %+v", models[3])
	}
}

func TestClient_ValidateAndParameters(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL, token(t, auth.RoleClinician), zerolog.Nop())
	ctx := context.Background()

	req := request()
	req.Patient.Age = 12
	report, err := c.Validate(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Valid || len(report.Errors) != 1 {
		t.Errorf("expected one violation, got %+v", report)
	}

	params, err := c.Parameters(ctx, request().Patient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Model != pkpd.Cooper || params.Parameters.PD.Ce50 <= 0 {
		t.Errorf("unexpected parameters %+v", params)
	}
}

func TestClient_Export(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL, token(t, auth.RoleClinician), zerolog.Nop())

	data, name, err := c.Export(context.Background(), request(), simulation.FormatCSV)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "simulation_MRN-7_Cooper.csv" {
		t.Errorf("unexpected filename %q", name)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 92 || !strings.HasPrefix(lines[1], "09:30,0,") {
		t.Errorf("unexpected csv (%d lines), first row %q", len(lines), lines[1])
	}

	_, _, err = c.Export(context.Background(), request(), "pdf")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unsupported format, got %v", err)
	}
}

func TestAttachmentName(t *testing.T) {
	if got := attachmentName(`attachment; filename="a_b.xlsx"`); got != "a_b.xlsx" {
		t.Errorf("got %q", got)
	}
	if got := attachmentName("inline"); got != "" {
		t.Errorf("expected empty name, got %q", got)
	}
}
