package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/nmbsim/nmbsim/internal/config"
	"github.com/nmbsim/nmbsim/internal/platform/auth"
	"github.com/nmbsim/nmbsim/internal/platform/cache"
)

const testSigningKey = "main-test-key"

func init() {
	color.NoColor = true
}

func testConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		Env:              "production",
		AuthSigningKey:   testSigningKey,
		CORSOrigins:      []string{"http://localhost:3000"},
		RateLimitRPS:     100,
		RateLimitBurst:   100,
		RequestTimeout:   10 * time.Second,
		BodyLimitBytes:   1 << 20,
		CacheTTL:         time.Minute,
		ValidationPolicy: config.PolicyStrict,
	}
}

// run executes the CLI with args and returns stdout, stderr and the error.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writePlan(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write plan: %v", err)
	}
	return path
}

const yamlPlan = `
patient:
  id: MRN-42
  age: 58
  weight: 82
  height: 176
  sex: female
  model: cooper
  anesthesia_start: "07:45"
doses:
  - time_min: 0
    bolus_mg: 50
  - clock: "08:15"
    continuous_mcg_kg_min: 6
  - clock: "09:15"
    continuous_mcg_kg_min: 0
duration_min: 180
`

func TestServer_HealthAndPublicModels(t *testing.T) {
	e := newServer(testConfig(), zerolog.Nop(), cache.NewMemory())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on every response")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id")
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/models", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected public model catalogue, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/openapi.json", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"/api/v1/simulations/export"`) {
		t.Errorf("expected public API document, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/docs", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected docs page, got %d", rec.Code)
	}
	if csp := rec.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "https://unpkg.com") {
		t.Errorf("docs page policy blocks swagger UI: %q", csp)
	}
}

func TestServer_SimulationRequiresToken(t *testing.T) {
	e := newServer(testConfig(), zerolog.Nop(), cache.NewMemory())
	body := `{"patient":{"id":"MRN-1","age":50,"weight":70,"height":170,"sex":"male","model":"Wierda"},
		"dose_events":[{"time_min":0,"bolus_mg":50}],"duration_min":30}`

	post := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/simulations", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	if rec := post(""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}

	tok, err := auth.IssueToken(auth.JWTConfig{SigningKey: []byte(testSigningKey)}, "dr-a", []string{auth.RoleAnesthesiologist}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	rec := post(tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Cache") != "MISS" {
		t.Errorf("expected cache miss, got %q", rec.Header().Get("X-Cache"))
	}
	if rec = post(tok); rec.Header().Get("X-Cache") != "HIT" {
		t.Errorf("expected cache hit, got %q", rec.Header().Get("X-Cache"))
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected public metrics, got %d", rec.Code)
	}
	for _, want := range []string{
		`nmbsim_simulations_total{model="Wierda",cache="miss"} 1`,
		`nmbsim_simulations_total{model="Wierda",cache="hit"} 1`,
		`http_server_request_duration_seconds_count{method="POST",route="/api/v1/simulations",status_code="401"} 1`,
	} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("expected %q in metrics", want)
		}
	}
}

func TestCLI_SimulateTable(t *testing.T) {
	out, _, err := run(t, "simulate", "--id", "MRN-9", "--duration", "60", "--every", "15")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Wierda Model", "MRN-9", "Max plasma concentration:", "TOF nadir:", "CLOCK", "08:15", "09:00", "Bolus: 50.0mg"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestCLI_SimulatePlanCSV(t *testing.T) {
	path := writePlan(t, yamlPlan)
	out, _, err := run(t, "simulate", "-p", path, "-o", "csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 182 {
		t.Fatalf("expected header + 181 rows, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[1], "07:45,0,") || !strings.HasPrefix(lines[31], "08:15,30,") {
		t.Errorf("unexpected rows %q / %q", lines[1], lines[31])
	}
}

func TestCLI_SimulateJSONFlagsOverridePlan(t *testing.T) {
	path := writePlan(t, yamlPlan)
	out, _, err := run(t, "simulate", "-p", path, "-o", "json", "--model", "Wierda", "--duration", "20")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res struct {
		Patient struct {
			ID    string `json:"id"`
			Model string `json:"model"`
			Sex   string `json:"sex"`
		} `json:"patient"`
		TimePoints []json.RawMessage `json:"time_points"`
		DoseEvents []struct {
			Time float64 `json:"time_min"`
		} `json:"dose_events"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if res.Patient.ID != "MRN-42" || res.Patient.Model != "Wierda" || res.Patient.Sex != "female" {
		t.Errorf("unexpected patient %+v", res.Patient)
	}
	if len(res.TimePoints) != 21 {
		t.Errorf("expected 21 points, got %d", len(res.TimePoints))
	}
	if len(res.DoseEvents) != 3 || res.DoseEvents[1].Time != 30 || res.DoseEvents[2].Time != 90 {
		t.Errorf("expected clock doses at 30 and 90 min, got %+v", res.DoseEvents)
	}
}

func TestCLI_SimulateXLSX(t *testing.T) {
	if _, _, err := run(t, "simulate", "-o", "xlsx"); err == nil {
		t.Error("expected xlsx without --out to fail")
	}

	path := filepath.Join(t.TempDir(), "case.xlsx")
	out, _, err := run(t, "simulate", "-o", "xlsx", "--out", path, "--duration", "30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "wrote "+path) {
		t.Errorf("unexpected output %q", out)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()
	rows, _ := f.GetRows("Simulation")
	if len(rows) != 32 {
		t.Errorf("expected 32 rows, got %d", len(rows))
	}
}

func TestCLI_StrictRejectsAndForceRuns(t *testing.T) {
	_, stderr, err := run(t, "simulate", "--age", "12", "--duration", "30")
	if err == nil || !strings.Contains(err.Error(), "--force") {
		t.Fatalf("expected strict rejection, got %v", err)
	}
	if !strings.Contains(stderr, "Age must be between 18 and 100 years") {
		t.Errorf("expected violation on stderr, got %q", stderr)
	}

	out, _, err := run(t, "simulate", "--age", "12", "--duration", "30", "--force")
	if err != nil {
		t.Fatalf("unexpected error with --force: %v", err)
	}
	if !strings.Contains(out, "warning: Age must be between 18 and 100 years") {
		t.Errorf("expected warning in output:\n%s", out)
	}
}

func TestCLI_Validate(t *testing.T) {
	out, _, err := run(t, "validate")
	if err != nil {
		t.Fatalf("default plan should validate: %v", err)
	}
	if !strings.Contains(out, "within clinical ranges") {
		t.Errorf("unexpected output %q", out)
	}

	out, _, err = run(t, "validate", "--weight", "250", "--bolus", "300")
	if err == nil || err.Error() != "3 validation error(s)" {
		t.Fatalf("expected three violations, got %v", err)
	}
	if !strings.Contains(out, "Dose event 1: Bolus dose must be between 0 and 200 mg") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCLI_ParamsAndModels(t *testing.T) {
	out, _, err := run(t, "params", "--model", "McCoy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "McCoy Model") {
		t.Errorf("unexpected params output:\n%s", out)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "k13") && !strings.HasSuffix(line, " 0.0000") {
			t.Errorf("two-compartment model should have k13 = 0, got %q", line)
		}
	}

	out, _, err = run(t, "models")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range []string{"Wierda", "Szenohradszky", "Cooper", "Alvarez-Gomez", "McCoy"} {
		if !strings.Contains(out, name) {
			t.Errorf("expected %s in models output", name)
		}
	}

	if _, _, err := run(t, "params", "--model", "Bogus"); err == nil {
		t.Error("expected unknown model to fail")
	}
}

func TestCLI_AgainstServer(t *testing.T) {
	srv := httptest.NewServer(newServer(testConfig(), zerolog.Nop(), cache.NewMemory()))
	defer srv.Close()

	if _, _, err := run(t, "simulate", "--server", srv.URL, "--duration", "10"); err == nil {
		t.Fatal("expected 401 without a token")
	}

	tok, err := auth.IssueToken(auth.JWTConfig{SigningKey: []byte(testSigningKey)}, "dr-b", []string{auth.RoleClinician}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	out, _, err := run(t, "simulate", "--server", srv.URL, "--token", tok, "-o", "csv", "--duration", "10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 12 {
		t.Errorf("expected 12 csv lines, got %d", len(lines))
	}

	_, stderr, err := run(t, "simulate", "--server", srv.URL, "--token", tok, "--bolus", "500")
	if err == nil || !strings.Contains(stderr, "Bolus dose must be between 0 and 200 mg") {
		t.Errorf("expected server-side rejection, got %v / %q", err, stderr)
	}

	out, _, err = run(t, "models", "--server", srv.URL)
	if err != nil || !strings.Contains(out, "Szenohradszky") {
		t.Errorf("expected public model list, got %v / %q", err, out)
	}
}

func TestCLI_Token(t *testing.T) {
	t.Setenv("AUTH_SIGNING_KEY", "cli-key")
	out, _, err := run(t, "token", "--subject", "dr-c", "--roles", "anesthesiologist,admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Count(strings.TrimSpace(out), ".") != 2 {
		t.Errorf("expected a JWT, got %q", out)
	}

	if _, _, err := run(t, "token"); err == nil {
		t.Error("expected missing --subject to fail")
	}
}

func TestOpenCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := testConfig()
	store, err := openCache(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("openCache: %v", err)
	}
	if _, ok := store.(*cache.Memory); !ok {
		t.Errorf("expected in-memory store without REDIS_URL, got %T", store)
	}

	mr := miniredis.RunT(t)
	cfg.RedisURL = "redis://" + mr.Addr() + "/0"
	cfg.CacheEncryptionKey = strings.Repeat("ab", 32)
	store, err = openCache(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("openCache redis: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*cache.Encrypted); !ok {
		t.Fatalf("expected encrypted redis store, got %T", store)
	}
	if err := store.Set(ctx, "run", []byte("MRN-9"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if raw, _ := mr.Get("nmbsim:run"); strings.Contains(raw, "MRN-9") {
		t.Error("expected sealed value in redis")
	}

	cfg.CacheEncryptionKey = "short"
	if _, err := openCache(ctx, cfg, zerolog.Nop()); err == nil {
		t.Error("expected a key error")
	}
}
