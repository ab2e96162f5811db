package pkpd

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidatePatient_Valid(t *testing.T) {
	if errs := ValidatePatient(testPatient(Wierda)); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestValidatePatient_Messages(t *testing.T) {
	p := Patient{ID: "  ", Age: 10, Weight: 250, Height: 100, Model: "X"}
	errs := ValidatePatient(p)

	want := []string{
		"Patient ID is required",
		"Age must be between 18 and 100 years",
		"Weight must be between 30 and 200 kg",
		"Height must be between 120 and 220 cm",
		"BMI is at an extreme value (calculated: 250.0)",
		"invalid model selected: X",
	}
	if len(errs) != len(want) {
		t.Fatalf("expected %d errors, got %d: %v", len(want), len(errs), errs)
	}
	for i := range want {
		if errs[i] != want[i] {
			t.Errorf("error %d: expected %q, got %q", i, want[i], errs[i])
		}
	}
}

func TestValidatePatient_UnknownSex(t *testing.T) {
	p := testPatient(Wierda)
	p.Sex = Sex(3)
	errs := ValidatePatient(p)
	if len(errs) != 1 || errs[0] != "invalid sex: 3" {
		t.Errorf("expected sex error only, got %v", errs)
	}
}

func TestValidateDuration(t *testing.T) {
	tests := []struct {
		dur  float64
		want int
	}{
		{0, 0},
		{240, 0},
		{MaxDuration, 0},
		{MaxDuration + 0.5, 1},
		{1e20, 1},
		{-1, 1},
	}
	for _, tt := range tests {
		if got := ValidateDuration(tt.dur); len(got) != tt.want {
			t.Errorf("ValidateDuration(%g) = %v, want %d messages", tt.dur, got, tt.want)
		}
	}
}

func TestValidatePatient_BMIOnly(t *testing.T) {
	p := testPatient(Wierda)
	p.Weight = 190
	p.Height = 160
	errs := ValidatePatient(p)
	if len(errs) != 1 || !strings.HasPrefix(errs[0], "BMI is at an extreme value (calculated: 74.2)") {
		t.Errorf("expected BMI error only, got %v", errs)
	}
}

func TestValidateDose(t *testing.T) {
	tests := []struct {
		name string
		dose DoseEvent
		want int
	}{
		{"valid bolus", DoseEvent{Time: 0, BolusMg: 50}, 0},
		{"valid stop", DoseEvent{Time: 120}, 0},
		{"bolus too high", DoseEvent{BolusMg: 250}, 1},
		{"rate too high", DoseEvent{ContinuousMcgKgMin: 31}, 1},
		{"time past 48h", DoseEvent{Time: 3000}, 1},
		{"everything wrong", DoseEvent{Time: -1, BolusMg: -1, ContinuousMcgKgMin: -1}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateDose(tt.dose); len(got) != tt.want {
				t.Errorf("expected %d errors, got %v", tt.want, got)
			}
		})
	}
}

func TestValidate_CollectsAll(t *testing.T) {
	p := testPatient(Wierda)
	p.Age = 101
	err := Validate(p, []DoseEvent{{BolusMg: 10}, {Time: 5, BolusMg: 300}})

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %v", ve.Messages)
	}
	if ve.Messages[1] != "Dose event 2: Bolus dose must be between 0 and 200 mg" {
		t.Errorf("unexpected dose message %q", ve.Messages[1])
	}
}

func TestValidate_RequiresDoses(t *testing.T) {
	err := Validate(testPatient(Wierda), nil)
	if err == nil || !strings.Contains(err.Error(), ErrNoDoseEvents.Error()) {
		t.Errorf("expected missing dose error, got %v", err)
	}
	if Validate(testPatient(Wierda), []DoseEvent{{BolusMg: 1}}) != nil {
		t.Error("expected valid request to pass")
	}
}

func TestPatient_ClockConversions(t *testing.T) {
	p := testPatient(Wierda)
	p.AnesthesiaStart = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	if got := p.FormatClock(95); got != "09:35" {
		t.Errorf("expected 09:35, got %s", got)
	}
	if got := p.FormatClock(16*60 + 30); got != "00:30" {
		t.Errorf("expected wrap past midnight to 00:30, got %s", got)
	}
	if got := p.FormattedStartTime(); got != "08:00" {
		t.Errorf("expected 08:00, got %s", got)
	}

	tests := []struct {
		clock string
		want  float64
	}{
		{"08:00", 0},
		{"08:45", 45},
		{"07:00", 1380},
		{"23:59", 959},
	}
	for _, tt := range tests {
		got, err := p.MinutesFromClock(tt.clock)
		if err != nil {
			t.Fatalf("MinutesFromClock(%s): %v", tt.clock, err)
		}
		if got != tt.want {
			t.Errorf("MinutesFromClock(%s) = %v, want %v", tt.clock, got, tt.want)
		}
	}
	if _, err := p.MinutesFromClock("8h"); err == nil {
		t.Error("expected error for malformed clock")
	}
}

func TestDoseEvent_Describe(t *testing.T) {
	tests := []struct {
		dose DoseEvent
		want string
	}{
		{DoseEvent{BolusMg: 50}, "Bolus: 50.0mg"},
		{DoseEvent{ContinuousMcgKgMin: 7.5}, "Continuous: 7.5μg/kg/min"},
		{DoseEvent{BolusMg: 10, ContinuousMcgKgMin: 5}, "Bolus: 10.0mg Continuous: 5.0μg/kg/min"},
		{DoseEvent{}, "Dosing Stopped"},
	}
	for _, tt := range tests {
		if got := tt.dose.Describe(); got != tt.want {
			t.Errorf("Describe(%+v) = %q, want %q", tt.dose, got, tt.want)
		}
	}
}

func TestSex_Text(t *testing.T) {
	var s Sex
	if err := s.UnmarshalText([]byte("female")); err != nil || s != SexFemale {
		t.Errorf("expected female, got %v (%v)", s, err)
	}
	if err := s.UnmarshalText([]byte("0")); err != nil || s != SexMale {
		t.Errorf("expected male, got %v (%v)", s, err)
	}
	for _, in := range []string{"mAlE", "M", "FEMALE", "f"} {
		if _, err := ParseSex(in); err != nil {
			t.Errorf("ParseSex(%q): %v", in, err)
		}
	}
	if err := s.UnmarshalText([]byte("other")); err == nil {
		t.Error("expected error for unknown sex")
	}
	b, _ := SexFemale.MarshalText()
	if string(b) != "female" {
		t.Errorf("expected 'female', got %s", b)
	}
	if SexMale.String() != "Male" {
		t.Errorf("expected display name Male")
	}
}
