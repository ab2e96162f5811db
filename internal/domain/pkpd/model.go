package pkpd

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sex is encoded 0/1 because it enters the gamma covariate model as a number.
type Sex int

const (
	SexMale   Sex = 0
	SexFemale Sex = 1
)

func (s Sex) String() string {
	if s == SexMale {
		return "Male"
	}
	return "Female"
}

// ParseSex accepts "male"/"female" (any case) and the single letters m/f.
func ParseSex(s string) (Sex, error) {
	switch strings.ToLower(s) {
	case "male", "m":
		return SexMale, nil
	case "female", "f":
		return SexFemale, nil
	}
	return SexMale, fmt.Errorf("invalid sex: %q", s)
}

func (s Sex) MarshalText() ([]byte, error) {
	if s == SexMale {
		return []byte("male"), nil
	}
	return []byte("female"), nil
}

func (s *Sex) UnmarshalText(b []byte) error {
	switch string(b) {
	case "0":
		*s = SexMale
		return nil
	case "1":
		*s = SexFemale
		return nil
	}
	v, err := ParseSex(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Patient is the demographic record a simulation is individualized for.
type Patient struct {
	ID              string       `json:"id" yaml:"id"`
	Age             float64      `json:"age" yaml:"age"`
	Weight          float64      `json:"weight" yaml:"weight"`
	Height          float64      `json:"height" yaml:"height"`
	Sex             Sex          `json:"sex" yaml:"sex"`
	Model           ModelVariant `json:"model" yaml:"model"`
	AnesthesiaStart time.Time    `json:"anesthesia_start" yaml:"anesthesia_start"`
}

// BMI returns weight / (height in metres)^2.
func (p Patient) BMI() float64 {
	m := p.Height / 100
	return p.Weight / (m * m)
}

// ClockTime returns the wall-clock time minutesFromStart after anesthesia start.
func (p Patient) ClockTime(minutesFromStart float64) time.Time {
	return p.AnesthesiaStart.Add(time.Duration(minutesFromStart * float64(time.Minute)))
}

// FormatClock renders minutesFromStart as 24-hour HH:MM in the start time's location.
func (p Patient) FormatClock(minutesFromStart float64) string {
	return p.ClockTime(minutesFromStart).Format("15:04")
}

// FormattedStartTime is the anesthesia start as HH:MM.
func (p Patient) FormattedStartTime() string {
	return p.AnesthesiaStart.Format("15:04")
}

// MinutesFromClock converts an "HH:MM" clock reading on the anesthesia day into
// whole minutes after anesthesia start. Readings earlier than the start are
// taken to be on the following day.
func (p Patient) MinutesFromClock(clock string) (float64, error) {
	parsed, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", clock, err)
	}
	start := p.AnesthesiaStart
	at := time.Date(start.Year(), start.Month(), start.Day(), parsed.Hour(), parsed.Minute(), 0, 0, start.Location())
	minutes := at.Sub(start).Minutes()
	if minutes < 0 {
		minutes += 1440
	}
	return math.Max(0, math.Round(minutes)), nil
}

// DoseEvent is one entry of a dosing schedule. A zero continuous rate stops
// any running infusion at Time.
type DoseEvent struct {
	Time               float64 `json:"time_min" yaml:"time_min"`
	BolusMg            float64 `json:"bolus_mg" yaml:"bolus_mg"`
	ContinuousMcgKgMin float64 `json:"continuous_mcg_kg_min" yaml:"continuous_mcg_kg_min"`
}

// ContinuousRateMgMin converts the weight-normalized infusion rate to mg/min.
func (d DoseEvent) ContinuousRateMgMin(weight float64) float64 {
	return d.ContinuousMcgKgMin * weight / 1000.0
}

// Describe renders the event the way it is listed in a dosing plan.
func (d DoseEvent) Describe() string {
	if d.BolusMg == 0 && d.ContinuousMcgKgMin == 0 {
		return "Dosing Stopped"
	}
	s := ""
	if d.BolusMg > 0 {
		s = fmt.Sprintf("Bolus: %.1fmg", d.BolusMg)
	}
	if d.ContinuousMcgKgMin > 0 {
		if s != "" {
			s += " "
		}
		s += fmt.Sprintf("Continuous: %.1fμg/kg/min", d.ContinuousMcgKgMin)
	}
	return s
}

// PKParameters are the individualized rate constants (1/min) and central volume (L).
type PKParameters struct {
	V1  float64 `json:"v1"`
	K10 float64 `json:"k10"`
	K12 float64 `json:"k12"`
	K13 float64 `json:"k13"`
	K21 float64 `json:"k21"`
	K31 float64 `json:"k31"`
}

// PDParameters describe the effect-site lag and the Hill curve.
type PDParameters struct {
	Ke0   float64 `json:"ke0"`
	Ce50  float64 `json:"ce50"`
	Gamma float64 `json:"gamma"`
	E0    float64 `json:"e0"`
	Emax  float64 `json:"emax"`
}

// DerivedParameters is fixed for the duration of one simulation.
type DerivedParameters struct {
	PK PKParameters `json:"pk"`
	PD PDParameters `json:"pd"`
}

// CompartmentState holds drug amounts (mg) in the central and peripheral compartments.
type CompartmentState struct {
	A1 float64
	A2 float64
	A3 float64
}

// Total is the drug mass currently in the body.
func (s CompartmentState) Total() float64 {
	return s.A1 + s.A2 + s.A3
}

// Trace is the fine-step output of one run, index i corresponding to time i*Step.
type Trace struct {
	Step       float64
	Plasma     []float64
	EffectSite []float64
	TOF        []float64
}

// Time returns the simulation time of sample i.
func (t *Trace) Time(i int) float64 {
	return float64(i) * t.Step
}

// TimePoint is one row of the one-minute display series.
type TimePoint struct {
	Minute                  int        `json:"minute"`
	DoseEvent               *DoseEvent `json:"dose_event,omitempty"`
	PlasmaConcentration     float64    `json:"plasma_concentration"`
	EffectSiteConcentration float64    `json:"effect_site_concentration"`
	TOFRatio                float64    `json:"tof_ratio"`
}

// Diagnostic is a non-fatal numerical note attached to a result.
type Diagnostic struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	DiagDegeneratePD = "degenerate_pd"
	DiagNonFinite    = "non_finite_effect"
)

// SimulationResult is owned by the caller once returned.
type SimulationResult struct {
	ID                         uuid.UUID         `json:"id"`
	TimePoints                 []TimePoint       `json:"time_points"`
	Patient                    Patient           `json:"patient"`
	DoseEvents                 []DoseEvent       `json:"dose_events"`
	Parameters                 DerivedParameters `json:"parameters"`
	CalculationMethod          string            `json:"calculation_method"`
	MaxPlasmaConcentration     float64           `json:"max_plasma_concentration"`
	MaxEffectSiteConcentration float64           `json:"max_effect_site_concentration"`
	Diagnostics                []Diagnostic      `json:"diagnostics,omitempty"`
	CalculatedAt               time.Time         `json:"calculated_at"`
}

// DurationMinutes is the minute of the last display sample.
func (r *SimulationResult) DurationMinutes() int {
	if len(r.TimePoints) == 0 {
		return 0
	}
	return r.TimePoints[len(r.TimePoints)-1].Minute
}
