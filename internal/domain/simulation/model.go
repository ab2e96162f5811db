package simulation

import (
	"github.com/nmbsim/nmbsim/internal/domain/pkpd"
)

// Request is the body of every simulation endpoint.
type Request struct {
	Patient     pkpd.Patient     `json:"patient" yaml:"patient"`
	DoseEvents  []pkpd.DoseEvent `json:"dose_events" yaml:"dose_events"`
	DurationMin float64          `json:"duration_min,omitempty" yaml:"duration_min,omitempty"`
}

// Outcome is a simulation result plus how it was obtained.
type Outcome struct {
	Result   *pkpd.SimulationResult
	Warnings []string
	Cached   bool
}

// ValidationReport is returned by the validate endpoint.
type ValidationReport struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ModelInfo is one row of the model catalogue.
type ModelInfo struct {
	pkpd.ModelDefinition
	Label string `json:"label"`
}

// ParametersResponse reports the individualized parameters for a patient.
type ParametersResponse struct {
	Model      pkpd.ModelVariant      `json:"model"`
	BMI        float64                `json:"bmi"`
	Parameters pkpd.DerivedParameters `json:"parameters"`
	Warnings   []string               `json:"warnings,omitempty"`
}
