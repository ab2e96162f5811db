package pkpd

import (
	"fmt"
	"math"
	"strings"
)

// Clinical input ranges.
const (
	MinAge    = 18.0
	MaxAge    = 100.0
	MinWeight = 30.0
	MaxWeight = 200.0
	MinHeight = 120.0
	MaxHeight = 220.0
	MinBMI    = 12.0
	MaxBMI    = 50.0

	MinDoseTime       = 0.0
	MaxDoseTime       = 2880.0
	MinBolus          = 0.0
	MaxBolus          = 200.0
	MinContinuousRate = 0.0
	MaxContinuousRate = 30.0

	// MaxDuration caps the simulated horizon: the last allowed dose time
	// plus the default tail.
	MaxDuration = MaxDoseTime + TailMinutes
)

// ValidatePatient returns every clinical range violation of p.
func ValidatePatient(p Patient) []string {
	var errs []string
	if strings.TrimSpace(p.ID) == "" {
		errs = append(errs, "Patient ID is required")
	}
	if p.Age < MinAge || p.Age > MaxAge {
		errs = append(errs, fmt.Sprintf("Age must be between %g and %g years", MinAge, MaxAge))
	}
	if p.Weight < MinWeight || p.Weight > MaxWeight {
		errs = append(errs, fmt.Sprintf("Weight must be between %g and %g kg", MinWeight, MaxWeight))
	}
	if p.Height < MinHeight || p.Height > MaxHeight {
		errs = append(errs, fmt.Sprintf("Height must be between %g and %g cm", MinHeight, MaxHeight))
	}
	if bmi := p.BMI(); bmi < MinBMI || bmi > MaxBMI || math.IsNaN(bmi) {
		errs = append(errs, fmt.Sprintf("BMI is at an extreme value (calculated: %.1f)", bmi))
	}
	if p.Sex != SexMale && p.Sex != SexFemale {
		errs = append(errs, fmt.Sprintf("invalid sex: %d", int(p.Sex)))
	}
	if _, err := LookupModel(p.Model); err != nil {
		errs = append(errs, err.Error())
	}
	return errs
}

// ValidateDuration checks an explicit simulation length. Zero means the
// default horizon.
func ValidateDuration(durationMin float64) []string {
	if durationMin < 0 || durationMin > MaxDuration || math.IsNaN(durationMin) {
		return []string{fmt.Sprintf("Simulation duration must be between 0 and %g minutes", MaxDuration)}
	}
	return nil
}

// ValidateDose returns every clinical range violation of d.
func ValidateDose(d DoseEvent) []string {
	var errs []string
	if d.Time < MinDoseTime || d.Time > MaxDoseTime {
		errs = append(errs, fmt.Sprintf("Dose time must be between %g and %g minutes", MinDoseTime, MaxDoseTime))
	}
	if d.BolusMg < MinBolus || d.BolusMg > MaxBolus {
		errs = append(errs, fmt.Sprintf("Bolus dose must be between %g and %g mg", MinBolus, MaxBolus))
	}
	if d.ContinuousMcgKgMin < MinContinuousRate || d.ContinuousMcgKgMin > MaxContinuousRate {
		errs = append(errs, fmt.Sprintf("Continuous infusion rate must be between %g and %g μg/kg/min", MinContinuousRate, MaxContinuousRate))
	}
	return errs
}

// Validate checks a whole request. It returns nil or a *ValidationError.
func Validate(p Patient, doses []DoseEvent) error {
	msgs := ValidatePatient(p)
	if len(doses) == 0 {
		msgs = append(msgs, ErrNoDoseEvents.Error())
	}
	for i, d := range doses {
		for _, m := range ValidateDose(d) {
			msgs = append(msgs, fmt.Sprintf("Dose event %d: %s", i+1, m))
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return &ValidationError{Messages: msgs}
}

// checkInvariants rejects input the integrator cannot run on at all,
// independent of clinical ranges.
func checkInvariants(p Patient, doses []DoseEvent, duration float64) error {
	var msgs []string
	if !(p.Weight > 0) || math.IsInf(p.Weight, 0) {
		msgs = append(msgs, "weight must be a positive number")
	}
	if math.IsNaN(p.Age) || math.IsInf(p.Age, 0) {
		msgs = append(msgs, "age must be a finite number")
	}
	if p.Sex != SexMale && p.Sex != SexFemale {
		msgs = append(msgs, "sex must be male or female")
	}
	if math.IsNaN(duration) || duration < 0 || math.IsInf(duration, 0) {
		msgs = append(msgs, "duration must be a finite non-negative number")
	} else if total := Duration(doses, duration); !(total <= MaxDuration) {
		msgs = append(msgs, fmt.Sprintf("simulated horizon of %g minutes exceeds the %g minute limit", total, MaxDuration))
	}
	for i, d := range doses {
		if !finiteNonNegative(d.Time) || !finiteNonNegative(d.BolusMg) || !finiteNonNegative(d.ContinuousMcgKgMin) {
			msgs = append(msgs, fmt.Sprintf("dose event %d must have finite non-negative time, bolus and rate", i+1))
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return &ValidationError{Messages: msgs}
}

func finiteNonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}
