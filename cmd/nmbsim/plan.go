package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nmbsim/nmbsim/internal/domain/pkpd"
	"github.com/nmbsim/nmbsim/internal/domain/simulation"
)

// planFile is the on-disk dosing plan. JSON plans parse too, since JSON is
// valid YAML.
type planFile struct {
	Patient     planPatient `yaml:"patient"`
	Doses       []planDose  `yaml:"doses"`
	DurationMin float64     `yaml:"duration_min"`
}

type planPatient struct {
	ID     string  `yaml:"id"`
	Age    float64 `yaml:"age"`
	Weight float64 `yaml:"weight"`
	Height float64 `yaml:"height"`
	Sex    string  `yaml:"sex"`
	Model  string  `yaml:"model"`
	// Start is RFC 3339, "2006-01-02 15:04", or a bare "15:04" on the
	// current day.
	Start string `yaml:"anesthesia_start"`
}

// planDose is placed either by minutes from start or by wall clock.
type planDose struct {
	TimeMin    *float64 `yaml:"time_min"`
	Clock      string   `yaml:"clock"`
	BolusMg    float64  `yaml:"bolus_mg"`
	Continuous float64  `yaml:"continuous_mcg_kg_min"`
}

// planFlags are the patient flags shared by simulate, validate and params.
type planFlags struct {
	path     string
	id       string
	age      float64
	weight   float64
	height   float64
	sex      string
	model    string
	start    string
	bolus    float64
	duration float64
}

func (f *planFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.path, "plan", "p", "", "dosing plan file (YAML or JSON)")
	fs.StringVar(&f.id, "id", "", "patient identifier (default Patient-<date>)")
	fs.Float64Var(&f.age, "age", 50, "age in years")
	fs.Float64Var(&f.weight, "weight", 70, "total body weight in kg")
	fs.Float64Var(&f.height, "height", 170, "height in cm")
	fs.StringVar(&f.sex, "sex", "male", "male or female")
	fs.StringVarP(&f.model, "model", "m", string(pkpd.Wierda), "PK/PD model: "+strings.Join(pkpd.VariantNames(), ", "))
	fs.StringVar(&f.start, "start", "08:00", "anesthesia start time")
	fs.Float64Var(&f.bolus, "bolus", 50, "induction bolus in mg at minute 0 (ignored with --plan)")
	fs.Float64VarP(&f.duration, "duration", "d", 0, "simulation length in minutes (0 = last event + 240)")
}

// request builds a simulation request from the plan file, if any, with
// explicitly set flags taking precedence over the file.
func (f *planFlags) request(cmd *cobra.Command, now time.Time) (simulation.Request, error) {
	var plan planFile
	if f.path != "" {
		p, err := loadPlan(f.path)
		if err != nil {
			return simulation.Request{}, err
		}
		plan = *p
	} else {
		plan = planFile{
			Patient: planPatient{Age: f.age, Weight: f.weight, Height: f.height, Sex: f.sex, Model: f.model, Start: f.start},
			Doses:   []planDose{{TimeMin: new(float64), BolusMg: f.bolus}},
		}
	}

	changed := cmd.Flags().Changed
	if changed("id") || plan.Patient.ID == "" {
		plan.Patient.ID = f.id
	}
	if changed("age") {
		plan.Patient.Age = f.age
	}
	if changed("weight") {
		plan.Patient.Weight = f.weight
	}
	if changed("height") {
		plan.Patient.Height = f.height
	}
	if changed("sex") || plan.Patient.Sex == "" {
		plan.Patient.Sex = f.sex
	}
	if changed("model") || plan.Patient.Model == "" {
		plan.Patient.Model = f.model
	}
	if changed("start") || plan.Patient.Start == "" {
		plan.Patient.Start = f.start
	}
	if changed("duration") {
		plan.DurationMin = f.duration
	}

	return plan.request(now)
}

func loadPlan(path string) (*planFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var plan planFile
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	return &plan, nil
}

func (p planFile) request(now time.Time) (simulation.Request, error) {
	sex, err := pkpd.ParseSex(p.Patient.Sex)
	if err != nil {
		return simulation.Request{}, err
	}
	model, err := pkpd.ParseModel(p.Patient.Model)
	if err != nil {
		return simulation.Request{}, err
	}
	start, err := parseStart(p.Patient.Start, now)
	if err != nil {
		return simulation.Request{}, err
	}

	id := p.Patient.ID
	if id == "" {
		id = "Patient-" + now.Format("20060102")
	}

	patient := pkpd.Patient{
		ID:              id,
		Age:             p.Patient.Age,
		Weight:          p.Patient.Weight,
		Height:          p.Patient.Height,
		Sex:             sex,
		Model:           model,
		AnesthesiaStart: start,
	}

	doses := make([]pkpd.DoseEvent, 0, len(p.Doses))
	for i, d := range p.Doses {
		var at float64
		switch {
		case d.Clock != "":
			at, err = patient.MinutesFromClock(d.Clock)
			if err != nil {
				return simulation.Request{}, fmt.Errorf("dose %d: %w", i+1, err)
			}
		case d.TimeMin != nil:
			at = *d.TimeMin
		default:
			return simulation.Request{}, fmt.Errorf("dose %d: time_min or clock is required", i+1)
		}
		doses = append(doses, pkpd.DoseEvent{Time: at, BolusMg: d.BolusMg, ContinuousMcgKgMin: d.Continuous})
	}

	return simulation.Request{Patient: patient, DoseEvents: doses, DurationMin: p.DurationMin}, nil
}

func parseStart(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", s, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse("15:04", s); err == nil {
		return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location()), nil
	}
	return time.Time{}, fmt.Errorf("invalid anesthesia start %q: use HH:MM or RFC 3339", s)
}
