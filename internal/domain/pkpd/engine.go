package pkpd

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeStep is the integration step in minutes.
	DefaultTimeStep = 0.01
	// TailMinutes is simulated past the last dose event when no duration is given.
	TailMinutes = 240.0
)

var runNamespace = uuid.MustParse("5b0c7a8e-3f0e-4d7c-9a57-6f1f2f0b9c11")

// Engine runs simulations. It carries no per-run state, so one Engine may
// serve concurrent callers.
type Engine struct {
	logger zerolog.Logger
	now    func() time.Time
	step   float64
}

func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger, now: time.Now, step: DefaultTimeStep}
}

// SetClock replaces the source of the informational CalculatedAt timestamp.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Duration resolves the simulated horizon: an explicit positive duration
// wins, otherwise the last dose event plus TailMinutes.
func Duration(doses []DoseEvent, durationMin float64) float64 {
	if durationMin > 0 {
		return durationMin
	}
	return LastEventTime(doses) + TailMinutes
}

// Run computes the fine-step trace for one patient and dosing plan.
func (e *Engine) Run(p Patient, doses []DoseEvent, durationMin float64) (*Trace, DerivedParameters, []Diagnostic, error) {
	if len(doses) == 0 {
		return nil, DerivedParameters{}, nil, ErrNoDoseEvents
	}
	params, err := DeriveParameters(p)
	if err != nil {
		return nil, DerivedParameters{}, nil, err
	}
	if err := checkInvariants(p, doses, durationMin); err != nil {
		return nil, DerivedParameters{}, nil, err
	}

	total := Duration(doses, durationMin)
	n := int(math.Floor(total/e.step+1e-9)) + 1

	tr := &Trace{
		Step:       e.step,
		Plasma:     make([]float64, n),
		EffectSite: make([]float64, n),
		TOF:        make([]float64, n),
	}

	sched := CompileSchedule(doses, p.Weight)
	PlasmaTrace(params.PK, sched, e.step, tr.Plasma)
	EffectSiteTrace(tr.Plasma, params.PD.Ke0, e.step, tr.EffectSite)
	diags := HillTransform(tr.EffectSite, params.PD, tr.TOF)

	for _, d := range diags {
		e.logger.Warn().
			Str("code", d.Code).
			Str("model", string(p.Model)).
			Msg(d.Message)
	}
	return tr, params, diags, nil
}

// Simulate runs the engine and assembles the one-minute result series.
func (e *Engine) Simulate(p Patient, doses []DoseEvent, durationMin float64) (*SimulationResult, error) {
	start := time.Now()
	tr, params, diags, err := e.Run(p, doses, durationMin)
	if err != nil {
		return nil, err
	}

	points, maxCp, maxCe := Assemble(tr, doses)

	echoed := make([]DoseEvent, len(doses))
	copy(echoed, doses)

	res := &SimulationResult{
		ID:                         uuid.NewSHA1(runNamespace, []byte(RunKey(p, doses, durationMin))),
		TimePoints:                 points,
		Patient:                    p,
		DoseEvents:                 echoed,
		Parameters:                 params,
		CalculationMethod:          p.Model.Label(),
		MaxPlasmaConcentration:     maxCp,
		MaxEffectSiteConcentration: maxCe,
		Diagnostics:                diags,
		CalculatedAt:               e.now(),
	}

	e.logger.Debug().
		Str("simulation_id", res.ID.String()).
		Str("model", string(p.Model)).
		Int("samples", len(tr.Plasma)).
		Int("points", len(points)).
		Dur("elapsed", time.Since(start)).
		Msg("simulation completed")

	return res, nil
}

// RunKey is a stable digest of the simulation inputs. Identical inputs
// always produce identical traces, so the key identifies the output too.
func RunKey(p Patient, doses []DoseEvent, durationMin float64) string {
	b, _ := json.Marshal(struct {
		Patient  Patient     `json:"patient"`
		Doses    []DoseEvent `json:"doses"`
		Duration float64     `json:"duration"`
	}{p, doses, Duration(doses, durationMin)})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
