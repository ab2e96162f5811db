package pkpd

import "math"

// timeEpsilon absorbs float error in i*dt when comparing against event times.
const timeEpsilon = 1e-9

// Integrator advances the three-compartment mass balance with fixed-step RK4.
// It is not safe for concurrent use; each run owns its own Integrator.
type Integrator struct {
	pk    PKParameters
	sched Schedule
	dt    float64

	state    CompartmentState
	rate     float64
	bolusIdx int
	rateIdx  int
}

// NewIntegrator starts from an empty body (0,0,0).
func NewIntegrator(pk PKParameters, sched Schedule, dt float64) *Integrator {
	return &Integrator{pk: pk, sched: sched, dt: dt}
}

// State returns the current compartment amounts.
func (in *Integrator) State() CompartmentState { return in.state }

// Rate returns the infusion rate (mg/min) used by the last step.
func (in *Integrator) Rate() float64 { return in.rate }

// Step applies due doses at time t, records the plasma concentration for t
// and advances the state to t+dt.
func (in *Integrator) Step(t float64) float64 {
	half := in.dt / 2

	for in.bolusIdx < len(in.sched.Boluses) && in.sched.Boluses[in.bolusIdx].Time < t+half {
		in.state.A1 += in.sched.Boluses[in.bolusIdx].AmountMg
		in.bolusIdx++
	}

	// Rate changes take effect at the first step at or after their time.
	for in.rateIdx < len(in.sched.Infusion) && in.sched.Infusion[in.rateIdx].Time <= t+timeEpsilon {
		in.rate = in.sched.Infusion[in.rateIdx].RateMgMin
		in.rateIdx++
	}

	cp := math.Max(0, in.state.A1/in.pk.V1)

	next := rk4(in.state, in.pk, in.rate, in.dt)
	in.state = CompartmentState{
		A1: math.Max(0, next.A1),
		A2: math.Max(0, next.A2),
		A3: math.Max(0, next.A3),
	}
	return cp
}

// PlasmaTrace fills cp[i] with the plasma concentration at i*dt.
func PlasmaTrace(pk PKParameters, sched Schedule, dt float64, cp []float64) {
	in := NewIntegrator(pk, sched, dt)
	for i := range cp {
		cp[i] = in.Step(float64(i) * dt)
	}
}

func derivatives(s CompartmentState, pk PKParameters, rate float64) CompartmentState {
	return CompartmentState{
		A1: rate - (pk.K10+pk.K12+pk.K13)*s.A1 + pk.K21*s.A2 + pk.K31*s.A3,
		A2: pk.K12*s.A1 - pk.K21*s.A2,
		A3: pk.K13*s.A1 - pk.K31*s.A3,
	}
}

// rk4 holds rate constant over the whole step.
func rk4(s CompartmentState, pk PKParameters, rate, dt float64) CompartmentState {
	k1 := derivatives(s, pk, rate)
	k2 := derivatives(CompartmentState{
		A1: s.A1 + dt*k1.A1/2,
		A2: s.A2 + dt*k1.A2/2,
		A3: s.A3 + dt*k1.A3/2,
	}, pk, rate)
	k3 := derivatives(CompartmentState{
		A1: s.A1 + dt*k2.A1/2,
		A2: s.A2 + dt*k2.A2/2,
		A3: s.A3 + dt*k2.A3/2,
	}, pk, rate)
	k4 := derivatives(CompartmentState{
		A1: s.A1 + dt*k3.A1,
		A2: s.A2 + dt*k3.A2,
		A3: s.A3 + dt*k3.A3,
	}, pk, rate)

	return CompartmentState{
		A1: s.A1 + dt*(k1.A1+2*k2.A1+2*k3.A1+k4.A1)/6,
		A2: s.A2 + dt*(k1.A2+2*k2.A2+2*k3.A2+k4.A2)/6,
		A3: s.A3 + dt*(k1.A3+2*k2.A3+2*k3.A3+k4.A3)/6,
	}
}
