package pkpd

import (
	"fmt"
	"math"
)

// EffectSiteTrace fills ce from cp with a forward-Euler first-order lag driven
// by the previous plasma sample. ce[0] is 0.
//
// The mass balance uses RK4 but this lag stays Euler so results match the
// published reference model.
func EffectSiteTrace(cp []float64, ke0, dt float64, ce []float64) {
	if len(ce) == 0 {
		return
	}
	ce[0] = 0
	for i := 1; i < len(ce); i++ {
		ce[i] = ce[i-1] + dt*ke0*(cp[i-1]-ce[i-1])
	}
}

// HillTransform maps effect-site concentrations to TOF ratio (%) into tof.
// Degenerate curves and non-finite values fall back to pd.E0 and are
// reported as diagnostics.
func HillTransform(ce []float64, pd PDParameters, tof []float64) []Diagnostic {
	if pd.Ce50 <= 0 || pd.Gamma <= 0 {
		for i := range tof {
			tof[i] = pd.E0
		}
		return []Diagnostic{{
			Code:    DiagDegeneratePD,
			Message: fmt.Sprintf("invalid PD parameters for TOF calculation (ce50=%g, gamma=%g); TOF held at baseline", pd.Ce50, pd.Gamma),
		}}
	}

	ce50g := math.Pow(pd.Ce50, pd.Gamma)
	nonFinite := 0
	firstBad := -1
	for i, c := range ce {
		v, ok := hill(c, ce50g, pd)
		if !ok {
			nonFinite++
			if firstBad < 0 {
				firstBad = i
			}
		}
		tof[i] = v
	}

	if nonFinite == 0 {
		return nil
	}
	return []Diagnostic{{
		Code:    DiagNonFinite,
		Message: fmt.Sprintf("%d non-finite TOF values replaced by baseline (first at sample %d)", nonFinite, firstBad),
	}}
}

func hill(ce, ce50g float64, pd PDParameters) (float64, bool) {
	if ce < 0 {
		ce = 0
	}
	ceg := math.Pow(ce, pd.Gamma)
	den := ce50g + ceg
	if den == 0 {
		return pd.Emax, true
	}
	effect := pd.E0 + (pd.Emax-pd.E0)*(ceg/den)
	if math.IsNaN(effect) || math.IsInf(effect, 0) {
		return pd.E0, false
	}
	return math.Max(0, math.Min(100, effect)), true
}
