package pkpd

import "sort"

// Bolus is an instantaneous addition of drug to the central compartment.
type Bolus struct {
	Time     float64
	AmountMg float64
}

// RateBreakpoint sets the infusion rate from Time onward.
type RateBreakpoint struct {
	Time      float64
	RateMgMin float64
}

// Schedule is the compiled forcing function of a dosing plan.
type Schedule struct {
	Boluses []Bolus
	// Infusion is sorted by time, has one entry per distinct time and always
	// starts at t=0.
	Infusion []RateBreakpoint
}

// CompileSchedule turns dose events into bolus impulses and a piecewise
// constant infusion rate. Events need not be sorted. Ranges are not checked.
func CompileSchedule(events []DoseEvent, weight float64) Schedule {
	sorted := make([]DoseEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	var s Schedule
	for _, ev := range sorted {
		if ev.BolusMg > 0 {
			s.Boluses = append(s.Boluses, Bolus{Time: ev.Time, AmountMg: ev.BolusMg})
		}
	}

	s.Infusion = make([]RateBreakpoint, 0, len(sorted)+1)
	for _, ev := range sorted {
		bp := RateBreakpoint{Time: ev.Time, RateMgMin: ev.ContinuousRateMgMin(weight)}
		// Later events at the same time win.
		if n := len(s.Infusion); n > 0 && s.Infusion[n-1].Time == bp.Time {
			s.Infusion[n-1] = bp
			continue
		}
		s.Infusion = append(s.Infusion, bp)
	}
	if len(s.Infusion) == 0 || s.Infusion[0].Time > 0 {
		s.Infusion = append([]RateBreakpoint{{Time: 0, RateMgMin: 0}}, s.Infusion...)
	}
	return s
}

// RateAt returns the infusion rate in effect at time t.
func (s Schedule) RateAt(t float64) float64 {
	rate := 0.0
	for _, bp := range s.Infusion {
		if bp.Time > t {
			break
		}
		rate = bp.RateMgMin
	}
	return rate
}

// LastEventTime is the latest dose event time, or 0 for an empty list.
func LastEventTime(events []DoseEvent) float64 {
	last := 0.0
	for i, ev := range events {
		if i == 0 || ev.Time > last {
			last = ev.Time
		}
	}
	return last
}
