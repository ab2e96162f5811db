package pkpd

import "math"

// doseMatchWindow is how close (minutes) a dose event must be to a display
// sample to be attached to it.
const doseMatchWindow = 0.5

// Assemble downsamples the fine trace to whole minutes and attaches at most
// one dose event per sample. Maxima are taken over the full fine trace.
func Assemble(tr *Trace, doses []DoseEvent) (points []TimePoint, maxCp, maxCe float64) {
	interval := int(math.Round(1.0 / tr.Step))
	if interval < 1 {
		interval = 1
	}

	n := len(tr.Plasma)
	points = make([]TimePoint, 0, n/interval+1)
	for i := 0; i < n; i += interval {
		t := tr.Time(i)
		tp := TimePoint{
			Minute:                  int(math.Round(t)),
			PlasmaConcentration:     tr.Plasma[i],
			EffectSiteConcentration: tr.EffectSite[i],
			TOFRatio:                tr.TOF[i],
		}
		for j := range doses {
			if math.Abs(doses[j].Time-t) < doseMatchWindow {
				ev := doses[j]
				tp.DoseEvent = &ev
				break
			}
		}
		points = append(points, tp)
	}

	for i := 0; i < n; i++ {
		maxCp = math.Max(maxCp, tr.Plasma[i])
		maxCe = math.Max(maxCe, tr.EffectSite[i])
	}
	return points, maxCp, maxCe
}
