package pkpd

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// CSVHeader is the canonical export header.
var CSVHeader = []string{"ClockTime", "Time(min)", "Cp(ug/mL)", "Ce(ug/mL)", "TOF_Ratio(%)"}

// Row formats one time point as a canonical export record.
func (r *SimulationResult) Row(tp TimePoint) []string {
	return []string{
		r.Patient.FormatClock(float64(tp.Minute)),
		strconv.Itoa(tp.Minute),
		strconv.FormatFloat(tp.PlasmaConcentration, 'f', 4, 64),
		strconv.FormatFloat(tp.EffectSiteConcentration, 'f', 4, 64),
		strconv.FormatFloat(tp.TOFRatio, 'f', 2, 64),
	}
}

// WriteCSV writes the result in the canonical text export format.
func WriteCSV(w io.Writer, r *SimulationResult) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("export csv: write header: %w", err)
	}
	for _, tp := range r.TimePoints {
		if err := cw.Write(r.Row(tp)); err != nil {
			return fmt.Errorf("export csv: write record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
