package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/nmbsim/nmbsim/internal/domain/pkpd"
	"github.com/nmbsim/nmbsim/internal/domain/simulation"
)

// Output formats for the simulate command. CSV and XLSX are also export
// formats.
const (
	outputTable = "table"
	outputJSON  = "json"
)

var (
	deepBlock = color.New(color.FgRed, color.Bold)
	partial   = color.New(color.FgYellow)
	recovered = color.New(color.FgGreen)
	warnText  = color.New(color.FgYellow)
	errText   = color.New(color.FgRed)
	heading   = color.New(color.Bold)
)

// tofColor bands the TOF ratio: below 25% is deep block, 90% and above is
// adequate recovery for extubation.
func tofColor(tof float64) *color.Color {
	switch {
	case tof < 25:
		return deepBlock
	case tof < 90:
		return partial
	default:
		return recovered
	}
}

// renderTable prints every nth minute of the series plus the last sample.
func renderTable(w io.Writer, r *pkpd.SimulationResult, every int) error {
	if every < 1 {
		every = 1
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "CLOCK\tMIN\tCP (ug/mL)\tCE (ug/mL)\tTOF (%)\tEVENT\t")

	last := len(r.TimePoints) - 1
	for i, tp := range r.TimePoints {
		if i%every != 0 && i != last && tp.DoseEvent == nil {
			continue
		}
		row := r.Row(tp)
		event := ""
		if tp.DoseEvent != nil {
			event = tp.DoseEvent.Describe()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			row[0], row[1], row[2], row[3], tofColor(tp.TOFRatio).Sprint(row[4]), event)
	}
	return tw.Flush()
}

func renderSummary(w io.Writer, out *simulation.Outcome) {
	r := out.Result
	heading.Fprintf(w, "%s  patient %s  start %s\n", r.CalculationMethod, r.Patient.ID, r.Patient.FormattedStartTime())
	fmt.Fprintf(w, "Max plasma concentration:      %.3f ug/mL\n", r.MaxPlasmaConcentration)
	fmt.Fprintf(w, "Max effect-site concentration: %.3f ug/mL\n", r.MaxEffectSiteConcentration)

	if nadir, ok := nadirTOF(r.TimePoints); ok {
		fmt.Fprintf(w, "TOF nadir:                     %s at %s\n",
			tofColor(nadir.TOFRatio).Sprintf("%.2f%%", nadir.TOFRatio),
			r.Patient.FormatClock(float64(nadir.Minute)))
	}
	if rec, ok := recoveryTime(r.TimePoints); ok {
		fmt.Fprintf(w, "TOF >= 90%% from:               %s\n", r.Patient.FormatClock(float64(rec)))
	}
	if out.Cached {
		fmt.Fprintln(w, "(served from cache)")
	}
	renderNotes(w, out.Warnings, r.Diagnostics)
}

func renderNotes(w io.Writer, warnings []string, diags []pkpd.Diagnostic) {
	for _, msg := range warnings {
		warnText.Fprintf(w, "warning: %s\n", msg)
	}
	for _, d := range diags {
		warnText.Fprintf(w, "%s: %s\n", d.Code, d.Message)
	}
}

func renderViolations(w io.Writer, msgs []string) {
	for _, msg := range msgs {
		errText.Fprintf(w, "  - %s\n", msg)
	}
}

func renderParameters(w io.Writer, p *simulation.ParametersResponse) error {
	heading.Fprintf(w, "%s  BMI %.1f\n", p.Model.Label(), p.BMI)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	pk, pd := p.Parameters.PK, p.Parameters.PD
	rows := [][2]string{
		{"V1 (L)", fmt.Sprintf("%.4f", pk.V1)},
		{"k10 (1/min)", fmt.Sprintf("%.4f", pk.K10)},
		{"k12 (1/min)", fmt.Sprintf("%.4f", pk.K12)},
		{"k13 (1/min)", fmt.Sprintf("%.4f", pk.K13)},
		{"k21 (1/min)", fmt.Sprintf("%.4f", pk.K21)},
		{"k31 (1/min)", fmt.Sprintf("%.4f", pk.K31)},
		{"ke0 (1/min)", fmt.Sprintf("%.4f", pd.Ke0)},
		{"Ce50 (ug/mL)", fmt.Sprintf("%.4f", pd.Ce50)},
		{"gamma", fmt.Sprintf("%.4f", pd.Gamma)},
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	renderNotes(w, p.Warnings, nil)
	return nil
}

func renderModels(w io.Writer, models []simulation.ModelInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIANT\tNAME\tV1 (L/kg)\tk10\tk12\tk13\tk21\tk31\tCOVARIATES")
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\t%s\n",
			m.Variant, m.DisplayName, m.PK.V1PerBW, m.PK.K10, m.PK.K12, m.PK.K13, m.PK.K21, m.PK.K31,
			covariates(m.PD))
	}
	return tw.Flush()
}

func covariates(pd pkpd.PDCoefficients) string {
	terms := []string{"age on ce50 and gamma"}
	if pd.Theta7 != nil {
		terms = append(terms, "sex")
	}
	if pd.Theta8 != nil {
		terms = append(terms, "age on ke0")
	}
	return strings.Join(terms, ", ")
}

func renderJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func nadirTOF(points []pkpd.TimePoint) (pkpd.TimePoint, bool) {
	if len(points) == 0 {
		return pkpd.TimePoint{}, false
	}
	nadir := points[0]
	for _, tp := range points[1:] {
		if tp.TOFRatio < nadir.TOFRatio {
			nadir = tp
		}
	}
	return nadir, true
}

// recoveryTime is the first minute after the nadir at which TOF is back to
// 90% or more.
func recoveryTime(points []pkpd.TimePoint) (int, bool) {
	nadir, ok := nadirTOF(points)
	if !ok || nadir.TOFRatio >= 90 {
		return 0, false
	}
	for _, tp := range points[nadir.Minute:] {
		if tp.TOFRatio >= 90 {
			return tp.Minute, true
		}
	}
	return 0, false
}
