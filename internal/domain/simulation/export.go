package simulation

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/nmbsim/nmbsim/internal/domain/pkpd"
)

const (
	sheetSeries     = "Simulation"
	sheetDosing     = "Dosing"
	sheetParameters = "Parameters"
)

// Export formats supported by the export endpoint and the CLI.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// ContentType returns the MIME type for an export format.
func ContentType(format string) string {
	if format == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Filename names the attachment for r in the given format.
func Filename(r *pkpd.SimulationResult, format string) string {
	id := r.Patient.ID
	if id == "" {
		id = r.ID.String()
	}
	return fmt.Sprintf("simulation_%s_%s.%s", id, r.Patient.Model, format)
}

// WriteXLSX writes the result as a workbook: the minute series in canonical
// column order, the dosing plan, and the derived parameters.
func WriteXLSX(w io.Writer, r *pkpd.SimulationResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSeries); err != nil {
		return fmt.Errorf("export xlsx: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return fmt.Errorf("export xlsx: header style: %w", err)
	}

	if err := writeSeries(f, r, header); err != nil {
		return fmt.Errorf("export xlsx: %w", err)
	}
	if err := writeDosing(f, r, header); err != nil {
		return fmt.Errorf("export xlsx: %w", err)
	}
	if err := writeParameters(f, r, header); err != nil {
		return fmt.Errorf("export xlsx: %w", err)
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("export xlsx: write: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, cols []string, style int) error {
	row := make([]interface{}, len(cols))
	for i, c := range cols {
		row[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &row); err != nil {
		return err
	}
	end, err := excelize.CoordinatesToCellName(len(cols), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", end, style)
}

func writeSeries(f *excelize.File, r *pkpd.SimulationResult, header int) error {
	if err := writeHeader(f, sheetSeries, pkpd.CSVHeader, header); err != nil {
		return err
	}

	conc := "0.0000"
	pct := "0.00"
	concStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &conc})
	if err != nil {
		return err
	}
	pctStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &pct})
	if err != nil {
		return err
	}

	for i, tp := range r.TimePoints {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			r.Patient.FormatClock(float64(tp.Minute)),
			tp.Minute,
			tp.PlasmaConcentration,
			tp.EffectSiteConcentration,
			tp.TOFRatio,
		}
		if err := f.SetSheetRow(sheetSeries, cell, &row); err != nil {
			return err
		}
	}

	if last := len(r.TimePoints) + 1; last > 1 {
		if err := f.SetCellStyle(sheetSeries, "C2", "D"+strconv.Itoa(last), concStyle); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheetSeries, "E2", "E"+strconv.Itoa(last), pctStyle); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(sheetSeries, "A", "E", 14); err != nil {
		return err
	}
	return f.SetPanes(sheetSeries, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeDosing(f *excelize.File, r *pkpd.SimulationResult, header int) error {
	if _, err := f.NewSheet(sheetDosing); err != nil {
		return err
	}
	cols := []string{"ClockTime", "Time(min)", "Bolus(mg)", "Continuous(ug/kg/min)", "Event"}
	if err := writeHeader(f, sheetDosing, cols, header); err != nil {
		return err
	}
	for i, d := range r.DoseEvents {
		row := []interface{}{
			r.Patient.FormatClock(d.Time),
			d.Time,
			d.BolusMg,
			d.ContinuousMcgKgMin,
			d.Describe(),
		}
		if err := f.SetSheetRow(sheetDosing, "A"+strconv.Itoa(i+2), &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(sheetDosing, "A", "E", 20)
}

func writeParameters(f *excelize.File, r *pkpd.SimulationResult, header int) error {
	if _, err := f.NewSheet(sheetParameters); err != nil {
		return err
	}
	if err := writeHeader(f, sheetParameters, []string{"Parameter", "Value"}, header); err != nil {
		return err
	}

	pk, pd := r.Parameters.PK, r.Parameters.PD
	rows := [][]interface{}{
		{"Patient ID", r.Patient.ID},
		{"Model", r.CalculationMethod},
		{"Age (y)", r.Patient.Age},
		{"Weight (kg)", r.Patient.Weight},
		{"Height (cm)", r.Patient.Height},
		{"Sex", r.Patient.Sex.String()},
		{"Anesthesia start", r.Patient.FormattedStartTime()},
		{"V1 (L)", pk.V1},
		{"k10 (1/min)", pk.K10},
		{"k12 (1/min)", pk.K12},
		{"k13 (1/min)", pk.K13},
		{"k21 (1/min)", pk.K21},
		{"k31 (1/min)", pk.K31},
		{"ke0 (1/min)", pd.Ke0},
		{"Ce50 (ug/mL)", pd.Ce50},
		{"Gamma", pd.Gamma},
		{"Max Cp (ug/mL)", r.MaxPlasmaConcentration},
		{"Max Ce (ug/mL)", r.MaxEffectSiteConcentration},
		{"Calculated at", r.CalculatedAt.UTC().Format("2006-01-02T15:04:05Z07:00")},
	}
	for i, row := range rows {
		if err := f.SetSheetRow(sheetParameters, "A"+strconv.Itoa(i+2), &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(sheetParameters, "A", "B", 22)
}
