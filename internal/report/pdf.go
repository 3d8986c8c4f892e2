package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/holla2040/hotfire/internal/fluid"
	"github.com/holla2040/hotfire/internal/store"
)

// GeneratePDF writes a report for one run: header, firing statistics, the
// state timeline and the alert history.
func GeneratePDF(w io.Writer, st *store.Store, runID string) error {
	run, err := st.GetRun(runID)
	if err != nil {
		return err
	}
	frames, err := st.QueryTelemetry(runID)
	if err != nil {
		return err
	}
	events, err := st.QueryEvents(runID)
	if err != nil {
		return err
	}
	alerts, err := st.QueryAlerts(runID)
	if err != nil {
		return err
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 12, "Hot Fire Run Report", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	info := []struct{ label, value string }{
		{"Run", run.ID},
		{"Stand", run.Stand},
		{"Station", run.Station},
		{"Status", run.Status},
		{"Started", run.StartedAt.Format(time.RFC3339)},
	}
	if run.FinishedAt != nil {
		info = append(info, struct{ label, value string }{"Finished", run.FinishedAt.Format(time.RFC3339)})
	}
	if n := len(frames); n > 0 {
		info = append(info, struct{ label, value string }{"Simulated time", fmt.Sprintf("%.3f s (%d frames)", frames[n-1].Time, n)})
	}
	for _, item := range info {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(40, 7, item.label+":", "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 7, item.value, "", 1, "L", false, 0, "")
	}
	if run.Summary != "" {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(40, 7, "Summary:", "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 7, run.Summary, "", "L", false)
	}
	pdf.Ln(6)

	section(pdf, "Chamber Pressure While Firing")
	stats := Summarize(frames)
	if len(stats) == 0 {
		empty(pdf, "No chamber fired during this run.")
	} else {
		header(pdf, []col{{25, "Chamber"}, {20, "Frames"}, {30, "Duration"}, {35, "Mean"}, {35, "Std dev"}, {0, "Max"}})
		pdf.SetFont("Arial", "", 9)
		for _, s := range stats {
			pdf.CellFormat(25, 7, s.Subsystem, "1", 0, "L", false, 0, "")
			pdf.CellFormat(20, 7, fmt.Sprintf("%d", s.Frames), "1", 0, "R", false, 0, "")
			pdf.CellFormat(30, 7, fmt.Sprintf("%.2f s", s.DurationS), "1", 0, "R", false, 0, "")
			pdf.CellFormat(35, 7, psi(s.MeanPa), "1", 0, "R", false, 0, "")
			pdf.CellFormat(35, 7, psi(s.StdDevPa), "1", 0, "R", false, 0, "")
			pdf.CellFormat(0, 7, psi(s.MaxPa), "1", 1, "R", false, 0, "")
		}
	}
	pdf.Ln(6)

	section(pdf, "State Timeline")
	if len(events) == 0 {
		empty(pdf, "No state changes recorded.")
	} else {
		header(pdf, []col{{25, "Time"}, {40, "Subsystem"}, {40, "From"}, {0, "To"}})
		pdf.SetFont("Arial", "", 9)
		for _, e := range events {
			pdf.CellFormat(25, 6, fmt.Sprintf("%.3f s", e.Time), "1", 0, "R", false, 0, "")
			pdf.CellFormat(40, 6, e.Subsystem, "1", 0, "L", false, 0, "")
			pdf.CellFormat(40, 6, e.From, "1", 0, "L", false, 0, "")
			pdf.CellFormat(0, 6, e.To, "1", 1, "L", false, 0, "")
		}
	}
	pdf.Ln(6)

	section(pdf, "Alert History")
	if len(alerts) == 0 {
		empty(pdf, "No alerts recorded.")
	} else {
		header(pdf, []col{{25, "Time"}, {0, "Active alerts"}})
		pdf.SetFont("Arial", "", 9)
		for _, a := range alerts {
			active := "none"
			if len(a.Active) > 0 {
				active = strings.Join(a.Active, ", ")
			}
			pdf.CellFormat(25, 6, fmt.Sprintf("%.3f s", a.Time), "1", 0, "R", false, 0, "")
			pdf.MultiCell(0, 6, active, "1", "L", false)
		}
	}

	return pdf.Output(w)
}

type col struct {
	width float64
	label string
}

func section(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")
	pdf.Ln(2)
}

func empty(pdf *fpdf.Fpdf, text string) {
	pdf.SetFont("Arial", "I", 10)
	pdf.CellFormat(0, 7, text, "", 1, "L", false, 0, "")
}

func header(pdf *fpdf.Fpdf, cols []col) {
	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(220, 220, 220)
	for i, c := range cols {
		ln := 0
		if i == len(cols)-1 {
			ln = 1
		}
		pdf.CellFormat(c.width, 7, c.label, "1", ln, "L", true, 0, "")
	}
}

func psi(pa float64) string {
	return fmt.Sprintf("%.1f psi", pa/fluid.PSI)
}
