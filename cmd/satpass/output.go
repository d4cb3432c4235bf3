package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/star/satpass/internal/tracker"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51"))
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
)

const clock = "2006-01-02 15:04:05"

// renderReport formats a transit report as a titled table.
func renderReport(r tracker.TransitReport) string {
	var b strings.Builder

	title := fmt.Sprintf("NORAD %d", r.Satellite.NORADID)
	if r.Satellite.Name != "" {
		title = fmt.Sprintf("%s (%d)", r.Satellite.Name, r.Satellite.NORADID)
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteByte('\n')
	b.WriteString(hintStyle.Render(fmt.Sprintf("%.4f, %.4f  min el %.1f°  %s to %s UTC  elements %s",
		r.Query.Location.LatitudeDeg, r.Query.Location.LongitudeDeg, r.Query.MinElevationDeg,
		r.Query.Start.UTC().Format(clock), r.Query.End.UTC().Format(clock),
		r.Elements.Epoch.UTC().Format(time.RFC3339))))
	b.WriteByte('\n')

	if len(r.Transits) == 0 {
		b.WriteString("no passes in the search window")
		return b.String()
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("#", "START (UTC)", "PEAK", "END", "DURATION", "MAX EL", "AZ START", "AZ END")
	for i, tr := range r.Transits {
		t.Row(
			strconv.Itoa(i+1),
			tr.Start.UTC().Format(clock),
			tr.MaxElevationTime.UTC().Format("15:04:05"),
			tr.End.UTC().Format("15:04:05"),
			formatDuration(time.Duration(tr.DurationSeconds*float64(time.Second))),
			fmt.Sprintf("%.1f°", tr.MaxElevationDeg),
			fmt.Sprintf("%.0f° %s", tr.StartAzimuthDeg, compass(tr.StartAzimuthDeg)),
			fmt.Sprintf("%.0f° %s", tr.EndAzimuthDeg, compass(tr.EndAzimuthDeg)),
		)
	}
	b.WriteString(t.Render())
	return b.String()
}

// renderLook formats a single look as aligned key/value lines.
func renderLook(l tracker.Look) string {
	state := "below horizon"
	if l.Visible {
		state = "above horizon"
	}
	rows := [][2]string{
		{"time", l.Time.UTC().Format(time.RFC3339)},
		{"elevation", fmt.Sprintf("%.2f° (%s)", l.ElevationDeg, state)},
		{"azimuth", fmt.Sprintf("%.2f° %s", l.AzimuthDeg, compass(l.AzimuthDeg))},
		{"range", fmt.Sprintf("%.1f km", l.RangeKm)},
		{"subpoint", fmt.Sprintf("%.4f, %.4f", l.SubLatDeg, l.SubLonDeg)},
		{"altitude", fmt.Sprintf("%.1f km", l.AltitudeKm)},
		{"element age", fmt.Sprintf("%.1f h", l.ElementAgeH)},
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("NORAD %d", l.NORADID)))
	for _, r := range rows {
		fmt.Fprintf(&b, "\n%-12s %s", r[0], r[1])
	}
	return b.String()
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%dm%02ds", int(d/time.Minute), int(d%time.Minute/time.Second))
}

var points = [...]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// compass names the eight-point direction nearest az.
func compass(az float64) string {
	i := int((az+22.5)/45) % len(points)
	if i < 0 {
		i += len(points)
	}
	return points[i]
}
