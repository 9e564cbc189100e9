package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/Brownie44l1/xray-api/internal/analysis"
)

func printReport(w io.Writer, r *analysis.Report) {
	bold := color.New(color.Bold)
	dim := color.New(color.FgHiBlack)

	labelColor := color.New(color.FgGreen, color.Bold)
	if r.Diagnosis.Positive {
		labelColor = color.New(color.FgRed, color.Bold)
	}

	_, _ = bold.Fprintf(w, "%s", r.Filename)
	_, _ = dim.Fprintf(w, "  (%s %dx%d, %s)\n", r.Format, r.Width, r.Height, r.Duration.Round(time.Millisecond))
	fmt.Fprint(w, "  Diagnosis:  ")
	_, _ = labelColor.Fprintln(w, r.Diagnosis.Label)
	printConfidenceBar(w, r.Diagnosis.Confidence)
	fmt.Fprintf(w, "  %s\n", r.Diagnosis.Advice())
}

func printFailure(w io.Writer, path string, err error) {
	red := color.New(color.FgRed)
	_, _ = red.Fprintf(w, "%s: %v\n", path, err)
}

// printConfidenceBar draws confidence (50..100 in practice) on a fixed-width bar.
func printConfidenceBar(w io.Writer, confidence float64) {
	const barWidth = 24
	filled := int(confidence) * barWidth / 100
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}

	var barColor *color.Color
	switch {
	case confidence >= 80:
		barColor = color.New(color.FgGreen)
	case confidence >= 65:
		barColor = color.New(color.FgYellow)
	default:
		barColor = color.New(color.FgRed)
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	fmt.Fprintf(w, "  Confidence: %.2f%% ", confidence)
	_, _ = barColor.Fprintln(w, bar)
}

func printHistory(w io.Writer, reports []analysis.Report) {
	if len(reports) == 0 {
		fmt.Fprintln(w, "No analyses recorded.")
		return
	}

	dim := color.New(color.FgHiBlack)
	for _, r := range reports {
		labelColor := color.New(color.FgGreen)
		if r.Diagnosis.Positive {
			labelColor = color.New(color.FgRed)
		}
		_, _ = dim.Fprintf(w, "%s  %s  ", r.CreatedAt.Format("2006-01-02 15:04:05"), r.ID)
		_, _ = labelColor.Fprintf(w, "%-18s", r.Diagnosis.Label)
		fmt.Fprintf(w, " %7s  %s\n", r.Diagnosis.Percent(), r.Filename)
	}
}

func printStats(w io.Writer, s analysis.Stats) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintln(w, "Analysis history")
	fmt.Fprintf(w, "  Cases analyzed:     %d\n", s.Total)
	fmt.Fprintf(w, "  Pneumonia detected: %d\n", s.Pneumonia)
	fmt.Fprintf(w, "  Normal:             %d\n", s.Normal)
	fmt.Fprintf(w, "  Average time:       %.2fs\n", s.AverageSeconds())
	if s.LastAnalyzedAt != nil {
		fmt.Fprintf(w, "  Last analysis:      %s\n", s.LastAnalyzedAt.Format("2006-01-02 15:04:05 UTC"))
	}
	if s.ModelAccuracy > 0 {
		fmt.Fprintf(w, "  Model accuracy:     %.2f%%\n", s.ModelAccuracy)
	}
}
