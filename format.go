package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// formatExpiry renders a token expiry relative to now, e.g.
// "2026-10-19 15:04 UTC (in 45m0s)".
func formatExpiry(t, now time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	stamp := t.UTC().Format("2006-01-02 15:04 MST")
	left := t.Sub(now).Round(time.Second)

	if left <= 0 {
		return fmt.Sprintf("%s (expired %s ago)", stamp, -left)
	}

	return fmt.Sprintf("%s (in %s)", stamp, left)
}

// printFields writes "key: value" lines with values aligned. Empty values
// are skipped.
func printFields(w io.Writer, fields [][2]string) {
	width := 0
	for _, f := range fields {
		if f[1] != "" && len(f[0]) > width {
			width = len(f[0])
		}
	}

	for _, f := range fields {
		if f[1] == "" {
			continue
		}

		fmt.Fprintf(w, "%-*s %s\n", width+1, f[0]+":", f[1])
	}
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}
