package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
)

func writeTable(w io.Writer, results []result, markdown bool) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Backend", "Size", "Iterations", "Avg", "Min", "P95", "Max", "MP/s"})
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	if markdown {
		table.SetBorders(tablewriter.Border{Left: true, Right: true})
		table.SetCenterSeparator("|")
	} else {
		table.SetBorder(false)
		table.SetHeaderLine(false)
		table.SetColumnSeparator("")
		table.SetTablePadding("  ")
		table.SetNoWhiteSpace(true)
	}

	for _, r := range results {
		table.Append([]string{
			string(r.Backend),
			sizeString(r.Size),
			strconv.Itoa(r.Iterations),
			formatDuration(r.Avg),
			formatDuration(r.Min),
			formatDuration(r.P95),
			formatDuration(r.Max),
			strconv.FormatFloat(r.Throughput, 'f', 2, 64),
		})
	}
	table.Render()
}

func writeCSV(w io.Writer, results []result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"backend", "width", "height", "iterations", "avg_ms", "min_ms", "p95_ms", "max_ms", "megapixels_per_second"}); err != nil {
		return err
	}

	for _, r := range results {
		row := []string{
			string(r.Backend),
			strconv.Itoa(r.Size.X),
			strconv.Itoa(r.Size.Y),
			strconv.Itoa(r.Iterations),
			millis(r.Avg),
			millis(r.Min),
			millis(r.P95),
			millis(r.Max),
			strconv.FormatFloat(r.Throughput, 'f', 3, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func millis(d time.Duration) string {
	return strconv.FormatFloat(float64(d.Microseconds())/1000, 'f', 3, 64)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%.2fus", float64(d.Nanoseconds())/1000)
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000)
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}
