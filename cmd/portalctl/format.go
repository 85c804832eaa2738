package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	ansiReset  = "\x1b[0m"
	ansiGreen  = "\x1b[32m"
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
)

func RenderTable(out io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && visibleLen(cell) > widths[i] {
				widths[i] = visibleLen(cell)
			}
		}
	}

	writeRow(out, headers, widths)
	parts := make([]string, len(widths))
	for i, w := range widths {
		parts[i] = strings.Repeat("-", w)
	}
	fmt.Fprintln(out, strings.Join(parts, "  "))
	for _, row := range rows {
		writeRow(out, row, widths)
	}
}

func writeRow(out io.Writer, cols []string, widths []int) {
	cells := make([]string, len(widths))
	for i, w := range widths {
		val := ""
		if i < len(cols) {
			val = cols[i]
		}
		if i < len(widths)-1 {
			val += strings.Repeat(" ", max(0, w-visibleLen(val)))
		}
		cells[i] = val
	}
	fmt.Fprintln(out, strings.Join(cells, "  "))
}

// visibleLen counts bytes outside ANSI escape sequences.
func visibleLen(s string) int {
	inEscape := false
	count := 0
	for i := 0; i < len(s); i++ {
		switch {
		case inEscape:
			inEscape = s[i] != 'm'
		case s[i] == 27:
			inEscape = true
		default:
			count++
		}
	}
	return count
}

func ColorState(state string) string {
	switch strings.ToLower(state) {
	case "active":
		return ansiGreen + state + ansiReset
	case "expired":
		return ansiRed + state + ansiReset
	case "authenticating":
		return ansiYellow + state + ansiReset
	default:
		return state
	}
}

func PrintJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func FormatTimeOrDash(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func YesNo(v bool) string {
	if v {
		return ansiGreen + "yes" + ansiReset
	}
	return ansiRed + "no" + ansiReset
}
