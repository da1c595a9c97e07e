package cli

import (
	"bufio"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

const tablePadding = 2

// writeTable writes rows under headers with columns aligned by display
// width. ANSI color sequences do not count toward the width.
func writeTable(out io.Writer, headers []string, rows [][]string) error {
	colCount := len(headers)
	for _, row := range rows {
		colCount = max(colCount, len(row))
	}
	if colCount == 0 {
		return nil
	}

	widths := make([]int, colCount)
	measure := func(row []string) {
		for idx, cell := range row {
			widths[idx] = max(widths[idx], runewidth.StringWidth(stripANSI(cell)))
		}
	}
	measure(headers)
	for _, row := range rows {
		measure(row)
	}

	writer := bufio.NewWriter(out)
	writeRow := func(row []string) {
		for idx := 0; idx < colCount; idx++ {
			cell := ""
			if idx < len(row) {
				cell = row[idx]
			}
			writer.WriteString(cell)
			if idx < colCount-1 {
				padding := max(widths[idx]-runewidth.StringWidth(stripANSI(cell)), 0)
				writer.WriteString(strings.Repeat(" ", padding+tablePadding))
			}
		}
		writer.WriteString("\n")
	}

	if len(headers) > 0 {
		writeRow(headers)
	}
	for _, row := range rows {
		writeRow(row)
	}
	// bufio.Writer keeps the first error and reports it on Flush.
	return writer.Flush()
}

// formatTime renders t for tables, or "-" when unset.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

// ansiSequence matches CSI escape sequences such as color codes.
var ansiSequence = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

func stripANSI(value string) string {
	if !strings.Contains(value, "\x1b[") {
		return value
	}
	return ansiSequence.ReplaceAllString(value, "")
}
