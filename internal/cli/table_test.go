package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTableAlignsColumns(t *testing.T) {
	var out bytes.Buffer
	err := writeTable(&out, []string{"KEY", "STATUS"}, [][]string{
		{"EURUSD/h1/candlestick", "ok"},
		{"\x1b[31mGBP\x1b[0m", "exhausted"},
	})
	require.NoError(t, err)

	pad := strings.Repeat(" ", 20)
	assert.Equal(t,
		"KEY"+pad+"STATUS\n"+
			"EURUSD/h1/candlestick  ok\n"+
			"\x1b[31mGBP\x1b[0m"+pad+"exhausted\n",
		out.String())
}

func TestWriteTablePadsShortRows(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeTable(&out, []string{"A", "B", "C"}, [][]string{{"x"}}))
	assert.Equal(t, "A  B  C\nx     \n", out.String())
}

func TestWriteTableEmpty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeTable(&out, nil, nil))
	assert.Empty(t, out.String())
}

func TestStripANSI(t *testing.T) {
	assert.Equal(t, "plain", stripANSI("plain"))
	assert.Equal(t, "red", stripANSI("\x1b[31mred\x1b[0m"))
	assert.Equal(t, "a\x1bb", stripANSI("a\x1bb"))
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", formatTime(time.Time{}))
	assert.Equal(t, "2024-06-01 13:00", formatTime(time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC)))
}

func TestColorizeSkipsNonTerminal(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, "x", colorize(&out, exhaustedStyle, "x"))
}
