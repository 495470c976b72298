package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
)

// Output formats command results as tables or JSON.
type Output struct {
	jsonMode bool
	w        io.Writer // data
	errW     io.Writer // messages
}

// NewOutput creates an Output writing data to stdout and messages to stderr.
func NewOutput(jsonMode bool) *Output {
	return &Output{
		jsonMode: jsonMode,
		w:        os.Stdout,
		errW:     os.Stderr,
	}
}

// Print writes rows as a table, or jsonData in JSON mode.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.jsonMode {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows)
}

// Table writes an aligned table with a dashed header rule.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, headerStyle.Render(strings.Join(headers, "\t")))
	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

// JSON writes v as indented JSON.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// Text writes s followed by a newline, unless in JSON mode.
func (o *Output) Text(s string) {
	if o.jsonMode {
		return
	}
	fmt.Fprintln(o.w, s)
}

// Raw writes data unchanged.
func (o *Output) Raw(data []byte) {
	o.w.Write(data)
}

func (o *Output) Success(msg string) {
	fmt.Fprintln(o.errW, successStyle.Render(msg))
}

func (o *Output) Warn(msg string) {
	fmt.Fprintln(o.errW, warnStyle.Render("Warning: "+msg))
}

func (o *Output) Error(msg string) {
	fmt.Fprintln(o.errW, errorStyle.Render("Error: "+msg))
}
