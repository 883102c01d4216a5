// Package report renders collected sections as JSON or text.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/marcusrbrown/ocdiag/internal/diag"
	"github.com/marcusrbrown/ocdiag/internal/options"
	"github.com/marcusrbrown/ocdiag/internal/redact"
	"github.com/marcusrbrown/ocdiag/internal/summary"
)

// Style controls text rendering.
type Style struct {
	// Bold renders headers in bold instead of underlining them.
	Bold bool
	// Full disables truncation.
	Full  bool
	Limit int
}

// StyleFor derives the text style from the run options. Headers are bold
// only when styling is on and stdout is an interactive terminal.
func StyleFor(opts options.Options, stdoutTTY bool) Style {
	return Style{
		Bold:  opts.TUI && stdoutTTY,
		Full:  opts.Full,
		Limit: opts.Limit,
	}
}

// Render writes results in the format opts selects.
func Render(w io.Writer, results []diag.Result, opts options.Options, stdoutTTY bool) error {
	if opts.Format == options.FormatJSON {
		return JSON(w, results)
	}

	return Text(w, results, StyleFor(opts, stdoutTTY))
}

// JSON writes results as an indented array of {label, data|error}.
// Data is redacted but never truncated.
func JSON(w io.Writer, results []diag.Result) error {
	out := make([]diag.Result, len(results))
	for i, r := range results {
		out[i] = r
		if !r.Failed() {
			out[i].Data = redact.Value(r.Data)
		}
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	return nil
}

// Text writes each section as a header followed by its error or value.
// Values are truncated (unless style.Full) and then redacted.
func Text(w io.Writer, results []diag.Result, style Style) error {
	var b strings.Builder

	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}

		b.WriteString(header(r.Label, style.Bold))

		if r.Failed() {
			b.WriteString(errorLabel(style.Bold) + " " + r.Err + "\n")
			continue
		}

		v := r.Data
		if !style.Full {
			v = summary.Value(v, style.Limit)
		}

		body, err := formatValue(redact.Value(v))
		if err != nil {
			return fmt.Errorf("render %s: %w", r.Label, err)
		}

		b.WriteString(body)
	}

	_, err := io.WriteString(w, b.String())

	return err
}

var (
	boldStyle  = lipgloss.NewStyle().Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

func errorLabel(styled bool) string {
	if styled {
		return errorStyle.Render("Error:")
	}

	return "Error:"
}

func header(label string, bold bool) string {
	if bold {
		return boldStyle.Render(label) + "\n"
	}

	return label + "\n" + strings.Repeat("-", runewidth.StringWidth(label)) + "\n"
}

func formatValue(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s + "\n", nil
	}

	return toYAML(v)
}
