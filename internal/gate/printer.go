package gate

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Printer writes the transcript of evaluated updates.
type Printer interface {
	Print(res Result) error
}

// PlainPrinter writes one "[<ref> @ <at>]: <text>" line per message.
type PlainPrinter struct {
	W io.Writer
}

// Print implements Printer.
func (p PlainPrinter) Print(res Result) error {
	for _, e := range res.Entries() {
		if _, err := fmt.Fprintln(p.W, e.String()); err != nil {
			return err
		}
	}
	return nil
}

// StyledPrinter writes the same lines as PlainPrinter, colored when W is
// a terminal. git hands hook output to the pushing client through a pipe,
// so server-side runs stay plain.
type StyledPrinter struct {
	w       io.Writer
	bracket lipgloss.Style
	ref     lipgloss.Style
	at      lipgloss.Style
	deny    lipgloss.Style
	permit  lipgloss.Style
}

// NewStyledPrinter returns a printer whose color profile follows w.
func NewStyledPrinter(w io.Writer) *StyledPrinter {
	r := lipgloss.NewRenderer(w)
	return &StyledPrinter{
		w:       w,
		bracket: r.NewStyle().Foreground(lipgloss.Color("#6272a4")),
		ref:     r.NewStyle().Foreground(lipgloss.Color("#8be9fd")).Bold(true),
		at:      r.NewStyle().Foreground(lipgloss.Color("#bd93f9")),
		deny:    r.NewStyle().Foreground(lipgloss.Color("#ff5555")).TabWidth(lipgloss.NoTabConversion),
		permit:  r.NewStyle().Foreground(lipgloss.Color("#f8f8f2")).TabWidth(lipgloss.NoTabConversion),
	}
}

// Print implements Printer.
func (p *StyledPrinter) Print(res Result) error {
	text := p.permit
	if !res.Verdict.Permit {
		text = p.deny
	}
	for _, e := range res.Entries() {
		var b strings.Builder
		b.WriteString(p.bracket.Render("["))
		b.WriteString(p.ref.Render(e.Ref))
		b.WriteString(p.bracket.Render(" @ "))
		b.WriteString(p.at.Render(e.Message.At))
		b.WriteString(p.bracket.Render("]: "))
		// Styles pad multi-line blocks to a common width, so lines are
		// rendered one at a time.
		for i, l := range strings.Split(e.Message.Text, "\n") {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(text.Render(l))
		}
		if _, err := fmt.Fprintln(p.w, b.String()); err != nil {
			return err
		}
	}
	return nil
}
