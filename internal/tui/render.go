package tui

import (
	"fmt"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"github.com/charmbracelet/lipgloss"

	"github.com/sprite-ai/refgate/internal/diff"
	"github.com/sprite-ai/refgate/internal/gate"
	"github.com/sprite-ai/refgate/internal/mail"
)

type lineKind int

const (
	lineDiff lineKind = iota
	lineHunk
	lineSection // check name, file name, mail subject
	lineDeny    // message of a denying check
	lineNote    // message of a permitting check
	lineMeta    // ids, recipients, errors
)

// renderedLine is a single line of the detail pane ready for display.
type renderedLine struct {
	Kind    lineKind
	OldNum  int // 0 means not applicable (add-only)
	NewNum  int // 0 means not applicable (delete-only)
	Op      gitdiff.LineOp
	Content string // raw text content (no trailing newline)

	// Syntax highlighting tokens (nil = no highlighting)
	Tokens []diff.Token
}

func textLines(kind lineKind, text string) []renderedLine {
	var lines []renderedLine
	for _, l := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		lines = append(lines, renderedLine{Kind: kind, Content: l})
	}
	return lines
}

// renderResult lists the messages of every check that produced some,
// grouped by check.
func renderResult(res gate.Result) []renderedLine {
	var lines []renderedLine
	for _, c := range res.Checks {
		if len(c.Verdict.Messages) == 0 {
			continue
		}
		verdict := "permit"
		kind := lineNote
		if !c.Verdict.Permit {
			verdict = "deny"
			kind = lineDeny
		}
		if len(lines) > 0 {
			lines = append(lines, renderedLine{Kind: lineMeta})
		}
		lines = append(lines, renderedLine{Kind: lineSection, Content: fmt.Sprintf("%s (%s)", c.Name, verdict)})
		for _, m := range c.Verdict.Messages {
			lines = append(lines, renderedLine{Kind: lineMeta, Content: "@ " + m.At})
			lines = append(lines, textLines(kind, m.Text)...)
		}
	}
	if len(lines) == 0 {
		lines = append(lines, renderedLine{Kind: lineMeta, Content: "No messages."})
	}
	return lines
}

// renderPatch renders every file of a commit patch.
func renderPatch(commitID, raw string) []renderedLine {
	lines := []renderedLine{{Kind: lineSection, Content: "commit " + commitID}}
	ds, err := diff.Parse(raw)
	if err != nil {
		return append(lines, renderedLine{Kind: lineMeta, Content: "cannot parse patch: " + err.Error()})
	}
	if len(ds.Files) == 0 {
		return append(lines, renderedLine{Kind: lineMeta, Content: "No changes."})
	}
	for _, f := range ds.Files {
		lines = append(lines, renderedLine{Kind: lineSection, Content: fmt.Sprintf("%s  +%d -%d", f.Name(), f.AddedLines, f.DeletedLines)})
		if f.IsBinary {
			lines = append(lines, renderedLine{Kind: lineMeta, Content: "Binary file"})
			continue
		}
		lines = append(lines, renderFile(f)...)
	}
	return lines
}

// renderFile produces renderedLines for a file's diff fragments.
func renderFile(f *diff.File) []renderedLine {
	var lines []renderedLine

	// Collect all content lines for syntax highlighting
	var contentLines []string
	for _, frag := range f.Fragments {
		for _, line := range frag.Lines {
			contentLines = append(contentLines, strings.TrimRight(line.Line, "\n\r"))
		}
	}

	highlighted := diff.HighlightLines(f.Name(), contentLines)
	hlIdx := 0

	for i, frag := range f.Fragments {
		lines = append(lines, renderedLine{Kind: lineHunk, Content: diff.HunkHeader(frag)})

		oldLine := int(frag.OldPosition)
		newLine := int(frag.NewPosition)

		for _, line := range frag.Lines {
			rl := renderedLine{
				Op:      line.Op,
				Content: strings.TrimRight(line.Line, "\n\r"),
			}
			if hlIdx < len(highlighted) {
				rl.Tokens = highlighted[hlIdx].Tokens
				hlIdx++
			}

			switch line.Op {
			case gitdiff.OpContext:
				rl.OldNum = oldLine
				rl.NewNum = newLine
				oldLine++
				newLine++
			case gitdiff.OpDelete:
				rl.OldNum = oldLine
				oldLine++
			case gitdiff.OpAdd:
				rl.NewNum = newLine
				newLine++
			}
			lines = append(lines, rl)
		}

		if i < len(f.Fragments)-1 {
			lines = append(lines, renderedLine{Kind: lineMeta})
		}
	}
	return lines
}

// renderMail shows the notification batches a dry run captured.
func renderMail(batches []mail.Batch) []renderedLine {
	if len(batches) == 0 {
		return []renderedLine{{Kind: lineMeta, Content: "No mail."}}
	}
	var lines []renderedLine
	for i, b := range batches {
		if i > 0 {
			lines = append(lines, renderedLine{Kind: lineMeta})
		}
		lines = append(lines, renderedLine{Kind: lineSection, Content: b.Subject})
		lines = append(lines, renderedLine{Kind: lineMeta, Content: "From: " + b.From})
		for _, to := range b.Recipients() {
			lines = append(lines, renderedLine{Kind: lineMeta, Content: "To: " + to})
			lines = append(lines, textLines(lineNote, b.Bodies[to])...)
		}
	}
	return lines
}

// commitsOf lists the distinct objects the messages of res point at, in
// message order.
func commitsOf(res gate.Result) []string {
	seen := map[string]bool{}
	var ids []string
	for _, m := range res.Verdict.Messages {
		if m.At == "" || seen[m.At] {
			continue
		}
		seen[m.At] = true
		ids = append(ids, m.At)
	}
	return ids
}

// renderHighlightedContent renders line content with syntax tokens.
func renderHighlightedContent(rl renderedLine, prefix string) string {
	if len(rl.Tokens) == 0 {
		return prefix + rl.Content
	}

	var b strings.Builder
	b.WriteString(prefix)
	for _, tok := range rl.Tokens {
		if tok.Color != "" {
			b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(tok.Color)).Render(tok.Text))
		} else {
			b.WriteString(tok.Text)
		}
	}
	return b.String()
}

// styleLine applies styling to a rendered line for unified view.
func styleLine(rl renderedLine, width int) string {
	switch rl.Kind {
	case lineHunk:
		return hunkHeaderStyle.Width(width).Render(rl.Content)
	case lineSection:
		return sectionStyle.Render(truncate(rl.Content, width))
	case lineDeny:
		return denyTextStyle.Render(truncate(expandTabs(rl.Content), width))
	case lineNote:
		return noteTextStyle.Render(truncate(expandTabs(rl.Content), width))
	case lineMeta:
		return metaTextStyle.Render(truncate(rl.Content, width))
	}

	var oldNum, newNum string
	if rl.OldNum > 0 {
		oldNum = fmt.Sprintf("%4d", rl.OldNum)
	} else {
		oldNum = "    "
	}
	if rl.NewNum > 0 {
		newNum = fmt.Sprintf("%4d", rl.NewNum)
	} else {
		newNum = "    "
	}
	lineNums := lineNumberStyle.Render(oldNum) + " " + lineNumberStyle.Render(newNum)

	var prefix string
	var style func(string) string
	switch rl.Op {
	case gitdiff.OpAdd:
		prefix = "+"
		style = func(s string) string { return addedLineStyle.Render(s) }
	case gitdiff.OpDelete:
		prefix = "-"
		style = func(s string) string { return deletedLineStyle.Render(s) }
	default:
		prefix = " "
	}

	var content string
	if style == nil {
		content = renderHighlightedContent(rl, prefix)
	} else {
		content = style(prefix + rl.Content)
	}

	maxContent := width - 12
	if maxContent > 0 && lipgloss.Width(content) > maxContent {
		content = truncate(prefix+rl.Content, maxContent)
		if style != nil {
			content = style(content)
		}
	}
	return lineNums + " " + content
}

// styleLineSplit renders a line for split (side-by-side) view. Only diff
// lines are split; everything else spans the left half.
func styleLineSplit(rl renderedLine, halfWidth int) (left, right string) {
	if rl.Kind != lineDiff {
		return styleLine(rl, halfWidth*2), ""
	}

	maxContent := halfWidth - 7
	switch rl.Op {
	case gitdiff.OpDelete:
		num := fmt.Sprintf("%4d", rl.OldNum)
		left = lineNumberStyle.Render(num) + " " + deletedLineStyle.Render("-"+truncate(rl.Content, maxContent))
		right = strings.Repeat(" ", halfWidth)
	case gitdiff.OpAdd:
		left = strings.Repeat(" ", halfWidth)
		num := fmt.Sprintf("%4d", rl.NewNum)
		right = lineNumberStyle.Render(num) + " " + addedLineStyle.Render("+"+truncate(rl.Content, maxContent))
	default:
		oldNum, newNum := "    ", "    "
		if rl.OldNum > 0 {
			oldNum = fmt.Sprintf("%4d", rl.OldNum)
		}
		if rl.NewNum > 0 {
			newNum = fmt.Sprintf("%4d", rl.NewNum)
		}
		content := truncate(rl.Content, maxContent)
		left = lineNumberStyle.Render(oldNum) + " " + contextLineStyle.Render(" "+content)
		right = lineNumberStyle.Render(newNum) + " " + contextLineStyle.Render(" "+content)
	}
	return left, right
}

func expandTabs(s string) string {
	return strings.ReplaceAll(s, "\t", "    ")
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return s
}

