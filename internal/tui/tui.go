// Package tui implements the Bubble Tea browser for dry-run transcripts.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sprite-ai/refgate/internal/gate"
	"github.com/sprite-ai/refgate/internal/mail"
	"github.com/sprite-ai/refgate/internal/model"
)

// PatchSource returns the patch a commit introduces.
type PatchSource func(commitID string) (string, error)

type viewMode int

const (
	modeMessages viewMode = iota
	modePatch
	modeMail
)

func (v viewMode) String() string {
	switch v {
	case modePatch:
		return "patches"
	case modeMail:
		return "mail"
	}
	return "messages"
}

type patch struct {
	raw string
	err error
}

// patchMsg carries a loaded patch back into Update.
type patchMsg struct {
	id string
	patch
}

// Model is the top-level Bubble Tea model for refgate review.
type Model struct {
	results []gate.Result
	mail    []mail.Batch
	patches PatchSource

	// UI state
	width  int
	height int

	// Update list
	index int // currently selected update

	// Detail viewport
	mode         viewMode
	scrollOffset int // scroll position within the detail pane
	viewHeight   int // number of visible lines in the detail area

	// Rendered lines for the current update and mode
	lines []renderedLine

	patchCache map[string]patch

	splitView bool
	showHelp  bool
}

// New creates a model over the results of a dry run. batches are the
// mails the run would have sent; patches may be nil.
func New(results []gate.Result, batches []mail.Batch, patches PatchSource) Model {
	m := Model{
		results:    results,
		mail:       batches,
		patches:    patches,
		patchCache: map[string]patch{},
	}
	m.updateLines()
	return m
}

func (m *Model) current() (gate.Result, bool) {
	if len(m.results) == 0 {
		return gate.Result{}, false
	}
	return m.results[m.index], true
}

func (m *Model) updateLines() {
	res, ok := m.current()
	if !ok {
		m.lines = nil
		return
	}
	switch m.mode {
	case modeMail:
		m.lines = renderMail(m.mail)
	case modePatch:
		m.lines = m.patchLines(res)
	default:
		m.lines = renderResult(res)
	}
}

func (m *Model) patchLines(res gate.Result) []renderedLine {
	if m.patches == nil {
		return []renderedLine{{Kind: lineMeta, Content: "Patches unavailable."}}
	}
	ids := commitsOf(res)
	if len(ids) == 0 {
		return []renderedLine{{Kind: lineMeta, Content: "No commits referenced."}}
	}
	var lines []renderedLine
	for i, id := range ids {
		if i > 0 {
			lines = append(lines, renderedLine{Kind: lineMeta})
		}
		p, ok := m.patchCache[id]
		switch {
		case !ok:
			lines = append(lines, renderedLine{Kind: lineMeta, Content: "Loading " + id + "..."})
		case p.err != nil:
			lines = append(lines, renderedLine{Kind: lineSection, Content: "commit " + id})
			lines = append(lines, renderedLine{Kind: lineMeta, Content: p.err.Error()})
		default:
			lines = append(lines, renderPatch(id, p.raw)...)
		}
	}
	return lines
}

// loadPatches returns a command fetching every patch of the current
// update that is not cached yet.
func (m Model) loadPatches() tea.Cmd {
	res, ok := m.current()
	if !ok || m.patches == nil {
		return nil
	}
	var cmds []tea.Cmd
	for _, id := range commitsOf(res) {
		if _, ok := m.patchCache[id]; ok || model.IsNull(id) {
			continue
		}
		cmds = append(cmds, func() tea.Msg {
			raw, err := m.patches(id)
			return patchMsg{id: id, patch: patch{raw: raw, err: err}}
		})
	}
	return tea.Batch(cmds...)
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewHeight = m.height - 4 // status bar + borders
		return m, nil

	case patchMsg:
		m.patchCache[msg.id] = msg.patch
		if m.mode == modePatch {
			m.updateLines()
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, keys.Down):
			if m.scrollOffset < len(m.lines)-1 {
				m.scrollOffset++
			}

		case key.Matches(msg, keys.Up):
			if m.scrollOffset > 0 {
				m.scrollOffset--
			}

		case key.Matches(msg, keys.NextRef):
			if m.index < len(m.results)-1 {
				m.index++
				return m.refresh()
			}

		case key.Matches(msg, keys.PrevRef):
			if m.index > 0 {
				m.index--
				return m.refresh()
			}

		case key.Matches(msg, keys.NextHunk):
			m.jumpToNextHunk()

		case key.Matches(msg, keys.PrevHunk):
			m.jumpToPrevHunk()

		case key.Matches(msg, keys.Patch):
			m.mode = toggleMode(m.mode, modePatch)
			return m.refresh()

		case key.Matches(msg, keys.Mail):
			m.mode = toggleMode(m.mode, modeMail)
			return m.refresh()

		case key.Matches(msg, keys.Toggle):
			m.splitView = !m.splitView

		case key.Matches(msg, keys.Help):
			m.showHelp = !m.showHelp
		}
	}

	return m, nil
}

func toggleMode(cur, target viewMode) viewMode {
	if cur == target {
		return modeMessages
	}
	return target
}

func (m Model) refresh() (tea.Model, tea.Cmd) {
	m.scrollOffset = 0
	m.updateLines()
	if m.mode == modePatch {
		return m, m.loadPatches()
	}
	return m, nil
}

// jumpToNextHunk moves to the next hunk header, or to the next section
// outside the patch view.
func (m *Model) jumpToNextHunk() {
	for i := m.scrollOffset + 1; i < len(m.lines); i++ {
		if m.isAnchor(m.lines[i]) {
			m.scrollOffset = i
			return
		}
	}
}

func (m *Model) jumpToPrevHunk() {
	for i := m.scrollOffset - 1; i >= 0; i-- {
		if m.isAnchor(m.lines[i]) {
			m.scrollOffset = i
			return
		}
	}
}

func (m *Model) isAnchor(rl renderedLine) bool {
	if m.mode == modePatch {
		return rl.Kind == lineHunk
	}
	return rl.Kind == lineSection
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	if m.showHelp {
		return m.renderHelp()
	}

	// Layout: update list on left, detail on right
	listWidth := m.refListWidth()
	detailWidth := m.width - listWidth - 1 // -1 for gap

	refList := m.renderRefList(listWidth, m.height-2)
	detail := m.renderDetail(detailWidth, m.height-2)

	main := lipgloss.JoinHorizontal(lipgloss.Top, refList, " ", detail)

	return lipgloss.JoinVertical(lipgloss.Left, main, m.renderStatusBar())
}

func (m Model) refListWidth() int {
	maxLen := 20
	for _, r := range m.results {
		if n := len(r.Update.Ref); n > maxLen {
			maxLen = n
		}
	}
	w := maxLen + 6 // padding + marker
	if w > m.width/3 {
		w = m.width / 3
	}
	if w < 20 {
		w = 20
	}
	return w
}

func (m Model) renderRefList(width, height int) string {
	var b strings.Builder

	for i, r := range m.results {
		name := r.Update.Ref

		maxName := width - 6
		if maxName > 0 && len(name) > maxName {
			name = "…" + name[len(name)-maxName+1:]
		}

		marker, style := "✓", refPermitStyle
		if !r.Verdict.Permit {
			marker, style = "✗", refDenyStyle
		}
		if i == m.index {
			style = refItemSelectedStyle
		}

		b.WriteString(style.Width(width - 4).Render(marker + " " + name))
		if i < len(m.results)-1 {
			b.WriteByte('\n')
		}
	}

	return refListStyle.Width(width).Height(height - 2).Render(b.String())
}

func (m Model) renderDetail(width, height int) string {
	res, ok := m.current()
	if !ok {
		return detailViewStyle.Width(width).Height(height - 2).Render("No updates")
	}

	innerWidth := width - 4 // borders + padding
	innerHeight := height - 2

	upd := res.Update
	header := fileHeaderStyle.Render(fmt.Sprintf("%s  %s..%s", upd.Ref, short(upd.OldID), short(upd.NewID)))

	visibleLines := innerHeight - 2
	if visibleLines < 1 {
		visibleLines = 1
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteByte('\n')

	end := m.scrollOffset + visibleLines
	if end > len(m.lines) {
		end = len(m.lines)
	}
	halfWidth := (innerWidth - 3) / 2 // -3 for separator
	for i := m.scrollOffset; i < end; i++ {
		if m.splitView && m.mode == modePatch {
			left, right := styleLineSplit(m.lines[i], halfWidth)
			b.WriteString(left)
			if right != "" {
				b.WriteString(" │ ")
				b.WriteString(right)
			}
		} else {
			b.WriteString(styleLine(m.lines[i], innerWidth))
		}
		if i < end-1 {
			b.WriteByte('\n')
		}
	}

	return detailViewStyle.Width(width).Height(innerHeight).Render(b.String())
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (m Model) renderStatusBar() string {
	denied := 0
	for _, r := range m.results {
		if !r.Verdict.Permit {
			denied++
		}
	}

	left := fmt.Sprintf(" Update %d/%d", m.index+1, len(m.results))
	if len(m.results) == 0 {
		left = " No updates"
	}
	if len(m.lines) > 0 {
		left += fmt.Sprintf("  Line %d/%d", m.scrollOffset+1, len(m.lines))
	}

	outcome := statusPermitStyle.Render("all permitted")
	if denied > 0 {
		outcome = statusDenyStyle.Render(fmt.Sprintf("%d denied", denied))
	}

	layout := "unified"
	if m.splitView {
		layout = "split"
	}
	right := fmt.Sprintf("  %s  %s  ? help ", m.mode, layout)

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(outcome) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}

	return statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + outcome + right)
}

func (m Model) renderHelp() string {
	var b strings.Builder

	b.WriteString(fileHeaderStyle.Render("refgate review: keyboard shortcuts"))
	b.WriteString("\n\n")

	bindings := []key.Binding{
		keys.Up, keys.Down, keys.NextRef, keys.PrevRef, keys.NextHunk,
		keys.PrevHunk, keys.Patch, keys.Mail, keys.Toggle, keys.Help, keys.Quit,
	}
	for _, k := range bindings {
		h := k.Help()
		b.WriteString(fmt.Sprintf("  %s  %s\n",
			helpKeyStyle.Width(12).Render(h.Key),
			h.Desc,
		))
	}

	b.WriteString("\n")
	b.WriteString(helpBarStyle.Render("Press ? to close help"))

	return b.String()
}

// Run starts the TUI application.
func Run(results []gate.Result, batches []mail.Batch, patches PatchSource) error {
	m := New(results, batches, patches)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
