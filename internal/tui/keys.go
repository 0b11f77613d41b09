package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	NextRef  key.Binding
	PrevRef  key.Binding
	NextHunk key.Binding
	PrevHunk key.Binding
	Patch    key.Binding
	Mail     key.Binding
	Toggle   key.Binding
	Help     key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	NextRef: key.NewBinding(
		key.WithKeys("n", "tab"),
		key.WithHelp("n/tab", "next update"),
	),
	PrevRef: key.NewBinding(
		key.WithKeys("N", "shift+tab"),
		key.WithHelp("N/S-tab", "prev update"),
	),
	NextHunk: key.NewBinding(
		key.WithKeys("]"),
		key.WithHelp("]", "next hunk"),
	),
	PrevHunk: key.NewBinding(
		key.WithKeys("["),
		key.WithHelp("[", "prev hunk"),
	),
	Patch: key.NewBinding(
		key.WithKeys("p"),
		key.WithHelp("p", "messages/patches"),
	),
	Mail: key.NewBinding(
		key.WithKeys("m"),
		key.WithHelp("m", "messages/mail"),
	),
	Toggle: key.NewBinding(
		key.WithKeys("v"),
		key.WithHelp("v", "unified/split"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}
