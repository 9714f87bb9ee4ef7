package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	Open     key.Binding
	Back     key.Binding
	Quit     key.Binding
	Add      key.Binding
	New      key.Binding
	Rename   key.Binding
	Delete   key.Binding
	Refresh  key.Binding
	Children key.Binding
	Confirm  key.Binding
	Cancel   key.Binding

	// chat
	Send         key.Binding
	Focus        key.Binding
	Accept       key.Binding
	AcceptAlways key.Binding
	Reject       key.Binding
	Expand       key.Binding
	Yank         key.Binding
}

var keys = keyMap{
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Open:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
	Back:     key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Add:      key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add")),
	New:      key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "new")),
	Rename:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "rename")),
	Delete:   key.NewBinding(key.WithKeys("d", "delete"), key.WithHelp("d", "delete")),
	Refresh:  key.NewBinding(key.WithKeys("r", "ctrl+r"), key.WithHelp("r", "refresh")),
	Children: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "child sessions")),
	Confirm:  key.NewBinding(key.WithKeys("y", "Y"), key.WithHelp("y", "confirm")),
	Cancel:   key.NewBinding(key.WithKeys("n", "N", "esc"), key.WithHelp("n", "cancel")),

	Send:         key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
	Focus:        key.NewBinding(key.WithKeys("tab", "i"), key.WithHelp("tab", "focus")),
	Accept:       key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "accept")),
	AcceptAlways: key.NewBinding(key.WithKeys("A"), key.WithHelp("A", "always")),
	Reject:       key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reject")),
	Expand:       key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "expand diffs")),
	Yank:         key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "copy reply")),
}
