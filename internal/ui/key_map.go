package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the TUI.
type keyMap struct {
	refresh  key.Binding
	minimize key.Binding
	open     key.Binding
	check    key.Binding
	quit     key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		refresh:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		minimize: key.NewBinding(key.WithKeys("m", "esc"), key.WithHelp("m", "minimize")),
		open:     key.NewBinding(key.WithKeys("o", "enter"), key.WithHelp("o", "open")),
		check:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "check now")),
		quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.refresh, k.minimize, k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.refresh, k.check},
		{k.minimize, k.open},
		{k.quit},
	}
}
