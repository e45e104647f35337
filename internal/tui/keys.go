package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit    key.Binding
	Up      key.Binding
	Down    key.Binding
	Filter  key.Binding
	Search  key.Binding
	Open    key.Binding
	Back    key.Binding
	Upgrade key.Binding
	Sudo    key.Binding
	Remount key.Binding
}

var keys = keyMap{
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Filter:  key.NewBinding(key.WithKeys("f", "tab"), key.WithHelp("f", "all/outdated")),
	Search:  key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
	Open:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "details")),
	Back:    key.NewBinding(key.WithKeys("esc", "backspace"), key.WithHelp("esc", "back")),
	Upgrade: key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "apt upgrade")),
	Sudo:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "sudo check")),
	Remount: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
}

func helpLine(bindings ...key.Binding) string {
	out := ""
	for i, b := range bindings {
		if i > 0 {
			out += "  "
		}
		h := b.Help()
		out += h.Key + " " + h.Desc
	}
	return out
}
