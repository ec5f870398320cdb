package dispatch

import "psmux/internal/tmux"

// DefaultBindings installs the stock prefix-table bindings into bindings,
// matching tmux's out-of-the-box C-b table for the commands the router
// implements. Callers that load a config file apply user bind-key/unbind-key
// directives on top of this afterward, the same order tmux applies them.
func DefaultBindings(bindings *tmux.Bindings) {
	const prefix = "prefix"

	type binding struct {
		key     string
		command string
		repeat  bool
	}

	for _, b := range []binding{
		{`"`, "split-window", false},
		{"%", "split-window -h", false},
		{"x", "kill-pane", false},
		{"c", "new-window", false},
		{"&", "kill-window", false},
		{"[", "copy-mode", false},
		{"]", "paste-buffer", false},
		{"Left", "select-pane -L", true},
		{"Right", "select-pane -R", true},
		{"Up", "select-pane -U", true},
		{"Down", "select-pane -D", true},
	} {
		bindings.Bind(prefix, b.key, b.command, b.repeat)
	}
}
