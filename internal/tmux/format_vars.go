package tmux

import (
	"strconv"
	"time"

	"psmux/internal/format"
)

// paneVars adapts a TmuxPane (plus its ancestry) to format.Vars. It is the
// bridge the expanded format engine needs without internal/format importing
// any tmux type: internal/tmux builds these adapters and hands them to
// format.Expand/format.ExpandWithTime.
type paneVars struct {
	pane    *TmuxPane
	window  *TmuxWindow
	session *TmuxSession
}

// newPaneVars builds a format.Vars rooted at pane, walking up to its window
// and session when present.
func newPaneVars(pane *TmuxPane) format.Vars {
	var window *TmuxWindow
	var session *TmuxSession
	if pane != nil {
		window = pane.Window
		if window != nil {
			session = window.Session
		}
	}
	return paneVars{pane: pane, window: window, session: session}
}

func (v paneVars) Get(name string) (string, bool) {
	if s, ok := lookupPaneVar(v.pane, name); ok {
		return s, true
	}
	if s, ok := lookupWindowVar(v.window, v.session, name); ok {
		return s, true
	}
	if s, ok := lookupSessionVar(v.session, name); ok {
		return s, true
	}
	return "", false
}

func (v paneVars) Windows() []format.Vars {
	if v.session == nil {
		return nil
	}
	out := make([]format.Vars, 0, len(v.session.Windows))
	for _, w := range v.session.Windows {
		if w == nil {
			continue
		}
		out = append(out, windowVars{window: w, session: v.session})
	}
	return out
}

func (v paneVars) Panes() []format.Vars {
	if v.window == nil {
		return nil
	}
	out := make([]format.Vars, 0, len(v.window.Panes))
	for _, p := range v.window.Panes {
		if p == nil {
			continue
		}
		out = append(out, newPaneVars(p))
	}
	return out
}

func (v paneVars) Sessions() []format.Vars {
	if v.session == nil {
		return nil
	}
	return []format.Vars{sessionVars{session: v.session}}
}

// windowVars adapts a TmuxWindow for loop bodies ("#{W:...}") where no
// specific pane is in scope; it falls back to the window's active pane.
type windowVars struct {
	window  *TmuxWindow
	session *TmuxSession
}

func (v windowVars) Get(name string) (string, bool) {
	if s, ok := lookupWindowVar(v.window, v.session, name); ok {
		return s, true
	}
	if s, ok := lookupSessionVar(v.session, name); ok {
		return s, true
	}
	if pane := activeOrFirstPane(v.window); pane != nil {
		return lookupPaneVar(pane, name)
	}
	return "", false
}

func (v windowVars) Windows() []format.Vars {
	return paneVars{window: v.window, session: v.session}.Windows()
}

func (v windowVars) Panes() []format.Vars {
	if v.window == nil {
		return nil
	}
	out := make([]format.Vars, 0, len(v.window.Panes))
	for _, p := range v.window.Panes {
		if p == nil {
			continue
		}
		out = append(out, newPaneVars(p))
	}
	return out
}

func (v windowVars) Sessions() []format.Vars {
	if v.session == nil {
		return nil
	}
	return []format.Vars{sessionVars{session: v.session}}
}

// sessionVars adapts a TmuxSession for loop bodies ("#{S:...}").
type sessionVars struct {
	session *TmuxSession
}

func (v sessionVars) Get(name string) (string, bool) {
	if s, ok := lookupSessionVar(v.session, name); ok {
		return s, true
	}
	if window := activeWindowInSession(v.session); window != nil {
		if s, ok := lookupWindowVar(window, v.session, name); ok {
			return s, true
		}
		if pane := activeOrFirstPane(window); pane != nil {
			return lookupPaneVar(pane, name)
		}
	}
	return "", false
}

func (v sessionVars) Windows() []format.Vars {
	if v.session == nil {
		return nil
	}
	out := make([]format.Vars, 0, len(v.session.Windows))
	for _, w := range v.session.Windows {
		if w == nil {
			continue
		}
		out = append(out, windowVars{window: w, session: v.session})
	}
	return out
}

func (v sessionVars) Panes() []format.Vars {
	if window := activeWindowInSession(v.session); window != nil {
		return windowVars{window: window, session: v.session}.Panes()
	}
	return nil
}

func (v sessionVars) Sessions() []format.Vars {
	if v.session == nil {
		return nil
	}
	return []format.Vars{v}
}

func activeOrFirstPane(window *TmuxWindow) *TmuxPane {
	if window == nil || len(window.Panes) == 0 {
		return nil
	}
	if window.ActivePN >= 0 && window.ActivePN < len(window.Panes) && window.Panes[window.ActivePN] != nil {
		return window.Panes[window.ActivePN]
	}
	for _, p := range window.Panes {
		if p != nil {
			return p
		}
	}
	return nil
}

func lookupPaneVar(pane *TmuxPane, name string) (string, bool) {
	if pane == nil {
		return "", false
	}
	switch name {
	case "pane_id":
		return pane.IDString(), true
	case "pane_index":
		return strconv.Itoa(pane.Index), true
	case "pane_width":
		return strconv.Itoa(pane.Width), true
	case "pane_height":
		return strconv.Itoa(pane.Height), true
	case "pane_active":
		return boolFlag(pane.Active), true
	case "pane_active_suffix":
		if pane.Active {
			return " (active)", true
		}
		return "", true
	case "pane_title":
		return pane.Title, true
	case "pane_tty":
		return pane.ttyPath(), true
	case "pane_pid":
		if pane.Terminal != nil {
			return strconv.Itoa(pane.Terminal.PID()), true
		}
		return "0", true
	case "pane_dead":
		if pane.Terminal != nil {
			return boolFlag(pane.Terminal.IsClosed()), true
		}
		return "1", true
	}
	return "", false
}

func lookupWindowVar(window *TmuxWindow, session *TmuxSession, name string) (string, bool) {
	if window == nil {
		switch name {
		case "window_index", "window_panes", "window_active":
			return "0", true
		case "window_name", "window_flags":
			return "", true
		}
		return "", false
	}
	switch name {
	case "window_id":
		return "@" + strconv.Itoa(window.ID), true
	case "window_index":
		return strconv.Itoa(window.ID), true
	case "window_name":
		return window.Name, true
	case "window_panes":
		return strconv.Itoa(len(window.Panes)), true
	case "window_active":
		if session == nil {
			return "0", true
		}
		active := activeWindowInSession(session)
		return boolFlag(active != nil && active.ID == window.ID), true
	case "window_flags":
		if session == nil {
			return "", true
		}
		active := activeWindowInSession(session)
		if active != nil && active.ID == window.ID {
			return "*", true
		}
		return "", true
	}
	return "", false
}

func lookupSessionVar(session *TmuxSession, name string) (string, bool) {
	if session == nil {
		switch name {
		case "session_windows", "session_created", "session_attached":
			return "0", true
		case "session_name":
			return "", true
		}
		return "", false
	}
	switch name {
	case "session_id":
		return "$" + strconv.Itoa(session.ID), true
	case "session_name":
		return session.Name, true
	case "session_windows":
		return strconv.Itoa(len(session.Windows)), true
	case "session_created":
		return strconv.FormatInt(session.CreatedAt.Unix(), 10), true
	case "session_created_human":
		return session.CreatedAt.Format("Mon Jan _2 15:04:05 2006"), true
	case "session_attached":
		return "0", true
	case "session_is_agent_team":
		return boolFlag(session.IsAgentTeam), true
	}
	return "", false
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// ExpandStatusFormat renders a status-line format string (status-left,
// status-right, window-status-format, and similar) for pane's position in
// the session tree, applying strftime substitution to the result the way
// tmux applies it to the fully expanded status line.
func ExpandStatusFormat(formatStr string, pane *TmuxPane, now time.Time) string {
	return format.ExpandWithTime(formatStr, newPaneVars(pane), now)
}
