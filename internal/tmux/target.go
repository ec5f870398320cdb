package tmux

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ResolveTargetExt extends ResolveTarget with the target syntax tmux
// supports beyond plain names/indices/`%N`: `$N` session-id references and
// the special tokens `{last}`, `{next}`, `{previous}`, `{start}`, `{end}`.
// Everything else is delegated to ResolveTarget unchanged.
func (m *SessionManager) ResolveTargetExt(target string, callerPaneID int) (*TmuxPane, error) {
	target = strings.TrimSpace(target)
	switch target {
	case "{last}":
		return m.lastActivePane(callerPaneID)
	case "{next}":
		return m.ResolveDirectionalPane(callerPaneID, DirNext)
	case "{previous}":
		return m.ResolveDirectionalPane(callerPaneID, DirPrev)
	case "{start}":
		return m.edgePane(callerPaneID, true)
	case "{end}":
		return m.edgePane(callerPaneID, false)
	}

	if rewritten, ok := m.rewriteSessionIDTarget(target); ok {
		target = rewritten
	}
	return m.ResolveTarget(target, callerPaneID)
}

// rewriteSessionIDTarget rewrites a leading "$N" session-id reference (with
// an optional ":window.pane" suffix) into the equivalent "name:..." target
// ResolveTarget already understands, since sessions are keyed by name
// internally.
func (m *SessionManager) rewriteSessionIDTarget(target string) (string, bool) {
	if !strings.HasPrefix(target, "$") {
		return target, false
	}
	idPart, rest, hasColon := strings.Cut(target[1:], ":")
	id, err := strconv.Atoi(idPart)
	if err != nil {
		return target, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sess := range m.sessions {
		if sess.ID == id {
			if hasColon {
				return sess.Name + ":" + rest, true
			}
			return sess.Name, true
		}
	}
	return target, false
}

// ResolveSessionByID looks up a session by its numeric "$N" id.
func (m *SessionManager) ResolveSessionByID(id int) (*TmuxSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sess := range m.sessions {
		if sess.ID == id {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("session not found: $%d", id)
}

// NotePaneSwitch records the pane that was active before switching to
// newPaneID, so a later "{last}" target can return to it. Call this from
// every command that changes the active pane/window (select-pane,
// select-window, switch-client, etc).
func (m *SessionManager) NotePaneSwitch(newPaneID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activePaneID >= 0 && m.activePaneID != newPaneID {
		m.lastPaneID = m.activePaneID
	}
	m.activePaneID = newPaneID
}

func (m *SessionManager) lastActivePane(callerPaneID int) (*TmuxPane, error) {
	m.mu.RLock()
	id := m.lastPaneID
	m.mu.RUnlock()
	if id < 0 {
		return nil, fmt.Errorf("no last pane recorded")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.panes[id]
	if !ok || p == nil {
		return nil, fmt.Errorf("last pane %%%d no longer exists", id)
	}
	return p, nil
}

// edgePane resolves "{start}"/"{end}": the active pane of the first/last
// window (by ID) in the caller's session.
func (m *SessionManager) edgePane(callerPaneID int, start bool) (*TmuxPane, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pane, ok := m.panes[callerPaneID]
	if !ok || pane == nil || pane.Window == nil || pane.Window.Session == nil {
		return nil, fmt.Errorf("caller pane not found: %%%d", callerPaneID)
	}
	windows := append([]*TmuxWindow(nil), pane.Window.Session.Windows...)
	sort.Slice(windows, func(i, j int) bool { return windows[i].ID < windows[j].ID })
	if len(windows) == 0 {
		return nil, fmt.Errorf("session has no windows")
	}
	w := windows[0]
	if !start {
		w = windows[len(windows)-1]
	}
	return activePaneInWindow(w)
}
