package tmux

import (
	"fmt"
	"sort"
)

// markStateMutationLocked bumps the state generation counter. Call after
// any change that isn't a topology change (env, options, titles, idle
// flags, hooks) while holding m.mu for writing.
func (m *SessionManager) markStateMutationLocked() {
	m.stateGeneration++
}

// markTopologyMutationLocked bumps the topology generation counter and the
// state counter. Call after any change to the pane/window tree shape
// (split, kill, swap, new-window, kill-window) while holding m.mu for
// writing.
func (m *SessionManager) markTopologyMutationLocked() {
	m.topologyGeneration++
	m.stateGeneration++
}

// markSessionMapMutationLocked invalidates the sorted-session-name cache
// and bumps both generation counters. Call after the session map's key set
// changes (create/rename/remove) while holding m.mu for writing.
func (m *SessionManager) markSessionMapMutationLocked() {
	m.sortedSessionNames = nil
	m.topologyGeneration++
	m.stateGeneration++
}

// sortedSessionNamesLocked returns session names ordered by ascending
// session ID, reusing the cached slice when nothing has invalidated it.
// REQUIRES: m.mu held for writing (it may populate the cache).
func (m *SessionManager) sortedSessionNamesLocked() []string {
	if m.sortedSessionNames != nil {
		return m.sortedSessionNames
	}
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return m.sessions[names[i]].ID < m.sessions[names[j]].ID
	})
	m.sortedSessionNames = names
	return names
}

// Snapshot returns deep-copied frontend-safe session state.
func (m *SessionManager) Snapshot() []SessionSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return m.sessions[names[i]].ID < m.sessions[names[j]].ID
	})

	out := make([]SessionSnapshot, 0, len(names))
	for _, name := range names {
		session := m.sessions[name]
		var worktree *SessionWorktreeInfo
		if session.Worktree != nil {
			copied := *session.Worktree
			worktree = &copied
		}
		ss := SessionSnapshot{
			ID:          session.ID,
			Name:        session.Name,
			CreatedAt:   session.CreatedAt,
			IsIdle:      session.IsIdle,
			IsAgentTeam: session.IsAgentTeam,
			Windows:     make([]WindowSnapshot, 0, len(session.Windows)),
			Worktree:    worktree,
			RootPath:    session.RootPath,
		}
		for _, window := range session.Windows {
			ws := WindowSnapshot{
				ID:       window.ID,
				Name:     window.Name,
				Layout:   cloneLayout(window.Layout),
				ActivePN: window.ActivePN,
				Panes:    make([]PaneSnapshot, 0, len(window.Panes)),
			}
			for _, pane := range window.Panes {
				ps := PaneSnapshot{
					ID:     pane.IDString(),
					Index:  pane.Index,
					Title:  pane.Title,
					Active: pane.Active,
					Width:  pane.Width,
					Height: pane.Height,
				}
				ws.Panes = append(ws.Panes, ps)
			}
			ss.Windows = append(ss.Windows, ws)
		}
		out = append(out, ss)
	}

	return out
}

// ActivePaneIDs returns the set of all pane ID strings currently managed.
// This is a lightweight alternative to Snapshot() when only pane IDs are needed.
func (m *SessionManager) ActivePaneIDs() map[string]struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make(map[string]struct{}, len(m.panes))
	for id := range m.panes {
		ids[fmt.Sprintf("%%%d", id)] = struct{}{}
	}
	return ids
}
