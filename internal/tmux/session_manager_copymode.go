package tmux

import (
	"fmt"

	"psmux/internal/copymode"
	"psmux/internal/grid"
)

// EnterCopyMode puts paneID into copy mode, seeded from g (the pane's live
// screen/scrollback grid) at the given viewport size. Re-entering copy mode
// on a pane already in it is a no-op that returns the existing Mode.
func (m *SessionManager) EnterCopyMode(paneID int, g *grid.Grid, cols, rows int) (*copymode.Mode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pane, ok := m.panes[paneID]
	if !ok {
		return nil, fmt.Errorf("pane not found: %%%d", paneID)
	}
	if pane.CopyMode != nil {
		return pane.CopyMode, nil
	}
	if g == nil {
		return nil, fmt.Errorf("pane has no grid: %%%d", paneID)
	}
	pane.CopyMode = copymode.New(g, cols, rows)
	m.markStateMutationLocked()
	return pane.CopyMode, nil
}

// ExitCopyMode drops paneID's copy-mode state, if any.
func (m *SessionManager) ExitCopyMode(paneID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pane, ok := m.panes[paneID]
	if !ok || pane.CopyMode == nil {
		return
	}
	pane.CopyMode = nil
	m.markStateMutationLocked()
}

// CopyModeFor returns paneID's active copy-mode state, if it is in copy mode.
func (m *SessionManager) CopyModeFor(paneID int) (*copymode.Mode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pane, ok := m.panes[paneID]
	if !ok || pane.CopyMode == nil {
		return nil, false
	}
	return pane.CopyMode, true
}

// InCopyMode reports whether paneID currently has copy mode active.
func (m *SessionManager) InCopyMode(paneID int) bool {
	_, ok := m.CopyModeFor(paneID)
	return ok
}
