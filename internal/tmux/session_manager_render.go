package tmux

import "fmt"

// WithActiveWindow resolves sessionName's active window and runs fn against
// it while holding the session lock, the same discipline
// activeWindowInSessionLocked requires of its other callers. A renderer
// composites the window tree into a framebuffer from inside fn instead of
// retaining the pointer, avoiding the TOCTOU pattern ResolveTarget's doc
// comment warns callers away from.
func (m *SessionManager) WithActiveWindow(sessionName string, fn func(*TmuxWindow)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionName]
	if !ok {
		return fmt.Errorf("session not found: %s", sessionName)
	}
	window := m.activeWindowInSessionLocked(session)
	if window == nil {
		return fmt.Errorf("session %s has no active window", sessionName)
	}
	fn(window)
	return nil
}
