package tmux

import (
	"strconv"
	"testing"
)

func newTestManagerWithPane(t *testing.T) (*SessionManager, int, int) {
	t.Helper()
	m := NewSessionManager()
	sess, pane, err := m.CreateSession("work", "", 80, 24)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	return m, sess.ID, pane.ID
}

func TestResolveTargetExtSessionID(t *testing.T) {
	m, sessID, paneID := newTestManagerWithPane(t)
	p, err := m.ResolveTargetExt("$"+strconv.Itoa(sessID), -1)
	if err != nil {
		t.Fatalf("ResolveTargetExt($N) error: %v", err)
	}
	if p.ID != paneID {
		t.Fatalf("resolved pane %d, want %d", p.ID, paneID)
	}
}

func TestResolveTargetExtLast(t *testing.T) {
	m, _, paneID := newTestManagerWithPane(t)
	m.NotePaneSwitch(paneID)
	m.NotePaneSwitch(999999)
	p, err := m.ResolveTargetExt("{last}", paneID)
	if err != nil {
		t.Fatalf("ResolveTargetExt({last}) error: %v", err)
	}
	if p.ID != paneID {
		t.Fatalf("resolved pane %d, want %d", p.ID, paneID)
	}
}
