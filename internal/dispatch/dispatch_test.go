package dispatch

import (
	"sync"
	"testing"
	"time"

	"psmux/internal/tmux"
)

type recordingSink struct {
	mu       sync.Mutex
	commands []string
	forwards []string
}

func (s *recordingSink) RunCommand(command string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, command)
}

func (s *recordingSink) ForwardKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwards = append(s.forwards, key)
}

func (s *recordingSink) snapshot() (commands, forwards []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...), append([]string(nil), s.forwards...)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *recordingSink) {
	t.Helper()
	bindings := tmux.NewBindings()
	bindings.Bind("prefix", "c", "new-window", false)
	bindings.Bind("prefix", "Left", "select-pane -L", true)
	sink := &recordingSink{}
	d := New(bindings, sink, Options{
		EscapeTime: 20 * time.Millisecond,
		RepeatTime: 20 * time.Millisecond,
	})
	t.Cleanup(d.Close)
	return d, sink
}

func TestUnarmedMissForwardsKey(t *testing.T) {
	d, sink := newTestDispatcher(t)

	d.HandleKey("a")

	if d.Armed() {
		t.Fatal("dispatcher should remain disarmed on a root-table miss")
	}
	_, forwards := sink.snapshot()
	if len(forwards) != 1 || forwards[0] != "a" {
		t.Fatalf("forwards = %v, want [a]", forwards)
	}
}

func TestPrefixArmsPrefixTable(t *testing.T) {
	d, sink := newTestDispatcher(t)

	d.HandleKey("C-b")

	if !d.Armed() {
		t.Fatal("dispatcher should be armed after the prefix key")
	}
	if d.Table() != "prefix" {
		t.Fatalf("table = %q, want prefix", d.Table())
	}
	commands, forwards := sink.snapshot()
	if len(commands) != 0 || len(forwards) != 0 {
		t.Fatalf("prefix key itself must not run a command or forward, got commands=%v forwards=%v", commands, forwards)
	}
}

func TestBoundKeyRunsCommandAndDisarms(t *testing.T) {
	d, sink := newTestDispatcher(t)

	d.HandleKey("C-b")
	d.HandleKey("c")

	commands, _ := sink.snapshot()
	if len(commands) != 1 || commands[0] != "new-window" {
		t.Fatalf("commands = %v, want [new-window]", commands)
	}
	if d.Armed() {
		t.Fatal("dispatcher should disarm after a non-repeat binding runs")
	}
	if d.Table() != "root" {
		t.Fatalf("table = %q, want root", d.Table())
	}
}

func TestPrefixTableMissDisarmsAndForwards(t *testing.T) {
	d, sink := newTestDispatcher(t)

	d.HandleKey("C-b")
	d.HandleKey("z")

	if d.Armed() {
		t.Fatal("dispatcher should disarm on a prefix-table miss")
	}
	_, forwards := sink.snapshot()
	if len(forwards) != 1 || forwards[0] != "z" {
		t.Fatalf("forwards = %v, want [z]", forwards)
	}
}

func TestRepeatBindingStaysArmedForFollowingKey(t *testing.T) {
	d, sink := newTestDispatcher(t)

	d.HandleKey("C-b")
	d.HandleKey("Left")
	if !d.Armed() {
		t.Fatal("dispatcher should stay armed after a repeat binding fires")
	}

	d.HandleKey("Left")
	commands, _ := sink.snapshot()
	if len(commands) != 2 || commands[0] != "select-pane -L" || commands[1] != "select-pane -L" {
		t.Fatalf("commands = %v, want two select-pane -L runs", commands)
	}
}

func TestRepeatWindowExpires(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.HandleKey("C-b")
	d.HandleKey("Left")
	if !d.Armed() {
		t.Fatal("expected armed immediately after repeat binding")
	}

	time.Sleep(60 * time.Millisecond)

	if d.Armed() {
		t.Fatal("repeat window should have expired and disarmed the dispatcher")
	}
	if d.Table() != "root" {
		t.Fatalf("table = %q, want root after repeat timeout", d.Table())
	}
}

func TestLoneEscapeDispatchesStandaloneAfterTimeout(t *testing.T) {
	d, sink := newTestDispatcher(t)

	d.HandleKey("Escape")
	time.Sleep(60 * time.Millisecond)

	_, forwards := sink.snapshot()
	if len(forwards) != 1 || forwards[0] != "Escape" {
		t.Fatalf("forwards = %v, want [Escape]", forwards)
	}
}

func TestEscapeFollowedByKeyFoldsIntoMeta(t *testing.T) {
	d, sink := newTestDispatcher(t)

	d.HandleKey("Escape")
	d.HandleKey("f")

	_, forwards := sink.snapshot()
	if len(forwards) != 1 || forwards[0] != "M-f" {
		t.Fatalf("forwards = %v, want [M-f]", forwards)
	}
}

func TestCloseStopsTimers(t *testing.T) {
	bindings := tmux.NewBindings()
	sink := &recordingSink{}
	d := New(bindings, sink, Options{EscapeTime: 15 * time.Millisecond})

	d.HandleKey("Escape")
	d.Close()
	time.Sleep(40 * time.Millisecond)

	_, forwards := sink.snapshot()
	if len(forwards) != 0 {
		t.Fatalf("closed dispatcher must not fire pending timers, forwards = %v", forwards)
	}
}

func TestDefaultBindingsInstallsStockTable(t *testing.T) {
	bindings := tmux.NewBindings()
	DefaultBindings(bindings)

	kb, ok := bindings.Lookup("prefix", "c")
	if !ok || kb.Command != "new-window" {
		t.Fatalf("prefix c = %+v, ok=%v, want new-window binding", kb, ok)
	}
	kb, ok = bindings.Lookup("prefix", "Left")
	if !ok || !kb.Repeat {
		t.Fatalf("prefix Left = %+v, ok=%v, want a repeat binding", kb, ok)
	}
}

func TestOptionsDefaultsApplied(t *testing.T) {
	d := New(tmux.NewBindings(), nil, Options{})
	if d.opts.PrefixKey != "C-b" {
		t.Fatalf("PrefixKey = %q, want C-b", d.opts.PrefixKey)
	}
	if d.opts.RootTable != "root" || d.opts.PrefixTable != "prefix" {
		t.Fatalf("tables = %q/%q, want root/prefix", d.opts.RootTable, d.opts.PrefixTable)
	}
	d.Close()
}
