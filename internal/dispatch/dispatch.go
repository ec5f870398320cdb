// Package dispatch implements the per-client key dispatcher: the armed
// prefix-key state machine that decides whether an incoming key selects a
// bound command or falls through to the active pane's PTY.
package dispatch

import (
	"sync"
	"time"

	"psmux/internal/tmux"
)

// Sink receives the two outcomes of a dispatched key: a bound command to
// run, or a key to forward untranslated to the active pane.
type Sink interface {
	// RunCommand executes a tmux-syntax command string, e.g. "split-window -h".
	RunCommand(command string)
	// ForwardKey writes one key (in the same "C-b"/"Enter"/"Up" vocabulary
	// as tmux.TranslateSendKeys) to the active pane's terminal.
	ForwardKey(key string)
}

// Options configures a Dispatcher's timers and table names. Zero-value
// fields are replaced with defaults by New.
type Options struct {
	// PrefixKey arms the prefix table, mirroring tmux's "prefix" option.
	PrefixKey string
	// EscapeTime bounds how long a lone Escape key waits for a following
	// key before it is delivered standalone, disambiguating a user's literal
	// Escape press from the lead byte of an Alt-key or CSI sequence.
	EscapeTime time.Duration
	// RepeatTime bounds how long an armed repeatable binding (e.g. the
	// resize-pane arrow keys) stays armed for a following repeat of the
	// same table without a fresh prefix press.
	RepeatTime time.Duration
	// RootTable and PrefixTable name the two tables every client starts
	// between. Bindings may name additional tables; once a binding command
	// switches a client into one (not modeled here — no bound command does
	// so yet), the dispatcher tracks it the same way.
	RootTable   string
	PrefixTable string
}

const (
	defaultEscapeTime = 500 * time.Millisecond
	defaultRepeatTime = 500 * time.Millisecond
	defaultPrefixKey  = "C-b"
	defaultRootTable  = "root"
	defaultPrefixTbl  = "prefix"
)

func (o Options) withDefaults() Options {
	if o.PrefixKey == "" {
		o.PrefixKey = defaultPrefixKey
	}
	if o.EscapeTime <= 0 {
		o.EscapeTime = defaultEscapeTime
	}
	if o.RepeatTime <= 0 {
		o.RepeatTime = defaultRepeatTime
	}
	if o.RootTable == "" {
		o.RootTable = defaultRootTable
	}
	if o.PrefixTable == "" {
		o.PrefixTable = defaultPrefixTbl
	}
	return o
}

// Dispatcher is one client's key-table state machine: which table is
// active, whether a repeat window or an escape-time window is currently
// open. One Dispatcher exists per attached client.
type Dispatcher struct {
	bindings *tmux.Bindings
	sink     Sink
	opts     Options

	mu            sync.Mutex
	armed         bool
	table         string
	repeatTimer   *time.Timer
	escapeTimer   *time.Timer
	pendingEscape bool
	closed        bool
}

// New returns a Dispatcher disarmed in the root table.
func New(bindings *tmux.Bindings, sink Sink, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	if bindings == nil {
		bindings = tmux.NewBindings()
	}
	return &Dispatcher{
		bindings: bindings,
		sink:     sink,
		opts:     opts,
		table:    opts.RootTable,
	}
}

// Close stops any pending timers. A closed Dispatcher must not receive
// further HandleKey calls.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.stopRepeatTimerLocked()
	d.stopEscapeTimerLocked()
}

// Armed reports whether the dispatcher is currently outside the root table
// (waiting on a bound-key sequence or a repeat window).
func (d *Dispatcher) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// Table returns the key table currently in effect.
func (d *Dispatcher) Table() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.table
}

// HandleKey advances the state machine by one incoming key.
//
// A lone Escape first arms an escape-time window: if another key follows
// within EscapeTime it is folded into "M-"+key (Alt/Meta), otherwise the
// timer fires and Escape is dispatched standalone. Once resolved, a key is
// looked up in the current (table, key) pair:
//   - prefix key while disarmed: arms the prefix table, nothing forwarded.
//   - binding found: the command runs. A Repeat binding re-arms the repeat
//     timer and keeps the table active so a following matching key repeats
//     without a fresh prefix; a non-repeat binding disarms back to root.
//   - binding missing: the dispatcher disarms (back to root) and the key is
//     forwarded to the active pane as-is, whether the miss happened in
//     root or in an armed table.
func (d *Dispatcher) HandleKey(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	if d.pendingEscape {
		d.pendingEscape = false
		d.stopEscapeTimerLocked()
		d.resolveLocked("M-" + key)
		return
	}

	if key == "Escape" {
		d.pendingEscape = true
		d.escapeTimer = time.AfterFunc(d.opts.EscapeTime, d.onEscapeTimeout)
		return
	}

	d.resolveLocked(key)
}

func (d *Dispatcher) onEscapeTimeout() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || !d.pendingEscape {
		return
	}
	d.pendingEscape = false
	d.escapeTimer = nil
	d.resolveLocked("Escape")
}

// resolveLocked handles one already-disambiguated key. Caller holds mu.
func (d *Dispatcher) resolveLocked(key string) {
	if !d.armed && key == d.opts.PrefixKey {
		d.armed = true
		d.table = d.opts.PrefixTable
		return
	}

	kb, ok := d.bindings.Lookup(d.table, key)
	if !ok {
		d.disarmLocked()
		if d.sink != nil {
			d.sink.ForwardKey(key)
		}
		return
	}

	if d.sink != nil {
		d.sink.RunCommand(kb.Command)
	}

	if kb.Repeat {
		d.armed = true
		d.armRepeatTimerLocked()
	} else {
		d.disarmLocked()
	}
}

func (d *Dispatcher) armRepeatTimerLocked() {
	d.stopRepeatTimerLocked()
	d.repeatTimer = time.AfterFunc(d.opts.RepeatTime, d.onRepeatTimeout)
}

func (d *Dispatcher) onRepeatTimeout() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.repeatTimer == nil {
		return
	}
	d.repeatTimer = nil
	d.disarmLocked()
}

func (d *Dispatcher) disarmLocked() {
	d.armed = false
	d.table = d.opts.RootTable
	d.stopRepeatTimerLocked()
}

func (d *Dispatcher) stopRepeatTimerLocked() {
	if d.repeatTimer != nil {
		d.repeatTimer.Stop()
		d.repeatTimer = nil
	}
}

func (d *Dispatcher) stopEscapeTimerLocked() {
	if d.escapeTimer != nil {
		d.escapeTimer.Stop()
		d.escapeTimer = nil
	}
	d.pendingEscape = false
}
