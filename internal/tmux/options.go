package tmux

import (
	"fmt"
	"sync"
)

// OptionScope identifies where an option value was set, mirroring tmux's
// global/session/window/pane option scoping with fallthrough on lookup.
type OptionScope int

const (
	ScopeGlobal OptionScope = iota
	ScopeSession
	ScopeWindow
	ScopePane
)

// OptionValue is a single option's stored value. tmux options are strings,
// numbers, or booleans on the wire; psmux stores every value as its raw
// text and does no type conversion.
type OptionValue struct {
	Raw string
}

// Options is a scoped option store. Each TmuxSession/TmuxWindow/TmuxPane
// gets one for its own scope; lookups fall through Pane -> Window ->
// Session -> Global the way tmux resolves options.
type Options struct {
	mu     sync.RWMutex
	values map[string]OptionValue
}

// NewOptions returns an empty option store.
func NewOptions() *Options {
	return &Options{values: make(map[string]OptionValue)}
}

// Set stores a value. User options (leading "@") are accepted the same as
// built-ins; psmux does not maintain a closed set of recognized option
// names, matching tmux's own permissiveness about user options.
func (o *Options) Set(name, value string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.values[name] = OptionValue{Raw: value}
}

// Get returns the locally stored value for name, without scope fallthrough.
func (o *Options) Get(name string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.values[name]
	return v.Raw, ok
}

// Unset removes a locally stored value.
func (o *Options) Unset(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.values, name)
}

// All returns a copy of every locally stored option, for show-options.
func (o *Options) All() map[string]string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]string, len(o.values))
	for k, v := range o.values {
		out[k] = v.Raw
	}
	return out
}

// OptionChain resolves an option by walking pane -> window -> session ->
// global, returning the first scope that has it set.
type OptionChain struct {
	Pane    *Options
	Window  *Options
	Session *Options
	Global  *Options
}

// Resolve returns the effective value of name and the scope it came from.
func (c OptionChain) Resolve(name string) (value string, scope OptionScope, ok bool) {
	for _, layer := range []struct {
		opts  *Options
		scope OptionScope
	}{
		{c.Pane, ScopePane},
		{c.Window, ScopeWindow},
		{c.Session, ScopeSession},
		{c.Global, ScopeGlobal},
	} {
		if layer.opts == nil {
			continue
		}
		if v, found := layer.opts.Get(name); found {
			return v, layer.scope, true
		}
	}
	return "", ScopeGlobal, false
}

// HookEvent names a point in command execution that can fire hooks, e.g.
// "after-split-window", "pane-died", "session-created".
type HookEvent string

// HookFunc is the body of a registered hook: the session the hook fired in
// (may be nil for server-wide events) and the pane that triggered it, if any.
type HookFunc func(session *TmuxSession, pane *TmuxPane)

// Hooks is a per-scope registry of event -> ordered callback list, mirroring
// tmux's `set-hook`/`run-shell`-on-event model. Hooks are plain Go closures
// here rather than re-parsed command strings, registered with On; the
// command router has no set-hook handler, so only Go code registers them.
type Hooks struct {
	mu    sync.Mutex
	hooks map[HookEvent][]HookFunc
}

// NewHooks returns an empty hook registry.
func NewHooks() *Hooks {
	return &Hooks{hooks: make(map[HookEvent][]HookFunc)}
}

// On registers fn to run when event fires.
func (h *Hooks) On(event HookEvent, fn HookFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks[event] = append(h.hooks[event], fn)
}

// Clear removes every hook registered for event.
func (h *Hooks) Clear(event HookEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.hooks, event)
}

// Fire runs every hook registered for event, in registration order. A
// panicking hook is recovered and discarded without logging, so one bad hook
// cannot take down the command that triggered it or stop the later hooks.
func (h *Hooks) Fire(event HookEvent, session *TmuxSession, pane *TmuxPane) {
	h.mu.Lock()
	fns := append([]HookFunc(nil), h.hooks[event]...)
	h.mu.Unlock()
	for _, fn := range fns {
		func() {
			defer func() { recover() }()
			fn(session, pane)
		}()
	}
}

// KeyBinding is one (table, key) -> command binding, as consumed by
// internal/dispatch. Repeat marks a binding as eligible for tmux's
// repeat-time window (e.g. resize-pane bound to arrow keys).
type KeyBinding struct {
	Table   string
	Key     string
	Command string
	Repeat  bool
}

// Bindings is the server-wide key binding table, keyed by (table, key).
type Bindings struct {
	mu       sync.RWMutex
	bindings map[string]KeyBinding
}

// NewBindings returns a binding table pre-seeded with nothing; callers
// install the default prefix-table bindings explicitly (see
// internal/dispatch.DefaultBindings).
func NewBindings() *Bindings {
	return &Bindings{bindings: make(map[string]KeyBinding)}
}

func bindingKey(table, key string) string { return table + "\x00" + key }

// Bind registers or replaces a binding.
func (b *Bindings) Bind(table, key, command string, repeat bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings[bindingKey(table, key)] = KeyBinding{Table: table, Key: key, Command: command, Repeat: repeat}
}

// Unbind removes a binding, reporting whether one existed.
func (b *Bindings) Unbind(table, key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := bindingKey(table, key)
	if _, ok := b.bindings[k]; !ok {
		return false
	}
	delete(b.bindings, k)
	return true
}

// Lookup finds the binding for (table, key).
func (b *Bindings) Lookup(table, key string) (KeyBinding, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	kb, ok := b.bindings[bindingKey(table, key)]
	return kb, ok
}

// List returns every binding in table, for list-keys.
func (b *Bindings) List(table string) []KeyBinding {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]KeyBinding, 0)
	for _, kb := range b.bindings {
		if table == "" || kb.Table == table {
			out = append(out, kb)
		}
	}
	return out
}

// PasteBuffer is one named entry in the paste-buffer stack.
type PasteBuffer struct {
	Name string
	Data []byte
}

// PasteBuffers is the server-wide ordered paste-buffer list (set-buffer,
// show-buffer, choose-buffer, paste-buffer). The most recently added buffer
// is buffer 0, matching tmux's "-b 0 means most recent" convention.
type PasteBuffers struct {
	mu      sync.Mutex
	order   []string // names, most recent first
	buffers map[string]*PasteBuffer
	seq     int
}

// NewPasteBuffers returns an empty buffer stack.
func NewPasteBuffers() *PasteBuffers {
	return &PasteBuffers{buffers: make(map[string]*PasteBuffer)}
}

// Set stores data under name, or auto-names it "buffer<N>" if name is empty,
// and moves it to the front of the stack.
func (p *PasteBuffers) Set(name string, data []byte) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name == "" {
		name = fmt.Sprintf("buffer%d", p.seq)
		p.seq++
	}
	if _, exists := p.buffers[name]; !exists {
		p.order = append([]string{name}, p.order...)
	} else {
		p.moveToFrontLocked(name)
	}
	p.buffers[name] = &PasteBuffer{Name: name, Data: data}
	return name
}

func (p *PasteBuffers) moveToFrontLocked(name string) {
	for i, n := range p.order {
		if n == name {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.order = append([]string{name}, p.order...)
}

// Get returns the buffer named name, or the most recent buffer if name=="".
func (p *PasteBuffers) Get(name string) (*PasteBuffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name == "" {
		if len(p.order) == 0 {
			return nil, false
		}
		name = p.order[0]
	}
	b, ok := p.buffers[name]
	return b, ok
}

// Delete removes a named buffer.
func (p *PasteBuffers) Delete(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.buffers[name]; !ok {
		return false
	}
	delete(p.buffers, name)
	for i, n := range p.order {
		if n == name {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns buffer names, most recent first.
func (p *PasteBuffers) List() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}
