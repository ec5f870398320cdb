package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"psmux/internal/cmdline"
	"psmux/internal/config"
	"psmux/internal/dispatch"
	"psmux/internal/grid"
	"psmux/internal/ipc"
	"psmux/internal/render"
	"psmux/internal/tmux"
)

// defaultHistoryLimit bounds per-pane scrollback kept in the grid registry.
const defaultHistoryLimit = 2000

// renderTick is how often each attached session's window is recomposited
// and diffed against the previously composited frame.
const renderTick = 33 * time.Millisecond

// Server owns the session manager and command router, and exposes them over
// the two transport channels a client needs: a one-shot named pipe for
// discrete commands, and one persistent SessionHub per running session for
// attached input/render traffic.
type Server struct {
	sessions   *tmux.SessionManager
	grids      *grid.Manager
	router     *tmux.CommandRouter
	compositor *render.Compositor
	pipe       *ipc.PipeServer

	mu   sync.Mutex
	runs map[string]*sessionRuntime
}

// sessionRuntime is the per-session transport state: the persistent attach
// hub and the render loop feeding it.
type sessionRuntime struct {
	hub        *ipc.SessionHub
	cancelRend context.CancelFunc

	nameMu sync.Mutex
	name   string

	sizeMu     sync.Mutex
	clientCols int
	clientRows int
}

func (r *sessionRuntime) currentName() string {
	r.nameMu.Lock()
	defer r.nameMu.Unlock()
	return r.name
}

func (r *sessionRuntime) setName(name string) {
	r.nameMu.Lock()
	r.name = name
	r.nameMu.Unlock()
}

// NewServer wires a SessionManager, grid registry, and command router
// together and installs the default key bindings plus any config file found
// on the search path.
func NewServer() *Server {
	sessions := tmux.NewSessionManager()
	grids := grid.NewManager()
	dispatch.DefaultBindings(sessions.Bindings)

	srv := &Server{
		sessions: sessions,
		grids:    grids,
		runs:     make(map[string]*sessionRuntime),
	}
	srv.compositor = render.NewCompositor(grids)

	emitter := tmux.EventEmitterFunc(srv.handleRouterEvent)
	srv.router = tmux.NewCommandRouter(sessions, emitter, tmux.RouterOptions{
		Grids: gridSource{grids},
		OnSessionDestroyed: func(name string) {
			srv.teardownSession(name)
		},
		OnSessionRenamed: func(oldName, newName string) {
			srv.renameSession(oldName, newName)
		},
	})

	applier := &routerApplier{sessions: sessions, bindings: sessions.Bindings, router: srv.router}
	if err := config.Load("", applier); err != nil {
		slog.Warn("[server] config load failed", "error", err)
	}

	return srv
}

// gridSource adapts *grid.Manager to tmux.GridSource.
type gridSource struct{ m *grid.Manager }

func (g gridSource) Get(paneID string) *grid.Grid { return g.m.Get(paneID) }

// Start begins listening for one-shot CLI commands on pipeName (or the
// package default if empty).
func (s *Server) Start(pipeName string) error {
	s.pipe = ipc.NewPipeServer(pipeName, s.router)
	return s.pipe.Start()
}

// Stop shuts down every session hub and the command pipe.
func (s *Server) Stop() {
	s.mu.Lock()
	names := make([]string, 0, len(s.runs))
	for name := range s.runs {
		names = append(names, name)
	}
	s.mu.Unlock()
	for _, name := range names {
		s.teardownSession(name)
	}
	if s.pipe != nil {
		if err := s.pipe.Stop(); err != nil {
			slog.Warn("[server] pipe stop failed", "error", err)
		}
	}
}

// handleRouterEvent feeds the pane-output -> grid pipeline and drives
// session-hub lifecycle from CommandRouter's emitted events.
func (s *Server) handleRouterEvent(name string, payload any) {
	switch name {
	case "tmux:session-created":
		if m, ok := payload.(map[string]any); ok {
			if sessionName, ok := m["name"].(string); ok {
				s.setupSession(sessionName)
			}
		}
	case "tmux:pane-output":
		if ev, ok := payload.(tmux.PaneOutputEvent); ok {
			s.feedGrid(ev.PaneID, ev.Data)
		}
	}
}

// feedGrid lazily registers a pane's grid (sized from its live pane
// context) on first output, then appends the chunk. The grid keeps the size
// it was created with; later pane size changes do not resize it.
func (s *Server) feedGrid(paneID string, chunk []byte) {
	if s.grids.Get(paneID) == nil {
		id := tmux.ParseCallerPane(paneID)
		cols, rows := tmux.DefaultTerminalCols, tmux.DefaultTerminalRows
		if snap, err := s.sessions.GetPaneContextSnapshot(id); err == nil {
			if snap.PaneWidth > 0 {
				cols = snap.PaneWidth
			}
			if snap.PaneHeight > 0 {
				rows = snap.PaneHeight
			}
		}
		s.grids.Create(paneID, cols, rows, defaultHistoryLimit)
	}
	s.grids.Feed(paneID, chunk)
}

// setupSession starts a persistent SessionHub for a newly created session,
// publishes its discovery artifacts, and starts its render loop.
func (s *Server) setupSession(sessionName string) {
	s.mu.Lock()
	if _, exists := s.runs[sessionName]; exists {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	authKey, err := ipc.GenerateAuthKey()
	if err != nil {
		slog.Warn("[server] failed to generate auth key", "session", sessionName, "error", err)
		return
	}
	pipeName := sessionPipeName(sessionName)

	ctx, cancel := context.WithCancel(context.Background())
	run := &sessionRuntime{cancelRend: cancel, clientCols: tmux.DefaultTerminalCols, clientRows: tmux.DefaultTerminalRows}
	run.setName(sessionName)

	handler := &sessionHandler{srv: s, run: run, dispatchers: make(map[string]*dispatch.Dispatcher)}
	hub := ipc.NewSessionHub(sessionName, authKey, handler)
	if err := hub.Start(pipeName); err != nil {
		slog.Warn("[server] failed to start session hub", "session", sessionName, "error", err)
		cancel()
		return
	}
	if err := ipc.PublishSession(sessionName, authKey, pipeName); err != nil {
		slog.Warn("[server] failed to publish session discovery", "session", sessionName, "error", err)
	}
	run.hub = hub

	s.mu.Lock()
	s.runs[sessionName] = run
	s.mu.Unlock()

	go s.renderLoop(ctx, run)
}

// teardownSession stops a session's hub and render loop and withdraws its
// discovery artifacts. Safe to call more than once.
func (s *Server) teardownSession(sessionName string) {
	s.mu.Lock()
	run, ok := s.runs[sessionName]
	if ok {
		delete(s.runs, sessionName)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	run.cancelRend()
	if err := run.hub.Stop(); err != nil {
		slog.Warn("[server] session hub stop failed", "session", sessionName, "error", err)
	}
	if err := ipc.WithdrawSession(sessionName); err != nil {
		slog.Warn("[server] failed to withdraw session discovery", "session", sessionName, "error", err)
	}
}

// renameSession re-keys a session's runtime state and republishes its
// discovery artifacts under the new name; the hub's auth key and pipe are
// unaffected by a rename.
func (s *Server) renameSession(oldName, newName string) {
	s.mu.Lock()
	run, ok := s.runs[oldName]
	if ok {
		delete(s.runs, oldName)
		s.runs[newName] = run
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	authKey, pipeName, lookupErr := ipc.LookupSession(oldName)
	if err := ipc.WithdrawSession(oldName); err != nil {
		slog.Debug("[server] withdraw during rename failed", "session", oldName, "error", err)
	}
	run.setName(newName)
	if lookupErr == nil {
		if err := ipc.PublishSession(newName, authKey, pipeName); err != nil {
			slog.Warn("[server] failed to republish session discovery after rename", "session", newName, "error", err)
		}
	}
}

// renderLoop composites sessionName's active window at renderTick intervals
// and broadcasts diff frames (falling back to a full frame the first time)
// to every attached client.
func (s *Server) renderLoop(ctx context.Context, run *sessionRuntime) {
	ticker := time.NewTicker(renderTick)
	defer ticker.Stop()

	var prev *render.Framebuffer
	var seq uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if run.hub.ClientCount() == 0 {
				continue
			}
			run.sizeMu.Lock()
			cols, rows := run.clientCols, run.clientRows
			run.sizeMu.Unlock()

			var fb *render.Framebuffer
			err := s.sessions.WithActiveWindow(run.currentName(), func(w *tmux.TmuxWindow) {
				fb = s.compositor.ComposeWindow(w, cols, rows, render.WindowRenderOptions{Now: time.Now()})
			})
			if err != nil {
				continue
			}

			seq++
			var frame ipc.RenderFrame
			if prev == nil {
				frame = render.ToFullFrame(fb, seq)
			} else {
				frame = render.ToDiffFrame(prev, fb, seq)
			}
			run.hub.BroadcastRender(frame)
			prev = fb
		}
	}
}

// sessionPipeName derives a session-specific attach pipe distinct from the
// one-shot command pipe.
func sessionPipeName(sessionName string) string {
	base := ipc.DefaultPipeName()
	return base + "-sess-" + sanitizePipeComponent(sessionName)
}

func sanitizePipeComponent(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}

// routerApplier adapts the session manager, key bindings, and command
// router onto config.Applier so a sourced config file can set options,
// bind/unbind keys, and run arbitrary commands through the same paths
// runtime clients use. Only global scope is meaningful here: config files
// are sourced once at server start, before any session/window/pane exists
// to own a narrower scope.
type routerApplier struct {
	sessions *tmux.SessionManager
	bindings *tmux.Bindings
	router   *tmux.CommandRouter
}

func (a *routerApplier) SetOption(_ config.OptionScope, name, value string) error {
	a.sessions.GlobalOptions.Set(name, value)
	return nil
}

func (a *routerApplier) Bind(table, key, command string, repeat bool) error {
	a.bindings.Bind(table, key, command, repeat)
	return nil
}

func (a *routerApplier) Unbind(table, key string) error {
	a.bindings.Unbind(table, key)
	return nil
}

func (a *routerApplier) RunCommand(command string) error {
	req, err := cmdline.ParseCommandString(command)
	if err != nil {
		return err
	}
	resp := a.router.Execute(req)
	if resp.ExitCode != 0 {
		return fmt.Errorf("%s", strings.TrimSpace(resp.Stderr))
	}
	return nil
}
