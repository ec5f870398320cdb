package main

import (
	"sync"

	"psmux/internal/cmdline"
	"psmux/internal/dispatch"
	"psmux/internal/ipc"
	"psmux/internal/tmux"
)

// sessionHandler implements ipc.SessionEventHandler for one SessionHub. All
// methods run on the hub's own goroutines; it fans input out to one
// dispatch.Dispatcher per attached client and resolves "the active pane"
// fresh on every call, since the active pane can change between keystrokes.
type sessionHandler struct {
	srv *Server
	run *sessionRuntime

	mu          sync.Mutex
	dispatchers map[string]*dispatch.Dispatcher
}

func (h *sessionHandler) dispatcherFor(clientID string) *dispatch.Dispatcher {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.dispatchers[clientID]
	if !ok {
		d = dispatch.New(h.srv.sessions.Bindings, &paneSink{srv: h.srv, run: h.run}, dispatch.Options{})
		h.dispatchers[clientID] = d
	}
	return d
}

func (h *sessionHandler) HandleKey(clientID string, ev ipc.KeyEvent) {
	h.dispatcherFor(clientID).HandleKey(ev.Key)
}

func (h *sessionHandler) HandleMouse(string, ipc.MouseEvent) {
	// Mouse reporting is not wired into copy-mode/pane selection yet.
}

func (h *sessionHandler) HandleResize(clientID string, ev ipc.ResizeEvent) {
	if ev.Cols <= 0 || ev.Rows <= 0 {
		return
	}
	h.run.sizeMu.Lock()
	h.run.clientCols = ev.Cols
	h.run.clientRows = ev.Rows
	h.run.sizeMu.Unlock()
}

func (h *sessionHandler) HandleCommand(_ string, command string) ipc.TmuxResponse {
	req, err := cmdline.ParseCommandString(command)
	if err != nil {
		return ipc.TmuxResponse{ExitCode: 1, Stderr: err.Error()}
	}
	if pane, perr := h.srv.sessions.ResolveTarget(h.run.currentName(), -1); perr == nil {
		req.CallerPane = pane.IDString()
	}
	return h.srv.router.Execute(req)
}

func (h *sessionHandler) HandleDetach(clientID string) {
	h.mu.Lock()
	d, ok := h.dispatchers[clientID]
	delete(h.dispatchers, clientID)
	h.mu.Unlock()
	if ok {
		d.Close()
	}
}

// paneSink implements dispatch.Sink by resolving the session's active pane
// at the moment a key or bound command arrives, rather than caching it.
type paneSink struct {
	srv *Server
	run *sessionRuntime
}

func (s *paneSink) RunCommand(command string) {
	req, err := cmdline.ParseCommandString(command)
	if err != nil {
		return
	}
	if pane, perr := s.srv.sessions.ResolveTarget(s.run.currentName(), -1); perr == nil {
		req.CallerPane = pane.IDString()
	}
	s.srv.router.Execute(req)
}

func (s *paneSink) ForwardKey(key string) {
	pane, err := s.srv.sessions.ResolveTarget(s.run.currentName(), -1)
	if err != nil || pane.Terminal == nil {
		return
	}
	_, _ = pane.Terminal.Write(tmux.TranslateSendKeys([]string{key}))
}
