package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sessionWriteDeadline bounds a single write to an attached client. Mirrors
// wsserver.Hub's writeDeadline: generous for a local pipe, short enough that
// a frozen client is dropped rather than stalling the compositor.
const sessionWriteDeadline = 5 * time.Second

// sessionReadDeadline bounds how long the hub waits for any activity
// (including client pings) before considering a connection dead.
const sessionReadDeadline = 90 * time.Second

// sessionHeartbeatInterval is how often the hub pushes a heartbeat to each
// attached client, the named-pipe analog of wsserver's WebSocket ping.
const sessionHeartbeatInterval = 30 * time.Second

// SessionEventHandler receives decoded input events from attached clients.
// All calls happen on the hub's own goroutines; implementations must be
// safe for concurrent use and must not block for long (matching the
// "server event loop" scheduling model: long I/O happens elsewhere).
type SessionEventHandler interface {
	HandleKey(clientID string, ev KeyEvent)
	HandleMouse(clientID string, ev MouseEvent)
	HandleResize(clientID string, ev ResizeEvent)
	HandleCommand(clientID string, command string) TmuxResponse
	HandleDetach(clientID string)
}

// sessionClient is one attached client's connection state.
type sessionClient struct {
	id   string
	conn net.Conn

	// writeMu serializes writes to conn. gorilla/websocket's lock-ordering
	// discipline (writeMu acquired independently, never while holding the
	// hub's mu) is mirrored here: never acquire hub.mu while holding a
	// sessionClient's writeMu.
	writeMu sync.Mutex

	active bool // whether this client currently drives rendering
}

// SessionHub is the persistent, AUTH-gated, multi-client attach channel for
// one running session. One SessionHub exists per server-side tmux session;
// clients come and go independently of it.
//
// Lock ordering: hub.mu is never acquired while a client's writeMu is held.
// hub.mu protects the client set and which client is active; writeMu
// instances are per-client and serialize that client's pipe writes.
type SessionHub struct {
	sessionName string
	authKey     string
	handler     SessionEventHandler

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	listener net.Listener
	clients  map[string]*sessionClient
	activeID string

	started bool
	wg      sync.WaitGroup
}

// NewSessionHub constructs a hub for sessionName, authenticating clients
// against authKey. handler receives decoded input events.
func NewSessionHub(sessionName, authKey string, handler SessionEventHandler) *SessionHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionHub{
		sessionName: sessionName,
		authKey:     authKey,
		handler:     handler,
		ctx:         ctx,
		cancel:      cancel,
		clients:     make(map[string]*sessionClient),
	}
}

// Start listens on pipeName (a fresh, session-specific pipe distinct from
// the one-shot command PipeServer's pipe) and begins accepting attach
// connections.
func (h *SessionHub) Start(pipeName string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return errors.New("session hub already started")
	}
	listener, err := listenPipeWithCurrentUserDACL(pipeName)
	if err != nil {
		return fmt.Errorf("listen %s: %w", pipeName, err)
	}
	h.listener = listener
	h.started = true
	h.wg.Go(h.acceptLoop)
	return nil
}

// Stop closes the listener, disconnects every client, and waits for their
// handler goroutines to exit.
func (h *SessionHub) Stop() error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = false
	h.cancel()
	listener := h.listener
	h.listener = nil
	clients := make([]*sessionClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	if listener != nil {
		_ = listener.Close()
	}
	for _, c := range clients {
		_ = c.conn.Close()
	}
	h.wg.Wait()
	return nil
}

// ActiveClientID returns the client ID currently driving rendering, or "" if
// no client is attached.
func (h *SessionHub) ActiveClientID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.activeID
}

// ClientCount returns the number of currently attached clients.
func (h *SessionHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *SessionHub) acceptLoop() {
	for {
		h.mu.RLock()
		listener := h.listener
		h.mu.RUnlock()
		if listener == nil {
			return
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-h.ctx.Done():
				return
			default:
				slog.Debug("[ipc] session hub accept error", "session", h.sessionName, "error", err)
				continue
			}
		}

		h.wg.Go(func() { h.handleConnection(conn) })
	}
}

func (h *SessionHub) handleConnection(conn net.Conn) {
	client := &sessionClient{conn: conn}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[ipc] session hub connection handler recovered",
				"session", h.sessionName, "panic", rec, "stack", string(debug.Stack()))
		}
		h.removeClient(client)
		_ = conn.Close()
	}()

	if err := conn.SetReadDeadline(time.Now().Add(sessionReadDeadline)); err != nil {
		slog.Warn("[ipc] session hub: set initial read deadline failed", "error", err)
		return
	}

	reader := bufio.NewReaderSize(conn, maxSessionFrameBytes)
	first, err := readSessionFrame(reader)
	if err != nil {
		slog.Debug("[ipc] session hub: client disconnected before AUTH", "error", err)
		return
	}
	if first.Type != MsgAuth || !checkAuthKey(h.authKey, first.AuthKey) {
		h.writeTo(client, SessionMessage{Type: MsgAuthFail, Reason: "auth mismatch"})
		slog.Warn("[ipc] session hub: AUTH mismatch, closing connection", "session", h.sessionName)
		return
	}

	client.id = h.addClient(client)
	h.writeTo(client, SessionMessage{Type: MsgAuthOK})

	heartbeatDone := make(chan struct{})
	h.wg.Go(func() { h.heartbeatLoop(client, heartbeatDone) })
	defer close(heartbeatDone)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(sessionReadDeadline)); err != nil {
			slog.Debug("[ipc] session hub: set read deadline failed", "error", err)
			return
		}
		msg, err := readSessionFrame(reader)
		if err != nil {
			slog.Debug("[ipc] session hub: client read error", "clientID", client.id, "error", err)
			return
		}
		if h.dispatch(client, msg) {
			return
		}
	}
}

// dispatch applies one client-originated message. Returns true if the
// connection should be closed (detach requested).
func (h *SessionHub) dispatch(client *sessionClient, msg SessionMessage) bool {
	switch msg.Type {
	case MsgKey:
		if msg.Key != nil {
			h.handler.HandleKey(client.id, *msg.Key)
		}
	case MsgMouse:
		if msg.Mouse != nil {
			h.handler.HandleMouse(client.id, *msg.Mouse)
		}
	case MsgResize:
		if msg.Resize != nil {
			h.handler.HandleResize(client.id, *msg.Resize)
		}
	case MsgCommand:
		if msg.Command != nil {
			resp := h.handler.HandleCommand(client.id, msg.Command.Command)
			h.writeTo(client, SessionMessage{Type: MsgCommandResult, Result: &resp})
		}
	case MsgPing:
		h.writeTo(client, SessionMessage{Type: MsgPong})
	case MsgDetach:
		return true
	default:
		slog.Debug("[ipc] session hub: unexpected message type from client", "type", msg.Type)
	}
	return false
}

func (h *SessionHub) heartbeatLoop(client *sessionClient, done <-chan struct{}) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[ipc] session hub heartbeat recovered", "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	ticker := time.NewTicker(sessionHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			if err := h.writeTo(client, SessionMessage{Type: MsgHeartbeat}); err != nil {
				return
			}
		}
	}
}

func (h *SessionHub) addClient(client *sessionClient) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.id = uuid.NewString()
	h.clients[client.id] = client
	if h.activeID == "" {
		h.activeID = client.id
		client.active = true
	}
	return client.id
}

func (h *SessionHub) removeClient(client *sessionClient) {
	if client.id == "" {
		return // never completed AUTH, nothing was registered
	}
	h.mu.Lock()
	delete(h.clients, client.id)
	if h.activeID == client.id {
		h.activeID = ""
		for id, c := range h.clients {
			h.activeID = id
			c.active = true
			break
		}
	}
	h.mu.Unlock()
	h.handler.HandleDetach(client.id)
}

// writeTo sends msg to client, serialized against that client's own writes.
// Acquires only client.writeMu, never hub.mu, per the documented lock
// ordering.
func (h *SessionHub) writeTo(client *sessionClient, msg SessionMessage) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	if err := client.conn.SetWriteDeadline(time.Now().Add(sessionWriteDeadline)); err != nil {
		return err
	}
	if err := writeSessionFrame(client.conn, msg); err != nil {
		slog.Debug("[ipc] session hub: write failed, client will be dropped", "clientID", client.id, "error", err)
		return err
	}
	return nil
}

// BroadcastRender sends frame to the currently active client only: per
// spec, at most one client's viewport drives rendering at a time.
func (h *SessionHub) BroadcastRender(frame RenderFrame) {
	h.mu.RLock()
	active := h.clients[h.activeID]
	h.mu.RUnlock()
	if active == nil {
		return
	}
	if err := h.writeTo(active, SessionMessage{Type: MsgRender, Render: &frame}); err != nil {
		_ = active.conn.Close()
	}
}

// SendToAll delivers msg (bell, exit, detach notice) to every attached
// client, dropping any that fail to accept the write.
func (h *SessionHub) SendToAll(msg SessionMessage) {
	h.mu.RLock()
	all := make([]*sessionClient, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		if err := h.writeTo(c, msg); err != nil {
			_ = c.conn.Close()
		}
	}
}
