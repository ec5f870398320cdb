package ipc

import (
	"bufio"
	"net"
	"sync"
	"testing"
	"time"
)

// fakeSessionHandler records dispatched events for assertions.
type fakeSessionHandler struct {
	mu        sync.Mutex
	keys      []KeyEvent
	resizes   []ResizeEvent
	commands  []string
	detached  []string
	cmdResult TmuxResponse
}

func (f *fakeSessionHandler) HandleKey(clientID string, ev KeyEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, ev)
}

func (f *fakeSessionHandler) HandleMouse(clientID string, ev MouseEvent) {}

func (f *fakeSessionHandler) HandleResize(clientID string, ev ResizeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, ev)
}

func (f *fakeSessionHandler) HandleCommand(clientID string, command string) TmuxResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	return f.cmdResult
}

func (f *fakeSessionHandler) HandleDetach(clientID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, clientID)
}

// dialPairHub wires an in-memory net.Pipe pair into a SessionHub without
// touching a real named pipe, mirroring how pipe_server_test.go exercises
// framing logic without winio.
func dialPairHub(t *testing.T, authKey string, handler SessionEventHandler) (serverSide, clientSide net.Conn, hub *SessionHub) {
	t.Helper()
	serverSide, clientSide = net.Pipe()
	hub = NewSessionHub("test-session", authKey, handler)
	hub.wg.Go(func() { hub.handleConnection(serverSide) })
	return serverSide, clientSide, hub
}

func TestSessionHubAuthSuccessRegistersClient(t *testing.T) {
	handler := &fakeSessionHandler{}
	_, client, hub := dialPairHub(t, "secret", handler)
	defer client.Close()

	if err := writeSessionFrame(client, SessionMessage{Type: MsgAuth, AuthKey: "secret"}); err != nil {
		t.Fatalf("writeSessionFrame(auth) error = %v", err)
	}

	reader := bufio.NewReaderSize(client, maxSessionFrameBytes)
	reply, err := readSessionFrame(reader)
	if err != nil {
		t.Fatalf("readSessionFrame() error = %v", err)
	}
	if reply.Type != MsgAuthOK {
		t.Fatalf("reply.Type = %v, want MsgAuthOK", reply.Type)
	}

	waitForCondition(t, func() bool { return hub.ClientCount() == 1 })
	if hub.ActiveClientID() == "" {
		t.Fatalf("ActiveClientID() = \"\", want the newly attached client")
	}
}

func TestSessionHubAuthFailureClosesConnection(t *testing.T) {
	handler := &fakeSessionHandler{}
	_, client, hub := dialPairHub(t, "secret", handler)
	defer client.Close()

	if err := writeSessionFrame(client, SessionMessage{Type: MsgAuth, AuthKey: "wrong"}); err != nil {
		t.Fatalf("writeSessionFrame(auth) error = %v", err)
	}

	reader := bufio.NewReaderSize(client, maxSessionFrameBytes)
	reply, err := readSessionFrame(reader)
	if err != nil {
		t.Fatalf("readSessionFrame() error = %v", err)
	}
	if reply.Type != MsgAuthFail {
		t.Fatalf("reply.Type = %v, want MsgAuthFail", reply.Type)
	}
	waitForCondition(t, func() bool { return hub.ClientCount() == 0 })
}

func TestSessionHubDispatchesKeyAndCommandEvents(t *testing.T) {
	handler := &fakeSessionHandler{cmdResult: TmuxResponse{ExitCode: 0, Stdout: "ok"}}
	_, client, _ := dialPairHub(t, "secret", handler)
	defer client.Close()

	reader := bufio.NewReaderSize(client, maxSessionFrameBytes)

	if err := writeSessionFrame(client, SessionMessage{Type: MsgAuth, AuthKey: "secret"}); err != nil {
		t.Fatalf("writeSessionFrame(auth) error = %v", err)
	}
	if _, err := readSessionFrame(reader); err != nil {
		t.Fatalf("readSessionFrame(auth reply) error = %v", err)
	}

	if err := writeSessionFrame(client, SessionMessage{Type: MsgKey, Key: &KeyEvent{Key: "q"}}); err != nil {
		t.Fatalf("writeSessionFrame(key) error = %v", err)
	}
	if err := writeSessionFrame(client, SessionMessage{Type: MsgCommand, Command: &CommandPayload{Command: "list-sessions"}}); err != nil {
		t.Fatalf("writeSessionFrame(command) error = %v", err)
	}

	reply, err := readSessionFrame(reader)
	if err != nil {
		t.Fatalf("readSessionFrame(command result) error = %v", err)
	}
	if reply.Type != MsgCommandResult || reply.Result == nil || reply.Result.Stdout != "ok" {
		t.Fatalf("reply = %+v, want command result with stdout 'ok'", reply)
	}

	waitForCondition(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.keys) == 1 && len(handler.commands) == 1
	})
}

func TestSessionHubRemovesClientOnDetach(t *testing.T) {
	handler := &fakeSessionHandler{}
	_, client, hub := dialPairHub(t, "secret", handler)

	reader := bufio.NewReaderSize(client, maxSessionFrameBytes)
	if err := writeSessionFrame(client, SessionMessage{Type: MsgAuth, AuthKey: "secret"}); err != nil {
		t.Fatalf("writeSessionFrame(auth) error = %v", err)
	}
	if _, err := readSessionFrame(reader); err != nil {
		t.Fatalf("readSessionFrame(auth reply) error = %v", err)
	}

	if err := writeSessionFrame(client, SessionMessage{Type: MsgDetach}); err != nil {
		t.Fatalf("writeSessionFrame(detach) error = %v", err)
	}
	client.Close()

	waitForCondition(t, func() bool { return hub.ClientCount() == 0 })
	waitForCondition(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.detached) == 1
	})
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not satisfied within timeout")
	}
}
