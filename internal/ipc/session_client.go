package ipc

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// AttachConn is a dialed, authenticated persistent connection to a
// session's SessionHub, ready to exchange SessionMessage frames.
//
// SendCommand and Recv share one underlying reader with no internal
// locking: a caller must either run a single read loop that itself
// recognizes command_result replies, or otherwise guarantee SendCommand
// and Recv are never in flight at the same time.
type AttachConn struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Attach dials pipeName and performs the AUTH handshake with authKey,
// returning an AttachConn on success. The server closes the connection
// immediately on an AUTH mismatch (MsgAuthFail), which Attach surfaces as
// an error.
func Attach(pipeName, authKey string) (*AttachConn, error) {
	dialTimeout := defaultPipeDialTimeout
	conn, err := winio.DialPipe(pipeName, &dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", pipeName, err)
	}

	ac := &AttachConn{conn: conn, reader: bufio.NewReaderSize(conn, maxSessionFrameBytes)}

	if err := conn.SetDeadline(time.Now().Add(defaultPipeRWTimeout)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set auth deadline: %w", err)
	}
	if err := writeSessionFrame(conn, SessionMessage{Type: MsgAuth, AuthKey: authKey}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send auth frame: %w", err)
	}
	reply, err := readSessionFrame(ac.reader)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read auth reply: %w", err)
	}
	if reply.Type != MsgAuthOK {
		_ = conn.Close()
		return nil, fmt.Errorf("auth rejected: %s", reply.Reason)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clear deadline after auth: %w", err)
	}
	return ac, nil
}

// Close closes the underlying connection.
func (a *AttachConn) Close() error { return a.conn.Close() }

// SendKey forwards a key event to the server.
func (a *AttachConn) SendKey(ev KeyEvent) error {
	return writeSessionFrame(a.conn, SessionMessage{Type: MsgKey, Key: &ev})
}

// SendMouse forwards a mouse event to the server.
func (a *AttachConn) SendMouse(ev MouseEvent) error {
	return writeSessionFrame(a.conn, SessionMessage{Type: MsgMouse, Mouse: &ev})
}

// SendResize forwards the client's new viewport size to the server.
func (a *AttachConn) SendResize(ev ResizeEvent) error {
	return writeSessionFrame(a.conn, SessionMessage{Type: MsgResize, Resize: &ev})
}

// SendCommand sends a control-mode command string and blocks for the
// server's TmuxResponse.
func (a *AttachConn) SendCommand(command string) (TmuxResponse, error) {
	if err := writeSessionFrame(a.conn, SessionMessage{Type: MsgCommand, Command: &CommandPayload{Command: command}}); err != nil {
		return TmuxResponse{}, err
	}
	for {
		msg, err := readSessionFrame(a.reader)
		if err != nil {
			return TmuxResponse{}, err
		}
		if msg.Type == MsgCommandResult && msg.Result != nil {
			return *msg.Result, nil
		}
		// Any other message (a render frame, a heartbeat) arriving while
		// waiting for this particular reply is not this call's concern;
		// Recv is how a caller's read loop should be consuming those.
	}
}

// Detach sends a detach request and closes the connection.
func (a *AttachConn) Detach() error {
	err := writeSessionFrame(a.conn, SessionMessage{Type: MsgDetach})
	_ = a.conn.Close()
	return err
}

// Recv blocks for the next server-originated message (render frame, bell,
// heartbeat, exit/detach notice, or a command result delivered out of band
// from SendCommand).
func (a *AttachConn) Recv() (SessionMessage, error) {
	return readSessionFrame(a.reader)
}
