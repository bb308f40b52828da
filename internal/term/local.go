package term

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hinshun/vt10x"
)

// terminateProcess kills the session's process and reaps it.
func terminateProcess(cmd *exec.Cmd) {
	cmd.Process.Kill()
	cmd.Wait()
}

// shellCommand returns the interactive shell to launch for a local PTY
// session: the user's $SHELL, falling back to /bin/bash.
func shellCommand() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/bash"
}

// StartLocal allocates a PTY running an interactive shell in workDir,
// registers it with the manager under a fresh opaque id, and pumps bytes
// between the PTY and client for the life of the connection. It blocks
// until the session ends (client disconnect, idle timeout, or PTY exit).
func StartLocal(m *Manager, client *websocket.Conn, workDir string) error {
	cmd := exec.Command(shellCommand())
	cmd.Dir = workDir
	cmd.Env = os.Environ()

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: DefaultRows, Cols: DefaultCols})
	if err != nil {
		return fmt.Errorf("starting pty: %w", err)
	}

	vt := vt10x.New(vt10x.WithSize(DefaultCols, DefaultRows))

	s := &Session{
		ID:           uuid.New().String(),
		Mode:         ModeLocal,
		cols:         DefaultCols,
		rows:         DefaultRows,
		lastActivity: time.Now(),
		cmd:          cmd,
		pty:          ptmx,
		vt:           vt,
		client:       client,
		done:         make(chan struct{}),
	}
	m.add(s)
	defer m.remove(s.ID)
	defer s.shutdown("session ended")

	go s.pumpPTYToClient()
	s.pumpClientToPTY()

	return nil
}

// pumpPTYToClient copies PTY output to both the virtual terminal (for
// snapshot regeneration) and the live client connection.
func (s *Session) pumpPTYToClient() {
	buf := make([]byte, 4096)
	for {
		n, err := s.pty.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)

			s.vtMu.Lock()
			s.vt.Write(chunk)
			s.vtMu.Unlock()

			if writeErr := s.writeToClient(websocket.BinaryMessage, chunk); writeErr != nil {
				s.shutdown("client write failed")
				return
			}
		}
		if err != nil {
			s.shutdown("process exited")
			return
		}
	}
}

// pumpClientToPTY reads from the client connection until it closes or
// goes idle past IdleTimeout, forwarding raw bytes to the PTY and
// control-message (resize/ping) text frames to their handlers.
func (s *Session) pumpClientToPTY() {
	for {
		s.client.SetReadDeadline(time.Now().Add(IdleTimeout))
		messageType, data, err := s.client.ReadMessage()
		if err != nil {
			return
		}
		s.touch()

		switch messageType {
		case websocket.BinaryMessage:
			if _, err := s.pty.Write(data); err != nil {
				return
			}
		case websocket.TextMessage:
			s.handleControlMessage(data)
		case websocket.PingMessage:
			// touch() above already extended the deadline.
		}
	}
}

func (s *Session) handleControlMessage(data []byte) {
	msg, ok := parseControlMessage(data)
	if !ok {
		return
	}
	switch msg.Type {
	case "resize":
		s.applyResize(msg.Cols, msg.Rows)
	case "ping":
		// client keepalive; touch() already extended the deadline.
	default:
		log.Printf("[TERM] session %s: unrecognized control message %q", s.ID, msg.Type)
	}
}

func (s *Session) applyResize(cols, rows uint16) {
	if cols == 0 || rows == 0 {
		return
	}
	s.setGeometry(cols, rows)
	if f, ok := s.pty.(*os.File); ok {
		pty.Setsize(f, &pty.Winsize{Rows: rows, Cols: cols})
	}
	s.vtMu.Lock()
	s.vt.Resize(int(cols), int(rows))
	s.vtMu.Unlock()
}

// Snapshot returns the current screen as one gzip-compressed ANSI redraw
// (raw if compression fails); SendSnapshot splits it into chunks.
func (s *Session) Snapshot() []byte {
	return generateSnapshot(s.vt, &s.vtMu)
}

// SendSnapshot pushes the current screen to the client, chunked per
// DefaultChunkSize.
func (s *Session) SendSnapshot() error {
	return sendChunked(s.client, &s.writeMu, s.Snapshot(), DefaultChunkSize)
}
