// Package term implements the C7 PTY multiplexer: local pseudo-terminal
// sessions and byte-for-byte proxied remote terminal sessions, both
// exposed to the browser behind the same opaque-id WebSocket contract.
package term

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os/exec"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hinshun/vt10x"
)

// Mode distinguishes a locally-allocated PTY session from one proxied to
// the remote sandbox's terminal endpoint.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// Fixed initial geometry, per spec §4.7.1: sessions are not auto-fit to
// the viewport, only resized on an explicit client request.
const (
	DefaultCols = 80
	DefaultRows = 20
)

// Chunked binary-message framing, for WebSocket clients (iOS Safari in
// particular) that choke on one very large frame: a snapshot is split
// into [marker, index, total, ...payload] chunks.
const (
	chunkMarker      = 0x02
	DefaultChunkSize = 8192
	MinChunkSize     = 512
	maxChunks        = 255
)

// IdleTimeout is the read-idle deadline for a terminal WebSocket; any
// inbound byte or ping extends it, per spec §5.
const IdleTimeout = 90 * time.Second

// RemotePingInterval is the keepalive cadence C7.2 sends on the remote
// leg, per spec §4.7.2.
const RemotePingInterval = 27 * time.Second

// Upgrader is shared by both session modes. CheckOrigin accepts every
// origin and no handler checks it either; the daemon listens only on
// 127.0.0.1.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Session is one live C7 terminal session: an opaque id bridging a
// single client WebSocket to either a local PTY or a remote WebSocket.
type Session struct {
	ID   string
	Mode Mode

	mu           sync.Mutex
	cols, rows   uint16
	lastActivity time.Time

	cmd  *exec.Cmd   // local mode only
	pty  ptyHandle   // local mode only
	vt   vt10x.Terminal
	vtMu sync.Mutex

	remoteConn *websocket.Conn // remote mode only

	client    *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// ptyHandle narrows the *os.File-shaped PTY to what Session needs.
type ptyHandle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Manager owns the set of live terminal sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager returns an empty session registry.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

func (m *Manager) add(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// List returns the ids of currently live sessions.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close terminates and removes the session with the given id, if any. It
// reports whether a session with that id existed.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		sess.shutdown("closed by request")
	}
	return ok
}

// CloseAll tears down every live session, used on project reselection
// (scenario S8) and daemon shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.shutdown("project changed")
	}
}

// controlMessage is the JSON shape of a text-frame control message sent
// by the client or the remote leg: resize carries cols/rows, ping/pong
// carry neither.
type controlMessage struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

// parseControlMessage decodes a text-frame control message. The second
// return value is false for malformed JSON, which callers should ignore
// rather than fail the connection over.
func parseControlMessage(data []byte) (controlMessage, bool) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return controlMessage{}, false
	}
	return msg, true
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

func (s *Session) geometry() (cols, rows uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

func (s *Session) setGeometry(cols, rows uint16) {
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
}

func (s *Session) writeToClient(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.client.WriteMessage(messageType, data)
}

// shutdown tears down both legs of the session and signals done exactly
// once. reason becomes the close-frame payload sent to the client.
func (s *Session) shutdown(reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.client != nil {
			s.writeMu.Lock()
			s.client.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
				time.Now().Add(2*time.Second))
			s.writeMu.Unlock()
			s.client.Close()
		}
		if s.pty != nil {
			s.pty.Close()
		}
		if s.cmd != nil && s.cmd.Process != nil {
			terminateProcess(s.cmd)
		}
		if s.remoteConn != nil {
			s.remoteConn.Close()
		}
	})
}

// remoteTerminalURL converts the remote sandbox's HTTP(S) base URL into
// its WebSocket /terminal endpoint.
func remoteTerminalURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing remote base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/terminal"
	return u.String(), nil
}

func compressSnapshot(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// chunkCount returns how many chunks data splits into and the chunk size
// actually used. A chunkSize below MinChunkSize is raised to
// MinChunkSize; the count is capped at maxChunks (the chunk-index byte is
// a single byte wide), and the chunk size then grows to cover the data.
func chunkCount(dataLen, chunkSize int) (count, effectiveChunkSize int) {
	if chunkSize < MinChunkSize {
		chunkSize = MinChunkSize
	}
	count = (dataLen + chunkSize - 1) / chunkSize
	if count > maxChunks {
		count = maxChunks
		chunkSize = (dataLen + maxChunks - 1) / maxChunks
	}
	if count == 0 {
		count = 1
	}
	return count, chunkSize
}

// sendChunked frames data as one or more [chunkMarker, index, total,
// ...payload] binary WebSocket messages.
func sendChunked(conn *websocket.Conn, writeMu *sync.Mutex, data []byte, chunkSize int) error {
	total, chunkSize := chunkCount(len(data), chunkSize)

	writeMu.Lock()
	defer writeMu.Unlock()

	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := make([]byte, 3+end-start)
		chunk[0] = chunkMarker
		chunk[1] = byte(i)
		chunk[2] = byte(total)
		copy(chunk[3:], data[start:end])
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			return err
		}
	}
	return nil
}

// generateSnapshot renders the virtual terminal's current screen as ANSI
// escape sequences that recreate it from a blank screen, for redraw on
// client reconnect. Returns gzip-compressed bytes; falls back to raw
// bytes if compression fails.
func generateSnapshot(vt vt10x.Terminal, vtMu *sync.Mutex) []byte {
	vtMu.Lock()
	defer vtMu.Unlock()

	var buf bytes.Buffer
	cols, rows := vt.Size()

	buf.WriteString("\x1b[2J")
	buf.WriteString("\x1b[H")

	lastFG, lastBG := vt10x.DefaultFG, vt10x.DefaultBG
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			cell := vt.Cell(col, row)
			if cell.FG != lastFG || cell.BG != lastBG {
				buf.WriteString("\x1b[0m")
				if cell.FG != vt10x.DefaultFG && cell.FG < 256 {
					fmt.Fprintf(&buf, "\x1b[38;5;%dm", cell.FG)
				}
				if cell.BG != vt10x.DefaultBG && cell.BG < 256 {
					fmt.Fprintf(&buf, "\x1b[48;5;%dm", cell.BG)
				}
				lastFG, lastBG = cell.FG, cell.BG
			}
			if cell.Char == 0 {
				buf.WriteRune(' ')
			} else {
				buf.WriteRune(cell.Char)
			}
		}
		if row < rows-1 {
			buf.WriteString("\r\n")
		}
	}
	buf.WriteString("\x1b[0m")

	cursor := vt.Cursor()
	fmt.Fprintf(&buf, "\x1b[%d;%dH", cursor.Y+1, cursor.X+1)

	rawData := buf.Bytes()
	compressed, err := compressSnapshot(rawData)
	if err != nil {
		return rawData
	}
	return compressed
}
