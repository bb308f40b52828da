package term

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// StartRemote dials the remote sandbox's /terminal WebSocket and bridges
// it byte-for-byte to client, forwarding resize control frames verbatim
// and running an independent keepalive ping against the remote leg. It
// blocks until either side closes.
func StartRemote(m *Manager, client *websocket.Conn, remoteBaseURL string) error {
	wsURL, err := remoteTerminalURL(remoteBaseURL)
	if err != nil {
		return err
	}

	remoteConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dialing remote terminal: %w", err)
	}

	s := &Session{
		ID:           uuid.New().String(),
		Mode:         ModeRemote,
		cols:         DefaultCols,
		rows:         DefaultRows,
		lastActivity: time.Now(),
		remoteConn:   remoteConn,
		client:       client,
		done:         make(chan struct{}),
	}
	m.add(s)
	defer m.remove(s.ID)
	defer s.shutdown("session ended")

	go s.remoteKeepalive()
	go s.pumpRemoteToClient()
	s.pumpClientToRemote()

	return nil
}

// pumpRemoteToClient copies bytes from the remote sandbox to the client,
// filtering out pong replies to our own keepalive pings so they never
// reach the browser.
func (s *Session) pumpRemoteToClient() {
	for {
		messageType, data, err := s.remoteConn.ReadMessage()
		if err != nil {
			s.shutdown("remote connection closed")
			return
		}
		s.touch()

		if messageType == websocket.TextMessage {
			if msg, ok := parseControlMessage(data); ok && msg.Type == "pong" {
				continue
			}
		}

		if err := s.writeToClient(messageType, data); err != nil {
			s.shutdown("client write failed")
			return
		}
	}
}

// pumpClientToRemote reads from the client until it closes or goes idle
// past IdleTimeout, forwarding everything (raw bytes and resize/ping
// control frames) to the remote leg unchanged.
func (s *Session) pumpClientToRemote() {
	for {
		s.client.SetReadDeadline(time.Now().Add(IdleTimeout))
		messageType, data, err := s.client.ReadMessage()
		if err != nil {
			return
		}
		s.touch()

		if messageType == websocket.TextMessage {
			if msg, ok := parseControlMessage(data); ok && msg.Type == "resize" {
				s.setGeometry(msg.Cols, msg.Rows)
			}
		}

		s.writeMu.Lock()
		err = s.remoteConn.WriteMessage(messageType, data)
		s.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// remoteKeepalive sends a {"type":"ping"} text frame to the remote leg
// every RemotePingInterval, independent of client activity, so the
// remote sandbox's own idle reaper never times out a quiet session.
func (s *Session) remoteKeepalive() {
	ticker := time.NewTicker(RemotePingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.remoteConn.WriteJSON(controlMessage{Type: "ping"})
			s.writeMu.Unlock()
			if err != nil {
				s.shutdown("remote keepalive failed")
				return
			}
		}
	}
}
