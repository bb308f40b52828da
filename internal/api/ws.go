package api

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vibefoundry/vibefoundry-bridge/internal/term"
)

// readCSVRows reads a CSV file's header and up to limit data rows (0
// means all rows), for the dataframe preview endpoints.
func readCSVRows(path string, limit int) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	var rows [][]string
	for {
		if limit > 0 && len(rows) >= limit {
			break
		}
		record, readErr := r.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return header, rows, readErr
		}
		rows = append(rows, record)
	}
	return header, rows, nil
}

// handleWatchWS streams C3 file-change events to a subscribed client as
// JSON text frames, one Change per message, plus a {"type":"keepalive"}
// frame every 30s.
func (s *Server) handleWatchWS(w http.ResponseWriter, r *http.Request) {
	conn, err := term.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[API] upgrading watch websocket: %v", err)
		return
	}
	defer conn.Close()

	changes, unsubscribe := s.Bus.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	// Drain (and discard) any client-sent frames so the connection is
	// correctly torn down when the browser tab closes.
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case change, ok := <-changes:
			if !ok {
				return
			}
			data, marshalErr := json.Marshal(change)
			if marshalErr != nil {
				continue
			}
			if writeErr := conn.WriteMessage(websocket.TextMessage, data); writeErr != nil {
				return
			}
		case <-keepalive.C:
			if writeErr := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"keepalive"}`)); writeErr != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// handleTerminalWS upgrades to a WebSocket and starts a C7 terminal
// session, local or remote depending on whether a remote sandbox is
// configured and the client asked for it via ?mode=remote.
func (s *Server) handleTerminalWS(w http.ResponseWriter, r *http.Request) {
	conn, err := term.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[API] upgrading terminal websocket: %v", err)
		return
	}

	root, rootErr := s.projectRoot()
	if rootErr != nil {
		conn.Close()
		return
	}

	mode := r.URL.Query().Get("mode")
	if mode == "remote" {
		remoteBase, remoteErr := s.remoteURL()
		if remoteErr != nil {
			conn.Close()
			return
		}
		if startErr := term.StartRemote(s.Terminals, conn, remoteBase); startErr != nil {
			log.Printf("[API] starting remote terminal: %v", startErr)
			conn.Close()
		}
		return
	}

	if startErr := term.StartLocal(s.Terminals, conn, filepath.Join(root, "app")); startErr != nil {
		log.Printf("[API] starting local terminal: %v", startErr)
		conn.Close()
	}
}
