package term

import (
	"testing"
)

func TestChunkCount(t *testing.T) {
	tests := []struct {
		dataLen   int
		chunkSize int
		wantCount int
	}{
		{0, DefaultChunkSize, 1},
		{100, DefaultChunkSize, 1},
		{DefaultChunkSize, DefaultChunkSize, 1},
		{DefaultChunkSize + 1, DefaultChunkSize, 2},
		{DefaultChunkSize * 3, DefaultChunkSize, 3},
		{100, 10, 1}, // chunkSize below MinChunkSize is raised to it
	}
	for _, tt := range tests {
		count, _ := chunkCount(tt.dataLen, tt.chunkSize)
		if count != tt.wantCount {
			t.Errorf("chunkCount(%d, %d) = %d, want %d", tt.dataLen, tt.chunkSize, count, tt.wantCount)
		}
	}
}

func TestChunkCountCapsAt255(t *testing.T) {
	count, effectiveSize := chunkCount(10_000_000, MinChunkSize)
	if count > maxChunks {
		t.Fatalf("expected count capped at %d, got %d", maxChunks, count)
	}
	if effectiveSize*count < 10_000_000 {
		t.Errorf("effective chunk size %d * count %d doesn't cover data", effectiveSize, count)
	}
}

func TestChunkCountRespectsMinChunkSize(t *testing.T) {
	_, effectiveSize := chunkCount(1000, 10)
	if effectiveSize < MinChunkSize {
		t.Errorf("expected effective chunk size floor of %d, got %d", MinChunkSize, effectiveSize)
	}
}

func TestParseControlMessage(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantOK  bool
		wantTyp string
		wantCol uint16
		wantRow uint16
	}{
		{"resize", `{"type":"resize","cols":120,"rows":40}`, true, "resize", 120, 40},
		{"ping", `{"type":"ping"}`, true, "ping", 0, 0},
		{"pong", `{"type":"pong"}`, true, "pong", 0, 0},
		{"malformed", `not json`, false, "", 0, 0},
		{"empty object", `{}`, true, "", 0, 0},
	}
	for _, tt := range tests {
		msg, ok := parseControlMessage([]byte(tt.data))
		if ok != tt.wantOK {
			t.Errorf("%s: parseControlMessage ok = %v, want %v", tt.name, ok, tt.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if msg.Type != tt.wantTyp || msg.Cols != tt.wantCol || msg.Rows != tt.wantRow {
			t.Errorf("%s: got %+v", tt.name, msg)
		}
	}
}

func TestRemoteTerminalURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://sandbox.example.com", "wss://sandbox.example.com/terminal"},
		{"http://localhost:8080", "ws://localhost:8080/terminal"},
		{"https://sandbox.example.com/base/path", "wss://sandbox.example.com/terminal"},
	}
	for _, tt := range tests {
		got, err := remoteTerminalURL(tt.base)
		if err != nil {
			t.Fatalf("remoteTerminalURL(%q): %v", tt.base, err)
		}
		if got != tt.want {
			t.Errorf("remoteTerminalURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestRemoteTerminalURLRejectsInvalid(t *testing.T) {
	if _, err := remoteTerminalURL("://not a url"); err == nil {
		t.Error("expected error for malformed base URL")
	}
}

func TestManagerListAndClose(t *testing.T) {
	m := NewManager()
	if len(m.List()) != 0 {
		t.Fatalf("expected empty manager, got %v", m.List())
	}

	s := &Session{ID: "abc", Mode: ModeLocal, done: make(chan struct{})}
	m.add(s)

	ids := m.List()
	if len(ids) != 1 || ids[0] != "abc" {
		t.Fatalf("expected [abc], got %v", ids)
	}

	if !m.Close("abc") {
		t.Error("expected Close to report the session existed")
	}
	if len(m.List()) != 0 {
		t.Errorf("expected empty manager after close, got %v", m.List())
	}
	if m.Close("abc") {
		t.Error("expected second Close to report no such session")
	}
}

func TestSessionGeometry(t *testing.T) {
	s := &Session{done: make(chan struct{})}
	s.setGeometry(100, 30)
	cols, rows := s.geometry()
	if cols != 100 || rows != 30 {
		t.Errorf("geometry() = (%d, %d), want (100, 30)", cols, rows)
	}
}

