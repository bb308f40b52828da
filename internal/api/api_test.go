package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/vibefoundry/vibefoundry-bridge/internal/apierr"
	"github.com/vibefoundry/vibefoundry-bridge/internal/policy"
	"github.com/vibefoundry/vibefoundry-bridge/internal/project"
	"github.com/vibefoundry/vibefoundry-bridge/internal/scripts"
	"github.com/vibefoundry/vibefoundry-bridge/internal/sync"
	"github.com/vibefoundry/vibefoundry-bridge/internal/syncclient"
	"github.com/vibefoundry/vibefoundry-bridge/internal/term"
	"github.com/vibefoundry/vibefoundry-bridge/internal/tree"
	"github.com/vibefoundry/vibefoundry-bridge/internal/watch"
)

func TestSafeJoinRejectsEscape(t *testing.T) {
	root := "/tmp/project"
	if _, err := safeJoin(root, "../outside.txt"); err == nil {
		t.Error("expected error for path escaping root")
	}
	if _, err := safeJoin(root, "app/scripts/a.py"); err != nil {
		t.Errorf("expected no error for path inside root, got %v", err)
	}
}

func TestReadCSVRowsRespectsLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(path, []byte("a,b\n1,2\n3,4\n5,6\n"), 0644); err != nil {
		t.Fatal(err)
	}

	header, rows, err := readCSVRows(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(header) != 2 || header[0] != "a" {
		t.Errorf("unexpected header: %v", header)
	}
	if len(rows) != 2 {
		t.Errorf("expected 2 rows with limit, got %d", len(rows))
	}
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	p := policy.New()
	bus := watch.New(p)
	t.Cleanup(bus.Close)

	projects := project.New(bus)
	if _, err := projects.Select(root); err != nil {
		t.Fatal(err)
	}

	client := syncclient.New(p)
	vector := sync.NewVector()

	s := &Server{
		Policy:     p,
		Tree:       tree.New(p),
		Bus:        bus,
		SyncClient: client,
		Sync:       sync.New(client, p),
		Vector:     vector,
		Runner:     scripts.New(func() string { r, _ := projects.Current(); return r.Path }),
		Terminals:  term.NewManager(),
		Projects:   projects,
		RemoteURL:  func() (string, bool) { return "", false },
	}
	return s, root
}

func TestHandleFilesWriteAndRead(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	writeResp, err := http.Post(srv.URL+"/api/files/write", "application/json",
		jsonBody(t, map[string]string{"path": "app/scripts/hello.py", "content": "print(1)"}))
	if err != nil {
		t.Fatal(err)
	}
	if writeResp.StatusCode != http.StatusOK {
		t.Fatalf("write: expected 200, got %d", writeResp.StatusCode)
	}

	readResp, err := http.Get(srv.URL + "/api/files/read?path=app/scripts/hello.py")
	if err != nil {
		t.Fatal(err)
	}
	if readResp.StatusCode != http.StatusOK {
		t.Fatalf("read: expected 200, got %d", readResp.StatusCode)
	}
}

func TestHandleFilesWriteRejectsProtected(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/files/write", "application/json",
		jsonBody(t, map[string]string{"path": "app/CLAUDE.md", "content": "overwritten"}))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestHandleSyncPullWithoutRemoteConfigured(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/sync/pull", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 when no remote configured, got %d", resp.StatusCode)
	}
}

func TestErrResponderMapsKindToStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	errResponder(apierr.New(apierr.KindPolicyViolation, "nope")).Respond(rr, nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(data)
}
