package syncclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vibefoundry/vibefoundry-bridge/internal/policy"
)

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	c := New(policy.New())
	if !c.Health(context.Background(), srv.URL) {
		t.Error("expected healthy")
	}
}

func TestListScripts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"scripts": []ScriptEntry{{Path: "a/b.py", Modified: 1700000000}},
		})
	}))
	defer srv.Close()

	c := New(policy.New())
	entries, err := c.ListScripts(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Path != "a/b.py" || entries[0].Modified != 1700000000 {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestPutFileRejectsForbiddenForSync(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := New(policy.New())
	err := c.PutFile(context.Background(), srv.URL, "scripts/report.csv", "a,b")
	if err == nil {
		t.Fatal("expected rejection for forbidden-for-sync extension")
	}
	if called {
		t.Error("forbidden-for-sync path must be rejected client-side before any network call")
	}
}

func TestGetFileNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(policy.New())
	_, err := c.GetFile(context.Background(), srv.URL, "scripts/missing.py")
	if err == nil {
		t.Fatal("expected not_found error")
	}
}
