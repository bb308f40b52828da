package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vibefoundry/vibefoundry-bridge/internal/policy"
)

func setupProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{"input", "output", filepath.Join("app", "scripts")} {
		if err := os.MkdirAll(filepath.Join(root, d), 0755); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestClassify(t *testing.T) {
	p := policy.New()
	tests := []struct {
		path     string
		wantKind Kind
		wantOK   bool
	}{
		{"input/data.csv", KindData, true},
		{"output/plot.png", KindOutput, true},
		{"output/notes.txt", "", false},
		{"app/scripts/run.py", KindScript, true},
		{"app/scripts/run.sh", KindScript, true}, // under app/scripts/ regardless of extension
		{"app/readme.md", "", false},
		{"app/analysis.py", KindScript, true},
	}
	for _, tt := range tests {
		kind, ok := classify(tt.path, p)
		if ok != tt.wantOK || (ok && kind != tt.wantKind) {
			t.Errorf("classify(%q) = (%v, %v), want (%v, %v)", tt.path, kind, ok, tt.wantKind, tt.wantOK)
		}
	}
}

func TestWatchCoalescesRapidEdits(t *testing.T) {
	root := setupProject(t)
	bus := New(policy.New())
	if err := bus.Replace(root); err != nil {
		t.Fatal(err)
	}
	defer bus.Close()

	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	target := filepath.Join(root, "app", "scripts", "s.py")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(target, []byte{byte(i)}, 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	select {
	case change := <-ch:
		if change.Kind != KindScript || change.Path != "app/scripts/s.py" {
			t.Errorf("unexpected change: %+v", change)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for coalesced change event")
	}

	// No second event should arrive for the same burst.
	select {
	case change := <-ch:
		t.Errorf("unexpected extra event: %+v", change)
	case <-time.After(1500 * time.Millisecond):
	}
}

func TestSubscribeUnsubscribeClosesChannel(t *testing.T) {
	bus := New(policy.New())
	ch, unsubscribe := bus.Subscribe()
	unsubscribe()
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}
