package scripts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeScript(t *testing.T, root, relPath, content string) string {
	t.Helper()
	full := filepath.Join(root, "app", "scripts", relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0755); err != nil {
		t.Fatal(err)
	}
	return full
}

func TestResolveModuleAlias(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"PIL", "pillow"},
		{"cv2", "opencv-python"},
		{"sklearn", "scikit-learn"},
		{"yaml", "pyyaml"},
		{"yaml.loader", "pyyaml"},
		{"requests", "requests"},
	}
	for _, tt := range tests {
		if got := resolveModuleAlias(tt.name); got != tt.want {
			t.Errorf("resolveModuleAlias(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestMissingModuleRegex(t *testing.T) {
	stderr := "Traceback (most recent call last):\nModuleNotFoundError: No module named 'PIL'"
	match := missingModuleRe.FindStringSubmatch(stderr)
	if match == nil || match[1] != "PIL" {
		t.Fatalf("expected to match PIL, got %v", match)
	}
}

func TestListEnumeratesScripts(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "a.py", "print(1)")
	writeScript(t, root, "sub/b.py", "print(2)")

	r := New(func() string { return root })
	list, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 scripts, got %d: %+v", len(list), list)
	}
	if list[0].RelativePath != "a.py" || list[1].RelativePath != "sub/b.py" {
		t.Errorf("unexpected ordering: %+v", list)
	}
}

func TestRunDedupesAndRunsSequentially(t *testing.T) {
	root := t.TempDir()
	a := writeScript(t, root, "a.sh", "#!/bin/sh\nexit 0\n")
	b := writeScript(t, root, "b.sh", "#!/bin/sh\nexit 0\n")

	r := New(func() string { return root })
	records := r.Run(context.Background(), []string{a, b, a})

	if len(records) != 2 {
		t.Fatalf("expected 2 records after dedup, got %d", len(records))
	}
	if records[0].ScriptPath != a || records[1].ScriptPath != b {
		t.Errorf("expected order [a, b], got [%s, %s]", records[0].ScriptPath, records[1].ScriptPath)
	}
	for _, rec := range records {
		if rec.Classification.Kind != "ok" {
			t.Errorf("expected ok classification for %s, got %+v", rec.ScriptPath, rec.Classification)
		}
	}
}

func TestRunClassifiesFailure(t *testing.T) {
	root := t.TempDir()
	a := writeScript(t, root, "fail.sh", "#!/bin/sh\nexit 3\n")

	r := New(func() string { return root })
	records := r.Run(context.Background(), []string{a})
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Classification.Kind != "failed" || records[0].Classification.ExitCode != 3 {
		t.Errorf("unexpected classification: %+v", records[0].Classification)
	}
}

func TestCapBufferTruncates(t *testing.T) {
	var buf capBuffer
	big := make([]byte, outputCap+1000)
	buf.Write(big)
	if !buf.truncated {
		t.Error("expected truncation marker to be set")
	}
	if len(buf.String()) > outputCap+100 {
		t.Errorf("buffer grew past cap: %d bytes", len(buf.String()))
	}
}
