package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vibefoundry/vibefoundry-bridge/internal/policy"
	"github.com/vibefoundry/vibefoundry-bridge/internal/watch"
)

func TestSelectScaffoldsRequiredSubtree(t *testing.T) {
	root := t.TempDir()
	bus := watch.New(policy.New())
	defer bus.Close()

	m := New(bus)
	info, err := m.Select(root)
	if err != nil {
		t.Fatal(err)
	}
	if info.Path != root {
		t.Errorf("expected path %s, got %s", root, info.Path)
	}

	for _, dir := range requiredDirs {
		if fi, statErr := os.Stat(filepath.Join(root, dir)); statErr != nil || !fi.IsDir() {
			t.Errorf("expected directory %s to exist", dir)
		}
	}
	for _, file := range []string{filepath.Join("app", "CLAUDE.md"), filepath.Join("app", "metadatafarmer.py")} {
		if _, statErr := os.Stat(filepath.Join(root, file)); statErr != nil {
			t.Errorf("expected file %s to exist", file)
		}
	}

	current, ok := m.Current()
	if !ok || current.Path != root {
		t.Errorf("expected current project %s, got %+v (ok=%v)", root, current, ok)
	}
}

func TestSelectIsIdempotentAndPreservesExistingFiles(t *testing.T) {
	root := t.TempDir()
	bus := watch.New(policy.New())
	defer bus.Close()
	m := New(bus)

	if _, err := m.Select(root); err != nil {
		t.Fatal(err)
	}
	custom := "# custom notes\n"
	claudePath := filepath.Join(root, "app", "CLAUDE.md")
	if err := os.WriteFile(claudePath, []byte(custom), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Select(root); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(claudePath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != custom {
		t.Errorf("expected CLAUDE.md to be preserved, got %q", got)
	}
}

func TestSelectRejectsNonDirectory(t *testing.T) {
	root := t.TempDir()
	filePath := filepath.Join(root, "notadir")
	if err := os.WriteFile(filePath, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	bus := watch.New(policy.New())
	defer bus.Close()
	m := New(bus)
	if _, err := m.Select(filePath); err == nil {
		t.Error("expected error selecting a non-directory path")
	}
}

func TestOnReselectCalledBeforeSwitchingRoots(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	bus := watch.New(policy.New())
	defer bus.Close()
	m := New(bus)

	if _, err := m.Select(rootA); err != nil {
		t.Fatal(err)
	}

	var closedPath string
	m.OnReselect(func() {
		current, _ := m.Current()
		closedPath = current.Path
	})

	if _, err := m.Select(rootB); err != nil {
		t.Fatal(err)
	}
	if closedPath != rootA {
		t.Errorf("expected onClose to observe previous root %s, got %s", rootA, closedPath)
	}
}
