// Package project implements C9 Project Lifecycle: selecting a project
// root, scaffolding its required subtree, and serializing reselection
// against in-flight work on the previously active project (spec §4.9,
// scenario S8).
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vibefoundry/vibefoundry-bridge/internal/metadata"
	"github.com/vibefoundry/vibefoundry-bridge/internal/watch"
)

// defaultClaudeMD seeds app/CLAUDE.md for a freshly selected project
// that doesn't already have one.
const defaultClaudeMD = `# Project notes

This file is read by assistants working in this project. Use it to
record conventions, data shapes, and anything else that isn't obvious
from the code under app/.
`

// Info describes the currently active project, returned to callers of
// Select and Current.
type Info struct {
	Name string
	Path string
}

// Manager holds the single active project and coordinates reselection.
// Only one project is active at a time; selecting a new one tears down
// everything watching the old one before scaffolding and watching the
// new one.
type Manager struct {
	selectMu sync.Mutex // serializes Select calls
	mu       sync.Mutex
	current  *Info
	bus      *watch.Bus
	onClose  func() // invoked before switching away from the current project
}

// New returns a Manager with no active project. bus is the shared
// watcher whose root gets replaced on every successful Select.
func New(bus *watch.Bus) *Manager {
	return &Manager{bus: bus}
}

// OnReselect registers a callback invoked just before the active
// project changes (or is closed), so other components (terminal
// sessions, in-flight script runs) can be torn down first.
func (m *Manager) OnReselect(fn func()) {
	m.mu.Lock()
	m.onClose = fn
	m.mu.Unlock()
}

// Current returns the active project, or ok=false if none has been
// selected yet.
func (m *Manager) Current() (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Info{}, false
	}
	return *m.current, true
}

// Select validates path, scaffolds its required subtree if missing,
// starts watching it, and makes it the active project. Concurrent calls
// serialize on m.selectMu, so only the last call to complete wins —
// in-flight work against the previous root is torn down via onClose
// before the new root is adopted, per scenario S8. onClose runs without
// m.mu held, so it may call Current and sees the previous project.
func (m *Manager) Select(path string) (Info, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Info{}, fmt.Errorf("resolving project path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Info{}, fmt.Errorf("project path %s: %w", abs, err)
	}
	if !info.IsDir() {
		return Info{}, fmt.Errorf("project path %s is not a directory", abs)
	}

	m.selectMu.Lock()
	defer m.selectMu.Unlock()

	m.mu.Lock()
	onClose := m.onClose
	m.mu.Unlock()
	if onClose != nil {
		onClose()
	}

	if err := scaffold(abs); err != nil {
		return Info{}, fmt.Errorf("scaffolding project: %w", err)
	}

	if m.bus != nil {
		if err := m.bus.Replace(abs); err != nil {
			return Info{}, fmt.Errorf("starting watcher: %w", err)
		}
	}

	m.mu.Lock()
	m.current = &Info{Name: filepath.Base(abs), Path: abs}
	selected := *m.current
	m.mu.Unlock()
	return selected, nil
}

// requiredDirs are created under the project root if missing.
var requiredDirs = []string{
	"input",
	"output",
	"app",
	filepath.Join("app", "scripts"),
	filepath.Join("app", "meta_data"),
}

// scaffold creates the project's required subtree and seeds default
// files, idempotently: existing files and directories are left alone.
func scaffold(root string) error {
	for _, rel := range requiredDirs {
		if err := os.MkdirAll(filepath.Join(root, rel), 0755); err != nil {
			return err
		}
	}

	claudePath := filepath.Join(root, "app", "CLAUDE.md")
	if _, err := os.Stat(claudePath); os.IsNotExist(err) {
		if err := os.WriteFile(claudePath, []byte(defaultClaudeMD), 0644); err != nil {
			return err
		}
	}

	farmerPath := filepath.Join(root, "app", "metadatafarmer.py")
	if _, err := os.Stat(farmerPath); os.IsNotExist(err) {
		if err := os.WriteFile(farmerPath, []byte(metadata.DefaultScaffold), 0644); err != nil {
			return err
		}
	}

	return nil
}
