// Package policy classifies project-relative paths against the fixed
// data-isolation rules: what must never leave the app subtree, what must
// never leave the machine, and what the remote owns outright.
package policy

import (
	"path/filepath"
	"strings"
)

// Subtree names the conventional top-level directory a path falls under,
// relative to the project root.
type Subtree int

const (
	SubtreeOther Subtree = iota
	SubtreeInput
	SubtreeOutput
	SubtreeApp
)

// forbiddenInApp are extensions that must never sit under app/: they leak
// raw data into the subtree the remote AI agent reads.
var forbiddenInApp = map[string]bool{
	".csv":  true,
	".xlsx": true,
	".xls":  true,
	".json": true,
}

// maxTxtUnderApp is the size above which a .txt file under app/ is also
// forbidden (it likely is a dumped dataset rather than a note).
const maxTxtUnderApp = 50 * 1024

// forbiddenForSync are extensions that never cross the outbound boundary,
// regardless of which subtree they live in.
var forbiddenForSync = map[string]bool{
	".pdf":  true,
	".csv":  true,
	".xlsx": true,
	".xls":  true,
	".xlsm": true,
	".xlsb": true,
	".ppt":  true,
	".pptx": true,
}

// protectedNames are base names the remote owns; local copies are never
// pushed even though they live under app/.
var protectedNames = map[string]bool{
	"sync_server.py": true,
	"sync_server":    true,
	"metadatafarmer.py": true,
	"metadatafarmer":    true,
	"CLAUDE.md":         true,
}

// protectedPrefixes matches names loosely, e.g. sync_server.* regardless
// of extension.
var protectedPrefixes = []string{"sync_server.", "metadatafarmer."}

// protectedDirs are directory base names never pushed; the remote owns
// their contents.
var protectedDirs = map[string]bool{
	"meta_data": true,
}

// ignoredDirs are directory base names a scan or sync walk never
// descends into.
var ignoredDirs = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
	".git":         true,
	".venv":        true,
	"venv":         true,
	"dist":         true,
	"build":        true,
	".cache":       true,
}

// Classifier is the stateless C1 path policy. It holds no state beyond
// the fixed rule tables above; it is safe for concurrent use from any
// number of goroutines.
type Classifier struct{}

// New returns a ready-to-use Classifier.
func New() *Classifier { return &Classifier{} }

// SubtreeOf reports which conventional subtree a project-relative path
// belongs to, based on its first path component.
func (c *Classifier) SubtreeOf(relPath string) Subtree {
	rel := filepath.ToSlash(relPath)
	rel = strings.TrimPrefix(rel, "/")
	first, _, _ := strings.Cut(rel, "/")
	switch first {
	case "input":
		return SubtreeInput
	case "output":
		return SubtreeOutput
	case "app":
		return SubtreeApp
	default:
		return SubtreeOther
	}
}

// IsIgnoredDir reports whether a directory base name must be skipped
// entirely during any traversal (scan, watch, sync walk).
func (c *Classifier) IsIgnoredDir(name string) bool {
	if strings.HasPrefix(name, ".") && name != "." && name != ".." {
		return true
	}
	return ignoredDirs[name]
}

// IsForbiddenInApp reports whether a file under app/ must be
// auto-deleted and excluded from tree snapshots. size is only consulted
// for .txt files and may be passed as -1 if unknown, in which case a
// .txt is not flagged (the caller must stat and re-check before relying
// on a negative result for .txt files).
func (c *Classifier) IsForbiddenInApp(name string, size int64) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if forbiddenInApp[ext] {
		return true
	}
	if ext == ".txt" && size >= 0 && size > maxTxtUnderApp {
		return true
	}
	return false
}

// IsForbiddenForSync reports whether a path's extension must never be
// pushed to or pulled from the remote, regardless of subtree.
func (c *Classifier) IsForbiddenForSync(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return forbiddenForSync[ext]
}

// IsProtectedFromPush reports whether a base name (file or directory)
// under app/ is owned by the remote: local edits exist, but push never
// ships them.
func (c *Classifier) IsProtectedFromPush(name string, isDir bool) bool {
	if isDir {
		return protectedDirs[name]
	}
	if protectedNames[name] {
		return true
	}
	for _, p := range protectedPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
