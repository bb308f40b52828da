// Package tree builds filtered directory snapshots rooted at a project,
// enforcing the C1 path policy on the app subtree as it walks.
package tree

import (
	"encoding/hex"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/vibefoundry/vibefoundry-bridge/internal/policy"

	"github.com/zeebo/blake3"
)

// Node is a single tree entry. Identity is RelPath; every ancestor of a
// listed node is itself listed.
type Node struct {
	Name         string  `json:"name"`
	RelPath      string  `json:"path"`
	IsDirectory  bool    `json:"isDirectory"`
	Extension    string  `json:"extension,omitempty"`
	LastModified *int64  `json:"lastModified,omitempty"`
	Children     []*Node `json:"children,omitempty"`
}

// DeletedEvent describes a file the scanner removed for policy reasons.
// The HTTP tree handler logs each one; no data_change notification with
// action=deleted-for-safety is published for it (the watcher sees the
// removal as an ordinary filesystem event and classifies it as such).
type DeletedEvent struct {
	RelPath string
	Err     error // non-nil if deletion itself failed; entry is still excluded
}

// scanDomainKey domain-separates the scan hash from any other blake3
// user in the process, following the keyed-hash convention used for
// artifact hashing in the examples this pattern is grounded on.
var scanDomainKey = [32]byte{
	'v', 'i', 'b', 'e', 'f', 'o', 'u', 'n', 'd', 'r', 'y', '.', 't', 'r', 'e', 'e',
	'.', 's', 'c', 'a', 'n',
}

// Scanner is the C2 tree scanner. It is stateless beyond the policy
// classifier it consults.
type Scanner struct {
	policy *policy.Classifier
}

// New returns a Scanner backed by the given path-policy classifier.
func New(p *policy.Classifier) *Scanner {
	return &Scanner{policy: p}
}

// Scan walks root and returns an immutable snapshot tree, plus any
// forbidden-in-app files it deleted along the way. Directories and
// ignored entries never appear forbidden; only regular files under
// app/ are checked.
func (s *Scanner) Scan(root string) (*Node, []DeletedEvent, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, err
	}
	var deleted []DeletedEvent
	node, err := s.walk(root, "", info, &deleted)
	if err != nil {
		return nil, nil, err
	}
	return node, deleted, nil
}

func (s *Scanner) walk(absPath, relPath string, info os.FileInfo, deleted *[]DeletedEvent) (*Node, error) {
	name := info.Name()
	if relPath == "" {
		name = filepath.Base(absPath)
	}

	node := &Node{
		Name:        name,
		RelPath:     relPath,
		IsDirectory: info.IsDir(),
	}

	if !info.IsDir() {
		node.Extension = strings.TrimPrefix(filepath.Ext(name), ".")
		modUnix := info.ModTime().Unix()
		node.LastModified = &modUnix
		return node, nil
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		return nil, err
	}

	inApp := relPath == "app" || strings.HasPrefix(relPath, "app/")

	children := make([]*Node, 0, len(entries))
	for _, entry := range entries {
		childRel := joinRel(relPath, entry.Name())
		if entry.IsDir() {
			if s.policy.IsIgnoredDir(entry.Name()) {
				continue
			}
			childInfo, err := entry.Info()
			if err != nil {
				continue
			}
			childAbs := filepath.Join(absPath, entry.Name())
			childNode, err := s.walk(childAbs, childRel, childInfo, deleted)
			if err != nil {
				log.Printf("[TREE] walk error at %s: %v", childAbs, err)
				continue
			}
			children = append(children, childNode)
			continue
		}

		childInfo, err := entry.Info()
		if err != nil {
			continue
		}

		if inApp && s.policy.IsForbiddenInApp(entry.Name(), childInfo.Size()) {
			childAbs := filepath.Join(absPath, entry.Name())
			rmErr := os.Remove(childAbs)
			if rmErr != nil {
				log.Printf("[TREE] failed to delete forbidden-in-app file %s: %v", childAbs, rmErr)
			} else {
				log.Printf("[TREE] deleted forbidden-in-app file %s", childAbs)
			}
			*deleted = append(*deleted, DeletedEvent{RelPath: childRel, Err: rmErr})
			continue
		}

		modUnix := childInfo.ModTime().Unix()
		children = append(children, &Node{
			Name:         entry.Name(),
			RelPath:      childRel,
			IsDirectory:  false,
			Extension:    strings.TrimPrefix(filepath.Ext(entry.Name()), "."),
			LastModified: &modUnix,
		})
	}

	sort.Slice(children, func(i, j int) bool {
		a, b := children[i], children[j]
		if a.IsDirectory != b.IsDirectory {
			return a.IsDirectory
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})

	node.Children = children
	return node, nil
}

func joinRel(relPath, name string) string {
	if relPath == "" {
		return name
	}
	if name == "" {
		return relPath
	}
	return relPath + "/" + name
}

// ScanHash computes a cheap change-detection digest over a snapshot: the
// sorted concatenation of "path:modtime" for every file, keyed-hashed
// with BLAKE3 so callers can compare two snapshots for "no change"
// without a deep structural diff.
func ScanHash(root *Node) string {
	var lines []string
	collectHashLines(root, &lines)
	sort.Strings(lines)

	hasher, err := blake3.NewKeyed(scanDomainKey[:])
	if err != nil {
		// scanDomainKey is always exactly 32 bytes; NewKeyed cannot fail here.
		panic("tree: blake3 keyed hash init failed: " + err.Error())
	}
	for _, line := range lines {
		hasher.Write([]byte(line))
		hasher.Write([]byte{'\n'})
	}
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum)
}

func collectHashLines(n *Node, lines *[]string) {
	if n == nil {
		return
	}
	if !n.IsDirectory && n.LastModified != nil {
		*lines = append(*lines, n.RelPath+":"+strconv.FormatInt(*n.LastModified, 10))
	}
	for _, child := range n.Children {
		collectHashLines(child, lines)
	}
}

