// Package sync implements the C5 synchronizer: pull, push and full-sync
// operations reconciling the local app/ subtree with the remote sandbox,
// using a per-path modification-time vector.
package sync

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vibefoundry/vibefoundry-bridge/internal/policy"
	"github.com/vibefoundry/vibefoundry-bridge/internal/syncclient"
)

// Vector is the Sync Vector: relative path -> last-seen remote modtime,
// floored to integer seconds. It is held behind a mutex; readers take a
// snapshot, writers update under lock and return a fresh map, per spec
// §5's shared-resource policy.
type Vector struct {
	mu   sync.Mutex
	data map[string]int64
}

// NewVector returns an empty Sync Vector.
func NewVector() *Vector {
	return &Vector{data: make(map[string]int64)}
}

// Snapshot returns a copy of the current vector contents.
func (v *Vector) Snapshot() map[string]int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]int64, len(v.data))
	for k, val := range v.data {
		out[k] = val
	}
	return out
}

func (v *Vector) get(path string) (int64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	val, ok := v.data[path]
	return val, ok
}

// set is only ever called by Pull after a successful write, so the
// vector stays monotone non-decreasing per key (invariant 3).
func (v *Vector) set(path string, modUnix int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.data[path] = modUnix
}

// Synchronizer performs the three top-level operations against one
// project root and remote base URL.
type Synchronizer struct {
	client *syncclient.Client
	policy *policy.Classifier
}

// New returns a Synchronizer backed by the given remote client and path
// policy.
func New(client *syncclient.Client, p *policy.Classifier) *Synchronizer {
	return &Synchronizer{client: client, policy: p}
}

// PullResult is the outcome of a Pull.
type PullResult struct {
	SyncedPaths []string
}

// Pull fetches the remote script listing and writes any new-or-newer
// entries under app/<path>, skipping anything that would violate the
// forbidden-in-app policy. The vector is only advanced after a
// successful write, one file at a time (spec §5: "vector is updated
// only after successful write").
func (s *Synchronizer) Pull(ctx context.Context, projectRoot string, vector *Vector, remoteURL string) (PullResult, error) {
	entries, err := s.client.ListScripts(ctx, remoteURL)
	if err != nil {
		return PullResult{}, err
	}

	var synced []string
	for _, entry := range entries {
		remoteModUnix := entry.Modified // already integer seconds per remote contract
		lastSeen, known := vector.get(entry.Path)
		if known && remoteModUnix <= lastSeen {
			continue
		}

		if s.policy.IsForbiddenInApp(filepath.Base(entry.Path), -1) {
			log.Printf("[SYNC] skipping forbidden-in-app path from remote: %s", entry.Path)
			continue
		}

		content, err := s.client.GetFile(ctx, remoteURL, entry.Path)
		if err != nil {
			log.Printf("[SYNC] pull aborted on %s: %v", entry.Path, err)
			return PullResult{SyncedPaths: synced}, err
		}

		destPath := filepath.Join(projectRoot, "app", filepath.FromSlash(entry.Path))
		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return PullResult{SyncedPaths: synced}, err
		}
		if err := os.WriteFile(destPath, []byte(content), 0644); err != nil {
			return PullResult{SyncedPaths: synced}, err
		}

		vector.set(entry.Path, remoteModUnix)
		synced = append(synced, entry.Path)
	}

	return PullResult{SyncedPaths: synced}, nil
}

// PushResult is the outcome of a Push.
type PushResult struct {
	PushedPaths []string
}

// Push walks app/, uploading every file that is not ignored, not
// forbidden-for-sync, and not protected-from-push. Push is unconditional
// ("force push"): it never consults or updates the Sync Vector.
func (s *Synchronizer) Push(ctx context.Context, projectRoot, remoteURL string) (PushResult, error) {
	appRoot := filepath.Join(projectRoot, "app")
	var pushed []string

	err := filepath.Walk(appRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if path != appRoot && s.policy.IsIgnoredDir(info.Name()) {
				return filepath.SkipDir
			}
			if path != appRoot && s.policy.IsProtectedFromPush(info.Name(), true) {
				return filepath.SkipDir
			}
			return nil
		}

		relPath, relErr := filepath.Rel(appRoot, path)
		if relErr != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if s.policy.IsProtectedFromPush(info.Name(), false) {
			return nil
		}
		if s.policy.IsForbiddenForSync(info.Name()) {
			log.Printf("[SYNC] dropping forbidden-for-sync path from push: %s", relPath)
			return nil
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			log.Printf("[SYNC] failed reading %s: %v", path, readErr)
			return nil
		}

		if err := s.client.PutFile(ctx, remoteURL, relPath, string(content)); err != nil {
			return err
		}
		pushed = append(pushed, relPath)
		return nil
	})
	if err != nil {
		return PushResult{PushedPaths: pushed}, err
	}
	return PushResult{PushedPaths: pushed}, nil
}

// FullSyncResult is the outcome of a FullSync.
type FullSyncResult struct {
	MetadataSynced bool
	Pulled         PullResult
}

// FullSync composes push-metadata + pull, per spec §4.5.3. Metadata
// files are treated as plain text summaries, not tree files.
func (s *Synchronizer) FullSync(ctx context.Context, projectRoot string, vector *Vector, remoteURL string) (FullSyncResult, error) {
	inputMeta, outputMeta := readMetadataFiles(projectRoot)
	if err := s.client.PutMetadata(ctx, remoteURL, inputMeta, outputMeta); err != nil {
		return FullSyncResult{}, err
	}

	pullResult, err := s.Pull(ctx, projectRoot, vector, remoteURL)
	if err != nil {
		return FullSyncResult{MetadataSynced: true, Pulled: pullResult}, err
	}
	return FullSyncResult{MetadataSynced: true, Pulled: pullResult}, nil
}

func readMetadataFiles(projectRoot string) (input, output string) {
	metaDir := filepath.Join(projectRoot, "app", "meta_data")
	inputBytes, _ := os.ReadFile(filepath.Join(metaDir, "input_metadata.txt"))
	outputBytes, _ := os.ReadFile(filepath.Join(metaDir, "output_metadata.txt"))
	return string(inputBytes), string(outputBytes)
}

// KeepaliveTicker runs AppendKeepalive on the given interval (default
// 60s) until ctx is cancelled. Failures are logged and ignored, per spec
// §4.5.4 — this is pure activity signaling, never surfaced as an error.
func KeepaliveTicker(ctx context.Context, client *syncclient.Client, remoteURL func() (string, bool), interval time.Duration) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			url, ok := remoteURL()
			if !ok {
				continue
			}
			if err := client.AppendKeepalive(ctx, url); err != nil {
				log.Printf("[SYNC] keepalive tick failed: %v", err)
			}
		}
	}
}
