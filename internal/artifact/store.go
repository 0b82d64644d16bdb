// Package artifact implements ArtifactStore, DebugBundler and Janitor (spec
// §4.7-§4.8): per-session screenshot/download directories, guarded
// name-to-path resolution for file serving, zip bundling, and periodic
// TTL-based reaping.
package artifact

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mohamed-ali0/truckportal-bridge/internal/types"
)

// Store resolves artifact names to guarded filesystem paths under one root.
type Store struct {
	root string
}

// New builds a Store rooted at root, creating it if absent.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute artifact root directory.
func (s *Store) Root() string { return s.root }

// Resolve turns a filename from GET /files/{name} into a verified path on
// disk, trying in order: directly under the root, under a session-id prefix
// parsed from the filename, then a tree walk — and rejects anything that
// would resolve outside the root (spec §4.7).
func (s *Store) Resolve(name string) (string, error) {
	if name == "" || strings.Contains(name, "..") {
		return "", types.ErrPathTraversal
	}

	if p, ok := s.tryPath(filepath.Join(s.root, name)); ok {
		return p, nil
	}

	if sessionID := sessionIDPrefix(name); sessionID != "" {
		for _, sub := range []string{"downloads", "screenshots"} {
			if p, ok := s.tryPath(filepath.Join(s.root, sessionID, sub, name)); ok {
				return p, nil
			}
		}
		if p, ok := s.tryPath(filepath.Join(s.root, sessionID, name)); ok {
			return p, nil
		}
	}

	found, err := s.walkFor(name)
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", types.ErrArtifactNotFound
	}
	return found, nil
}

// tryPath stats a candidate path, confirming it both exists and still lies
// under the artifact root after resolving symlinks/.. segments.
func (s *Store) tryPath(candidate string) (string, bool) {
	clean := filepath.Clean(candidate)
	if !s.within(clean) {
		return "", false
	}
	info, err := os.Stat(clean)
	if err != nil || info.IsDir() {
		return "", false
	}
	return clean, true
}

func (s *Store) within(p string) bool {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	root := s.root
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// sessionIDPrefix extracts the leading session-id segment from a bundle or
// export filename of the form "{session_id}_{...}".
func sessionIDPrefix(name string) string {
	idx := strings.Index(name, "_")
	if idx <= 0 {
		return ""
	}
	return name[:idx]
}

func (s *Store) walkFor(name string) (string, error) {
	var found string
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries, keep walking
		}
		if found != "" {
			return filepath.SkipAll
		}
		if !d.IsDir() && d.Name() == name {
			found = path
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking artifact root: %w", err)
	}
	if found != "" && !s.within(found) {
		return "", types.ErrPathTraversal
	}
	return found, nil
}

// SessionDirs returns a session's download and screenshot directories,
// creating them if absent (mirrors sessionpool.DirsFor so both packages
// agree on layout without importing each other).
func (s *Store) SessionDirs(sessionID string) (downloadDir, screenshotDir string, err error) {
	downloadDir = filepath.Join(s.root, sessionID, "downloads")
	screenshotDir = filepath.Join(s.root, sessionID, "screenshots")
	if err = os.MkdirAll(downloadDir, 0o755); err != nil {
		return "", "", err
	}
	if err = os.MkdirAll(screenshotDir, 0o755); err != nil {
		return "", "", err
	}
	return downloadDir, screenshotDir, nil
}

// Bundle zips a session's screenshot and download directories into
// {session_id}_{timestamp}_{tag}.zip under the artifact root, returning the
// URL-safe filename (spec §4.7 DebugBundler).
func (s *Store) Bundle(sessionID, tag string, timestamp int64) (string, error) {
	downloadDir, screenshotDir, err := s.SessionDirs(sessionID)
	if err != nil {
		return "", err
	}
	if tag == "" {
		tag = "debug"
	}
	name := fmt.Sprintf("%s_%d_%s.zip", sessionID, timestamp, tag)
	dest := filepath.Join(s.root, name)

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("creating bundle: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	if err := addDirToZip(zw, downloadDir, "downloads"); err != nil {
		zw.Close()
		return "", err
	}
	if err := addDirToZip(zw, screenshotDir, "screenshots"); err != nil {
		zw.Close()
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("finalizing bundle: %w", err)
	}
	return name, nil
}

func addDirToZip(zw *zip.Writer, dir, prefix string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := addFileToZip(zw, filepath.Join(dir, e.Name()), filepath.Join(prefix, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func addFileToZip(zw *zip.Writer, path, archiveName string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer src.Close()

	w, err := zw.Create(archiveName)
	if err != nil {
		return fmt.Errorf("adding %s to bundle: %w", archiveName, err)
	}
	_, err = io.Copy(w, src)
	return err
}

// Janitor periodically deletes files under the artifact root older than TTL
// (spec §4.8). It holds no lock on the SessionPool; a file re-created by a
// concurrent writer right after deletion is accepted as a rare, harmless race.
type Janitor struct {
	store    *Store
	ttl      time.Duration
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewJanitor builds a Janitor that has not yet started.
func NewJanitor(store *Store, ttl, interval time.Duration) *Janitor {
	return &Janitor{store: store, ttl: ttl, interval: interval, stop: make(chan struct{}), done: make(chan struct{})}
}

// Start launches the periodic sweep loop in its own goroutine.
func (j *Janitor) Start() {
	go func() {
		defer close(j.done)
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-j.stop:
				return
			case <-ticker.C:
				n, err := j.Sweep()
				if err != nil {
					log.Warn().Err(err).Msg("janitor sweep failed")
					continue
				}
				if n > 0 {
					log.Info().Int("removed", n).Msg("janitor reaped expired artifacts")
				}
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit.
func (j *Janitor) Stop() {
	close(j.stop)
	<-j.done
}

// Sweep performs one reap pass immediately, deleting every file (not
// directory) under the root whose mtime is older than TTL. Exposed directly
// so POST /cleanup can trigger an on-demand pass (spec §6).
func (j *Janitor) Sweep() (int, error) {
	cutoff := time.Now().Add(-j.ttl)
	removed := 0
	err := filepath.WalkDir(j.store.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("walking artifact root during sweep: %w", err)
	}
	return removed, nil
}
