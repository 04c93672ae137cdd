// Package storage provides the local blob store for recorded audio.
// All file operations are restricted to the configured root directory to
// prevent path traversal; callers address blobs by session-relative paths.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Layout subdirectories inside a session directory.
const (
	MP3Dir   = "mp3"
	HLSDir   = "hls"
	PeaksDir = "peaks"
	TempDir  = ".temp"

	// FailedUploadsDir lives at the store root, not inside a session.
	FailedUploadsDir = ".failed_uploads"
)

// Store manages audio blobs on local disk under a single root directory.
type Store struct {
	root string
}

// New creates a Store rooted at the given directory, creating it and the
// process-global failed-uploads directory if they do not exist.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, FailedUploadsDir), 0750); err != nil {
		return nil, fmt.Errorf("creating failed-uploads directory: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute path to the store root.
func (s *Store) Root() string {
	return s.root
}

// FailedUploadsPath returns the absolute path of the failed-uploads directory.
func (s *Store) FailedUploadsPath() string {
	return filepath.Join(s.root, FailedUploadsDir)
}

// Resolve resolves a store-relative path, rejecting anything that would
// escape the root.
func (s *Store) Resolve(relative string) (string, error) {
	if filepath.IsAbs(relative) {
		return "", fmt.Errorf("path escapes storage root: %s (absolute paths not allowed)", relative)
	}
	abs, err := filepath.Abs(filepath.Join(s.root, filepath.Clean(relative)))
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes storage root: %s", relative)
	}
	return abs, nil
}

// SessionDir returns the absolute path of a session's directory.
func (s *Store) SessionDir(sessionID string) (string, error) {
	return s.Resolve(sessionID)
}

// EnsureSessionLayout creates a session directory together with its
// mp3/, hls/, peaks/ and .temp/ subdirectories.
func (s *Store) EnsureSessionLayout(sessionID string) (string, error) {
	dir, err := s.Resolve(sessionID)
	if err != nil {
		return "", err
	}
	for _, sub := range []string{"", MP3Dir, HLSDir, PeaksDir, TempDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0750); err != nil {
			return "", fmt.Errorf("creating session directory: %w", err)
		}
	}
	return dir, nil
}

// SessionSubdir returns the absolute path of one of the layout
// subdirectories inside a session, creating it if needed.
func (s *Store) SessionSubdir(sessionID, sub string) (string, error) {
	dir, err := s.Resolve(filepath.Join(sessionID, sub))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("creating session subdirectory: %w", err)
	}
	return dir, nil
}

// WriteBlob atomically writes data to a store-relative path. It writes to
// a temporary sibling first, then renames it into place.
func (s *Store) WriteBlob(relative string, r io.Reader) (string, int64, error) {
	target, err := s.Resolve(relative)
	if err != nil {
		return "", 0, err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", 0, fmt.Errorf("creating parent directory: %w", err)
	}

	tempPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(target), randomHex(8)))
	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return "", 0, fmt.Errorf("creating temporary file: %w", err)
	}

	n, err := io.Copy(tempFile, r)
	closeErr := tempFile.Close()
	if err != nil {
		os.Remove(tempPath)
		return "", 0, fmt.Errorf("writing temporary file: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return "", 0, fmt.Errorf("closing temporary file: %w", closeErr)
	}
	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return "", 0, fmt.Errorf("renaming to target: %w", err)
	}
	return target, n, nil
}

// ReadBlob reads a store-relative path.
func (s *Store) ReadBlob(relative string) ([]byte, error) {
	path, err := s.Resolve(relative)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}
	return data, nil
}

// Exists reports whether a store-relative path exists.
func (s *Store) Exists(relative string) (bool, error) {
	path, err := s.Resolve(relative)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking blob: %w", err)
	}
	return true, nil
}

// Size returns the size in bytes of a store-relative path.
func (s *Store) Size(relative string) (int64, error) {
	path, err := s.Resolve(relative)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat blob: %w", err)
	}
	return info.Size(), nil
}

// PurgeSession removes a session directory and everything beneath it.
func (s *Store) PurgeSession(sessionID string) error {
	dir, err := s.Resolve(sessionID)
	if err != nil {
		return err
	}
	if dir == s.root {
		return fmt.Errorf("cannot purge storage root")
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("purging session directory: %w", err)
	}
	return nil
}

// PurgeTemp removes a session's .temp directory.
func (s *Store) PurgeTemp(sessionID string) error {
	dir, err := s.Resolve(filepath.Join(sessionID, TempDir))
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("purging temp directory: %w", err)
	}
	return nil
}

// CleanupOrphanedTemp removes every .temp directory left behind by a
// previous process. Called once at startup.
func (s *Store) CleanupOrphanedTemp() (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("reading storage root: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		tempDir := filepath.Join(s.root, entry.Name(), TempDir)
		if _, err := os.Stat(tempDir); err != nil {
			continue
		}
		if err := os.RemoveAll(tempDir); err != nil {
			return removed, fmt.Errorf("removing %s: %w", tempDir, err)
		}
		removed++
	}
	return removed, nil
}

// SegmentFilename derives the on-disk name of a raw segment from the time
// it was received, its ordinal and its channel group.
func SegmentFilename(receivedAt time.Time, segmentNumber int, channelGroup, extension string) string {
	ts := receivedAt.UTC().Format("20060102T150405Z")
	return fmt.Sprintf("%s_seg%05d_%s.%s", ts, segmentNumber, channelGroup, extension)
}

// ChannelMP3Name returns the per-channel master MP3 filename.
func ChannelMP3Name(channel int) string {
	return fmt.Sprintf("channel_%02d.mp3", channel)
}

// ChannelPeaksName returns the per-channel peaks JSON filename.
func ChannelPeaksName(channel int) string {
	return fmt.Sprintf("channel_%02d_peaks.json", channel)
}

// ChannelHLSPlaylistName returns the per-channel HLS playlist filename.
func ChannelHLSPlaylistName(channel int) string {
	return fmt.Sprintf("channel_%02d.m3u8", channel)
}

// randomHex generates a random hex string of the specified length.
func randomHex(n int) string {
	bytes := make([]byte, n/2+1)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(bytes)[:n]
}
