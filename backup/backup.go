// Package backup creates and restores full database backups. A backup is a
// set of raw files streamed into a Target plus a manifest written last, so
// only complete backups carry one. Files are copied byte for byte; encrypted
// files stay opaque inside the backup.
package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/strataio/strata/codec"
	"github.com/strataio/strata/resource"
)

// ErrNotFound is returned when a backup or stored file does not exist.
var ErrNotFound = os.ErrNotExist

// ManifestVersion is the current manifest document version.
const ManifestVersion = 1

const manifestKey = "manifest.json"

// FileInfo describes one file inside a backup.
type FileInfo struct {
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// Manifest is the completion marker of a backup. Its presence means every
// listed file made it into the target.
type Manifest struct {
	Version    int        `json:"version"`
	ID         string     `json:"id"`
	Files      []FileInfo `json:"files"`
	TotalBytes int64      `json:"total_bytes"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Target is where backups land. Keys are slash-separated relative paths.
type Target interface {
	// Put streams one file into the target. size may be -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	// Open streams one stored file back. Missing keys report ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns the stored keys under the prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes a stored file. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// NewID returns a fresh backup id.
func NewID() string { return uuid.NewString() }

func manifestPath(id string) string { return path.Join(id, manifestKey) }

// Create streams the named files (slash-separated paths relative to root)
// into the target under the backup id, then commits the manifest. A backup
// interrupted before the manifest write is never listed and never restored.
func Create(ctx context.Context, t Target, c codec.Codec, root, id string, files []string, rc *resource.Controller) (*Manifest, error) {
	m := &Manifest{Version: ManifestVersion, ID: id, CreatedAt: time.Now().UTC()}

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := putFile(ctx, t, root, id, rel, rc)
		if err != nil {
			return nil, err
		}
		m.Files = append(m.Files, info)
		m.TotalBytes += info.Size
	}

	data, err := codec.MarshalIndent(c, m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup manifest: %w", err)
	}
	if err := t.Put(ctx, manifestPath(id), bytes.NewReader(data), int64(len(data))); err != nil {
		return nil, fmt.Errorf("failed to commit backup manifest: %w", err)
	}
	return m, nil
}

func putFile(ctx context.Context, t Target, root, id, rel string, rc *resource.Controller) (FileInfo, error) {
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to open %s for backup: %w", rel, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return FileInfo{}, err
	}

	h := sha256.New()
	var r io.Reader = io.TeeReader(f, h)
	if rc != nil {
		r = resource.NewThrottledReader(ctx, r, rc)
	}
	if err := t.Put(ctx, path.Join(id, rel), r, stat.Size()); err != nil {
		return FileInfo{}, fmt.Errorf("failed to back up %s: %w", rel, err)
	}
	return FileInfo{
		Key:      rel,
		Size:     stat.Size(),
		Checksum: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Restore copies every file of the backup back under root, verifying each
// against its recorded checksum. Returns the manifest that was restored.
func Restore(ctx context.Context, t Target, c codec.Codec, root, id string, rc *resource.Controller) (*Manifest, error) {
	m, err := LoadManifest(ctx, t, c, id)
	if err != nil {
		return nil, err
	}

	for _, fi := range m.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := restoreFile(ctx, t, root, id, fi, rc); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func restoreFile(ctx context.Context, t Target, root, id string, fi FileInfo, rc *resource.Controller) error {
	rd, err := t.Open(ctx, path.Join(id, fi.Key))
	if err != nil {
		return fmt.Errorf("failed to open backup file %s: %w", fi.Key, err)
	}
	defer rd.Close()

	var r io.Reader = rd
	if rc != nil {
		r = resource.NewThrottledReader(ctx, r, rc)
	}

	dst := filepath.Join(root, filepath.FromSlash(fi.Key))
	h := sha256.New()
	if err := writeVerified(dst, r, h, fi.Checksum); err != nil {
		return fmt.Errorf("failed to restore %s: %w", fi.Key, err)
	}
	return nil
}

// writeVerified lands the stream in a temp file, verifies the digest, then
// renames into place. A checksum mismatch leaves the previous file untouched.
func writeVerified(dst string, r io.Reader, h hash.Hash, expected string) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".restore-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(io.MultiWriter(tmp, h), r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if expected != "" {
		if actual := hex.EncodeToString(h.Sum(nil)); actual != expected {
			return fmt.Errorf("checksum mismatch: expected %s, got %s", expected, actual)
		}
	}
	return os.Rename(tmpName, dst)
}

// LoadManifest fetches and decodes a backup's manifest.
func LoadManifest(ctx context.Context, t Target, c codec.Codec, id string) (*Manifest, error) {
	rd, err := t.Open(ctx, manifestPath(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("backup %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	defer rd.Close()

	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := c.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode backup manifest: %w", err)
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("unsupported backup manifest version %d", m.Version)
	}
	return &m, nil
}

// List returns the ids of completed backups, sorted.
func List(ctx context.Context, t Target) ([]string, error) {
	keys, err := t.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, key := range keys {
		if path.Base(key) == manifestKey {
			ids = append(ids, path.Dir(key))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a backup. The manifest goes first, so a half-removed backup
// is no longer listed as complete.
func Delete(ctx context.Context, t Target, id string) error {
	if err := t.Delete(ctx, manifestPath(id)); err != nil {
		return err
	}
	keys, err := t.List(ctx, id+"/")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := t.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
