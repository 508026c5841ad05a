// Package fio is the file access layer of the storage engine.
//
// Every segment and metadata file is read and written through a Handler, so
// the rest of the engine never knows whether a database directory is plain
// JSON or encrypted containers. Handlers deal in whole files: segment
// rewrites replace the full payload, which keeps the plain and encrypted
// variants behaviorally identical.
package fio

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Handler reads and writes engine files.
// Implementations must be safe for concurrent use.
type Handler interface {
	// ReadFile returns the full decoded payload of the file.
	// Absent files satisfy errors.Is(err, fs.ErrNotExist).
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// WriteFile replaces the file with the given payload atomically
	// (temp file, fsync, rename). Parent directories are created.
	// An empty payload writes an empty file, meaning "no data yet".
	WriteFile(ctx context.Context, path string, data []byte) error
	// Exists reports whether the file exists.
	Exists(path string) (bool, error)
	// Remove deletes the file. Removing an absent file is not an error.
	Remove(path string) error
	// Copy duplicates the raw file bytes (encrypted files stay encrypted).
	Copy(ctx context.Context, src, dst string) error
	// Move renames the file, creating the destination directory if needed.
	Move(src, dst string) error
	// Glob enumerates files matching the pattern (filepath.Glob syntax).
	Glob(pattern string) ([]string, error)
	// Size returns the on-disk size of the file in bytes.
	Size(path string) (int64, error)
	// EnsureDir creates the directory and its parents.
	EnsureDir(path string) error
	// Ext is the file extension this handler produces, including the dot.
	Ext() string
}

// Local is the plain-text handler. Payloads are stored verbatim, so a
// database directory written through it is directly inspectable.
type Local struct{}

// NewLocal creates a plain-text handler.
func NewLocal() *Local { return &Local{} }

// Ext returns ".json".
func (*Local) Ext() string { return ".json" }

func (*Local) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func (*Local) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

func (*Local) Exists(path string) (bool, error) { return exists(path) }

func (*Local) Remove(path string) error { return remove(path) }

func (*Local) Copy(ctx context.Context, src, dst string) error { return copyFile(ctx, src, dst) }

func (*Local) Move(src, dst string) error { return move(src, dst) }

func (*Local) Glob(pattern string) ([]string, error) { return filepath.Glob(pattern) }

func (*Local) Size(path string) (int64, error) { return size(path) }

func (*Local) EnsureDir(path string) error { return ensureDir(path) }

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}

func remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

func move(src, dst string) error {
	if err := ensureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	return nil
}

func size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return info.Size(), nil
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

func copyFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	if err := ensureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("failed to sync %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return nil
}

// writeFileAtomic writes data to a sibling temp file, fsyncs it, renames it
// into place and fsyncs the directory. Readers never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := ensureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory %s: %w", dir, err)
	}
	return nil
}
