package fio

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_WriteRead(t *testing.T) {
	ctx := context.Background()
	h := NewLocal()
	path := filepath.Join(t.TempDir(), "nested", "dir", "data.json")

	require.NoError(t, h.WriteFile(ctx, path, []byte(`{"hello":"world"}`)))

	data, err := h.ReadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, `{"hello":"world"}`, string(data))

	// Plain mode stores payloads verbatim.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, raw)
}

func TestLocal_EmptyPayload(t *testing.T) {
	ctx := context.Background()
	h := NewLocal()
	path := filepath.Join(t.TempDir(), "empty.json")

	require.NoError(t, h.WriteFile(ctx, path, nil))

	ok, err := h.Exists(path)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := h.ReadFile(ctx, path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestLocal_ReadMissing(t *testing.T) {
	h := NewLocal()
	_, err := h.ReadFile(context.Background(), filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestLocal_RemoveIdempotent(t *testing.T) {
	h := NewLocal()
	path := filepath.Join(t.TempDir(), "gone.json")

	require.NoError(t, h.WriteFile(context.Background(), path, []byte("x")))
	require.NoError(t, h.Remove(path))
	require.NoError(t, h.Remove(path))

	ok, err := h.Exists(path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocal_MoveAndGlob(t *testing.T) {
	ctx := context.Background()
	h := NewLocal()
	dir := t.TempDir()

	for _, name := range []string{"segment_000001.json", "segment_000002.json", "metadata.json"} {
		require.NoError(t, h.WriteFile(ctx, filepath.Join(dir, name), []byte("{}")))
	}

	matches, err := h.Glob(filepath.Join(dir, "segment_*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	dst := filepath.Join(dir, "moved", "segment_000001.json")
	require.NoError(t, h.Move(filepath.Join(dir, "segment_000001.json"), dst))

	ok, err := h.Exists(dst)
	require.NoError(t, err)
	assert.True(t, ok)

	matches, err = h.Glob(filepath.Join(dir, "segment_*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestLocal_Copy(t *testing.T) {
	ctx := context.Background()
	h := NewLocal()
	dir := t.TempDir()

	src := filepath.Join(dir, "src.json")
	dst := filepath.Join(dir, "backup", "dst.json")
	require.NoError(t, h.WriteFile(ctx, src, []byte("payload")))
	require.NoError(t, h.Copy(ctx, src, dst))

	data, err := h.ReadFile(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	// Copy must not disturb the source.
	data, err = h.ReadFile(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestLocal_Size(t *testing.T) {
	ctx := context.Background()
	h := NewLocal()
	path := filepath.Join(t.TempDir(), "sized.json")

	require.NoError(t, h.WriteFile(ctx, path, make([]byte, 1024)))

	n, err := h.Size(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), n)
}

func TestLocal_Ext(t *testing.T) {
	assert.Equal(t, ".json", NewLocal().Ext())
}

func TestLocal_CanceledContext(t *testing.T) {
	h := NewLocal()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := filepath.Join(t.TempDir(), "x.json")
	require.ErrorIs(t, h.WriteFile(ctx, path, []byte("x")), context.Canceled)
	_, err := h.ReadFile(ctx, path)
	require.ErrorIs(t, err, context.Canceled)
}
