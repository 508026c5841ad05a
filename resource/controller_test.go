package resource

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.AcquireMemory(context.Background(), 50))
	assert.Equal(t, int64(50), c.MemoryUsage())

	require.NoError(t, c.AcquireMemory(context.Background(), 40))
	assert.Equal(t, int64(90), c.MemoryUsage())

	assert.False(t, c.TryAcquireMemory(20))
	assert.Equal(t, int64(90), c.MemoryUsage())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.AcquireMemory(ctx, 20)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	c.ReleaseMemory(50)
	assert.Equal(t, int64(40), c.MemoryUsage())

	require.NoError(t, c.AcquireMemory(context.Background(), 20))
	assert.Equal(t, int64(60), c.MemoryUsage())
}

func TestController_UnlimitedMemoryTracksOnly(t *testing.T) {
	c := NewController(Config{})

	require.NoError(t, c.AcquireMemory(context.Background(), 1000))
	assert.Equal(t, int64(1000), c.MemoryUsage())

	c.ReleaseMemory(500)
	assert.Equal(t, int64(500), c.MemoryUsage())
}

func TestController_JobSlots(t *testing.T) {
	c := NewController(Config{MaxBackgroundJobs: 2})

	require.NoError(t, c.AcquireJob(context.Background()))
	require.NoError(t, c.AcquireJob(context.Background()))

	assert.False(t, c.TryAcquireJob())

	c.ReleaseJob()
	assert.True(t, c.TryAcquireJob())
}

func TestController_Do(t *testing.T) {
	c := NewController(Config{MaxBackgroundJobs: 1})

	ran := false
	require.NoError(t, c.Do(context.Background(), func() error {
		ran = true
		// The single slot is taken while fn runs.
		assert.False(t, c.TryAcquireJob())
		return nil
	}))
	assert.True(t, ran)

	// Slot is free again.
	assert.True(t, c.TryAcquireJob())
}

func TestController_NilIsUnlimited(t *testing.T) {
	var c *Controller

	require.NoError(t, c.AcquireMemory(context.Background(), 1<<40))
	assert.True(t, c.TryAcquireMemory(1<<40))
	c.ReleaseMemory(1 << 40)
	assert.Zero(t, c.MemoryUsage())

	require.NoError(t, c.AcquireJob(context.Background()))
	assert.True(t, c.TryAcquireJob())
	c.ReleaseJob()

	require.NoError(t, c.AcquireIO(context.Background(), 1<<30))
}

func TestController_AcquireIOSplitsLargeRequests(t *testing.T) {
	// Budget 1 MB/s: a request above the burst must not be rejected.
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})

	require.NoError(t, c.AcquireIO(context.Background(), (1<<20)+512))
}

func TestThrottledWriter(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})

	var buf bytes.Buffer
	w := NewThrottledWriter(context.Background(), &buf, c)

	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", buf.String())
}

func TestThrottledReader(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})

	r := NewThrottledReader(context.Background(), bytes.NewReader([]byte("hello")), c)

	p := make([]byte, 5)
	n, err := r.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(p))
}
