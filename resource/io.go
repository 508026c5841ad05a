package resource

import (
	"context"
	"io"
)

// ThrottledWriter wraps an io.Writer so backup and compaction streams stay
// within the controller's I/O budget.
type ThrottledWriter struct {
	w   io.Writer
	rc  *Controller
	ctx context.Context
}

// NewThrottledWriter creates a throttled writer. A nil controller passes
// writes through untouched.
func NewThrottledWriter(ctx context.Context, w io.Writer, rc *Controller) *ThrottledWriter {
	return &ThrottledWriter{w: w, rc: rc, ctx: ctx}
}

func (w *ThrottledWriter) Write(p []byte) (int, error) {
	if err := w.rc.AcquireIO(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.w.Write(p)
}

// ThrottledReader wraps an io.Reader with the same budget. The charge is the
// buffer size, the upper bound of what one Read can move.
type ThrottledReader struct {
	r   io.Reader
	rc  *Controller
	ctx context.Context
}

// NewThrottledReader creates a throttled reader.
func NewThrottledReader(ctx context.Context, r io.Reader, rc *Controller) *ThrottledReader {
	return &ThrottledReader{r: r, rc: rc, ctx: ctx}
}

func (r *ThrottledReader) Read(p []byte) (int, error) {
	if err := r.rc.AcquireIO(r.ctx, len(p)); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
