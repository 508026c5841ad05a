package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRNG_Deterministic(t *testing.T) {
	a := NewRNG(4711)
	b := NewRNG(4711)

	assert.Equal(t, a.Payload(64), b.Payload(64))
	assert.Equal(t, a.Intn(1000), b.Intn(1000))
	assert.Equal(t, a.Pick("x", "y", "z"), b.Pick("x", "y", "z"))
}

func TestRNG_Reset(t *testing.T) {
	r := NewRNG(7)

	first := r.Payload(32)
	r.Reset()
	assert.Equal(t, first, r.Payload(32))
	assert.Equal(t, int64(7), r.Seed())
}

func TestRNG_PayloadLength(t *testing.T) {
	r := NewRNG(1)

	assert.Len(t, r.Payload(4096), 4096)
	assert.Empty(t, r.Payload(0))
}

func TestRNG_PickEmpty(t *testing.T) {
	r := NewRNG(1)

	assert.Equal(t, "", r.Pick())
}
