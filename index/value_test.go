package index

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataio/strata/codec"
)

func TestValue_Keys(t *testing.T) {
	assert.Equal(t, "i:42", Int(42).Key())
	assert.Equal(t, "b:1", Bool(true).Key())
	assert.Equal(t, "b:0", Bool(false).Key())
	assert.Equal(t, "s:paid", String("paid").Key())
	assert.Equal(t, "null", Null().Key())

	// Int and Float with the same magnitude must not collide.
	assert.NotEqual(t, Int(5).Key(), Float(5).Key())

	u := uuid.MustParse("a2aa2b1c-8f19-4d3f-9a6c-0f40e3e30e1a")
	assert.Equal(t, "u:a2aa2b1c-8f19-4d3f-9a6c-0f40e3e30e1a", UUID(u).Key())
}

func TestValue_JSONRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	u := uuid.New()

	for _, c := range []codec.Codec{codec.JSON{}, codec.GoJSON{}} {
		for _, v := range []Value{
			Int(-7), Float(3.25), String("widget"), Bool(true), Time(at), UUID(u), Null(),
		} {
			data, err := c.Marshal(v)
			require.NoError(t, err)

			var out Value
			require.NoError(t, c.Unmarshal(data, &out))
			assert.True(t, v.Equal(out), "codec %s value %s", c.Name(), v)
			assert.Equal(t, v.Key(), out.Key())
		}
	}
}

func TestValue_Compare(t *testing.T) {
	lt := func(a, b Value) {
		t.Helper()
		c, ok := a.Compare(b)
		require.True(t, ok)
		assert.Negative(t, c)
		c, ok = b.Compare(a)
		require.True(t, ok)
		assert.Positive(t, c)
	}

	lt(Int(1), Int(2))
	lt(Float(1.5), Float(2.5))
	lt(Int(1), Float(1.5)) // numeric cross-kind
	lt(String("a"), String("b"))
	lt(Bool(false), Bool(true))
	lt(Time(time.Unix(100, 0)), Time(time.Unix(200, 0)))

	eq, ok := Int(3).Compare(Float(3))
	require.True(t, ok)
	assert.Zero(t, eq)

	_, ok = String("a").Compare(Int(1))
	assert.False(t, ok)
	_, ok = Time(time.Now()).Compare(Int(1))
	assert.False(t, ok)
}

func TestValue_Accessors(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	u := uuid.New()

	i, ok := Int(9).AsInt64()
	require.True(t, ok)
	assert.Equal(t, int64(9), i)

	f, ok := Float(2.5).AsFloat64()
	require.True(t, ok)
	assert.Equal(t, 2.5, f)

	s, ok := String("x").AsString()
	require.True(t, ok)
	assert.Equal(t, "x", s)

	b, ok := Bool(true).AsBool()
	require.True(t, ok)
	assert.True(t, b)

	got, ok := Time(at).AsTime()
	require.True(t, ok)
	assert.True(t, at.Equal(got))

	gu, ok := UUID(u).AsUUID()
	require.True(t, ok)
	assert.Equal(t, u, gu)

	_, ok = Int(1).AsString()
	assert.False(t, ok)
	_, ok = String("x").AsInt64()
	assert.False(t, ok)
}

func TestKind_ParseRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindNull, KindInt, KindFloat, KindString, KindBool, KindTime, KindUUID} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("decimal")
	require.Error(t, err)
}
