package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edge-tutor/node/pkg/models"
	"github.com/edge-tutor/node/pkg/ports/portstest"
)

func TestKey_NormalizesCaseAndWhitespace(t *testing.T) {
	a := Key("  What is Photosynthesis?  ", "biology", "1.0.0")
	b := Key("what is photosynthesis?", "biology", "1.0.0")
	assert.Equal(t, a, b)
}

func TestKey_DifferentVersionNeverCollides(t *testing.T) {
	a := Key("what is photosynthesis?", "biology", "1.0.0")
	b := Key("what is photosynthesis?", "biology", "2.0.0")
	assert.NotEqual(t, a, b)
}

func TestCache_PutThenGet(t *testing.T) {
	clock := portstest.NewClock(time.Unix(0, 0))
	c := New(10, time.Hour, clock, nil, nil)

	key := Key("q", "math", "1.0.0")
	c.Put(context.Background(), key, models.Answer{Text: "42"})

	ans, ok := c.Get(context.Background(), key)
	require.True(t, ok)
	assert.Equal(t, "42", ans.Text)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, "local", stats.BackendKind)
}

func TestCache_MissIsCountedAndAbsentReturnsFalse(t *testing.T) {
	clock := portstest.NewClock(time.Unix(0, 0))
	c := New(10, time.Hour, clock, nil, nil)

	_, ok := c.Get(context.Background(), "nope")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestCache_EntryExpiresAfterTTL(t *testing.T) {
	clock := portstest.NewClock(time.Unix(0, 0))
	c := New(10, time.Minute, clock, nil, nil)

	key := Key("q", "math", "1.0.0")
	c.Put(context.Background(), key, models.Answer{Text: "42"})

	clock.Advance(2 * time.Minute)
	_, ok := c.Get(context.Background(), key)
	assert.False(t, ok)
}

func TestCache_LRUEvictsOldestOnOverflow(t *testing.T) {
	clock := portstest.NewClock(time.Unix(0, 0))
	c := New(2, time.Hour, clock, nil, nil)

	k1, k2, k3 := Key("a", "s", "v"), Key("b", "s", "v"), Key("c", "s", "v")
	c.Put(context.Background(), k1, models.Answer{Text: "1"})
	c.Put(context.Background(), k2, models.Answer{Text: "2"})
	c.Put(context.Background(), k3, models.Answer{Text: "3"})

	_, ok := c.Get(context.Background(), k1)
	assert.False(t, ok, "oldest entry should have been evicted")

	_, ok = c.Get(context.Background(), k2)
	assert.True(t, ok)
	_, ok = c.Get(context.Background(), k3)
	assert.True(t, ok)
}

func TestCache_InvalidateBySubjectPrefix(t *testing.T) {
	clock := portstest.NewClock(time.Unix(0, 0))
	c := New(10, time.Hour, clock, nil, nil)

	mathKey := Key("q1", "math", "1.0.0")
	bioKey := Key("q2", "biology", "1.0.0")
	c.Put(context.Background(), mathKey, models.Answer{Text: "a"})
	c.Put(context.Background(), bioKey, models.Answer{Text: "b"})

	n := c.Invalidate(context.Background(), SubjectPrefix("math", "1.0.0"))
	assert.Equal(t, 1, n)

	_, ok := c.Get(context.Background(), mathKey)
	assert.False(t, ok)
	_, ok = c.Get(context.Background(), bioKey)
	assert.True(t, ok)
}

func TestCache_InvalidateWildcardClearsEverything(t *testing.T) {
	clock := portstest.NewClock(time.Unix(0, 0))
	c := New(10, time.Hour, clock, nil, nil)

	c.Put(context.Background(), Key("q1", "math", "1.0.0"), models.Answer{Text: "a"})
	c.Put(context.Background(), Key("q2", "biology", "1.0.0"), models.Answer{Text: "b"})

	c.Invalidate(context.Background(), WildcardPattern)
	assert.Equal(t, 0, c.Stats().KeyCount)
}
