package decision

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flexpoint/event"
	"github.com/c360/flexpoint/extension"
	"github.com/c360/flexpoint/metric"
	"github.com/c360/flexpoint/pkg/timestamp"
)

type OrderProcessor interface{ Process(string) string }

type Notifier interface{ Notify(string) }

type processor struct{}

func (processor) Process(s string) string { return s }

var (
	orderCap    = extension.CapabilityOf[OrderProcessor]()
	notifierCap = extension.CapabilityOf[Notifier]()
)

type capture struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *capture) Publish(_ context.Context, e event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *capture) PublishAsync(ctx context.Context, e event.Event) *event.Handle {
	c.Publish(ctx, e)
	return nil
}

func newCache(t *testing.T, opts ...Option) (*Cache, *timestamp.ManualClock) {
	t.Helper()
	clock := timestamp.NewManualClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	c, err := New(append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return c, clock
}

func TestCache_PutGet(t *testing.T) {
	c, _ := newCache(t)
	mall := extension.New(processor{}, extension.WithCode("mall"))

	_, ok := c.Get(orderCap, "code=mall")
	assert.False(t, ok)

	require.NoError(t, c.Put(orderCap, "code=mall", mall, 0))
	got, ok := c.Get(orderCap, "code=mall")
	require.True(t, ok)
	assert.Same(t, mall, got)

	_, ok = c.Get(notifierCap, "code=mall")
	assert.False(t, ok, "keys are scoped by capability")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.InDelta(t, 1.0/3.0, stats.HitRate, 1e-9)
	assert.Equal(t, 1, stats.Size)
}

func TestCache_ExpiredEntryIsNeverReturned(t *testing.T) {
	c, clock := newCache(t)
	ext := extension.New(processor{}, extension.WithCode("mall"))

	require.NoError(t, c.Put(orderCap, "k", ext, time.Second))
	clock.Advance(time.Second)
	_, ok := c.Get(orderCap, "k")
	assert.True(t, ok, "live at exactly its expiry instant")

	clock.Advance(time.Millisecond)
	before := c.Stats().Misses
	_, ok = c.Get(orderCap, "k")
	assert.False(t, ok)
	assert.Equal(t, before+1, c.Stats().Misses)
	assert.Equal(t, 0, c.Size())
}

func TestCache_DefaultTTL(t *testing.T) {
	c, clock := newCache(t)
	require.NoError(t, c.Put(orderCap, "k", extension.New(processor{}), -1))

	clock.Advance(DefaultTTL)
	_, ok := c.Get(orderCap, "k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get(orderCap, "k")
	assert.False(t, ok)

	short, shortClock := newCache(t, WithDefaultTTL(time.Minute))
	require.NoError(t, short.Put(orderCap, "k", extension.New(processor{}), 0))
	shortClock.Advance(2 * time.Minute)
	_, ok = short.Get(orderCap, "k")
	assert.False(t, ok)
}

func TestCache_Invalidate(t *testing.T) {
	c, _ := newCache(t)
	ext := extension.New(processor{})
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Put(orderCap, k, ext, 0))
	}
	require.NoError(t, c.Put(notifierCap, "a", ext, 0))

	assert.Equal(t, 1, c.Invalidate(orderCap, "a", "missing"))
	_, ok := c.Get(orderCap, "a")
	assert.False(t, ok)

	assert.Equal(t, 2, c.Invalidate(orderCap))
	assert.Equal(t, 1, c.Size())

	_, ok = c.Get(notifierCap, "a")
	assert.True(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestCache_PublishesEvictions(t *testing.T) {
	pub := &capture{}
	c, clock := newCache(t, WithPublisher(pub))
	ext := extension.New(processor{}, extension.WithCode("mall"))

	require.NoError(t, c.Put(orderCap, "code=mall", ext, time.Second))
	clock.Advance(2 * time.Second)
	_, _ = c.Get(orderCap, "code=mall")

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.events, 1)
	e := pub.events[0]
	assert.Equal(t, event.TypeCacheEvicted, e.Type)
	assert.Equal(t, orderCap.Name(), e.Capability)
	assert.Equal(t, "mall", e.Code)
	key, _ := e.Attr("key")
	assert.Equal(t, "code=mall", key)
}

func TestCache_Metrics(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	c, _ := newCache(t, WithMetricsRegistry(reg))

	require.NoError(t, c.Put(orderCap, "k", extension.New(processor{}), 0))
	_, _ = c.Get(orderCap, "k")
	_, _ = c.Get(orderCap, "missing")

	count, err := testutil.GatherAndCount(reg.PrometheusRegistry(),
		"flexpoint_cache_hits_total", "flexpoint_cache_misses_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = New(WithMetricsRegistry(reg))
	assert.Error(t, err, "a second decision cache cannot claim the same metrics")
}
