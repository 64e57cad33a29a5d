package event

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flexpoint/metric"
)

func newTestBus(t *testing.T, cfg Config, opts ...BusOption) *Bus {
	t.Helper()
	b := NewBus(cfg, opts...)
	t.Cleanup(func() { _ = b.Shutdown(time.Second) })
	return b
}

type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func recordingSubscriber(r *recorder, name string, opts ...SubscriberOption) *FuncSubscriber {
	return NewSubscriber(name, func(context.Context, Event) error {
		r.add(name)
		return nil
	}, opts...)
}

func TestNew_Event(t *testing.T) {
	attrs := map[string]any{"k": "v"}
	e := New(TypeInvokeFail,
		WithCapability("orders.Processor"),
		WithCode("mall"),
		WithExtensionID("orders.Processor#mall"),
		WithDuration(5*time.Millisecond),
		WithError(errors.New("boom")),
		WithAttributes(attrs),
		WithAttribute("n", 1),
	)

	assert.NotEqual(t, [16]byte{}, [16]byte(e.ID))
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, TypeInvokeFail, e.Type)
	assert.EqualError(t, e.Err, "boom")

	// Attributes are copied in and out.
	attrs["k"] = "changed"
	v, ok := e.Attr("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	out := e.Attributes()
	out["k"] = "mutated"
	v, _ = e.Attr("k")
	assert.Equal(t, "v", v)

	assert.NotEqual(t, e.ID, New(TypeInvokeFail).ID)
}

func TestBus_PriorityOrder(t *testing.T) {
	b := newTestBus(t, Config{})
	r := &recorder{}

	require.NoError(t, b.Subscribe(recordingSubscriber(r, "late", WithPriority(100))))
	require.NoError(t, b.Subscribe(recordingSubscriber(r, "first-zero")))
	require.NoError(t, b.Subscribe(recordingSubscriber(r, "early", WithPriority(-5))))
	require.NoError(t, b.Subscribe(recordingSubscriber(r, "second-zero")))

	b.Publish(context.Background(), New(TypeInvokeSuccess))

	assert.Equal(t, []string{"early", "first-zero", "second-zero", "late"}, r.get())
}

func TestBus_PriorityOrderAtIntExtremes(t *testing.T) {
	b := newTestBus(t, Config{})
	r := &recorder{}

	require.NoError(t, b.Subscribe(recordingSubscriber(r, "last", WithPriority(1))))
	require.NoError(t, b.Subscribe(recordingSubscriber(r, "max", WithPriority(math.MaxInt))))
	require.NoError(t, b.Subscribe(recordingSubscriber(r, "early", WithPriority(math.MinInt))))

	b.Publish(context.Background(), New(TypeInvokeSuccess))

	assert.Equal(t, []string{"early", "last", "max"}, r.get())
}

func TestBus_FilteredSubscriberNeverSeesOtherTypes(t *testing.T) {
	b := newTestBus(t, Config{})

	var failCount, allCount atomic.Int64
	require.NoError(t, b.Subscribe(NewSubscriber("fail-only", func(context.Context, Event) error {
		failCount.Add(1)
		return nil
	}, WithTypes(TypeInvokeFail))))
	require.NoError(t, b.Subscribe(NewSubscriber("all", func(context.Context, Event) error {
		allCount.Add(1)
		return nil
	})))

	for i := 0; i < 10; i++ {
		b.Publish(context.Background(), New(TypeInvokeSuccess))
	}
	assert.Equal(t, int64(0), failCount.Load())

	b.Publish(context.Background(), New(TypeInvokeFail))
	assert.Equal(t, int64(1), failCount.Load())
	assert.Equal(t, int64(11), allCount.Load())
}

func TestBus_DisabledSubscriberSkipped(t *testing.T) {
	b := newTestBus(t, Config{})
	r := &recorder{}

	toggled := recordingSubscriber(r, "toggled", WithEnabled(false))
	require.NoError(t, b.Subscribe(toggled))

	b.Publish(context.Background(), New(TypeInvokeSuccess))
	assert.Empty(t, r.get())

	toggled.SetEnabled(true)
	b.Publish(context.Background(), New(TypeInvokeSuccess))
	assert.Equal(t, []string{"toggled"}, r.get())
}

func TestBus_CustomRouter(t *testing.T) {
	r := &recorder{}
	onlyAudit := RouterFunc(func(_ Event, subs []Subscriber) []Subscriber {
		var out []Subscriber
		for _, s := range subs {
			if s.Name() == "audit" {
				out = append(out, s)
			}
		}
		return out
	})
	b := newTestBus(t, Config{}, WithRouter(onlyAudit))

	require.NoError(t, b.Subscribe(recordingSubscriber(r, "audit")))
	require.NoError(t, b.Subscribe(recordingSubscriber(r, "other")))

	b.Publish(context.Background(), New(TypeAlertRaised))
	assert.Equal(t, []string{"audit"}, r.get())
}

func TestBus_FailuresAreContained(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	b := newTestBus(t, Config{}, WithMetricsRegistry(registry))
	r := &recorder{}

	require.NoError(t, b.Subscribe(NewSubscriber("panics", func(context.Context, Event) error {
		panic("subscriber bug")
	}, WithPriority(1))))
	require.NoError(t, b.Subscribe(NewSubscriber("errors", func(context.Context, Event) error {
		return errors.New("handler failed")
	}, WithPriority(2))))
	require.NoError(t, b.Subscribe(recordingSubscriber(r, "healthy", WithPriority(3))))

	assert.NotPanics(t, func() {
		b.Publish(context.Background(), New(TypeInvokeException))
	})
	assert.Equal(t, []string{"healthy"}, r.get())

	stats := b.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Delivered)

	core := registry.CoreMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(core.SubscriberErrors.WithLabelValues("panics")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.EventsPublished.WithLabelValues(string(TypeInvokeException))))
}

func TestBus_AsyncSubscribersDoNotBlockPublish(t *testing.T) {
	b := newTestBus(t, Config{Workers: 2, QueueSize: 16})

	release := make(chan struct{})
	var asyncDone sync.WaitGroup
	asyncDone.Add(1)
	require.NoError(t, b.Subscribe(NewSubscriber("slow-async", func(context.Context, Event) error {
		defer asyncDone.Done()
		<-release
		return nil
	}, WithAsync(true), WithPriority(-1))))

	r := &recorder{}
	require.NoError(t, b.Subscribe(recordingSubscriber(r, "sync")))

	b.Publish(context.Background(), New(TypeInvokeSuccess))
	// The synchronous subscriber ran even though the async one is still blocked.
	assert.Equal(t, []string{"sync"}, r.get())

	close(release)
	asyncDone.Wait()
}

func TestBus_AsyncSurvivesCallerCancellation(t *testing.T) {
	b := newTestBus(t, Config{Workers: 1, QueueSize: 4})

	got := make(chan error, 1)
	require.NoError(t, b.Subscribe(NewSubscriber("async", func(ctx context.Context, _ Event) error {
		got <- ctx.Err()
		return nil
	}, WithAsync(true))))

	ctx, cancel := context.WithCancel(context.Background())
	b.Publish(ctx, New(TypeInvokeSuccess))
	cancel()

	select {
	case err := <-got:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("async subscriber did not run")
	}
}

func TestBus_AsyncBackpressureNeverDrops(t *testing.T) {
	b := newTestBus(t, Config{Workers: 1, QueueSize: 1})

	var count atomic.Int64
	require.NoError(t, b.Subscribe(NewSubscriber("counter", func(context.Context, Event) error {
		time.Sleep(50 * time.Microsecond)
		count.Add(1)
		return nil
	}, WithAsync(true))))

	const events = 100
	var wg sync.WaitGroup
	for i := 0; i < events; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(context.Background(), New(TypeInvokeSuccess))
		}()
	}
	wg.Wait()
	require.NoError(t, b.Shutdown(5*time.Second))

	assert.Equal(t, int64(events), count.Load())
}

func TestBus_PublishAsync(t *testing.T) {
	b := newTestBus(t, Config{})
	r := &recorder{}
	require.NoError(t, b.Subscribe(recordingSubscriber(r, "sync")))

	h := b.PublishAsync(context.Background(), New(TypeExtensionRegistered))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))

	select {
	case <-h.Done():
	default:
		t.Fatal("handle should be done after Wait")
	}
	assert.Equal(t, []string{"sync"}, r.get())
}

func TestBus_SubscribeAndUnsubscribe(t *testing.T) {
	b := newTestBus(t, Config{})
	r := &recorder{}

	require.NoError(t, b.Subscribe(recordingSubscriber(r, "a")))
	assert.Error(t, b.Subscribe(recordingSubscriber(r, "a")))
	assert.Error(t, b.Subscribe(nil))
	assert.Len(t, b.Subscribers(), 1)

	assert.True(t, b.Unsubscribe("a"))
	assert.False(t, b.Unsubscribe("a"))

	b.Publish(context.Background(), New(TypeInvokeSuccess))
	assert.Empty(t, r.get())
}

func TestBus_HistoryIsBounded(t *testing.T) {
	b := newTestBus(t, Config{HistorySize: 3})

	var ids []string
	for i := 0; i < 5; i++ {
		e := New(TypeInvokeSuccess, WithAttribute("i", i))
		ids = append(ids, e.ID.String())
		b.Publish(context.Background(), e)
	}

	history := b.History(0)
	require.Len(t, history, 3)
	assert.Equal(t, ids[2], history[0].ID.String())
	assert.Equal(t, ids[4], history[2].ID.String())
	assert.Len(t, b.History(2), 2)
}

func TestBus_ShutdownMakesPublishNoop(t *testing.T) {
	b := NewBus(Config{})
	r := &recorder{}
	require.NoError(t, b.Subscribe(recordingSubscriber(r, "sync")))

	require.NoError(t, b.Shutdown(time.Second))
	require.NoError(t, b.Shutdown(time.Second))
	assert.True(t, b.Closed())

	b.Publish(context.Background(), New(TypeInvokeSuccess))
	h := b.PublishAsync(context.Background(), New(TypeInvokeSuccess))
	<-h.Done()

	assert.Empty(t, r.get())
	assert.Equal(t, int64(2), b.Stats().Rejected)
	assert.Equal(t, int64(0), b.Stats().Published)
}
