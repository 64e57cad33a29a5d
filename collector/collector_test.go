package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/c360/flexpoint/errors"
	"github.com/c360/flexpoint/metric"
	"github.com/c360/flexpoint/monitor"
	"github.com/c360/flexpoint/natsclient"
	"github.com/c360/flexpoint/pkg/retry"
	mocks "github.com/c360/flexpoint/testutil"
)

func report() monitor.Report {
	return monitor.Report{
		Kind:        monitor.ReportInvocation,
		ExtensionID: "OrderProcessor#mall",
		Capability:  "app.OrderProcessor",
		Code:        "mall",
		Duration:    1500 * time.Microsecond,
		Success:     true,
		Time:        time.UnixMilli(1_700_000_000_000),
		Stats:       monitor.Stats{Total: 4, SuccessRate: 0.75, P99: 3 * time.Millisecond},
	}
}

func TestNATS_PublishesJSON(t *testing.T) {
	pub := mocks.NewMockPublisher()
	c := NewNATS(pub)

	require.NoError(t, c.Collect(context.Background(), report()))
	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	m := msgs[0]
	assert.Equal(t, "flexpoint.reports.invocation", m.Subject)
	assert.False(t, m.Stream)

	var p Payload
	require.NoError(t, json.Unmarshal(m.Data, &p))
	assert.Equal(t, "OrderProcessor#mall", p.ExtensionID)
	assert.Equal(t, 1.5, p.DurationMs)
	assert.Equal(t, int64(1_700_000_000_000), p.Timestamp)
	assert.Equal(t, 0.75, p.SuccessRate)
	assert.Equal(t, 3.0, p.P99Ms)
}

func TestNATS_StreamAndPrefix(t *testing.T) {
	pub := mocks.NewMockPublisher()
	c := NewNATS(pub, WithSubjectPrefix("ops.dispatch"), WithStream(true))

	r := report()
	r.Kind = monitor.ReportException
	r.Error = "boom"
	require.NoError(t, c.Collect(context.Background(), r))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ops.dispatch.exception", msgs[0].Subject)
	assert.True(t, msgs[0].Stream)
}

func TestNATS_RetriedThroughPipeline(t *testing.T) {
	pub := mocks.NewMockPublisher()
	pub.FailNext(2, natsclient.ErrNotConnected)
	handler := monitor.NewCollectorHandler(NewNATS(pub),
		retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})

	p, err := monitor.NewPipeline(nil, monitor.DefaultConfig(),
		monitor.WithHandlers(monitor.StoreHandler{}, handler))
	require.NoError(t, err)

	p.RecordInvocation("ext", time.Millisecond, true)
	assert.Equal(t, 1, pub.Count("flexpoint.reports.invocation"))
	assert.Zero(t, p.Stats().HandlerErrors)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	return m.Called(ctx, subject, data).Error(0)
}

func TestNATS_StreamFallsBackToCorePublish(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "flexpoint.reports.invocation", mock.AnythingOfType("[]uint8")).
		Return(nil).Once()

	// pub has no PublishToStream, so stream mode degrades to core publish
	c := NewNATS(pub, WithStream(true))
	require.NoError(t, c.Collect(context.Background(), report()))
	pub.AssertExpectations(t)
}

func TestNATS_ClientNotConnectedIsTransient(t *testing.T) {
	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	err = NewNATS(client).Collect(context.Background(), report())
	assert.True(t, errors.IsTransient(err))
}

func TestLog_WritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := NewLog(logger, slog.LevelInfo)

	require.NoError(t, c.Collect(context.Background(), report()))
	r := report()
	r.Success = false
	require.NoError(t, c.Collect(context.Background(), r))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "INFO", first["level"])
	assert.Equal(t, "WARN", second["level"])
	assert.Equal(t, "OrderProcessor#mall", first["extension"])
	assert.Equal(t, "collector", first["component"])
}

func TestPrometheus_ExportsStoreAtScrape(t *testing.T) {
	store := monitor.NewStore()
	for _, ms := range []int{10, 20, 30} {
		store.RecordInvocation("OrderProcessor#mall", time.Duration(ms)*time.Millisecond, true)
	}
	store.RecordInvocation("OrderProcessor#mall", time.Millisecond, false)
	store.RecordException("OrderProcessor#mall", fmt.Errorf("boom"))

	reg := metric.NewMetricsRegistry()
	c := NewPrometheus(store)
	require.NoError(t, c.Register(reg))
	assert.Error(t, c.Register(reg), "double registration is rejected")

	expected := `
# HELP flexpoint_extension_success_rate Successful invocations divided by all invocations
# TYPE flexpoint_extension_success_rate gauge
flexpoint_extension_success_rate{extension="OrderProcessor#mall"} 0.75
# HELP flexpoint_extension_exceptions Exceptions recorded since the last reset
# TYPE flexpoint_extension_exceptions gauge
flexpoint_extension_exceptions{extension="OrderProcessor#mall"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg.PrometheusRegistry(), strings.NewReader(expected),
		"flexpoint_extension_success_rate", "flexpoint_extension_exceptions"))

	count, err := testutil.GatherAndCount(reg.PrometheusRegistry(), "flexpoint_extension_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}
