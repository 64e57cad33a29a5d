package collector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/flexpoint/errors"
	"github.com/c360/flexpoint/monitor"
)

// DefaultSubjectPrefix is where reports are published; the report kind is
// appended, e.g. "flexpoint.reports.invocation".
const DefaultSubjectPrefix = "flexpoint.reports"

// Publisher sends raw payloads. *natsclient.Client satisfies it; FromConn
// adapts a bare *nats.Conn.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// StreamPublisher publishes with a JetStream acknowledgement.
type StreamPublisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

type connPublisher struct {
	conn *nats.Conn
}

func (p connPublisher) Publish(_ context.Context, subject string, data []byte) error {
	return p.conn.Publish(subject, data)
}

// FromConn adapts an established NATS connection to a Publisher.
func FromConn(conn *nats.Conn) Publisher {
	return connPublisher{conn: conn}
}

// NATSOption configures a NATS collector.
type NATSOption func(*NATS)

// WithSubjectPrefix overrides DefaultSubjectPrefix.
func WithSubjectPrefix(prefix string) NATSOption {
	return func(n *NATS) {
		if prefix != "" {
			n.prefix = prefix
		}
	}
}

// WithStream publishes through JetStream when the publisher supports it.
func WithStream(enabled bool) NATSOption {
	return func(n *NATS) { n.stream = enabled }
}

// NATS forwards reports as JSON messages.
type NATS struct {
	publisher Publisher
	prefix    string
	stream    bool
}

// NewNATS creates a NATS collector.
func NewNATS(publisher Publisher, opts ...NATSOption) *NATS {
	n := &NATS{publisher: publisher, prefix: DefaultSubjectPrefix}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name implements monitor.Collector.
func (n *NATS) Name() string { return "nats" }

// Payload is the wire form of a report.
type Payload struct {
	Kind        monitor.ReportKind `json:"kind"`
	ExtensionID string             `json:"extension_id"`
	Capability  string             `json:"capability,omitempty"`
	Code        string             `json:"code,omitempty"`
	DurationMs  float64            `json:"duration_ms"`
	Success     bool               `json:"success"`
	Error       string             `json:"error,omitempty"`
	Timestamp   int64              `json:"timestamp"`
	Total       int64              `json:"total"`
	SuccessRate float64            `json:"success_rate"`
	AvgMs       float64            `json:"avg_ms"`
	P95Ms       float64            `json:"p95_ms"`
	P99Ms       float64            `json:"p99_ms"`
	Exceptions  int64              `json:"exceptions"`
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// NewPayload converts a report to its wire form.
func NewPayload(r monitor.Report) Payload {
	return Payload{
		Kind:        r.Kind,
		ExtensionID: r.ExtensionID,
		Capability:  r.Capability,
		Code:        r.Code,
		DurationMs:  millis(r.Duration),
		Success:     r.Success,
		Error:       r.Error,
		Timestamp:   r.Time.UnixMilli(),
		Total:       r.Stats.Total,
		SuccessRate: r.Stats.SuccessRate,
		AvgMs:       millis(r.Stats.AverageDuration),
		P95Ms:       millis(r.Stats.P95),
		P99Ms:       millis(r.Stats.P99),
		Exceptions:  r.Stats.Exceptions,
	}
}

// Subject returns the subject a report of kind is published on.
func (n *NATS) Subject(kind monitor.ReportKind) string {
	return n.prefix + "." + string(kind)
}

// Collect implements monitor.Collector. Encoding failures are invalid;
// publish failures keep the publisher's classification.
func (n *NATS) Collect(ctx context.Context, r monitor.Report) error {
	data, err := json.Marshal(NewPayload(r))
	if err != nil {
		return errors.WrapInvalid(err, "NATS", "Collect", "encode report")
	}

	subject := n.Subject(r.Kind)
	if sp, ok := n.publisher.(StreamPublisher); ok && n.stream {
		return sp.PublishToStream(ctx, subject, data)
	}
	return n.publisher.Publish(ctx, subject, data)
}
