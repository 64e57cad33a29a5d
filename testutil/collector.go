package testutil

import (
	"context"
	"sync"

	"github.com/c360/flexpoint/monitor"
)

// RecordingCollector keeps every report it receives. Err, when set, is
// returned from Collect after recording.
type RecordingCollector struct {
	Label string
	Err   error

	mu      sync.Mutex
	reports []monitor.Report
}

// Name implements monitor.Collector.
func (c *RecordingCollector) Name() string {
	if c.Label == "" {
		return "recording"
	}
	return c.Label
}

// Collect implements monitor.Collector.
func (c *RecordingCollector) Collect(_ context.Context, r monitor.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	return c.Err
}

// Reports returns a copy of the received reports.
func (c *RecordingCollector) Reports() []monitor.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]monitor.Report(nil), c.reports...)
}

// Kinds returns the kind of every received report, in order.
func (c *RecordingCollector) Kinds() []monitor.ReportKind {
	reports := c.Reports()
	kinds := make([]monitor.ReportKind, len(reports))
	for i, r := range reports {
		kinds[i] = r.Kind
	}
	return kinds
}
