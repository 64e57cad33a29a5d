package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clk := NewManualClock(start)
	assert.Equal(t, start, clk.Now())

	clk.Advance(150 * time.Millisecond)
	assert.Equal(t, start.Add(150*time.Millisecond), clk.Now())

	clk.Set(start)
	assert.Equal(t, start, clk.Now())
}

func TestOrSystem(t *testing.T) {
	assert.Equal(t, System, OrSystem(nil))

	clk := NewManualClock(time.Unix(10, 0))
	assert.Equal(t, Clock(clk), OrSystem(clk))
}

func TestMillisecondHelpers(t *testing.T) {
	assert.Equal(t, int64(0), ToUnixMs(time.Time{}))
	assert.True(t, FromUnixMs(0).IsZero())
	assert.Equal(t, "", Format(0))

	ts := time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
	ms := ToUnixMs(ts)
	assert.Equal(t, ts.UnixMilli(), ms)
	assert.True(t, FromUnixMs(ms).Equal(ts))
	assert.Equal(t, "2023-01-01T12:00:00Z", Format(ms))

	assert.Equal(t, 2*time.Second, Between(ms, ms+2000))
	assert.Equal(t, time.Duration(0), Between(0, ms))

	assert.InDelta(t, time.Now().UnixMilli(), Now(), 1000)
}
