package metrics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshotSelf(t *testing.T) {
	m, err := Snapshot(int32(os.Getpid()))
	require.NoError(t, err)
	require.Equal(t, int32(os.Getpid()), m.PID)
	require.Greater(t, m.MemoryRSS, uint64(0))
}

func TestSnapshotUnknownPID(t *testing.T) {
	_, err := Snapshot(1 << 30)
	require.Error(t, err)
}

func TestHistoryBounded(t *testing.T) {
	h := NewHistory(2)
	h.Add("api", ProcessMetrics{PID: 1})
	h.Add("api", ProcessMetrics{PID: 2})
	h.Add("api", ProcessMetrics{PID: 3})
	got := h.Get("api")
	require.Len(t, got, 2)
	require.Equal(t, int32(2), got[0].PID)
	require.Equal(t, int32(3), got[1].PID)
}

func TestCollectorCollectsLivePIDs(t *testing.T) {
	hist := NewHistory(10)
	c := NewCollector(20*time.Millisecond, hist)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	self := int32(os.Getpid())
	c.Start(ctx, func() map[string]int32 { return map[string]int32{"api": self} })
	time.Sleep(60 * time.Millisecond)
	c.Stop()

	got := hist.Get("api")
	require.NotEmpty(t, got)
}
