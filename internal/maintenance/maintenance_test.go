package maintenance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"otplink/internal/forwarding"
	"otplink/internal/metrics"
	"otplink/internal/store"
)

var testMetrics = metrics.New()

func newJanitor(t *testing.T) (*Janitor, *store.Memory) {
	t.Helper()
	kv := store.NewMemory()
	j := NewJanitor(time.Hour, forwarding.NewDedupWindow(kv), forwarding.NewRecordLog(kv), testMetrics)
	return j, kv
}

func TestStartStopRestart(t *testing.T) {
	j, _ := newJanitor(t)

	if err := j.Start(); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if !j.IsRunning() {
		t.Fatalf("janitor should be running after Start")
	}
	if err := j.Start(); err == nil {
		t.Fatalf("second start while running should fail")
	}
	if j.NextRun().IsZero() {
		t.Fatalf("next run should be scheduled while running")
	}

	j.Stop()
	if j.IsRunning() {
		t.Fatalf("janitor should not be running after Stop")
	}
	if !j.NextRun().IsZero() {
		t.Fatalf("no next run when stopped")
	}
}

func TestRunOncePerformsTrim(t *testing.T) {
	j, kv := newJanitor(t)

	// Oversized list from a misbehaving external writer.
	oversized := "["
	for i := 0; i < 70; i++ {
		if i > 0 {
			oversized += ","
		}
		oversized += `"k"`
	}
	oversized += "]"
	require.NoError(t, kv.Put(forwarding.ProcessedKey, oversized))

	j.RunOnce()

	if got := forwarding.NewDedupWindow(kv).Size(); got != 50 {
		t.Fatalf("expected window trimmed to 50, got %d", got)
	}
	if j.LastRun().IsZero() {
		t.Fatalf("last run should be recorded")
	}
}
