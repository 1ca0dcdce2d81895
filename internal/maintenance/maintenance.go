// Package maintenance runs the periodic janitor: it re-applies the capacity
// bounds on the persisted sequences (an external writer may leave them
// oversized) and refreshes the store gauges.
package maintenance

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"otplink/internal/forwarding"
	"otplink/internal/metrics"
)

// Janitor owns the cron schedule for store upkeep.
type Janitor struct {
	cron     *cron.Cron
	entryID  cron.EntryID
	interval time.Duration
	dedup    *forwarding.DedupWindow
	records  *forwarding.RecordLog
	metrics  *metrics.Metrics

	mu        sync.RWMutex
	isRunning bool
	lastRun   time.Time
}

func NewJanitor(interval time.Duration, dedup *forwarding.DedupWindow, records *forwarding.RecordLog, m *metrics.Metrics) *Janitor {
	return &Janitor{
		cron:     cron.New(),
		interval: interval,
		dedup:    dedup,
		records:  records,
		metrics:  m,
	}
}

// Start schedules the janitor.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.isRunning {
		return fmt.Errorf("janitor is already running")
	}

	spec := fmt.Sprintf("@every %s", j.interval)
	entryID, err := j.cron.AddFunc(spec, j.runOnce)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	j.entryID = entryID
	j.cron.Start()
	j.isRunning = true

	logrus.Infof("Janitor started with interval %s", j.interval)
	return nil
}

// Stop halts the schedule and waits for a running pass to finish. The lock
// is not held while waiting; a running pass needs it to record its state.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.isRunning {
		j.mu.Unlock()
		return
	}
	j.isRunning = false
	ctx := j.cron.Stop()
	j.mu.Unlock()

	select {
	case <-ctx.Done():
		logrus.Info("Janitor stopped gracefully")
	case <-time.After(10 * time.Second):
		logrus.Warn("Janitor stop timeout, forcing shutdown")
	}
}

// IsRunning reports whether the schedule is active.
func (j *Janitor) IsRunning() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.isRunning
}

// LastRun returns the start time of the most recent pass.
func (j *Janitor) LastRun() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastRun
}

// NextRun returns the next scheduled pass, or zero when stopped.
func (j *Janitor) NextRun() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if !j.isRunning {
		return time.Time{}
	}
	return j.cron.Entry(j.entryID).Next
}

// RunOnce performs a single janitor pass, for manual triggering.
func (j *Janitor) RunOnce() {
	j.runOnce()
}

func (j *Janitor) runOnce() {
	start := time.Now()
	j.mu.Lock()
	j.lastRun = start
	j.mu.Unlock()

	if err := j.dedup.Trim(); err != nil {
		logrus.WithError(err).Warn("failed to trim processed OTP keys")
	}
	if err := j.records.Trim(); err != nil {
		logrus.WithError(err).Warn("failed to trim OTP records")
	}

	j.metrics.ProcessedKeys.Set(float64(j.dedup.Size()))
	j.metrics.RecordCount.Set(float64(j.records.Size()))

	logrus.WithFields(logrus.Fields{
		"processed_keys": j.dedup.Size(),
		"records":        j.records.Size(),
		"duration":       time.Since(start).String(),
	}).Debug("janitor pass completed")
}
