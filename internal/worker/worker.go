// Package worker detaches pipeline invocations from the delivery trigger.
// The trigger's only contract is "accept and detach": Submit never blocks on
// network I/O and has no return channel to the caller.
package worker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Job is one inbound message to process.
type Job struct {
	Sender     string
	Message    string
	ReceivedAt time.Time
}

// Dispatcher fans inbound messages out to a bounded pool of workers.
type Dispatcher struct {
	jobs    chan Job
	process func(Job)
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewDispatcher creates a dispatcher with the given pool size and queue
// capacity. process is invoked once per accepted job, on a worker goroutine.
func NewDispatcher(workers, queueSize int, process func(Job)) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 64
	}
	d := &Dispatcher{
		jobs:    make(chan Job, queueSize),
		process: process,
	}
	d.start(workers)
	return d
}

func (d *Dispatcher) start(workers int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	logrus.Infof("Dispatcher started with %d workers", workers)
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for job := range d.jobs {
		d.process(job)
	}
}

// Submit enqueues a job and returns immediately. When the queue is full the
// job is dropped with a log entry rather than blocking the delivery trigger;
// OTP forwarding is best-effort auxiliary functionality.
func (d *Dispatcher) Submit(job Job) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		logrus.WithField("sender", job.Sender).Warn("dispatcher stopped, dropping message")
		return false
	}
	d.mu.Unlock()

	select {
	case d.jobs <- job:
		return true
	default:
		logrus.WithField("sender", job.Sender).Warn("worker queue full, dropping message")
		return false
	}
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
	logrus.Info("Dispatcher stopped")
}
