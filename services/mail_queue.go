package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"registrar/metrics"

	"github.com/sirupsen/logrus"
)

var (
	ErrMailQueueFull    = errors.New("mail queue is full")
	ErrMailQueueStopped = errors.New("mail queue is stopped")
)

// sendTimeout bounds a single delivery attempt
const sendTimeout = 30 * time.Second

type mailJob struct {
	kind   string
	fields logrus.Fields
	send   func(ctx context.Context) error
	result chan error
}

// MailQueue runs email deliveries on a fixed pool of background workers.
// Enqueue never blocks, a full queue fails the delivery instead.
type MailQueue struct {
	mu      sync.RWMutex
	stopped bool
	jobs    chan mailJob
	wg      sync.WaitGroup
	log     logrus.FieldLogger
}

func NewMailQueue(workers, size int, logger logrus.FieldLogger) *MailQueue {
	q := &MailQueue{
		jobs: make(chan mailJob, size),
		log:  logger.WithField("component", "mail_queue"),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

// Enqueue submits a delivery and returns a channel receiving its outcome exactly once
func (q *MailQueue) Enqueue(kind string, fields logrus.Fields, send func(ctx context.Context) error) <-chan error {
	result := make(chan error, 1)

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped {
		q.fail(kind, fields, ErrMailQueueStopped)
		result <- ErrMailQueueStopped
		return result
	}

	select {
	case q.jobs <- mailJob{kind: kind, fields: fields, send: send, result: result}:
	default:
		q.fail(kind, fields, ErrMailQueueFull)
		result <- ErrMailQueueFull
	}
	return result
}

// Stop refuses new deliveries and waits up to timeout for queued ones to finish
func (q *MailQueue) Stop(timeout time.Duration) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		q.log.WithField("timeout", timeout).Warn("Mail queue stopped before draining")
	}
}

func (q *MailQueue) work() {
	defer q.wg.Done()
	for job := range q.jobs {
		job.result <- q.run(job)
	}
}

func (q *MailQueue) run(job mailJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mail delivery panicked: %v", r)
			q.log.WithFields(job.fields).WithField("stack", string(debug.Stack())).Error("Mail delivery panicked")
		}
		metrics.Emails.WithLabelValues(job.kind, metrics.Result(err)).Inc()
		if err != nil {
			q.logFailure(job.kind, job.fields, err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return job.send(ctx)
}

func (q *MailQueue) fail(kind string, fields logrus.Fields, err error) {
	metrics.Emails.WithLabelValues(kind, metrics.Result(err)).Inc()
	q.logFailure(kind, fields, err)
}

func (q *MailQueue) logFailure(kind string, fields logrus.Fields, err error) {
	q.log.WithFields(fields).WithField("kind", kind).WithError(err).Warn("Email delivery failed")
}

// awaitDeliveries waits up to timeout for the outcomes and counts failures.
// Deliveries still running at the deadline are reported as pending, not failed.
func awaitDeliveries(results []<-chan error, timeout time.Duration) (failed, pending int) {
	if len(results) == 0 {
		return 0, 0
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for i, ch := range results {
		select {
		case err := <-ch:
			if err != nil {
				failed++
			}
		case <-timer.C:
			return failed, len(results) - i
		}
	}
	return failed, 0
}
