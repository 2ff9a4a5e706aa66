package services_test

import (
	"context"
	"testing"
	"time"

	"registrar/services"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(time.Second):
		t.Fatal("delivery result never arrived")
		return nil
	}
}

func TestMailQueueReportsOutcome(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	q := services.NewMailQueue(1, 4, logger)
	defer q.Stop(time.Second)

	ok := q.Enqueue("invitation", logrus.Fields{}, func(ctx context.Context) error { return nil })
	failed := q.Enqueue("invitation", logrus.Fields{}, func(ctx context.Context) error { return errSMTPDown })

	assert.NoError(t, receive(t, ok))
	assert.ErrorIs(t, receive(t, failed), errSMTPDown)
}

func TestMailQueueRecoversPanics(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	q := services.NewMailQueue(1, 4, logger)
	defer q.Stop(time.Second)

	err := receive(t, q.Enqueue("confirmation", logrus.Fields{}, func(ctx context.Context) error {
		panic("template exploded")
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "template exploded")

	// The worker survives
	assert.NoError(t, receive(t, q.Enqueue("confirmation", logrus.Fields{}, func(ctx context.Context) error { return nil })))
	assert.NotEmpty(t, hook.AllEntries())
}

func TestMailQueueFullFailsFast(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	q := services.NewMailQueue(1, 1, logger)

	release := make(chan struct{})
	started := make(chan struct{})
	blocking := q.Enqueue("invitation", logrus.Fields{}, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	queued := q.Enqueue("invitation", logrus.Fields{}, func(ctx context.Context) error { return nil })
	overflow := q.Enqueue("invitation", logrus.Fields{}, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, receive(t, overflow), services.ErrMailQueueFull)

	close(release)
	assert.NoError(t, receive(t, blocking))
	assert.NoError(t, receive(t, queued))
	q.Stop(time.Second)
}

func TestMailQueueStopDrainsAndRefuses(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	q := services.NewMailQueue(2, 8, logger)

	pending := q.Enqueue("invitation", logrus.Fields{}, func(ctx context.Context) error { return nil })
	q.Stop(time.Second)
	assert.NoError(t, receive(t, pending))

	after := q.Enqueue("invitation", logrus.Fields{}, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, receive(t, after), services.ErrMailQueueStopped)
}
