package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "error", Result(errors.New("smtp down")))
}

func TestEmailOutcomesAreCountedByResult(t *testing.T) {
	before := testutil.ToFloat64(Emails.WithLabelValues("invitation", "error"))

	Emails.WithLabelValues("invitation", Result(errors.New("smtp down"))).Inc()

	assert.Equal(t, before+1, testutil.ToFloat64(Emails.WithLabelValues("invitation", "error")))
}

func TestRecordDBOperation(t *testing.T) {
	before := testutil.CollectAndCount(DatabaseOperationDuration)

	RecordDBOperation("metrics_test", "competitions", time.Now().Add(-time.Millisecond))

	assert.Equal(t, before+1, testutil.CollectAndCount(DatabaseOperationDuration))
}
