package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	// IncHTTP should not panic
	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
	})
}

func TestSyncMetrics(t *testing.T) {
	before := testutil.ToFloat64(passes.WithLabelValues(OutcomeSuccess))
	ObservePass(OutcomeSuccess, 150*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(passes.WithLabelValues(OutcomeSuccess)))

	IncRecord("session", ResultDropped)
	assert.GreaterOrEqual(t, testutil.ToFloat64(records.WithLabelValues("session", ResultDropped)), 1.0)

	SetRetryQueueSize(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(retryQueueSize))

	SetConsecutiveFailures(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(consecutiveFailures))
}
