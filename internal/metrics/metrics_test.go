package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(propagationChanges.WithLabelValues("checked"))
	ACChanged(true)
	ACChanged(true)
	assert.Equal(t, before+2, testutil.ToFloat64(propagationChanges.WithLabelValues("checked")))

	before = testutil.ToFloat64(desyncIssues.WithLabelValues("cache_desync"))
	DesyncIssue("cache_desync")
	assert.Equal(t, before+1, testutil.ToFloat64(desyncIssues.WithLabelValues("cache_desync")))

	before = testutil.ToFloat64(syncItems.WithLabelValues("github", "failed"))
	SyncItem("github", "failed")
	assert.Equal(t, before+1, testutil.ToFloat64(syncItems.WithLabelValues("github", "failed")))
}

func TestWriteTextfile(t *testing.T) {
	RetryAttempt("rate-limit")
	RetryDelay(1.5)

	path := filepath.Join(t.TempDir(), "incsync.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `incsync_retry_attempts_total{kind="rate-limit"}`)
	assert.Contains(t, string(data), "incsync_retry_delay_seconds_bucket")
}
