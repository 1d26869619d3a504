package monitor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_RecordAndWrite(t *testing.T) {
	p := NewPrometheusMetrics()
	_, err := uuid.Parse(p.RunID)
	require.NoError(t, err)

	p.Extracted.WithLabelValues("train").Add(100)
	p.RecordEpoch(3, 0.5, 0.8, 0.6, 0.75)
	p.EvalAcc.Set(75)

	assert.Equal(t, 3.0, testutil.ToFloat64(p.Epoch))
	assert.Equal(t, 0.75, testutil.ToFloat64(p.EpochAcc.WithLabelValues("validation")))
	assert.Equal(t, 100.0, testutil.ToFloat64(p.Extracted.WithLabelValues("train")))

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, p.WriteTextfile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "schisto_epoch")
	assert.Contains(t, string(b), "schisto_validation_accuracy_percent")
	assert.Contains(t, string(b), p.RunID)
}
