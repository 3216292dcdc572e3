package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "error", Result(errors.New("boom")))
}

func TestWriteTextfile(t *testing.T) {
	CatalogUpserts.WithLabelValues("metricsTestBlueprint", "ok").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(CatalogUpserts.WithLabelValues("metricsTestBlueprint", "ok")))

	path := filepath.Join(t.TempDir(), "catalogsync.prom")
	require.NoError(t, WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `catalogsync_catalog_upserts_total{blueprint="metricsTestBlueprint",result="ok"} 1`)
}
