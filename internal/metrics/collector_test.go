package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/trestle/pkg/domain"
)

func sampleStats() domain.BridgeStats {
	return domain.BridgeStats{
		Conversion: domain.ConversionStats{
			ToHostOK:   10,
			ToHostFail: 1,
			AvgLatency: 2 * time.Millisecond,
		},
		Txn: domain.TxnStats{
			Committed:  5,
			RolledBack: 2,
			Failed:     1,
			PeakActive: 3,
		},
		Elements: domain.AccessorStats{
			Cache: domain.CacheStats{Hits: 7, Misses: 3, Entries: 4},
		},
		Runtime: domain.RuntimeStats{
			Executions:    8,
			Failures:      2,
			ModulesLoaded: 1,
		},
		HeapAlloc: 1 << 20,
	}
}

func TestCollector_Collect(t *testing.T) {
	c := NewCollector(sampleStats)

	expected := `
		# HELP trestle_transactions_total Transactions by final status
		# TYPE trestle_transactions_total counter
		trestle_transactions_total{status="committed"} 5
		trestle_transactions_total{status="rolled_back"} 2
		trestle_transactions_total{status="failed"} 1
		# HELP trestle_script_executions_total Script executions by outcome
		# TYPE trestle_script_executions_total counter
		trestle_script_executions_total{outcome="ok"} 6
		trestle_script_executions_total{outcome="fail"} 2
	`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"trestle_transactions_total", "trestle_script_executions_total")
	require.NoError(t, err)
}

func TestCollector_CacheMetricsPerAccessor(t *testing.T) {
	c := NewCollector(sampleStats)

	expected := `
		# HELP trestle_cache_hits_total Accessor cache hits
		# TYPE trestle_cache_hits_total counter
		trestle_cache_hits_total{accessor="elements"} 7
		trestle_cache_hits_total{accessor="parameters"} 0
		trestle_cache_hits_total{accessor="geometry"} 0
	`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"trestle_cache_hits_total")
	require.NoError(t, err)
}

func TestCollector_RegistersCleanly(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(sampleStats)))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
