package database

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func describe(c prometheus.Collector) []*prometheus.Desc {
	ch := make(chan *prometheus.Desc, 32)
	c.Describe(ch)
	close(ch)

	var out []*prometheus.Desc
	for d := range ch {
		out = append(out, d)
	}
	return out
}

func TestPoolStatsCollector_Describe(t *testing.T) {
	c := NewPoolStatsCollector(nil, "aptbooks-cli")
	require.NotNil(t, c)
	assert.Equal(t, "aptbooks-cli", c.service)

	descs := describe(c)
	require.Len(t, descs, 12)

	var all string
	for _, d := range descs {
		all += d.String() + "\n"
	}
	for _, name := range []string{
		"db_pool_acquired_connections",
		"db_pool_idle_connections",
		"db_pool_total_connections",
		"db_pool_max_connections",
		"db_pool_constructing_connections",
		"db_pool_acquire_count_total",
		"db_pool_acquire_duration_seconds_total",
		"db_pool_canceled_acquire_count_total",
		"db_pool_empty_acquire_count_total",
		"db_pool_new_connections_total",
		"db_pool_max_lifetime_destroy_total",
		"db_pool_max_idle_destroy_total",
	} {
		assert.Contains(t, all, `"`+name+`"`)
	}
}

func TestRegisterPoolMetrics_CustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterPoolMetrics(reg, nil, "aptbooks-cli"))

	// A second collector with identical descriptors is rejected.
	assert.Error(t, RegisterPoolMetrics(reg, nil, "aptbooks-cli"))
}
