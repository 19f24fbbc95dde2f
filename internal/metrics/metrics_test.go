package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.Lookup("person_names", LookupHit)
	m.Lookup("person_names", LookupHit)
	m.Lookup("person_names", LookupMiss)
	m.Superseded("customer_infos")
	m.StaleObject("customer_infos")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Lookups.WithLabelValues("person_names", LookupHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Lookups.WithLabelValues("person_names", LookupMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Supersessions.WithLabelValues("customer_infos")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Stale.WithLabelValues("customer_infos")))

	_, err = New(reg)
	assert.Error(t, err, "registering twice on one registry must fail")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Lookup("t", LookupHit)
	m.AmbiguousLookup("t")
	m.Superseded("t")
	m.StaleObject("t")
	m.Demoted("t")
}
