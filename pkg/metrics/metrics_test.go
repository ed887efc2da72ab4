package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilGatewayMetricsIsSafe(t *testing.T) {
	var m *GatewayMetrics

	m.ObserveRequest("putobject", "204", time.Millisecond)
	m.RecordBytes("in", 42)
	m.ObserveFanout(1)
	m.RecordPlacementFailure()
	m.RecordMPUOperation("commit", nil)
	m.RequestStarted()()
}

func TestHandlerDisabledServes404(t *testing.T) {
	if IsEnabled() {
		t.Skip("registry already initialized by another test")
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestRegistryLifecycle(t *testing.T) {
	InitRegistry()
	require.True(t, IsEnabled())
	require.NotNil(t, GetRegistry())

	m := NewGatewayMetrics()
	require.NotNil(t, m)
	m.ObserveRequest("getobject", "200", 5*time.Millisecond)
	m.RecordBytes("out", 1024)
	m.RecordMPUOperation("create", nil)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "shoal_requests_total")
}
