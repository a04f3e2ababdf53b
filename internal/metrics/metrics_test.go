package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, refreshRunsTotal)
	require.NotNil(t, fetchErrorsTotal)
	require.NotNil(t, timelineItems)
}

func TestObserveRefresh(t *testing.T) {
	Init()
	before := testutil.ToFloat64(refreshRunsTotal.WithLabelValues("success"))

	ObserveRefresh("success", 150*time.Millisecond, 7)

	assert.Equal(t, before+1, testutil.ToFloat64(refreshRunsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(7), testutil.ToFloat64(timelineItems))
}

func TestObserveFetch(t *testing.T) {
	Init()
	items := testutil.ToFloat64(fetchItemsTotal.WithLabelValues("events"))
	errs := testutil.ToFloat64(fetchErrorsTotal.WithLabelValues("services", "transport"))

	ObserveFetch("events", 4, "")
	ObserveFetch("services", 0, "transport")

	assert.Equal(t, items+4, testutil.ToFloat64(fetchItemsTotal.WithLabelValues("events")))
	assert.Equal(t, errs+1, testutil.ToFloat64(fetchErrorsTotal.WithLabelValues("services", "transport")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveRefresh("failure", time.Second, 0)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "elvcal_refresh_runs_total"))
	assert.True(t, strings.Contains(body, "elvcal_timeline_items"))
}
