package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTransition(t *testing.T) {
	before := testutil.ToFloat64(CapacityReleases)
	transitionsBefore := testutil.ToFloat64(BookingTransitions.WithLabelValues("failed", "payment_failed"))

	RecordTransition("failed", "payment_failed", true)
	RecordTransition("confirmed", "", false)

	assert.Equal(t, before+1, testutil.ToFloat64(CapacityReleases))
	assert.Equal(t, transitionsBefore+1, testutil.ToFloat64(BookingTransitions.WithLabelValues("failed", "payment_failed")))
}

func TestRecordBreakerState(t *testing.T) {
	RecordBreakerState("closed", "open")
	assert.Equal(t, float64(1), testutil.ToFloat64(GatewayBreakerState.WithLabelValues("open")))

	RecordBreakerState("open", "half-open")
	assert.Equal(t, float64(0), testutil.ToFloat64(GatewayBreakerState.WithLabelValues("open")))
	assert.Equal(t, float64(1), testutil.ToFloat64(GatewayBreakerState.WithLabelValues("half-open")))

	RecordBreakerState("half-open", "closed")
	assert.Equal(t, float64(0), testutil.ToFloat64(GatewayBreakerState.WithLabelValues("half-open")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `booking_request_duration_seconds_count{route="/ping",status="2xx"}`)
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{200: "2xx", 201: "2xx", 302: "3xx", 404: "4xx", 409: "4xx", 503: "5xx"}
	for status, want := range tests {
		assert.Equal(t, want, statusClass(status))
	}
}
