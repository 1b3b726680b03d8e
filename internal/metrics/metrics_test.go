package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGinMiddleware_Labels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/api/channels/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.NoRoute(func(c *gin.Context) { c.Status(http.StatusNotFound) })

	routed := prometheus.Labels{"method": http.MethodGet, "path": "/api/channels/:id", "status": "200"}
	unrouted := prometheus.Labels{"method": http.MethodGet, "path": NoRoutePath, "status": "404"}
	beforeRouted := testutil.ToFloat64(HttpRequestsTotal.With(routed))
	beforeUnrouted := testutil.ToFloat64(HttpRequestsTotal.With(unrouted))
	series := testutil.CollectAndCount(HttpRequestsTotal)

	for _, path := range []string{"/api/channels/1", "/a/b/c", "/x.png", "/random-42"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(HttpRequestsTotal.With(routed)) - beforeRouted; got != 1 {
		t.Errorf("routed requests: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(HttpRequestsTotal.With(unrouted)) - beforeUnrouted; got != 3 {
		t.Errorf("unrouted requests: expected 3, got %v", got)
	}
	if got := testutil.CollectAndCount(HttpRequestsTotal); got != series {
		t.Errorf("expected no new series, got %d (was %d)", got, series)
	}
}
