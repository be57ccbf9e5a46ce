package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountersInflightAndUnmatchedRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/analyses/:id", func(c *gin.Context) { c.String(http.StatusOK, "hello") })
	r.GET("/statusonly", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	baseOK := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/api/analyses/:id", "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "unmatched", "404"))

	for _, tc := range []struct {
		path string
		code int
	}{
		{"/api/analyses/a1", http.StatusOK},
		{"/api/analyses/a2", http.StatusOK},
		{"/does-not-exist", http.StatusNotFound},
		{"/statusonly", http.StatusNoContent},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if w.Code != tc.code {
			t.Fatalf("GET %s -> %d, want %d", tc.path, w.Code, tc.code)
		}
	}

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/api/analyses/:id", "200")); got != baseOK+2 {
		t.Fatalf("route counter = %v; want %v (ids must not become labels)", got, baseOK+2)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "unmatched", "404")); got != base404+1 {
		t.Fatalf("unmatched counter = %v; want %v", got, base404+1)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
}

func TestMetrics_RateLimitedCounter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(0.01, 1, KeyByCaller())
	r := gin.New()
	r.POST("/api/extract-thread", rl.Handler(), func(c *gin.Context) { c.Status(http.StatusOK) })

	base := testutil.ToFloat64(rateLimited.WithLabelValues("/api/extract-thread"))
	for i := 0; i < 3; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/extract-thread", nil))
	}
	if got := testutil.ToFloat64(rateLimited.WithLabelValues("/api/extract-thread")); got != base+2 {
		t.Fatalf("rate limited counter = %v; want %v", got, base+2)
	}
}
