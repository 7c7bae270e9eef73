package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_ObserveStage(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.ObserveStage("translation", "done", 2*time.Second)
	c.ObserveStage("translation", "done", time.Second)
	c.ObserveStage("translation", "error", 0)
	c.SetActiveSessions(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.stageTotal.WithLabelValues("translation", "done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stageTotal.WithLabelValues("translation", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.activeSessions))
	assert.Equal(t, 1, testutil.CollectAndCount(c.stageDuration))
}

func TestCollector_Middleware(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "/sessions/{id}", "404")))
}
