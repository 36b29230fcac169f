package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservers(t *testing.T) {
	m := New()

	m.PuzzleGenerated()
	m.PuzzleGenerated()
	m.ObserveProof("proved", 120*time.Millisecond)
	m.ObserveProof("out_of_range", time.Millisecond)
	m.ObserveProof("out_of_range", time.Millisecond)
	m.ObserveVerification("verified")
	m.ObserveDecision("granted")
	m.ObserveLedger("deposit", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.puzzles))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.proofs.WithLabelValues("proved")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.proofs.WithLabelValues("out_of_range")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("verified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("granted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerOps.WithLabelValues("deposit", "ok")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.proveDuration))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/zk/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, p := range []string{"/zk/a.vk", "/zk/b.pk", "/health"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/zk/{name}", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/health", "200")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.ObserveDecision("denied")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), `zkpoh_gate_decisions_total{outcome="denied"} 1`))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
