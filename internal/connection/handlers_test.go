package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quantfabric/kalshi-core/internal/rest"
)

func TestRESTHandler_HealthAcceptsNoContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	h := NewRESTHandler(rest.NewClient(server.URL, nil), "")

	result := h.CheckHealth(context.Background())
	if !result.Healthy {
		t.Errorf("health on 204 = unhealthy (%s), want healthy", result.Err)
	}
	if err := h.Establish(context.Background()); err != nil {
		t.Errorf("Establish on 204: %v", err)
	}
}

func TestRESTHandler_HealthReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	h := NewRESTHandler(rest.NewClient(server.URL, nil), "")

	result := h.CheckHealth(context.Background())
	if result.Healthy {
		t.Error("health on 503 = healthy, want unhealthy")
	}
	if result.Err == "" {
		t.Error("unhealthy result should carry error context")
	}
}
