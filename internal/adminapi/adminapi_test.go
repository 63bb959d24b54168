// Copyright (C) The Streamworkers Authors. All rights reserved.

package adminapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamworkers/dispatchcore/internal/appstate"
	"github.com/streamworkers/dispatchcore/internal/failover"
	"github.com/streamworkers/dispatchcore/internal/request"
)

func TestHandlerForbidsWithoutToken(t *testing.T) {
	h := Handler(nil, prometheus.NewRegistry(), request.NewState(), failover.NewTable(), appstate.New(nil), "")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/dispatch/requests", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with no token configured, got %d", w.Code)
	}
}

func TestHandlerRejectsMissingCredential(t *testing.T) {
	h := Handler(nil, prometheus.NewRegistry(), request.NewState(), failover.NewTable(), appstate.New(nil), "secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/dispatch/requests", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", w.Code)
	}
}

func TestHandlerServesWithValidToken(t *testing.T) {
	h := Handler(nil, prometheus.NewRegistry(), request.NewState(), failover.NewTable(), appstate.New(nil), "secret")
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/dispatch/requests?api_token=secret", nil)
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with a valid token, got %d", w.Code)
	}
}
