// Copyright (C) The Streamworkers Authors. All rights reserved.

// Package adminapi exposes the dispatch core's management and metrics
// HTTP surface, mirroring lib/dispatchcloud's apiContainers/apiInstances
// handlers and its bearer-token gate.
package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/streamworkers/dispatchcore/internal/appstate"
	"github.com/streamworkers/dispatchcore/internal/failover"
	"github.com/streamworkers/dispatchcore/internal/request"
)

// Handler builds the admin/metrics http.Handler. If token is empty, the
// handler serves 403 for everything -- a real deployment must configure a
// management token to expose this surface.
func Handler(logger logrus.FieldLogger, reg *prometheus.Registry, reqState *request.State, failovers *failover.Table, appState *appstate.State, token string) http.Handler {
	if token == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "management API authentication is not configured", http.StatusForbidden)
		})
	}

	mux := httprouter.New()
	mux.HandlerFunc("GET", "/dispatch/requests", requestStats(reqState))
	mux.HandlerFunc("GET", "/dispatch/failovers", failoverStats(failovers))
	mux.HandlerFunc("GET", "/dispatch/counters", counterStats(appState))
	mux.Handler("GET", "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{ErrorLog: logger}))

	return requireLiteralToken(token, mux)
}

// requireLiteralToken wraps next, rejecting any request that doesn't
// supply token via the Authorization: Bearer header or an api_token query
// parameter.
func requireLiteralToken(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("api_token")
		if got == "" {
			if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
				got = auth[7:]
			}
		}
		if got == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		if got != token {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestStats(reqState *request.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(reqState.Stats())
	}
}

func failoverStats(failovers *failover.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp struct {
			Tracked int `json:"tracked_failovers"`
		}
		resp.Tracked = failovers.Len()
		json.NewEncoder(w).Encode(resp)
	}
}

func counterStats(appState *appstate.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(snapshotCounters(appState))
	}
}

type counterSnapshot struct {
	FailoversToAnyHost       int64 `json:"failovers_to_any_host"`
	FailoversToStandby       int64 `json:"failovers_to_standby"`
	FailedStandbyAllocations int64 `json:"failed_standby_allocations"`
}

func snapshotCounters(a *appstate.State) counterSnapshot {
	return counterSnapshot{
		FailoversToAnyHost:       a.FailoversToAnyHost.Value(),
		FailedStandbyAllocations: a.FailedStandbyAllocations.Value(),
		FailoversToStandby:       a.FailoversToStandby.Value(),
	}
}
