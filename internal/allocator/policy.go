// Copyright (C) The Streamworkers Authors. All rights reserved.

package allocator

import (
	"time"

	"github.com/streamworkers/dispatchcore/internal/request"
)

// Policy decides, on each control-loop iteration, which ready requests
// get matched to which resources. The allocator's loop is
// policy-agnostic; AnyHostPolicy and HostAwarePolicy are the two
// variants implemented here.
type Policy interface {
	AssignResourceRequests(a *Allocator, now time.Time)
}

// AnyHostPolicy matches every ready request to the first resource
// available on any host, ignoring host preference entirely.
type AnyHostPolicy struct{}

func (AnyHostPolicy) AssignResourceRequests(a *Allocator, now time.Time) {
	for _, req := range a.reqState.ReadyRequests(now) {
		if _, ok := a.reqState.PeekResource(request.AnyHost); ok {
			a.RunProcessor(req, request.AnyHost)
		}
	}
}

// HostAwarePolicy honours a request's preferred host, falling back to
// the failover coordinator's expired-request path once the request has
// outlived the preferred-host retry delay, and otherwise leaving it
// pending so a later iteration can retry.
type HostAwarePolicy struct{}

func (HostAwarePolicy) AssignResourceRequests(a *Allocator, now time.Time) {
	for _, req := range a.reqState.ReadyRequests(now) {
		if req.PreferredHost != request.AnyHost {
			if res, ok := a.reqState.PeekResource(req.PreferredHost); ok {
				a.coordinator.CheckConstraintsAndRun(req, req.PreferredHost, res)
			} else if now.Sub(req.RequestTimestamp) > a.preferredHostExpiry {
				alt, _ := a.reqState.PeekResource(request.AnyHost)
				a.coordinator.HandleExpiredResourceRequest(req.ProcessorID, req, alt)
			}
			continue
		}
		if res, ok := a.reqState.PeekResource(request.AnyHost); ok {
			a.coordinator.CheckConstraintsAndRun(req, request.AnyHost, res)
		}
	}
}
