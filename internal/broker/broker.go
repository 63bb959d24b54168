// Copyright (C) The Streamworkers Authors. All rights reserved.

// Package broker defines the seam between the dispatch core and the
// concrete cluster resource broker (the system that actually grants and
// revokes host-backed compute allocations). No concrete cluster protocol
// is implemented here -- that is explicitly out of scope for the core; a
// real deployment supplies its own Broker.
package broker

import (
	"context"

	"github.com/streamworkers/dispatchcore/internal/processor"
	"github.com/streamworkers/dispatchcore/internal/request"
)

// LaunchSpec is the opaque command a Broker should run on a resource. The
// dispatch core never inspects its contents; a commandbuilder produces it.
type LaunchSpec []string

// Broker talks to the external cluster resource manager. Launch and Stop
// are asynchronous: they initiate the operation and report only
// same-call failures (the eventual outcome arrives later via Events).
// Subscribe registers the sink a concrete Broker invokes as those
// asynchronous outcomes arrive; it must be called once, before the
// broker starts delivering events.
type Broker interface {
	Launch(ctx context.Context, res *request.Resource, spec LaunchSpec) error
	Stop(ctx context.Context, res *request.Resource) error
	Release(ctx context.Context, res *request.Resource) error
	Subscribe(events Events)
}

// ExitStatus classifies why a container process stopped. The three
// node-level values trigger immediate standby-aware failover; everything
// else is treated as an unknown-cause exit that falls back to the expiry
// path.
type ExitStatus int

const (
	ExitUnknown ExitStatus = iota
	ExitNormal
	ExitDiskFail
	ExitAborted
	ExitPreempted
)

var exitStatusNames = map[ExitStatus]string{
	ExitUnknown:   "unknown",
	ExitNormal:    "normal",
	ExitDiskFail:  "disk-fail",
	ExitAborted:   "aborted",
	ExitPreempted: "preempted",
}

func (s ExitStatus) String() string { return exitStatusNames[s] }

// IsNodeFailure reports whether s is one of the three node-level failure
// signals that should trigger immediate standby-aware failover rather
// than an ordinary same-host restart attempt.
func (s ExitStatus) IsNodeFailure() bool {
	switch s {
	case ExitDiskFail, ExitAborted, ExitPreempted:
		return true
	default:
		return false
	}
}

// Events is the set of callbacks a Broker invokes, typically from its own
// callback threads. cmd/dispatcher's dispatcherEvents implements it,
// forwarding each callback to the failover coordinator or the request
// state.
type Events interface {
	OnResourceAllocated(res *request.Resource)
	OnContainerStopped(pid processor.ID, resourceID request.ResourceID, host request.Host, exitStatus ExitStatus)
	OnLaunchFailed(pid processor.ID, resourceID request.ResourceID)
	OnResourceRequestExpired(req *request.Request, alternative *request.Resource)
}
