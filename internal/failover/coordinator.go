// Copyright (C) The Streamworkers Authors. All rights reserved.

package failover

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streamworkers/dispatchcore/internal/appstate"
	"github.com/streamworkers/dispatchcore/internal/broker"
	"github.com/streamworkers/dispatchcore/internal/fault"
	"github.com/streamworkers/dispatchcore/internal/jobmodel"
	"github.com/streamworkers/dispatchcore/internal/placement"
	"github.com/streamworkers/dispatchcore/internal/processor"
	"github.com/streamworkers/dispatchcore/internal/request"
)

// AllocatorHandle is the allocator's request-issuance surface, as
// consumed by the coordinator. Implemented by *allocator.Allocator. See
// allocator.Coordinator for the matching interface in the other
// direction.
type AllocatorHandle interface {
	RunProcessor(req *request.Request, host request.Host)
}

// Coordinator implements the standby-aware failover state machine: it
// decides, on every container stop / launch failure / expired request /
// constraint violation, whether to initiate a failover, which standby
// host to steal, and how to sequence the stop of the standby with the
// start of the active on the standby's host.
type Coordinator struct {
	logger logrus.FieldLogger
	ctx    context.Context

	constraints *placement.Table
	appState    *appstate.State
	reqState    *request.State
	failovers   *Table
	jobModel    jobmodel.Store
	broker      broker.Broker
	allocator   AllocatorHandle

	defaultCPUCores         float64
	defaultMemoryMB         int64
	preferredHostRetryDelay time.Duration
}

// New returns a Coordinator. defaultCPUCores/defaultMemoryMB are used to
// build the ResourceRequests the coordinator issues on the processors'
// behalf; preferredHostRetryDelay is the preferred-host expiry deadline.
func New(
	ctx context.Context,
	logger logrus.FieldLogger,
	constraints *placement.Table,
	appState *appstate.State,
	reqState *request.State,
	failovers *Table,
	jobModel jobmodel.Store,
	brk broker.Broker,
	allocator AllocatorHandle,
	defaultCPUCores float64,
	defaultMemoryMB int64,
	preferredHostRetryDelay time.Duration,
) *Coordinator {
	return &Coordinator{
		ctx:                     ctx,
		logger:                  logger,
		constraints:             constraints,
		appState:                appState,
		reqState:                reqState,
		failovers:               failovers,
		jobModel:                jobModel,
		broker:                  brk,
		allocator:               allocator,
		defaultCPUCores:         defaultCPUCores,
		defaultMemoryMB:         defaultMemoryMB,
		preferredHostRetryDelay: preferredHostRetryDelay,
	}
}

// HandleContainerStop reacts to a broker callback reporting that a
// container (active or standby) has stopped.
func (c *Coordinator) HandleContainerStop(pid processor.ID, resourceID request.ResourceID, preferredHost request.Host, exitStatus broker.ExitStatus) {
	if processor.IsStandby(pid) {
		c.HandleStandbyContainerStop(pid, resourceID, preferredHost)
		return
	}
	c.appState.RemoveRunning(pid)
	if exitStatus.IsNodeFailure() {
		c.InitiateStandbyAwareAllocation(pid, resourceID)
		return
	}
	// Unknown exit cause: try a same-host restart first. If that
	// request later expires, the expired-request path drives a full
	// failover.
	m := c.failovers.GetOrCreate(pid, resourceID, time.Now())
	c.issueDelayedPreferredHostRequest(pid, preferredHost, m)
}

// HandleContainerLaunchFail reacts to a broker callback reporting that a
// container failed to launch.
func (c *Coordinator) HandleContainerLaunchFail(pid processor.ID, resourceID request.ResourceID) {
	c.appState.RemovePending(pid)
	if processor.IsStandby(pid) {
		c.issueAnyHostRequest(pid)
		return
	}
	c.InitiateStandbyAwareAllocation(pid, resourceID)
}

// HandleStandbyContainerStop handles the stop of a standby replica
// specifically, distinguishing an ordinary restart from the vacate-host
// half of an in-progress failover.
func (c *Coordinator) HandleStandbyContainerStop(standbyID processor.ID, resourceID request.ResourceID, preferredHost request.Host) {
	c.appState.RemoveRunning(standbyID)

	if m, ok := c.failovers.FindByStandbyResource(resourceID); ok {
		// This stop is part of a failover: the standby's host is
		// now vacated for the active to take over.
		host, _ := m.HostOfSelectedStandby(resourceID)
		c.issueDelayedPreferredHostRequest(m.ActiveProcessorID, host, m)
		c.issueAnyHostRequest(standbyID)
		return
	}
	// Ordinary restart.
	c.issueDelayedPreferredHostRequest(standbyID, preferredHost, nil)
}

// InitiateStandbyAwareAllocation is the heart of failover: it picks a
// standby host to steal (or falls back to any host), and either requests
// the active directly or stops the standby(s) occupying that host first.
func (c *Coordinator) InitiateStandbyAwareAllocation(activeID processor.ID, activeResourceID request.ResourceID) {
	host := c.selectStandbyHost(activeID, activeResourceID)
	if host == request.AnyHost {
		c.appState.FailoversToAnyHost.Inc()
		c.issueAnyHostRequest(activeID)
		return
	}

	siblings := c.constraints.Siblings(activeID)
	runningOnHost := c.appState.RunningOnHost(siblings, host)
	m := c.failovers.GetOrCreate(activeID, activeResourceID, time.Now())

	if len(runningOnHost) == 0 {
		// host is already known (from the last-known-host pass in
		// selectStandbyHost); no standby is occupying it right now,
		// so the active can go there without waiting out the
		// preferred-host retry delay first.
		c.issueRequest(activeID, host, time.Now(), m)
		c.appState.FailoversToStandby.Inc()
		return
	}

	matched := 0
	for _, standbyID := range c.constraints.SortedSiblings(activeID) {
		res, ok := runningOnHost[standbyID]
		if !ok {
			continue
		}
		if matched >= 1 {
			fault.Invariant("more than one standby sibling of %s is running on host %s; placement invariant violated", activeID, host)
		}
		matched++
		m.RecordSelectedStandby(res.ID, host, time.Now())
		c.appState.FailoversToStandby.Inc()
		if err := c.broker.Stop(c.ctx, res); err != nil {
			c.logger.WithError(err).WithField("ResourceID", res.ID).Warn("error stopping standby during failover")
		}
	}
}

// selectStandbyHost runs a three-pass search: a running sibling's host,
// then a sibling's last-known host, then no preference at all.
// Iteration order over constraints[activeId] is always the deterministic
// (sorted) order, so repeated failover attempts are reproducible. Pass 1
// skips siblings whose resource is already in this failover's selected
// standbys; pass 2 skips hosts of those selected standbys and hosts
// preferred by this failover's outstanding requests. A host that was
// only preferred by a request since cancelled or fulfilled is not
// skipped, so pass 2 can return it again.
func (c *Coordinator) selectStandbyHost(activeID processor.ID, activeResourceID request.ResourceID) request.Host {
	m, _ := c.failovers.Lookup(activeResourceID) // nil is fine: nothing has been used yet

	// Pass 1: a currently-running sibling whose resource hasn't
	// already been used in this failover.
	for _, sib := range c.constraints.SortedSiblings(activeID) {
		res, ok := c.appState.Running(sib)
		if !ok {
			continue
		}
		if m != nil && m.IsStandbyResourceUsed(res.ID) {
			continue
		}
		return res.Host
	}

	// Pass 2: the job model's last-known host, skipping hosts already
	// used by this failover.
	for _, sib := range c.constraints.SortedSiblings(activeID) {
		host := c.jobModel.ContainerToHost(sib, jobmodel.DefaultHostKey)
		if host == request.AnyHost {
			continue
		}
		if m != nil && m.IsStandbyHostUsed(host) {
			continue
		}
		return host
	}

	// Pass 3: give up on standby affinity.
	return request.AnyHost
}

// CheckConstraintsAndRun validates a matched placement against the
// placement table before running it, and also satisfies
// allocator.Coordinator so the allocator can consult it before running a
// matched request.
func (c *Coordinator) CheckConstraintsAndRun(req *request.Request, preferredHost request.Host, res *request.Resource) {
	pid := req.ProcessorID
	for _, sib := range c.constraints.SortedSiblings(pid) {
		if !c.appState.IsPendingOrRunningOnHost(sib, res.Host) {
			continue
		}

		// Resolve the owning failover before cancelRequest forgets req.
		lastKnown := c.lastKnownResourceID(req, pid)
		c.releaseUnstartable(res)
		c.cancelRequest(req)
		c.appState.FailedStandbyAllocations.Inc()

		if processor.IsStandby(pid) {
			c.issueAnyHostRequest(pid)
		} else {
			c.InitiateStandbyAwareAllocation(pid, lastKnown)
		}
		return
	}

	c.allocator.RunProcessor(req, preferredHost)
	if m, ok := c.failovers.Find(req); ok {
		m.ForgetResourceRequest(req, time.Now())
	}
}

// HandleExpiredResourceRequest reacts to a preferred-host request that
// outlived the preferred-host retry delay.
func (c *Coordinator) HandleExpiredResourceRequest(pid processor.ID, req *request.Request, alternative *request.Resource) {
	if processor.IsStandby(pid) {
		if alternative != nil {
			c.CheckConstraintsAndRun(req, request.AnyHost, alternative)
			return
		}
		c.cancelRequest(req)
		c.issueAnyHostRequest(pid)
		return
	}

	// Resolve the owning failover before cancelRequest forgets req.
	lastKnown := c.lastKnownResourceID(req, pid)
	c.cancelRequest(req)
	c.InitiateStandbyAwareAllocation(pid, lastKnown)
}

func (c *Coordinator) issueDelayedPreferredHostRequest(pid processor.ID, host request.Host, m *Metadata) *request.Request {
	return c.issueRequest(pid, host, time.Now().Add(c.preferredHostRetryDelay), m)
}

func (c *Coordinator) issueAnyHostRequest(pid processor.ID) *request.Request {
	return c.issueRequest(pid, request.AnyHost, time.Time{}, nil)
}

// issueRequest builds and registers a ResourceRequest for pid preferring
// host, with its RequestTimestamp set to expiry: the request is ready
// from that time on, and the allocator measures preferred-host expiry
// from it (the zero Time makes it ready immediately). m, if non-nil,
// must record the request before it's placed
// into the request state, so the allocator can never process the request
// before the coordinator can recognise it as failover-owned.
func (c *Coordinator) issueRequest(pid processor.ID, host request.Host, expiry time.Time, m *Metadata) *request.Request {
	r := request.New(pid, host, c.defaultCPUCores, c.defaultMemoryMB, expiry)
	if m != nil {
		m.RecordResourceRequest(r, time.Now())
	}
	c.reqState.AddRequest(r)
	return r
}

func (c *Coordinator) cancelRequest(req *request.Request) {
	c.reqState.CancelResourceRequest(req)
	if m, ok := c.failovers.Find(req); ok {
		m.ForgetResourceRequest(req, time.Now())
	}
}

func (c *Coordinator) releaseUnstartable(res *request.Resource) {
	c.reqState.RemoveResource(res)
	if err := c.broker.Release(c.ctx, res); err != nil {
		c.logger.WithError(err).WithField("ResourceID", res.ID).Warn("error releasing unstartable resource")
	}
}

func (c *Coordinator) lastKnownResourceID(req *request.Request, pid processor.ID) request.ResourceID {
	if m, ok := c.failovers.Find(req); ok {
		return m.ActiveResourceID
	}
	return request.ResourceID("unknown-" + string(pid))
}

// SetAllocator attaches the allocator handle after both the coordinator
// and the allocator have been constructed: the coordinator must exist
// before the allocator can be built (the allocator takes the coordinator
// as a dependency), so the coordinator's own AllocatorHandle is wired in
// afterward. Must be called before either side starts receiving events.
func (c *Coordinator) SetAllocator(a AllocatorHandle) {
	c.allocator = a
}

// Sweep evicts quiescent FailoverMetadata entries older than retention.
// Intended to be called periodically from its own goroutine, independent
// of the allocator loop's own iteration cadence.
func (c *Coordinator) Sweep(retention time.Duration) int {
	return c.failovers.Sweep(time.Now(), retention)
}
