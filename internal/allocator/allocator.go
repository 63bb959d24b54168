// Copyright (C) The Streamworkers Authors. All rights reserved.

// Package allocator implements the container allocator control loop: it
// matches outstanding resource requests against resources the broker has
// handed back, applies a placement policy, invokes the worker, and
// expires stale preferred-host requests.
package allocator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streamworkers/dispatchcore/internal/appstate"
	"github.com/streamworkers/dispatchcore/internal/broker"
	"github.com/streamworkers/dispatchcore/internal/fault"
	"github.com/streamworkers/dispatchcore/internal/jobmodel"
	"github.com/streamworkers/dispatchcore/internal/request"
)

// Allocator is the container allocator control loop. A zero Allocator
// should not be used; call New.
type Allocator struct {
	logger logrus.FieldLogger
	ctx    context.Context

	reqState    *request.State
	appState    *appstate.State
	coordinator Coordinator
	broker      broker.Broker
	jobModel    jobmodel.Store
	cmdBuilder  broker.CommandBuilder
	policy      Policy

	sleepInterval       time.Duration
	preferredHostExpiry time.Duration

	stop    chan struct{}
	stopped chan struct{}
}

// New returns an unstarted Allocator.
func New(
	ctx context.Context,
	logger logrus.FieldLogger,
	reqState *request.State,
	appState *appstate.State,
	coordinator Coordinator,
	brk broker.Broker,
	jobModel jobmodel.Store,
	cmdBuilder broker.CommandBuilder,
	policy Policy,
	sleepInterval, preferredHostExpiry time.Duration,
) *Allocator {
	return &Allocator{
		ctx:                 ctx,
		logger:              logger,
		reqState:            reqState,
		appState:            appState,
		coordinator:         coordinator,
		broker:              brk,
		jobModel:            jobModel,
		cmdBuilder:          cmdBuilder,
		policy:              policy,
		sleepInterval:       sleepInterval,
		preferredHostExpiry: preferredHostExpiry,
		stop:                make(chan struct{}),
		stopped:             make(chan struct{}),
	}
}

// Run starts the control loop and blocks until Stop is called. Run
// should be called in its own goroutine.
func (a *Allocator) Run() {
	defer close(a.stopped)
	for {
		a.runIteration()
		select {
		case <-a.stop:
			return
		case <-time.After(a.sleepInterval):
			// interrupts during sleep (a context cancellation,
			// say) propagate but don't exit the loop; only Stop
			// does.
		}
	}
}

// Stop clears the running flag; the loop exits at the next iteration
// boundary. In-flight broker RPCs are not interrupted.
func (a *Allocator) Stop() {
	close(a.stop)
	<-a.stopped
}

// runIteration runs one pass of assignResourceRequests / promoteDelayed /
// releaseExtraResources, recovering from (and logging) anything short of
// a fatal invariant or precondition violation so a single bad iteration
// can't kill liveness.
func (a *Allocator) runIteration() {
	defer func() {
		if r := recover(); r != nil {
			switch r.(type) {
			case fault.InvariantViolation, fault.PreconditionViolation:
				// Fatal: re-raise to the host process, which
				// should abort and restart.
				panic(r)
			}
			a.logger.WithField("panic", r).Error("recovered from unexpected error in control loop iteration")
		}
	}()

	now := time.Now()
	a.policy.AssignResourceRequests(a, now)
	a.reqState.PromoteDelayed()
	for _, res := range a.reqState.ReleaseExtraResources() {
		if err := a.broker.Release(a.ctx, res); err != nil {
			a.logger.WithError(err).WithField("ResourceID", res.ID).Warn("error releasing extra resource")
		}
	}
}

// RunProcessor pulls the resource for host from the request state,
// updates state (request consumed, resource consumed), records the
// pending placement, then asks the broker to launch.
//
// The pending-insert MUST precede the broker call, to avoid a race where
// the running callback arrives before pending is recorded.
func (a *Allocator) RunProcessor(req *request.Request, host request.Host) {
	res, ok := a.reqState.PeekResource(host)
	if !ok {
		return
	}
	if host != request.AnyHost && res.Host != host {
		fault.Precondition("matched resource on host %q for a request wanting host %q", res.Host, host)
	}

	a.reqState.UpdateStateAfterAssignment(req, host, res)
	a.appState.SetPending(req.ProcessorID, res)

	spec := a.cmdBuilder.Build(req.ProcessorID, a.jobModel.ServerURL())
	if err := a.broker.Launch(a.ctx, res, spec); err != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{
			"ProcessorID": req.ProcessorID,
			"ResourceID":  res.ID,
		}).Warn("broker launch failed synchronously; relying on onLaunchFailed or next iteration")
	}
}
