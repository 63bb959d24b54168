// Copyright (C) The Streamworkers Authors. All rights reserved.

package allocator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	check "gopkg.in/check.v1"

	"github.com/streamworkers/dispatchcore/internal/appstate"
	"github.com/streamworkers/dispatchcore/internal/broker"
	"github.com/streamworkers/dispatchcore/internal/fault"
	"github.com/streamworkers/dispatchcore/internal/jobmodel"
	"github.com/streamworkers/dispatchcore/internal/processor"
	"github.com/streamworkers/dispatchcore/internal/request"
)

var testLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}()

type stubBroker struct {
	mu       sync.Mutex
	launched []*request.Resource
	released []*request.Resource
}

func (b *stubBroker) Launch(_ context.Context, res *request.Resource, _ broker.LaunchSpec) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.launched = append(b.launched, res)
	return nil
}
func (b *stubBroker) Stop(context.Context, *request.Resource) error { return nil }
func (b *stubBroker) Release(_ context.Context, res *request.Resource) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = append(b.released, res)
	return nil
}
func (b *stubBroker) Subscribe(broker.Events) {}

type stubCoordinator struct {
	mu      sync.Mutex
	ran     []*request.Request
	expired []*request.Request
}

func (c *stubCoordinator) CheckConstraintsAndRun(req *request.Request, preferredHost request.Host, res *request.Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ran = append(c.ran, req)
}

func (c *stubCoordinator) HandleExpiredResourceRequest(pid processor.ID, req *request.Request, alternative *request.Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expired = append(c.expired, req)
}

type stubJobModel struct{}

func (stubJobModel) Containers() []processor.ID                           { return nil }
func (stubJobModel) ContainerToHost(processor.ID, jobmodel.HostKey) request.Host { return request.AnyHost }
func (stubJobModel) ServerURL() string                                    { return "http://jobmodel.example" }

type stubCmdBuilder struct{}

func (stubCmdBuilder) Build(pid processor.ID, jobModelServerURL string) broker.LaunchSpec {
	return broker.LaunchSpec{"run-processor", string(pid), jobModelServerURL}
}

var _ = check.Suite(&AllocatorSuite{})

type AllocatorSuite struct{}

func (*AllocatorSuite) TestRunProcessorOrdersPendingBeforeLaunch(c *check.C) {
	reqState := request.NewState()
	appState := appstate.New(nil)
	brk := &stubBroker{}
	a := New(context.Background(), testLogger, reqState, appState, &stubCoordinator{}, brk, stubJobModel{}, stubCmdBuilder{}, HostAwarePolicy{}, time.Millisecond, time.Minute)

	req := request.New("0", "H1", 1, 1024, time.Time{})
	res := &request.Resource{ID: "r0", Host: "H1"}
	reqState.AddRequest(req)
	reqState.AddResource(res)

	a.RunProcessor(req, "H1")

	_, pending := appState.Pending("0")
	c.Check(pending, check.Equals, true)
	c.Check(len(brk.launched), check.Equals, 1)
}

func (*AllocatorSuite) TestRunProcessorRejectsMismatchedHost(c *check.C) {
	reqState := request.NewState()
	appState := appstate.New(nil)
	brk := &stubBroker{}
	a := New(context.Background(), testLogger, reqState, appState, &stubCoordinator{}, brk, stubJobModel{}, stubCmdBuilder{}, HostAwarePolicy{}, time.Millisecond, time.Minute)

	req := request.New("0", "H1", 1, 1024, time.Time{})
	res := &request.Resource{ID: "r0", Host: "H2"}
	reqState.AddResource(res)

	c.Assert(func() { a.RunProcessor(req, "H1") }, check.PanicMatches, `matched resource on host "H2" for a request wanting host "H1"`)
}

func (*AllocatorSuite) TestHostAwarePolicyDelegatesToCoordinator(c *check.C) {
	reqState := request.NewState()
	appState := appstate.New(nil)
	brk := &stubBroker{}
	coord := &stubCoordinator{}
	a := New(context.Background(), testLogger, reqState, appState, coord, brk, stubJobModel{}, stubCmdBuilder{}, HostAwarePolicy{}, time.Millisecond, time.Minute)

	req := request.New("0", "H1", 1, 1024, time.Time{})
	reqState.AddRequest(req)
	reqState.AddResource(&request.Resource{ID: "r0", Host: "H1"})

	a.policy.AssignResourceRequests(a, time.Now())

	c.Check(len(coord.ran), check.Equals, 1)
	c.Check(coord.ran[0], check.Equals, req)
}

func (*AllocatorSuite) TestHostAwarePolicyExpiresStaleRequest(c *check.C) {
	reqState := request.NewState()
	appState := appstate.New(nil)
	brk := &stubBroker{}
	coord := &stubCoordinator{}
	a := New(context.Background(), testLogger, reqState, appState, coord, brk, stubJobModel{}, stubCmdBuilder{}, HostAwarePolicy{}, time.Millisecond, time.Minute)

	req := request.New("0", "H1", 1, 1024, time.Time{})
	reqState.AddRequest(req)

	a.policy.AssignResourceRequests(a, time.Now().Add(time.Hour))

	c.Check(len(coord.expired), check.Equals, 1)
	c.Check(coord.expired[0], check.Equals, req)
}

func (*AllocatorSuite) TestRunIterationRecoversNonFatalPanic(c *check.C) {
	reqState := request.NewState()
	appState := appstate.New(nil)
	brk := &stubBroker{}
	a := New(context.Background(), testLogger, reqState, appState, &stubCoordinator{}, brk, stubJobModel{}, stubCmdBuilder{}, panicPolicy{}, time.Millisecond, time.Minute)

	recovered := func() (r interface{}) {
		defer func() { r = recover() }()
		a.runIteration()
		return nil
	}()
	c.Check(recovered, check.IsNil)
}

func (*AllocatorSuite) TestRunIterationRepanicsInvariantViolation(c *check.C) {
	reqState := request.NewState()
	appState := appstate.New(nil)
	brk := &stubBroker{}
	a := New(context.Background(), testLogger, reqState, appState, &stubCoordinator{}, brk, stubJobModel{}, stubCmdBuilder{}, panicPolicy{invariant: true}, time.Millisecond, time.Minute)

	c.Assert(func() { a.runIteration() }, check.PanicMatches, "boom")
}

func (*AllocatorSuite) TestRunIterationRepanicsPreconditionViolation(c *check.C) {
	reqState := request.NewState()
	appState := appstate.New(nil)
	brk := &stubBroker{}
	a := New(context.Background(), testLogger, reqState, appState, &stubCoordinator{}, brk, stubJobModel{}, stubCmdBuilder{}, panicPolicy{precondition: true}, time.Millisecond, time.Minute)

	c.Assert(func() { a.runIteration() }, check.PanicMatches, "boom")
}

type panicPolicy struct {
	invariant    bool
	precondition bool
}

func (p panicPolicy) AssignResourceRequests(a *Allocator, now time.Time) {
	if p.invariant {
		fault.Invariant("boom")
	}
	if p.precondition {
		fault.Precondition("boom")
	}
	panic("ordinary non-fatal panic")
}
