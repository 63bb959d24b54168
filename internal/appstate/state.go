// Copyright (C) The Streamworkers Authors. All rights reserved.

// Package appstate holds the shared maps and counters mutated by both the
// allocator and the failover coordinator: which processors have been
// launched but aren't confirmed running yet, which are confirmed running,
// and the running counters that make failover activity observable. A
// single appstate.State is constructed once and passed by reference into
// both components -- there is no package-level/global storage.
package appstate

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/streamworkers/dispatchcore/internal/processor"
	"github.com/streamworkers/dispatchcore/internal/request"
)

// Counter is a monotonically increasing counter that is both exported to
// Prometheus and cheaply readable in-process, for tests and for the
// expired/failed-placement signal surfaced over the admin API.
type Counter struct {
	pc  prometheus.Counter
	val int64
}

func newCounter(reg *prometheus.Registry, name, help string) *Counter {
	c := &Counter{pc: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatchcore",
		Name:      name,
		Help:      help,
	})}
	if reg != nil {
		reg.MustRegister(c.pc)
	}
	return c
}

// Inc increments the counter by one.
func (c *Counter) Inc() {
	atomic.AddInt64(&c.val, 1)
	c.pc.Inc()
}

// Value returns the counter's current value.
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.val)
}

// State is the set of shared observable maps and counters. Mutations to
// the maps are individually atomic; callers must not assume a global
// snapshot across two calls -- a standby can leave Running between a
// selection pass and a later Stop call, and this type deliberately does
// not try to prevent that race.
type State struct {
	mu      sync.Mutex
	pending map[processor.ID]*request.Resource
	running map[processor.ID]*request.Resource

	FailoversToAnyHost       *Counter
	FailoversToStandby       *Counter
	FailedStandbyAllocations *Counter
}

// New returns an empty State, registering its counters with reg (which
// may be nil).
func New(reg *prometheus.Registry) *State {
	return &State{
		pending:                  map[processor.ID]*request.Resource{},
		running:                  map[processor.ID]*request.Resource{},
		FailoversToAnyHost:       newCounter(reg, "failovers_to_any_host_total", "Failovers that fell back to an any-host placement because no standby host was usable."),
		FailoversToStandby:       newCounter(reg, "failovers_to_standby_total", "Failovers that targeted a host running a standby replica."),
		FailedStandbyAllocations: newCounter(reg, "failed_standby_allocations_total", "Placements rejected by a constraint check, requiring a fresh failover attempt."),
	}
}

// SetPending records that pid has been launched on res but is not yet
// confirmed running. The allocator must call this before asking the
// broker to launch -- otherwise a running callback could race ahead of
// the pending record.
func (s *State) SetPending(pid processor.ID, res *request.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[pid] = res
}

// Pending returns the resource pid was launched on, if it is still
// pending.
func (s *State) Pending(pid processor.ID) (*request.Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.pending[pid]
	return res, ok
}

// RemovePending drops pid's pending entry.
func (s *State) RemovePending(pid processor.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, pid)
}

// ConfirmRunning moves pid from pending to running, on res.
func (s *State) ConfirmRunning(pid processor.ID, res *request.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, pid)
	s.running[pid] = res
}

// Running returns the resource pid is running on, if any.
func (s *State) Running(pid processor.ID) (*request.Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.running[pid]
	return res, ok
}

// RemoveRunning drops pid's running entry (e.g. on container stop).
func (s *State) RemoveRunning(pid processor.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, pid)
}

// RunningOnHost returns the subset of ids that are both in running and
// currently placed on host.
func (s *State) RunningOnHost(ids map[processor.ID]struct{}, host request.Host) map[processor.ID]*request.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[processor.ID]*request.Resource{}
	for id := range ids {
		if res, ok := s.running[id]; ok && res.Host == host {
			out[id] = res
		}
	}
	return out
}

// IsPendingOrRunningOnHost reports whether pid is in pendingProcessors or
// runningProcessors placed on host.
func (s *State) IsPendingOrRunningOnHost(pid processor.ID, host request.Host) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := s.pending[pid]; ok && res.Host == host {
		return true
	}
	if res, ok := s.running[pid]; ok && res.Host == host {
		return true
	}
	return false
}
