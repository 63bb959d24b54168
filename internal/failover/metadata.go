// Copyright (C) The Streamworkers Authors. All rights reserved.

// Package failover implements the standby-aware failover state machine:
// per-failed-active-resource metadata, standby-host selection, and the
// six broker/allocator-facing entry points that decide when to initiate
// a failover and how to sequence the stop of a standby with the start of
// the active on the standby's host.
package failover

import (
	"sync"
	"time"

	"github.com/streamworkers/dispatchcore/internal/processor"
	"github.com/streamworkers/dispatchcore/internal/request"
)

// Metadata tracks one failover attempt for a single failed active
// resource. It survives indefinitely once created (it's indexed by a
// dead resource id), so Table evicts it once it's quiescent -- see
// Table.Sweep.
//
// Each Metadata guards its own mutable fields with its own lock, so two
// goroutines updating different failovers never contend with each other.
type Metadata struct {
	ActiveProcessorID processor.ID
	ActiveResourceID  request.ResourceID

	mu               sync.Mutex
	selectedStandbys map[request.ResourceID]request.Host // append-only within a failover
	resourceRequests map[*request.Request]struct{}
	touched          time.Time
}

func newMetadata(activeProcessorID processor.ID, activeResourceID request.ResourceID, now time.Time) *Metadata {
	return &Metadata{
		ActiveProcessorID: activeProcessorID,
		ActiveResourceID:  activeResourceID,
		selectedStandbys:  map[request.ResourceID]request.Host{},
		resourceRequests:  map[*request.Request]struct{}{},
		touched:           now,
	}
}

// RecordSelectedStandby appends (standbyResourceID -> host) to
// selectedStandbys. Append-only: once a standby resource is recorded it
// is never removed from this failover's record.
func (m *Metadata) RecordSelectedStandby(standbyResourceID request.ResourceID, host request.Host, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selectedStandbys[standbyResourceID] = host
	m.touched = now
}

// RecordResourceRequest adds r to this failover's set of issued requests.
// Must complete before r is placed into the request state, so the
// coordinator can recognise the request as failover-owned before the
// allocator can act on it.
func (m *Metadata) RecordResourceRequest(r *request.Request, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resourceRequests[r] = struct{}{}
	m.touched = now
}

// ForgetResourceRequest removes r once it has been cancelled or
// fulfilled, so it no longer counts toward quiescence.
func (m *Metadata) ForgetResourceRequest(r *request.Request, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resourceRequests, r)
	m.touched = now
}

// HostOfSelectedStandby returns the host recorded for resourceID, if it
// has been selected in this failover.
func (m *Metadata) HostOfSelectedStandby(resourceID request.ResourceID) (request.Host, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.selectedStandbys[resourceID]
	return h, ok
}

// IsStandbyResourceUsed reports whether resourceID has already been
// recorded as a selected (stopped or targeted) standby in this failover.
func (m *Metadata) IsStandbyResourceUsed(resourceID request.ResourceID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.selectedStandbys[resourceID]
	return ok
}

// IsStandbyHostUsed reports whether host is already in play for this
// failover, either because a selected standby is on it or because a
// request issued for this failover already prefers it. Both maps are
// read under the same lock acquisition so the pair is observed
// consistently.
func (m *Metadata) IsStandbyHostUsed(host request.Host) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.selectedStandbys {
		if h == host {
			return true
		}
	}
	for r := range m.resourceRequests {
		if r.PreferredHost == host {
			return true
		}
	}
	return false
}

// ContainsResourceRequest reports whether r was issued as part of this
// failover.
func (m *Metadata) ContainsResourceRequest(r *request.Request) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.resourceRequests[r]
	return ok
}

// quiescent reports whether this failover has no outstanding requests
// and hasn't been touched for longer than retention, making it eligible
// for eviction from the Table.
func (m *Metadata) quiescent(now time.Time, retention time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resourceRequests) == 0 && now.Sub(m.touched) > retention
}

// Table is the concurrent-safe Failovers table: activeResourceId ->
// Metadata.
type Table struct {
	mu      sync.Mutex
	entries map[request.ResourceID]*Metadata
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{entries: map[request.ResourceID]*Metadata{}}
}

// GetOrCreate registers (or returns the existing) Metadata for
// activeResourceID. A second call with the same activeResourceID returns
// the same Metadata instance -- it never duplicates records.
func (t *Table) GetOrCreate(activeProcessorID processor.ID, activeResourceID request.ResourceID, now time.Time) *Metadata {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.entries[activeResourceID]; ok {
		return m
	}
	m := newMetadata(activeProcessorID, activeResourceID, now)
	t.entries[activeResourceID] = m
	return m
}

// Lookup returns the Metadata for activeResourceID, if one exists.
func (t *Table) Lookup(activeResourceID request.ResourceID) (*Metadata, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.entries[activeResourceID]
	return m, ok
}

// Find returns the first Metadata that contains r in its resourceRequests
// set, used to resolve which failover (if any) owns a cancelled request.
func (t *Table) Find(r *request.Request) (*Metadata, bool) {
	t.mu.Lock()
	entries := make([]*Metadata, 0, len(t.entries))
	for _, m := range t.entries {
		entries = append(entries, m)
	}
	t.mu.Unlock()
	for _, m := range entries {
		if m.ContainsResourceRequest(r) {
			return m, true
		}
	}
	return nil, false
}

// FindByStandbyResource returns the first Metadata whose
// selectedStandbys already records resourceID.
func (t *Table) FindByStandbyResource(resourceID request.ResourceID) (*Metadata, bool) {
	t.mu.Lock()
	entries := make([]*Metadata, 0, len(t.entries))
	for _, m := range t.entries {
		entries = append(entries, m)
	}
	t.mu.Unlock()
	for _, m := range entries {
		if m.IsStandbyResourceUsed(resourceID) {
			return m, true
		}
	}
	return nil, false
}

// Sweep evicts quiescent entries: FailoverMetadata with no outstanding
// resourceRequests that haven't been touched for longer than retention.
// Time-based eviction is used rather than evicting on successful
// re-placement, since re-placement alone can't distinguish "no longer
// needed" from "about to be needed again" -- a second failover attempt
// for the same active can re-use an existing Metadata.
func (t *Table) Sweep(now time.Time, retention time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	evicted := 0
	for id, m := range t.entries {
		if m.quiescent(now, retention) {
			delete(t.entries, id)
			evicted++
		}
	}
	return evicted
}

// Len returns the current number of tracked failovers.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
