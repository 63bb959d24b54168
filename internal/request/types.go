// Copyright (C) The Streamworkers Authors. All rights reserved.

// Package request holds the thread-safe registry of outstanding resource
// requests and the resources the broker has handed back for them.
package request

import (
	"time"

	"github.com/google/uuid"
	"github.com/streamworkers/dispatchcore/internal/processor"
)

// Host identifies a physical machine. AnyHost means "no host preference".
type Host string

// AnyHost is the sentinel meaning "no host preference".
const AnyHost Host = ""

// ResourceID identifies one physical allocation ever handed back by the
// broker. Unique across the lifetime of the job.
type ResourceID string

// Resource is one container-sized allocation returned by the broker.
type Resource struct {
	ID       ResourceID
	Host     Host
	CPUCores float64
	MemoryMB int64
}

// A Request asks the broker (indirectly, via the allocator) for a
// resource to run a processor on. Two structurally identical requests are
// distinct: equality is by identity, not by field values. ID is a stable
// per-request identifier assigned at construction, so a request can be
// logged, compared, or looked up across goroutines without relying on Go
// pointer identity leaking into logs.
type Request struct {
	id               uuid.UUID
	ProcessorID      processor.ID
	PreferredHost    Host
	CPUCores         float64
	MemoryMB         int64
	RequestTimestamp time.Time

	seq int // insertion order; AddRequest's stable sort keeps requestTimestamp ties in this order
}

// New constructs a new, uniquely identified Request.
func New(pid processor.ID, preferredHost Host, cpuCores float64, memoryMB int64, ts time.Time) *Request {
	return &Request{
		id:               uuid.New(),
		ProcessorID:      pid,
		PreferredHost:    preferredHost,
		CPUCores:         cpuCores,
		MemoryMB:         memoryMB,
		RequestTimestamp: ts,
	}
}

// ID returns the request's stable identity.
func (r *Request) ID() uuid.UUID { return r.id }

// Ready reports whether the request is ready to be matched as of now.
func (r *Request) Ready(now time.Time) bool {
	return !r.RequestTimestamp.After(now)
}
