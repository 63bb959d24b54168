// Copyright (C) The Streamworkers Authors. All rights reserved.

package request

import (
	"sort"
	"sync"
	"time"
)

// State is the registry of outstanding resource requests (ordered by
// readiness time) and resources the broker has handed back, keyed by
// host. All structural mutations hold a single internal lock.
type State struct {
	mu       sync.Mutex
	requests []*Request
	seq      int
	byHost   map[Host][]*Resource // byHost[AnyHost] indexes every resource, regardless of its actual host

	hostSatisfied    int
	anyHostSatisfied int
}

// NewState returns an empty State.
func NewState() *State {
	return &State{byHost: map[Host][]*Resource{}}
}

// AddRequest enqueues r into the time-ordered request set. Ties on
// RequestTimestamp are broken by insertion order.
func (s *State) AddRequest(r *Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.seq = s.seq
	s.seq++
	s.requests = append(s.requests, r)
	sort.SliceStable(s.requests, func(i, j int) bool {
		return s.requests[i].RequestTimestamp.Before(s.requests[j].RequestTimestamp)
	})
}

// PeekReadyRequest returns the earliest request whose RequestTimestamp is
// not after now, without removing it. Because the request set is kept
// sorted by RequestTimestamp, the earliest entry is also the earliest
// ready entry, if any entry is ready at all.
func (s *State) PeekReadyRequest(now time.Time) (*Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil, false
	}
	head := s.requests[0]
	if !head.Ready(now) {
		return nil, false
	}
	return head, true
}

// ReadyRequests returns a snapshot of every request whose RequestTimestamp
// is not after now. Because the request set is sorted by RequestTimestamp,
// these are exactly the requests forming the head of the list.
func (s *State) ReadyRequests(now time.Time) []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Request
	for _, r := range s.requests {
		if !r.Ready(now) {
			break
		}
		out = append(out, r)
	}
	return out
}

// PromoteDelayed is a no-op: PeekReadyRequest already filters by
// readiness, so there is no side buffer of delayed requests to promote.
// It exists so the allocator loop's shape matches implementations that do
// hold delayed requests separately.
func (s *State) PromoteDelayed() {}

// AddResource records an allocation keyed by its host, and also under
// AnyHost so any-host requests can find it.
func (s *State) AddResource(res *Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byHost[res.Host] = append(s.byHost[res.Host], res)
	if res.Host != AnyHost {
		s.byHost[AnyHost] = append(s.byHost[AnyHost], res)
	}
}

// PeekResource returns, without removing it, the first resource on host
// (or, if host is AnyHost, the first resource on any host).
func (s *State) PeekResource(host Host) (*Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byHost[host]
	if len(list) == 0 {
		return nil, false
	}
	return list[0], true
}

// UpdateStateAfterAssignment atomically removes req from the request set
// and res from the allocated-on-host set, and increments the appropriate
// request-satisfied counter.
func (s *State) UpdateStateAfterAssignment(req *Request, host Host, res *Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeRequest(req)
	s.removeResource(res)
	if host == AnyHost {
		s.anyHostSatisfied++
	} else {
		s.hostSatisfied++
	}
}

// RemoveResource removes res from the allocated set without touching any
// request. Used by the failover coordinator to discard a resource that
// could not be used before releasing it to the broker. Returns false if
// res was not present.
func (s *State) RemoveResource(res *Resource) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeResource(res)
}

// CancelResourceRequest removes req from the request set. Our model never
// pre-pairs a specific Resource with a pending Request -- matching only
// happens atomically in UpdateStateAfterAssignment -- so there is never a
// resource to hand back here; the bool return reports whether req was
// found pending at all.
func (s *State) CancelResourceRequest(req *Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeRequest(req)
}

// ReleaseExtraResources removes resources allocated beyond what any
// pending request needs, and returns them so the caller can tell the
// broker to release them.
//
// Policy: for each host with allocated resources, if no pending request
// has PreferredHost == host, every resource on that host is surplus.
// Afterward, if the number of allocated resources still exceeds the
// number of pending requests, the newest any-host resources beyond that
// count are surplus too.
func (s *State) ReleaseExtraResources() []*Resource {
	s.mu.Lock()
	defer s.mu.Unlock()

	need := map[Host]int{}
	for _, r := range s.requests {
		if r.PreferredHost != AnyHost {
			need[r.PreferredHost]++
		}
	}

	var released []*Resource
	for host, list := range s.byHost {
		if host == AnyHost {
			continue
		}
		if need[host] >= len(list) {
			continue
		}
		surplus := append([]*Resource{}, list[need[host]:]...)
		for _, res := range surplus {
			s.removeResource(res)
			released = append(released, res)
		}
	}

	if total := len(s.byHost[AnyHost]); total > len(s.requests) {
		excess := total - len(s.requests)
		list := s.byHost[AnyHost]
		for i := len(list) - 1; i >= 0 && excess > 0; i-- {
			res := list[i]
			s.removeResource(res)
			released = append(released, res)
			excess--
		}
	}
	return released
}

// Stats reports the running satisfied-request counters.
type Stats struct {
	HostSatisfied    int
	AnyHostSatisfied int
	Pending          int
	Allocated        int
}

// Stats returns a snapshot of the State's counters.
func (s *State) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		HostSatisfied:    s.hostSatisfied,
		AnyHostSatisfied: s.anyHostSatisfied,
		Pending:          len(s.requests),
		Allocated:        len(s.byHost[AnyHost]),
	}
}

// caller must hold s.mu.
func (s *State) removeRequest(req *Request) bool {
	for i, r := range s.requests {
		if r == req {
			s.requests = append(s.requests[:i], s.requests[i+1:]...)
			return true
		}
	}
	return false
}

// caller must hold s.mu.
func (s *State) removeResource(res *Resource) bool {
	found := false
	if list, ok := s.byHost[res.Host]; ok {
		for i, r := range list {
			if r == res {
				s.byHost[res.Host] = append(list[:i], list[i+1:]...)
				found = true
				break
			}
		}
	}
	if res.Host != AnyHost {
		if list, ok := s.byHost[AnyHost]; ok {
			for i, r := range list {
				if r == res {
					s.byHost[AnyHost] = append(list[:i], list[i+1:]...)
					break
				}
			}
		}
	}
	return found
}
