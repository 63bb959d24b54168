// Copyright (C) The Streamworkers Authors. All rights reserved.

// Package jobmodel declares the interface to the embedded job-model /
// coordinator metadata store. The store itself (which knows which
// processors are active/standby siblings and their last-known hosts) is
// explicitly out of scope for the dispatch core -- it is an external
// collaborator. This package provides the consumed interface and a small
// in-memory implementation useful for tests and standalone runs.
package jobmodel

import (
	"sync"

	"github.com/streamworkers/dispatchcore/internal/processor"
	"github.com/streamworkers/dispatchcore/internal/request"
)

// HostKey names a last-known-host slot (the job model may track more than
// one, e.g. "preferred" vs "previous").
type HostKey string

// Store is consumed from the job-model/coordinator metadata store.
type Store interface {
	// Containers returns every processor id (active and standby) known
	// to the job model.
	Containers() []processor.ID
	// ContainerToHost returns the last-known host recorded for pid
	// under hostKey, or request.AnyHost if none is recorded.
	ContainerToHost(pid processor.ID, hostKey HostKey) request.Host
	// ServerURL is the URL passed to launched workers.
	ServerURL() string
}

// InMemoryStore is a Store backed by plain maps, suitable for tests and
// for standalone/demo runs that have no real coordinator to talk to.
type InMemoryStore struct {
	mu         sync.RWMutex
	containers []processor.ID
	lastHosts  map[processor.ID]map[HostKey]request.Host
	serverURL  string
}

// NewInMemoryStore returns a Store with the given containers and server
// URL. Last-known hosts start out empty and can be set with
// SetLastKnownHost.
func NewInMemoryStore(containers []processor.ID, serverURL string) *InMemoryStore {
	return &InMemoryStore{
		containers: containers,
		lastHosts:  map[processor.ID]map[HostKey]request.Host{},
		serverURL:  serverURL,
	}
}

func (s *InMemoryStore) Containers() []processor.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]processor.ID, len(s.containers))
	copy(out, s.containers)
	return out
}

func (s *InMemoryStore) ContainerToHost(pid processor.ID, hostKey HostKey) request.Host {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHosts[pid][hostKey]
}

func (s *InMemoryStore) ServerURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverURL
}

// SetLastKnownHost records that pid's last-known host under hostKey is
// host. Used by tests and by a real adapter updating the store as
// processors move.
func (s *InMemoryStore) SetLastKnownHost(pid processor.ID, hostKey HostKey, host request.Host) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastHosts[pid] == nil {
		s.lastHosts[pid] = map[HostKey]request.Host{}
	}
	s.lastHosts[pid][hostKey] = host
}

// DefaultHostKey is the host key used throughout the dispatch core when
// no finer-grained key is needed.
const DefaultHostKey HostKey = "default"
