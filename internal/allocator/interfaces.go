// Copyright (C) The Streamworkers Authors. All rights reserved.

package allocator

import (
	"github.com/streamworkers/dispatchcore/internal/processor"
	"github.com/streamworkers/dispatchcore/internal/request"
)

// Coordinator is the failover coordinator's constraint-check surface, as
// consumed by the allocator. Implemented by *failover.Coordinator.
//
// The allocator and the failover coordinator each depend only on a
// narrow interface of the other, defined in their own package -- there is
// no direct type dependency in either direction, which breaks what would
// otherwise be a mutual reference between the two packages.
type Coordinator interface {
	// CheckConstraintsAndRun validates req.ProcessorID against every
	// sibling already pending/running on res.Host, and either runs it
	// (via the allocator) or reacts to the violation.
	CheckConstraintsAndRun(req *request.Request, preferredHost request.Host, res *request.Resource)
	// HandleExpiredResourceRequest reacts to a preferred-host request
	// that outlived the preferred-host retry delay.
	HandleExpiredResourceRequest(pid processor.ID, req *request.Request, alternative *request.Resource)
}
