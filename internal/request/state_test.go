package request

import (
	"testing"
	"time"
)

func TestPeekReadyRequestOrdering(t *testing.T) {
	s := NewState()
	now := time.Now()
	later := now.Add(time.Minute)

	r1 := New("0", AnyHost, 1, 1024, later)
	r2 := New("1", AnyHost, 1, 1024, now)
	s.AddRequest(r1)
	s.AddRequest(r2)

	got, ok := s.PeekReadyRequest(now)
	if !ok || got != r2 {
		t.Fatalf("expected r2 (earlier timestamp) ready, got %v ok=%v", got, ok)
	}

	// Once r2 is consumed, r1 is the head but isn't ready yet at now, so
	// nothing should be returned.
	s.CancelResourceRequest(r2)
	if _, ok := s.PeekReadyRequest(now); ok {
		t.Fatal("expected no ready request before r1's timestamp")
	}
	if _, ok := s.PeekReadyRequest(later); !ok {
		t.Fatal("expected r1 to be ready at its own timestamp")
	}
}

func TestPeekResourceAnyHostIndex(t *testing.T) {
	s := NewState()
	res := &Resource{ID: "r0", Host: "h1"}
	s.AddResource(res)

	if got, ok := s.PeekResource("h1"); !ok || got != res {
		t.Fatal("expected to find resource on its own host")
	}
	if got, ok := s.PeekResource(AnyHost); !ok || got != res {
		t.Fatal("expected to find resource under the any-host index")
	}
}

func TestUpdateStateAfterAssignmentRemovesBoth(t *testing.T) {
	s := NewState()
	req := New("0", "h1", 1, 1024, time.Time{})
	res := &Resource{ID: "r0", Host: "h1"}
	s.AddRequest(req)
	s.AddResource(res)

	s.UpdateStateAfterAssignment(req, "h1", res)

	if _, ok := s.PeekReadyRequest(time.Now()); ok {
		t.Error("expected request to be consumed")
	}
	if _, ok := s.PeekResource("h1"); ok {
		t.Error("expected resource to be consumed")
	}
	if stats := s.Stats(); stats.HostSatisfied != 1 {
		t.Errorf("expected HostSatisfied=1, got %+v", stats)
	}
}

func TestReleaseExtraResourcesDropsUnwantedHosts(t *testing.T) {
	s := NewState()
	// Resource on h1 with no matching preferred-host request: extra.
	extra := &Resource{ID: "extra", Host: "h1"}
	// Resource on h2 matching a pending preferred-host request: kept.
	kept := &Resource{ID: "kept", Host: "h2"}
	s.AddResource(extra)
	s.AddResource(kept)
	s.AddRequest(New("0", "h2", 1, 1024, time.Time{}))

	released := s.ReleaseExtraResources()
	if len(released) != 1 || released[0] != extra {
		t.Fatalf("expected only the h1 resource released, got %+v", released)
	}
	if _, ok := s.PeekResource("h2"); !ok {
		t.Error("expected the h2 resource to survive")
	}
}

func TestReleaseExtraResourcesTrimsAnyHostSurplus(t *testing.T) {
	s := NewState()
	s.AddResource(&Resource{ID: "r0", Host: "h1"})
	s.AddResource(&Resource{ID: "r1", Host: "h2"})
	s.AddRequest(New("0", "h1", 1, 1024, time.Time{}))
	// Two resources, one pending request: the surplus is trimmed to one.
	// No request prefers h2, so the per-host pass releases the h2
	// resource; that already leaves one resource for one request, so the
	// any-host surplus pass releases nothing more.
	released := s.ReleaseExtraResources()
	if len(released) != 1 {
		t.Fatalf("expected 1 resource released, got %d", len(released))
	}
	stats := s.Stats()
	if stats.Allocated != 1 {
		t.Fatalf("expected 1 resource to remain allocated, got %+v", stats)
	}
}
