package placement

import (
	"testing"

	"github.com/streamworkers/dispatchcore/internal/processor"
)

func TestBuildPartitionsFamilies(t *testing.T) {
	tbl := Build([]processor.ID{"0", "0-0", "0-1", "1", "1-0"})

	if !tbl.Conflicts("0", "0-0") || !tbl.Conflicts("0-0", "0") {
		t.Error("expected 0 and 0-0 to conflict symmetrically")
	}
	if !tbl.Conflicts("0", "0-1") {
		t.Error("expected 0 and 0-1 to conflict")
	}
	if tbl.Conflicts("0", "1") {
		t.Error("did not expect 0 and 1 (different families) to conflict")
	}
	if tbl.Conflicts("0-0", "1-0") {
		t.Error("did not expect standbys of different families to conflict")
	}

	siblings := tbl.Siblings("0")
	if len(siblings) != 2 {
		t.Fatalf("expected 2 siblings of 0, got %d", len(siblings))
	}
}
