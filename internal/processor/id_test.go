package processor

import "testing"

func TestIsStandby(t *testing.T) {
	for _, trial := range []struct {
		id   ID
		want bool
	}{
		{"3", false},
		{"3-0", true},
		{"3-12", true},
		{"", false},
	} {
		if got := IsStandby(trial.id); got != trial.want {
			t.Errorf("IsStandby(%q) = %v, want %v", trial.id, got, trial.want)
		}
	}
}

func TestActiveOf(t *testing.T) {
	for _, trial := range []struct {
		id   ID
		want ID
	}{
		{"3-0", "3"},
		{"3-12", "3"},
		{"3", "3"},
	} {
		if got := ActiveOf(trial.id); got != trial.want {
			t.Errorf("ActiveOf(%q) = %q, want %q", trial.id, got, trial.want)
		}
	}
}
