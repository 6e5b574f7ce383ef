package detect

import "testing"

func TestIsStable(t *testing.T) {
	cases := []struct {
		id   string
		want bool
	}{
		{"", false},
		{"det-123", false},
		{"t1", true},
		{"detective", true}, // does not start with "det-" exactly
	}
	for _, c := range cases {
		if got := (Detection{TrackID: c.id}).IsStable(); got != c.want {
			t.Errorf("IsStable(%q) = %v, want %v", c.id, got, c.want)
		}
	}
}

func TestFilterPasses(t *testing.T) {
	f := NewFilter([]string{"person", "car"}, 0.5)

	if !f.Passes(Detection{Class: "person", Conf: 0.9}) {
		t.Error("expected pass")
	}
	if f.Passes(Detection{Class: "dog", Conf: 0.9}) {
		t.Error("expected class filter to reject")
	}
	if f.Passes(Detection{Class: "person", Conf: 0.1}) {
		t.Error("expected confidence filter to reject")
	}
}

func TestPartitionUnstableStillRelevant(t *testing.T) {
	f := NewFilter([]string{"person"}, 0.5)
	raw := []Detection{
		{TrackID: "", Class: "person", Conf: 0.9},
		{TrackID: "t1", Class: "person", Conf: 0.9},
		{TrackID: "t2", Class: "dog", Conf: 0.9},
	}

	relevant, stable := Partition(raw, f)
	if len(relevant) != 2 {
		t.Fatalf("expected 2 relevant, got %d", len(relevant))
	}
	if len(stable) != 1 || stable[0].TrackID != "t1" {
		t.Fatalf("expected only t1 stable, got %v", stable)
	}
}
