package internaldefs

import (
	"strings"
	"testing"

	"github.com/ibn-api/authcore"
)

func TestCounterDefsCoverEveryCounter(t *testing.T) {
	seen := make(map[authcore.MetricID]bool, len(CounterDefs))
	names := make(map[string]bool, len(CounterDefs))
	for _, def := range CounterDefs {
		if seen[def.ID] {
			t.Fatalf("duplicate id %d", def.ID)
		}
		if names[def.Name] {
			t.Fatalf("duplicate name %s", def.Name)
		}
		if !strings.HasPrefix(def.Name, "authcore_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("bad counter name %s", def.Name)
		}
		seen[def.ID] = true
		names[def.Name] = true
	}
	for id := authcore.MetricLoginSuccess; id < authcore.MetricValidateLatency; id++ {
		if !seen[id] {
			t.Fatalf("metric id %d has no definition", id)
		}
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if len(HistogramUpperBounds)+1 != len(HistogramBoundLabels) {
		t.Fatal("bounds and labels disagree")
	}
}
