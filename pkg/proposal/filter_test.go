package proposal

import (
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/menta2k/painting-cropper/pkg/types"
)

func det(x1, y1, x2, y2, score float64) types.Detection {
	return types.Detection{Box: types.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}, Score: score}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.ScoreThreshold != 0.5 {
		t.Errorf("Expected score threshold 0.5, got %f", opts.ScoreThreshold)
	}
	if opts.NMSIoUThreshold != 0.3 {
		t.Errorf("Expected NMS threshold 0.3, got %f", opts.NMSIoUThreshold)
	}
	if opts.MaxProposals != 30 {
		t.Errorf("Expected max proposals 30, got %d", opts.MaxProposals)
	}
}

func TestFilterScoreGate(t *testing.T) {
	detections := []types.Detection{
		det(0, 0, 10, 10, 0.5), // equal to threshold: dropped
		det(20, 20, 30, 30, 0.49),
		det(40, 40, 50, 50, 0.51),
	}

	accepted := Filter(detections, DefaultOptions())
	if len(accepted) != 1 {
		t.Fatalf("Expected 1 accepted proposal, got %d", len(accepted))
	}
	if accepted[0].Score != 0.51 {
		t.Errorf("Expected score 0.51, got %f", accepted[0].Score)
	}
}

func TestFilterNothingAboveThreshold(t *testing.T) {
	accepted := Filter([]types.Detection{det(0, 0, 10, 10, 0.1)}, DefaultOptions())
	if accepted == nil {
		t.Fatal("Expected empty slice, got nil")
	}
	if len(accepted) != 0 {
		t.Errorf("Expected no proposals, got %d", len(accepted))
	}
}

func TestFilterDropsNonFinite(t *testing.T) {
	detections := []types.Detection{
		det(math.NaN(), 0, 50, 50, 0.9),
		det(0, 0, 50, 50, 0.8),
		det(0, 0, math.Inf(1), 50, 0.95),
		det(60, 60, 90, 90, math.NaN()),
		det(2, 2, 48, 48, 0.7),
	}

	accepted := Filter(detections, DefaultOptions())
	if len(accepted) != 1 {
		t.Fatalf("Expected 1 accepted proposal, got %d: %+v", len(accepted), accepted)
	}
	if accepted[0].Score != 0.8 {
		t.Errorf("Expected the finite 0.8 box to survive, got %+v", accepted[0])
	}
}

func TestFilterSuppressesOverlap(t *testing.T) {
	detections := []types.Detection{
		det(5, 5, 55, 55, 0.8),
		det(0, 0, 50, 50, 0.9),
	}

	accepted := Filter(detections, DefaultOptions())
	if len(accepted) != 1 {
		t.Fatalf("Expected 1 accepted proposal, got %d", len(accepted))
	}
	if accepted[0].Score != 0.9 {
		t.Errorf("Expected the 0.9 box to survive, got %f", accepted[0].Score)
	}
	if accepted[0].Index != 0 {
		t.Errorf("Expected index 0, got %d", accepted[0].Index)
	}
}

func TestFilterKeepsDisjointBoxes(t *testing.T) {
	detections := []types.Detection{
		det(0, 0, 10, 10, 0.7),
		det(50, 50, 60, 60, 0.9),
		det(100, 100, 110, 110, 0.8),
	}

	accepted := Filter(detections, DefaultOptions())
	if len(accepted) != 3 {
		t.Fatalf("Expected 3 accepted proposals, got %d", len(accepted))
	}
	wantScores := []float64{0.9, 0.8, 0.7}
	for i, a := range accepted {
		if a.Score != wantScores[i] {
			t.Errorf("Proposal %d: expected score %f, got %f", i, wantScores[i], a.Score)
		}
		if a.Index != i {
			t.Errorf("Proposal %d: expected index %d, got %d", i, i, a.Index)
		}
	}
}

func TestFilterCap(t *testing.T) {
	var detections []types.Detection
	for i := 0; i < 10; i++ {
		x := float64(i * 20)
		detections = append(detections, det(x, 0, x+10, 10, 0.6+float64(i)*0.01))
	}

	opts := DefaultOptions()
	opts.MaxProposals = 4
	accepted := Filter(detections, opts)
	if len(accepted) != 4 {
		t.Fatalf("Expected 4 proposals, got %d", len(accepted))
	}
	if accepted[0].Score < accepted[3].Score {
		t.Error("Expected proposals in descending score order")
	}
}

func TestFilterTieBreakKeepsInputOrder(t *testing.T) {
	detections := []types.Detection{
		det(0, 0, 10, 10, 0.7),
		det(20, 0, 30, 10, 0.7),
		det(40, 0, 50, 10, 0.7),
	}

	accepted := Filter(detections, DefaultOptions())
	if len(accepted) != 3 {
		t.Fatalf("Expected 3 proposals, got %d", len(accepted))
	}
	for i, a := range accepted {
		if a.Box != detections[i].Box {
			t.Errorf("Proposal %d: expected box %+v, got %+v", i, detections[i].Box, a.Box)
		}
	}

	// An equal-score overlapping box later in the input loses to the earlier one
	overlapping := []types.Detection{
		det(0, 0, 10, 10, 0.7),
		det(1, 1, 11, 11, 0.7),
	}
	accepted = Filter(overlapping, DefaultOptions())
	if len(accepted) != 1 || accepted[0].Box != overlapping[0].Box {
		t.Errorf("Expected the first of two tied boxes to win, got %+v", accepted)
	}
}

func TestFilterProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	opts := Options{ScoreThreshold: 0.4, NMSIoUThreshold: 0.3, MaxProposals: 15}

	for round := 0; round < 50; round++ {
		var detections []types.Detection
		for i := 0; i < 60; i++ {
			x := rng.Float64() * 200
			y := rng.Float64() * 200
			w := rng.Float64()*80 + 1
			h := rng.Float64()*80 + 1
			// quantized scores force ties
			score := math.Round(rng.Float64()*10) / 10
			detections = append(detections, det(x, y, x+w, y+h, score))
		}

		accepted := Filter(detections, opts)
		if len(accepted) > opts.MaxProposals {
			t.Fatalf("Round %d: %d proposals exceed cap %d", round, len(accepted), opts.MaxProposals)
		}

		for i, a := range accepted {
			if a.Score <= opts.ScoreThreshold {
				t.Fatalf("Round %d: proposal with score %f passed gate", round, a.Score)
			}
			if !containsDetection(detections, a.Detection) {
				t.Fatalf("Round %d: proposal %+v not in input", round, a.Detection)
			}
			for j := i + 1; j < len(accepted); j++ {
				if iou := IoU(a.Box, accepted[j].Box); iou > opts.NMSIoUThreshold {
					t.Fatalf("Round %d: proposals %d and %d overlap with IoU %f", round, i, j, iou)
				}
			}
		}

		again := Filter(detections, opts)
		if !reflect.DeepEqual(accepted, again) {
			t.Fatalf("Round %d: filter is not deterministic", round)
		}
	}
}

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b types.Box
		want float64
	}{
		{"identical", types.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, types.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, 1},
		{"disjoint", types.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, types.Box{X1: 20, Y1: 20, X2: 30, Y2: 30}, 0},
		{"half", types.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, types.Box{X1: 0, Y1: 0, X2: 10, Y2: 5}, 0.5},
		{"zero area", types.Box{X1: 5, Y1: 5, X2: 5, Y2: 10}, types.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, 0},
		{"inverted", types.Box{X1: 10, Y1: 10, X2: 0, Y2: 0}, types.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, 0},
	}

	for _, tt := range tests {
		got := IoU(tt.a, tt.b)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: IoU = %f, want %f", tt.name, got, tt.want)
		}
	}

	a := types.Box{X1: 0, Y1: 0, X2: 50, Y2: 50}
	b := types.Box{X1: 5, Y1: 5, X2: 55, Y2: 55}
	want := 2025.0 / 2975.0
	if got := IoU(a, b); math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected IoU %f, got %f", want, got)
	}
}

func containsDetection(all []types.Detection, d types.Detection) bool {
	for _, x := range all {
		if x == d {
			return true
		}
	}
	return false
}

func BenchmarkFilter(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	detections := make([]types.Detection, 300)
	for i := range detections {
		x, y := rng.Float64()*1000, rng.Float64()*1000
		detections[i] = det(x, y, x+100, y+100, rng.Float64())
	}
	opts := DefaultOptions()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Filter(detections, opts)
	}
}
