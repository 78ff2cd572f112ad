// Package proposal reduces raw detector output to a small, deduplicated,
// deterministically ordered list of accepted proposals.
package proposal

import (
	"math"
	"sort"

	"github.com/menta2k/painting-cropper/pkg/types"
)

// Options holds the thresholds applied by Filter
type Options struct {
	ScoreThreshold  float64
	NMSIoUThreshold float64
	MaxProposals    int
}

// DefaultOptions returns the thresholds used by the worker
func DefaultOptions() Options {
	return Options{
		ScoreThreshold:  0.5,
		NMSIoUThreshold: 0.3,
		MaxProposals:    30,
	}
}

// Filter applies the score gate, greedy non-max suppression and the
// top-K cap. The result is ordered by descending score, ties keeping the
// input order, and each proposal's Index is its position in that order.
func Filter(detections []types.Detection, opts Options) []types.AcceptedProposal {
	candidates := make([]types.Detection, 0, len(detections))
	for _, d := range detections {
		if finite(d) && d.Score > opts.ScoreThreshold {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return []types.AcceptedProposal{}
	}

	sortByScore(candidates)

	kept := make([]types.Detection, 0, len(candidates))
	for _, c := range candidates {
		if overlapsAny(c.Box, kept, opts.NMSIoUThreshold) {
			continue
		}
		kept = append(kept, c)
	}

	// Top-K is taken from an explicitly re-sorted list so the result does
	// not depend on the order suppression produced.
	sortByScore(kept)
	if opts.MaxProposals > 0 && len(kept) > opts.MaxProposals {
		kept = kept[:opts.MaxProposals]
	}

	accepted := make([]types.AcceptedProposal, len(kept))
	for i, d := range kept {
		accepted[i] = types.AcceptedProposal{Detection: d, Index: i}
	}
	return accepted
}

// IoU returns the intersection-over-union of two axis-aligned boxes.
// Zero-area boxes have IoU 0 with everything.
func IoU(a, b types.Box) float64 {
	areaA, areaB := a.Area(), b.Area()
	if areaA == 0 || areaB == 0 {
		return 0
	}

	ix1 := math.Max(a.X1, b.X1)
	iy1 := math.Max(a.Y1, b.Y1)
	ix2 := math.Min(a.X2, b.X2)
	iy2 := math.Min(a.Y2, b.Y2)

	inter := math.Max(0, ix2-ix1) * math.Max(0, iy2-iy1)
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// finite rejects detections a broken model can emit. A NaN box never
// suppresses anything and is never suppressed.
func finite(d types.Detection) bool {
	for _, v := range [...]float64{d.Score, d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func overlapsAny(box types.Box, kept []types.Detection, threshold float64) bool {
	for _, k := range kept {
		if IoU(box, k.Box) > threshold {
			return true
		}
	}
	return false
}

func sortByScore(detections []types.Detection) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Score > detections[j].Score
	})
}
