// Package saliency scores image regions by edge strength and brightness.
// The orchestrator uses it to pick background crops that avoid the
// painting's subjects.
package saliency

import (
	"image"
	"math"
	"math/rand"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/menta2k/painting-cropper/pkg/types"
)

// Scorer computes saliency maps
type Scorer struct {
	config Config
}

// Config holds saliency weights and the working resolution
type Config struct {
	ContrastWeight float64
	ColorWeight    float64
	// MaxDim bounds the longest side of the image the map is computed on.
	// Zero means full resolution.
	MaxDim int
}

// New creates a Scorer with default configuration
func New() *Scorer {
	return NewWithConfig(Config{
		ContrastWeight: 0.6,
		ColorWeight:    0.4,
		MaxDim:         256,
	})
}

// NewWithConfig creates a Scorer with custom configuration
func NewWithConfig(config Config) *Scorer {
	return &Scorer{config: config}
}

// Region is a window with its mean saliency
type Region struct {
	Box   types.PixelBox
	Score float64
}

// Map is a saliency map with a summed-area table for O(1) window means.
// Coordinates passed to Mean are in source image pixels.
type Map struct {
	width  int
	height int
	scale  float64
	sums   []float64 // (width+1)*(height+1)
}

// Map computes the saliency map of img
func (s *Scorer) Map(img image.Image) *Map {
	b := img.Bounds()
	srcW := b.Dx()

	work := img
	if s.config.MaxDim > 0 && (b.Dx() > s.config.MaxDim || b.Dy() > s.config.MaxDim) {
		work = imaging.Fit(img, s.config.MaxDim, s.config.MaxDim, imaging.Box)
	}
	nrgba := imaging.Clone(work)
	w, h := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()

	m := &Map{width: w, height: h, scale: 1, sums: make([]float64, (w+1)*(h+1))}
	if srcW > 0 {
		m.scale = float64(w) / float64(srcW)
	}

	values := s.calculateSaliency(nrgba)
	stride := w + 1
	for y := 0; y < h; y++ {
		var row float64
		for x := 0; x < w; x++ {
			row += values[y*w+x]
			m.sums[(y+1)*stride+x+1] = m.sums[y*stride+x+1] + row
		}
	}
	return m
}

// Mean returns the mean saliency inside box, given in source coordinates
func (m *Map) Mean(box types.PixelBox) float64 {
	x1 := clampInt(int(math.Floor(float64(box.X1)*m.scale)), 0, m.width)
	y1 := clampInt(int(math.Floor(float64(box.Y1)*m.scale)), 0, m.height)
	x2 := clampInt(int(math.Ceil(float64(box.X2)*m.scale)), 0, m.width)
	y2 := clampInt(int(math.Ceil(float64(box.Y2)*m.scale)), 0, m.height)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	stride := m.width + 1
	total := m.sums[y2*stride+x2] - m.sums[y1*stride+x2] - m.sums[y2*stride+x1] + m.sums[y1*stride+x1]
	return total / float64((x2-x1)*(y2-y1))
}

// LeastSalient samples count*factor random width x height windows and
// returns the count windows with the lowest mean saliency, lowest first.
// It returns nil when the image is smaller than the window.
func (s *Scorer) LeastSalient(img image.Image, count, width, height, factor int, rng *rand.Rand) []Region {
	b := img.Bounds()
	if count <= 0 || width <= 0 || height <= 0 || b.Dx() < width || b.Dy() < height {
		return nil
	}
	if factor < 1 {
		factor = 1
	}

	m := s.Map(img)
	candidates := make([]Region, 0, count*factor)
	for i := 0; i < count*factor; i++ {
		x := rng.Intn(b.Dx() - width + 1)
		y := rng.Intn(b.Dy() - height + 1)
		box := types.PixelBox{X1: x, Y1: y, X2: x + width, Y2: y + height}
		candidates = append(candidates, Region{Box: box, Score: m.Mean(box)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score < candidates[j].Score
	})
	if len(candidates) > count {
		candidates = candidates[:count]
	}
	return candidates
}

// calculateSaliency combines 8-neighbour color difference with brightness
func (s *Scorer) calculateSaliency(img *image.NRGBA) []float64 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	out := make([]float64, w*h)

	at := func(x, y int) (float64, float64, float64) {
		i := y*img.Stride + x*4
		return float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
	}

	neighbors := [][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}
	maxDiff := math.Sqrt(3 * 255 * 255)

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			r1, g1, b1 := at(x, y)

			var edgeStrength float64
			for _, off := range neighbors {
				r2, g2, b2 := at(x+off[0], y+off[1])
				dr, dg, db := r1-r2, g1-g2, b1-b2
				edgeStrength += math.Sqrt(dr*dr + dg*dg + db*db)
			}
			edgeStrength /= 8 * maxDiff

			brightness := (r1 + g1 + b1) / (3 * 255)
			out[y*w+x] = s.config.ContrastWeight*edgeStrength + s.config.ColorWeight*brightness
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
