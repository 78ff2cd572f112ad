package detection

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/menta2k/painting-cropper/pkg/client"
	"github.com/menta2k/painting-cropper/pkg/processing"
	"github.com/menta2k/painting-cropper/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// Detector produces scored boxes in source pixel coordinates. Boxes may
// overlap, lie partly outside the image or be inverted; filtering and
// clamping happen downstream.
type Detector interface {
	Detect(ctx context.Context, imagePath string, img image.Image) ([]types.Detection, error)
	Close() error
}

// SendOptions controls how images are encoded for a vision model
type SendOptions struct {
	Format    string
	MaxDim    int
	Quality   int
	Proposals int
}

// VisionDetector asks a vision-language model for region proposals
type VisionDetector struct {
	client    client.VisionClient
	processor *processing.Processor
	model     string
	opts      SendOptions
}

// NewVisionDetector creates a detector backed by a vision client
func NewVisionDetector(c client.VisionClient, model string, opts SendOptions) *VisionDetector {
	if opts.Format == "" {
		opts.Format = "jpg"
	}
	if opts.Quality <= 0 {
		opts.Quality = 90
	}
	if opts.Proposals <= 0 {
		opts.Proposals = 30
	}
	return &VisionDetector{
		client:    c,
		processor: processing.NewProcessor(),
		model:     model,
		opts:      opts,
	}
}

// Detect sends the image to the model and maps the normalized proposals
// back to source pixels
func (d *VisionDetector) Detect(ctx context.Context, _ string, img image.Image) ([]types.Detection, error) {
	imgB64, err := d.processor.PrepareImageForModel(img, d.opts.Format, d.opts.MaxDim, d.opts.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image for model: %w", err)
	}

	prompt := fmt.Sprintf(client.ProposalPrompt, d.opts.Proposals)
	resp, err := d.client.ProposeRegions(ctx, d.model, prompt, imgB64)
	if err != nil {
		return nil, err
	}

	dims := processing.DimensionsOf(img)
	out := make([]types.Detection, 0, len(resp.Proposals))
	for _, p := range resp.Proposals {
		out = append(out, types.Detection{
			Box:   toPixels(p.Box, dims),
			Score: clamp(p.Score, 0, 1),
		})
	}
	return out, nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *VisionDetector) TestVision(ctx context.Context, img image.Image) (string, error) {
	imgB64, err := d.processor.PrepareImageForModel(img, d.opts.Format, d.opts.MaxDim, d.opts.Quality)
	if err != nil {
		return "", err
	}
	return d.client.SimpleQuery(ctx, d.model, SimpleTestPrompt, imgB64)
}

// Close is a no-op; vision clients hold no process resources
func (d *VisionDetector) Close() error { return nil }

// toPixels scales a normalized box to the image size. Models occasionally
// answer in pixels despite the prompt; boxes with a coordinate above 1 are
// taken as already being in pixels.
func toPixels(b types.Box, dims types.ImageDimensions) types.Box {
	if math.Max(math.Max(b.X1, b.X2), math.Max(b.Y1, b.Y2)) > 1 {
		return b
	}
	w, h := float64(dims.Width), float64(dims.Height)
	return types.Box{X1: b.X1 * w, Y1: b.Y1 * h, X2: b.X2 * w, Y2: b.Y2 * h}
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
