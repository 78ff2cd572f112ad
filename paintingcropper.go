// Package paintingcropper turns detector output for paintings into crops.
//
// The package wraps the pipeline used by the painting-cropper command so it
// can be embedded: filter raw detections with non-max suppression, clamp the
// survivors to the painting, write one JPEG per box and describe them in a
// metadata table.
//
// Basic usage:
//
//	package main
//
//	import (
//		"log"
//
//		paintingcropper "github.com/menta2k/painting-cropper"
//		"github.com/menta2k/painting-cropper/pkg/types"
//	)
//
//	func main() {
//		pc := paintingcropper.New()
//
//		img, err := pc.LoadImage("Monet_Claude_12.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		detections := []types.Detection{
//			{Box: types.Box{X1: 10, Y1: 20, X2: 300, Y2: 240}, Score: 0.92},
//		}
//		records, err := pc.CropDetections(img, detections, "out", "Monet_Claude_12")
//		if err != nil {
//			log.Fatal(err)
//		}
//		log.Printf("wrote %d crops", len(records))
//	}
//
// Batch processing of a whole directory, BING fill-up, low-saliency crops and
// the replay of a curated table live in pkg/orchestrator and pkg/replay and
// are driven by cmd/painting-cropper.
package paintingcropper

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"

	"github.com/menta2k/painting-cropper/internal/utils"
	"github.com/menta2k/painting-cropper/pkg/cropper"
	"github.com/menta2k/painting-cropper/pkg/detection"
	"github.com/menta2k/painting-cropper/pkg/metadata"
	"github.com/menta2k/painting-cropper/pkg/naming"
	"github.com/menta2k/painting-cropper/pkg/processing"
	"github.com/menta2k/painting-cropper/pkg/proposal"
	"github.com/menta2k/painting-cropper/pkg/types"
	"github.com/menta2k/painting-cropper/pkg/worker"
)

// Version of the painting cropper library
const Version = "1.0.0"

// Options configures a PaintingCropper
type Options struct {
	Filter       proposal.Options
	JPEGQuality  int
	MinImageSize int
}

// DefaultOptions returns the worker filter defaults and a 32px minimum size
func DefaultOptions() Options {
	return Options{
		Filter:       proposal.DefaultOptions(),
		JPEGQuality:  95,
		MinImageSize: 32,
	}
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int
	Height      int
	AspectRatio float64
	Area        int
}

// PaintingCropper provides a high-level interface to the crop pipeline
type PaintingCropper struct {
	opts         Options
	processor    *processing.Processor
	materializer *cropper.Materializer
	logger       *slog.Logger
}

// New creates a PaintingCropper with default options
func New() *PaintingCropper {
	return NewWithOptions(DefaultOptions(), nil)
}

// NewWithOptions creates a PaintingCropper with custom options
func NewWithOptions(opts Options, logger *slog.Logger) *PaintingCropper {
	if logger == nil {
		logger = slog.Default()
	}
	p := processing.NewProcessorWithQuality(opts.JPEGQuality)
	return &PaintingCropper{
		opts:         opts,
		processor:    p,
		materializer: cropper.NewWithProcessor(p, logger),
		logger:       logger,
	}
}

// LoadImage loads a painting from file
func (pc *PaintingCropper) LoadImage(path string) (image.Image, error) {
	return pc.processor.LoadImage(path)
}

// SaveImage saves an image, choosing the encoder from the extension
func (pc *PaintingCropper) SaveImage(img image.Image, path string) error {
	return pc.processor.Save(img, path)
}

// GetImageInfo returns basic information about an image
func (pc *PaintingCropper) GetImageInfo(img image.Image) ImageInfo {
	d := processing.DimensionsOf(img)
	info := ImageInfo{Width: d.Width, Height: d.Height, Area: d.Width * d.Height}
	if d.Height > 0 {
		info.AspectRatio = float64(d.Width) / float64(d.Height)
	}
	return info
}

// ValidateImage checks if an image meets the minimum size
func (pc *PaintingCropper) ValidateImage(img image.Image) error {
	d := processing.DimensionsOf(img)
	if d.Width < pc.opts.MinImageSize || d.Height < pc.opts.MinImageSize {
		return fmt.Errorf("image too small: %dx%d (minimum: %d)", d.Width, d.Height, pc.opts.MinImageSize)
	}
	return nil
}

// FilterDetections applies the score gate, NMS and the proposal cap
func (pc *PaintingCropper) FilterDetections(detections []types.Detection) []types.AcceptedProposal {
	return proposal.Filter(detections, pc.opts.Filter)
}

// CropDetections filters detections, writes the surviving crops under
// outDir/crops and the frcnn_meta.csv table into outDir. base names the
// crops, normally the painting filename without extension.
func (pc *PaintingCropper) CropDetections(img image.Image, detections []types.Detection, outDir, base string) ([]types.CropRecord, error) {
	if err := pc.ValidateImage(img); err != nil {
		return nil, err
	}
	if err := utils.EnsureDir(outDir); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	accepted := pc.FilterDetections(detections)
	records := pc.materializer.Materialize(img, accepted, naming.WorkerNaming(base), outDir)
	if err := metadata.WriteFile(filepath.Join(outDir, metadata.FRCNNFile), records); err != nil {
		return nil, err
	}
	return records, nil
}

// ProcessImageFile runs the full worker state machine for one painting with
// the given detector
func (pc *PaintingCropper) ProcessImageFile(ctx context.Context, det detection.Detector, imagePath, outDir string) (worker.Result, error) {
	w := worker.New(worker.StaticLoader(det), worker.Options{
		Filter:      pc.opts.Filter,
		JPEGQuality: pc.opts.JPEGQuality,
	}, pc.logger)
	return w.Run(ctx, imagePath, outDir)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
