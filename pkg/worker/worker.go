// Package worker runs the proposal pipeline for a single painting:
// detect, filter, clamp, crop and write the metadata side file.
//
// A worker is meant to run in its own process. Its result crosses the
// process boundary as one integer on stdout, diagnostics on stderr and
// frcnn_meta.csv in the temp directory.
package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/menta2k/painting-cropper/pkg/cropper"
	"github.com/menta2k/painting-cropper/pkg/detection"
	"github.com/menta2k/painting-cropper/pkg/geometry"
	"github.com/menta2k/painting-cropper/pkg/metadata"
	"github.com/menta2k/painting-cropper/pkg/naming"
	"github.com/menta2k/painting-cropper/pkg/processing"
	"github.com/menta2k/painting-cropper/pkg/proposal"
	"github.com/menta2k/painting-cropper/pkg/types"
)

// DebugOverlayFile is written into the temp directory when Options.Debug is set
const DebugOverlayFile = "debug_overlay.png"

// ErrNoImage is returned when Run is called without an image path
var ErrNoImage = errors.New("no image path given")

// Loader acquires the detector. It is called once per Run, in
// LOADING_MODEL, and the detector is closed when Run returns.
type Loader func(ctx context.Context) (detection.Detector, error)

// StaticLoader returns a Loader for an already constructed detector
func StaticLoader(d detection.Detector) Loader {
	return func(context.Context) (detection.Detector, error) { return d, nil }
}

// Options tunes a worker
type Options struct {
	Filter      proposal.Options
	JPEGQuality int
	Debug       bool
}

// DefaultOptions returns the worker defaults (score 0.5, IoU 0.3, 30 proposals)
func DefaultOptions() Options {
	return Options{
		Filter:      proposal.DefaultOptions(),
		JPEGQuality: 95,
	}
}

// Result is the outcome of one Run
type Result struct {
	State   State
	Count   int
	Records []types.CropRecord
}

// Worker executes the per-image state machine
type Worker struct {
	loader    Loader
	opts      Options
	processor *processing.Processor
	logger    *slog.Logger
}

// New creates a Worker
func New(loader Loader, opts Options, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		loader:    loader,
		opts:      opts,
		processor: processing.NewProcessorWithQuality(opts.JPEGQuality),
		logger:    logger,
	}
}

// Run processes imagePath into tempDir. On success the result is DONE and
// Count is the number of crops written; on failure the result is FAILED,
// Count is 0 and the error is a *StageError naming the state that failed.
func (w *Worker) Run(ctx context.Context, imagePath, tempDir string) (Result, error) {
	state := StateInit
	logger := w.logger.With("image", filepath.Base(imagePath))

	fail := func(cause error) (Result, error) {
		logger.Error("worker failed", "state", state, "err", cause)
		return Result{State: StateFailed}, &StageError{State: state, Cause: cause}
	}
	enter := func(s State) {
		state = s
		logger.Debug("worker state", "state", s)
	}

	if imagePath == "" {
		return fail(ErrNoImage)
	}
	if err := os.MkdirAll(filepath.Join(tempDir, naming.CropsDir), 0o755); err != nil {
		return fail(fmt.Errorf("failed to create temp directory: %w", err))
	}

	enter(StateLoadingModel)
	det, err := w.loader(ctx)
	if err != nil {
		return fail(fmt.Errorf("failed to load detector: %w", err))
	}
	defer func() {
		if cerr := det.Close(); cerr != nil {
			logger.Warn("failed to release detector", "err", cerr)
		}
	}()

	enter(StateReadingImage)
	img, err := w.processor.LoadImage(imagePath)
	if err != nil {
		return fail(err)
	}
	dims := processing.DimensionsOf(img)
	logger.Info("image loaded", "width", dims.Width, "height", dims.Height)

	enter(StateDetecting)
	detections, err := det.Detect(ctx, imagePath, img)
	if err != nil {
		return fail(fmt.Errorf("detection failed: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	enter(StateFiltering)
	accepted := proposal.Filter(detections, w.opts.Filter)
	logger.Info("proposals filtered", "detections", len(detections), "accepted", len(accepted))

	metaPath := filepath.Join(tempDir, metadata.FRCNNFile)
	if len(accepted) == 0 {
		if err := metadata.WriteFile(metaPath, nil); err != nil {
			return fail(err)
		}
		enter(StateDone)
		return Result{State: StateDone, Count: 0, Records: []types.CropRecord{}}, nil
	}

	enter(StateMaterializing)
	base := naming.BaseName(imagePath)
	m := cropper.NewWithProcessor(w.processor, logger)
	records := m.Materialize(img, accepted, naming.WorkerNaming(base), tempDir)

	if err := ctx.Err(); err != nil {
		removeCrops(tempDir, records)
		return fail(err)
	}
	if err := metadata.WriteFile(metaPath, records); err != nil {
		removeCrops(tempDir, records)
		return fail(err)
	}

	if w.opts.Debug {
		w.writeOverlay(img, accepted, dims, tempDir, logger)
	}

	enter(StateDone)
	logger.Info("worker done", "crops", len(records))
	return Result{State: StateDone, Count: len(records), Records: records}, nil
}

func (w *Worker) writeOverlay(img image.Image, accepted []types.AcceptedProposal, dims types.ImageDimensions, tempDir string, logger *slog.Logger) {
	boxes := make([]types.PixelBox, 0, len(accepted))
	for _, p := range accepted {
		if b, ok := geometry.Clamp(geometry.ToPixels(p.Box), dims); ok {
			boxes = append(boxes, b)
		}
	}
	overlay := w.processor.CreateDebugOverlay(img, boxes)
	if err := w.processor.Save(overlay, filepath.Join(tempDir, DebugOverlayFile)); err != nil {
		logger.Warn("failed to write debug overlay", "err", err)
	}
}

// removeCrops deletes crop files so a failed run leaves nothing that looks
// like a finished result
func removeCrops(tempDir string, records []types.CropRecord) {
	for _, r := range records {
		os.Remove(filepath.Join(tempDir, filepath.FromSlash(r.RelativeCropPath)))
	}
}
