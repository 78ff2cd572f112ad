// Package replay regenerates curated crops from an edited combined table.
// Each row is cut again from its source painting and saved under a name
// that carries the artist, painting number, crop index and source label.
package replay

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/menta2k/painting-cropper/internal/utils"
	"github.com/menta2k/painting-cropper/pkg/cropper"
	"github.com/menta2k/painting-cropper/pkg/geometry"
	"github.com/menta2k/painting-cropper/pkg/naming"
	"github.com/menta2k/painting-cropper/pkg/processing"
	"github.com/menta2k/painting-cropper/pkg/table"
	"github.com/menta2k/painting-cropper/pkg/types"
)

// ErrSourceMissing stops a replay when a painting named in the table is gone
var ErrSourceMissing = errors.New("source image not found")

// DefaultJPEGQuality is used for replayed crops
const DefaultJPEGQuality = 95

const progressEvery = 100

// Options configures a replay
type Options struct {
	SourceDir   string
	OutputDir   string
	JPEGQuality int
}

// Summary counts what a replay did
type Summary struct {
	Images  int
	Saved   int
	Skipped int
}

// Replayer cuts crops listed in a combined table
type Replayer struct {
	opts         Options
	processor    *processing.Processor
	materializer *cropper.Materializer
	logger       *slog.Logger
}

// New creates a Replayer
func New(opts Options, logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = DefaultJPEGQuality
	}
	p := processing.NewProcessorWithQuality(opts.JPEGQuality)
	return &Replayer{
		opts:         opts,
		processor:    p,
		materializer: cropper.NewWithProcessor(p, logger),
		logger:       logger,
	}
}

// RunFile reads the combined table at path and replays it
func (r *Replayer) RunFile(ctx context.Context, path string) (Summary, error) {
	rows, err := table.ReadFile(path, r.logger)
	if err != nil {
		return Summary{}, err
	}
	return r.Run(ctx, rows)
}

// Run replays rows grouped by painting, paintings in filename order and rows
// in table order within a painting. A missing painting halts the batch with
// ErrSourceMissing; a painting that fails to decode is skipped.
func (r *Replayer) Run(ctx context.Context, rows []types.CombinedRow) (Summary, error) {
	var summary Summary

	groups := make(map[string][]types.CombinedRow)
	for _, row := range rows {
		groups[row.OriginalFilename] = append(groups[row.OriginalFilename], row)
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if dir := r.opts.SourceDir; len(names) > 0 && dir != "" && !utils.DirExists(dir) {
		return summary, fmt.Errorf("%w: source directory %s", ErrSourceMissing, dir)
	}

	r.logger.Info("replaying crops", "paintings", len(names), "rows", len(rows), "output", r.opts.OutputDir)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		src := filepath.Join(r.opts.SourceDir, name)
		img, err := r.processor.LoadImage(src)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return summary, fmt.Errorf("%w: %s", ErrSourceMissing, src)
			}
			r.logger.Warn("failed to load painting, skipping", "painting", name, "err", err)
			summary.Skipped += len(groups[name])
			continue
		}
		summary.Images++

		r.replayImage(img, name, groups[name], &summary)
	}

	r.logger.Info("replay complete", "saved", summary.Saved, "skipped", summary.Skipped, "images", summary.Images)
	return summary, nil
}

func (r *Replayer) replayImage(img image.Image, name string, rows []types.CombinedRow, summary *Summary) {
	id := naming.ParseFilename(name, r.logger)
	dims := processing.DimensionsOf(img)
	logger := r.logger.With("painting", name)

	for _, row := range rows {
		box := row.Rect()
		if err := geometry.ValidateStrict(box, dims); err != nil {
			logger.Warn("invalid crop coordinates, skipping",
				"crop_idx", row.CropIdx, "x1", box.X1, "y1", box.Y1, "x2", box.X2, "y2", box.Y2,
				"width", dims.Width, "height", dims.Height)
			summary.Skipped++
			continue
		}

		source := naming.ResolveSourceLabel(row.FRCNNSource, row.BINGSource)
		out := filepath.Join(r.opts.OutputDir, naming.ReplayCropName(id, row.CropIdx, source, row.WrongFile))
		if err := r.materializer.WriteCrop(img, box, out); err != nil {
			logger.Warn("failed to save crop", "path", out, "err", err)
			summary.Skipped++
			continue
		}

		summary.Saved++
		if summary.Saved%progressEvery == 0 {
			r.logger.Info("replay progress", "saved", summary.Saved, "last", filepath.Base(out))
		}
	}
}
