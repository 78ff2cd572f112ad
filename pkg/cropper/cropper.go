// Package cropper turns accepted proposals into crop files on disk.
package cropper

import (
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/menta2k/painting-cropper/pkg/geometry"
	"github.com/menta2k/painting-cropper/pkg/naming"
	"github.com/menta2k/painting-cropper/pkg/processing"
	"github.com/menta2k/painting-cropper/pkg/types"
)

// Materializer clamps, extracts and saves crops
type Materializer struct {
	processor *processing.Processor
	logger    *slog.Logger
}

// New creates a Materializer with the default processor
func New(logger *slog.Logger) *Materializer {
	return NewWithProcessor(processing.NewProcessor(), logger)
}

// NewWithProcessor creates a Materializer around an existing processor
func NewWithProcessor(p *processing.Processor, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{processor: p, logger: logger}
}

// Materialize writes one crop per proposal that survives clamping. The
// crop path comes from name(proposal.Index) relative to baseDir. Boxes
// that clamp to nothing and crops that fail to save are logged and
// skipped, so the result may be shorter than proposals.
func (m *Materializer) Materialize(img image.Image, proposals []types.AcceptedProposal, name naming.NamingFunc, baseDir string) []types.CropRecord {
	dims := processing.DimensionsOf(img)
	records := make([]types.CropRecord, 0, len(proposals))

	for _, p := range proposals {
		box, ok := geometry.Clamp(geometry.ToPixels(p.Box), dims)
		if !ok {
			m.logger.Debug("proposal outside image after clamping",
				"index", p.Index, "box", p.Box, "width", dims.Width, "height", dims.Height)
			continue
		}

		rel := name(p.Index)
		if err := m.WriteCrop(img, box, filepath.Join(baseDir, filepath.FromSlash(rel))); err != nil {
			m.logger.Warn("failed to write crop", "path", rel, "err", err)
			continue
		}

		records = append(records, types.CropRecord{
			RelativeCropPath: rel,
			X:                box.X1,
			Y:                box.Y1,
			Width:            box.Width(),
			Height:           box.Height(),
			Score:            p.Score,
		})
	}
	return records
}

// WriteCrop extracts an already validated box and saves it to path,
// creating parent directories as needed.
func (m *Materializer) WriteCrop(img image.Image, box types.PixelBox, path string) error {
	crop, err := m.processor.Crop(img, box)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return m.processor.Save(crop, path)
}
