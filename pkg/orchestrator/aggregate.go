package orchestrator

import (
	"errors"
	"io/fs"
	"math/rand"
	"path/filepath"

	"github.com/menta2k/painting-cropper/internal/utils"
	"github.com/menta2k/painting-cropper/pkg/metadata"
	"github.com/menta2k/painting-cropper/pkg/naming"
	"github.com/menta2k/painting-cropper/pkg/types"
)

type aggregateStats struct {
	frcnn       int
	bing        int
	lowSaliency int
}

// aggregate turns one painting's worker output into combined rows. Detector
// crops come first, BING crops fill up to TotalCropsPerPainting, then the
// low-saliency background crops are appended. crop_idx counts across all
// sources and a row is only emitted once its crop file exists.
func (o *Orchestrator) aggregate(out workerOutcome, rng *rand.Rand) ([]types.CombinedRow, aggregateStats) {
	var stats aggregateStats
	name := filepath.Base(out.path)
	base := naming.BaseName(out.path)
	wrong := naming.IsWrongFile(name)
	logger := o.logger.With("painting", name)

	rows := []types.CombinedRow{}
	cropIdx := 0

	add := func(rec types.CropRecord, frcnn, bing bool) bool {
		src := filepath.Join(out.tempDir, filepath.FromSlash(rec.RelativeCropPath))
		dst := filepath.Join(o.opts.CropsDir(), naming.ComboCropName(base, cropIdx))
		if err := utils.CopyFile(src, dst); err != nil {
			logger.Warn("failed to copy crop", "src", src, "err", err)
			return false
		}
		rows = append(rows, recordRow(name, cropIdx, rec, frcnn, bing, wrong))
		cropIdx++
		return true
	}

	total := o.opts.TotalCropsPerPainting
	for _, rec := range o.readMeta(out.tempDir, metadata.FRCNNFile, true) {
		if cropIdx >= total {
			break
		}
		if add(rec, true, false) {
			stats.frcnn++
		}
	}
	for _, rec := range o.readMeta(out.tempDir, metadata.BINGFile, false) {
		if cropIdx >= total {
			break
		}
		if add(rec, false, true) {
			stats.bing++
		}
	}

	stats.lowSaliency = o.addLowSaliency(out.path, name, base, wrong, &cropIdx, &rows, rng)

	logger.Info("painting aggregated",
		"frcnn", stats.frcnn, "bing", stats.bing, "low_saliency", stats.lowSaliency)
	return rows, stats
}

// readMeta loads a metadata side file if the producer wrote one
func (o *Orchestrator) readMeta(tempDir, file string, hasScore bool) []types.CropRecord {
	path := filepath.Join(tempDir, file)
	records, err := metadata.ReadFile(path, hasScore, o.logger)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			o.logger.Warn("failed to read metadata", "file", path, "err", err)
		}
		return nil
	}
	return records
}

func (o *Orchestrator) addLowSaliency(path, name, base string, wrong bool, cropIdx *int, rows *[]types.CombinedRow, rng *rand.Rand) int {
	if o.opts.NumLowSaliencyCrops <= 0 {
		return 0
	}
	logger := o.logger.With("painting", name)
	w, h := o.opts.LowSaliencyWidth, o.opts.LowSaliencyHeight

	if d, err := o.processor.Dimensions(path); err == nil && (d.Width < w || d.Height < h) {
		logger.Info("painting too small for low-saliency crops",
			"width", d.Width, "height", d.Height, "crop_width", w, "crop_height", h)
		return 0
	}

	img, err := o.processor.LoadImage(path)
	if err != nil {
		logger.Warn("failed to load painting for low-saliency crops", "err", err)
		return 0
	}

	regions := o.saliency.LeastSalient(img, o.opts.NumLowSaliencyCrops, w, h, o.opts.CandidateFactor, rng)
	if regions == nil {
		logger.Info("no low-saliency windows found", "crop_width", w, "crop_height", h)
		return 0
	}

	added := 0
	for _, r := range regions {
		dst := filepath.Join(o.opts.CropsDir(), naming.LowSaliencyCropName(base, *cropIdx))
		if err := o.materializer.WriteCrop(img, r.Box, dst); err != nil {
			logger.Warn("failed to write low-saliency crop", "err", err)
			continue
		}
		*rows = append(*rows, types.CombinedRow{
			OriginalFilename: name,
			CropIdx:          *cropIdx,
			TopLeftX:         r.Box.X1,
			TopLeftY:         r.Box.Y1,
			BottomRightX:     r.Box.X2,
			BottomRightY:     r.Box.Y2,
			WrongFile:        wrong,
		})
		*cropIdx++
		added++
	}
	return added
}

func recordRow(name string, cropIdx int, rec types.CropRecord, frcnn, bing, wrong bool) types.CombinedRow {
	return types.CombinedRow{
		OriginalFilename: name,
		CropIdx:          cropIdx,
		TopLeftX:         rec.X,
		TopLeftY:         rec.Y,
		BottomRightX:     rec.X + rec.Width,
		BottomRightY:     rec.Y + rec.Height,
		FRCNNSource:      frcnn,
		BINGSource:       bing,
		WrongFile:        wrong,
	}
}
