// Package orchestrator runs one worker per painting, then merges the
// per-worker metadata into the combined crop table.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/menta2k/painting-cropper/internal/utils"
	"github.com/menta2k/painting-cropper/pkg/cropper"
	"github.com/menta2k/painting-cropper/pkg/naming"
	"github.com/menta2k/painting-cropper/pkg/processing"
	"github.com/menta2k/painting-cropper/pkg/saliency"
	"github.com/menta2k/painting-cropper/pkg/table"
	"github.com/menta2k/painting-cropper/pkg/types"
)

// RowSink receives one painting's combined rows at a time, in painting order
type RowSink interface {
	WriteRows(rows []types.CombinedRow) error
}

// Options configures a run
type Options struct {
	RunID        string
	PaintingsDir string
	OutputDir    string
	CombinedCSV  string
	TempDir      string

	TotalCropsPerPainting int
	NumLowSaliencyCrops   int
	LowSaliencyWidth      int
	LowSaliencyHeight     int
	CandidateFactor       int

	Workers     int
	BingCommand string
	BingTimeout time.Duration
	KeepTemp    bool
	Seed        int64
	JPEGQuality int
}

// DefaultOptions returns the batch defaults
func DefaultOptions() Options {
	return Options{
		PaintingsDir:          "./images/paintings",
		OutputDir:             "./output",
		TempDir:               "./temp_processing",
		TotalCropsPerPainting: 20,
		NumLowSaliencyCrops:   5,
		LowSaliencyWidth:      224,
		LowSaliencyHeight:     224,
		CandidateFactor:       8,
		Workers:               1,
		JPEGQuality:           90,
	}
}

// CropsDir returns the directory final crops are copied into
func (o Options) CropsDir() string {
	return filepath.Join(o.OutputDir, naming.CropsDir)
}

// CombinedPath returns the combined table path
func (o Options) CombinedPath() string {
	if o.CombinedCSV != "" {
		return o.CombinedCSV
	}
	return filepath.Join(o.OutputDir, "combined_data.csv")
}

// Summary reports what a run produced
type Summary struct {
	RunID            string
	Images           int
	FailedWorkers    int
	Rows             int
	FRCNNCrops       int
	BINGCrops        int
	LowSaliencyCrops int
}

// Orchestrator drives a batch
type Orchestrator struct {
	opts         Options
	runner       Runner
	bing         *BingRunner
	sinks        []RowSink
	processor    *processing.Processor
	materializer *cropper.Materializer
	saliency     *saliency.Scorer
	logger       *slog.Logger
}

// New creates an Orchestrator. Workers are executed through runner.
func New(opts Options, runner Runner, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	logger = logger.With("run", opts.RunID)

	p := processing.NewProcessorWithQuality(opts.JPEGQuality)
	o := &Orchestrator{
		opts:         opts,
		runner:       runner,
		processor:    p,
		materializer: cropper.NewWithProcessor(p, logger),
		saliency:     saliency.New(),
		logger:       logger,
	}
	if opts.BingCommand != "" {
		o.bing = &BingRunner{Command: opts.BingCommand, Timeout: opts.BingTimeout, Logger: logger}
	}
	return o
}

// AddSink registers an extra destination for combined rows
func (o *Orchestrator) AddSink(s RowSink) {
	o.sinks = append(o.sinks, s)
}

// RunID returns the identifier of this run
func (o *Orchestrator) RunID() string {
	return o.opts.RunID
}

// ErrDuplicateBaseName is returned by Run when two paintings share a name
// apart from their extension
var ErrDuplicateBaseName = errors.New("duplicate painting base name")

// workerOutcome is what phase one learns about a painting
type workerOutcome struct {
	path    string
	tempDir string
	count   int
	err     error
}

// Run processes every painting in PaintingsDir. Workers run concurrently;
// aggregation starts only once all of them have finished and walks the
// paintings in filename order.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: o.opts.RunID}

	paintings, err := utils.ListImageFiles(o.opts.PaintingsDir)
	if err != nil {
		return summary, err
	}
	if err := checkBaseNames(paintings); err != nil {
		return summary, err
	}
	summary.Images = len(paintings)
	o.logger.Info("processing paintings", "dir", o.opts.PaintingsDir, "count", len(paintings),
		"jpeg_quality", o.processor.Quality())

	if err := utils.EnsureDir(o.opts.CropsDir()); err != nil {
		return summary, fmt.Errorf("failed to create crops directory: %w", err)
	}
	runTemp := filepath.Join(o.opts.TempDir, o.opts.RunID)
	if err := utils.EnsureDir(runTemp); err != nil {
		return summary, fmt.Errorf("failed to create temp directory: %w", err)
	}
	if !o.opts.KeepTemp {
		defer os.RemoveAll(runTemp)
	}

	f, err := os.Create(o.opts.CombinedPath())
	if err != nil {
		return summary, fmt.Errorf("failed to create combined table: %w", err)
	}
	defer f.Close()
	tw, err := table.NewWriter(f)
	if err != nil {
		return summary, err
	}
	sinks := append([]RowSink{tw}, o.sinks...)

	outcomes := o.runWorkers(ctx, paintings, runTemp)
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	seed := o.opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	for _, out := range outcomes {
		if out.err != nil {
			summary.FailedWorkers++
		}
		rows, stats := o.aggregate(out, rng)
		for _, s := range sinks {
			if err := s.WriteRows(rows); err != nil {
				return summary, fmt.Errorf("failed to write rows for %s: %w", filepath.Base(out.path), err)
			}
		}
		summary.Rows += len(rows)
		summary.FRCNNCrops += stats.frcnn
		summary.BINGCrops += stats.bing
		summary.LowSaliencyCrops += stats.lowSaliency

		if !o.opts.KeepTemp {
			os.RemoveAll(out.tempDir)
		}
	}

	o.logger.Info("orchestration complete",
		"images", summary.Images, "rows", summary.Rows, "failed_workers", summary.FailedWorkers,
		"crops_dir", o.opts.CropsDir(), "combined", o.opts.CombinedPath())
	return summary, f.Close()
}

// checkBaseNames rejects paintings that differ only by extension. Temp
// directories and crop names are keyed on the base name.
func checkBaseNames(paintings []string) error {
	seen := make(map[string]string, len(paintings))
	for _, p := range paintings {
		base := naming.BaseName(p)
		if prev, ok := seen[base]; ok {
			return fmt.Errorf("%w: %s and %s", ErrDuplicateBaseName, filepath.Base(prev), filepath.Base(p))
		}
		seen[base] = p
	}
	return nil
}

// runWorkers runs the detector worker, and the BING top-up where needed,
// for every painting with at most Options.Workers in flight
func (o *Orchestrator) runWorkers(ctx context.Context, paintings []string, runTemp string) []workerOutcome {
	outcomes := make([]workerOutcome, len(paintings))
	sem := make(chan struct{}, o.opts.Workers)
	var wg sync.WaitGroup

	for i, path := range paintings {
		outcomes[i] = workerOutcome{
			path:    path,
			tempDir: filepath.Join(runTemp, naming.BaseName(path)+"_temp"),
		}

		wg.Add(1)
		go func(out *workerOutcome) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				out.err = ctx.Err()
				return
			}
			defer func() { <-sem }()
			o.runOne(ctx, out)
		}(&outcomes[i])
	}

	wg.Wait()
	return outcomes
}

func (o *Orchestrator) runOne(ctx context.Context, out *workerOutcome) {
	name := filepath.Base(out.path)
	logger := o.logger.With("painting", name)

	logger.Info("running detector worker")
	out.count, out.err = o.runner.RunWorker(ctx, out.path, out.tempDir)
	if out.err != nil {
		logger.Warn("detector worker failed", "err", out.err)
		out.count = 0
	}
	logger.Info("detector worker finished", "proposals", out.count)

	needed := o.opts.TotalCropsPerPainting - min(out.count, o.opts.TotalCropsPerPainting)
	if o.bing == nil || needed <= 0 {
		return
	}
	absImage, _ := filepath.Abs(out.path)
	absTemp, _ := filepath.Abs(out.tempDir)
	if err := os.MkdirAll(absTemp, 0o755); err != nil {
		logger.Warn("failed to create temp directory for bing", "err", err)
		return
	}
	logger.Info("running bing", "needed", needed)
	if err := o.bing.Run(ctx, absImage, needed, absTemp); err != nil {
		logger.Warn("bing failed", "err", err)
	}
}
