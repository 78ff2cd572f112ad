package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/menta2k/painting-cropper/internal/catalog"
	"github.com/menta2k/painting-cropper/internal/config"
	"github.com/menta2k/painting-cropper/internal/logging"
	"github.com/menta2k/painting-cropper/internal/utils"
	"github.com/menta2k/painting-cropper/pkg/detection"
	"github.com/menta2k/painting-cropper/pkg/orchestrator"
	"github.com/menta2k/painting-cropper/pkg/processing"
	"github.com/menta2k/painting-cropper/pkg/replay"
	"github.com/menta2k/painting-cropper/pkg/worker"
)

// SummaryFile is written into the output directory after a run
const SummaryFile = "run_summary.json"

func usage(w io.Writer) {
	name := filepath.Base(os.Args[0])
	fmt.Fprintf(w, `usage: %s <command> [flags]

commands:
  run          detect, crop and aggregate every painting into the combined table
  worker       process one painting (used by run; prints the crop count)
  replay       regenerate curated crops from an edited combined table
  probe        check that the detector backend answers for one image
  runs         list the runs recorded in a catalog
  init-config  write a default configuration file

run "%s <command> -h" for the flags of a command
`, name, name)
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "run":
		os.Exit(runCmd(args))
	case "worker":
		os.Exit(workerCmd(args, os.Stdout, os.Stderr))
	case "replay":
		os.Exit(replayCmd(args))
	case "probe":
		os.Exit(probeCmd(args))
	case "runs":
		os.Exit(runsCmd(args))
	case "init-config":
		os.Exit(initConfigCmd(args))
	case "-h", "-help", "--help", "help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

// commonFlags are accepted by every command
type commonFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	backend    string
	model      string
	url        string
	debug      bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "JSON config file (default: "+config.GetConfigPath()+" if present)")
	fs.StringVar(&c.logLevel, "log-level", "", "log level: debug|info|warn|error")
	fs.StringVar(&c.logFormat, "log-format", "", "log format: text|json")
	fs.StringVar(&c.backend, "backend", "", "detector backend: ollama|llamacpp|onnx|sidecar")
	fs.StringVar(&c.model, "model", "", "detector model name")
	fs.StringVar(&c.url, "url", "", "detector server URL")
	fs.BoolVar(&c.debug, "debug", false, "write debug overlays into worker temp dirs")
}

// load resolves the configuration and builds a logger writing to stderr
func (c *commonFlags) load() (*config.Config, *slog.Logger, error) {
	path := c.configPath
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if c.logFormat != "" {
		cfg.Logging.Format = c.logFormat
	}
	if c.backend != "" {
		cfg.Detector.Backend = c.backend
	}
	if c.model != "" {
		cfg.Detector.Model = c.model
	}
	if c.url != "" {
		cfg.Detector.URL = c.url
	}
	if c.debug {
		cfg.Detector.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewWithFormat(cfg.Logging.Format, level, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// workerArgs forwards the detector selection to child workers
func (c *commonFlags) workerArgs(cfg *config.Config) []string {
	args := []string{"worker",
		"-log-level", cfg.Logging.Level,
		"-log-format", cfg.Logging.Format,
		"-backend", cfg.Detector.Backend,
		"-model", cfg.Detector.Model,
		"-url", cfg.Detector.URL,
	}
	if c.configPath != "" {
		args = append(args, "-config", c.configPath)
	}
	if cfg.Detector.Debug {
		args = append(args, "-debug")
	}
	return args
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	var paintings, outDir, csvPath, tempDir, bing, catalogPath string
	var workers, total, timeout int
	var seed int64
	var keepTemp, inProcess bool
	fs.StringVar(&paintings, "paintings", "", "directory of source paintings")
	fs.StringVar(&outDir, "out", "", "output directory (crops go to <out>/crops)")
	fs.StringVar(&csvPath, "csv", "", "combined table path")
	fs.StringVar(&tempDir, "temp", "", "directory for per-painting worker output")
	fs.StringVar(&bing, "bing", "", "BING command used to fill up paintings with few detections")
	fs.StringVar(&catalogPath, "catalog", "", "SQLite catalog to mirror rows into")
	fs.IntVar(&workers, "workers", 0, "paintings processed concurrently")
	fs.IntVar(&total, "total", 0, "crops per painting from detector and BING")
	fs.IntVar(&timeout, "worker-timeout", 0, "seconds before a worker is killed")
	fs.Int64Var(&seed, "seed", 0, "seed for low-saliency crop sampling (0 = time based)")
	fs.BoolVar(&keepTemp, "keep-temp", false, "keep worker temp directories")
	fs.BoolVar(&inProcess, "inprocess", false, "run workers in this process instead of child processes")
	fs.Parse(args)

	cfg, logger, err := common.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	overrideString(&cfg.Paths.PaintingsDir, paintings)
	overrideString(&cfg.Paths.OutputDir, outDir)
	overrideString(&cfg.Paths.CombinedCSV, csvPath)
	overrideString(&cfg.Paths.TempDir, tempDir)
	overrideString(&cfg.Paths.CatalogPath, catalogPath)
	overrideString(&cfg.Orchestrator.BingCommand, bing)
	overrideInt(&cfg.Orchestrator.Workers, workers)
	overrideInt(&cfg.Orchestrator.TotalCropsPerPainting, total)
	overrideInt(&cfg.Orchestrator.WorkerTimeoutSeconds, timeout)
	if seed != 0 {
		cfg.Orchestrator.Seed = seed
	}
	if keepTemp {
		cfg.Orchestrator.KeepTemp = true
	}
	if cfg.Paths.CombinedCSV != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Paths.CombinedCSV), 0o755); err != nil {
			logger.Error("failed to create combined table directory", "err", err)
			return 1
		}
	}

	var runner orchestrator.Runner
	workerTimeout := seconds(cfg.Orchestrator.WorkerTimeoutSeconds)
	if inProcess {
		loader := func(context.Context) (detection.Detector, error) {
			return detection.New(detectorOptions(cfg))
		}
		runner = &orchestrator.InProcessRunner{
			Worker:  worker.New(loader, workerOptions(cfg), logger),
			Timeout: workerTimeout,
		}
	} else {
		exe, err := os.Executable()
		if err != nil {
			logger.Error("failed to locate executable for workers", "err", err)
			return 1
		}
		runner = &orchestrator.ProcessRunner{
			Command: exe,
			Args:    common.workerArgs(cfg),
			Timeout: workerTimeout,
			Logger:  logger,
		}
	}

	o := orchestrator.New(orchestratorOptions(cfg), runner, logger)

	if cfg.Paths.CatalogPath != "" {
		cat, err := catalog.Open(cfg.Paths.CatalogPath)
		if err != nil {
			logger.Error("failed to open catalog", "err", err)
			return 1
		}
		defer cat.Close()
		if err := cat.BeginRun(o.RunID(), cfg.Paths.PaintingsDir); err != nil {
			logger.Error("failed to record run", "err", err)
			return 1
		}
		o.AddSink(&catalog.Sink{Catalog: cat, RunID: o.RunID()})
	}

	ctx, stop := signalContext()
	defer stop()

	summary, err := o.Run(ctx)
	if err != nil {
		logger.Error("run failed", "err", err)
		return 1
	}

	js, _ := json.MarshalIndent(summary, "", "  ")
	if err := os.WriteFile(filepath.Join(cfg.Paths.OutputDir, SummaryFile), js, 0o644); err != nil {
		logger.Warn("failed to write run summary", "err", err)
	}
	fmt.Println(string(js))
	return 0
}

// workerCmd always reports through worker.Report so the parent reads a
// count from stdout, including when flags or config are bad.
func workerCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	common.register(fs)
	var imagePath, tempDir string
	fs.StringVar(&imagePath, "image", "", "painting to process")
	fs.StringVar(&tempDir, "temp", "", "directory for crops and frcnn_meta.csv")
	failInit := func(err error) int {
		return worker.Report(stdout, stderr, worker.Result{State: worker.StateFailed},
			&worker.StageError{State: worker.StateInit, Cause: err})
	}
	if err := fs.Parse(args); err != nil {
		return failInit(err)
	}

	cfg, logger, err := common.load()
	if err != nil {
		return failInit(err)
	}
	if tempDir == "" {
		tempDir = filepath.Join(cfg.Paths.TempDir, "worker")
	}

	loader := func(context.Context) (detection.Detector, error) {
		return detection.New(detectorOptions(cfg))
	}
	w := worker.New(loader, workerOptions(cfg), logger)

	ctx, stop := signalContext()
	defer stop()

	res, err := w.Run(ctx, imagePath, tempDir)
	return worker.Report(stdout, stderr, res, err)
}

func replayCmd(args []string) int {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	var csvPath, srcDir, outDir string
	fs.StringVar(&csvPath, "csv", "", "combined table to replay")
	fs.StringVar(&srcDir, "src", "", "directory holding the source paintings")
	fs.StringVar(&outDir, "out", "", "directory for curated crops")
	fs.Parse(args)

	cfg, logger, err := common.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	overrideString(&cfg.Paths.CombinedCSV, csvPath)
	overrideString(&cfg.Paths.ReplaySourceDir, srcDir)
	overrideString(&cfg.Paths.ReplayOutputDir, outDir)

	ctx, stop := signalContext()
	defer stop()

	summary, err := replay.New(replayOptions(cfg), logger).RunFile(ctx, cfg.Paths.CombinedCSV)
	if err != nil {
		if errors.Is(err, replay.ErrSourceMissing) {
			logger.Error("stopping replay", "err", err, "saved", summary.Saved)
		} else {
			logger.Error("replay failed", "err", err)
		}
		return 1
	}
	fmt.Printf("saved %d crops from %d paintings (%d skipped)\n", summary.Saved, summary.Images, summary.Skipped)
	return 0
}

func probeCmd(args []string) int {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	var imagePath string
	fs.StringVar(&imagePath, "image", "", "image to send to the detector")
	fs.Parse(args)

	cfg, logger, err := common.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if imagePath == "" {
		fmt.Fprintln(os.Stderr, "probe: -image is required")
		return 2
	}

	img, err := processing.NewProcessor().LoadImage(imagePath)
	if err != nil {
		logger.Error("failed to load image", "err", err)
		return 1
	}
	det, err := detection.New(detectorOptions(cfg))
	if err != nil {
		logger.Error("failed to create detector", "err", err)
		return 1
	}
	defer det.Close()

	ctx, stop := signalContext()
	defer stop()

	if vd, ok := det.(*detection.VisionDetector); ok {
		answer, err := vd.TestVision(ctx, img)
		if err != nil {
			logger.Error("vision test failed", "err", err)
			return 1
		}
		fmt.Printf("model describes the image as: %s\n", answer)
	}

	dets, err := det.Detect(ctx, imagePath, img)
	if err != nil {
		logger.Error("detection failed", "err", err)
		return 1
	}
	js, _ := json.MarshalIndent(dets, "", "  ")
	fmt.Println(string(js))
	return 0
}

func runsCmd(args []string) int {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	var catalogPath string
	fs.StringVar(&catalogPath, "catalog", "", "SQLite catalog to list")
	fs.Parse(args)

	cfg, logger, err := common.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	overrideString(&cfg.Paths.CatalogPath, catalogPath)
	if cfg.Paths.CatalogPath == "" {
		fmt.Fprintln(os.Stderr, "runs: -catalog is required")
		return 2
	}
	if !utils.FileExists(cfg.Paths.CatalogPath) {
		logger.Error("catalog not found", "path", cfg.Paths.CatalogPath)
		return 1
	}

	cat, err := catalog.Open(cfg.Paths.CatalogPath)
	if err != nil {
		logger.Error("failed to open catalog", "err", err)
		return 1
	}
	defer cat.Close()

	runs, err := cat.Runs()
	if err != nil {
		logger.Error("failed to list runs", "err", err)
		return 1
	}
	js, _ := json.MarshalIndent(runs, "", "  ")
	fmt.Println(string(js))
	return 0
}

func initConfigCmd(args []string) int {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	var path string
	var force bool
	fs.StringVar(&path, "o", config.GetConfigPath(), "where to write the config")
	fs.BoolVar(&force, "force", false, "overwrite an existing file")
	fs.Parse(args)

	if utils.FileExists(path) && !force {
		fmt.Fprintf(os.Stderr, "init-config: %s exists (use -force to overwrite)\n", path)
		return 1
	}

	if err := config.Default().SaveToFile(path); err != nil {
		fmt.Fprintf(os.Stderr, "init-config: %v\n", err)
		return 1
	}
	fmt.Printf("wrote %s\n", path)
	return 0
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
