package main

import (
	"time"

	"github.com/menta2k/painting-cropper/internal/config"
	"github.com/menta2k/painting-cropper/pkg/detection"
	"github.com/menta2k/painting-cropper/pkg/onnx"
	"github.com/menta2k/painting-cropper/pkg/orchestrator"
	"github.com/menta2k/painting-cropper/pkg/proposal"
	"github.com/menta2k/painting-cropper/pkg/replay"
	"github.com/menta2k/painting-cropper/pkg/worker"
)

func detectorOptions(cfg *config.Config) detection.Options {
	onnxCfg := onnx.DefaultConfig()
	onnxCfg.ModelPath = cfg.Detector.ONNXModelPath
	onnxCfg.SharedLibPath = cfg.Detector.ONNXSharedLib
	if cfg.Detector.ONNXInputSize > 0 {
		onnxCfg.InputSize = cfg.Detector.ONNXInputSize
	}

	return detection.Options{
		Backend: cfg.Detector.Backend,
		Model:   cfg.Detector.Model,
		URL:     cfg.Detector.URL,
		Send: detection.SendOptions{
			Format:    cfg.Detector.SendFormat,
			MaxDim:    cfg.Detector.SendMaxDim,
			Quality:   cfg.Detector.SendQuality,
			Proposals: cfg.Filter.MaxProposals,
		},
		ONNX: onnxCfg,
	}
}

func workerOptions(cfg *config.Config) worker.Options {
	return worker.Options{
		Filter: proposal.Options{
			ScoreThreshold:  cfg.Filter.ScoreThreshold,
			NMSIoUThreshold: cfg.Filter.IoUThreshold,
			MaxProposals:    cfg.Filter.MaxProposals,
		},
		JPEGQuality: cfg.Output.JPEGQuality,
		Debug:       cfg.Detector.Debug,
	}
}

func orchestratorOptions(cfg *config.Config) orchestrator.Options {
	o := cfg.Orchestrator
	return orchestrator.Options{
		PaintingsDir:          cfg.Paths.PaintingsDir,
		OutputDir:             cfg.Paths.OutputDir,
		CombinedCSV:           cfg.Paths.CombinedCSV,
		TempDir:               cfg.Paths.TempDir,
		TotalCropsPerPainting: o.TotalCropsPerPainting,
		NumLowSaliencyCrops:   o.NumLowSaliencyCrops,
		LowSaliencyWidth:      o.LowSaliencyWidth,
		LowSaliencyHeight:     o.LowSaliencyHeight,
		CandidateFactor:       o.CandidateFactor,
		Workers:               o.Workers,
		BingCommand:           o.BingCommand,
		BingTimeout:           seconds(o.BingTimeoutSeconds),
		KeepTemp:              o.KeepTemp,
		Seed:                  o.Seed,
		JPEGQuality:           cfg.Output.JPEGQuality,
	}
}

func replayOptions(cfg *config.Config) replay.Options {
	return replay.Options{
		SourceDir:   cfg.Paths.ReplaySourceDir,
		OutputDir:   cfg.Paths.ReplayOutputDir,
		JPEGQuality: cfg.Output.ReplayJPEGQuality,
	}
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
