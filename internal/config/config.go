package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "PCROP_"

// Config holds the application configuration
type Config struct {
	Paths        PathsConfig        `json:"paths"`
	Filter       FilterConfig       `json:"filter"`
	Detector     DetectorConfig     `json:"detector"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Output       OutputConfig       `json:"output"`
	Logging      LoggingConfig      `json:"logging"`
}

// PathsConfig holds input and output locations
type PathsConfig struct {
	PaintingsDir    string `json:"paintings_dir"`
	OutputDir       string `json:"output_dir"`
	CombinedCSV     string `json:"combined_csv"`
	TempDir         string `json:"temp_dir"`
	ReplaySourceDir string `json:"replay_source_dir"`
	ReplayOutputDir string `json:"replay_output_dir"`
	CatalogPath     string `json:"catalog_path"`
}

// FilterConfig holds the proposal filter thresholds
type FilterConfig struct {
	ScoreThreshold float64 `json:"score_threshold"`
	IoUThreshold   float64 `json:"iou_threshold"`
	MaxProposals   int     `json:"max_proposals"`
}

// DetectorConfig selects the detector backend
type DetectorConfig struct {
	Backend       string `json:"backend"`
	Model         string `json:"model"`
	URL           string `json:"url"`
	ONNXModelPath string `json:"onnx_model_path"`
	ONNXSharedLib string `json:"onnx_shared_lib"`
	ONNXInputSize int    `json:"onnx_input_size"`
	SendFormat    string `json:"send_format"`
	SendMaxDim    int    `json:"send_max_dim"`
	SendQuality   int    `json:"send_quality"`
	Debug         bool   `json:"debug"`
}

// OrchestratorConfig holds batch settings
type OrchestratorConfig struct {
	TotalCropsPerPainting int    `json:"total_crops_per_painting"`
	NumLowSaliencyCrops   int    `json:"num_low_saliency_crops"`
	LowSaliencyWidth      int    `json:"low_saliency_width"`
	LowSaliencyHeight     int    `json:"low_saliency_height"`
	CandidateFactor       int    `json:"candidate_factor"`
	Workers               int    `json:"workers"`
	WorkerTimeoutSeconds  int    `json:"worker_timeout_seconds"`
	BingCommand           string `json:"bing_command"`
	BingTimeoutSeconds    int    `json:"bing_timeout_seconds"`
	KeepTemp              bool   `json:"keep_temp"`
	Seed                  int64  `json:"seed"`
}

// OutputConfig holds encoder settings
type OutputConfig struct {
	JPEGQuality       int `json:"jpeg_quality"`
	ReplayJPEGQuality int `json:"replay_jpeg_quality"`
}

// LoggingConfig holds the log level and handler format
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			PaintingsDir:    "./images/paintings",
			OutputDir:       "./output",
			CombinedCSV:     "./output/combined_data.csv",
			TempDir:         "./temp_processing",
			ReplaySourceDir: "./images/paintings",
			ReplayOutputDir: "./output_crops",
		},
		Filter: FilterConfig{
			ScoreThreshold: 0.5,
			IoUThreshold:   0.3,
			MaxProposals:   30,
		},
		Detector: DetectorConfig{
			Backend:       "ollama",
			Model:         "qwen2.5vl:7b",
			URL:           "http://localhost:11434",
			ONNXInputSize: 800,
			SendFormat:    "jpg",
			SendMaxDim:    1024,
			SendQuality:   90,
		},
		Orchestrator: OrchestratorConfig{
			TotalCropsPerPainting: 20,
			NumLowSaliencyCrops:   5,
			LowSaliencyWidth:      224,
			LowSaliencyHeight:     224,
			CandidateFactor:       8,
			Workers:               1,
			WorkerTimeoutSeconds:  600,
			BingTimeoutSeconds:    300,
		},
		Output: OutputConfig{
			JPEGQuality:       95,
			ReplayJPEGQuality: 95,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a JSON file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Load builds the effective configuration: defaults, then the JSON file at
// path if it exists, then a .env file, then PCROP_* environment variables.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		loaded, err := LoadFromFile(path)
		switch {
		case err == nil:
			config = loaded
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, err
		}
	}

	if err := LoadEnv(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadEnv reads KEY=VALUE files (default ".env") into the process
// environment. Variables that are already set win.
func LoadEnv(files ...string) error {
	return godotenv.Load(files...)
}

func (c *Config) applyEnv() {
	c.Paths.PaintingsDir = getEnv("PAINTINGS_DIR", c.Paths.PaintingsDir)
	c.Paths.OutputDir = getEnv("OUTPUT_DIR", c.Paths.OutputDir)
	c.Paths.CombinedCSV = getEnv("COMBINED_CSV", c.Paths.CombinedCSV)
	c.Paths.TempDir = getEnv("TEMP_DIR", c.Paths.TempDir)
	c.Paths.ReplaySourceDir = getEnv("REPLAY_SOURCE_DIR", c.Paths.ReplaySourceDir)
	c.Paths.ReplayOutputDir = getEnv("REPLAY_OUTPUT_DIR", c.Paths.ReplayOutputDir)
	c.Paths.CatalogPath = getEnv("CATALOG_PATH", c.Paths.CatalogPath)

	c.Filter.ScoreThreshold = getEnvAsFloat("SCORE_THRESHOLD", c.Filter.ScoreThreshold)
	c.Filter.IoUThreshold = getEnvAsFloat("IOU_THRESHOLD", c.Filter.IoUThreshold)
	c.Filter.MaxProposals = getEnvAsInt("MAX_PROPOSALS", c.Filter.MaxProposals)

	c.Detector.Backend = getEnv("DETECTOR_BACKEND", c.Detector.Backend)
	c.Detector.Model = getEnv("DETECTOR_MODEL", c.Detector.Model)
	c.Detector.URL = getEnv("DETECTOR_URL", c.Detector.URL)
	c.Detector.ONNXModelPath = getEnv("ONNX_MODEL_PATH", c.Detector.ONNXModelPath)
	c.Detector.ONNXSharedLib = getEnv("ONNX_SHARED_LIB", c.Detector.ONNXSharedLib)
	c.Detector.Debug = getEnvAsBool("DEBUG", c.Detector.Debug)

	c.Orchestrator.TotalCropsPerPainting = getEnvAsInt("TOTAL_CROPS", c.Orchestrator.TotalCropsPerPainting)
	c.Orchestrator.NumLowSaliencyCrops = getEnvAsInt("LOW_SALIENCY_CROPS", c.Orchestrator.NumLowSaliencyCrops)
	c.Orchestrator.Workers = getEnvAsInt("WORKERS", c.Orchestrator.Workers)
	c.Orchestrator.WorkerTimeoutSeconds = getEnvAsInt("WORKER_TIMEOUT", c.Orchestrator.WorkerTimeoutSeconds)
	c.Orchestrator.BingCommand = getEnv("BING_COMMAND", c.Orchestrator.BingCommand)
	c.Orchestrator.KeepTemp = getEnvAsBool("KEEP_TEMP", c.Orchestrator.KeepTemp)
	c.Orchestrator.Seed = getEnvAsInt64("SEED", c.Orchestrator.Seed)

	c.Output.JPEGQuality = getEnvAsInt("JPEG_QUALITY", c.Output.JPEGQuality)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Filter.ScoreThreshold < 0 || c.Filter.ScoreThreshold > 1 {
		return fmt.Errorf("filter.score_threshold must be between 0 and 1")
	}

	if c.Filter.IoUThreshold < 0 || c.Filter.IoUThreshold > 1 {
		return fmt.Errorf("filter.iou_threshold must be between 0 and 1")
	}

	if c.Filter.MaxProposals < 1 {
		return fmt.Errorf("filter.max_proposals must be positive")
	}

	switch strings.ToLower(c.Detector.Backend) {
	case "ollama", "llamacpp", "onnx", "sidecar":
	default:
		return fmt.Errorf("detector.backend must be one of ollama, llamacpp, onnx, sidecar")
	}

	if strings.EqualFold(c.Detector.Backend, "onnx") && c.Detector.ONNXModelPath == "" {
		return fmt.Errorf("detector.onnx_model_path is required for the onnx backend")
	}

	if c.Orchestrator.TotalCropsPerPainting < 0 {
		return fmt.Errorf("orchestrator.total_crops_per_painting cannot be negative")
	}

	if c.Orchestrator.NumLowSaliencyCrops < 0 {
		return fmt.Errorf("orchestrator.num_low_saliency_crops cannot be negative")
	}

	if c.Orchestrator.LowSaliencyWidth < 1 || c.Orchestrator.LowSaliencyHeight < 1 {
		return fmt.Errorf("orchestrator low-saliency crop size must be positive")
	}

	if c.Orchestrator.Workers < 1 {
		return fmt.Errorf("orchestrator.workers must be at least 1")
	}

	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		return fmt.Errorf("output.jpeg_quality must be between 1 and 100")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "painting-cropper", "config.json")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
