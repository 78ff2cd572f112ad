package detection

import (
	"fmt"
	"strings"

	"github.com/menta2k/painting-cropper/pkg/llamacpp"
	"github.com/menta2k/painting-cropper/pkg/ollama"
	"github.com/menta2k/painting-cropper/pkg/onnx"
)

// Supported backends
const (
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
	BackendONNX     = "onnx"
	BackendSidecar  = "sidecar"
)

// Options selects and configures a detector backend
type Options struct {
	Backend string
	Model   string
	URL     string
	Send    SendOptions
	ONNX    onnx.Config
}

// New builds the detector for opts.Backend
func New(opts Options) (Detector, error) {
	switch strings.ToLower(opts.Backend) {
	case BackendOllama:
		c, err := ollama.NewClient(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return NewVisionDetector(c, opts.Model, opts.Send), nil
	case BackendLlamaCpp:
		c, err := llamacpp.NewClient(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return NewVisionDetector(c, opts.Model, opts.Send), nil
	case BackendONNX:
		d, err := onnx.New(opts.ONNX)
		if err != nil {
			return nil, err
		}
		return d, nil
	case BackendSidecar:
		return NewSidecarDetector(), nil
	default:
		return nil, fmt.Errorf("unknown detector backend %q", opts.Backend)
	}
}
