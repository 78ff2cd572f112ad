//go:build onnx

package onnx

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/menta2k/painting-cropper/pkg/types"
)

// Detector owns an ONNX Runtime session. It is not safe for concurrent use;
// each worker process holds its own.
type Detector struct {
	cfg     Config
	session *ort.DynamicAdvancedSession
	mu      sync.Mutex
}

// New initializes the runtime environment and loads the model
func New(cfg Config) (*Detector, error) {
	cfg = cfg.withDefaults()
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx model path is required")
	}

	if cfg.SharedLibPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("error initializing ONNX environment: %w", err)
		}
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.BoxesName, cfg.ScoresName},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &Detector{cfg: cfg, session: session}, nil
}

// Detect runs the model and maps boxes back to source pixels
func (d *Detector) Detect(ctx context.Context, _ string, img image.Image) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	size := d.cfg.InputSize
	resized := imaging.Resize(img, size, size, imaging.Linear)

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(size), int64(size)), toCHW(resized, size))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	defer input.Destroy()

	// nil outputs are allocated by the runtime since N varies per image
	outputs := []ort.Value{nil, nil}
	if err := d.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	boxes, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected boxes output type %T", outputs[0])
	}
	scores, ok := outputs[1].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected scores output type %T", outputs[1])
	}

	b := img.Bounds()
	return decode(boxes.GetData(), scores.GetData(),
		float64(b.Dx())/float64(size), float64(b.Dy())/float64(size))
}

// Close releases the session and the runtime environment
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	return ort.DestroyEnvironment()
}

func toCHW(img *image.NRGBA, size int) []float32 {
	channelSize := size * size
	buffer := make([]float32, 3*channelSize)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := y*size + x
			p := y*img.Stride + x*4
			buffer[i] = float32(img.Pix[p]) / 255.0
			buffer[channelSize+i] = float32(img.Pix[p+1]) / 255.0
			buffer[channelSize*2+i] = float32(img.Pix[p+2]) / 255.0
		}
	}
	return buffer
}
