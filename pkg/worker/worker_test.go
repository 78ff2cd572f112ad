package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/menta2k/painting-cropper/pkg/detection"
	"github.com/menta2k/painting-cropper/pkg/metadata"
	"github.com/menta2k/painting-cropper/pkg/processing"
	"github.com/menta2k/painting-cropper/pkg/types"
)

type fakeDetector struct {
	detections []types.Detection
	err        error
	delay      time.Duration
	closed     bool
}

func (f *fakeDetector) Detect(ctx context.Context, _ string, _ image.Image) ([]types.Detection, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.detections, f.err
}

func (f *fakeDetector) Close() error {
	f.closed = true
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeTestImage saves a width x height JPEG and returns its path
func writeTestImage(t *testing.T, dir, name string, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	path := filepath.Join(dir, name)
	if err := processing.NewProcessor().Save(img, path); err != nil {
		t.Fatal(err)
	}
	return path
}

func det(x1, y1, x2, y2, score float64) types.Detection {
	return types.Detection{Box: types.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}, Score: score}
}

func TestRunEndToEnd(t *testing.T) {
	src := t.TempDir()
	imgPath := writeTestImage(t, src, "Degas_7.jpg", 100, 100)
	tempDir := filepath.Join(t.TempDir(), "Degas_7_temp")

	fd := &fakeDetector{detections: []types.Detection{
		det(0, 0, 50, 50, 0.9),
		det(5, 5, 55, 55, 0.8),
	}}
	w := New(StaticLoader(fd), DefaultOptions(), quietLogger())

	res, err := w.Run(context.Background(), imgPath, tempDir)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != StateDone || res.Count != 1 {
		t.Fatalf("Expected DONE with 1 crop, got %s with %d", res.State, res.Count)
	}
	if !fd.closed {
		t.Error("Expected detector to be closed")
	}

	want := types.CropRecord{RelativeCropPath: "crops/Degas_7_frcnn_temp_crop0.jpg", X: 0, Y: 0, Width: 50, Height: 50, Score: 0.9}
	if res.Records[0] != want {
		t.Errorf("Expected %+v, got %+v", want, res.Records[0])
	}

	dims, err := processing.NewProcessor().Dimensions(filepath.Join(tempDir, want.RelativeCropPath))
	if err != nil {
		t.Fatalf("Crop not written: %v", err)
	}
	if dims.Width != 50 || dims.Height != 50 {
		t.Errorf("Expected 50x50 crop, got %dx%d", dims.Width, dims.Height)
	}

	records, err := metadata.ReadFile(filepath.Join(tempDir, metadata.FRCNNFile), true, quietLogger())
	if err != nil {
		t.Fatalf("Metadata not readable: %v", err)
	}
	if len(records) != 1 || records[0] != want {
		t.Errorf("Metadata mismatch: %+v", records)
	}
}

func TestRunOutsideBoxWritesNoRow(t *testing.T) {
	imgPath := writeTestImage(t, t.TempDir(), "p_1.jpg", 100, 100)
	tempDir := t.TempDir()

	fd := &fakeDetector{detections: []types.Detection{det(200, 200, 250, 250, 0.95)}}
	res, err := New(StaticLoader(fd), DefaultOptions(), quietLogger()).Run(context.Background(), imgPath, tempDir)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != StateDone || res.Count != 0 {
		t.Errorf("Expected DONE with 0 crops, got %s with %d", res.State, res.Count)
	}

	data, err := os.ReadFile(filepath.Join(tempDir, metadata.FRCNNFile))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(string(data), "\n") != 1 {
		t.Errorf("Expected header only, got %q", data)
	}
}

func TestRunZeroAboveThreshold(t *testing.T) {
	imgPath := writeTestImage(t, t.TempDir(), "p_2.jpg", 60, 60)
	tempDir := t.TempDir()

	fd := &fakeDetector{detections: []types.Detection{det(0, 0, 10, 10, 0.5), det(0, 0, 20, 20, 0.1)}}
	res, err := New(StaticLoader(fd), DefaultOptions(), quietLogger()).Run(context.Background(), imgPath, tempDir)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != StateDone || res.Count != 0 {
		t.Errorf("Expected DONE with 0, got %s with %d", res.State, res.Count)
	}
	if _, err := os.Stat(filepath.Join(tempDir, metadata.FRCNNFile)); err != nil {
		t.Errorf("Expected header-only metadata file: %v", err)
	}
}

func TestRunFailures(t *testing.T) {
	src := t.TempDir()
	imgPath := writeTestImage(t, src, "ok_3.jpg", 40, 40)

	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		loader    Loader
		imagePath string
		tempDir   string
		state     State
	}{
		{
			name:    "no image",
			loader:  StaticLoader(&fakeDetector{}),
			tempDir: t.TempDir(),
			state:   StateInit,
		},
		{
			name:      "temp dir not creatable",
			loader:    StaticLoader(&fakeDetector{}),
			imagePath: imgPath,
			tempDir:   filepath.Join(blocker, "sub"),
			state:     StateInit,
		},
		{
			name: "model load fails",
			loader: func(context.Context) (detection.Detector, error) {
				return nil, errors.New("out of memory")
			},
			imagePath: imgPath,
			tempDir:   t.TempDir(),
			state:     StateLoadingModel,
		},
		{
			name:      "missing image",
			loader:    StaticLoader(&fakeDetector{}),
			imagePath: filepath.Join(src, "missing_4.jpg"),
			tempDir:   t.TempDir(),
			state:     StateReadingImage,
		},
		{
			name:      "detector error",
			loader:    StaticLoader(&fakeDetector{err: errors.New("cuda error")}),
			imagePath: imgPath,
			tempDir:   t.TempDir(),
			state:     StateDetecting,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := New(tt.loader, DefaultOptions(), quietLogger()).Run(context.Background(), tt.imagePath, tt.tempDir)
			if err == nil {
				t.Fatal("Expected error")
			}
			if res.State != StateFailed || res.Count != 0 {
				t.Errorf("Expected FAILED with 0, got %s with %d", res.State, res.Count)
			}
			var se *StageError
			if !errors.As(err, &se) {
				t.Fatalf("Expected *StageError, got %T", err)
			}
			if se.State != tt.state {
				t.Errorf("Expected failure in %s, got %s", tt.state, se.State)
			}
		})
	}
}

func TestRunTimeoutFails(t *testing.T) {
	imgPath := writeTestImage(t, t.TempDir(), "slow_5.jpg", 40, 40)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	fd := &fakeDetector{delay: 5 * time.Second, detections: []types.Detection{det(0, 0, 10, 10, 0.9)}}
	res, err := New(StaticLoader(fd), DefaultOptions(), quietLogger()).Run(ctx, imgPath, t.TempDir())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline error, got %v", err)
	}
	if res.State != StateFailed {
		t.Errorf("Expected FAILED, got %s", res.State)
	}
	if !fd.closed {
		t.Error("Expected detector to be closed after a timeout")
	}
}

func TestRunDebugOverlay(t *testing.T) {
	imgPath := writeTestImage(t, t.TempDir(), "dbg_6.jpg", 80, 80)
	tempDir := t.TempDir()

	opts := DefaultOptions()
	opts.Debug = true
	fd := &fakeDetector{detections: []types.Detection{det(10, 10, 40, 40, 0.9)}}
	if _, err := New(StaticLoader(fd), opts, quietLogger()).Run(context.Background(), imgPath, tempDir); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, DebugOverlayFile)); err != nil {
		t.Errorf("Expected debug overlay: %v", err)
	}
}

func TestReport(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Report(&out, &errOut, Result{State: StateDone, Count: 7}, nil)
	if code != ExitDone || out.String() != "7\n" || errOut.Len() != 0 {
		t.Errorf("DONE: code %d, stdout %q, stderr %q", code, out.String(), errOut.String())
	}

	out.Reset()
	errOut.Reset()
	code = Report(&out, &errOut, Result{State: StateDone}, nil)
	if code != ExitDone || out.String() != "0\n" {
		t.Errorf("zero result: code %d, stdout %q", code, out.String())
	}

	out.Reset()
	errOut.Reset()
	failErr := &StageError{State: StateLoadingModel, Cause: errors.New("weights missing")}
	code = Report(&out, &errOut, Result{State: StateFailed}, failErr)
	if code != ExitFailed || out.String() != "0\n" {
		t.Errorf("FAILED: code %d, stdout %q", code, out.String())
	}
	if !strings.Contains(errOut.String(), "LOADING_MODEL: weights missing") {
		t.Errorf("Expected diagnostic on stderr, got %q", errOut.String())
	}
}

func TestReportNonTerminalState(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Report(&out, &errOut, Result{State: StateDetecting, Count: 3}, nil)
	if code != ExitFailed || out.String() != "0\n" {
		t.Errorf("Expected failure with 0 on stdout, got code=%d out=%q", code, out.String())
	}
	if !strings.Contains(errOut.String(), "non-terminal state DETECTING") {
		t.Errorf("Unexpected diagnostic %q", errOut.String())
	}
}

func TestStateString(t *testing.T) {
	if StateMaterializing.String() != "MATERIALIZING" || StateFailed.String() != "FAILED" {
		t.Error("Unexpected state names")
	}
	if State(42).String() != "State(42)" {
		t.Errorf("Unexpected name for unknown state: %s", State(42))
	}
	if !StateDone.Terminal() || StateFiltering.Terminal() {
		t.Error("Unexpected Terminal result")
	}
}
