package cropper

import (
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/menta2k/painting-cropper/pkg/naming"
	"github.com/menta2k/painting-cropper/pkg/processing"
	"github.com/menta2k/painting-cropper/pkg/types"
)

// createTestImage creates a simple test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	// Create a pattern with some high-contrast areas
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{64, 64, 64, 255})
			}
		}
	}

	return img
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func proposal(index int, x1, y1, x2, y2, score float64) types.AcceptedProposal {
	return types.AcceptedProposal{
		Detection: types.Detection{Box: types.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}, Score: score},
		Index:     index,
	}
}

func TestMaterializeHugeBox(t *testing.T) {
	m := New(quietLogger())
	dir := t.TempDir()

	records := m.Materialize(createTestImage(100, 100), []types.AcceptedProposal{
		proposal(0, 10, 10, 1e30, 1e30, 0.9),
	}, naming.WorkerNaming("p"), dir)

	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	want := types.CropRecord{RelativeCropPath: "crops/p_frcnn_temp_crop0.jpg", X: 10, Y: 10, Width: 90, Height: 90, Score: 0.9}
	if records[0] != want {
		t.Errorf("Expected %+v, got %+v", want, records[0])
	}
}

func TestMaterialize(t *testing.T) {
	m := New(quietLogger())
	dir := t.TempDir()
	img := createTestImage(100, 100)

	records := m.Materialize(img, []types.AcceptedProposal{
		proposal(0, 0, 0, 50, 50, 0.9),
		proposal(1, 60, 60, 90, 90, 0.7),
	}, naming.WorkerNaming("p"), dir)

	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}

	want := []types.CropRecord{
		{RelativeCropPath: "crops/p_frcnn_temp_crop0.jpg", X: 0, Y: 0, Width: 50, Height: 50, Score: 0.9},
		{RelativeCropPath: "crops/p_frcnn_temp_crop1.jpg", X: 60, Y: 60, Width: 30, Height: 30, Score: 0.7},
	}
	for i := range want {
		if records[i] != want[i] {
			t.Errorf("Record %d: expected %+v, got %+v", i, want[i], records[i])
		}
	}

	p := processing.NewProcessor()
	for _, r := range records {
		dims, err := p.Dimensions(filepath.Join(dir, r.RelativeCropPath))
		if err != nil {
			t.Fatalf("Crop file %s not readable: %v", r.RelativeCropPath, err)
		}
		if dims.Width != r.Width || dims.Height != r.Height {
			t.Errorf("%s: file is %dx%d, record says %dx%d",
				r.RelativeCropPath, dims.Width, dims.Height, r.Width, r.Height)
		}
	}
}

func TestMaterializeClampsPartialBoxes(t *testing.T) {
	m := New(quietLogger())
	dir := t.TempDir()

	records := m.Materialize(createTestImage(100, 80), []types.AcceptedProposal{
		proposal(0, -10.7, -5, 120, 40.9, 0.8),
	}, naming.WorkerNaming("q"), dir)

	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.X != 0 || r.Y != 0 || r.Width != 100 || r.Height != 40 {
		t.Errorf("Expected clamped box 0,0 100x40, got %+v", r)
	}
}

func TestMaterializeSkipsOutsideAndInverted(t *testing.T) {
	m := New(quietLogger())
	dir := t.TempDir()

	records := m.Materialize(createTestImage(100, 100), []types.AcceptedProposal{
		proposal(0, 150, 150, 200, 200, 0.9),
		proposal(1, 50, 50, 10, 10, 0.8),
		proposal(2, 10, 10, 20, 20, 0.7),
	}, naming.WorkerNaming("r"), dir)

	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].RelativeCropPath != "crops/r_frcnn_temp_crop2.jpg" {
		t.Errorf("Expected index 2 to keep its name, got %s", records[0].RelativeCropPath)
	}

	entries, err := os.ReadDir(filepath.Join(dir, naming.CropsDir))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected exactly one crop file, found %d", len(entries))
	}
}

func TestMaterializeWriteFailure(t *testing.T) {
	m := New(quietLogger())
	dir := t.TempDir()

	// a regular file where the crops directory should be
	if err := os.WriteFile(filepath.Join(dir, naming.CropsDir), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	records := m.Materialize(createTestImage(40, 40), []types.AcceptedProposal{
		proposal(0, 0, 0, 20, 20, 0.9),
	}, naming.WorkerNaming("s"), dir)

	if len(records) != 0 {
		t.Errorf("Expected failed writes to be skipped, got %+v", records)
	}
}

func TestMaterializeEmpty(t *testing.T) {
	records := New(quietLogger()).Materialize(createTestImage(10, 10), nil, naming.WorkerNaming("e"), t.TempDir())
	if records == nil || len(records) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", records)
	}
}

func BenchmarkMaterialize(b *testing.B) {
	m := New(quietLogger())
	dir := b.TempDir()
	img := createTestImage(1920, 1080)
	props := []types.AcceptedProposal{
		proposal(0, 100, 100, 900, 700, 0.9),
		proposal(1, 1000, 200, 1800, 1000, 0.8),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Materialize(img, props, naming.WorkerNaming("bench"), dir)
	}
}
