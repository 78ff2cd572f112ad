package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/painting-cropper/pkg/types"
)

// Processor handles image decode, encode and pixel operations
type Processor struct {
	quality int
}

// NewProcessor creates a new image processor with JPEG quality 95
func NewProcessor() *Processor {
	return &Processor{quality: 95}
}

// NewProcessorWithQuality creates a processor writing JPEGs at the given quality
func NewProcessorWithQuality(quality int) *Processor {
	if quality < 1 || quality > 100 {
		quality = 95
	}
	return &Processor{quality: quality}
}

// Quality returns the JPEG quality used by Save
func (p *Processor) Quality() int {
	return p.quality
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	img, openErr := imaging.Open(path)
	if openErr == nil {
		return img, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Fallback: explicit WebP decode
	if strings.HasSuffix(strings.ToLower(path), ".webp") {
		if img, err := webp.Decode(f); err == nil {
			return img, nil
		}
	}
	return nil, fmt.Errorf("failed to decode image %s: %w", path, openErr)
}

// Dimensions reads only the image header to get its size
func (p *Processor) Dimensions(path string) (types.ImageDimensions, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.ImageDimensions{}, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return types.ImageDimensions{}, fmt.Errorf("failed to decode image config %s: %w", path, err)
	}
	return types.ImageDimensions{Width: cfg.Width, Height: cfg.Height}, nil
}

// DimensionsOf returns the size of a decoded image
func DimensionsOf(img image.Image) types.ImageDimensions {
	b := img.Bounds()
	return types.ImageDimensions{Width: b.Dx(), Height: b.Dy()}
}

// Crop extracts the [y1:y2, x1:x2] region. The box is relative to the
// image origin and must already be clamped.
func (p *Processor) Crop(img image.Image, box types.PixelBox) (image.Image, error) {
	origin := img.Bounds().Min
	rect := image.Rect(box.X1, box.Y1, box.X2, box.Y2).Add(origin).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("empty crop rectangle %v", rect)
	}
	return imaging.Crop(img, rect), nil
}

// Save writes an image, choosing the encoder from the file extension
func (p *Processor) Save(img image.Image, path string) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return p.SaveImage(img, path, ext, p.quality, false)
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// CreateDebugOverlay draws proposal boxes onto a copy of the image. Boxes
// are drawn in rank order, the best proposal in a distinct color.
func (p *Processor) CreateDebugOverlay(img image.Image, boxes []types.PixelBox) image.Image {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	green := color.NRGBA{0, 255, 0, 255} // best proposal
	gold := color.NRGBA{255, 204, 0, 255}
	stroke := int(math.Max(2, 0.004*float64(min(w, h)))) // ~0.4% of min side

	for i := len(boxes) - 1; i >= 0; i-- {
		c := gold
		if i == 0 {
			c = green
		}
		drawBox(nrgba, boxes[i], c, stroke)
	}
	return nrgba
}

func drawBox(img *image.NRGBA, b types.PixelBox, c color.NRGBA, stroke int) {
	x0, y0, x1, y1 := b.X1, b.Y1, b.X2, b.Y2
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	x0 = max(x0, 0)
	x1 = min(x1, img.Bounds().Dx())
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	y0 = max(y0, 0)
	y1 = min(y1, img.Bounds().Dy())
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
