package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/menta2k/painting-cropper/pkg/types"
)

// ErrInvalidBox is returned by ValidateStrict for rows whose coordinates
// do not describe a non-empty rectangle inside the image.
var ErrInvalidBox = errors.New("invalid crop coordinates")

// coordLimit bounds converted coordinates so widths computed from them
// cannot overflow.
const coordLimit = 1 << 30

// ToPixels truncates a detector box to integer pixel coordinates. Values
// beyond +-coordLimit saturate and NaN becomes 0, so Clamp sees an ordinary
// box it can cut down to the image.
func ToPixels(b types.Box) types.PixelBox {
	return types.PixelBox{
		X1: toPixel(b.X1),
		Y1: toPixel(b.Y1),
		X2: toPixel(b.X2),
		Y2: toPixel(b.Y2),
	}
}

func toPixel(v float64) int {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= coordLimit:
		return coordLimit
	case v <= -coordLimit:
		return -coordLimit
	}
	return int(v)
}

// Clamp limits a box to the image bounds. It reports false when the clamped
// box is empty, which happens for boxes entirely outside the image or with
// inverted coordinates.
func Clamp(b types.PixelBox, dims types.ImageDimensions) (types.PixelBox, bool) {
	c := types.PixelBox{
		X1: max(0, b.X1),
		Y1: max(0, b.Y1),
		X2: min(dims.Width, b.X2),
		Y2: min(dims.Height, b.Y2),
	}
	if c.Width() <= 0 || c.Height() <= 0 {
		return types.PixelBox{}, false
	}
	return c, true
}

// ValidateStrict checks unclamped coordinates against the image, requiring
// 0 <= y1 < y2 <= height and 0 <= x1 < x2 <= width.
func ValidateStrict(b types.PixelBox, dims types.ImageDimensions) error {
	if 0 <= b.Y1 && b.Y1 < b.Y2 && b.Y2 <= dims.Height &&
		0 <= b.X1 && b.X1 < b.X2 && b.X2 <= dims.Width {
		return nil
	}
	return fmt.Errorf("%w: (%d,%d)-(%d,%d) for image size %dx%d",
		ErrInvalidBox, b.X1, b.Y1, b.X2, b.Y2, dims.Width, dims.Height)
}
