package onnx

import (
	"fmt"

	"github.com/menta2k/painting-cropper/pkg/types"
)

// decode turns flat boxes [N*4] and scores [N] into detections, scaling
// from model input pixels to source pixels
func decode(boxes, scores []float32, scaleX, scaleY float64) ([]types.Detection, error) {
	if len(boxes) != 4*len(scores) {
		return nil, fmt.Errorf("unexpected output sizes: %d boxes values for %d scores", len(boxes), len(scores))
	}

	out := make([]types.Detection, 0, len(scores))
	for i, s := range scores {
		b := boxes[i*4 : i*4+4]
		out = append(out, types.Detection{
			Box: types.Box{
				X1: float64(b[0]) * scaleX,
				Y1: float64(b[1]) * scaleY,
				X2: float64(b[2]) * scaleX,
				Y2: float64(b[3]) * scaleY,
			},
			Score: float64(s),
		})
	}
	return out, nil
}
