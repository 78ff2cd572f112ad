package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/menta2k/painting-cropper/pkg/types"
)

// SidecarSuffix is appended to an image path to find its detections file
const SidecarSuffix = ".detections.json"

// SidecarDetector reads detections precomputed by an external model. The
// file holds either {"proposals":[...]} or a bare array of detections, in
// source pixel coordinates.
type SidecarDetector struct{}

// NewSidecarDetector creates a SidecarDetector
func NewSidecarDetector() *SidecarDetector {
	return &SidecarDetector{}
}

// SidecarPath returns the detections file for an image
func SidecarPath(imagePath string) string {
	return imagePath + SidecarSuffix
}

// Detect loads <imagePath>.detections.json
func (d *SidecarDetector) Detect(ctx context.Context, imagePath string, _ image.Image) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := SidecarPath(imagePath)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read detections file: %w", err)
	}
	return ParseDetections(data)
}

// Close is a no-op
func (d *SidecarDetector) Close() error { return nil }

// ParseDetections decodes either JSON shape accepted by SidecarDetector
func ParseDetections(data []byte) ([]types.Detection, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return []types.Detection{}, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var dets []types.Detection
		if err := json.Unmarshal([]byte(trimmed), &dets); err != nil {
			return nil, fmt.Errorf("failed to parse detections: %w", err)
		}
		return dets, nil
	}

	var resp types.ProposalResponse
	if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse detections: %w", err)
	}
	if resp.Proposals == nil {
		return []types.Detection{}, nil
	}
	return resp.Proposals, nil
}
