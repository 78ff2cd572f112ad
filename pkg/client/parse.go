package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/menta2k/painting-cropper/pkg/types"
)

// ErrNoJSON is returned when a model reply contains no JSON object
var ErrNoJSON = errors.New("no JSON object in model response")

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInline   = regexp.MustCompile(`(?m)//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// ProposalPrompt asks a vision model for region proposals in the JSON shape
// ParseProposals understands
const ProposalPrompt = `You are a region proposal network for paintings.
Find up to %d rectangular regions that each contain one meaningful object or figure.
Reply with JSON only, no prose, in exactly this shape:
{"proposals":[{"box":{"x1":0.10,"y1":0.20,"x2":0.45,"y2":0.80},"score":0.93}]}
Coordinates are normalized to [0,1] relative to image width and height, (x1,y1) is the
top-left corner and (x2,y2) the bottom-right corner. score is your confidence in [0,1].`

// ParseProposals extracts a ProposalResponse from a raw model reply
func ParseProposals(raw string) (*types.ProposalResponse, error) {
	raw = SanitizeModelJSON(raw)
	if !strings.HasPrefix(raw, "{") {
		return nil, ErrNoJSON
	}

	var result types.ProposalResponse
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}
	if result.Proposals == nil {
		result.Proposals = []types.Detection{}
	}
	return &result, nil
}

// SanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reInline.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
