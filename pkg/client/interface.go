package client

import (
	"context"

	"github.com/menta2k/painting-cropper/pkg/types"
)

// VisionClient is a vision-language model backend able to propose regions
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	ProposeRegions(ctx context.Context, model, prompt, imgB64 string) (*types.ProposalResponse, error)
}
