package types

// Box is a detector box in pixel coordinates, as produced by the model.
// Coordinates may lie outside the image or be inverted.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns x2-x1, which may be negative for inverted boxes
func (b Box) Width() float64 { return b.X2 - b.X1 }

// Height returns y2-y1, which may be negative for inverted boxes
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area, or 0 for degenerate boxes
func (b Box) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// PixelBox is an integer box used for clamping and cropping
type PixelBox struct {
	X1 int
	Y1 int
	X2 int
	Y2 int
}

// Width returns x2-x1
func (b PixelBox) Width() int { return b.X2 - b.X1 }

// Height returns y2-y1
func (b PixelBox) Height() int { return b.Y2 - b.Y1 }

// Detection is one (box, score) pair returned by the external detector
type Detection struct {
	Box   Box     `json:"box"`
	Score float64 `json:"score"`
}

// AcceptedProposal is a detection that survived filtering. Index is its
// 0-based rank in the accepted list and ends up in crop filenames.
type AcceptedProposal struct {
	Detection
	Index int
}

// ImageDimensions holds the pixel size of a loaded image
type ImageDimensions struct {
	Width  int
	Height int
}

// CropRecord describes one crop written by a worker
type CropRecord struct {
	RelativeCropPath string
	X                int
	Y                int
	Width            int
	Height           int
	Score            float64
}

// CombinedRow is one row of the aggregate table shared with curation tools
type CombinedRow struct {
	OriginalFilename string
	CropIdx          int
	TopLeftX         int
	TopLeftY         int
	BottomRightX     int
	BottomRightY     int
	FRCNNSource      bool
	BINGSource       bool
	WrongFile        bool
}

// Rect returns the row's crop rectangle
func (r CombinedRow) Rect() PixelBox {
	return PixelBox{X1: r.TopLeftX, Y1: r.TopLeftY, X2: r.BottomRightX, Y2: r.BottomRightY}
}

// Identity is the artist/number triple parsed from a painting filename
type Identity struct {
	FirstName string
	LastName  string
	Num       string
}

// ProposalResponse is the JSON shape requested from vision-model backends.
// Boxes are normalized to [0,1].
type ProposalResponse struct {
	Proposals []Detection `json:"proposals"`
}
