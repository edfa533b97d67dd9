package models

// BookletOptions are the per-run settings of the booklet pipeline, as read
// from the command line or derived for an event-triggered run.
type BookletOptions struct {
	Layout Layout
	// SheetsPerSignature caps the sheets of one signature. Zero produces a
	// single signature holding the whole document.
	SheetsPerSignature int
	// BoxOverride is a user supplied box in "x1,y1,x2,y2" or "x,y+w,h" form.
	BoxOverride string
	// BoxPage selects the box of a single 1-based page. Zero disables it.
	BoxPage int
	// MedianBox aggregates page boxes by median instead of extrema.
	MedianBox  bool
	NoCrop     bool
	CropOnly   bool
	ExtraPages int
	NoGuides   bool
	LongArm    bool
	// OuterMarginMM and InnerMarginMM are nil when the layout default
	// applies.
	OuterMarginMM *int
	InnerMarginMM *int
}

// BookletRequest is a single pipeline run. Input and Output may be local
// paths or gs://bucket/object URIs. An empty Output means the result is
// only shown in the viewer.
type BookletRequest struct {
	Input  string `json:"input"`
	Output string `json:"output,omitempty"`
	View   bool   `json:"view,omitempty"`
	// Overwrite replaces an existing output. Without it an existing
	// gs:// output is left alone and the run reports it.
	Overwrite bool           `json:"overwrite,omitempty"`
	Options   BookletOptions `json:"-"`
}

// BookletResponse describes a finished run.
type BookletResponse struct {
	Status     string      `json:"status"`
	FileHash   string      `json:"fileHash"`
	PageCount  int         `json:"pageCount"`
	CropBox    BoundingBox `json:"cropBox"`
	Scale      float64     `json:"scale"`
	Sequence   string      `json:"sequence,omitempty"`
	OutputPath string      `json:"outputPath,omitempty"`
}
