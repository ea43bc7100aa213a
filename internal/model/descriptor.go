package model

type DescriptorKind string

const (
	DescriptorKindMediaAsset   DescriptorKind = "media_asset"
	DescriptorKindTextDocument DescriptorKind = "text_document"
	DescriptorKindPayload      DescriptorKind = "payload"
)

// Descriptor is the source-defined input to normalization. The set of
// implementations is closed: MediaAssetDescriptor, TextDocumentDescriptor
// and ContentPayload.
type Descriptor interface {
	DescriptorID() string
	Kind() DescriptorKind
}

// LabelSet holds the five AI label categories shared by assets, overall
// summaries and keyframes.
type LabelSet struct {
	Scenes  []string `json:"scenes,omitempty"`
	Objects []string `json:"objects,omitempty"`
	Style   []string `json:"style,omitempty"`
	Mood    []string `json:"mood,omitempty"`
	Themes  []string `json:"themes,omitempty"`
}

func (l LabelSet) IsZero() bool {
	return len(l.Scenes) == 0 && len(l.Objects) == 0 && len(l.Style) == 0 &&
		len(l.Mood) == 0 && len(l.Themes) == 0
}

type ScoredLabel struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type OverallAnalysis struct {
	Summary string `json:"summary,omitempty"`
	LabelSet
}

type KeyframeAnalysis struct {
	Timestamp   float64 `json:"timestamp"`
	Description string  `json:"description,omitempty"`
	LabelSet
}

type SegmentAnalysis struct {
	Overall   *OverallAnalysis   `json:"overall,omitempty"`
	Keyframes []KeyframeAnalysis `json:"keyframes,omitempty"`
}

type MediaAssetDescriptor struct {
	ID          string      `json:"id"`
	ContentType ContentType `json:"content_type"`
	Title       string      `json:"title"`
	Filename    string      `json:"filename"`
	Description string      `json:"description,omitempty"`
	Labels      LabelSet    `json:"ai_labels"`
	// ConfidenceLabels maps a category name to scored labels.
	ConfidenceLabels map[string][]ScoredLabel `json:"confidence_labels,omitempty"`
	Analysis         *SegmentAnalysis         `json:"analysis,omitempty"`
	Lyrics           string                   `json:"lyrics,omitempty"`
	Prompt           string                   `json:"prompt,omitempty"`
	Duration         float64                  `json:"duration,omitempty"`
	// Extra is kept verbatim in the record metadata.
	Extra map[string]interface{} `json:"metadata,omitempty"`
}

func (d *MediaAssetDescriptor) DescriptorID() string {
	if d == nil {
		return ""
	}
	return d.ID
}
func (d *MediaAssetDescriptor) Kind() DescriptorKind { return DescriptorKindMediaAsset }

type TextDocumentDescriptor struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	Slug        string                 `json:"slug,omitempty"`
	Body        string                 `json:"body"`
	Tags        []string               `json:"tags,omitempty"`
	Frontmatter map[string]interface{} `json:"frontmatter,omitempty"`
}

func (d *TextDocumentDescriptor) DescriptorID() string {
	if d == nil {
		return ""
	}
	return d.ID
}
func (d *TextDocumentDescriptor) Kind() DescriptorKind { return DescriptorKindTextDocument }

// ContentPayload is a pre-assembled record submitted over HTTP.
type ContentPayload struct {
	ID          string                 `json:"id"`
	ContentType ContentType            `json:"content_type"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	ContentText string                 `json:"content_text"`
	References  []interface{}          `json:"references,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

func (d *ContentPayload) DescriptorID() string {
	if d == nil {
		return ""
	}
	return d.ID
}
func (d *ContentPayload) Kind() DescriptorKind { return DescriptorKindPayload }
