package model

import "time"

// EmbeddingDimension is the fixed length of every stored embedding.
const EmbeddingDimension = 1536

type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeVideo    ContentType = "video"
	ContentTypeAudio    ContentType = "audio"
	ContentTypeKeyframe ContentType = "keyframe"
)

var validContentTypes = map[ContentType]struct{}{
	ContentTypeText:     {},
	ContentTypeImage:    {},
	ContentTypeVideo:    {},
	ContentTypeAudio:    {},
	ContentTypeKeyframe: {},
}

func (t ContentType) Valid() bool {
	_, ok := validContentTypes[t]
	return ok
}

// ContentRecord is one row of the content table.
type ContentRecord struct {
	ID           string                 `json:"id"`
	ContentType  ContentType            `json:"content_type"`
	Title        string                 `json:"title"`
	Description  string                 `json:"description"`
	CombinedText string                 `json:"combined_text"`
	Embedding    []float32              `json:"embedding,omitempty"`
	Metadata     map[string]interface{} `json:"metadata"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// Clone returns a copy that shares no slices with r. Metadata is copied shallowly.
func (r *ContentRecord) Clone() *ContentRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Embedding != nil {
		out.Embedding = make([]float32, len(r.Embedding))
		copy(out.Embedding, r.Embedding)
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

type ScoredRecord struct {
	ContentRecord
	Score float64 `json:"score"`
}

// RecordPatch lists the fields an update may replace. Nil fields are kept.
type RecordPatch struct {
	ContentType  *ContentType           `json:"content_type,omitempty"`
	Title        *string                `json:"title,omitempty"`
	Description  *string                `json:"description,omitempty"`
	CombinedText *string                `json:"combined_text,omitempty"`
	Embedding    []float32              `json:"embedding,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Apply merges the patch into a copy of r.
func (p RecordPatch) Apply(r *ContentRecord) *ContentRecord {
	out := r.Clone()
	if p.ContentType != nil {
		out.ContentType = *p.ContentType
	}
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.CombinedText != nil {
		out.CombinedText = *p.CombinedText
	}
	if p.Embedding != nil {
		out.Embedding = make([]float32, len(p.Embedding))
		copy(out.Embedding, p.Embedding)
	}
	if p.Metadata != nil {
		out.Metadata = p.Metadata
	}
	return out
}

type IndexInfo struct {
	Name    string `json:"name"`
	Column  string `json:"column"`
	Kind    string `json:"kind"`
	RowSpan int64  `json:"row_span"`
}

type IndexStatus struct {
	RowCount int64 `json:"row_count"`
	HasIndex bool  `json:"has_index"`
	MinRows  int64 `json:"min_rows"`
}
