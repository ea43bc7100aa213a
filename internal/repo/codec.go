package repo

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/xxxsen/contentvec/internal/model"
)

var contentColumns = []string{
	"id", "content_type", "title", "description", "combined_text",
	"embedding", "metadata", "created_at", "updated_at",
}

// encodeEmbedding stores float32 values little-endian without a length
// prefix. The length is derived from the blob size.
func encodeEmbedding(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

func encodeMetadata(m map[string]interface{}) (string, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(raw), nil
}

// decodeMetadata keeps numbers as json.Number so integers and floats come
// back exactly as they were written.
func decodeMetadata(s string) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if s == "" {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// rowValues builds the column map shared by both backends. The embedding
// value is backend specific.
func rowValues(r *model.ContentRecord, embedding interface{}) (map[string]interface{}, error) {
	meta, err := encodeMetadata(r.Metadata)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"id":            r.ID,
		"content_type":  string(r.ContentType),
		"title":         r.Title,
		"description":   r.Description,
		"combined_text": r.CombinedText,
		"embedding":     embedding,
		"metadata":      meta,
		"created_at":    formatTime(r.CreatedAt),
		"updated_at":    formatTime(r.UpdatedAt),
	}, nil
}

// scannedRow holds the raw column values shared by both backends.
type scannedRow struct {
	id           string
	contentType  string
	title        string
	description  string
	combinedText string
	metadata     string
	createdAt    string
	updatedAt    string
}

func (s *scannedRow) dest(embedding interface{}) []interface{} {
	return []interface{}{
		&s.id, &s.contentType, &s.title, &s.description, &s.combinedText,
		embedding, &s.metadata, &s.createdAt, &s.updatedAt,
	}
}

func (s *scannedRow) record(embedding []float32) (*model.ContentRecord, error) {
	meta, err := decodeMetadata(s.metadata)
	if err != nil {
		return nil, err
	}
	created, err := parseTime(s.createdAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(s.updatedAt)
	if err != nil {
		return nil, err
	}
	return &model.ContentRecord{
		ID:           s.id,
		ContentType:  model.ContentType(s.contentType),
		Title:        s.title,
		Description:  s.description,
		CombinedText: s.combinedText,
		Embedding:    embedding,
		Metadata:     meta,
		CreatedAt:    created,
		UpdatedAt:    updated,
	}, nil
}

func contentTypeArgs(types []model.ContentType) []interface{} {
	out := make([]interface{}, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}
