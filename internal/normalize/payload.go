package normalize

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/xxxsen/contentvec/internal/model"
	appErr "github.com/xxxsen/contentvec/internal/pkg/errors"
)

func normalizePayload(p *model.ContentPayload) (*Result, error) {
	contentType := p.ContentType
	if contentType == "" {
		contentType = model.ContentTypeText
	}
	if !contentType.Valid() {
		return nil, appErr.Invalid("content_type", "unknown value %q", p.ContentType)
	}
	var f fragments
	f.add(p.Title, p.Description, p.ContentText)

	meta := copyMap(p.Metadata)
	if len(p.References) > 0 {
		meta["references"] = jsonValue(p.References)
	}
	return &Result{
		ID:           p.ID,
		ContentType:  contentType,
		Title:        strings.TrimSpace(p.Title),
		Description:  strings.TrimSpace(p.Description),
		CombinedText: f.join(),
		Metadata:     meta,
	}, nil
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in)+4)
	for k, v := range in {
		out[k] = jsonValue(v)
	}
	return out
}

// jsonValue converts v to the generic form a JSON round trip produces, so
// metadata compares equal before and after storage.
func jsonValue(v interface{}) interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return v
	}
	return out
}
