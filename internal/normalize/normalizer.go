package normalize

import (
	"fmt"
	"strings"

	"github.com/xxxsen/contentvec/internal/model"
	appErr "github.com/xxxsen/contentvec/internal/pkg/errors"
)

// HighConfidenceThreshold is the minimum score for a confidence-scored label
// to be included in the combined text.
const HighConfidenceThreshold = 0.7

// Result is the searchable view of one descriptor.
type Result struct {
	ID           string
	ContentType  model.ContentType
	Title        string
	Description  string
	CombinedText string
	Metadata     map[string]interface{}
}

// Normalize flattens a descriptor into deduplicated searchable text plus the
// structured metadata kept alongside it.
func Normalize(desc model.Descriptor) (*Result, error) {
	if desc == nil {
		return nil, appErr.Invalid("descriptor", "is nil")
	}
	if strings.TrimSpace(desc.DescriptorID()) == "" {
		return nil, appErr.Invalid("id", "is required")
	}
	var (
		res *Result
		err error
	)
	switch d := desc.(type) {
	case *model.MediaAssetDescriptor:
		res, err = normalizeMedia(d)
	case *model.TextDocumentDescriptor:
		res, err = normalizeText(d)
	case *model.ContentPayload:
		res, err = normalizePayload(d)
	default:
		return nil, appErr.Invalid("kind", "unsupported descriptor %T", desc)
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.CombinedText) == "" {
		return nil, &appErr.ContentEmptyError{DescriptorID: desc.DescriptorID()}
	}
	return res, nil
}

// fragments collects text pieces in source order.
type fragments struct {
	items []string
}

func (f *fragments) add(values ...string) {
	for _, v := range values {
		v = collapseSpaces(v)
		if v == "" {
			continue
		}
		f.items = append(f.items, v)
	}
}

func (f *fragments) addf(format string, args ...interface{}) {
	f.add(fmt.Sprintf(format, args...))
}

func (f *fragments) join() string {
	return strings.Join(dedupe(f.items), " ")
}

// dedupe drops fragments equal to an earlier one, keeping first-seen order.
func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
