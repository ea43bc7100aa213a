package normalize

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/xxxsen/contentvec/internal/model"
	appErr "github.com/xxxsen/contentvec/internal/pkg/errors"
)

var labelCategories = []string{"scenes", "objects", "style", "mood", "themes"}

func normalizeMedia(d *model.MediaAssetDescriptor) (*Result, error) {
	contentType := d.ContentType
	if contentType == "" {
		contentType = inferMediaType(d.Filename)
	}
	if !contentType.Valid() || contentType == model.ContentTypeText {
		return nil, appErr.Invalid("content_type", "%q is not a media type", d.ContentType)
	}

	var f fragments
	f.add(d.Title, filenameText(d.Filename), d.Description)
	addLabelSet(&f, d.Labels)
	highConfidence := map[string][]string{}
	for _, category := range confidenceCategories(d.ConfidenceLabels) {
		for _, label := range d.ConfidenceLabels[category] {
			name := strings.TrimSpace(label.Label)
			if name == "" || label.Confidence < HighConfidenceThreshold {
				continue
			}
			f.addf("high-confidence-%s: %s", category, name)
			highConfidence[category] = append(highConfidence[category], name)
		}
	}
	if a := d.Analysis; a != nil {
		if a.Overall != nil {
			f.add(a.Overall.Summary)
			addLabelSet(&f, a.Overall.LabelSet)
		}
		for _, kf := range a.Keyframes {
			f.add(kf.Description)
			addLabelSet(&f, kf.LabelSet)
		}
	}
	f.add(d.Lyrics, d.Prompt)

	meta := copyMap(d.Extra)
	meta["kind"] = string(model.DescriptorKindMediaAsset)
	if d.Filename != "" {
		meta["filename"] = d.Filename
	}
	if !d.Labels.IsZero() {
		meta["ai_labels"] = jsonValue(d.Labels)
	}
	if len(highConfidence) > 0 {
		meta["high_confidence_labels"] = jsonValue(highConfidence)
	}
	if d.Analysis != nil {
		meta["analysis"] = jsonValue(d.Analysis)
		meta["keyframe_count"] = jsonValue(len(d.Analysis.Keyframes))
	}
	if d.Duration > 0 {
		meta["duration"] = jsonValue(d.Duration)
	}
	return &Result{
		ID:           d.ID,
		ContentType:  contentType,
		Title:        strings.TrimSpace(d.Title),
		Description:  strings.TrimSpace(d.Description),
		CombinedText: f.join(),
		Metadata:     meta,
	}, nil
}

func addLabelSet(f *fragments, l model.LabelSet) {
	f.add(l.Scenes...)
	f.add(l.Objects...)
	f.add(l.Style...)
	f.add(l.Mood...)
	f.add(l.Themes...)
}

// confidenceCategories returns the known categories first, then any extra
// ones sorted so output does not depend on map order.
func confidenceCategories(labels map[string][]model.ScoredLabel) []string {
	if len(labels) == 0 {
		return nil
	}
	out := make([]string, 0, len(labels))
	known := make(map[string]struct{}, len(labelCategories))
	for _, c := range labelCategories {
		known[c] = struct{}{}
		if _, ok := labels[c]; ok {
			out = append(out, c)
		}
	}
	var extra []string
	for c := range labels {
		if _, ok := known[c]; !ok {
			extra = append(extra, c)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func filenameText(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == "/" || base == "" {
		return ""
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(base)
}

func inferMediaType(filename string) model.ContentType {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp4", ".mov", ".webm", ".mkv", ".avi":
		return model.ContentTypeVideo
	case ".mp3", ".wav", ".flac", ".ogg", ".m4a", ".aac":
		return model.ContentTypeAudio
	default:
		return model.ContentTypeImage
	}
}
