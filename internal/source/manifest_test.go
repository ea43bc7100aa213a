package source

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/contentvec/internal/model"
)

func TestDecodeManifest_AllKinds(t *testing.T) {
	input := strings.Join([]string{
		`{"kind":"media_asset","id":"m1","content_type":"image","title":"Sunset","filename":"sunset_01.jpg","ai_labels":{"scenes":["desert"]},"confidence_labels":{"objects":[{"label":"car","confidence":0.9}]},"metadata":{"bpm":120}}`,
		``,
		`{"kind":"text_document","id":"t1","title":"Post","body":"# Hello","tags":["go"]}`,
		`{"kind":"payload","id":"p1","content_type":"text","title":"P","content_text":"body","references":["r1"]}`,
	}, "\n")
	m, err := DecodeManifest("batch.jsonl", strings.NewReader(input))
	require.NoError(t, err)
	require.Empty(t, m.Errors)
	require.Len(t, m.Descriptors, 3)

	media, ok := m.Descriptors[0].(*model.MediaAssetDescriptor)
	require.True(t, ok)
	require.Equal(t, "m1", media.ID)
	require.Equal(t, []string{"desert"}, media.Labels.Scenes)
	require.InDelta(t, 0.9, media.ConfidenceLabels["objects"][0].Confidence, 1e-9)
	require.Equal(t, json.Number("120"), media.Extra["bpm"])

	text, ok := m.Descriptors[1].(*model.TextDocumentDescriptor)
	require.True(t, ok)
	require.Equal(t, []string{"go"}, text.Tags)

	payload, ok := m.Descriptors[2].(*model.ContentPayload)
	require.True(t, ok)
	require.Equal(t, model.DescriptorKindPayload, payload.Kind())
	require.Equal(t, "body", payload.ContentText)
}

func TestDecodeManifest_BadLines(t *testing.T) {
	input := "{\"kind\":\"payload\",\"id\":\"ok\",\"content_text\":\"x\"}\n" +
		"not json\n" +
		"{\"id\":\"nokind\"}\n" +
		"{\"kind\":\"spreadsheet\",\"id\":\"s\"}\n" +
		"{\"kind\":\"media_asset\",\"id\":7}\n"
	m, err := DecodeManifest("bad.jsonl", strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, m.Descriptors, 1)
	require.Len(t, m.Errors, 4)
	lines := []int{}
	for _, e := range m.Errors {
		lines = append(lines, e.Line)
		require.Contains(t, e.Error(), "bad.jsonl:")
	}
	require.Equal(t, []int{2, 3, 4, 5}, lines)
}
