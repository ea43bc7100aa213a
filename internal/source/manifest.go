package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/xxxsen/contentvec/internal/model"
)

const maxLineBytes = 16 << 20

// LineError is a manifest line that could not be decoded.
type LineError struct {
	Source string
	Line   int
	Err    error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Source, e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Manifest is the decoded content of one JSON-lines descriptor file.
type Manifest struct {
	Descriptors []model.Descriptor
	Errors      []*LineError
}

type kindProbe struct {
	Kind model.DescriptorKind `json:"kind"`
}

// DecodeManifest reads one descriptor per line. Blank lines are skipped and
// bad lines are reported without stopping the decode.
func DecodeManifest(name string, r io.Reader) (*Manifest, error) {
	out := &Manifest{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		desc, err := DecodeDescriptor(raw)
		if err != nil {
			out.Errors = append(out.Errors, &LineError{Source: name, Line: line, Err: err})
			continue
		}
		out.Descriptors = append(out.Descriptors, desc)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read manifest %s: %w", name, err)
	}
	return out, nil
}

// DecodeDescriptor decodes one tagged descriptor object.
func DecodeDescriptor(raw []byte) (model.Descriptor, error) {
	var probe kindProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}
	var desc model.Descriptor
	switch probe.Kind {
	case model.DescriptorKindMediaAsset:
		desc = &model.MediaAssetDescriptor{}
	case model.DescriptorKindTextDocument:
		desc = &model.TextDocumentDescriptor{}
	case model.DescriptorKindPayload:
		desc = &model.ContentPayload{}
	case "":
		return nil, fmt.Errorf("descriptor kind is required")
	default:
		return nil, fmt.Errorf("unsupported descriptor kind %q", probe.Kind)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(desc); err != nil {
		return nil, fmt.Errorf("decode %s descriptor: %w", probe.Kind, err)
	}
	return desc, nil
}
