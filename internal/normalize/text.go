package normalize

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/xxxsen/contentvec/internal/model"
)

var (
	frontmatterRe = regexp.MustCompile(`(?s)\A\s*---\r?\n(.*?)\r?\n---\s*(?:\r?\n|\z)`)
	mdxStatement  = regexp.MustCompile(`(?m)^\s*(?:import\s.+\sfrom\s.+|import\s+['"].+|export\s+(?:const|default|function|let|var)\b.*)$`)
	jsxTag        = regexp.MustCompile(`</?[A-Za-z][A-Za-z0-9.:_-]*(?:\s[^<>]*)?/?>`)
	jsxExpression = regexp.MustCompile(`\{[^{}\n]*\}`)
	markChars     = regexp.MustCompile("[*_~`#>|]+")
)

func normalizeText(d *model.TextDocumentDescriptor) (*Result, error) {
	body, parsed := splitFrontmatter(d.Body)
	front := d.Frontmatter
	if front == nil {
		front = parsed
	}
	title := firstNonEmpty(d.Title, stringField(front, "title"))
	description := firstNonEmpty(d.Description, stringField(front, "description"))
	tags := d.Tags
	if len(tags) == 0 {
		tags = stringsField(front, "tags")
	}

	var f fragments
	f.add(title, description, strings.Join(tags, " "), markdownText(body))

	meta := map[string]interface{}{
		"kind": string(model.DescriptorKindTextDocument),
	}
	if d.Slug != "" {
		meta["slug"] = d.Slug
	}
	if len(tags) > 0 {
		meta["tags"] = jsonValue(tags)
	}
	if len(front) > 0 {
		meta["frontmatter"] = jsonValue(front)
	}
	return &Result{
		ID:           d.ID,
		ContentType:  model.ContentTypeText,
		Title:        collapseSpaces(title),
		Description:  collapseSpaces(description),
		CombinedText: f.join(),
		Metadata:     meta,
	}, nil
}

// splitFrontmatter removes a leading YAML block. A block that does not parse
// is left in the body.
func splitFrontmatter(body string) (string, map[string]interface{}) {
	m := frontmatterRe.FindStringSubmatchIndex(body)
	if m == nil {
		return body, nil
	}
	out := map[string]interface{}{}
	if err := yaml.Unmarshal([]byte(body[m[2]:m[3]]), &out); err != nil {
		return body, nil
	}
	return body[m[1]:], out
}

// markdownText extracts the readable prose of a markdown or MDX body. Code,
// images, raw HTML and link targets are dropped; link text is kept.
func markdownText(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	body = mdxStatement.ReplaceAllString(body, "")
	body = jsxTag.ReplaceAllString(body, " ")
	src := []byte(body)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var sb strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.CodeSpan, *ast.Image,
			*ast.HTMLBlock, *ast.RawHTML, *ast.AutoLink:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				sb.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					sb.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				sb.Write(node.Value)
			}
		}
		if !entering && n.Type() == ast.TypeBlock {
			sb.WriteByte(' ')
		}
		return ast.WalkContinue, nil
	})
	out := jsxExpression.ReplaceAllString(sb.String(), " ")
	out = markChars.ReplaceAllString(out, " ")
	return collapseSpaces(out)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringsField(m map[string]interface{}, key string) []string {
	switch v := m[key].(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		return strings.FieldsFunc(v, func(r rune) bool { return r == ',' })
	}
	return nil
}
