// Package parser extracts frontmatter, tags, and fenced code blocks from Markdown content.
package parser

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	tagRe   = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
	fenceRe = regexp.MustCompile("^\\s*```\\s*([A-Za-z0-9_+.-]*)\\s*$")
)

// Block is one fenced code block. Raw keeps the fence lines.
type Block struct {
	Lang string
	Raw  string
	Line int
}

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	Tags        []string
	Title       string
	// Lead is the first prose paragraph of the body.
	Lead   string
	Blocks []Block
}

// Parse extracts frontmatter, body, tags, and code blocks from raw Markdown bytes.
func Parse(data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	blocks := extractBlocks(body)
	prose := stripBlocks(body, blocks)

	return &Result{
		Frontmatter: fm,
		Body:        body,
		Tags:        extractTags(prose, fm),
		Title:       deriveTitle(fm, prose),
		Lead:        leadParagraph(prose),
		Blocks:      blocks,
	}, nil
}

// String returns the trimmed string value of a frontmatter key.
func (r *Result) String(key string) string {
	if r.Frontmatter == nil {
		return ""
	}
	s, _ := r.Frontmatter[key].(string)
	return strings.TrimSpace(s)
}

// FirstBlock returns the first block whose language is one of langs, or any
// untagged block when none matches.
func (r *Result) FirstBlock(langs ...string) (Block, bool) {
	var untagged *Block
	for i, b := range r.Blocks {
		for _, l := range langs {
			if strings.EqualFold(b.Lang, l) {
				return b, true
			}
		}
		if b.Lang == "" && untagged == nil {
			untagged = &r.Blocks[i]
		}
	}
	if untagged != nil {
		return *untagged, true
	}
	return Block{}, false
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// No closing delimiter, treat everything as body.
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, string(data), nil
	}

	return fm, body, nil
}

// extractBlocks returns closed fenced blocks in document order. An opening
// fence without a matching close is ignored.
func extractBlocks(body string) []Block {
	lines := strings.Split(body, "\n")
	var out []Block
	for i := 0; i < len(lines); i++ {
		m := fenceRe.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == "```" {
				out = append(out, Block{
					Lang: m[1],
					Raw:  strings.Join(lines[i:j+1], "\n"),
					Line: i + 1,
				})
				i = j
				break
			}
		}
	}
	return out
}

func stripBlocks(body string, blocks []Block) string {
	for _, b := range blocks {
		body = strings.Replace(body, b.Raw, "", 1)
	}
	return body
}

// extractTags collects #tags from prose and from the frontmatter "tags" field.
func extractTags(prose string, fm map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string

	if fm != nil {
		if raw, ok := fm["tags"].([]interface{}); ok {
			for _, item := range raw {
				if s, ok := item.(string); ok {
					s = strings.TrimSpace(s)
					if s != "" {
						if _, dup := seen[s]; !dup {
							seen[s] = struct{}{}
							out = append(out, s)
						}
					}
				}
			}
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(prose, -1) {
		t := m[1]
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}

	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]interface{}, prose string) string {
	if fm != nil {
		if s, ok := fm["title"].(string); ok && s != "" {
			return s
		}
	}
	for _, line := range strings.Split(prose, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

// leadParagraph returns the first run of non-heading prose lines joined by spaces.
func leadParagraph(prose string) string {
	var para []string
	for _, line := range strings.Split(prose, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			if len(para) > 0 {
				return strings.Join(para, " ")
			}
		case strings.HasPrefix(trimmed, "#"):
			if len(para) > 0 {
				return strings.Join(para, " ")
			}
		default:
			para = append(para, trimmed)
		}
	}
	return strings.Join(para, " ")
}
