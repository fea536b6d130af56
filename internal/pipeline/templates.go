package pipeline

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"lumen-pipeline/internal/cache"
)

// GenericTemplate is used when no category keyword matches.
const GenericTemplate = "generic"

//go:embed templates.yaml
var defaultCatalogue []byte

// Template describes how a concept category decomposes into parts.
type Template struct {
	Type         string   `yaml:"type"`
	Keywords     []string `yaml:"keywords"`
	PromptSuffix string   `yaml:"prompt_suffix"`
	PartNames    []string `yaml:"parts"`
}

// NumParts is the expected part count.
func (t Template) NumParts() int { return len(t.PartNames) }

// Catalogue matches concepts to templates.
type Catalogue struct {
	templates []Template
	byKeyword map[string]int
	generic   int
}

// DefaultCatalogue parses the embedded category list.
func DefaultCatalogue() *Catalogue {
	c, err := ParseCatalogue(defaultCatalogue)
	if err != nil {
		panic(fmt.Sprintf("pipeline: embedded templates: %v", err))
	}
	return c
}

// ParseCatalogue reads a YAML template list. It must contain a generic entry
// and every template needs at least one part.
func ParseCatalogue(data []byte) (*Catalogue, error) {
	var templates []Template
	if err := yaml.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	c := &Catalogue{templates: templates, byKeyword: make(map[string]int), generic: -1}
	for i, t := range templates {
		if t.Type == "" {
			return nil, fmt.Errorf("template %d has no type", i)
		}
		if len(t.PartNames) == 0 {
			return nil, fmt.Errorf("template %q has no parts", t.Type)
		}
		if t.Type == GenericTemplate {
			c.generic = i
		}
		for _, kw := range t.Keywords {
			kw = strings.ToLower(kw)
			if _, dup := c.byKeyword[kw]; !dup {
				c.byKeyword[kw] = i
			}
		}
	}
	if c.generic < 0 {
		return nil, fmt.Errorf("templates must include %q", GenericTemplate)
	}
	return c, nil
}

// Match returns the template for text. Tokens are tried in order, each also
// with a trailing plural "s" removed; the earliest matching token wins.
func (c *Catalogue) Match(text string) Template {
	for _, tok := range strings.Fields(cache.Normalize(text)) {
		if i, ok := c.byKeyword[tok]; ok {
			return c.clone(i)
		}
		if s, ok := strings.CutSuffix(tok, "s"); ok {
			if i, ok := c.byKeyword[s]; ok {
				return c.clone(i)
			}
		}
	}
	return c.clone(c.generic)
}

// Types lists the category names in catalogue order.
func (c *Catalogue) Types() []string {
	out := make([]string, len(c.templates))
	for i, t := range c.templates {
		out[i] = t.Type
	}
	return out
}

func (c *Catalogue) clone(i int) Template {
	t := c.templates[i]
	t.Keywords = slices.Clone(t.Keywords)
	t.PartNames = slices.Clone(t.PartNames)
	return t
}

// CanonicalPrompt wraps noun in the fixed studio framing plus the
// category's suffix.
func CanonicalPrompt(noun string, t Template) string {
	return "3D render of a " + noun +
		", side view, white background, centered, full body visible, studio lighting" +
		t.PromptSuffix
}
