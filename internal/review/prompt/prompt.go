// Package prompt implements the Prompt Renderer: loads named templates from
// disk, fills declared {placeholder} variables, and caches by name. It never
// inspects what stages do with the rendered text.
//
// Grounded on internal/ai/templates.go's cache-by-name map structure; the
// substitution syntax here is plain {placeholder} rather than Go's
// text/template {{.Var}} because spec §6 requires unknown placeholders to be
// a hard error, which text/template does not give for free.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Renderer loads templates from a directory and renders them against a
// variable map, caching the raw template text by name.
type Renderer struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]string
}

// New returns a Renderer reading *.tmpl files from dir.
func New(dir string) *Renderer {
	return &Renderer{dir: dir, cache: make(map[string]string)}
}

func (r *Renderer) load(name string) (string, error) {
	r.mu.RLock()
	if text, ok := r.cache[name]; ok {
		r.mu.RUnlock()
		return text, nil
	}
	r.mu.RUnlock()

	path := filepath.Join(r.dir, name+".tmpl")
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("prompt: load template %q: %w", name, err)
	}
	text := string(raw)

	r.mu.Lock()
	r.cache[name] = text
	r.mu.Unlock()
	return text, nil
}

// Render fills template `name`'s declared {placeholder} variables from vars.
// Any placeholder in the template with no matching key in vars fails fast
// with a descriptive error naming the missing variable and the template.
func (r *Renderer) Render(name string, vars map[string]string) (string, error) {
	text, err := r.load(name)
	if err != nil {
		return "", err
	}

	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := match[1 : len(match)-1]
		val, ok := vars[key]
		if !ok {
			missing = append(missing, key)
			return match
		}
		return val
	})

	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("prompt: template %q missing variables: %s", name, strings.Join(missing, ", "))
	}
	return out, nil
}

// TemplateNames are the exact template filenames spec §4.2/§6 names.
func TemplateNames(riskTypes []string) []string {
	names := []string{"intent_analysis", "intent_analysis_chunked", "manager", "reporter", "expert_generic"}
	for _, rt := range riskTypes {
		names = append(names, "expert_"+rt)
	}
	return names
}

// ExpertTemplateName returns the per-risk-type template name, falling back
// to "expert_generic" when riskType is empty.
func ExpertTemplateName(riskType string) string {
	if riskType == "" {
		return "expert_generic"
	}
	return "expert_" + riskType
}
