package reporting

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"github.com/Masterminds/sprig/v3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type TemplateManager struct {
	templates map[string]*template.Template
	funcs     template.FuncMap
	mu        sync.RWMutex
}

// NewTemplateManager starts every template with the sprig text functions
// plus a few case helpers for headings.
func NewTemplateManager() *TemplateManager {
	funcs := sprig.TxtFuncMap()
	upper := cases.Upper(language.English)
	title := cases.Title(language.English)

	funcs["heading"] = func(v interface{}) string {
		h := upper.String(fmt.Sprint(v))
		return h + "\n" + strings.Repeat("=", len([]rune(h)))
	}
	funcs["label"] = func(v interface{}) string {
		return title.String(fmt.Sprint(v))
	}
	funcs["upperLabel"] = func(v interface{}) string {
		return upper.String(fmt.Sprint(v))
	}

	return &TemplateManager{
		templates: make(map[string]*template.Template),
		funcs:     funcs,
	}
}

func (tm *TemplateManager) Register(name, tpl string) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	parsed, err := template.New(name).Funcs(tm.funcs).Parse(tpl)
	if err != nil {
		return fmt.Errorf("parse %q: %w", name, err)
	}
	tm.templates[name] = parsed
	return nil
}

func (tm *TemplateManager) Get(name string) (*template.Template, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	t, ok := tm.templates[name]
	return t, ok
}

func (tm *TemplateManager) Render(name string, data interface{}) ([]byte, error) {
	t, ok := tm.Get(name)
	if !ok {
		return nil, fmt.Errorf("template not found: %s", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render %q: %w", name, err)
	}
	return buf.Bytes(), nil
}
