package mailer

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"
)

// TemplateEngine renders Liquid templates with the contact's personalization
// context. Parsed templates are cached by their source text.
type TemplateEngine struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

func NewTemplateEngine() *TemplateEngine {
	te := &TemplateEngine{engine: liquid.NewEngine()}
	te.registerFilters()
	return te
}

func (te *TemplateEngine) registerFilters() {
	// Default value filter: {{ first_name | default: "there" }}
	te.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		strVal := fmt.Sprintf("%v", value)
		if strVal == "" || strVal == "<nil>" {
			return defaultVal
		}
		return value
	})
}

// Render executes one template against the contact context. Missing
// variables render empty so a sparse contact record never blocks a send.
func (te *TemplateEngine) Render(source string, bindings map[string]any) (string, error) {
	var tpl *liquid.Template
	if cached, ok := te.cache.Load(source); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := te.engine.ParseString(source)
		if err != nil {
			return "", fmt.Errorf("parse template: %w", err)
		}
		te.cache.Store(source, parsed)
		tpl = parsed
	}

	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// ContactBindings builds the personalization context for one contact.
func ContactBindings(email, firstName, lastName string, custom map[string]any) map[string]any {
	b := map[string]any{
		"email":      email,
		"first_name": firstName,
		"last_name":  lastName,
	}
	for k, v := range custom {
		if _, taken := b[k]; !taken {
			b[k] = v
		}
	}
	return b
}
