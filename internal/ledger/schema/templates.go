package schema

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/BurntSushi/toml"
)

//go:embed templates.toml
var templatesTOML string

// TemplateCategory is one category definition inside a hobby template.
type TemplateCategory struct {
	ID    string    `toml:"id"`
	Label string    `toml:"label"`
	Icon  string    `toml:"icon"`
	Color string    `toml:"color"`
	Type  EntryType `toml:"type"`
}

// Template seeds a new book with a name, styling and category set.
type Template struct {
	Key   string             `toml:"key"`
	Name  string             `toml:"name"`
	Icon  string             `toml:"icon"`
	Color string             `toml:"color"`
	Cats  []TemplateCategory `toml:"categories"`
}

var (
	templatesOnce sync.Once
	templates     []Template
	templatesErr  error
)

func loadTemplates() {
	var doc struct {
		Template []Template `toml:"template"`
	}
	if _, err := toml.Decode(templatesTOML, &doc); err != nil {
		templatesErr = fmt.Errorf("failed to decode templates: %w", err)
		return
	}
	for _, t := range doc.Template {
		for _, c := range t.Cats {
			if !c.Type.Valid() {
				templatesErr = fmt.Errorf("template %s: category %s has invalid type %q", t.Key, c.ID, c.Type)
				return
			}
		}
	}
	templates = doc.Template
}

// Templates returns all embedded hobby templates in declaration order.
func Templates() ([]Template, error) {
	templatesOnce.Do(loadTemplates)
	return templates, templatesErr
}

// TemplateByKey looks up a template by key.
func TemplateByKey(key string) (Template, bool) {
	all, err := Templates()
	if err != nil {
		return Template{}, false
	}
	for _, t := range all {
		if t.Key == key {
			return t, true
		}
	}
	return Template{}, false
}

// Book returns a new, unsaved book styled after the template.
func (t Template) Book(name string) *Book {
	if name == "" {
		name = t.Name
	}
	key := t.Key
	return &Book{
		Name:          name,
		HobbyTemplate: &key,
		Icon:          t.Icon,
		Color:         t.Color,
	}
}

// Categories returns unsaved categories for the template. Sort order is
// assigned per entry type in declaration order; BookID is left zero.
func (t Template) Categories() []*Category {
	cats := make([]*Category, 0, len(t.Cats))
	order := map[EntryType]int{}
	for _, c := range t.Cats {
		cats = append(cats, &Category{
			Slug:      c.ID,
			Label:     c.Label,
			Icon:      c.Icon,
			Color:     c.Color,
			Type:      c.Type,
			SortOrder: order[c.Type],
		})
		order[c.Type]++
	}
	return cats
}
