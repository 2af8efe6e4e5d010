// Package templates loads report types from YAML. Built-in types are
// embedded; a directory may add types or override built-ins by id.
package templates

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"reportq/internal/domain"
	"reportq/internal/ports"
)

//go:embed catalog/*.yaml
var builtin embed.FS

type Catalog struct {
	mu        sync.RWMutex
	templates map[string]*domain.ReportTemplate
	validate  *validator.Validate
}

var _ ports.TemplateResolver = (*Catalog)(nil)

// New loads the built-in catalog and, when dir is not empty, every *.yaml
// file in dir on top of it.
func New(dir string) (*Catalog, error) {
	c := &Catalog{
		templates: make(map[string]*domain.ReportTemplate),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}

	sub, err := fs.Sub(builtin, "catalog")
	if err != nil {
		return nil, err
	}
	if err := c.LoadFS(sub); err != nil {
		return nil, fmt.Errorf("failed to load built-in templates: %w", err)
	}

	if dir != "" {
		if err := c.LoadFS(os.DirFS(dir)); err != nil {
			return nil, fmt.Errorf("failed to load templates from %s: %w", dir, err)
		}
	}
	return c, nil
}

// LoadFS parses every *.yaml and *.yml file at the root of fsys.
func (c *Catalog) LoadFS(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := path.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return err
		}
		if err := c.Add(data); err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
	}
	return nil
}

// Add parses one YAML report type and registers it.
func (c *Catalog) Add(data []byte) error {
	var t domain.ReportTemplate
	if err := yaml.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("invalid template yaml: %w", err)
	}
	if err := c.validate.Struct(t); err != nil {
		return fmt.Errorf("invalid template %q: %w", t.ID, err)
	}
	seen := make(map[string]bool, len(t.Sections))
	for _, s := range t.Sections {
		if seen[s.ID] {
			return fmt.Errorf("invalid template %q: duplicate section %q", t.ID, s.ID)
		}
		seen[s.ID] = true
	}
	for _, ch := range t.Charts {
		if !seen[ch.Source] {
			return fmt.Errorf("invalid template %q: chart %q references unknown section %q", t.ID, ch.ID, ch.Source)
		}
	}
	for _, tb := range t.Tables {
		if !seen[tb.Source] {
			return fmt.Errorf("invalid template %q: table %q references unknown section %q", t.ID, tb.ID, tb.Source)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.templates[t.ID]; ok {
		log.Debug().Str("template", t.ID).Msg("template overridden")
	}
	c.templates[t.ID] = &t
	return nil
}

// ResolveTemplate returns a copy of the report type so callers may not
// mutate the catalog.
func (c *Catalog) ResolveTemplate(_ context.Context, id string) (*domain.ReportTemplate, error) {
	c.mu.RLock()
	t, ok := c.templates[strings.TrimSpace(id)]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, id)
	}
	return clone(t), nil
}

// List returns every report type ordered by id.
func (c *Catalog) List() []domain.ReportTemplate {
	c.mu.RLock()
	out := make([]domain.ReportTemplate, 0, len(c.templates))
	for _, t := range c.templates {
		out = append(out, *clone(t))
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func clone(t *domain.ReportTemplate) *domain.ReportTemplate {
	c := *t
	c.Sections = append([]domain.SectionTemplate(nil), t.Sections...)
	c.Charts = append([]domain.ChartSpec(nil), t.Charts...)
	c.Tables = make([]domain.TableSpec, len(t.Tables))
	for i, tb := range t.Tables {
		tb.Columns = append([]string(nil), tb.Columns...)
		c.Tables[i] = tb
	}
	if t.DesignTokens != nil {
		c.DesignTokens = make(map[string]string, len(t.DesignTokens))
		for k, v := range t.DesignTokens {
			c.DesignTokens[k] = v
		}
	}
	return &c
}
