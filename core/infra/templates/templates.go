// Package templates holds the read-only catalog of starter workflows.
package templates

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/cordum/flowline/core/workflow"
)

//go:embed catalog/*.yaml
var builtin embed.FS

// ErrNotFound is returned for an unknown template id.
var ErrNotFound = errors.New("template not found")

// Template is a workflow blueprint. Node ids are kept when instantiated so
// edges stay valid.
type Template struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Category    string          `json:"category" yaml:"category"`
	Tags        []string        `json:"tags" yaml:"tags"`
	Recommended bool            `json:"recommended" yaml:"recommended"`
	Nodes       []workflow.Node `json:"nodes" yaml:"nodes"`
	Edges       []workflow.Edge `json:"edges" yaml:"edges"`
}

// Saver persists instantiated workflows.
type Saver interface {
	SaveWorkflow(ctx context.Context, wf *workflow.Workflow) (*workflow.Workflow, error)
}

// Catalog is a concurrency-safe set of templates keyed by id.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{templates: make(map[string]Template)}
}

// Builtin returns a catalog loaded from the embedded templates.
func Builtin() (*Catalog, error) {
	c := NewCatalog()
	if err := c.LoadFS(builtin, "catalog"); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFS adds every .yaml file under dir.
func (c *Catalog) LoadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read template dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read template %s: %w", entry.Name(), err)
		}
		var t Template
		if err := yaml.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("parse template %s: %w", entry.Name(), err)
		}
		if err := c.Add(t); err != nil {
			return fmt.Errorf("template %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Add registers t, replacing any template with the same id. The graph must
// pass workflow validation.
func (c *Catalog) Add(t Template) error {
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		return fmt.Errorf("template id is required")
	}
	if err := workflow.Validate(t.draft()); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates[t.ID] = t
	return nil
}

// Get returns a copy of the template with the given id.
func (c *Catalog) Get(id string) (Template, error) {
	c.mu.RLock()
	t, ok := c.templates[id]
	c.mu.RUnlock()
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.copy(), nil
}

// List returns all templates ordered by id.
func (c *Catalog) List() []Template {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Template, 0, len(c.templates))
	for _, t := range c.templates {
		out = append(out, t.copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Instantiate copies a template into a new draft workflow. An empty name
// keeps the template name.
func (c *Catalog) Instantiate(id, name string) (*workflow.Workflow, error) {
	t, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	wf := t.draft()
	wf.ID = uuid.NewString()
	if strings.TrimSpace(name) != "" {
		wf.Name = name
	}
	return wf, nil
}

// Seed saves one draft workflow per template and returns how many were saved.
func (c *Catalog) Seed(ctx context.Context, saver Saver) (int, error) {
	n := 0
	for _, t := range c.List() {
		wf, err := c.Instantiate(t.ID, "")
		if err != nil {
			return n, err
		}
		if _, err := saver.SaveWorkflow(ctx, wf); err != nil {
			return n, fmt.Errorf("seed template %s: %w", t.ID, err)
		}
		n++
	}
	return n, nil
}

func (t Template) draft() *workflow.Workflow {
	cp := t.copy()
	return &workflow.Workflow{
		Name:        cp.Name,
		Description: cp.Description,
		Status:      workflow.WorkflowDraft,
		Nodes:       cp.Nodes,
		Edges:       cp.Edges,
	}
}

func (t Template) copy() Template {
	out := t
	out.Tags = append([]string(nil), t.Tags...)
	out.Edges = append([]workflow.Edge(nil), t.Edges...)
	out.Nodes = make([]workflow.Node, len(t.Nodes))
	for i, n := range t.Nodes {
		n.Config, _ = copyValue(n.Config).(map[string]any)
		if n.Position != nil {
			pos := *n.Position
			n.Position = &pos
		}
		out.Nodes[i] = n
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
