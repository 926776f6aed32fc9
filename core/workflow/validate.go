package workflow

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/cordum/flowline/core/infra/schema"
)

//go:embed schema/*.json
var configSchemaFS embed.FS

var (
	customSchemasMu sync.RWMutex
	customSchemas   = map[string][]byte{}

	nodeSchemas = schema.NewSet(loadNodeSchema)
)

const commonSchema = "common"

// RegisterConfigSchema adds a JSON schema for a subtype without a bundled one.
func RegisterConfigSchema(subtype string, raw []byte) {
	customSchemasMu.Lock()
	defer customSchemasMu.Unlock()
	customSchemas[subtype] = raw
}

func loadNodeSchema(name string) ([]byte, bool) {
	customSchemasMu.RLock()
	raw, ok := customSchemas[name]
	customSchemasMu.RUnlock()
	if ok {
		return raw, true
	}
	raw, err := configSchemaFS.ReadFile("schema/" + name + ".schema.json")
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Validate checks a workflow before it is saved: node ids, edge endpoints and
// each node config against the schema for its subtype. Subtypes without a
// schema only have their shared keys checked. A graph without start nodes is
// accepted here and rejected when run.
func Validate(wf *Workflow) error {
	if wf == nil {
		return &ValidationError{Problems: []string{"workflow is nil"}}
	}
	var problems []string
	if strings.TrimSpace(wf.Name) == "" {
		problems = append(problems, "name is required")
	}
	switch wf.Status {
	case "", WorkflowDraft, WorkflowActive, WorkflowError:
	default:
		problems = append(problems, fmt.Sprintf("unknown status %q", wf.Status))
	}
	ids := make(map[string]struct{}, len(wf.Nodes))
	for i, n := range wf.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			problems = append(problems, fmt.Sprintf("node %d: id is required", i))
			continue
		}
		if _, dup := ids[n.ID]; dup {
			problems = append(problems, fmt.Sprintf("node %s: duplicate id", n.ID))
		}
		ids[n.ID] = struct{}{}
		if err := ValidateNodeConfig(n); err != nil {
			problems = append(problems, fmt.Sprintf("node %s: %v", n.ID, err))
		}
	}
	for i, e := range wf.Edges {
		if _, ok := ids[e.Source]; !ok {
			problems = append(problems, fmt.Sprintf("edge %d: unknown source %q", i, e.Source))
		}
		if _, ok := ids[e.Target]; !ok {
			problems = append(problems, fmt.Sprintf("edge %d: unknown target %q", i, e.Target))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidateNodeConfig validates one node's config map.
func ValidateNodeConfig(n Node) error {
	cfg := n.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	if err := nodeSchemas.Validate(commonSchema, cfg); err != nil {
		return err
	}
	if err := nodeSchemas.Validate(n.Subtype, cfg); err != nil {
		return err
	}
	_, err := ParseNodeConfig(n.Subtype, cfg)
	return err
}
