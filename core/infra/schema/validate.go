package schema

import (
	"bytes"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Compile compiles a JSON schema payload registered under id.
func Compile(id string, schema []byte) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("schema is empty")
	}
	resourceID := schemaID(id)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// ValidateSchema validates a value against a JSON schema payload.
func ValidateSchema(id string, schema []byte, value any) error {
	compiled, err := Compile(id, schema)
	if err != nil {
		return err
	}
	return Validate(compiled, value)
}

// Validate checks value against an already compiled schema.
func Validate(compiled *jsonschema.Schema, value any) error {
	if compiled == nil {
		return fmt.Errorf("schema not compiled")
	}
	payload, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("normalize payload: %w", err)
	}
	if err := compiled.Validate(payload); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// Set holds compiled schemas keyed by name, compiled lazily from a loader.
type Set struct {
	mu     sync.Mutex
	load   func(name string) ([]byte, bool)
	cached map[string]*jsonschema.Schema
}

// NewSet returns a schema set that reads raw schemas through load.
func NewSet(load func(name string) ([]byte, bool)) *Set {
	return &Set{load: load, cached: map[string]*jsonschema.Schema{}}
}

// Has reports whether a schema exists for name.
func (s *Set) Has(name string) bool {
	_, ok := s.load(name)
	return ok
}

// Validate validates value against the named schema. Unknown names pass.
func (s *Set) Validate(name string, value any) error {
	compiled, err := s.get(name)
	if err != nil || compiled == nil {
		return err
	}
	return Validate(compiled, value)
}

func (s *Set) get(name string) (*jsonschema.Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if compiled, ok := s.cached[name]; ok {
		return compiled, nil
	}
	raw, ok := s.load(name)
	if !ok {
		return nil, nil
	}
	compiled, err := Compile(name, raw)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	s.cached[name] = compiled
	return compiled, nil
}

func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		var out any
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return out, nil
	case []byte:
		var out any
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return out, nil
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return out, nil
	}
}

func schemaID(id string) string {
	if id == "" {
		id = "schema"
	}
	return "inmemory://" + id
}
