package workflow

import (
	"context"
	"reflect"
	"strings"
)

const defaultCollectionPath = "data.items"

// loop runs the loop node's children once per iteration. The children are
// the loop body and are not visited again once the loop returns.
func (r *run) loop(ctx context.Context, node Node, data map[string]any, path *ancestry) (map[string]any, error) {
	var cfg LoopConfig
	if err := DecodeConfig(node.Config, &cfg); err != nil {
		return nil, err
	}
	maxIter := int(cfg.MaxIterations)
	if maxIter <= 0 {
		maxIter = r.engine.maxIterations
	}
	body := FindChildNodes(r.wf.Nodes, r.wf.Edges, node.ID)
	self := &ancestry{id: node.ID, parent: path}
	results := []any{}

	// runBody visits each body child with iterData. With thread set, every
	// child result is merged in before the next child runs.
	runBody := func(iterData map[string]any, thread bool) (map[string]any, error) {
		merged := iterData
		for _, child := range body {
			input := iterData
			if thread {
				input = merged
			}
			out, err := r.walk(ctx, child, input, self)
			if err != nil {
				return nil, err
			}
			results = append(results, out)
			merged = merge(merged, out)
		}
		return merged, nil
	}

	iterations := 0
	switch strings.ToLower(strings.TrimSpace(cfg.LoopType)) {
	case "", "collection":
		collPath := cfg.Collection
		if strings.TrimSpace(collPath) == "" {
			collPath = defaultCollectionPath
		}
		raw, found := Lookup(data, collPath)
		var items []any
		if found && raw != nil {
			var ok bool
			items, ok = asSlice(raw)
			if !ok {
				return loopError("Collection is not an array"), nil
			}
		}
		n := min(len(items), maxIter)
		for i := 0; i < n; i++ {
			item := merge(data, map[string]any{"currentItem": items[i], "index": i})
			if _, err := runBody(item, false); err != nil {
				return nil, err
			}
			iterations++
		}
	case "count":
		count := int(cfg.Count)
		if count <= 0 {
			count = r.engine.defaultCount
		}
		n := min(count, maxIter)
		for i := 0; i < n; i++ {
			if _, err := runBody(with(data, "index", i), false); err != nil {
				return nil, err
			}
			iterations++
		}
	case "while":
		if strings.TrimSpace(cfg.WhileCondition) == "" {
			return loopError("No while condition specified"), nil
		}
		current := data
		for iterations < maxIter && r.engine.eval.Condition(cfg.WhileCondition, current) {
			current = with(current, "index", iterations)
			merged, err := runBody(current, true)
			if err != nil {
				return nil, err
			}
			current = merged
			iterations++
		}
	default:
		return loopError("Unsupported loop type: " + cfg.LoopType), nil
	}
	return map[string]any{"iterations": iterations, "results": results}, nil
}

func loopError(msg string) map[string]any {
	return map[string]any{"iterations": 0, "results": []any{}, "error": msg}
}

func asSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
