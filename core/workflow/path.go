package workflow

import (
	"strconv"
	"strings"
)

// rootAlias names the data context itself inside paths and expressions.
const rootAlias = "data"

// Lookup resolves a dotted path against ctx. Numeric segments index into
// slices. A leading "data" segment always refers to ctx itself, the same
// binding expressions see, so a literal "data" key is reached as data.data.
func Lookup(ctx map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	if path == rootAlias {
		return ctx, true
	}
	if rest, ok := strings.CutPrefix(path, rootAlias+"."); ok {
		return walk(ctx, strings.Split(rest, "."))
	}
	return walk(ctx, strings.Split(path, "."))
}

// Dig resolves a dotted path against v with no root alias. It suits
// external documents such as response bodies where "data" is an ordinary key.
func Dig(v map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	return walk(v, strings.Split(path, "."))
}

func walk(ctx map[string]any, parts []string) (any, bool) {
	var cur any = ctx
	for _, p := range parts {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[p]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(p)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// merge returns a shallow copy of base with every key of extra set on it.
func merge(base map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func with(base map[string]any, key string, value any) map[string]any {
	return merge(base, map[string]any{key: value})
}
