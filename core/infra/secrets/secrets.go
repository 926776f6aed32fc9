// Package secrets resolves secret:// references in node configs so stored
// workflows never carry credentials.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

const secretPrefix = "secret://"

// ErrUnresolved is wrapped by Resolve when a reference has no value.
var ErrUnresolved = errors.New("unresolved secret")

// Lookup returns the value for a secret name.
type Lookup func(name string) (string, bool)

// EnvLookup reads secrets from environment variables named prefix+NAME, with
// the name upper-cased and '/', '-' and '.' mapped to '_'.
func EnvLookup(prefix string) Lookup {
	replacer := strings.NewReplacer("/", "_", "-", "_", ".", "_")
	return func(name string) (string, bool) {
		key := prefix + strings.ToUpper(replacer.Replace(name))
		return os.LookupEnv(key)
	}
}

// MapLookup serves secrets from a fixed map.
func MapLookup(values map[string]string) Lookup {
	return func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}
}

// ContainsSecretRefs reports whether any string inside value is a reference.
func ContainsSecretRefs(value any) bool {
	found := false
	walk(value, func(s string) (string, bool) {
		if _, ok := refName(s); ok {
			found = true
		}
		return s, false
	})
	return found
}

// Resolve returns a copy of cfg with every reference replaced by its value.
// All missing names are reported together.
func Resolve(cfg map[string]any, lookup Lookup) (map[string]any, error) {
	if lookup == nil || !ContainsSecretRefs(cfg) {
		return cfg, nil
	}
	missing := map[string]struct{}{}
	out := walk(cfg, func(s string) (string, bool) {
		name, ok := refName(s)
		if !ok {
			return s, false
		}
		v, ok := lookup(name)
		if !ok {
			missing[name] = struct{}{}
			return s, false
		}
		return v, true
	})
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("%w: %s", ErrUnresolved, strings.Join(names, ", "))
	}
	resolved, _ := out.(map[string]any)
	return resolved, nil
}

func refName(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, secretPrefix) {
		return "", false
	}
	name := strings.TrimPrefix(trimmed, secretPrefix)
	return name, name != ""
}

// walk rebuilds maps and slices, applying fn to every string.
func walk(value any, fn func(string) (string, bool)) any {
	switch v := value.(type) {
	case string:
		out, _ := fn(v)
		return out
	case map[string]any:
		if v == nil {
			return v
		}
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = walk(child, fn)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = walk(child, fn)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = walk(child, fn)
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = walk(child, fn)
		}
		return out
	default:
		return v
	}
}
