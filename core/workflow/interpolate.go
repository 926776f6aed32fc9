package workflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Interpolate replaces {{ path }} placeholders with values from data.
// Unresolved placeholders stay verbatim and substituted text is not rescanned.
func Interpolate(s string, data map[string]any) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		sub := placeholderRe.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		v, ok := Lookup(data, sub[1])
		if !ok {
			return match
		}
		return stringify(v)
	})
}

// InterpolateValue walks maps and slices, interpolating every string leaf.
func InterpolateValue(v any, data map[string]any) any {
	switch t := v.(type) {
	case string:
		return Interpolate(t, data)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = InterpolateValue(val, data)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = InterpolateValue(val, data)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, val := range t {
			out[i] = Interpolate(val, data)
		}
		return out
	default:
		return v
	}
}

// InterpolateConfig returns a copy of cfg with placeholders resolved.
func InterpolateConfig(cfg map[string]any, data map[string]any) map[string]any {
	if cfg == nil {
		return map[string]any{}
	}
	return InterpolateValue(cfg, data).(map[string]any)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
