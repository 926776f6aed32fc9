package workflow

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator runs condition expressions in a restricted expr-lang sandbox.
// The only identifier in scope is `data`; builtins are disabled except len.
// Compiled programs are cached by normalized source.
type Evaluator struct {
	programs sync.Map // string -> *vm.Program
}

// NewEvaluator returns an evaluator with an empty program cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

var compileEnv = map[string]any{rootAlias: map[string]any{}}

// Eval evaluates condition against data and reports the truthiness of the
// result. Callers that must never fail use Condition instead.
func (e *Evaluator) Eval(condition string, data map[string]any) (bool, error) {
	src := normalizeExpression(strings.TrimSpace(condition))
	if src == "" {
		return false, fmt.Errorf("empty expression")
	}
	program, err := e.compile(src)
	if err != nil {
		return false, fmt.Errorf("compile %q: %w", condition, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	out, err := expr.Run(program, map[string]any{rootAlias: data})
	if err != nil {
		return false, fmt.Errorf("run %q: %w", condition, err)
	}
	return truthy(out), nil
}

// Condition is Eval with every failure collapsed to false.
func (e *Evaluator) Condition(condition string, data map[string]any) bool {
	ok, err := e.Eval(condition, data)
	if err != nil {
		return false
	}
	return ok
}

func (e *Evaluator) compile(src string) (*vm.Program, error) {
	if cached, ok := e.programs.Load(src); ok {
		return cached.(*vm.Program), nil
	}
	program, err := expr.Compile(src,
		expr.Env(compileEnv),
		expr.DisableAllBuiltins(),
		expr.EnableBuiltin("len"),
	)
	if err != nil {
		return nil, err
	}
	e.programs.Store(src, program)
	return program, nil
}

// normalizeExpression maps JavaScript spellings onto expr-lang outside of
// string literals: === and !== become == and !=, null and undefined become nil.
func normalizeExpression(src string) string {
	var b strings.Builder
	b.Grow(len(src))
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			j := i + 1
			for j < len(src) && src[j] != c {
				if src[j] == '\\' && c != '`' {
					j++
				}
				j++
			}
			if j < len(src) {
				j++
			}
			if j > len(src) {
				j = len(src)
			}
			b.WriteString(src[i:j])
			i = j
		case strings.HasPrefix(src[i:], "==="):
			b.WriteString("==")
			i += 3
		case strings.HasPrefix(src[i:], "!=="):
			b.WriteString("!=")
			i += 3
		case isIdentStart(c):
			j := i
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			word := src[i:j]
			member := i > 0 && src[i-1] == '.'
			if !member && (word == "null" || word == "undefined") {
				b.WriteString("nil")
			} else {
				b.WriteString(word)
			}
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case float32:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case int32:
		return t != 0
	case uint:
		return t != 0
	case uint64:
		return t != 0
	default:
		return true
	}
}

// toInt coerces loosely typed config numbers (JSON floats, numeric strings).
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		var out int
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%d", &out); err == nil {
			return out, true
		}
	}
	return 0, false
}
