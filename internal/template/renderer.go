// Package template implements NoETL's Jinja-like renderer: `{{ expr }}`
// substitution and `{% ... %}` statement blocks over expr-lang, plus the
// fixed helper table from spec.md §4.4. It generalizes the teacher's
// internal/application/executor/template.go TemplateProcessor (compiled
// program cache, {{var}}/${expr} patterns) to the new syntax and helper set.
package template

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"

	"github.com/noetl/noetl/internal/domain"
)

var (
	exprPattern = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)
	ifPattern   = regexp.MustCompile(`(?s)\{%\s*if\s+(.+?)\s*%\}(.*?)(?:\{%\s*else\s*%\}(.*?))?\{%\s*endif\s*%\}`)
	forPattern  = regexp.MustCompile(`(?s)\{%\s*for\s+(\w+)\s+in\s+(.+?)\s*%\}(.*?)\{%\s*endfor\s*%\}`)
)

// StepLookup is the scheduler-side view the renderer needs to evaluate the
// `done`/`ok`/`fail`/`running`/`loop_done`/`all_done`/`any_done` helpers.
type StepLookup interface {
	StepProjection(nodeID string) (domain.Projection, bool)
	LoopDone(loopID string) bool
}

// Renderer is a pure evaluator: (template, context) -> value. Compiled
// expr-lang programs are cached by source text, mirroring the teacher's
// TemplateProcessor cache.
type Renderer struct {
	mu    sync.Mutex
	cache map[string]*vm.Program
}

func New() *Renderer {
	return &Renderer{cache: make(map[string]*vm.Program)}
}

// Render evaluates a template against a scope. If the entire trimmed
// template is a single `{{ expr }}` with no surrounding text, the native
// typed result is returned (so bind can produce maps/lists/numbers, not
// just strings). Otherwise every `{{ expr }}` occurrence is stringified and
// substituted into the surrounding text.
func (r *Renderer) Render(tmpl string, scope map[string]any, lookup StepLookup) (any, error) {
	expanded, err := r.expandBlocks(tmpl, scope, lookup)
	if err != nil {
		return nil, err
	}
	if m := soleExpr(expanded); m != "" {
		return r.eval(m, scope, lookup)
	}
	var evalErr error
	out := exprPattern.ReplaceAllStringFunc(expanded, func(match string) string {
		if evalErr != nil {
			return match
		}
		src := exprPattern.FindStringSubmatch(match)[1]
		v, err := r.eval(src, scope, lookup)
		if err != nil {
			evalErr = err
			return match
		}
		return fmt.Sprint(v)
	})
	if evalErr != nil {
		return nil, evalErr
	}
	return out, nil
}

// RenderString is a convenience wrapper that always stringifies the result,
// used for args expected to be plain strings (e.g. URLs, SQL text).
func (r *Renderer) RenderString(tmpl string, scope map[string]any, lookup StepLookup) (string, error) {
	v, err := r.Render(tmpl, scope, lookup)
	if err != nil {
		return "", err
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

// RenderValue walks an arbitrary JSON-like value (map/slice/string/scalar),
// rendering every string leaf. Mirrors TemplateProcessor.processMap/
// processSlice in the teacher.
func (r *Renderer) RenderValue(v any, scope map[string]any, lookup StepLookup) (any, error) {
	switch t := v.(type) {
	case string:
		return r.Render(t, scope, lookup)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			rv, err := r.RenderValue(vv, scope, lookup)
			if err != nil {
				return nil, fmt.Errorf("rendering %q: %w", k, err)
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			rv, err := r.RenderValue(vv, scope, lookup)
			if err != nil {
				return nil, fmt.Errorf("rendering index %d: %w", i, err)
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

func soleExpr(tmpl string) string {
	trimmed := strings.TrimSpace(tmpl)
	m := exprPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return ""
	}
	if m[0] != trimmed {
		return ""
	}
	return m[1]
}

// expandBlocks resolves `{% if %}`/`{% for %}` statement blocks before
// expression substitution. Blocks do not nest across a single pass, so
// this loops until a fixed point (bounded) — adequate for the playbook
// DSL's shallow templating needs.
func (r *Renderer) expandBlocks(tmpl string, scope map[string]any, lookup StepLookup) (string, error) {
	out := tmpl
	for i := 0; i < 8; i++ {
		changed := false
		var err error
		out, changed, err = r.expandFor(out, scope, lookup)
		if err != nil {
			return "", err
		}
		out2, changed2, err := r.expandIf(out, scope, lookup)
		if err != nil {
			return "", err
		}
		out = out2
		if !changed && !changed2 {
			break
		}
	}
	return out, nil
}

func (r *Renderer) expandIf(tmpl string, scope map[string]any, lookup StepLookup) (string, bool, error) {
	changed := false
	var evalErr error
	out := ifPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		if evalErr != nil {
			return match
		}
		m := ifPattern.FindStringSubmatch(match)
		cond, thenBranch, elseBranch := m[1], m[2], m[3]
		v, err := r.eval(cond, scope, lookup)
		if err != nil {
			evalErr = err
			return match
		}
		changed = true
		if truthy(v) {
			return thenBranch
		}
		return elseBranch
	})
	return out, changed, evalErr
}

func (r *Renderer) expandFor(tmpl string, scope map[string]any, lookup StepLookup) (string, bool, error) {
	changed := false
	var evalErr error
	out := forPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		if evalErr != nil {
			return match
		}
		m := forPattern.FindStringSubmatch(match)
		varName, iterExpr, body := m[1], m[2], m[3]
		items, err := r.eval(iterExpr, scope, lookup)
		if err != nil {
			evalErr = err
			return match
		}
		list, ok := toSlice(items)
		if !ok {
			evalErr = fmt.Errorf("for-loop expression %q did not evaluate to a list", iterExpr)
			return match
		}
		changed = true
		var b strings.Builder
		for _, item := range list {
			iterScope := make(map[string]any, len(scope)+1)
			for k, v := range scope {
				iterScope[k] = v
			}
			iterScope[varName] = item
			rendered, err := r.expandBlocks(body, iterScope, lookup)
			if err != nil {
				evalErr = err
				return match
			}
			rendered2 := exprPattern.ReplaceAllStringFunc(rendered, func(inner string) string {
				src := exprPattern.FindStringSubmatch(inner)[1]
				v, err := r.eval(src, iterScope, lookup)
				if err != nil {
					return inner
				}
				return fmt.Sprint(v)
			})
			b.WriteString(rendered2)
		}
		return b.String()
	})
	return out, changed, evalErr
}

func (r *Renderer) eval(src string, scope map[string]any, lookup StepLookup) (any, error) {
	r.mu.Lock()
	prog, ok := r.cache[src]
	r.mu.Unlock()

	env := buildEnv(scope, lookup)

	if !ok {
		p, err := expr.Compile(src, expr.Env(env), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("template: compile %q: %w", src, err)
		}
		r.mu.Lock()
		r.cache[src] = p
		r.mu.Unlock()
		prog = p
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return nil, fmt.Errorf("template: eval %q: %w", src, err)
	}
	return out, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	case string:
		return t != ""
	default:
		return true
	}
}

func toSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func newUUID() string { return uuid.New().String() }
