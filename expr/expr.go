// Package expr evaluates the expressions used in process definitions. Each
// ${...} placeholder holds an expr-lang expression over process variables.
//
//	${retryCycle}          -> value of retryCycle as a string
//	R${attempts}/PT5M      -> interpolated
//	${amount >= 100}       -> condition
//	${!approved}           -> negated boolean
package expr

import (
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/spf13/cast"

	"github.com/teranos/pulseflow/errors"
)

// VariableScope resolves variable names visible from an execution
type VariableScope interface {
	Variable(name string) (any, bool)
}

// MapScope is a VariableScope over a plain map
type MapScope map[string]any

func (m MapScope) Variable(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Evaluator turns expressions into values
type Evaluator interface {
	Evaluate(expression string, scope VariableScope) (string, error)
	EvaluateCondition(expression string, scope VariableScope) (bool, error)
}

// IsExpression reports whether s contains a ${...} reference
func IsExpression(s string) bool {
	return placeholder.MatchString(s)
}

var placeholder = regexp.MustCompile(`\$\{([^}]*)\}`)

// Simple is the built-in Evaluator
type Simple struct{}

var _ Evaluator = Simple{}

// Evaluate substitutes every ${...} with its string value
func (Simple) Evaluate(expression string, scope VariableScope) (string, error) {
	var firstErr error
	out := placeholder.ReplaceAllStringFunc(expression, func(m string) string {
		inner := placeholder.FindStringSubmatch(m)[1]
		v, err := run(inner, scope)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return ""
		}
		s, err := cast.ToStringE(v)
		if err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "cannot render %s as text", inner)
		}
		return s
	})
	if firstErr != nil {
		return "", errors.WithDetail(firstErr, "Expression: "+expression)
	}
	return out, nil
}

// EvaluateCondition evaluates an expression that must yield a boolean
func (Simple) EvaluateCondition(expression string, scope VariableScope) (bool, error) {
	trimmed := strings.TrimSpace(expression)
	m := placeholder.FindStringSubmatch(trimmed)
	if m == nil || m[0] != trimmed {
		return false, errors.NewInvalidRequestError("condition %q must be a single ${...} expression", expression)
	}
	v, err := run(m[1], scope)
	if err != nil {
		return false, errors.WithDetail(err, "Expression: "+expression)
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, errors.Wrapf(err, "condition %q is not boolean", expression)
	}
	return b, nil
}

// run compiles code against the variables it names and executes it
func run(code string, scope VariableScope) (any, error) {
	tree, err := parser.Parse(code)
	if err != nil {
		return nil, errors.NewInvalidRequestError("invalid expression ${%s}: %v", code, err)
	}

	names := &identifiers{}
	ast.Walk(&tree.Node, names)

	env := make(map[string]any, len(names.seen))
	var missing []string
	for _, name := range names.seen {
		if v, ok := lookup(name, scope); ok {
			env[name] = v
		} else {
			missing = append(missing, name)
		}
	}

	program, err := expr.Compile(code, expr.Env(env))
	if err != nil {
		// Builtins such as len are identifiers too, so a name absent from
		// the scope only counts once compilation fails
		if len(missing) > 0 {
			return nil, errors.NewNotFoundError("unknown variable %s", missing[0])
		}
		return nil, errors.NewInvalidRequestError("invalid expression ${%s}: %v", code, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, errors.NewInvalidRequestError("evaluating ${%s}: %v", code, err)
	}
	return out, nil
}

func lookup(name string, scope VariableScope) (any, bool) {
	if scope == nil {
		return nil, false
	}
	return scope.Variable(name)
}

// identifiers collects the distinct top-level names an expression refers to
type identifiers struct {
	seen []string
}

func (v *identifiers) Visit(node *ast.Node) {
	id, ok := (*node).(*ast.IdentifierNode)
	if !ok {
		return
	}
	for _, s := range v.seen {
		if s == id.Value {
			return
		}
	}
	v.seen = append(v.seen, id.Value)
}
