package workload

import (
	"sort"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/pkg/errors"
)

// Formula is a performance-model expression over the well-known tokens
// num_nodes, num_gpus_per_node, num_gpus and phase_iteration, plus any
// runtime argument supplied by the scheduling policy. Immutable user
// arguments are substituted textually at compile time, so an argument value
// may itself be a sub-expression.
type Formula struct {
	model string
	expr  *govaluate.EvaluableExpression
	// Set for plain-number sizes, bypassing expression evaluation.
	constant *float64
}

// CompileFormula substitutes the job's immutable arguments into model and
// parses the result. Longer argument names are substituted first so that one
// argument name being a prefix of another cannot corrupt the expression.
func CompileFormula(model string, arguments map[string]string) (*Formula, error) {
	substituted := SubstituteArguments(model, arguments)
	expr, err := govaluate.NewEvaluableExpression(substituted)
	if err != nil {
		return nil, errors.Wrapf(err, "performance model %q not valid", model)
	}
	return &Formula{model: model, expr: expr}, nil
}

// ConstantFormula wraps a plain number as a formula.
func ConstantFormula(value float64) *Formula {
	return &Formula{
		model:    strconv.FormatFloat(value, 'g', -1, 64),
		constant: &value,
	}
}

func SubstituteArguments(model string, arguments map[string]string) string {
	keys := make([]string, 0, len(arguments))
	for k := range arguments {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	substituted := model
	for _, k := range keys {
		substituted = strings.ReplaceAll(substituted, k, arguments[k])
	}
	return substituted
}

func (f *Formula) Model() string {
	return f.model
}

// EvalScope carries the variable bindings for one evaluation.
type EvalScope struct {
	NumNodes       int
	NumGpusPerNode int
	// PhaseIteration is only bound for evolving-model evaluation.
	PhaseIteration *int
	// RuntimeArgs are policy-mutable and bound by value; numeric strings are
	// exposed as numbers.
	RuntimeArgs map[string]string
}

// Evaluate computes the formula under the given scope. Referencing a token
// that is neither well-known nor a runtime argument is an error; per the
// error policy the caller treats it as fatal.
func (f *Formula) Evaluate(scope EvalScope) (float64, error) {
	if f.constant != nil {
		return *f.constant, nil
	}
	params := map[string]interface{}{
		"num_nodes":         float64(scope.NumNodes),
		"num_gpus_per_node": float64(scope.NumGpusPerNode),
		"num_gpus":          float64(scope.NumNodes * scope.NumGpusPerNode),
	}
	if scope.PhaseIteration != nil {
		params["phase_iteration"] = float64(*scope.PhaseIteration)
	}
	for k, v := range scope.RuntimeArgs {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			params[k] = n
		} else {
			params[k] = v
		}
	}
	result, err := f.expr.Evaluate(params)
	if err != nil {
		return 0, errors.Wrapf(err, "performance model %q not evaluable", f.model)
	}
	n, ok := result.(float64)
	if !ok {
		return 0, errors.Errorf("performance model %q does not evaluate to a number", f.model)
	}
	return n, nil
}
