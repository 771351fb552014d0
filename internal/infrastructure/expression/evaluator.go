package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"
)

// Evaluator runs boolean rule conditions with expr-lang/expr.
// Compiled programs are cached by source text and shared across goroutines.
type Evaluator struct {
	mu     sync.RWMutex
	cache  map[string]*vm.Program
	logger *zap.Logger
}

// NewEvaluator creates an evaluator with an empty program cache
func NewEvaluator(logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		cache:  make(map[string]*vm.Program),
		logger: logger,
	}
}

// EvalBool evaluates expression against env. Unknown identifiers resolve to nil.
// A non-boolean result is an error rather than a silent false.
func (e *Evaluator) EvalBool(expression string, env map[string]any) (bool, error) {
	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		e.logger.Debug("Condition evaluation failed", zap.String("expression", expression), zap.Error(err))
		return false, fmt.Errorf("failed to evaluate %q: %w", expression, err)
	}

	switch v := out.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("condition %q returned %T, want bool", expression, out)
	}
}

// Check compiles expression without running it
func (e *Evaluator) Check(expression string) error {
	_, err := e.program(expression)
	return err
}

func (e *Evaluator) program(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("empty condition")
	}

	e.mu.RLock()
	prg, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	// no expr.Env: form fields are free-form, so types are only known at run time
	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("failed to compile %q: %w", expression, err)
	}
	e.cache[expression] = prg
	return prg, nil
}
