// Package rules provides the heuristic rule engine and the CEL expression rules layered on top of it.
package rules

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Func evaluates one heuristic against a transaction. It must be pure.
// A nil hist means no history is known.
type Func func(tx *domain.Transaction, hist *domain.HistoricalContext) domain.RuleOutcome

// Engine is the rule registry. Built-in rules are registered at construction,
// expression rules are loaded from configuration and can be reloaded at runtime.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	builtins      map[string]Func
	compiledRules map[string]*CompiledRule
	logger        *slog.Logger
}

// NewEngine creates a rule engine with the built-in heuristics registered.
func NewEngine(logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{
		env:           env,
		builtins:      make(map[string]Func),
		compiledRules: make(map[string]*CompiledRule),
		logger:        logger,
	}
	for name, fn := range Builtins() {
		if err := e.register(name, fn); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// register adds or replaces a built-in rule.
func (e *Engine) register(name string, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("rule name and function are required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.compiledRules[name]; ok {
		return fmt.Errorf("rule %s is already loaded as an expression rule", name)
	}
	e.builtins[name] = fn
	return nil
}

// Names returns the registered rule names in evaluation order.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sortedNames()
}

// RulesCount returns the number of registered rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.builtins) + len(e.compiledRules)
}

// Evaluate runs every registered rule against tx in name order.
// A rule that panics is logged and reported as not triggered.
func (e *Engine) Evaluate(tx *domain.Transaction, hist *domain.HistoricalContext) []domain.RuleResult {
	e.mu.RLock()
	names := e.sortedNames()
	fns := make([]Func, len(names))
	for i, name := range names {
		fns[i] = e.lookup(name)
	}
	e.mu.RUnlock()

	results := make([]domain.RuleResult, len(names))
	for i, name := range names {
		results[i] = domain.RuleResult{
			Rule:        name,
			RuleOutcome: e.safeEval(name, fns[i], tx, hist),
		}
	}
	return results
}

// Score evaluates every rule and aggregates the outcomes into a rule score in [0,1].
func (e *Engine) Score(tx *domain.Transaction, hist *domain.HistoricalContext) (float64, []domain.RuleResult) {
	results := e.Evaluate(tx, hist)
	return Aggregate(results), results
}

// Aggregate sums the contributions of triggered rules, scaled to [0,1] and clamped at 1.
func Aggregate(results []domain.RuleResult) float64 {
	total := 0
	for _, r := range results {
		if r.Triggered {
			total += r.Contribution
		}
	}
	score := float64(total) / 100
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

// Triggered returns the names of triggered rules in evaluation order.
func Triggered(results []domain.RuleResult) []string {
	var names []string
	for _, r := range results {
		if r.Triggered {
			names = append(names, r.Rule)
		}
	}
	return names
}

func (e *Engine) safeEval(name string, fn Func, tx *domain.Transaction, hist *domain.HistoricalContext) (out domain.RuleOutcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("rule panicked",
				"rule", name,
				"tx_id", tx.ID,
				"panic", fmt.Sprint(r),
			)
			out = domain.RuleOutcome{}
		}
	}()

	out = fn(tx, hist)
	if !out.Triggered {
		return domain.RuleOutcome{}
	}
	return out
}

// sortedNames must be called with e.mu held.
func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.builtins)+len(e.compiledRules))
	for name := range e.builtins {
		names = append(names, name)
	}
	for name := range e.compiledRules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lookup must be called with e.mu held.
func (e *Engine) lookup(name string) Func {
	if fn, ok := e.builtins[name]; ok {
		return fn
	}
	return e.compiledRules[name].Func()
}
