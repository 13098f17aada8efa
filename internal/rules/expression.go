package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/ext"
	"github.com/opensource-finance/harrier/internal/domain"
)

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("beneficiary_type", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("sender_id", cel.StringType),
		cel.Variable("receiver_id", cel.StringType),
		// History derived
		cel.Variable("prior_micro_count", cel.IntType),
		cel.Variable("has_prior_incoming", cel.BoolType),
		// Behavioural signals
		cel.Variable("is_new_counterparty", cel.BoolType),
		cel.Variable("device_change", cel.BoolType),
		cel.Variable("location_change", cel.BoolType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("page_context", cel.StringType),
		cel.Variable("anomaly_score", cel.DoubleType),
		cel.Variable("sender_in_degree_7d", cel.IntType),
		cel.Variable("sender_out_degree_7d", cel.IntType),
		cel.Variable("sender_in_out_ratio", cel.DoubleType),
		cel.Variable("fake_claim_count_user_7d", cel.IntType),
		cel.Variable("is_screen_recording_on", cel.BoolType),
		cel.Variable("is_remote_access_app_running", cel.BoolType),
		cel.Variable("is_call_active_during_payment", cel.BoolType),
	)
}

func activation(tx *domain.Transaction, hist *domain.HistoricalContext) map[string]any {
	s := tx.Signals
	return map[string]any{
		"amount":                        tx.Amount.InexactFloat64(),
		"tx_type":                       string(tx.Type),
		"beneficiary_type":              string(tx.BeneficiaryType),
		"description":                   tx.Description,
		"sender_id":                     tx.SenderID,
		"receiver_id":                   tx.ReceiverID,
		"prior_micro_count":             int64(MicroCount(hist)),
		"has_prior_incoming":            hist != nil && hist.LastIncoming != nil,
		"is_new_counterparty":           s.IsNewCounterparty,
		"device_change":                 s.DeviceChange,
		"location_change":               s.LocationChange,
		"channel":                       s.Channel,
		"page_context":                  s.PageContext,
		"anomaly_score":                 s.AnomalyScore,
		"sender_in_degree_7d":           int64(s.SenderInDegree7d),
		"sender_out_degree_7d":          int64(s.SenderOutDegree7d),
		"sender_in_out_ratio":           s.SenderInOutRatio,
		"fake_claim_count_user_7d":      int64(s.FakeClaimCount7d),
		"is_screen_recording_on":        s.ScreenRecordingOn,
		"is_remote_access_app_running":  s.RemoteAccessAppRunning,
		"is_call_active_during_payment": s.CallActiveDuringPayment,
	}
}

// Func adapts the compiled program to the rule signature.
// Evaluation errors count as not triggered.
func (c *CompiledRule) Func() Func {
	return func(tx *domain.Transaction, hist *domain.HistoricalContext) domain.RuleOutcome {
		out, _, err := c.Program.Eval(activation(tx, hist))
		if err != nil {
			return domain.RuleOutcome{}
		}
		if b, ok := out.(types.Bool); !ok || !bool(b) {
			return domain.RuleOutcome{}
		}

		reason := c.Config.Reason
		if reason == "" {
			reason = c.Config.Name
		}
		return domain.RuleOutcome{
			Triggered:    true,
			Contribution: c.Config.Contribution,
			Reason:       reason,
		}
	}
}

// RuleName returns the registry key for an expression rule.
func RuleName(cfg *domain.RuleConfig) string {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return cfg.ID
	}
	return name
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// ReloadRules replaces every expression rule with the given set.
// Built-in rules are untouched. On error the previous set stays active.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[RuleName(cfg)] = compiled
	}

	e.compiledRules = newRules
	e.logger.Info("expression rules reloaded", "count", len(newRules))

	return nil
}

// GetLoadedRules returns the currently loaded expression rule configurations, sorted by name.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.compiledRules))
	for name := range e.compiledRules {
		names = append(names, name)
	}
	sort.Strings(names)

	rules := make([]*domain.RuleConfig, 0, len(names))
	for _, name := range names {
		rules = append(rules, e.compiledRules[name].Config)
	}
	return rules
}

// compileRule must be called with e.mu held.
func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rule config is required")
	}

	name := RuleName(cfg)
	if name == "" {
		return nil, fmt.Errorf("rule name is required")
	}
	if _, ok := e.builtins[name]; ok {
		return nil, fmt.Errorf("rule %s: name is reserved by a built-in rule", name)
	}
	if cfg.Contribution < 0 || cfg.Contribution > 100 {
		return nil, fmt.Errorf("rule %s: contribution must be between 0 and 100, got %d", name, cfg.Contribution)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", name, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", name, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", name, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
