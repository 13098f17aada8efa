package domain

import "time"

// RuleOutcome is the result of evaluating one heuristic against one transaction.
type RuleOutcome struct {
	Triggered    bool   `json:"triggered"`
	Contribution int    `json:"contribution"` // 0-100
	Reason       string `json:"reason,omitempty"`
}

// RuleResult is a RuleOutcome tagged with the rule that produced it.
type RuleResult struct {
	Rule string `json:"rule"`
	RuleOutcome
}

// RuleConfig defines an expression rule stored alongside the built-in heuristics.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression returning bool
	Expression string `json:"expression"`

	// Contribution added to the rule score when the expression is true (0-100).
	Contribution int `json:"contribution"`

	// Reason reported when the rule triggers.
	Reason string `json:"reason"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
