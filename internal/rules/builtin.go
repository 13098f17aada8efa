package rules

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

// Built-in rule names.
const (
	RuleGrooming    = "grooming"
	RuleGhostCredit = "ghost_credit"
	RuleRefundScam  = "refund_scam"
)

var (
	// groomingAmountFloor is the amount a transfer must exceed before grooming is considered.
	groomingAmountFloor = decimal.NewFromInt(1000)

	// MicroTransferCeiling is the largest amount counted as a micro transfer.
	MicroTransferCeiling = decimal.NewFromInt(50)

	ghostCreditKeywords = []string{"refund", "mistake", "sent by mistake", "wrong", "back", "return"}
	refundScamKeywords  = []string{"prize", "lottery", "refund", "cashback", "reward", "won"}
)

const (
	groomingMinMicroCount   = 3
	groomingContribution    = 75
	ghostCreditContribution = 95
	refundScamContribution  = 100
)

// Builtins returns the built-in heuristics keyed by rule name.
func Builtins() map[string]Func {
	return map[string]Func{
		RuleGrooming:    Grooming,
		RuleGhostCredit: GhostCredit,
		RuleRefundScam:  RefundScam,
	}
}

// Grooming flags a large transfer preceded by several micro transfers from the same sender.
func Grooming(tx *domain.Transaction, hist *domain.HistoricalContext) domain.RuleOutcome {
	if !tx.Amount.GreaterThan(groomingAmountFloor) {
		return domain.RuleOutcome{}
	}

	micro := MicroCount(hist)
	if micro < groomingMinMicroCount {
		return domain.RuleOutcome{}
	}

	return domain.RuleOutcome{
		Triggered:    true,
		Contribution: groomingContribution,
		Reason:       fmt.Sprintf("large transfer after %d micro transfers, possible grooming", micro),
	}
}

// GhostCredit flags "return the money" language sent to an individual who never paid the sender.
func GhostCredit(tx *domain.Transaction, hist *domain.HistoricalContext) domain.RuleOutcome {
	if tx.BeneficiaryType != domain.BeneficiaryIndividual {
		return domain.RuleOutcome{}
	}
	if hist != nil && hist.LastIncoming != nil {
		return domain.RuleOutcome{}
	}

	kw, ok := containsAny(tx.Description, ghostCreditKeywords)
	if !ok {
		return domain.RuleOutcome{}
	}

	return domain.RuleOutcome{
		Triggered:    true,
		Contribution: ghostCreditContribution,
		Reason:       fmt.Sprintf("refund language %q with no prior credit from beneficiary", kw),
	}
}

// RefundScam flags collect requests that promise a reward or refund.
func RefundScam(tx *domain.Transaction, _ *domain.HistoricalContext) domain.RuleOutcome {
	if !tx.Type.IsCollect() {
		return domain.RuleOutcome{}
	}

	kw, ok := containsAny(tx.Description, refundScamKeywords)
	if !ok {
		return domain.RuleOutcome{}
	}

	return domain.RuleOutcome{
		Triggered:    true,
		Contribution: refundScamContribution,
		Reason:       fmt.Sprintf("collect request mentioning %q", kw),
	}
}

// MicroCount returns how many prior outgoing transfers are at or below the micro ceiling.
func MicroCount(hist *domain.HistoricalContext) int {
	if hist == nil {
		return 0
	}
	n := 0
	for _, p := range hist.PriorOutgoing {
		if p.Amount.LessThanOrEqual(MicroTransferCeiling) {
			n++
		}
	}
	return n
}

func containsAny(text string, keywords []string) (string, bool) {
	if text == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	return "", false
}
