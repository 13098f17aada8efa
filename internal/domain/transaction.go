package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TxType is the UPI payment primitive used for a transaction.
type TxType string

const (
	TxTypeNormal  TxType = "normal"
	TxTypeCollect TxType = "collect"
	TxTypeQR      TxType = "qr"
	TxTypeIntent  TxType = "intent"
	TxTypeMandate TxType = "mandate"
)

// ParseTxType maps a raw transaction type to a TxType.
// Unknown or empty values map to TxTypeNormal.
func ParseTxType(raw string) TxType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "collect", "collect_request", "request", "request_to_pay":
		return TxTypeCollect
	case "qr":
		return TxTypeQR
	case "intent":
		return TxTypeIntent
	case "mandate":
		return TxTypeMandate
	default:
		return TxTypeNormal
	}
}

// IsCollect reports whether the payer is approving a request raised by the receiver.
func (t TxType) IsCollect() bool {
	return t == TxTypeCollect
}

// BeneficiaryType classifies the receiving party.
type BeneficiaryType string

const (
	BeneficiaryIndividual BeneficiaryType = "INDIVIDUAL"
	BeneficiaryMerchant   BeneficiaryType = "MERCHANT"

	// BeneficiaryUnknown is used when the source row did not say.
	BeneficiaryUnknown BeneficiaryType = ""
)

// ParseBeneficiaryType maps a raw beneficiary type to a BeneficiaryType.
func ParseBeneficiaryType(raw string) BeneficiaryType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "INDIVIDUAL", "PERSON", "P2P":
		return BeneficiaryIndividual
	case "MERCHANT", "P2M":
		return BeneficiaryMerchant
	default:
		return BeneficiaryUnknown
	}
}

// Transaction is a payment to be scored. It is built once by ingestion and never mutated.
type Transaction struct {
	ID              string          `json:"id"`
	SenderID        string          `json:"senderId"`
	ReceiverID      string          `json:"receiverId"`
	Amount          decimal.Decimal `json:"amount"`
	Type            TxType          `json:"type"`
	BeneficiaryType BeneficiaryType `json:"beneficiaryType"`
	Description     string          `json:"description,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`

	// Signals are consumed only by the remote probabilistic scorer.
	Signals Signals `json:"signals"`
}

// Signals holds the behavioural features the fraud model was trained on.
type Signals struct {
	IsNewCounterparty bool   `json:"isNewCounterparty"`
	DeviceChange      bool   `json:"deviceChange"`
	LocationChange    bool   `json:"locationChange"`
	Channel           string `json:"channel,omitempty"`
	PageContext       string `json:"pageContext,omitempty"`

	// RequiresPIN is nil when the source did not say; the scorer payload treats nil as true.
	RequiresPIN *bool `json:"requiresPin,omitempty"`

	AnomalyScore            float64 `json:"anomalyScore"`
	SenderInDegree7d        int     `json:"senderInDegree7d"`
	SenderOutDegree7d       int     `json:"senderOutDegree7d"`
	SenderInOutRatio        float64 `json:"senderInOutRatio"`
	FakeClaimCount7d        int     `json:"fakeClaimCount7d"`
	ScreenRecordingOn       bool    `json:"screenRecordingOn"`
	RemoteAccessAppRunning  bool    `json:"remoteAccessAppRunning"`
	CallActiveDuringPayment bool    `json:"callActiveDuringPayment"`
}

// PriorTransfer is a past transfer referenced by historical context.
type PriorTransfer struct {
	TxID      string          `json:"txId"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// HistoricalContext is optional per-transaction history used by some rules.
// A nil *HistoricalContext means no history is known.
type HistoricalContext struct {
	// PriorOutgoing are earlier outgoing micro transfers from the sender.
	PriorOutgoing []PriorTransfer `json:"priorOutgoing,omitempty"`

	// LastIncoming is the most recent transfer from the current beneficiary to the sender.
	LastIncoming *PriorTransfer `json:"lastIncoming,omitempty"`
}
