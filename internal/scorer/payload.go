package scorer

import (
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Default values for payload fields the transaction does not carry.
const (
	DefaultPageContext = "normal_payment"
	defaultRequiresPIN = true
)

// Payload is the request body of the fraud model service.
// Every field is always sent; the model rejects partial feature vectors.
type Payload struct {
	Amount                    float64 `json:"amount"`
	IsNewCounterparty         bool    `json:"is_new_counterparty"`
	DeviceChange              bool    `json:"device_change"`
	LocationChange            bool    `json:"location_change"`
	Channel                   string  `json:"channel"`
	PageContext               string  `json:"page_context"`
	RequiresPIN               bool    `json:"requires_pin"`
	AnomalyScore              float64 `json:"anomaly_score"`
	SenderInDegree7d          int     `json:"sender_in_degree_7d"`
	SenderOutDegree7d         int     `json:"sender_out_degree_7d"`
	SenderInOutRatio          float64 `json:"sender_in_out_ratio"`
	FakeClaimCountUser7d      int     `json:"fake_claim_count_user_7d"`
	IsScreenRecordingOn       bool    `json:"is_screen_recording_on"`
	IsRemoteAccessAppRunning  bool    `json:"is_remote_access_app_running"`
	IsCallActiveDuringPayment bool    `json:"is_call_active_during_payment"`
}

// Response is the body returned by the fraud model service.
type Response struct {
	FraudProbability         *float64 `json:"fraud_probability"`
	QRFraudProbability       *float64 `json:"qr_fraud_probability,omitempty"`
	MuleFraudProbability     *float64 `json:"mule_fraud_probability,omitempty"`
	CoercionFraudProbability *float64 `json:"coercion_fraud_probability,omitempty"`
	RiskLevel                string   `json:"risk_level,omitempty"`
	Decision                 string   `json:"decision,omitempty"`
}

// Probability returns the fraud probability clamped to [0,1].
// A response without one yields 0.
func (r *Response) Probability() float64 {
	if r.FraudProbability == nil {
		return 0
	}
	return clamp01(*r.FraudProbability)
}

// BuildPayload projects a transaction onto the model's feature vector.
func BuildPayload(tx *domain.Transaction) Payload {
	s := tx.Signals

	requiresPIN := defaultRequiresPIN
	if s.RequiresPIN != nil {
		requiresPIN = *s.RequiresPIN
	}

	channel := s.Channel
	if channel == "" {
		channel = ChannelFor(tx.Type)
	}

	page := s.PageContext
	if page == "" {
		page = DefaultPageContext
	}

	return Payload{
		Amount:                    tx.Amount.InexactFloat64(),
		IsNewCounterparty:         s.IsNewCounterparty,
		DeviceChange:              s.DeviceChange,
		LocationChange:            s.LocationChange,
		Channel:                   channel,
		PageContext:               page,
		RequiresPIN:               requiresPIN,
		AnomalyScore:              s.AnomalyScore,
		SenderInDegree7d:          s.SenderInDegree7d,
		SenderOutDegree7d:         s.SenderOutDegree7d,
		SenderInOutRatio:          s.SenderInOutRatio,
		FakeClaimCountUser7d:      s.FakeClaimCount7d,
		IsScreenRecordingOn:       s.ScreenRecordingOn,
		IsRemoteAccessAppRunning:  s.RemoteAccessAppRunning,
		IsCallActiveDuringPayment: s.CallActiveDuringPayment,
	}
}

// ChannelFor maps a transaction type to the channel vocabulary the model was trained on.
func ChannelFor(t domain.TxType) string {
	switch t {
	case domain.TxTypeCollect:
		return "collect"
	case domain.TxTypeQR:
		return "qr"
	case domain.TxTypeMandate:
		return "mandate"
	default:
		return "intent"
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
