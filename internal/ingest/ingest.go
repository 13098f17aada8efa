// Package ingest turns delimited-text rows into transactions.
// Malformed fields are defaulted, never fatal.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

// Canonical column names.
const (
	colID              = "id"
	colSender          = "sender"
	colReceiver        = "receiver"
	colAmount          = "amount"
	colType            = "type"
	colBeneficiaryType = "beneficiary_type"
	colDescription     = "description"
	colTimestamp       = "timestamp"
	colLabel           = "fraud"

	colIsNewCounterparty = "is_new_counterparty"
	colDeviceChange      = "device_change"
	colLocationChange    = "location_change"
	colChannel           = "channel"
	colPageContext       = "page_context"
	colRequiresPIN       = "requires_pin"
	colAnomalyScore      = "anomaly_score"
	colInDegree          = "sender_in_degree_7d"
	colOutDegree         = "sender_out_degree_7d"
	colInOutRatio        = "sender_in_out_ratio"
	colFakeClaims        = "fake_claim_count_user_7d"
	colScreenRecording   = "is_screen_recording_on"
	colRemoteAccess      = "is_remote_access_app_running"
	colCallActive        = "is_call_active_during_payment"
)

// aliases maps accepted header spellings to canonical column names.
var aliases = map[string]string{
	"id": colID, "txn_id": colID, "tx_id": colID, "transaction_id": colID,
	"sender": colSender, "sender_id": colSender, "sender_vpa": colSender, "payer": colSender, "payer_vpa": colSender,
	"receiver": colReceiver, "receiver_id": colReceiver, "receiver_vpa": colReceiver, "payee": colReceiver, "payee_vpa": colReceiver,
	"amount": colAmount, "amt": colAmount,
	"type": colType, "tx_type": colType, "txn_type": colType, "transaction_type": colType,
	"beneficiary_type": colBeneficiaryType, "receiver_type": colBeneficiaryType, "payee_type": colBeneficiaryType,
	"description": colDescription, "remarks": colDescription, "note": colDescription, "narration": colDescription,
	"timestamp": colTimestamp, "time": colTimestamp, "created_at": colTimestamp,
	"fraud": colLabel, "is_fraud": colLabel, "label": colLabel,
}

var signalColumns = []string{
	colIsNewCounterparty, colDeviceChange, colLocationChange, colChannel, colPageContext,
	colRequiresPIN, colAnomalyScore, colInDegree, colOutDegree, colInOutRatio, colFakeClaims,
	colScreenRecording, colRemoteAccess, colCallActive,
}

// jsonAliases are the field names domain.Transaction serialises signals under
// that do not reduce to a column name by dropping separators.
var jsonAliases = map[string]string{
	"fake_claim_count_7d":        colFakeClaims,
	"screen_recording_on":        colScreenRecording,
	"remote_access_app_running":  colRemoteAccess,
	"call_active_during_payment": colCallActive,
}

func init() {
	for _, c := range signalColumns {
		aliases[c] = c
	}
	for k, c := range jsonAliases {
		aliases[k] = c
	}
	// camelCase keys lower-case to the separator-free spelling.
	compact := make(map[string]string, len(aliases))
	for k, c := range aliases {
		compact[strings.ReplaceAll(k, "_", "")] = c
	}
	for k, c := range compact {
		if _, ok := aliases[k]; !ok {
			aliases[k] = c
		}
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Record is one parsed row.
type Record struct {
	Transaction domain.Transaction

	// Label is the ground-truth fraud flag when the source carries one.
	Label *bool
}

// Result holds the parsed records in input order.
type Result struct {
	// BatchID is set when the source names its batch.
	BatchID string

	Records []Record

	// Skipped counts rows the CSV reader could not tokenise.
	Skipped int
}

// Transactions returns the parsed transactions in input order.
func (r *Result) Transactions() []domain.Transaction {
	txs := make([]domain.Transaction, len(r.Records))
	for i := range r.Records {
		txs[i] = r.Records[i].Transaction
	}
	return txs
}

// Parse reads a header row followed by data rows. Only a missing or unreadable
// header is an error; every data field falls back to its zero value when malformed.
func Parse(r io.Reader, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty input: missing header row")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index := mapHeader(header)
	if _, ok := index[colAmount]; !ok {
		logger.Warn("input has no amount column, every amount defaults to 0")
	}

	res := &Result{}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				res.Skipped++
				logger.Warn("skipping unreadable row", "line", perr.Line, "error", err)
				continue
			}
			return nil, fmt.Errorf("failed to read input: %w", err)
		}

		res.Records = append(res.Records, parseRow(index, row))
	}

	return res, nil
}

func mapHeader(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if canonical, ok := aliases[key]; ok {
			if _, seen := index[canonical]; !seen {
				index[canonical] = i
			}
		}
	}
	return index
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(" ", "_", "-", "_").Replace(h)
	return h
}

func parseRow(index map[string]int, row []string) Record {
	get := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rawType := get(colType)
	if rawType == "" {
		rawType = get(colChannel)
	}

	tx := domain.Transaction{
		ID:              get(colID),
		SenderID:        get(colSender),
		ReceiverID:      get(colReceiver),
		Amount:          ParseAmount(get(colAmount)),
		Type:            domain.ParseTxType(rawType),
		BeneficiaryType: domain.ParseBeneficiaryType(get(colBeneficiaryType)),
		Description:     get(colDescription),
		Timestamp:       ParseTimestamp(get(colTimestamp)),
		Signals: domain.Signals{
			IsNewCounterparty:       ParseBool(get(colIsNewCounterparty)),
			DeviceChange:            ParseBool(get(colDeviceChange)),
			LocationChange:          ParseBool(get(colLocationChange)),
			Channel:                 strings.ToLower(get(colChannel)),
			PageContext:             strings.ToLower(get(colPageContext)),
			RequiresPIN:             parseOptionalBool(get(colRequiresPIN)),
			AnomalyScore:            ParseFloat(get(colAnomalyScore)),
			SenderInDegree7d:        ParseInt(get(colInDegree)),
			SenderOutDegree7d:       ParseInt(get(colOutDegree)),
			SenderInOutRatio:        ParseFloat(get(colInOutRatio)),
			FakeClaimCount7d:        ParseInt(get(colFakeClaims)),
			ScreenRecordingOn:       ParseBool(get(colScreenRecording)),
			RemoteAccessAppRunning:  ParseBool(get(colRemoteAccess)),
			CallActiveDuringPayment: ParseBool(get(colCallActive)),
		},
	}

	return Record{
		Transaction: tx,
		Label:       parseOptionalBool(get(colLabel)),
	}
}

// ParseAmount parses a non-negative decimal amount. Thousands separators and a
// leading rupee sign are accepted. Anything else malformed, or negative, yields zero.
func ParseAmount(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "₹")
	raw = strings.ReplaceAll(raw, ",", "")
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// ParseBool accepts the usual spellings of true. Everything else is false.
func ParseBool(raw string) bool {
	v := parseOptionalBool(raw)
	return v != nil && *v
}

func parseOptionalBool(raw string) *bool {
	var v bool
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "t", "yes", "y", "1", "1.0":
		v = true
	case "false", "f", "no", "n", "0", "0.0":
		v = false
	default:
		return nil
	}
	return &v
}

// ParseInt parses an integer, accepting a float spelling. Malformed input yields 0.
func ParseInt(raw string) int {
	if raw == "" {
		return 0
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	f := ParseFloat(raw)
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0
	}
	return int(f)
}

// ParseFloat parses a finite float. Malformed, NaN or infinite input yields 0.
func ParseFloat(raw string) float64 {
	if raw == "" {
		return 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// ParseTimestamp accepts RFC 3339, common SQL layouts and unix seconds.
// Malformed input yields the zero time.
func ParseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC()
	}
	return time.Time{}
}
