package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCanonicalColumns(t *testing.T) {
	input := "id,sender_id,receiver_id,amount,type,beneficiary_type,description,timestamp\n" +
		"tx-1,alice@upi,bob@upi,1500.50,collect,INDIVIDUAL,Refund for order,2025-03-01T10:00:00Z\n" +
		"tx-2,carol@upi,shop@upi,20,normal,MERCHANT,,2025-03-01 11:30:00\n"

	res, err := Parse(strings.NewReader(input), nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Zero(t, res.Skipped)

	tx := res.Records[0].Transaction
	assert.Equal(t, "tx-1", tx.ID)
	assert.Equal(t, "alice@upi", tx.SenderID)
	assert.Equal(t, "bob@upi", tx.ReceiverID)
	assert.True(t, decimal.RequireFromString("1500.50").Equal(tx.Amount))
	assert.Equal(t, domain.TxTypeCollect, tx.Type)
	assert.Equal(t, domain.BeneficiaryIndividual, tx.BeneficiaryType)
	assert.Equal(t, "Refund for order", tx.Description)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), tx.Timestamp)
	assert.Nil(t, res.Records[0].Label)

	tx2 := res.Records[1].Transaction
	assert.Equal(t, domain.BeneficiaryMerchant, tx2.BeneficiaryType)
	assert.Empty(t, tx2.Description)
	assert.Equal(t, time.Date(2025, 3, 1, 11, 30, 0, 0, time.UTC), tx2.Timestamp)
}

func TestParseDatasetColumns(t *testing.T) {
	input := "\ufefftxn_id,timestamp,sender_vpa,receiver_vpa,amount,is_new_counterparty,device_change,location_change," +
		"channel,scanned_qr_vpa,merchant_expected_vpa,page_context,requires_pin,anomaly_score,state," +
		"sender_in_degree_7d,sender_out_degree_7d,sender_in_out_ratio,fake_claim_count_user_7d," +
		"is_screen_recording_on,is_remote_access_app_running,is_call_active_during_payment,fraud,qr_fraud,mule_fraud,coercion_fraud\n" +
		"TXN0001,2025-01-05 09:15:00,u1@okaxis,u2@ybl,2499.0,True,False,1,collect,,,screen_share_suspected,False,0.912,KA," +
		"3,14,0.214,2,True,True,True,1,0,0,1\n"

	res, err := Parse(strings.NewReader(input), nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	tx := rec.Transaction
	assert.Equal(t, "TXN0001", tx.ID)
	assert.Equal(t, "u1@okaxis", tx.SenderID)
	assert.Equal(t, domain.TxTypeCollect, tx.Type, "type falls back to channel")
	assert.Equal(t, domain.BeneficiaryUnknown, tx.BeneficiaryType)

	s := tx.Signals
	assert.True(t, s.IsNewCounterparty)
	assert.False(t, s.DeviceChange)
	assert.True(t, s.LocationChange)
	assert.Equal(t, "collect", s.Channel)
	assert.Equal(t, "screen_share_suspected", s.PageContext)
	require.NotNil(t, s.RequiresPIN)
	assert.False(t, *s.RequiresPIN)
	assert.InDelta(t, 0.912, s.AnomalyScore, 1e-9)
	assert.Equal(t, 3, s.SenderInDegree7d)
	assert.Equal(t, 14, s.SenderOutDegree7d)
	assert.InDelta(t, 0.214, s.SenderInOutRatio, 1e-9)
	assert.Equal(t, 2, s.FakeClaimCount7d)
	assert.True(t, s.ScreenRecordingOn)
	assert.True(t, s.RemoteAccessAppRunning)
	assert.True(t, s.CallActiveDuringPayment)

	require.NotNil(t, rec.Label)
	assert.True(t, *rec.Label)
}

func TestParseDefaultsMalformedFields(t *testing.T) {
	input := "id,sender,receiver,amount,type,requires_pin,anomaly_score,sender_out_degree_7d,timestamp\n" +
		"a,s,r,not-a-number,teleport,maybe,NaN,lots,yesterday\n" +
		"b,s,r,-50,,,,,\n" +
		"c,s,r,\"₹1,250.75\",REQUEST_TO_PAY,1,0.5,7.0,1735689600\n" +
		"d,s\n"

	res, err := Parse(strings.NewReader(input), nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 4)

	a := res.Records[0].Transaction
	assert.True(t, a.Amount.IsZero())
	assert.Equal(t, domain.TxTypeNormal, a.Type)
	assert.Nil(t, a.Signals.RequiresPIN)
	assert.Zero(t, a.Signals.AnomalyScore)
	assert.Zero(t, a.Signals.SenderOutDegree7d)
	assert.True(t, a.Timestamp.IsZero())

	assert.True(t, res.Records[1].Transaction.Amount.IsZero(), "negative amount defaults to zero")

	c := res.Records[2].Transaction
	assert.True(t, decimal.RequireFromString("1250.75").Equal(c.Amount))
	assert.Equal(t, domain.TxTypeCollect, c.Type)
	require.NotNil(t, c.Signals.RequiresPIN)
	assert.True(t, *c.Signals.RequiresPIN)
	assert.Equal(t, 7, c.Signals.SenderOutDegree7d)
	assert.Equal(t, time.Unix(1735689600, 0).UTC(), c.Timestamp)

	d := res.Records[3].Transaction
	assert.Equal(t, "d", d.ID)
	assert.Empty(t, d.ReceiverID)
	assert.True(t, d.Amount.IsZero())
}

func TestParseToleratesStrayQuotes(t *testing.T) {
	input := "id,amount,description\n" +
		"ok-1,10,he said \"send it back\"\n" +
		"ok-2,20,\"unterminated\n"

	res, err := Parse(strings.NewReader(input), nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Zero(t, res.Skipped)
	assert.Equal(t, `he said "send it back"`, res.Records[0].Transaction.Description)
	assert.Equal(t, "ok-2", res.Records[1].Transaction.ID)
}

func TestParseEmptyInput(t *testing.T) {
	_, err := Parse(strings.NewReader(""), nil)
	assert.Error(t, err)
}

func TestParseHeaderOnly(t *testing.T) {
	res, err := Parse(strings.NewReader("id,amount\n"), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Empty(t, res.Transactions())
}

func TestTransactionsKeepsOrder(t *testing.T) {
	res, err := Parse(strings.NewReader("id\nx\ny\nz\n"), nil)
	require.NoError(t, err)

	txs := res.Transactions()
	require.Len(t, txs, 3)
	assert.Equal(t, "x", txs[0].ID)
	assert.Equal(t, "z", txs[2].ID)
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"true", "TRUE", "True", "1", "yes", "y", "t", "1.0"} {
		assert.True(t, ParseBool(v), v)
	}
	for _, v := range []string{"", "false", "0", "no", "banana"} {
		assert.False(t, ParseBool(v), v)
	}
}
