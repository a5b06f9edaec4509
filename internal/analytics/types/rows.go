package types

import (
	"encoding/json"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// bigQueryTimestamp keeps microsecond precision, the most TIMESTAMP holds.
const bigQueryTimestamp = "2006-01-02T15:04:05.999999Z"

// SettlementEventRow is one settlement_events row. One row is written per
// outbox event; columns that do not apply to an event stay NULL.
type SettlementEventRow struct {
	EventID          string
	EventType        string
	AggregateType    string
	AggregateID      string
	OccurredAt       time.Time
	AccountID        *string
	SellerID         *string
	OrderID          *string
	WithdrawalID     *string
	GatewayRef       *string
	BillingType      *string
	Status           *string
	AmountCents      *int64
	GrossAmountCents *int64
	FeeCents         *int64
	Quantity         *int64
	Score            *int64
	Payload          cbigquery.NullJSON
}

// Save implements bigquery.ValueSaver. The event id doubles as the insert id
// so BigQuery drops rows repeated by a redelivered message.
func (r SettlementEventRow) Save() (map[string]cbigquery.Value, string, error) {
	row := map[string]cbigquery.Value{
		"event_id":           r.EventID,
		"event_type":         r.EventType,
		"aggregate_type":     r.AggregateType,
		"aggregate_id":       r.AggregateID,
		"occurred_at":        r.OccurredAt.UTC().Format(bigQueryTimestamp),
		"account_id":         nullable(r.AccountID),
		"seller_id":          nullable(r.SellerID),
		"order_id":           nullable(r.OrderID),
		"withdrawal_id":      nullable(r.WithdrawalID),
		"gateway_reference":  nullable(r.GatewayRef),
		"billing_type":       nullable(r.BillingType),
		"status":             nullable(r.Status),
		"amount_cents":       nullable(r.AmountCents),
		"gross_amount_cents": nullable(r.GrossAmountCents),
		"fee_cents":          nullable(r.FeeCents),
		"quantity":           nullable(r.Quantity),
		"score":              nullable(r.Score),
		"payload":            nil,
	}
	if r.Payload.Valid {
		row["payload"] = r.Payload.JSONVal
	}
	return row, r.EventID, nil
}

func nullable[T any](value *T) cbigquery.Value {
	if value == nil {
		return nil
	}
	return *value
}

// SettlementSchema is the settlement_events layout, used when the worker is
// allowed to create the table itself.
func SettlementSchema() cbigquery.Schema {
	required := func(name string, kind cbigquery.FieldType) *cbigquery.FieldSchema {
		return &cbigquery.FieldSchema{Name: name, Type: kind, Required: true}
	}
	optional := func(name string, kind cbigquery.FieldType) *cbigquery.FieldSchema {
		return &cbigquery.FieldSchema{Name: name, Type: kind}
	}
	return cbigquery.Schema{
		required("event_id", cbigquery.StringFieldType),
		required("event_type", cbigquery.StringFieldType),
		required("aggregate_type", cbigquery.StringFieldType),
		required("aggregate_id", cbigquery.StringFieldType),
		required("occurred_at", cbigquery.TimestampFieldType),
		optional("account_id", cbigquery.StringFieldType),
		optional("seller_id", cbigquery.StringFieldType),
		optional("order_id", cbigquery.StringFieldType),
		optional("withdrawal_id", cbigquery.StringFieldType),
		optional("gateway_reference", cbigquery.StringFieldType),
		optional("billing_type", cbigquery.StringFieldType),
		optional("status", cbigquery.StringFieldType),
		optional("amount_cents", cbigquery.IntegerFieldType),
		optional("gross_amount_cents", cbigquery.IntegerFieldType),
		optional("fee_cents", cbigquery.IntegerFieldType),
		optional("quantity", cbigquery.IntegerFieldType),
		optional("score", cbigquery.IntegerFieldType),
		optional("payload", cbigquery.JSONFieldType),
	}
}

// JSONColumn stores raw as a JSON column value; empty input stays NULL.
func JSONColumn(raw json.RawMessage) cbigquery.NullJSON {
	if len(raw) == 0 {
		return cbigquery.NullJSON{}
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(raw)}
}
