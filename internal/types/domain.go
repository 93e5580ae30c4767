// Package types defines the shared domain model for the Vitrine payments
// backend: webhook audit records, reconciled orders, the internal order-status
// vocabulary, and the application error type used across all layers.
package types

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies the payment provider that originated a webhook event.
type Provider string

const (
	ProviderStripe  Provider = "stripe"
	ProviderPagBank Provider = "pagbank"
)

// OrderStatus is the internal order-status vocabulary. Provider statuses are
// mapped into this set by payment.MapStatus; unknown provider values pass
// through verbatim so a provider introducing a new status never hard-fails
// reconciliation.
type OrderStatus string

const (
	OrderStatusAuthorized OrderStatus = "AUTHORIZED"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusDeclined   OrderStatus = "DECLINED"
	OrderStatusCanceled   OrderStatus = "CANCELED"
	OrderStatusInAnalysis OrderStatus = "IN_ANALYSIS"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
)

// WebhookStatus is the processing state of a stored webhook event.
// It starts at pending and transitions at most once to processed or failed.
type WebhookStatus string

const (
	WebhookStatusPending   WebhookStatus = "pending"
	WebhookStatusProcessed WebhookStatus = "processed"
	WebhookStatusFailed    WebhookStatus = "failed"
)

// WebhookRecord is the immutable-once-written audit entry for a single inbound
// webhook delivery. Every inbound request produces exactly one record,
// regardless of signature validity or downstream processing outcome.
type WebhookRecord struct {
	ID             string          `json:"id"`
	Provider       Provider        `json:"provider"`
	EventType      string          `json:"event_type"`
	RawSignature   *string         `json:"raw_signature,omitempty"`
	SignatureValid bool            `json:"signature_valid"`
	RawPayload     json.RawMessage `json:"raw_payload"`
	OrderID        *string         `json:"order_id,omitempty"`
	ChargeID       *string         `json:"charge_id,omitempty"`
	ReferenceID    *string         `json:"reference_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Status         WebhookStatus   `json:"status"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
}

// WebhookRecordInput carries the caller-supplied fields for a new
// WebhookRecord. ID, Status, and CreatedAt are assigned by the store.
type WebhookRecordInput struct {
	Provider       Provider
	EventType      string
	RawSignature   *string
	SignatureValid bool
	RawPayload     json.RawMessage
	OrderID        *string
	ChargeID       *string
	ReferenceID    *string
	Amount         decimal.Decimal
}

// Order is the canonical reconciled payment/subscription state, keyed by the
// provider-native order identifier. At most one Order exists per OrderID;
// replayed webhook events upsert into the same row.
type Order struct {
	OrderID       string          `json:"order_id"`
	ReferenceID   string          `json:"reference_id"`
	Status        OrderStatus     `json:"status"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	CustomerTaxID string          `json:"customer_tax_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
	Installments  int             `json:"installments"`
	ChargeID      string          `json:"charge_id"`
	// ChargeStatus preserves the provider-native status verbatim for audit,
	// independent of the mapped Status.
	ChargeStatus string          `json:"charge_status"`
	FullResponse json.RawMessage `json:"full_response"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	// PaidAt is set once on the first transition into PAID and never cleared
	// or overwritten afterwards.
	PaidAt *time.Time `json:"paid_at,omitempty"`
}
