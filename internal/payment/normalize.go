package payment

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"vitrine/internal/types"
)

// NormalizedEvent is the provider-independent shape a webhook payload is
// mapped into exactly once, at the boundary. Field access past this point is
// typed; there is no duck-typed probing of alternate casings or aliases.
type NormalizedEvent struct {
	Provider      types.Provider
	OrderID       string
	ReferenceID   string
	CustomerName  string
	CustomerEmail string
	CustomerTaxID string
	ChargeID      string
	// ChargeStatus is the provider-native status verbatim; MapStatus derives
	// the internal status from it during reconciliation.
	ChargeStatus  string
	AmountMinor   int64
	Currency      string
	PaymentMethod string
	Installments  int
	// FullResponse is the raw payload, preserved opaquely on the order row.
	FullResponse json.RawMessage
}

// AmountMajor converts the provider's minor-unit integer amount into major
// currency units (minor / 100).
func (e *NormalizedEvent) AmountMajor() decimal.Decimal {
	return decimal.New(e.AmountMinor, -2)
}

// ---------------------------------------------------------------------------
// PagBank payload normalization
// ---------------------------------------------------------------------------

// pagBankOrderPayload mirrors the provider's order webhook body, limited to
// the fields this subsystem touches.
type pagBankOrderPayload struct {
	ID          string `json:"id"`
	ReferenceID string `json:"reference_id"`
	Customer    struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		TaxID string `json:"tax_id"`
	} `json:"customer"`
	Charges []pagBankChargePayload `json:"charges"`
}

type pagBankChargePayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount struct {
		Value    int64  `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
	PaymentMethod struct {
		Type         string `json:"type"`
		Installments int    `json:"installments"`
	} `json:"payment_method"`
}

// NormalizePagBankOrder parses a raw PagBank order webhook body into a
// NormalizedEvent, failing fast on schema mismatch:
//   - malformed JSON or a missing order id is a malformed-payload error;
//   - an empty charges collection is the "no charge found" condition.
//
// Only the first charge is considered; multi-charge orders (partial captures,
// split payments) are unspecified upstream and not handled here.
func NormalizePagBankOrder(raw []byte) (*NormalizedEvent, error) {
	var p pagBankOrderPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, types.NewAppError(types.ErrCodeWebhookMalformedPayload, "payload is not valid JSON", err)
	}
	if p.ID == "" {
		return nil, types.NewAppError(types.ErrCodeWebhookMalformedPayload, "payload missing order id", nil)
	}
	if len(p.Charges) == 0 {
		return nil, types.NewAppError(types.ErrCodeWebhookMalformedPayload, "no charge found", nil)
	}

	charge := p.Charges[0]
	return &NormalizedEvent{
		Provider:      types.ProviderPagBank,
		OrderID:       p.ID,
		ReferenceID:   p.ReferenceID,
		CustomerName:  p.Customer.Name,
		CustomerEmail: p.Customer.Email,
		CustomerTaxID: p.Customer.TaxID,
		ChargeID:      charge.ID,
		ChargeStatus:  charge.Status,
		AmountMinor:   charge.Amount.Value,
		Currency:      charge.Amount.Currency,
		PaymentMethod: charge.PaymentMethod.Type,
		Installments:  charge.PaymentMethod.Installments,
		FullResponse:  json.RawMessage(raw),
	}, nil
}

// ---------------------------------------------------------------------------
// Stripe payload normalization
// ---------------------------------------------------------------------------

// Minimal views over Stripe event data objects. Full stripe-go types are
// deliberately not used here so the reconciliation core stays decoupled from
// the SDK's object graph.

type stripeCheckoutSessionObj struct {
	ID                string `json:"id"`
	ClientReferenceID string `json:"client_reference_id"`
	AmountTotal       int64  `json:"amount_total"`
	Currency          string `json:"currency"`
	PaymentStatus     string `json:"payment_status"`
	Subscription      string `json:"subscription"`
	CustomerDetails   struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"customer_details"`
}

type stripePaymentIntentObj struct {
	ID           string `json:"id"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	LatestCharge string `json:"latest_charge"`
	ReceiptEmail string `json:"receipt_email"`
	Metadata     struct {
		ReferenceID string `json:"reference_id"`
	} `json:"metadata"`
}

type stripeChargeObj struct {
	ID             string `json:"id"`
	PaymentIntent  string `json:"payment_intent"`
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
}

type stripeSubscriptionObj struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Currency string `json:"currency"`
	Metadata struct {
		ReferenceID string `json:"reference_id"`
	} `json:"metadata"`
}

// NormalizeStripeEvent maps a verified Stripe event's data object into a
// NormalizedEvent. The provider-native vocabulary is translated into the
// shared charge-status names so both providers flow through the same status
// mapper and reconciler.
//
// Returns (nil, nil) for event types this subsystem does not reconcile.
func NormalizeStripeEvent(eventType string, raw json.RawMessage) (*NormalizedEvent, error) {
	switch eventType {
	case "checkout.session.completed":
		var s stripeCheckoutSessionObj
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, types.NewAppError(types.ErrCodeWebhookMalformedPayload, "checkout session payload is not valid JSON", err)
		}
		if s.ID == "" {
			return nil, types.NewAppError(types.ErrCodeWebhookMalformedPayload, "checkout session missing id", nil)
		}
		status := "AUTHORIZED"
		if s.PaymentStatus == "paid" {
			status = "PAID"
		}
		return &NormalizedEvent{
			Provider:      types.ProviderStripe,
			OrderID:       s.ID,
			ReferenceID:   s.ClientReferenceID,
			CustomerName:  s.CustomerDetails.Name,
			CustomerEmail: s.CustomerDetails.Email,
			ChargeID:      s.Subscription,
			ChargeStatus:  status,
			AmountMinor:   s.AmountTotal,
			Currency:      s.Currency,
			PaymentMethod: "card",
			FullResponse:  raw,
		}, nil

	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripePaymentIntentObj
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, types.NewAppError(types.ErrCodeWebhookMalformedPayload, "payment intent payload is not valid JSON", err)
		}
		if pi.ID == "" {
			return nil, types.NewAppError(types.ErrCodeWebhookMalformedPayload, "payment intent missing id", nil)
		}
		status := "PAID"
		if eventType == "payment_intent.payment_failed" {
			status = "DECLINED"
		}
		return &NormalizedEvent{
			Provider:      types.ProviderStripe,
			OrderID:       pi.ID,
			ReferenceID:   pi.Metadata.ReferenceID,
			CustomerEmail: pi.ReceiptEmail,
			ChargeID:      pi.LatestCharge,
			ChargeStatus:  status,
			AmountMinor:   pi.Amount,
			Currency:      pi.Currency,
			PaymentMethod: "card",
			FullResponse:  raw,
		}, nil

	case "charge.refunded":
		var ch stripeChargeObj
		if err := json.Unmarshal(raw, &ch); err != nil {
			return nil, types.NewAppError(types.ErrCodeWebhookMalformedPayload, "charge payload is not valid JSON", err)
		}
		if ch.ID == "" {
			return nil, types.NewAppError(types.ErrCodeWebhookMalformedPayload, "charge missing id", nil)
		}
		orderID := ch.PaymentIntent
		if orderID == "" {
			orderID = ch.ID
		}
		return &NormalizedEvent{
			Provider:      types.ProviderStripe,
			OrderID:       orderID,
			ChargeID:      ch.ID,
			ChargeStatus:  "REFUNDED",
			AmountMinor:   ch.AmountRefunded,
			Currency:      ch.Currency,
			PaymentMethod: "card",
			FullResponse:  raw,
		}, nil

	case "customer.subscription.deleted":
		var sub stripeSubscriptionObj
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, types.NewAppError(types.ErrCodeWebhookMalformedPayload, "subscription payload is not valid JSON", err)
		}
		if sub.ID == "" {
			return nil, types.NewAppError(types.ErrCodeWebhookMalformedPayload, "subscription missing id", nil)
		}
		return &NormalizedEvent{
			Provider:      types.ProviderStripe,
			OrderID:       sub.ID,
			ReferenceID:   sub.Metadata.ReferenceID,
			ChargeID:      sub.ID,
			ChargeStatus:  "CANCELED",
			Currency:      sub.Currency,
			PaymentMethod: "card",
			FullResponse:  raw,
		}, nil

	default:
		return nil, nil
	}
}
