package payment

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/shopspring/decimal"

	"vitrine/internal/notifications"
	"vitrine/internal/types"
)

// WebhookStore is the audit-log contract the dispatcher persists through.
// Implemented by db.WebhookEventRepo.
type WebhookStore interface {
	Insert(ctx context.Context, in types.WebhookRecordInput) (*types.WebhookRecord, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errorMessage string) error
}

// SignatureVerifier reports whether a signature header authenticates a raw
// webhook body. Implemented by external.PagBankVerifier.
type SignatureVerifier interface {
	Verify(signature string, rawBody []byte) bool
}

// DispatchResult is the response contract of the persist-then-classify path:
// always 200-eligible, with Success reporting the inner outcome. Persisted
// tells the provider the delivery was audited even when processing failed.
type DispatchResult struct {
	Success   bool   `json:"success"`
	WebhookID string `json:"webhook_id,omitempty"`
	Persisted bool   `json:"persisted,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Dispatcher orchestrates one inbound PagBank webhook delivery:
//
//	persist (always) -> verify -> [valid] normalize+reconcile -> mark -> notify
//
// The audit record is written before the signature outcome is acted upon, so
// a trail exists even when reconciliation fails. The dispatcher performs no
// retries; redelivery is the provider's responsibility.
type Dispatcher struct {
	webhooks   WebhookStore
	verifier   SignatureVerifier
	reconciler *Reconciler
	notifier   notifications.Trigger
	logger     *slog.Logger
}

// NewDispatcher creates a Dispatcher. All dependencies are injected; the
// notifier may be nil, in which case no notifications are sent.
func NewDispatcher(
	webhooks WebhookStore,
	verifier SignatureVerifier,
	reconciler *Reconciler,
	notifier notifications.Trigger,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		webhooks:   webhooks,
		verifier:   verifier,
		reconciler: reconciler,
		notifier:   notifier,
		logger:     logger,
	}
}

// Dispatch processes a single raw delivery. The returned error is non-nil
// only when the audit record itself could not be persisted — the one failure
// class that must surface as a non-success transport status so the provider
// retries. Every other outcome, including invalid signature and
// reconciliation failure, is reported inside the DispatchResult.
func (d *Dispatcher) Dispatch(ctx context.Context, signature string, rawBody []byte) (*DispatchResult, error) {
	valid := d.verifier.Verify(signature, rawBody)

	rec, err := d.webhooks.Insert(ctx, buildAuditInput(signature, valid, rawBody))
	if err != nil {
		return nil, err
	}

	if !valid {
		d.logger.WarnContext(ctx, "webhook rejected: invalid signature",
			"provider", string(types.ProviderPagBank),
			"webhook_id", rec.ID,
		)
		return &DispatchResult{
			Success:   false,
			WebhookID: rec.ID,
			Persisted: true,
			Error:     "invalid signature",
		}, nil
	}

	evt, err := NormalizePagBankOrder(rawBody)
	if err == nil {
		var res *ReconcileResult
		res, err = d.reconciler.Reconcile(ctx, evt)
		if err == nil {
			if markErr := d.webhooks.MarkProcessed(ctx, rec.ID); markErr != nil {
				d.logger.ErrorContext(ctx, "failed to mark webhook processed",
					"webhook_id", rec.ID,
					"error", markErr,
				)
			}
			d.notify(ctx, res)
			return &DispatchResult{Success: true, WebhookID: rec.ID, Persisted: true}, nil
		}
	}

	// Normalization or reconciliation failed: record the failure on the
	// audit row and acknowledge the delivery.
	msg := errorMessage(err)
	if markErr := d.webhooks.MarkFailed(ctx, rec.ID, msg); markErr != nil {
		d.logger.ErrorContext(ctx, "failed to mark webhook failed",
			"webhook_id", rec.ID,
			"error", markErr,
		)
	}
	d.logger.WarnContext(ctx, "webhook processing failed",
		"provider", string(types.ProviderPagBank),
		"webhook_id", rec.ID,
		"error", err,
	)
	return &DispatchResult{
		Success:   false,
		WebhookID: rec.ID,
		Persisted: true,
		Error:     msg,
	}, nil
}

// notify fires the payment-confirmed notification on the first transition
// into PAID. Best-effort: the result is only logged.
func (d *Dispatcher) notify(ctx context.Context, res *ReconcileResult) {
	if d.notifier == nil || !res.FirstPayment {
		return
	}
	o := res.Order
	d.notifier.Send(ctx, notifications.KindPaymentConfirmed, notifications.Event{
		OrderID:       o.OrderID,
		ReferenceID:   o.ReferenceID,
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		Amount:        o.Amount,
		Currency:      o.Currency,
	})
}

// errorMessage extracts the client-safe message from an AppError, falling
// back to the raw error text.
func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := err.(*types.AppError); ok {
		return appErr.Message
	}
	return err.Error()
}

// auditEnvelope is a lenient view of the payload used only to populate the
// audit record's identifier columns. Unlike NormalizePagBankOrder it never
// fails: a malformed body still produces an audit row with null identifiers.
type auditEnvelope struct {
	ID          string `json:"id"`
	ReferenceID string `json:"reference_id"`
	Charges     []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount struct {
			Value int64 `json:"value"`
		} `json:"amount"`
	} `json:"charges"`
}

// buildAuditInput assembles the WebhookRecordInput persisted for every
// delivery, before any signature-dependent branching.
func buildAuditInput(signature string, valid bool, rawBody []byte) types.WebhookRecordInput {
	in := types.WebhookRecordInput{
		Provider:       types.ProviderPagBank,
		EventType:      "ORDER",
		SignatureValid: valid,
		RawPayload:     json.RawMessage(rawBody),
	}
	if signature != "" {
		sig := signature
		in.RawSignature = &sig
	}

	var env auditEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return in
	}
	if env.ID != "" {
		id := env.ID
		in.OrderID = &id
	}
	if env.ReferenceID != "" {
		ref := env.ReferenceID
		in.ReferenceID = &ref
	}
	if len(env.Charges) > 0 {
		charge := env.Charges[0]
		if charge.ID != "" {
			chID := charge.ID
			in.ChargeID = &chID
		}
		if charge.Status != "" {
			in.EventType = charge.Status
		}
		in.Amount = decimal.New(charge.Amount.Value, -2)
	}
	return in
}
