package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vitrine/internal/core"
	"vitrine/internal/external"
	"vitrine/internal/notifications"
	"vitrine/internal/payment"
	"vitrine/internal/types"
)

// stripeAck is the acknowledgment envelope returned for every Stripe
// delivery that passed signature verification. Always 200, even on internal
// processing failure: the failure is durably recorded on the audit row, and
// a non-2xx would only trigger a retry storm for an event we already hold.
type stripeAck struct {
	Received  bool   `json:"received"`
	EventType string `json:"eventType,omitempty"`
	Error     string `json:"error,omitempty"`
}

// stripeEventHandler processes one verified, normalized event. Adding a new
// event type is a data addition to the dispatch table, not a new branch.
type stripeEventHandler func(ctx context.Context, evt *payment.NormalizedEvent) error

// StripeWebhookHandler handles asynchronous events from Stripe.
//
// This path is stricter than the PagBank contract: the signature is verified
// with the SDK's construct-event semantics BEFORE any persistence, and a
// verification failure responds with an error status without writing an
// audit record. Past verification, the audit row is written and the response
// is always 200.
type StripeWebhookHandler struct {
	verifier external.StripeEventVerifier
	webhooks payment.WebhookStore
	notifier notifications.Trigger
	secret   types.SecretString
	logger   *slog.Logger

	eventHandlers map[string]stripeEventHandler
}

// NewStripeWebhookHandler creates the handler and its event dispatch table.
// The notifier may be nil, in which case no notifications are sent.
func NewStripeWebhookHandler(
	verifier external.StripeEventVerifier,
	webhooks payment.WebhookStore,
	reconciler *payment.Reconciler,
	notifier notifications.Trigger,
	secret types.SecretString,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &StripeWebhookHandler{
		verifier: verifier,
		webhooks: webhooks,
		notifier: notifier,
		secret:   secret,
		logger:   logger,
	}

	h.eventHandlers = map[string]stripeEventHandler{
		external.EventStripeCheckoutCompleted: h.reconcileThenNotify(reconciler, notifications.KindSubscriptionCreated),
		external.EventStripePaymentSucceeded:  h.reconcilePayment(reconciler),
		external.EventStripePaymentFailed:     h.reconcileOnly(reconciler),
		external.EventStripeChargeRefunded:    h.reconcileOnly(reconciler),
		external.EventStripeSubscriptionDeleted: h.reconcileThenNotify(
			reconciler, notifications.KindSubscriptionCanceled,
		),
	}

	return h
}

// RegisterRoutes mounts the Stripe webhook endpoint. Separate from any
// authenticated route group because webhook routes are public.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes one inbound Stripe webhook delivery:
//
//  1. Reads the raw body and Stripe-Signature header.
//  2. Verifies and parses via construct-event; failure responds with an
//     error status and persists nothing.
//  3. Normalizes the event payload once at the boundary.
//  4. Persists the audit record.
//  5. Routes through the event dispatch table; the outcome is marked on the
//     audit row.
//  6. Responds 200 with the acknowledgment envelope.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if !h.secret.IsSet() {
		h.logger.WarnContext(r.Context(), "stripe webhook secret not configured; refusing delivery")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeConfigMissingSecret,
			"stripe webhook endpoint is not configured",
			nil,
		))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSignatureMissing,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	event, err := h.verifier.ConstructEvent(rawBody, sigHeader, h.secret.Unmask())
	if err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSignatureInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	eventType := string(event.Type)
	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", eventType,
	)

	var dataRaw []byte
	if event.Data != nil {
		dataRaw = event.Data.Raw
	}
	norm, normErr := payment.NormalizeStripeEvent(eventType, dataRaw)

	rec, err := h.webhooks.Insert(r.Context(), buildStripeAuditInput(eventType, sigHeader, rawBody, norm))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "webhook audit persistence failed",
			"event_id", event.ID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	if normErr != nil {
		h.finalize(r.Context(), rec.ID, normErr)
		core.JSON(w, r, http.StatusOK, stripeAck{Received: true, EventType: eventType, Error: errText(normErr)})
		return
	}

	if norm == nil {
		// Event type this subsystem does not reconcile; acknowledged as-is.
		h.logger.InfoContext(r.Context(), "ignoring unhandled webhook event type",
			"event_type", eventType,
		)
		h.finalize(r.Context(), rec.ID, nil)
		core.JSON(w, r, http.StatusOK, stripeAck{Received: true, EventType: eventType})
		return
	}

	handler := h.eventHandlers[eventType]
	if handler == nil {
		h.finalize(r.Context(), rec.ID, nil)
		core.JSON(w, r, http.StatusOK, stripeAck{Received: true, EventType: eventType})
		return
	}

	procErr := handler(r.Context(), norm)
	h.finalize(r.Context(), rec.ID, procErr)

	ack := stripeAck{Received: true, EventType: eventType}
	if procErr != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", event.ID,
			"event_type", eventType,
			"error", procErr,
		)
		ack.Error = errText(procErr)
	}
	core.JSON(w, r, http.StatusOK, ack)
}

// finalize marks the audit row processed or failed. Marking failures are
// logged; the acknowledgment to Stripe is unaffected.
func (h *StripeWebhookHandler) finalize(ctx context.Context, recordID string, procErr error) {
	var err error
	if procErr != nil {
		err = h.webhooks.MarkFailed(ctx, recordID, errText(procErr))
	} else {
		err = h.webhooks.MarkProcessed(ctx, recordID)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to finalize webhook record",
			"webhook_id", recordID,
			"error", err,
		)
	}
}

// ---------------------------------------------------------------------------
// Event dispatch table entries
// ---------------------------------------------------------------------------

// reconcileOnly reconciles the event with no notification side effect.
func (h *StripeWebhookHandler) reconcileOnly(reconciler *payment.Reconciler) stripeEventHandler {
	return func(ctx context.Context, evt *payment.NormalizedEvent) error {
		_, err := reconciler.Reconcile(ctx, evt)
		return err
	}
}

// reconcilePayment reconciles and fires the payment-confirmed notification
// on the first transition into PAID.
func (h *StripeWebhookHandler) reconcilePayment(reconciler *payment.Reconciler) stripeEventHandler {
	return func(ctx context.Context, evt *payment.NormalizedEvent) error {
		res, err := reconciler.Reconcile(ctx, evt)
		if err != nil {
			return err
		}
		if res.FirstPayment {
			h.notify(ctx, notifications.KindPaymentConfirmed, res.Order)
		}
		return nil
	}
}

// reconcileThenNotify reconciles and always fires the given notification
// kind (subscription lifecycle events).
func (h *StripeWebhookHandler) reconcileThenNotify(reconciler *payment.Reconciler, kind notifications.Kind) stripeEventHandler {
	return func(ctx context.Context, evt *payment.NormalizedEvent) error {
		res, err := reconciler.Reconcile(ctx, evt)
		if err != nil {
			return err
		}
		h.notify(ctx, kind, res.Order)
		return nil
	}
}

// notify sends a notification best-effort; the result is only logged by the
// trigger itself.
func (h *StripeWebhookHandler) notify(ctx context.Context, kind notifications.Kind, o *types.Order) {
	if h.notifier == nil {
		return
	}
	h.notifier.Send(ctx, kind, notifications.Event{
		OrderID:       o.OrderID,
		ReferenceID:   o.ReferenceID,
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		Amount:        o.Amount,
		Currency:      o.Currency,
	})
}

// buildStripeAuditInput assembles the audit record for a verified Stripe
// delivery. Identifier columns come from the normalized event when
// normalization succeeded; otherwise they stay null and the raw payload
// still lands in the log.
func buildStripeAuditInput(eventType string, signature string, rawBody []byte, norm *payment.NormalizedEvent) types.WebhookRecordInput {
	sig := signature
	in := types.WebhookRecordInput{
		Provider:       types.ProviderStripe,
		EventType:      eventType,
		RawSignature:   &sig,
		SignatureValid: true,
		RawPayload:     rawBody,
	}
	if norm != nil {
		if norm.OrderID != "" {
			id := norm.OrderID
			in.OrderID = &id
		}
		if norm.ChargeID != "" {
			chID := norm.ChargeID
			in.ChargeID = &chID
		}
		if norm.ReferenceID != "" {
			ref := norm.ReferenceID
			in.ReferenceID = &ref
		}
		in.Amount = norm.AmountMajor()
	}
	return in
}

// errText extracts the client-safe message from an AppError, falling back to
// the raw error text.
func errText(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := err.(*types.AppError); ok {
		return appErr.Message
	}
	return err.Error()
}
