// Package handlers contains the HTTP handler implementations for the Vitrine
// payments API.
//
// Webhook endpoints are NOT behind auth middleware -- they are called
// directly by the payment providers. Security is provided by verifying the
// provider signature over the exact raw request body.
package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vitrine/internal/core"
	"vitrine/internal/payment"
	"vitrine/internal/types"
)

// maxWebhookBodySize is the maximum allowed webhook payload size (64 KB).
// Provider payloads are small; this limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// pagbankSignatureHeader carries the HMAC signature in the provider's
// documented "sha256=<hex>" format.
const pagbankSignatureHeader = "X-Pagbank-Signature"

// PagBankWebhookHandler handles asynchronous order/charge events from
// PagBank using the persist-then-classify contract: every delivery is
// audited before the signature outcome decides whether to reconcile.
type PagBankWebhookHandler struct {
	dispatcher *payment.Dispatcher
	logger     *slog.Logger
}

// NewPagBankWebhookHandler creates the handler with its dispatcher.
func NewPagBankWebhookHandler(dispatcher *payment.Dispatcher, logger *slog.Logger) *PagBankWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PagBankWebhookHandler{dispatcher: dispatcher, logger: logger}
}

// RegisterRoutes mounts the PagBank webhook endpoint. Separate from any
// authenticated route group because webhook routes are public.
func (h *PagBankWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/pagbank", h.Handle)
}

// Handle processes one inbound PagBank webhook delivery.
//
// The body is read raw -- never pre-parsed -- because signature verification
// requires the exact byte stream. The response is always 200 with a
// structured outcome envelope, except when the audit record itself could not
// be persisted: that is the one failure allowed to produce a non-2xx so the
// provider retries a delivery that was never recorded.
func (h *PagBankWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
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

	signature := r.Header.Get(pagbankSignatureHeader)

	result, err := h.dispatcher.Dispatch(r.Context(), signature, rawBody)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "webhook audit persistence failed",
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, result)
}
