// Package notifications defines the transactional notification trigger: a
// best-effort bridge between reconciliation outcomes and the email provider.
// A notification failure is logged and swallowed; it never fails the webhook
// response that caused it.
package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Kind identifies which transactional notification to send.
type Kind string

const (
	KindPaymentConfirmed     Kind = "payment_confirmed"
	KindSubscriptionCreated  Kind = "subscription_created"
	KindSubscriptionCanceled Kind = "subscription_canceled"
)

// Event carries the order context a notification is rendered from.
type Event struct {
	OrderID       string
	ReferenceID   string
	CustomerName  string
	CustomerEmail string
	Amount        decimal.Decimal
	Currency      string
}

// Result reports the outcome of a best-effort send.
type Result struct {
	Success bool
	Error   string
}

// Trigger is the notification contract invoked by the webhook dispatchers on
// specific status transitions.
type Trigger interface {
	// Send dispatches the notification for the given kind. It never returns
	// an error; failures are reported in the Result and logged by the
	// implementation.
	Send(ctx context.Context, kind Kind, evt Event) Result
}

// EmailSender is the transport contract, implemented by the email provider
// client. Rendering internals stay on this side; the sender only transmits.
type EmailSender interface {
	Send(ctx context.Context, to string, subject string, html string) (string, error)
}

// EmailTrigger sends transactional email for each notification kind.
type EmailTrigger struct {
	sender EmailSender
	logger *slog.Logger
}

// NewEmailTrigger creates an EmailTrigger over the given sender.
func NewEmailTrigger(sender EmailSender, logger *slog.Logger) *EmailTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailTrigger{sender: sender, logger: logger}
}

// Send renders and transmits the email for the given kind. Missing recipient
// address and provider failures are logged and returned as a failed Result;
// neither propagates to the caller.
func (t *EmailTrigger) Send(ctx context.Context, kind Kind, evt Event) Result {
	if evt.CustomerEmail == "" {
		t.logger.WarnContext(ctx, "notification skipped: no customer email",
			"kind", string(kind),
			"order_id", evt.OrderID,
		)
		return Result{Success: false, Error: "no customer email"}
	}

	subject, html := render(kind, evt)

	msgID, err := t.sender.Send(ctx, evt.CustomerEmail, subject, html)
	if err != nil {
		t.logger.WarnContext(ctx, "notification send failed",
			"kind", string(kind),
			"order_id", evt.OrderID,
			"error", err,
		)
		return Result{Success: false, Error: err.Error()}
	}

	t.logger.InfoContext(ctx, "notification sent",
		"kind", string(kind),
		"order_id", evt.OrderID,
		"message_id", msgID,
	)
	return Result{Success: true}
}

// render produces the subject and HTML body for a notification kind.
func render(kind Kind, evt Event) (subject string, html string) {
	name := evt.CustomerName
	if name == "" {
		name = "cliente"
	}

	switch kind {
	case KindPaymentConfirmed:
		subject = fmt.Sprintf("Pagamento confirmado — pedido %s", evt.OrderID)
		html = fmt.Sprintf(
			"<p>Olá %s,</p><p>Recebemos o pagamento de %s %s do seu pedido <strong>%s</strong>.</p>",
			name, evt.Currency, evt.Amount.StringFixed(2), evt.OrderID,
		)
	case KindSubscriptionCreated:
		subject = "Assinatura confirmada"
		html = fmt.Sprintf(
			"<p>Olá %s,</p><p>Sua assinatura <strong>%s</strong> está ativa.</p>",
			name, evt.OrderID,
		)
	case KindSubscriptionCanceled:
		subject = "Assinatura cancelada"
		html = fmt.Sprintf(
			"<p>Olá %s,</p><p>Sua assinatura <strong>%s</strong> foi cancelada.</p>",
			name, evt.OrderID,
		)
	default:
		subject = fmt.Sprintf("Atualização do pedido %s", evt.OrderID)
		html = fmt.Sprintf("<p>Olá %s,</p><p>Seu pedido <strong>%s</strong> foi atualizado.</p>", name, evt.OrderID)
	}
	return subject, html
}

// Compile-time assertion that EmailTrigger satisfies Trigger.
var _ Trigger = (*EmailTrigger)(nil)
