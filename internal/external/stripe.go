package external

import (
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Stripe event type constants prevent magic strings in webhook handlers.
const (
	EventStripeCheckoutCompleted   = "checkout.session.completed"
	EventStripePaymentSucceeded    = "payment_intent.succeeded"
	EventStripePaymentFailed       = "payment_intent.payment_failed"
	EventStripeChargeRefunded      = "charge.refunded"
	EventStripeSubscriptionDeleted = "customer.subscription.deleted"
)

// StripeEventVerifier abstracts Stripe webhook signature checking. The
// construct-event contract couples verification and parsing: the event is
// only available when the signature over the exact raw payload checks out.
type StripeEventVerifier interface {
	// ConstructEvent validates the Stripe-Signature header against the raw
	// payload and signing secret, returning the parsed event on success.
	ConstructEvent(payload []byte, header string, secret string) (stripe.Event, error)
}

// StripeVerifier implements StripeEventVerifier using stripe-go's webhook
// signature verification: HMAC-SHA256 with timestamp tolerance.
type StripeVerifier struct{}

// ConstructEvent delegates to stripe-go's ConstructEvent.
func (v *StripeVerifier) ConstructEvent(payload []byte, header string, secret string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, header, secret)
}

// Compile-time assertion that StripeVerifier satisfies StripeEventVerifier.
var _ StripeEventVerifier = (*StripeVerifier)(nil)
