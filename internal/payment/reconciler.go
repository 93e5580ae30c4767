package payment

import (
	"context"
	"log/slog"
	"time"

	"vitrine/internal/types"
)

// OrderStore is the persistence contract the reconciler upserts through.
// Implemented by db.OrderRepo.
type OrderStore interface {
	// FindByOrderID returns (nil, nil) when no order exists for the id.
	FindByOrderID(ctx context.Context, orderID string) (*types.Order, error)
	Insert(ctx context.Context, o *types.Order) (*types.Order, error)
	Update(ctx context.Context, o *types.Order) (*types.Order, error)
}

// ReconcileResult is the outcome of merging one normalized event into the
// canonical order state.
type ReconcileResult struct {
	Order *types.Order
	// FirstPayment reports that this reconcile set paid_at for the first
	// time, i.e. the order transitioned into PAID. Replays of the same PAID
	// event do not set it again.
	FirstPayment bool
}

// Reconciler merges normalized webhook events into the orders table using an
// upsert keyed by the provider order identifier. Replays of the same event
// are idempotent at the order level; paid_at is monotonic and never regresses
// once set.
//
// There is no event-ordering guard beyond paid_at: a stale DECLINED arriving
// after a newer PAID overwrites status/charge_status/full_response
// (last-writer-wins, trusting provider ordering). The read-modify-write
// sequence is likewise not serialized across concurrent deliveries for the
// same order.
type Reconciler struct {
	orders OrderStore
	logger *slog.Logger
	now    func() time.Time // injectable for tests
}

// NewReconciler creates a Reconciler over the given order store.
func NewReconciler(orders OrderStore, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		orders: orders,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile applies one normalized event: look up the order by its provider
// id, update it if found, insert it otherwise. paid_at is set only on the
// first transition into PAID.
func (r *Reconciler) Reconcile(ctx context.Context, evt *NormalizedEvent) (*ReconcileResult, error) {
	status := MapStatus(evt.ChargeStatus)

	existing, err := r.orders.FindByOrderID(ctx, evt.OrderID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		order := &types.Order{
			OrderID:       evt.OrderID,
			ReferenceID:   evt.ReferenceID,
			Status:        status,
			CustomerName:  evt.CustomerName,
			CustomerEmail: evt.CustomerEmail,
			CustomerTaxID: evt.CustomerTaxID,
			Amount:        evt.AmountMajor(),
			Currency:      evt.Currency,
			PaymentMethod: evt.PaymentMethod,
			Installments:  evt.Installments,
			ChargeID:      evt.ChargeID,
			ChargeStatus:  evt.ChargeStatus,
			FullResponse:  evt.FullResponse,
		}

		firstPayment := status == types.OrderStatusPaid
		if firstPayment {
			paidAt := r.now()
			order.PaidAt = &paidAt
		}

		stored, err := r.orders.Insert(ctx, order)
		if err != nil {
			return nil, err
		}

		r.logger.InfoContext(ctx, "order created from webhook",
			"provider", string(evt.Provider),
			"order_id", stored.OrderID,
			"status", string(stored.Status),
		)
		return &ReconcileResult{Order: stored, FirstPayment: firstPayment}, nil
	}

	updated := *existing
	updated.Status = status
	updated.ChargeID = evt.ChargeID
	updated.ChargeStatus = evt.ChargeStatus
	updated.FullResponse = evt.FullResponse

	firstPayment := status == types.OrderStatusPaid && existing.PaidAt == nil
	if firstPayment {
		paidAt := r.now()
		updated.PaidAt = &paidAt
	}

	stored, err := r.orders.Update(ctx, &updated)
	if err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "order reconciled from webhook",
		"provider", string(evt.Provider),
		"order_id", stored.OrderID,
		"status", string(stored.Status),
		"first_payment", firstPayment,
	)
	return &ReconcileResult{Order: stored, FirstPayment: firstPayment}, nil
}
