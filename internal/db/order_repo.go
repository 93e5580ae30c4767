package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"vitrine/internal/types"
)

// OrderRepo persists the canonical reconciled order state, keyed by the
// provider-native order identifier.
//
// paid_at monotonicity is enforced in SQL via COALESCE: once set it is never
// overwritten or cleared, even if the caller passes a timestamp. The
// surrounding read-modify-write sequence is not serialized across concurrent
// deliveries for the same order; last writer wins on the other fields.
type OrderRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewOrderRepo creates an OrderRepo backed by the given database connection.
func NewOrderRepo(db DBTX, logger *slog.Logger) *OrderRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderRepo{db: db, logger: logger}
}

const orderColumns = `order_id, reference_id, status, customer_name, customer_email,
	    customer_tax_id, amount, currency, payment_method, installments,
	    charge_id, charge_status, full_response, created_at, updated_at, paid_at`

// FindByOrderID looks up an order by its provider-native identifier.
// Returns (nil, nil) when no order exists.
func (r *OrderRepo) FindByOrderID(ctx context.Context, orderID string) (*types.Order, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE order_id = $1`,
		orderID,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up order", err)
	}
	return o, nil
}

// Insert creates a new order row. created_at and updated_at are stamped by
// the database; the returned Order carries the stored values.
func (r *OrderRepo) Insert(ctx context.Context, o *types.Order) (*types.Order, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO orders
		   (order_id, reference_id, status, customer_name, customer_email,
		    customer_tax_id, amount, currency, payment_method, installments,
		    charge_id, charge_status, full_response, created_at, updated_at, paid_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW(), $14)
		 RETURNING `+orderColumns,
		o.OrderID,
		o.ReferenceID,
		o.Status,
		o.CustomerName,
		o.CustomerEmail,
		o.CustomerTaxID,
		o.Amount,
		o.Currency,
		o.PaymentMethod,
		o.Installments,
		o.ChargeID,
		o.ChargeStatus,
		o.FullResponse,
		o.PaidAt,
	)

	stored, err := scanOrder(row)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to insert order", err)
	}
	return stored, nil
}

// Update applies a reconciled state to an existing order. paid_at only moves
// from NULL to a value: COALESCE(paid_at, $n) keeps the first-set timestamp
// regardless of what the caller passes.
func (r *OrderRepo) Update(ctx context.Context, o *types.Order) (*types.Order, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE orders
		 SET status = $2,
		     charge_id = $3,
		     charge_status = $4,
		     full_response = $5,
		     paid_at = COALESCE(paid_at, $6),
		     updated_at = NOW()
		 WHERE order_id = $1
		 RETURNING `+orderColumns,
		o.OrderID,
		o.Status,
		o.ChargeID,
		o.ChargeStatus,
		o.FullResponse,
		o.PaidAt,
	)

	stored, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update order", err)
	}
	return stored, nil
}

// scanOrder reads one order row into a types.Order.
func scanOrder(row pgx.Row) (*types.Order, error) {
	var o types.Order
	err := row.Scan(
		&o.OrderID,
		&o.ReferenceID,
		&o.Status,
		&o.CustomerName,
		&o.CustomerEmail,
		&o.CustomerTaxID,
		&o.Amount,
		&o.Currency,
		&o.PaymentMethod,
		&o.Installments,
		&o.ChargeID,
		&o.ChargeStatus,
		&o.FullResponse,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
