package db

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vitrine/internal/types"
)

// WebhookEventRepo persists the immutable webhook audit log.
//
// Key invariants:
//   - Insert runs before any signature-dependent branching, so every inbound
//     delivery leaves a record even when processing fails downstream.
//   - A record's status transitions at most once out of pending; MarkProcessed
//     and MarkFailed refuse to touch rows that are already terminal.
type WebhookEventRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewWebhookEventRepo creates a WebhookEventRepo backed by the given database
// connection (pool or transaction).
func NewWebhookEventRepo(db DBTX, logger *slog.Logger) *WebhookEventRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookEventRepo{db: db, logger: logger}
}

// Insert writes a new audit record with a generated ID, created_at, and
// status pending. A failure here means the delivery cannot be audited and is
// surfaced to the caller as a database AppError; an unaudited webhook must
// never be silently accepted.
func (r *WebhookEventRepo) Insert(ctx context.Context, in types.WebhookRecordInput) (*types.WebhookRecord, error) {
	rec := &types.WebhookRecord{
		ID:             uuid.NewString(),
		Provider:       in.Provider,
		EventType:      in.EventType,
		RawSignature:   in.RawSignature,
		SignatureValid: in.SignatureValid,
		RawPayload:     in.RawPayload,
		OrderID:        in.OrderID,
		ChargeID:       in.ChargeID,
		ReferenceID:    in.ReferenceID,
		Amount:         in.Amount,
		Status:         types.WebhookStatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO webhook_events
		   (id, provider, event_type, raw_signature, signature_valid, raw_payload,
		    order_id, charge_id, reference_id, amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID,
		rec.Provider,
		rec.EventType,
		rec.RawSignature,
		rec.SignatureValid,
		rec.RawPayload,
		rec.OrderID,
		rec.ChargeID,
		rec.ReferenceID,
		rec.Amount,
		rec.Status,
		rec.CreatedAt,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to persist webhook event", err)
	}

	return rec, nil
}

// MarkProcessed finalizes a pending record as processed and stamps
// processed_at. A record that is missing or already terminal is an error;
// the pending -> terminal transition happens exactly once.
func (r *WebhookEventRepo) MarkProcessed(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE webhook_events
		 SET status = $1,
		     processed_at = NOW()
		 WHERE id = $2
		   AND status = $3`,
		types.WebhookStatusProcessed,
		id,
		types.WebhookStatusPending,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark webhook event processed", err)
	}

	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundWebhook, "webhook event not found or already finalized", nil)
	}

	return nil
}

// MarkFailed finalizes a pending record as failed, recording the error
// message and stamping processed_at. Same single-transition rule as
// MarkProcessed.
func (r *WebhookEventRepo) MarkFailed(ctx context.Context, id string, errorMessage string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE webhook_events
		 SET status = $1,
		     error_message = $2,
		     processed_at = NOW()
		 WHERE id = $3
		   AND status = $4`,
		types.WebhookStatusFailed,
		errorMessage,
		id,
		types.WebhookStatusPending,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark webhook event failed", err)
	}

	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundWebhook, "webhook event not found or already finalized", nil)
	}

	return nil
}
