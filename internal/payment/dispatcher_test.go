package payment

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitrine/internal/notifications"
	"vitrine/internal/types"
)

// fakeWebhookStore records audit inserts and status transitions in memory.
type fakeWebhookStore struct {
	records map[string]*types.WebhookRecord
	nextID  int

	insertErr error
	markErr   error
}

func newFakeWebhookStore() *fakeWebhookStore {
	return &fakeWebhookStore{records: make(map[string]*types.WebhookRecord)}
}

func (s *fakeWebhookStore) Insert(_ context.Context, in types.WebhookRecordInput) (*types.WebhookRecord, error) {
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	s.nextID++
	rec := &types.WebhookRecord{
		ID:             fmt.Sprintf("wh_%d", s.nextID),
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
	}
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *fakeWebhookStore) MarkProcessed(_ context.Context, id string) error {
	if s.markErr != nil {
		return s.markErr
	}
	rec, ok := s.records[id]
	if !ok || rec.Status != types.WebhookStatusPending {
		return types.NewAppError(types.ErrCodeNotFoundWebhook, "webhook event not found or already finalized", nil)
	}
	rec.Status = types.WebhookStatusProcessed
	return nil
}

func (s *fakeWebhookStore) MarkFailed(_ context.Context, id string, msg string) error {
	if s.markErr != nil {
		return s.markErr
	}
	rec, ok := s.records[id]
	if !ok || rec.Status != types.WebhookStatusPending {
		return types.NewAppError(types.ErrCodeNotFoundWebhook, "webhook event not found or already finalized", nil)
	}
	rec.Status = types.WebhookStatusFailed
	rec.ErrorMessage = &msg
	return nil
}

// staticVerifier returns a fixed verification outcome.
type staticVerifier struct{ valid bool }

func (v staticVerifier) Verify(string, []byte) bool { return v.valid }

// recordingTrigger captures notification sends.
type recordingTrigger struct {
	kinds  []notifications.Kind
	events []notifications.Event
}

func (t *recordingTrigger) Send(_ context.Context, kind notifications.Kind, evt notifications.Event) notifications.Result {
	t.kinds = append(t.kinds, kind)
	t.events = append(t.events, evt)
	return notifications.Result{Success: true}
}

func newDispatcherFixture(valid bool) (*Dispatcher, *fakeWebhookStore, *fakeOrderStore, *recordingTrigger) {
	webhooks := newFakeWebhookStore()
	orders := newFakeOrderStore()
	trigger := &recordingTrigger{}
	d := NewDispatcher(webhooks, staticVerifier{valid: valid}, NewReconciler(orders, nil), trigger, nil)
	return d, webhooks, orders, trigger
}

const validPagBankBody = `{
	"id": "ORDE_1",
	"reference_id": "pedido-9",
	"customer": {"name": "Maria Silva", "email": "maria@example.com", "tax_id": "12345678909"},
	"charges": [
		{
			"id": "CHAR_1",
			"status": "PAID",
			"amount": {"value": 1000, "currency": "BRL"},
			"payment_method": {"type": "PIX", "installments": 1}
		}
	]
}`

func TestDispatch_ValidPaidDelivery(t *testing.T) {
	d, webhooks, orders, trigger := newDispatcherFixture(true)

	res, err := d.Dispatch(context.Background(), "sha256=abc", []byte(validPagBankBody))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.Persisted)
	assert.NotEmpty(t, res.WebhookID)
	assert.Empty(t, res.Error)

	rec := webhooks.records[res.WebhookID]
	require.NotNil(t, rec)
	assert.Equal(t, types.WebhookStatusProcessed, rec.Status)
	assert.True(t, rec.SignatureValid)
	assert.Equal(t, "PAID", rec.EventType)
	require.NotNil(t, rec.OrderID)
	assert.Equal(t, "ORDE_1", *rec.OrderID)
	require.NotNil(t, rec.ChargeID)
	assert.Equal(t, "CHAR_1", *rec.ChargeID)
	assert.Equal(t, "10.00", rec.Amount.StringFixed(2))

	order := orders.orders["ORDE_1"]
	require.NotNil(t, order)
	assert.Equal(t, types.OrderStatusPaid, order.Status)
	assert.NotNil(t, order.PaidAt)

	require.Len(t, trigger.kinds, 1)
	assert.Equal(t, notifications.KindPaymentConfirmed, trigger.kinds[0])
	assert.Equal(t, "maria@example.com", trigger.events[0].CustomerEmail)
}

func TestDispatch_DeclinedDeliveryDoesNotNotify(t *testing.T) {
	body := `{
		"id": "ORDE_1",
		"charges": [{"id": "CHAR_1", "status": "DECLINED", "amount": {"value": 1000, "currency": "BRL"}}]
	}`
	d, webhooks, orders, trigger := newDispatcherFixture(true)

	res, err := d.Dispatch(context.Background(), "sha256=abc", []byte(body))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, types.WebhookStatusProcessed, webhooks.records[res.WebhookID].Status)

	order := orders.orders["ORDE_1"]
	require.NotNil(t, order)
	assert.Equal(t, types.OrderStatusDeclined, order.Status)
	assert.Nil(t, order.PaidAt)
	assert.Empty(t, trigger.kinds)
}

func TestDispatch_InvalidSignaturePersistsButDoesNotReconcile(t *testing.T) {
	d, webhooks, orders, trigger := newDispatcherFixture(false)

	res, err := d.Dispatch(context.Background(), "sha256=wrong", []byte(validPagBankBody))
	require.NoError(t, err, "invalid signature is an expected outcome, not an error")

	assert.False(t, res.Success)
	assert.True(t, res.Persisted)
	assert.Equal(t, "invalid signature", res.Error)

	rec := webhooks.records[res.WebhookID]
	require.NotNil(t, rec, "rejected delivery must still be audited")
	assert.False(t, rec.SignatureValid)
	assert.Equal(t, types.WebhookStatusPending, rec.Status, "rejected record is never marked processed")

	assert.Empty(t, orders.orders, "rejected delivery must not touch orders")
	assert.Empty(t, trigger.kinds)
}

func TestDispatch_MissingSignaturePersists(t *testing.T) {
	d, webhooks, _, _ := newDispatcherFixture(false)

	res, err := d.Dispatch(context.Background(), "", []byte(validPagBankBody))
	require.NoError(t, err)

	assert.False(t, res.Success)
	rec := webhooks.records[res.WebhookID]
	require.NotNil(t, rec)
	assert.Nil(t, rec.RawSignature)
}

func TestDispatch_NoChargesMarksFailed(t *testing.T) {
	body := `{"id": "ORDE_1", "charges": []}`
	d, webhooks, orders, _ := newDispatcherFixture(true)

	res, err := d.Dispatch(context.Background(), "sha256=abc", []byte(body))
	require.NoError(t, err, "reconciliation failure still acknowledges the delivery")

	assert.False(t, res.Success)
	assert.True(t, res.Persisted)
	assert.Equal(t, "no charge found", res.Error)

	rec := webhooks.records[res.WebhookID]
	assert.Equal(t, types.WebhookStatusFailed, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "no charge found", *rec.ErrorMessage)
	assert.Empty(t, orders.orders)
}

func TestDispatch_MalformedJSONMarksFailed(t *testing.T) {
	d, webhooks, _, _ := newDispatcherFixture(true)

	res, err := d.Dispatch(context.Background(), "sha256=abc", []byte(`{broken`))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "payload is not valid JSON", res.Error)
	assert.Equal(t, types.WebhookStatusFailed, webhooks.records[res.WebhookID].Status)
}

func TestDispatch_ReconcileErrorMarksFailed(t *testing.T) {
	d, webhooks, orders, _ := newDispatcherFixture(true)
	orders.insertErr = types.NewAppError(types.ErrCodeInternalDB, "failed to insert order", nil)

	res, err := d.Dispatch(context.Background(), "sha256=abc", []byte(validPagBankBody))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "failed to insert order", res.Error)
	assert.Equal(t, types.WebhookStatusFailed, webhooks.records[res.WebhookID].Status)
}

func TestDispatch_AuditPersistenceFailureIsAnError(t *testing.T) {
	d, webhooks, _, _ := newDispatcherFixture(true)
	webhooks.insertErr = types.NewAppError(types.ErrCodeInternalDB, "failed to persist webhook event", nil)

	res, err := d.Dispatch(context.Background(), "sha256=abc", []byte(validPagBankBody))
	assert.Nil(t, res)
	require.Error(t, err, "an unaudited webhook must not be silently accepted")

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestDispatch_ReplayDoesNotNotifyTwice(t *testing.T) {
	d, _, _, trigger := newDispatcherFixture(true)

	_, err := d.Dispatch(context.Background(), "sha256=abc", []byte(validPagBankBody))
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), "sha256=abc", []byte(validPagBankBody))
	require.NoError(t, err)

	assert.Len(t, trigger.kinds, 1, "replayed PAID event must not re-send the confirmation")
}

func TestDispatch_NilNotifierIsSafe(t *testing.T) {
	webhooks := newFakeWebhookStore()
	orders := newFakeOrderStore()
	d := NewDispatcher(webhooks, staticVerifier{valid: true}, NewReconciler(orders, nil), nil, nil)

	res, err := d.Dispatch(context.Background(), "sha256=abc", []byte(validPagBankBody))
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestBuildAuditInput_MalformedBodyStillAuditable(t *testing.T) {
	in := buildAuditInput("sha256=abc", false, []byte(`not json at all`))

	assert.Equal(t, types.ProviderPagBank, in.Provider)
	assert.Equal(t, "ORDER", in.EventType)
	assert.False(t, in.SignatureValid)
	assert.Nil(t, in.OrderID)
	assert.Nil(t, in.ChargeID)
	require.NotNil(t, in.RawSignature)
	assert.Equal(t, "sha256=abc", *in.RawSignature)
}
