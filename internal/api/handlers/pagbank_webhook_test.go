package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitrine/internal/external"
	"vitrine/internal/notifications"
	"vitrine/internal/payment"
	"vitrine/internal/types"
)

// --- In-memory fakes shared by the webhook handler tests ---

type memWebhookStore struct {
	records   map[string]*types.WebhookRecord
	nextID    int
	insertErr error
}

func newMemWebhookStore() *memWebhookStore {
	return &memWebhookStore{records: make(map[string]*types.WebhookRecord)}
}

func (s *memWebhookStore) Insert(_ context.Context, in types.WebhookRecordInput) (*types.WebhookRecord, error) {
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
		CreatedAt:      time.Now().UTC(),
	}
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *memWebhookStore) MarkProcessed(_ context.Context, id string) error {
	rec, ok := s.records[id]
	if !ok || rec.Status != types.WebhookStatusPending {
		return types.NewAppError(types.ErrCodeNotFoundWebhook, "webhook event not found or already finalized", nil)
	}
	rec.Status = types.WebhookStatusProcessed
	return nil
}

func (s *memWebhookStore) MarkFailed(_ context.Context, id string, msg string) error {
	rec, ok := s.records[id]
	if !ok || rec.Status != types.WebhookStatusPending {
		return types.NewAppError(types.ErrCodeNotFoundWebhook, "webhook event not found or already finalized", nil)
	}
	rec.Status = types.WebhookStatusFailed
	rec.ErrorMessage = &msg
	return nil
}

type memOrderStore struct {
	orders map[string]*types.Order
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: make(map[string]*types.Order)}
}

func (s *memOrderStore) FindByOrderID(_ context.Context, orderID string) (*types.Order, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (s *memOrderStore) Insert(_ context.Context, o *types.Order) (*types.Order, error) {
	stored := *o
	s.orders[o.OrderID] = &stored
	cp := stored
	return &cp, nil
}

func (s *memOrderStore) Update(_ context.Context, o *types.Order) (*types.Order, error) {
	existing, ok := s.orders[o.OrderID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
	}
	stored := *o
	if existing.PaidAt != nil {
		stored.PaidAt = existing.PaidAt
	}
	s.orders[o.OrderID] = &stored
	cp := stored
	return &cp, nil
}

type memTrigger struct {
	kinds []notifications.Kind
}

func (t *memTrigger) Send(_ context.Context, kind notifications.Kind, _ notifications.Event) notifications.Result {
	t.kinds = append(t.kinds, kind)
	return notifications.Result{Success: true}
}

// --- PagBank endpoint tests ---

const pagbankTestSecret = "pagbank-webhook-secret"

func pagbankSign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(pagbankTestSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newPagBankRouter(webhooks *memWebhookStore, orders *memOrderStore, trigger notifications.Trigger) chi.Router {
	verifier := external.NewPagBankVerifier(types.SecretString(pagbankTestSecret), nil)
	reconciler := payment.NewReconciler(orders, nil)
	dispatcher := payment.NewDispatcher(webhooks, verifier, reconciler, trigger, nil)

	r := chi.NewRouter()
	NewPagBankWebhookHandler(dispatcher, nil).RegisterRoutes(r)
	return r
}

func postPagBank(t *testing.T, router chi.Router, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/pagbank", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Pagbank-Signature", signature)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

const pagbankPaidBody = `{
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

func TestPagBankWebhook_ValidDelivery(t *testing.T) {
	webhooks := newMemWebhookStore()
	orders := newMemOrderStore()
	trigger := &memTrigger{}
	router := newPagBankRouter(webhooks, orders, trigger)

	body := []byte(pagbankPaidBody)
	rr := postPagBank(t, router, body, pagbankSign(body))

	assert.Equal(t, http.StatusOK, rr.Code)

	var res payment.DispatchResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.True(t, res.Persisted)
	assert.NotEmpty(t, res.WebhookID)

	assert.Equal(t, types.WebhookStatusProcessed, webhooks.records[res.WebhookID].Status)

	order := orders.orders["ORDE_1"]
	require.NotNil(t, order)
	assert.Equal(t, types.OrderStatusPaid, order.Status)
	assert.Equal(t, "10.00", order.Amount.StringFixed(2))
	require.NotNil(t, order.PaidAt)

	require.Len(t, trigger.kinds, 1)
	assert.Equal(t, notifications.KindPaymentConfirmed, trigger.kinds[0])
}

func TestPagBankWebhook_InvalidSignatureStillAudited(t *testing.T) {
	webhooks := newMemWebhookStore()
	orders := newMemOrderStore()
	router := newPagBankRouter(webhooks, orders, &memTrigger{})

	body := []byte(pagbankPaidBody)
	rr := postPagBank(t, router, body, "sha256=deadbeef")

	assert.Equal(t, http.StatusOK, rr.Code, "invalid signature is acknowledged, not errored")

	var res payment.DispatchResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.True(t, res.Persisted)
	assert.Equal(t, "invalid signature", res.Error)

	rec := webhooks.records[res.WebhookID]
	require.NotNil(t, rec, "rejected delivery must leave an audit record")
	assert.False(t, rec.SignatureValid)
	assert.Empty(t, orders.orders)
}

func TestPagBankWebhook_MissingSignatureHeader(t *testing.T) {
	webhooks := newMemWebhookStore()
	router := newPagBankRouter(webhooks, newMemOrderStore(), &memTrigger{})

	rr := postPagBank(t, router, []byte(pagbankPaidBody), "")

	assert.Equal(t, http.StatusOK, rr.Code)

	var res payment.DispatchResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.False(t, res.Success)
	require.Len(t, webhooks.records, 1)
}

func TestPagBankWebhook_NoChargesAcknowledgedAsFailed(t *testing.T) {
	webhooks := newMemWebhookStore()
	router := newPagBankRouter(webhooks, newMemOrderStore(), &memTrigger{})

	body := []byte(`{"id": "ORDE_1", "charges": []}`)
	rr := postPagBank(t, router, body, pagbankSign(body))

	assert.Equal(t, http.StatusOK, rr.Code)

	var res payment.DispatchResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Equal(t, "no charge found", res.Error)
	assert.Equal(t, types.WebhookStatusFailed, webhooks.records[res.WebhookID].Status)
}

func TestPagBankWebhook_AuditPersistenceFailureIs500(t *testing.T) {
	webhooks := newMemWebhookStore()
	webhooks.insertErr = types.NewAppError(types.ErrCodeInternalDB, "failed to persist webhook event", nil)
	router := newPagBankRouter(webhooks, newMemOrderStore(), &memTrigger{})

	body := []byte(pagbankPaidBody)
	rr := postPagBank(t, router, body, pagbankSign(body))

	assert.Equal(t, http.StatusInternalServerError, rr.Code,
		"unaudited delivery must surface as non-2xx so the provider retries")

	var errResp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errResp))
	assert.Equal(t, string(types.ErrCodeInternalDB), errResp.Error.Code)
}

func TestPagBankWebhook_ReplayedDeliveryIsIdempotent(t *testing.T) {
	webhooks := newMemWebhookStore()
	orders := newMemOrderStore()
	trigger := &memTrigger{}
	router := newPagBankRouter(webhooks, orders, trigger)

	body := []byte(pagbankPaidBody)
	first := postPagBank(t, router, body, pagbankSign(body))
	second := postPagBank(t, router, body, pagbankSign(body))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)

	assert.Len(t, webhooks.records, 2, "each delivery gets its own audit record")
	assert.Len(t, orders.orders, 1, "replay must not duplicate the order")
	assert.Len(t, trigger.kinds, 1, "replay must not re-send the confirmation")
}
