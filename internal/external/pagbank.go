package external

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"vitrine/internal/types"
)

// pagBankAPIBase is the default PagBank API base URL.
// Overridable in tests via PagBankClientConfig.BaseURL.
const pagBankAPIBase = "https://api.pagseguro.com"

// ---------------------------------------------------------------------------
// Webhook Signature Verification
// ---------------------------------------------------------------------------

// VerifyPagBankSignature checks an inbound webhook signature against the raw
// (unparsed) request body using HMAC-SHA256 with the shared secret. The
// expected header value is "sha256=<lowercase hex>".
//
// The function fails closed: an unset secret, a missing signature, or any
// mismatch yields false. Invalid signature is an expected outcome, never an
// error. The comparison is constant-time; differing lengths are an ordinary
// mismatch.
func VerifyPagBankSignature(signature string, rawBody []byte, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// PagBankVerifier binds a configured webhook secret to the verification
// function and logs misconfiguration without ever logging secret material.
type PagBankVerifier struct {
	secret types.SecretString
	logger *slog.Logger
}

// NewPagBankVerifier creates a verifier for the given webhook signing secret.
// An unset secret is permitted; verification then always fails closed.
func NewPagBankVerifier(secret types.SecretString, logger *slog.Logger) *PagBankVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &PagBankVerifier{secret: secret, logger: logger}
}

// Verify reports whether the signature authenticates the raw body.
func (v *PagBankVerifier) Verify(signature string, rawBody []byte) bool {
	if !v.secret.IsSet() {
		v.logger.Warn("pagbank webhook secret not configured; rejecting delivery")
		return false
	}
	if signature == "" {
		v.logger.Warn("pagbank webhook delivery missing signature header")
		return false
	}

	valid := VerifyPagBankSignature(signature, rawBody, v.secret.Unmask())
	if !valid {
		v.logger.Warn("pagbank webhook signature mismatch")
	}
	return valid
}

// ---------------------------------------------------------------------------
// Orders API Client
// ---------------------------------------------------------------------------

// PagBankClientConfig holds the configuration for creating a PagBankClient.
type PagBankClientConfig struct {
	Token   types.SecretString
	BaseURL string // Override for testing; defaults to pagBankAPIBase
	Logger  *slog.Logger
}

// PagBankClient makes direct HTTP calls to the PagBank Orders REST API
// through BaseClient, inheriting the platform's resilience infrastructure
// (circuit breaker, retries, error mapping). Only the subset of the API the
// webhook subsystem collaborates with is covered: creating orders and
// fetching an order's current charge state.
type PagBankClient struct {
	base    *BaseClient
	token   types.SecretString
	baseURL string
	logger  *slog.Logger
}

// NewPagBankClient creates a new PagBankClient.
func NewPagBankClient(httpClient *http.Client, cfg PagBankClientConfig) *PagBankClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = pagBankAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"pagbank",
		DefaultRetryPolicy(),
		"Vitrine/1.0",
		WithSleepFunc(time.Sleep),
	)

	return &PagBankClient{
		base:    base,
		token:   cfg.Token,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// NewPagBankClientWithBase creates a PagBankClient with a pre-configured
// BaseClient. Useful in tests to control retry and breaker behavior.
func NewPagBankClientWithBase(base *BaseClient, cfg PagBankClientConfig) *PagBankClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = pagBankAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &PagBankClient{
		base:    base,
		token:   cfg.Token,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// PagBankOrderRequest is the outbound order-creation payload.
type PagBankOrderRequest struct {
	ReferenceID string             `json:"reference_id"`
	Customer    PagBankCustomer    `json:"customer"`
	Items       []PagBankOrderItem `json:"items"`
}

// PagBankCustomer identifies the paying customer.
type PagBankCustomer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	TaxID string `json:"tax_id"`
}

// PagBankOrderItem is a single line item on an order.
type PagBankOrderItem struct {
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitAmount int64  `json:"unit_amount"` // minor units (centavos)
}

// PagBankOrderResponse is the provider's order representation, covering only
// the fields the webhook subsystem touches.
type PagBankOrderResponse struct {
	ID          string          `json:"id"`
	ReferenceID string          `json:"reference_id"`
	Customer    PagBankCustomer `json:"customer"`
	Charges     []PagBankCharge `json:"charges"`
}

// PagBankCharge is a single payment attempt on an order.
type PagBankCharge struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount struct {
		Value    int64  `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

// CreateOrder submits a new order to PagBank.
func (c *PagBankClient) CreateOrder(ctx context.Context, req PagBankOrderRequest) (*PagBankOrderResponse, error) {
	if !c.token.IsSet() {
		return nil, types.NewAppError(types.ErrCodeConfigMissingSecret, "pagbank API token not configured", nil)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode order request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", strings.NewReader(string(body)))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build order request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(httpReq)

	resp, err := c.base.Do(httpReq)
	if err != nil {
		return nil, c.wrapError("CreateOrder", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp, "CreateOrder")
	}

	var order PagBankOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to decode order response", err)
	}

	return &order, nil
}

// GetOrder fetches the current state of an order, including its charges.
func (c *PagBankClient) GetOrder(ctx context.Context, orderID string) (*PagBankOrderResponse, error) {
	if !c.token.IsSet() {
		return nil, types.NewAppError(types.ErrCodeConfigMissingSecret, "pagbank API token not configured", nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/orders/"+orderID, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build order request", err)
	}
	c.setAuthHeaders(httpReq)

	resp, err := c.base.Do(httpReq)
	if err != nil {
		return nil, c.wrapError("GetOrder", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, types.NewAppError(types.ErrCodeNotFoundOrder, fmt.Sprintf("order %s not found at provider", orderID), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp, "GetOrder")
	}

	var order PagBankOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to decode order response", err)
	}

	return &order, nil
}

// setAuthHeaders sets the PagBank bearer token and content headers.
func (c *PagBankClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token.Unmask())
	req.Header.Set("Accept", "application/json")
}

// pagBankErrorResponse is the JSON error body returned by the PagBank API.
type pagBankErrorResponse struct {
	ErrorMessages []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error_messages"`
}

// handleErrorResponse reads a PagBank error body and maps it to an AppError.
func (c *PagBankClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamPagBank,
			fmt.Sprintf("%s: PagBank returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var provErr pagBankErrorResponse
	if jsonErr := json.Unmarshal(body, &provErr); jsonErr != nil || len(provErr.ErrorMessages) == 0 {
		return types.NewAppError(
			types.ErrCodeUpstreamPagBank,
			fmt.Sprintf("%s: PagBank returned status %d", operation, resp.StatusCode),
			nil,
		)
	}

	first := provErr.ErrorMessages[0]
	return types.NewAppErrorWithDetails(
		types.ErrCodeUpstreamPagBank,
		fmt.Sprintf("%s: PagBank error (%d): %s", operation, resp.StatusCode, first.Description),
		nil,
		map[string]any{"provider_code": first.Code},
	)
}

// wrapError wraps a BaseClient transport error with operation context.
func (c *PagBankClient) wrapError(operation string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamPagBank,
		fmt.Sprintf("%s: PagBank request failed: %v", operation, err),
		err,
	)
}
