package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"vitrine/internal/types"
)

// resendAPIBase is the default Resend API base URL.
// Overridable in tests via ResendClientConfig.BaseURL.
const resendAPIBase = "https://api.resend.com"

// ResendClientConfig holds the configuration for creating a ResendClient.
type ResendClientConfig struct {
	APIKey      types.SecretString
	FromAddress string
	FromName    string
	BaseURL     string // Override for testing; defaults to resendAPIBase
	Logger      *slog.Logger
}

// ResendClient sends transactional email through the Resend HTTP API via
// BaseClient. Template rendering happens upstream; this client only
// transmits pre-rendered subject and HTML content.
type ResendClient struct {
	base    *BaseClient
	apiKey  types.SecretString
	from    string
	baseURL string
	logger  *slog.Logger
}

// NewResendClient creates a new ResendClient.
func NewResendClient(httpClient *http.Client, cfg ResendClientConfig) *ResendClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = resendAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"resend",
		DefaultRetryPolicy(),
		"Vitrine/1.0",
		WithSleepFunc(time.Sleep),
	)

	return &ResendClient{
		base:    base,
		apiKey:  cfg.APIKey,
		from:    formatFrom(cfg.FromName, cfg.FromAddress),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// NewResendClientWithBase creates a ResendClient with a pre-configured
// BaseClient. Useful in tests to control retry and breaker behavior.
func NewResendClientWithBase(base *BaseClient, cfg ResendClientConfig) *ResendClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = resendAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ResendClient{
		base:    base,
		apiKey:  cfg.APIKey,
		from:    formatFrom(cfg.FromName, cfg.FromAddress),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

func formatFrom(name, address string) string {
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", name, address)
}

type resendSendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendSendResponse struct {
	ID string `json:"id"`
}

// Send transmits a pre-rendered email and returns the provider message ID.
func (c *ResendClient) Send(ctx context.Context, to string, subject string, html string) (string, error) {
	if !c.apiKey.IsSet() {
		return "", types.NewAppError(types.ErrCodeConfigMissingSecret, "email provider API key not configured", nil)
	}

	body, err := json.Marshal(resendSendRequest{
		From:    c.from,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode email request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", strings.NewReader(string(body)))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build email request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		if _, ok := err.(*types.AppError); ok {
			return "", err
		}
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, "email send request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", types.NewAppError(
			types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("email provider returned status %d", resp.StatusCode),
			nil,
		)
	}

	var sent resendSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sent); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to decode email response", err)
	}

	return sent.ID, nil
}
