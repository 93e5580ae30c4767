package types

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCode_HTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrCodeValidationMissingField:  http.StatusBadRequest,
		ErrCodeValidationInvalidJSON:   http.StatusBadRequest,
		ErrCodeWebhookMalformedPayload: http.StatusBadRequest,
		ErrCodeAuthSignatureMissing:    http.StatusUnauthorized,
		ErrCodeAuthSignatureInvalid:    http.StatusUnauthorized,
		ErrCodeNotFoundOrder:           http.StatusNotFound,
		ErrCodeNotFoundWebhook:         http.StatusNotFound,
		ErrCodeConfigMissingSecret:     http.StatusServiceUnavailable,
		ErrCodeUpstreamPagBank:         http.StatusBadGateway,
		ErrCodeUpstreamStripe:          http.StatusBadGateway,
		ErrCodeUpstreamEmailProvider:   http.StatusBadGateway,
		ErrCodeUpstreamRateLimited:     http.StatusBadGateway,
		ErrCodeInternalDB:              http.StatusInternalServerError,
		ErrCodeInternalUnexpected:      http.StatusInternalServerError,
		ErrorCode("something_else"):    http.StatusInternalServerError,
	}

	for code, want := range cases {
		assert.Equal(t, want, code.HTTPStatus(), "code %s", code)
	}
}

func TestAppError_ErrorFormat(t *testing.T) {
	err := NewAppError(ErrCodeNotFoundOrder, "order not found", nil)
	assert.Equal(t, "not_found_order: order not found", err.Error())
}

func TestAppError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := NewAppError(ErrCodeInternalDB, "failed to persist webhook event", inner)

	assert.ErrorIs(t, err, inner)

	var appErr *AppError
	require.ErrorAs(t, error(err), &appErr)
	assert.Equal(t, ErrCodeInternalDB, appErr.Code)
}

func TestNewAppErrorWithDetails(t *testing.T) {
	err := NewAppErrorWithDetails(ErrCodeUpstreamPagBank, "provider rejected order", nil,
		map[string]any{"provider_code": "40001"})

	assert.Equal(t, "40001", err.Details["provider_code"])
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus())
}
