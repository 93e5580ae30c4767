// Package payment implements the webhook ingestion and reconciliation core:
// mapping provider status vocabularies into the internal order-status model,
// normalizing provider payloads at the boundary, and upserting canonical
// order records idempotently.
package payment

import "vitrine/internal/types"

// MapStatus translates a provider-native charge status into the internal
// order-status vocabulary. Known statuses map 1:1 by name. Unknown or future
// provider statuses pass through verbatim as their own value — reconciliation
// must not hard-fail on a provider introducing a new status.
//
// Pure and total: no I/O, always returns a value.
func MapStatus(providerStatus string) types.OrderStatus {
	switch providerStatus {
	case "AUTHORIZED":
		return types.OrderStatusAuthorized
	case "PAID":
		return types.OrderStatusPaid
	case "DECLINED":
		return types.OrderStatusDeclined
	case "CANCELED":
		return types.OrderStatusCanceled
	case "IN_ANALYSIS":
		return types.OrderStatusInAnalysis
	case "REFUNDED":
		return types.OrderStatusRefunded
	default:
		return types.OrderStatus(providerStatus)
	}
}
