package ledger

import "strings"

// NormalizedStatus is the cross-marketplace lifecycle status of a sale line
type NormalizedStatus string

const (
	StatusPending   NormalizedStatus = "PENDING"
	StatusShipped   NormalizedStatus = "SHIPPED"
	StatusDelivered NormalizedStatus = "DELIVERED"
	StatusCancelled NormalizedStatus = "CANCELLED"
	StatusReturned  NormalizedStatus = "RETURNED"
	StatusUnknown   NormalizedStatus = "UNKNOWN"
)

var statusMaps = map[SourceSystem]map[string]NormalizedStatus{
	SourceOzon: {
		"awaiting_registration":  StatusPending,
		"acceptance_in_progress": StatusPending,
		"awaiting_approve":       StatusPending,
		"awaiting_packaging":     StatusPending,
		"awaiting_deliver":       StatusPending,
		"arbitration":            StatusPending,
		"driver_pickup":          StatusShipped,
		"delivering":             StatusShipped,
		"delivered":              StatusDelivered,
		"cancelled":              StatusCancelled,
		"not_accepted":           StatusCancelled,
		"returned":               StatusReturned,
	},
	SourceWB: {
		"sale":   StatusDelivered,
		"s":      StatusDelivered,
		"return": StatusReturned,
		"r":      StatusReturned,
		"cancel": StatusCancelled,
		"order":  StatusPending,
	},
	SourceYM: {
		"reserved":           StatusPending,
		"unpaid":             StatusPending,
		"processing":         StatusPending,
		"pending":            StatusPending,
		"delivery":           StatusShipped,
		"pickup":             StatusShipped,
		"delivered":          StatusDelivered,
		"cancelled":          StatusCancelled,
		"returned":           StatusReturned,
		"partially_returned": StatusReturned,
	},
}

// NormalizeStatus maps a marketplace status to a NormalizedStatus.
// Unknown or empty statuses map to StatusUnknown.
func NormalizeStatus(source SourceSystem, raw string) NormalizedStatus {
	m, ok := statusMaps[source]
	if !ok {
		return StatusUnknown
	}
	if status, ok := m[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return status
	}
	return StatusUnknown
}
