package persistence

import (
	"strings"
)

// ValidateSortOrder normalizes orderDir to ASC or DESC.
// Returns defaultDir if the input is invalid or empty.
func ValidateSortOrder(orderDir, defaultDir string) string {
	switch normalized := strings.ToUpper(strings.TrimSpace(orderDir)); normalized {
	case "ASC", "DESC":
		return normalized
	}
	return defaultDir
}

// ValidateSortField validates the sort field against a whitelist of allowed fields.
// Returns the defaultField if the input is invalid, empty, or not in the whitelist.
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if trimmed == "" {
		return defaultField
	}
	if allowedFields[trimmed] {
		return trimmed
	}
	return defaultField
}

// LedgerSortFields contains the columns a ledger query may order by
var LedgerSortFields = map[string]bool{
	"sale_date":         true,
	"event_time":        true,
	"natural_key":       true,
	"seller_sku":        true,
	"quantity":          true,
	"line_amount":       true,
	"normalized_status": true,
	"updated_at":        true,
}

// ledgerOrder builds the ORDER BY clause of a ledger query. natural_key
// always breaks ties so pages are stable.
func ledgerOrder(sortBy, sortOrder string) string {
	field := ValidateSortField(sortBy, LedgerSortFields, "sale_date")
	dir := ValidateSortOrder(sortOrder, "ASC")
	if field == "natural_key" {
		return "natural_key " + dir
	}
	return field + " " + dir + ", natural_key"
}
