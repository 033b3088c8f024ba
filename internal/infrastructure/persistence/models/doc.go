// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain types to keep the ledger domain free of
// ORM concerns.
//
// Structure:
// - base.go: BaseModel and the columns shared by every canonical family table
// - canonical.go: one model per canonical document family
// - ledger_entry.go: the sales ledger row
// - raw_document.go: verbatim payload audit rows
// - catalog_item.go: catalog items resolved by the product matcher
package models
