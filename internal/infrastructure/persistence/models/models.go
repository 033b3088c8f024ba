package models

// All returns every model in migration order, for AutoMigrate in tests.
func All() []any {
	return []any{
		&RawDocumentModel{},
		&OzonPostingModel{},
		&OzonRealizationModel{},
		&WBSaleEventModel{},
		&YMOrderModel{},
		&SettlementRecordModel{},
		&LedgerEntryModel{},
		&CatalogItemModel{},
	}
}
