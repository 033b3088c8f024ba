package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func validCanonical(number string) CanonicalDocument {
	return CanonicalDocument{
		Header: Header{DocumentNumber: number, CurrencyCode: "RUB"},
		Lines: []Line{
			{LineID: "1", SKU: "SKU-1", Quantity: decimal.NewFromInt(1), LineAmount: decimal.NewFromInt(60)},
			{LineID: "2", SKU: "SKU-2", Quantity: decimal.NewFromInt(2), LineAmount: decimal.NewFromInt(40)},
		},
		State: State{RawStatus: "delivered", EventTimestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
}

func TestOzonPosting_Validate(t *testing.T) {
	p := &OzonPosting{CanonicalDocument: validCanonical("P-1"), DocType: DocumentTypeFBSPosting}
	assert.NoError(t, p.Validate())

	p.DocType = DocumentTypeOrder
	assert.ErrorIs(t, p.Validate(), ErrValidation)
}

func TestCanonical_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *CanonicalDocument)
	}{
		{"missing number", func(d *CanonicalDocument) { d.Header.DocumentNumber = "" }},
		{"missing event time", func(d *CanonicalDocument) { d.State.EventTimestamp = time.Time{} }},
		{"bad currency", func(d *CanonicalDocument) { d.Header.CurrencyCode = "RUBLE" }},
		{"empty line id", func(d *CanonicalDocument) { d.Lines[0].LineID = "" }},
		{"duplicate line id", func(d *CanonicalDocument) { d.Lines[1].LineID = "1" }},
		{"negative quantity", func(d *CanonicalDocument) { d.Lines[0].Quantity = decimal.NewFromInt(-1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &YMOrder{CanonicalDocument: validCanonical("O-1")}
			tt.mutate(&o.CanonicalDocument)
			assert.ErrorIs(t, o.Validate(), ErrValidation)
		})
	}
}

func TestWBSaleEvent_Validate(t *testing.T) {
	c := validCanonical("")
	c.Lines = c.Lines[:1]
	e := &WBSaleEvent{CanonicalDocument: c, SaleID: "S1"}

	assert.NoError(t, e.Validate())
	assert.Equal(t, "S1", e.Header.DocumentNumber)

	e.Lines = append(e.Lines, Line{LineID: "x"})
	assert.ErrorIs(t, e.Validate(), ErrValidation)
}

func TestSettlementRecord_Validate(t *testing.T) {
	c := validCanonical("FIN-1")
	c.Lines = nil
	s := &SettlementRecord{
		CanonicalDocument: c,
		SourceSystem:      SourceOzon,
		RowID:             "1",
		DocumentRef:       "P-1",
		OperationKind:     OperationSale,
	}
	assert.NoError(t, s.Validate())
	assert.True(t, s.IsSale())

	s.DocumentRef = ""
	assert.ErrorIs(t, s.Validate(), ErrValidation)
}

func TestFamilyOf(t *testing.T) {
	f, err := FamilyOf(SourceOzon, DocumentTypeFBOPosting)
	assert.NoError(t, err)
	assert.Equal(t, FamilyOzonPosting, f)

	f, err = FamilyOf(SourceYM, DocumentTypeSettlement)
	assert.NoError(t, err)
	assert.Equal(t, FamilySettlementRecord, f)

	_, err = FamilyOf(SourceWB, DocumentTypeOrder)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, StatusDelivered, NormalizeStatus(SourceOzon, "delivered"))
	assert.Equal(t, StatusShipped, NormalizeStatus(SourceYM, "DELIVERY"))
	assert.Equal(t, StatusReturned, NormalizeStatus(SourceWB, " return "))
	assert.Equal(t, StatusUnknown, NormalizeStatus(SourceWB, ""))
	assert.Equal(t, StatusUnknown, NormalizeStatus("AMAZON", "delivered"))
}

func TestSaleDateOf(t *testing.T) {
	msk, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		t.Skip("tzdata not available")
	}
	late := time.Date(2024, 5, 1, 22, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), SaleDateOf(late, time.UTC))
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), SaleDateOf(late, msk))
	assert.Equal(t, SaleDateOf(late, nil), SaleDateOf(late.In(msk), time.UTC))
}

func TestCatalogLookupKey(t *testing.T) {
	assert.Equal(t, "OZON:Abc-1", CatalogLookupKey(SourceOzon, "  Abc-1 "))
	assert.NotEqual(t, CatalogLookupKey(SourceOzon, "abc"), CatalogLookupKey(SourceOzon, "ABC"))
	assert.Equal(t, "WB:X", CatalogStub{SourceSystem: SourceWB, SellerSKU: "X"}.LookupKey())
}

func TestNaturalKey_String(t *testing.T) {
	k := NaturalKey{SourceSystem: SourceYM, DocumentNumber: "98765", LineID: "3"}
	assert.Equal(t, "YM|98765|3", k.String())
}
