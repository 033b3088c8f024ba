// Package projection turns canonical documents into ledger entries.
//
// Every function here is pure: the same document (and related document)
// always yields the same entries, so projection can be re-run at will and
// the ledger upsert absorbs the repetition.
package projection

import (
	"fmt"
	"time"

	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// Warning is a non-fatal projection finding the caller must log
type Warning struct {
	Err     error
	Message string
}

func (w Warning) Error() string {
	return w.Message + ": " + w.Err.Error()
}

func (w Warning) Unwrap() error {
	return w.Err
}

// Result is the output of projecting one document
type Result struct {
	Entries  []ledger.LedgerEntry
	Warnings []Warning
}

// Builder projects canonical documents. Location determines sale_date.
type Builder struct {
	Location *time.Location
}

// NewBuilder creates a builder deriving sale dates in loc (UTC when nil)
func NewBuilder(loc *time.Location) Builder {
	if loc == nil {
		loc = time.UTC
	}
	return Builder{Location: loc}
}

// Project dispatches on the document family. related is the document found
// by cross-document lookup; only realization rows use it, and nil means the
// lookup found nothing.
func (b Builder) Project(doc ledger.Document, related ledger.Document) (Result, error) {
	switch d := doc.(type) {
	case *ledger.OzonPosting:
		return b.ProjectOzonPosting(d), nil
	case *ledger.OzonRealization:
		var posting *ledger.OzonPosting
		if related != nil {
			p, ok := related.(*ledger.OzonPosting)
			if !ok {
				return Result{}, fmt.Errorf("%w: realization related to %s", ledger.ErrUnsupportedFamily, related.Family())
			}
			posting = p
		}
		return b.ProjectOzonRealization(d, posting), nil
	case *ledger.WBSaleEvent:
		return b.ProjectWBSaleEvent(d), nil
	case *ledger.YMOrder:
		return b.ProjectYMOrder(d), nil
	case *ledger.SettlementRecord:
		return Result{}, nil
	}
	return Result{}, fmt.Errorf("%w: %T", ledger.ErrUnsupportedFamily, doc)
}

// ---------------------------------------------------------------------------
// one-to-one families
// ---------------------------------------------------------------------------

// ProjectOzonPosting maps each FBS posting line to one entry. FBO postings
// produce nothing: their sales are recognized from realization rows.
func (b Builder) ProjectOzonPosting(p *ledger.OzonPosting) Result {
	if p.DocType != ledger.DocumentTypeFBSPosting {
		return Result{}
	}
	return Result{Entries: b.oneToOne(p, ledger.SchemeFBS)}
}

// ProjectWBSaleEvent maps the event's single line to one entry keyed by the
// event's synthesized line id.
func (b Builder) ProjectWBSaleEvent(e *ledger.WBSaleEvent) Result {
	entries := make([]ledger.LedgerEntry, 0, len(e.Lines))
	for _, line := range e.Lines {
		entry := b.entryFromLine(e, &e.CanonicalDocument, line, ledger.SchemeFBW)
		entry.Key.DocumentNumber = e.SaleID
		entry.Key.LineID = e.LineID()
		entries = append(entries, entry)
	}
	return Result{Entries: entries}
}

// ProjectYMOrder maps each order line to one entry
func (b Builder) ProjectYMOrder(o *ledger.YMOrder) Result {
	return Result{Entries: b.oneToOne(o, ledger.SchemeFBS)}
}

func (b Builder) oneToOne(doc ledger.Document, scheme ledger.Scheme) []ledger.LedgerEntry {
	c := doc.Canonical()
	entries := make([]ledger.LedgerEntry, 0, len(c.Lines))
	for _, line := range c.Lines {
		entries = append(entries, b.entryFromLine(doc, c, line, scheme))
	}
	return entries
}

// ---------------------------------------------------------------------------
// cross-document allocation
// ---------------------------------------------------------------------------

// ProjectOzonRealization distributes the row's total across the lines of the
// FBO posting it references, in proportion to their line amounts. Entries
// sit under the posting number with line ids "<report>:<row>:<line>". Without
// the posting it falls back to the row's own items split evenly and reports
// ErrRelatedDocumentMissing as a warning; no line is ever dropped.
func (b Builder) ProjectOzonRealization(r *ledger.OzonRealization, posting *ledger.OzonPosting) Result {
	var res Result

	lines := r.Lines
	var shares []decimal.Decimal
	if posting != nil && len(posting.Lines) > 0 {
		lines = posting.Lines
		weights := make([]decimal.Decimal, len(lines))
		for i, line := range lines {
			weights[i] = line.LineAmount
		}
		shares = Allocate(r.TotalAmount, weights)
	} else {
		res.Warnings = append(res.Warnings, Warning{
			Err: ledger.ErrRelatedDocumentMissing,
			Message: fmt.Sprintf("realization %s row %s: posting %s not found, splitting %s evenly",
				r.ReportNumber(), r.RowID, r.PostingNumber, r.TotalAmount.StringFixed(MoneyPlaces)),
		})
		if len(lines) == 0 {
			lines = []ledger.Line{{LineID: "0", Quantity: decimal.NewFromInt(1)}}
		}
		shares = AllocateEvenly(r.TotalAmount, len(lines))
	}

	res.Entries = make([]ledger.LedgerEntry, 0, len(lines))
	for i, line := range lines {
		entry := b.entryFromLine(r, &r.CanonicalDocument, line, ledger.SchemeFBO)
		entry.Key.DocumentNumber = r.PostingNumber
		entry.Key.LineID = r.EntryLineID(line.LineID)
		entry.LineAmount = shares[i]
		entry.EffectivePrice = unitPrice(shares[i], line.Quantity)
		if posting != nil {
			fillFromPosting(&entry, posting)
		}
		res.Entries = append(res.Entries, entry)
	}
	return res
}

// fillFromPosting completes references the realization row does not carry
func fillFromPosting(entry *ledger.LedgerEntry, posting *ledger.OzonPosting) {
	if entry.ConnectionRef == nil {
		entry.ConnectionRef = posting.Header.ConnectionRef
	}
	if entry.OrganizationRef == nil {
		entry.OrganizationRef = posting.Header.OrganizationRef
	}
	if entry.CurrencyCode == "" {
		entry.CurrencyCode = posting.Header.CurrencyCode
	}
}

func unitPrice(amount, quantity decimal.Decimal) decimal.Decimal {
	if quantity.IsZero() {
		return amount
	}
	return amount.DivRound(quantity, MoneyPlaces)
}

// ---------------------------------------------------------------------------
// shared mapping
// ---------------------------------------------------------------------------

func (b Builder) entryFromLine(doc ledger.Document, c *ledger.CanonicalDocument, line ledger.Line, scheme ledger.Scheme) ledger.LedgerEntry {
	status := c.State.NormalizedStatus
	if status == "" {
		status = ledger.NormalizeStatus(doc.Source(), c.State.RawStatus)
	}
	return ledger.LedgerEntry{
		Key: ledger.NaturalKey{
			SourceSystem:   doc.Source(),
			DocumentNumber: c.Header.DocumentNumber,
			LineID:         line.LineID,
		},
		Scheme:            scheme,
		DocumentType:      doc.Type(),
		ConnectionRef:     c.Header.ConnectionRef,
		OrganizationRef:   c.Header.OrganizationRef,
		RegistratorRef:    c.ID,
		RegistratorFamily: doc.Family(),
		EventTime:         c.State.EventTimestamp.UTC(),
		SaleDate:          ledger.SaleDateOf(c.State.EventTimestamp, b.Location),
		SellerSKU:         line.SKU,
		MarketplaceItemID: line.MarketplaceItemID,
		Barcode:           line.Barcode,
		Title:             line.Title,
		Quantity:          line.Quantity,
		ListPrice:         line.ListPrice,
		DiscountTotal:     line.Discount,
		EffectivePrice:    line.EffectivePrice,
		LineAmount:        line.LineAmount,
		CurrencyCode:      c.Header.CurrencyCode,
		SourceStatus:      c.State.RawStatus,
		NormalizedStatus:  status,
		SchemaVersion:     ledger.CurrentSchemaVersion,
	}
}
