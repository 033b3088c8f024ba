package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/salesledger/backend/internal/domain/ledger"
)

// maxOrdinalSearch bounds the scan that recovers a WB event's batch ordinal
// from its raw document number.
const maxOrdinalSearch = 1024

// Decode parses a payload into the typed document of its family. The
// payload is the family's JSON shape: the canonical header, lines, state
// and the family's own fields at the top level.
func Decode(source ledger.SourceSystem, docType ledger.DocumentType, payload []byte) (ledger.Document, error) {
	family, err := ledger.FamilyOf(source, docType)
	if err != nil {
		return nil, err
	}

	var doc ledger.Document
	switch family {
	case ledger.FamilyOzonPosting:
		doc = &ledger.OzonPosting{DocType: docType}
	case ledger.FamilyOzonRealization:
		doc = &ledger.OzonRealization{}
	case ledger.FamilyWBSaleEvent:
		doc = &ledger.WBSaleEvent{}
	case ledger.FamilyYMOrder:
		doc = &ledger.YMOrder{}
	case ledger.FamilySettlementRecord:
		doc = &ledger.SettlementRecord{SourceSystem: source}
	default:
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnsupportedFamily, family)
	}

	if err := json.Unmarshal(payload, doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s/%s: %v", ledger.ErrValidation, source, docType, err)
	}
	if err := checkIdentity(doc, source, docType); err != nil {
		return nil, err
	}
	return doc, nil
}

// checkIdentity rejects a document whose own fields disagree with the
// envelope it arrived in.
func checkIdentity(doc ledger.Document, source ledger.SourceSystem, docType ledger.DocumentType) error {
	if doc.Source() != source || doc.Type() != docType {
		return fmt.Errorf("%w: document is %s/%s but was pushed as %s/%s",
			ledger.ErrValidation, doc.Source(), doc.Type(), source, docType)
	}
	return nil
}

// recoverWBOrdinal finds the batch ordinal an event was stored under. The
// raw number of a WB event is "<sale_id>:<line_id>" and the line id is a
// prefix of the key, which depends on the ordinal.
func recoverWBOrdinal(e *ledger.WBSaleEvent, rawNumber string) error {
	_, lineID, ok := strings.Cut(rawNumber, ":")
	if !ok {
		return fmt.Errorf("%w: wb raw number %q has no line id", ledger.ErrValidation, rawNumber)
	}
	for ordinal := 0; ordinal < maxOrdinalSearch; ordinal++ {
		e.Ordinal = ordinal
		e.Key = ledger.SynthesizeWBKey(e.SaleID, e.EventType, e.Article, e.Barcode, ordinal)
		if e.LineID() == lineID {
			return nil
		}
	}
	return fmt.Errorf("%w: no ordinal of sale %s matches line %s", ledger.ErrValidation, e.SaleID, lineID)
}
