package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

const (
	keySeparator = ":"
	// nullMarker and emptyMarker keep an absent field distinct from an empty
	// one, and both distinct from any literal value.
	nullMarker  = "\x00null"
	emptyMarker = "\x00empty"
)

func joinKey(parts ...string) string {
	return strings.Join(parts, keySeparator)
}

func discriminant(v *string) string {
	switch {
	case v == nil:
		return nullMarker
	case *v == "":
		return emptyMarker
	default:
		return strconv.Quote(*v)
	}
}

// SynthesizeWBKey derives the idempotency key of a WB sale event. The same
// source event always maps to the same key; events that differ in any
// discriminant field, or share all of them but occupy different ordinals in
// a batch, map to different keys.
func SynthesizeWBKey(saleID string, eventType, article, barcode *string, ordinal int) string {
	h := sha256.New()
	for _, part := range []string{
		string(SourceWB),
		string(DocumentTypeSaleEvent),
		strconv.Quote(saleID),
		discriminant(eventType),
		discriminant(article),
		discriminant(barcode),
		strconv.Itoa(ordinal),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// AssignWBKeys sets Ordinal and Key on every event of one pushed batch. The
// ordinal of an event is the number of earlier events in the batch with an
// identical discriminant tuple, so a re-sent batch reproduces the same keys.
func AssignWBKeys(events []*WBSaleEvent) {
	seen := make(map[string]int, len(events))
	for _, e := range events {
		tuple := strings.Join([]string{
			strconv.Quote(e.SaleID),
			discriminant(e.EventType),
			discriminant(e.Article),
			discriminant(e.Barcode),
		}, "\x1f")
		e.Ordinal = seen[tuple]
		seen[tuple]++
		e.Key = SynthesizeWBKey(e.SaleID, e.EventType, e.Article, e.Barcode, e.Ordinal)
	}
}
