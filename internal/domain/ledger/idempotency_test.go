package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestSynthesizeWBKey_Deterministic(t *testing.T) {
	a := SynthesizeWBKey("S1001", strPtr("sale"), strPtr("ART-1"), strPtr("460000000001"), 0)
	b := SynthesizeWBKey("S1001", strPtr("sale"), strPtr("ART-1"), strPtr("460000000001"), 0)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestSynthesizeWBKey_NullAndEmptyAreDistinct(t *testing.T) {
	// the original composite key collided exactly on these cases
	withNull := SynthesizeWBKey("S1", nil, nil, nil, 0)
	withEmpty := SynthesizeWBKey("S1", strPtr(""), strPtr(""), strPtr(""), 0)
	mixed := SynthesizeWBKey("S1", nil, strPtr(""), nil, 0)

	assert.NotEqual(t, withNull, withEmpty)
	assert.NotEqual(t, withNull, mixed)
	assert.NotEqual(t, withEmpty, mixed)
}

func TestSynthesizeWBKey_FieldBoundariesDoNotShift(t *testing.T) {
	a := SynthesizeWBKey("S1", strPtr("ab"), strPtr("c"), nil, 0)
	b := SynthesizeWBKey("S1", strPtr("a"), strPtr("bc"), nil, 0)

	assert.NotEqual(t, a, b)
}

func TestSynthesizeWBKey_OrdinalDisambiguates(t *testing.T) {
	first := SynthesizeWBKey("S1", strPtr("sale"), strPtr("A"), nil, 0)
	second := SynthesizeWBKey("S1", strPtr("sale"), strPtr("A"), nil, 1)

	assert.NotEqual(t, first, second)
}

func TestAssignWBKeys(t *testing.T) {
	batch := func() []*WBSaleEvent {
		return []*WBSaleEvent{
			{SaleID: "S1", EventType: strPtr("sale"), Article: strPtr("A")},
			{SaleID: "S1", EventType: strPtr("sale"), Article: strPtr("A")},
			{SaleID: "S1", EventType: strPtr("return"), Article: strPtr("A")},
			{SaleID: "S2", EventType: strPtr("sale"), Article: strPtr("A")},
		}
	}

	events := batch()
	AssignWBKeys(events)

	assert.Equal(t, 0, events[0].Ordinal)
	assert.Equal(t, 1, events[1].Ordinal)
	assert.Equal(t, 0, events[2].Ordinal)
	assert.Equal(t, 0, events[3].Ordinal)

	keys := map[string]struct{}{}
	for _, e := range events {
		keys[e.Key] = struct{}{}
	}
	assert.Len(t, keys, 4)

	resent := batch()
	AssignWBKeys(resent)
	for i := range events {
		require.Equal(t, events[i].Key, resent[i].Key, "re-sent batch must reproduce key %d", i)
	}
}

func TestIdempotencyKeys(t *testing.T) {
	posting := &OzonPosting{DocType: DocumentTypeFBSPosting}
	posting.Header.DocumentNumber = "0123-0001-1"
	assert.Equal(t, "OZON:FBS_POSTING:0123-0001-1", posting.IdempotencyKey())

	realization := &OzonRealization{RowID: "7", PostingNumber: "0456-0001-1"}
	realization.Header.DocumentNumber = "R-2024-05"
	assert.Equal(t, "OZON:REALIZATION:R-2024-05:7", realization.IdempotencyKey())

	order := &YMOrder{}
	order.Header.DocumentNumber = "98765"
	assert.Equal(t, "YM:ORDER:98765", order.IdempotencyKey())

	settlement := &SettlementRecord{SourceSystem: SourceWB, RowID: "12"}
	settlement.Header.DocumentNumber = "FIN-1"
	assert.Equal(t, "WB:SETTLEMENT:FIN-1:12", settlement.IdempotencyKey())

	event := &WBSaleEvent{SaleID: "S9"}
	key := event.IdempotencyKey()
	assert.Equal(t, SynthesizeWBKey("S9", nil, nil, nil, 0), key)
	assert.Equal(t, key[:16], event.LineID())
	assert.Equal(t, "S9:"+key[:16], event.RawDocumentNumber())
}
