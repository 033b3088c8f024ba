package ingestion

import (
	"errors"
	"time"

	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/domain/rawdoc"
	"github.com/salesledger/backend/internal/domain/shared"
)

// Envelope is one document pushed by a marketplace fetch collaborator.
// Document is the typed document when the collaborator already parsed it;
// when nil the payload is decoded with the family's JSON decoder.
type Envelope struct {
	SourceSystem   ledger.SourceSystem
	DocumentType   ledger.DocumentType
	DocumentNumber string
	FetchedAt      time.Time
	Payload        []byte
	Document       ledger.Document
}

// Outcome classifies how one document left the pipeline
type Outcome string

const (
	OutcomeIngested  Outcome = "ingested"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeCollision Outcome = "collision"
	OutcomeFailed    Outcome = "failed"
)

// Classify maps a pipeline error to its outcome. Validation errors and key
// collisions skip the document; anything else is a storage failure.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeIngested
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, ledger.ErrUnsupportedFamily),
		errors.Is(err, rawdoc.ErrInvalidKey):
		return OutcomeInvalid
	case errors.Is(err, ledger.ErrIdempotencyCollision):
		return OutcomeCollision
	}
	return OutcomeFailed
}

// DocumentResult is the outcome of one document
type DocumentResult struct {
	SourceSystem   ledger.SourceSystem
	DocumentType   ledger.DocumentType
	DocumentNumber string
	IdempotencyKey string
	Outcome        Outcome
	Entries        int
	Warnings       []string
	Err            error
}

// BatchResult is the per-document tally of one pushed batch
type BatchResult struct {
	Total      int
	Ingested   int
	Invalid    int
	Collisions int
	Failed     int
	Entries    int
	Warnings   int
	Results    []DocumentResult
	// SaleDates spans the sale dates of every entry written, when any was.
	SaleDates *shared.DateRange
}

func (b *BatchResult) add(r DocumentResult, saleDates []time.Time) {
	b.Total++
	b.Entries += r.Entries
	b.Warnings += len(r.Warnings)
	switch r.Outcome {
	case OutcomeIngested:
		b.Ingested++
	case OutcomeInvalid:
		b.Invalid++
	case OutcomeCollision:
		b.Collisions++
	default:
		b.Failed++
	}
	b.Results = append(b.Results, r)

	for _, d := range saleDates {
		if b.SaleDates == nil {
			b.SaleDates = &shared.DateRange{From: d, To: d}
			continue
		}
		if d.Before(b.SaleDates.From) {
			b.SaleDates.From = d
		}
		if d.After(b.SaleDates.To) {
			b.SaleDates.To = d
		}
	}
}

// Failures returns the results of documents that were not ingested
func (b *BatchResult) Failures() []DocumentResult {
	var out []DocumentResult
	for _, r := range b.Results {
		if r.Outcome != OutcomeIngested {
			out = append(out, r)
		}
	}
	return out
}
