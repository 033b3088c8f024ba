package ledger

import "errors"

var (
	// ErrValidation marks a document that failed parsing or validation. The
	// document is skipped; the rest of the batch continues.
	ErrValidation = errors.New("ledger: document validation failed")

	// ErrIdempotencyCollision signals that an upsert by idempotency key hit a
	// conflict it cannot resolve safely. It is a defect signal, never retried.
	ErrIdempotencyCollision = errors.New("ledger: idempotency key collision")

	// ErrRelatedDocumentMissing is reported as a projection warning when a
	// cross-document lookup finds nothing. The entries are still produced.
	ErrRelatedDocumentMissing = errors.New("ledger: related document missing")

	// ErrNotFound is returned when a document or entry does not exist
	ErrNotFound = errors.New("ledger: not found")

	// ErrUnsupportedFamily is returned for a document the pipeline has no mapping for
	ErrUnsupportedFamily = errors.New("ledger: unsupported document family")
)
