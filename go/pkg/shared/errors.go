package shared

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Failure kinds shared by ingestion and analytics. Match with errors.Is.
var (
	ErrParse              = errors.New("parse error")
	ErrWriteFailure       = errors.New("write failure")
	ErrIngestionStalled   = errors.New("ingestion stalled")
	ErrInsufficientData   = errors.New("insufficient data")
	ErrAlignment          = errors.New("series not aligned")
	ErrDegenerateVariance = errors.New("degenerate variance")
)

// Parse rejection reasons.
const (
	ReasonMalformed = "malformed_json"
	ReasonEventType = "event_type"
	ReasonTimestamp = "timestamp"
	ReasonPrice     = "price"
	ReasonQuantity  = "quantity"
	ReasonSymbol    = "untracked_symbol"
)

// ParseError is a rejected upstream event. It never stops the stream.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %v", e.Reason, e.Err)
	}
	return "parse " + e.Reason
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

func (e *ParseError) Unwrap() error { return e.Err }

// IngestionStalledError reports a batch that could not be stored after all
// attempts. The batch is carried so the operator can recover it.
type IngestionStalledError struct {
	Batch    Batch
	Attempts int
	Err      error
}

func (e *IngestionStalledError) Error() string {
	return fmt.Sprintf("ingestion stalled: batch %s (%d ticks) after %d attempts: %v",
		e.Batch.ID, len(e.Batch.Ticks), e.Attempts, e.Err)
}

func (e *IngestionStalledError) Is(target error) bool {
	return target == ErrIngestionStalled || target == ErrWriteFailure
}

func (e *IngestionStalledError) Unwrap() error { return e.Err }

// BatchID is a convenience for log fields.
func (e *IngestionStalledError) BatchID() uuid.UUID { return e.Batch.ID }

// AlignmentError rejects two series that are not on the same bar timeline.
type AlignmentError struct {
	Detail string
}

func (e *AlignmentError) Error() string { return "series not aligned: " + e.Detail }

func (e *AlignmentError) Is(target error) bool { return target == ErrAlignment }

// Misaligned builds an AlignmentError.
func Misaligned(format string, args ...any) error {
	return &AlignmentError{Detail: fmt.Sprintf(format, args...)}
}
