package stock

import "time"

// Recorder receives ledger events worth counting. The metrics package
// provides the Prometheus implementation.
type Recorder interface {
	// LineSkipped counts a document line that had no stock effect.
	// reason is one of the Skip* constants.
	LineSkipped(engine, reason string)

	// Clamped counts a debit that would have driven a balance negative.
	Clamped(engine string)

	// ReplayFinished observes one RebuildAll run.
	ReplayFinished(status RunStatus, d time.Duration)
}

const (
	SkipMissingProduct  = "missing_product"
	SkipInvalidQuantity = "invalid_quantity"
	SkipNoContribution  = "no_contribution"
)

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) LineSkipped(string, string) {}
func (NopRecorder) Clamped(string) {}
func (NopRecorder) ReplayFinished(RunStatus, time.Duration) {}
