package core

import (
	"errors"
	"fmt"
)

// ErrStaleTick marks a clock-driven tick at or behind the last one seen.
// Callers must skip the event entirely; dispatching a stale tick would
// re-settle an already-settled window.
var ErrStaleTick = errors.New("stale tick")

// SequenceValidator validates source sequences per partition.
// Not thread-safe; only accessed from the single-threaded engine loop.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         NewSequenceMetrics(),
	}
}

// ValidateSequence checks source sequence ordering
func (sv *SequenceValidator) ValidateSequence(
	partition string,
	sourceSequence int64,
	idempotencyKey string,
	isDuplicate bool,
) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		// Stale or duplicate
		if isDuplicate {
			return nil
		}
		// Out-of-order delivery of NEW event
		sv.metrics.RecordOutOfOrder(partition)
		return fmt.Errorf("out-of-order event: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	}

	// sourceSequence > expected - gap detected
	sv.metrics.RecordGap(partition, expected, sourceSequence)
	return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
		partition, expected, sourceSequence)
}

// ValidateTickSequence validates clock-driven ticks (epoch and controller
// signals). Gaps are tolerated: a missed tick means the window settles late,
// not that state diverged. Stale ticks fail with ErrStaleTick so the caller
// can drop them without dispatching.
func (sv *SequenceValidator) ValidateTickSequence(
	clock string,
	tick int64,
) error {
	partition := fmt.Sprintf("tick:%s", clock)

	expected := sv.expectedNextSeq[partition]

	if tick <= expected {
		return fmt.Errorf("%w: clock=%s, last=%d, got=%d", ErrStaleTick, clock, expected, tick)
	}

	if tick > expected+1 {
		sv.metrics.RecordTickGap(clock, expected, tick)
		// Continue processing - tick gaps are tolerable
	}

	sv.expectedNextSeq[partition] = tick

	return nil
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// SetExpectedSequence initializes expected sequence (used during recovery)
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// GetAllPartitions returns a copy of all partition cursors (for snapshots)
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
// Not thread-safe; only accessed from the single-threaded engine loop.
type SequenceMetrics struct {
	gaps       map[string]int64 // partition -> gap count
	outOfOrder map[string]int64 // partition -> out-of-order count
	tickGaps   map[string]int64 // clock -> tick gap count
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
		tickGaps:   make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string, expected, got int64) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) RecordTickGap(clock string, expected, got int64) {
	m.tickGaps[clock]++
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}

func (m *SequenceMetrics) GetTickGaps(clock string) int64 {
	return m.tickGaps[clock]
}
