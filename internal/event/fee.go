package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FeeCollected carries one fee-bearing operation's fee into the router.
// The split uses the FeePolicy active at processing time; fees already split
// under an older policy are never reallocated.
type FeeCollected struct {
	FeeID     uuid.UUID // Idempotency key
	Bioregion string    // UBI share accrues to this bioregion's period pool
	Amount    int64     // Quote currency, fixed-point quote scale
	Period    int64     // Payout period the UBI share belongs to
	Sequence  int64
	Timestamp time.Time
}

func (f *FeeCollected) IdempotencyKey() string {
	return f.FeeID.String()
}

func (f *FeeCollected) EventType() EventType {
	return EventTypeFeeCollected
}

func (f *FeeCollected) Scope() *string {
	s := f.Bioregion
	return &s
}

func (f *FeeCollected) SourceSequence() int64 {
	return f.Sequence
}

// PolicyAdjustTick triggers the monthly fee-policy controller run.
// Idempotency key: "policy:{period}": a re-entrant monthly trigger is a
// duplicate, never a second adjustment.
type PolicyAdjustTick struct {
	Period    int64
	Timestamp time.Time
}

func (p *PolicyAdjustTick) IdempotencyKey() string {
	return fmt.Sprintf("policy:%d", p.Period)
}

func (p *PolicyAdjustTick) EventType() EventType {
	return EventTypePolicyAdjustTick
}

func (p *PolicyAdjustTick) Scope() *string {
	return nil
}

func (p *PolicyAdjustTick) SourceSequence() int64 {
	return p.Period
}
