package event

import (
	"fmt"
	"time"
)

// ParamOverride replaces the engine's governance-tunable parameters with a
// new versioned snapshot. Versions must be strictly increasing; a stale
// version is rejected without touching state.
type ParamOverride struct {
	Version          int64
	MaxSupply        int64
	UbiFloorBps      int64 // Lower clamp for the UBI share of fees
	UbiCeilBps       int64 // Upper clamp
	TargetLow        int64 // Controller dead-band lower bound on average payout, quote units
	TargetHigh       int64 // Dead-band upper bound
	AdjustStepBps    int64 // Per-tick adjustment magnitude
	SurvivalFloor    int64 // Minimum per-recipient UBI payout, quote units
	ControllerPeriod int64 // Fee periods between controller ticks
	Sequence         int64
	Timestamp        time.Time
}

func (p *ParamOverride) IdempotencyKey() string {
	return fmt.Sprintf("params:%d", p.Version)
}

func (p *ParamOverride) EventType() EventType {
	return EventTypeParamOverride
}

func (p *ParamOverride) Scope() *string {
	return nil
}

func (p *ParamOverride) SourceSequence() int64 {
	return p.Sequence
}
