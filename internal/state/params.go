package state

import (
	"fmt"

	"EconLedger/internal/curve"
	"EconLedger/internal/event"
)

// Params is a versioned snapshot of the governance-tunable configuration.
// The engine never mutates these outside an approved override; the fee
// controller adjusts the live policy within the bounds they set.
type Params struct {
	Version          int64
	MaxSupply        int64
	UbiFloorBps      int64
	UbiCeilBps       int64
	TargetLow        int64
	TargetHigh       int64
	AdjustStepBps    int64
	SurvivalFloor    int64
	ControllerPeriod int64
}

// DefaultParams returns the genesis configuration.
func DefaultParams() Params {
	return Params{
		Version:          1,
		MaxSupply:        curve.DefaultMaxSupply,
		UbiFloorBps:      3000,
		UbiCeilBps:       7000,
		TargetLow:        80,
		TargetHigh:       120,
		AdjustStepBps:    500,
		SurvivalFloor:    20,
		ControllerPeriod: 1,
	}
}

// Validate rejects snapshots that could not produce a closed fee policy.
func (p Params) Validate() error {
	if p.MaxSupply <= 0 {
		return fmt.Errorf("max supply must be positive, got %d", p.MaxSupply)
	}
	if p.UbiFloorBps < 0 || p.UbiCeilBps > BpsTotal || p.UbiFloorBps > p.UbiCeilBps {
		return fmt.Errorf("ubi bounds [%d, %d] out of range", p.UbiFloorBps, p.UbiCeilBps)
	}
	if p.TargetLow > p.TargetHigh {
		return fmt.Errorf("target band [%d, %d] inverted", p.TargetLow, p.TargetHigh)
	}
	if p.AdjustStepBps <= 0 {
		return fmt.Errorf("adjust step must be positive, got %d", p.AdjustStepBps)
	}
	if p.SurvivalFloor < 0 {
		return fmt.Errorf("survival floor must be non-negative, got %d", p.SurvivalFloor)
	}
	if p.ControllerPeriod <= 0 {
		return fmt.Errorf("controller period must be positive, got %d", p.ControllerPeriod)
	}
	return nil
}

// ParamStore holds the active snapshot and enforces monotone versions.
type ParamStore struct {
	current Params
}

func NewParamStore(initial Params) (*ParamStore, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &ParamStore{current: initial}, nil
}

// Current returns the active snapshot.
func (s *ParamStore) Current() Params {
	return s.current
}

// Apply installs a governance override. Stale versions are rejected without
// touching the active snapshot.
func (s *ParamStore) Apply(evt *event.ParamOverride) error {
	if evt.Version <= s.current.Version {
		return fmt.Errorf("%w: have version %d, got %d", ErrStaleParams, s.current.Version, evt.Version)
	}

	next := Params{
		Version:          evt.Version,
		MaxSupply:        evt.MaxSupply,
		UbiFloorBps:      evt.UbiFloorBps,
		UbiCeilBps:       evt.UbiCeilBps,
		TargetLow:        evt.TargetLow,
		TargetHigh:       evt.TargetHigh,
		AdjustStepBps:    evt.AdjustStepBps,
		SurvivalFloor:    evt.SurvivalFloor,
		ControllerPeriod: evt.ControllerPeriod,
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("rejected param override v%d: %w", evt.Version, err)
	}

	s.current = next
	return nil
}

// Restore replaces the snapshot during recovery.
func (s *ParamStore) Restore(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.current = p
	return nil
}
