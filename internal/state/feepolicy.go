package state

import "fmt"

// BpsTotal is the whole in basis points; the three split shares always sum to it.
const BpsTotal = 10_000

// Fixed validator/treasury split of whatever the UBI share leaves over.
const (
	validatorShareNum = 60
	treasuryShareNum  = 40
	shareDen          = 100
)

// FeePolicy is the active three-way fee split, versioned for
// optimistic-concurrency commits. Mutated only by the periodic controller.
type FeePolicy struct {
	UbiBps       int64 `json:"ubi_bps"`
	ValidatorBps int64 `json:"validator_bps"`
	TreasuryBps  int64 `json:"treasury_bps"`
	Version      int64 `json:"version"`
}

// DefaultFeePolicy starts the UBI share at 50% with the remainder split 60/40.
func DefaultFeePolicy() FeePolicy {
	p := FeePolicy{UbiBps: 5_000, Version: 1}
	p.rebalance()
	return p
}

// Validate checks the closure invariant. A violation detected on load is a
// fatal integrity failure, not a recoverable condition.
func (p FeePolicy) Validate() error {
	if p.UbiBps+p.ValidatorBps+p.TreasuryBps != BpsTotal {
		return fmt.Errorf("fee policy not closed: %d+%d+%d != %d",
			p.UbiBps, p.ValidatorBps, p.TreasuryBps, BpsTotal)
	}
	if p.UbiBps < 0 || p.ValidatorBps < 0 || p.TreasuryBps < 0 {
		return fmt.Errorf("fee policy has negative share: %d/%d/%d",
			p.UbiBps, p.ValidatorBps, p.TreasuryBps)
	}
	return nil
}

// Split divides one fee amount into the three destinations. UBI and validator
// legs round down; the treasury leg takes the residue so the legs always sum
// to the full amount.
func (p FeePolicy) Split(amount int64) (ubi, validator, treasury int64) {
	ubi = amount * p.UbiBps / BpsTotal
	validator = amount * p.ValidatorBps / BpsTotal
	treasury = amount - ubi - validator
	return ubi, validator, treasury
}

// rebalance recomputes validator/treasury from the current UBI share so the
// three sum to exactly BpsTotal.
func (p *FeePolicy) rebalance() {
	rest := BpsTotal - p.UbiBps
	p.ValidatorBps = rest * validatorShareNum / shareDen
	p.TreasuryBps = rest - p.ValidatorBps
}

// FeeRouter owns the policy singleton plus the per-period accumulators the
// controller reads. Fees already split under an old policy are never
// retroactively reallocated.
type FeeRouter struct {
	policy FeePolicy

	// Accumulated since the last controller tick
	distributed int64
	claimants   int64
}

func NewFeeRouter(policy FeePolicy) (*FeeRouter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &FeeRouter{policy: policy}, nil
}

// Policy returns the active split.
func (fr *FeeRouter) Policy() FeePolicy { return fr.policy }

// Split applies the active policy to one collected fee.
func (fr *FeeRouter) Split(amount int64) (ubi, validator, treasury int64) {
	return fr.policy.Split(amount)
}

// RecordDistribution feeds a completed UBI distribution into the controller's
// period accumulators.
func (fr *FeeRouter) RecordDistribution(total int64, claimants int64) {
	fr.distributed += total
	fr.claimants += claimants
}

// AdjustTick runs the discrete proportional controller once per controller
// period: if the average payout fell below the dead-band, raise the UBI share
// one step; if above, lower it one step; inside the band, leave it alone.
// Clamped to the governance bounds, and the validator/treasury remainder is
// recomputed so the policy stays closed. Accumulators reset either way.
//
// Returns the new policy and whether it changed.
func (fr *FeeRouter) AdjustTick(params Params) (FeePolicy, bool) {
	defer func() {
		fr.distributed = 0
		fr.claimants = 0
	}()

	if fr.claimants == 0 {
		return fr.policy, false
	}
	avg := fr.distributed / fr.claimants

	next := fr.policy.UbiBps
	switch {
	case avg < params.TargetLow:
		next += params.AdjustStepBps
		if next > params.UbiCeilBps {
			next = params.UbiCeilBps
		}
	case avg > params.TargetHigh:
		next -= params.AdjustStepBps
		if next < params.UbiFloorBps {
			next = params.UbiFloorBps
		}
	default:
		return fr.policy, false
	}

	if next == fr.policy.UbiBps {
		return fr.policy, false
	}

	fr.policy.UbiBps = next
	fr.policy.rebalance()
	fr.policy.Version++
	return fr.policy, true
}

// Snapshot returns the serializable router state.
func (fr *FeeRouter) Snapshot() FeeRouterSnapshot {
	return FeeRouterSnapshot{
		Policy:      fr.policy,
		Distributed: fr.distributed,
		Claimants:   fr.claimants,
	}
}

// Restore replaces router state during recovery. The closure check here is
// the load-time integrity gate.
func (fr *FeeRouter) Restore(s FeeRouterSnapshot) error {
	if err := s.Policy.Validate(); err != nil {
		return err
	}
	fr.policy = s.Policy
	fr.distributed = s.Distributed
	fr.claimants = s.Claimants
	return nil
}

// FeeRouterSnapshot is the serializable router state.
type FeeRouterSnapshot struct {
	Policy      FeePolicy `json:"policy"`
	Distributed int64     `json:"distributed"`
	Claimants   int64     `json:"claimants"`
}
