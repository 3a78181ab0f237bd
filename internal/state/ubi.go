package state

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// UbiClaim is one participant's payout for one period. Immutable once
// created; at most one per (participant, period).
type UbiClaim struct {
	Participant    uuid.UUID `json:"participant"`
	Bioregion      string    `json:"bioregion"`
	Period         int64     `json:"period"`
	FloorAmount    int64     `json:"floor_amount"`
	VariableAmount int64     `json:"variable_amount"`
	Total          int64     `json:"total"`
}

type claimKey struct {
	participant uuid.UUID
	period      int64
}

// UbiDistributor computes floor-plus-ramp payouts per bioregion and period
// out of the fee-derived pool, carrying integer-division leftovers forward.
type UbiDistributor struct {
	claims    map[claimKey]UbiClaim
	carryover map[string]int64 // Undistributed pool per bioregion
}

func NewUbiDistributor() *UbiDistributor {
	return &UbiDistributor{
		claims:    make(map[claimKey]UbiClaim),
		carryover: make(map[string]int64),
	}
}

// Claim returns the existing claim for (participant, period), if any. A
// repeat distribution or claim lookup hits this rather than creating a
// second record.
func (d *UbiDistributor) Claim(participant uuid.UUID, period int64) (UbiClaim, bool) {
	c, ok := d.claims[claimKey{participant, period}]
	return c, ok
}

// Carryover returns a bioregion's undistributed balance.
func (d *UbiDistributor) Carryover(bioregion string) int64 {
	return d.carryover[bioregion]
}

// DistributionResult is the outcome of one period's distribution.
type DistributionResult struct {
	Claims    []UbiClaim
	TotalPaid int64
	Leftover  int64 // Stays in the pool for next period
}

// Distribute computes one bioregion's payouts for a period.
//
// pool is the period's UBI-share fee income; any carryover from earlier
// periods is added on top. Each eligible participant receives the survival
// floor plus a ramp share of (base_share - floor) scaled by their engagement.
// If the aggregate exceeds the pool the whole period fails with
// ErrInsufficientPool: no partial payouts, because prorating would break the
// floor guarantee.
//
// Participants who already hold a claim for the period keep their existing
// claim and are excluded from the new computation.
func (d *UbiDistributor) Distribute(
	bioregion string,
	period int64,
	pool int64,
	floor int64,
	eligible []uuid.UUID,
	engagementOf func(uuid.UUID) Engagement,
) (*DistributionResult, error) {
	if pool < 0 {
		return nil, fmt.Errorf("negative pool %d for bioregion %s", pool, bioregion)
	}
	available := pool + d.carryover[bioregion]

	// Duplicate claims are idempotent no-ops
	var recipients []uuid.UUID
	for _, p := range eligible {
		if _, ok := d.claims[claimKey{p, period}]; !ok {
			recipients = append(recipients, p)
		}
	}

	if len(recipients) == 0 {
		d.carryover[bioregion] = available
		return &DistributionResult{Leftover: available}, nil
	}

	baseShare := available / int64(len(recipients))

	claims := make([]UbiClaim, 0, len(recipients))
	var totalPaid int64
	for _, p := range recipients {
		variable := int64(0)
		if baseShare > floor {
			variable = (baseShare - floor) * RampPct(engagementOf(p)) / 100
		}
		total := floor + variable
		claims = append(claims, UbiClaim{
			Participant:    p,
			Bioregion:      bioregion,
			Period:         period,
			FloorAmount:    floor,
			VariableAmount: variable,
			Total:          total,
		})
		totalPaid += total
	}

	// Pool-sufficiency gate: reject the whole period rather than underpay
	if totalPaid > available {
		return nil, fmt.Errorf("%w: claims %d, pool %d (bioregion %s period %d)",
			ErrInsufficientPool, totalPaid, available, bioregion, period)
	}

	for _, c := range claims {
		d.claims[claimKey{c.Participant, c.Period}] = c
	}
	d.carryover[bioregion] = available - totalPaid

	return &DistributionResult{
		Claims:    claims,
		TotalPaid: totalPaid,
		Leftover:  available - totalPaid,
	}, nil
}

// ClaimsForPeriod returns all claims for a period, sorted by participant.
func (d *UbiDistributor) ClaimsForPeriod(period int64) []UbiClaim {
	var out []UbiClaim
	for k, c := range d.claims {
		if k.period == period {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Participant.String() < out[j].Participant.String()
	})
	return out
}

// UbiSnapshot is the serializable distributor state.
type UbiSnapshot struct {
	Claims    []UbiClaim       `json:"claims"`
	Carryover map[string]int64 `json:"carryover"`
}

// Snapshot returns the serializable distributor state, claims sorted for a
// stable encoding.
func (d *UbiDistributor) Snapshot() UbiSnapshot {
	s := UbiSnapshot{
		Claims:    make([]UbiClaim, 0, len(d.claims)),
		Carryover: make(map[string]int64, len(d.carryover)),
	}
	for _, c := range d.claims {
		s.Claims = append(s.Claims, c)
	}
	sort.Slice(s.Claims, func(i, j int) bool {
		if s.Claims[i].Period != s.Claims[j].Period {
			return s.Claims[i].Period < s.Claims[j].Period
		}
		return s.Claims[i].Participant.String() < s.Claims[j].Participant.String()
	})
	for b, v := range d.carryover {
		s.Carryover[b] = v
	}
	return s
}

// Restore replaces distributor state during recovery.
func (d *UbiDistributor) Restore(s UbiSnapshot) {
	d.claims = make(map[claimKey]UbiClaim, len(s.Claims))
	d.carryover = make(map[string]int64, len(s.Carryover))
	for _, c := range s.Claims {
		d.claims[claimKey{c.Participant, c.Period}] = c
	}
	for b, v := range s.Carryover {
		d.carryover[b] = v
	}
}
