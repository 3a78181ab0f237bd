package event

import (
	"github.com/google/uuid"
)

// Derived outbound facts emitted by the core after it applies a transition.
// Collaborators consume these; the core never re-ingests them.

// EpochSettled reports one applied epoch settlement.
type EpochSettled struct {
	Epoch         int64 `json:"epoch"`
	RequestsCount int   `json:"requests_count"`
	QuoteIn       int64 `json:"quote_in"`
	TokensIssued  int64 `json:"tokens_issued"`
	NewPosition   int64 `json:"new_position"`
	NewPrice      int64 `json:"new_price"`
}

// PolicyAdjusted reports one controller adjustment.
type PolicyAdjusted struct {
	Period       int64 `json:"period"`
	UbiBps       int64 `json:"ubi_bps"`
	ValidatorBps int64 `json:"validator_bps"`
	TreasuryBps  int64 `json:"treasury_bps"`
	Version      int64 `json:"version"`
}

// UbiDistributed reports one completed period distribution.
type UbiDistributed struct {
	Bioregion string `json:"bioregion"`
	Period    int64  `json:"period"`
	Claimants int64  `json:"claimants"`
	TotalPaid int64  `json:"total_paid"`
	Leftover  int64  `json:"leftover"`
}

// RemediationSettled reports one settled remediation match.
type RemediationSettled struct {
	MatchID  uuid.UUID `json:"match_id"`
	Consumer uuid.UUID `json:"consumer"`
	Holder   uuid.UUID `json:"holder"`
	Compound string    `json:"compound"`
	Matched  int64     `json:"matched"`
	Payment  int64     `json:"payment"`
}
