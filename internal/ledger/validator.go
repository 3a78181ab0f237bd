package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}

// ValidateSupplyBound verifies circulating supply never exceeds the cap
func (v *InvariantValidator) ValidateSupplyBound(maxSupply int64) error {
	supply := v.tracker.GetCirculatingSupply()
	if supply < 0 {
		return fmt.Errorf("circulating supply is negative: %d", supply)
	}
	if supply > maxSupply {
		return fmt.Errorf("circulating supply %d exceeds max supply %d", supply, maxSupply)
	}
	return nil
}

// ValidatePoolReserveNonNegative checks the reserve backing sells stays >= 0
func (v *InvariantValidator) ValidatePoolReserveNonNegative() error {
	return v.tracker.ValidateNonNegative(NewSystemAccountKey("", SubTypeSystemPoolReserve, QuoteAsset))
}

// ValidateUbiPoolNonNegative checks a bioregion's pool is never overdrawn
func (v *InvariantValidator) ValidateUbiPoolNonNegative(bioregion string) error {
	return v.tracker.ValidateNonNegative(NewSystemAccountKey(bioregion, SubTypeSystemUbiPool, QuoteAsset))
}

// ValidateTokenNonNegative checks a participant never holds negative tokens
func (v *InvariantValidator) ValidateTokenNonNegative(participantID uuid.UUID) error {
	return v.tracker.ValidateNonNegative(NewParticipantAccountKey(participantID, SubTypeToken, TokenAsset))
}

// ValidatePendingNonNegative checks escrow is never overdrawn
func (v *InvariantValidator) ValidatePendingNonNegative(participantID uuid.UUID) error {
	return v.tracker.ValidateNonNegative(NewParticipantAccountKey(participantID, SubTypePendingPurchase, QuoteAsset))
}
