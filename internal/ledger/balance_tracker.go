package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SetBalance overwrites an account balance (snapshot restore only)
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	bt.balances[key] = balance
}

// === Participant Balance Queries ===

// GetTokenBalance returns a participant's token holdings
func (bt *BalanceTracker) GetTokenBalance(participantID uuid.UUID) int64 {
	return bt.GetBalance(NewParticipantAccountKey(participantID, SubTypeToken, TokenAsset))
}

// GetQuoteBalance returns a participant's free quote balance
func (bt *BalanceTracker) GetQuoteBalance(participantID uuid.UUID) int64 {
	return bt.GetBalance(NewParticipantAccountKey(participantID, SubTypeQuote, QuoteAsset))
}

// GetPendingPurchase returns quote escrowed awaiting epoch settlement
func (bt *BalanceTracker) GetPendingPurchase(participantID uuid.UUID) int64 {
	return bt.GetBalance(NewParticipantAccountKey(participantID, SubTypePendingPurchase, QuoteAsset))
}

// === System Balance Queries ===

// GetPoolReserve returns the quote backing held against circulating tokens
func (bt *BalanceTracker) GetPoolReserve() int64 {
	return bt.GetBalance(NewSystemAccountKey("", SubTypeSystemPoolReserve, QuoteAsset))
}

// GetCirculatingSupply returns total tokens issued. The supply account is the
// issuance counterparty, so circulating supply is its negated balance.
func (bt *BalanceTracker) GetCirculatingSupply() int64 {
	return -bt.GetBalance(NewSystemAccountKey("", SubTypeSystemTokenSupply, TokenAsset))
}

// GetUbiPool returns the undistributed UBI pool for a bioregion
func (bt *BalanceTracker) GetUbiPool(bioregion string) int64 {
	return bt.GetBalance(NewSystemAccountKey(bioregion, SubTypeSystemUbiPool, QuoteAsset))
}

// GetValidatorPool returns the accumulated validator share
func (bt *BalanceTracker) GetValidatorPool() int64 {
	return bt.GetBalance(NewSystemAccountKey("", SubTypeSystemValidatorPool, QuoteAsset))
}

// GetTreasury returns the accumulated treasury share
func (bt *BalanceTracker) GetTreasury() int64 {
	return bt.GetBalance(NewSystemAccountKey("", SubTypeSystemTreasury, QuoteAsset))
}

// === Invariant Checks ===

// ValidateSufficientTokens checks if a participant holds enough tokens
func (bt *BalanceTracker) ValidateSufficientTokens(participantID uuid.UUID, required int64) error {
	held := bt.GetTokenBalance(participantID)
	if held < required {
		return fmt.Errorf("insufficient token balance: have=%d, need=%d", held, required)
	}
	return nil
}

// ValidateSufficientPending checks escrowed quote covers a settlement leg
func (bt *BalanceTracker) ValidateSufficientPending(participantID uuid.UUID, required int64) error {
	pending := bt.GetPendingPurchase(participantID)
	if pending < required {
		return fmt.Errorf("insufficient pending purchase balance: have=%d, need=%d", pending, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
