package query

import "github.com/google/uuid"

// PoolResponse is the curve pool singleton for API queries.
type PoolResponse struct {
	Position     int64  `json:"position"`
	Reserve      int64  `json:"reserve"`
	Price        int64  `json:"price"` // Derived at query time from position
	LastEpoch    int64  `json:"last_epoch"`
	Phase        int32  `json:"phase"`
	Version      int64  `json:"version"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// PolicyResponse is the fee policy singleton for API queries.
type PolicyResponse struct {
	UbiBps       int64 `json:"ubi_bps"`
	ValidatorBps int64 `json:"validator_bps"`
	TreasuryBps  int64 `json:"treasury_bps"`
	Version      int64 `json:"version"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

// UbiClaimResponse is one historical UBI payout for API queries.
type UbiClaimResponse struct {
	Participant  uuid.UUID `json:"participant"`
	Bioregion    string    `json:"bioregion"`
	Amount       int64     `json:"amount"`
	Sequence     int64     `json:"sequence"`
	ClaimedAt    int64     `json:"claimed_at"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// CompoundTotal aggregates flows of one compound for an impact account.
type CompoundTotal struct {
	Compound     string `json:"compound"`
	Lifetime     int64  `json:"lifetime"`      // Sum of positive (released) quantities
	Sequestered  int64  `json:"sequestered"`   // Sum of |negative| quantities
	Remediated   int64  `json:"remediated"`    // Retired against sequestration holders
	Unremediated int64  `json:"unremediated"`  // Lifetime - Remediated
}

// ImpactResponse is an asset's or consumer's impact account for API queries.
type ImpactResponse struct {
	AccountID    uuid.UUID       `json:"account_id"`
	Compounds    []CompoundTotal `json:"compounds"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// EpochHistoryResponse is one settled epoch for API queries.
type EpochHistoryResponse struct {
	Epoch         int64 `json:"epoch"`
	RequestsCount int64 `json:"requests_count"`
	QuoteIn       int64 `json:"quote_in"`
	TokensIssued  int64 `json:"tokens_issued"`
	NewPosition   int64 `json:"new_position"`
	NewPrice      int64 `json:"new_price"`
	Sequence      int64 `json:"sequence"`
	SettledAt     int64 `json:"settled_at"`
	AsOfSequence  int64 `json:"as_of_sequence"`
}

// BalanceResponse is a participant's ledger balances for API queries.
type BalanceResponse struct {
	Participant     uuid.UUID `json:"participant"`
	Asset           string    `json:"asset"`
	TokenBalance    int64     `json:"token_balance"`
	QuoteBalance    int64     `json:"quote_balance"`
	PendingPurchase int64     `json:"pending_purchase"`
	AsOfSequence    int64     `json:"as_of_sequence"`
}

// JournalHistoryEntry is one journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset is an asset whose global balance sum is non-zero.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
