package ledger

import (
	"fmt"

	"EconLedger/internal/event"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches from events
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker // Reference for pre-checks
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// SetSequence resets the generator sequence (snapshot restore only)
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

// GeneratePurchaseEscrow creates journals for a queued purchase request.
// Moves funds: external:purchases → participant:pending_purchase
func (jg *JournalGenerator) GeneratePurchaseEscrow(evt *event.PurchaseRequested) (*Batch, error) {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  evt.RequestID.String(),
		Sequence:  jg.sequence,
		Timestamp: evt.Timestamp.UnixMicro(),
		Journals:  make([]Journal, 0, 1),
	}

	journal := Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      evt.RequestID.String(),
		Sequence:      jg.sequence,
		DebitAccount:  NewParticipantAccountKey(evt.Requester, SubTypePendingPurchase, QuoteAsset),
		CreditAccount: NewExternalAccountKey(SubTypeExternalPurchases, QuoteAsset),
		AssetID:       QuoteAsset,
		Amount:        evt.Value,
		JournalType:   JournalTypePurchaseEscrow,
		Timestamp:     evt.Timestamp.UnixMicro(),
	}

	batch.Journals = append(batch.Journals, journal)
	jg.sequence++

	return batch, nil
}

// GenerateSettlementFill creates journals for one request's share of an epoch
// settlement: escrowed quote moves into the pool reserve, and the allocated
// tokens are minted against the supply account.
// Pre-check: requester must have sufficient escrowed quote.
func (jg *JournalGenerator) GenerateSettlementFill(
	requestID uuid.UUID,
	requester uuid.UUID,
	kind event.RequestKind,
	quoteSpent int64,
	tokensOut int64,
	epoch int64,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientPending(requester, quoteSpent); err != nil {
		return nil, fmt.Errorf("settlement pre-check failed: %w", err)
	}

	batchID := uuid.New()
	eventRef := fmt.Sprintf("epoch:%d:%s", epoch, requestID)

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 2),
	}

	// Journal 1: escrow into the pool reserve
	if quoteSpent > 0 {
		reserveJournal := Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  NewSystemAccountKey("", SubTypeSystemPoolReserve, QuoteAsset),
			CreditAccount: NewParticipantAccountKey(requester, SubTypePendingPurchase, QuoteAsset),
			AssetID:       QuoteAsset,
			Amount:        quoteSpent,
			JournalType:   JournalTypePurchaseSettle,
			Timestamp:     timestamp,
		}
		batch.Journals = append(batch.Journals, reserveJournal)
	}

	// Journal 2: mint allocated tokens
	if tokensOut > 0 {
		mintType := JournalTypeTokenMint
		if kind == event.RequestKindFounderAccrual {
			mintType = JournalTypeFounderMint
		}
		mintJournal := Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  NewParticipantAccountKey(requester, SubTypeToken, TokenAsset),
			CreditAccount: NewSystemAccountKey("", SubTypeSystemTokenSupply, TokenAsset),
			AssetID:       TokenAsset,
			Amount:        tokensOut,
			JournalType:   mintType,
			Timestamp:     timestamp,
		}
		batch.Journals = append(batch.Journals, mintJournal)
	}

	jg.sequence++
	return batch, nil
}

// GenerateTokenSale creates journals for a sale back to the pool: the sold
// tokens are burned against the supply account and discounted proceeds are
// paid out of the pool reserve.
// Pre-checks: seller holds the tokens, reserve covers the proceeds.
func (jg *JournalGenerator) GenerateTokenSale(
	evt *event.TokensSold,
	proceeds int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientTokens(evt.Seller, evt.Quantity); err != nil {
		return nil, fmt.Errorf("sale pre-check failed: %w", err)
	}
	if reserve := jg.balanceTracker.GetPoolReserve(); reserve < proceeds {
		return nil, fmt.Errorf("sale pre-check failed: pool reserve %d below proceeds %d", reserve, proceeds)
	}

	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  evt.SaleID.String(),
		Sequence:  jg.sequence,
		Timestamp: evt.Timestamp.UnixMicro(),
		Journals:  make([]Journal, 0, 2),
	}

	burnJournal := Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      evt.SaleID.String(),
		Sequence:      jg.sequence,
		DebitAccount:  NewSystemAccountKey("", SubTypeSystemTokenSupply, TokenAsset),
		CreditAccount: NewParticipantAccountKey(evt.Seller, SubTypeToken, TokenAsset),
		AssetID:       TokenAsset,
		Amount:        evt.Quantity,
		JournalType:   JournalTypeTokenBurn,
		Timestamp:     evt.Timestamp.UnixMicro(),
	}
	batch.Journals = append(batch.Journals, burnJournal)

	if proceeds > 0 {
		proceedsJournal := Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      evt.SaleID.String(),
			Sequence:      jg.sequence,
			DebitAccount:  NewParticipantAccountKey(evt.Seller, SubTypeQuote, QuoteAsset),
			CreditAccount: NewSystemAccountKey("", SubTypeSystemPoolReserve, QuoteAsset),
			AssetID:       QuoteAsset,
			Amount:        proceeds,
			JournalType:   JournalTypeSellProceeds,
			Timestamp:     evt.Timestamp.UnixMicro(),
		}
		batch.Journals = append(batch.Journals, proceedsJournal)
	}

	jg.sequence++
	return batch, nil
}

// GenerateFeeSplit creates journals routing one collected fee into the three
// destination pools. Amounts are pre-computed by the fee policy; zero legs
// are skipped.
func (jg *JournalGenerator) GenerateFeeSplit(
	evt *event.FeeCollected,
	ubiAmount int64,
	validatorAmount int64,
	treasuryAmount int64,
) (*Batch, error) {
	if ubiAmount+validatorAmount+treasuryAmount != evt.Amount {
		return nil, fmt.Errorf("fee split does not sum to fee amount: %d+%d+%d != %d",
			ubiAmount, validatorAmount, treasuryAmount, evt.Amount)
	}

	batchID := uuid.New()
	ts := evt.Timestamp.UnixMicro()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  evt.FeeID.String(),
		Sequence:  jg.sequence,
		Timestamp: ts,
		Journals:  make([]Journal, 0, 3),
	}

	legs := []struct {
		amount int64
		debit  AccountKey
	}{
		{ubiAmount, NewSystemAccountKey(evt.Bioregion, SubTypeSystemUbiPool, QuoteAsset)},
		{validatorAmount, NewSystemAccountKey("", SubTypeSystemValidatorPool, QuoteAsset)},
		{treasuryAmount, NewSystemAccountKey("", SubTypeSystemTreasury, QuoteAsset)},
	}

	for _, leg := range legs {
		if leg.amount <= 0 {
			continue
		}
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      evt.FeeID.String(),
			Sequence:      jg.sequence,
			DebitAccount:  leg.debit,
			CreditAccount: NewExternalAccountKey(SubTypeExternalFees, QuoteAsset),
			AssetID:       QuoteAsset,
			Amount:        leg.amount,
			JournalType:   JournalTypeFeeSplit,
			Timestamp:     ts,
		})
	}

	jg.sequence++
	return batch, nil
}

// GenerateUbiPayout creates journals paying one recipient's UBI share from a
// bioregion's pool.
// Pre-check: the pool must cover the payout.
func (jg *JournalGenerator) GenerateUbiPayout(
	bioregion string,
	period int64,
	recipient uuid.UUID,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	pool := jg.balanceTracker.GetUbiPool(bioregion)
	if pool < amount {
		return nil, fmt.Errorf("ubi payout pre-check failed: pool %d below payout %d", pool, amount)
	}

	batchID := uuid.New()
	eventRef := fmt.Sprintf("ubi:%s:%d:%s", bioregion, period, recipient)

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals: []Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  NewParticipantAccountKey(recipient, SubTypeQuote, QuoteAsset),
			CreditAccount: NewSystemAccountKey(bioregion, SubTypeSystemUbiPool, QuoteAsset),
			AssetID:       QuoteAsset,
			Amount:        amount,
			JournalType:   JournalTypeUbiPayout,
			Timestamp:     timestamp,
		}},
	}

	jg.sequence++
	return batch, nil
}

// GenerateRemediationPayment creates journals moving token payment from the
// consumer being remediated to the sequestration holder.
// Pre-check: consumer holds the payment amount.
func (jg *JournalGenerator) GenerateRemediationPayment(
	matchID uuid.UUID,
	consumer uuid.UUID,
	holder uuid.UUID,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientTokens(consumer, amount); err != nil {
		return nil, fmt.Errorf("remediation pre-check failed: %w", err)
	}

	batchID := uuid.New()
	eventRef := fmt.Sprintf("%s:payment", matchID)

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals: []Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  NewParticipantAccountKey(holder, SubTypeToken, TokenAsset),
			CreditAccount: NewParticipantAccountKey(consumer, SubTypeToken, TokenAsset),
			AssetID:       TokenAsset,
			Amount:        amount,
			JournalType:   JournalTypeRemediationPayment,
			Timestamp:     timestamp,
		}},
	}

	jg.sequence++
	return batch, nil
}
