package core_test

import (
	"testing"
	"time"

	"EconLedger/internal/core"
	"EconLedger/internal/event"
	"EconLedger/internal/ledger"

	"github.com/google/uuid"
)

// --- Test helpers ---

// newTestCore creates a DeterministicCore with buffered channels and no DB checker.
func newTestCore(t *testing.T) (*core.DeterministicCore, chan core.CoreOutput, chan core.CoreOutput) {
	t.Helper()
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c, err := core.NewDeterministicCore(0, persistChan, projChan, nil, nil)
	if err != nil {
		t.Fatalf("NewDeterministicCore failed: %v", err)
	}
	return c, persistChan, projChan
}

func mustPurchase(requester uuid.UUID, value int64, seq int64) *event.PurchaseRequested {
	return &event.PurchaseRequested{
		RequestID: uuid.New(),
		Requester: requester,
		Value:     value,
		Kind:      event.RequestKindPurchase,
		Sequence:  seq,
		Timestamp: time.UnixMicro(1000000 + seq*1000),
	}
}

func mustFounderAccrual(requester uuid.UUID, value int64, seq int64) *event.PurchaseRequested {
	return &event.PurchaseRequested{
		RequestID: uuid.New(),
		Requester: requester,
		Value:     value,
		Kind:      event.RequestKindFounderAccrual,
		Sequence:  seq,
		Timestamp: time.UnixMicro(1000000 + seq*1000),
	}
}

func mustTokensSold(seller uuid.UUID, quantity int64, seq int64) *event.TokensSold {
	return &event.TokensSold{
		SaleID:    uuid.New(),
		Seller:    seller,
		Quantity:  quantity,
		Sequence:  seq,
		Timestamp: time.UnixMicro(1000000 + seq*1000),
	}
}

func mustEpochTick(epoch int64) *event.EpochTick {
	return &event.EpochTick{
		Epoch:     epoch,
		Timestamp: time.UnixMicro(2000000 + epoch*1000),
	}
}

func mustFeeCollected(bioregion string, amount, period, seq int64) *event.FeeCollected {
	return &event.FeeCollected{
		FeeID:     uuid.New(),
		Bioregion: bioregion,
		Amount:    amount,
		Period:    period,
		Sequence:  seq,
		Timestamp: time.UnixMicro(3000000 + seq*1000),
	}
}

func mustVerification(p uuid.UUID, tier event.VerificationTier, bioregion string, seq int64) *event.VerificationUpdated {
	return &event.VerificationUpdated{
		Participant: p,
		Tier:        tier,
		Bioregion:   bioregion,
		Sequence:    seq,
		Timestamp:   time.UnixMicro(4000000 + seq*1000),
	}
}

func mustEngagement(p uuid.UUID, bioregion string, period int64, txCount, counterparties uint32, seq int64) *event.EngagementRecorded {
	return &event.EngagementRecorded{
		Participant:            p,
		Bioregion:              bioregion,
		Period:                 period,
		TransactionCount:       txCount,
		DistinctCounterparties: counterparties,
		Sequence:               seq,
		Timestamp:              time.UnixMicro(5000000 + seq*1000),
	}
}

func mustUbiDistribute(bioregion string, period int64) *event.UbiDistribute {
	return &event.UbiDistribute{
		Bioregion: bioregion,
		Period:    period,
		Timestamp: time.UnixMicro(6000000 + period*1000),
	}
}

func mustFlowRecorded(kind event.DestinationKind, dest uuid.UUID, code string, quantity int64, unit string, seq int64) *event.FlowRecorded {
	return &event.FlowRecorded{
		FlowID:          uuid.New(),
		Activity:        uuid.New(),
		DestinationKind: kind,
		DestinationID:   dest,
		Compound:        code,
		Quantity:        quantity,
		Unit:            unit,
		Method:          "measured",
		Confidence:      90,
		EvidenceHash:    "sha256:abc",
		Sequence:        seq,
		Timestamp:       time.UnixMicro(7000000 + seq*1000),
	}
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

func findDerived(outputs []core.CoreOutput, et event.EventType) *event.EventEnvelope {
	for _, o := range outputs {
		if o.Envelope.EventType == et {
			return o.Envelope
		}
	}
	return nil
}

// ============================================================================
// Test: Purchase Queueing
// ============================================================================

func TestPurchaseRequested_EscrowsValue(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	buyer := uuid.New()

	if err := c.ProcessEvent(mustPurchase(buyer, 5_000_000, 0)); err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}

	batch := outputs[0].Batch
	if len(batch.Journals) != 1 {
		t.Fatalf("expected 1 journal, got %d", len(batch.Journals))
	}
	if batch.Journals[0].JournalType != ledger.JournalTypePurchaseEscrow {
		t.Errorf("expected JournalTypePurchaseEscrow, got %d", batch.Journals[0].JournalType)
	}

	pending := c.GetBalance(ledger.NewParticipantAccountKey(buyer, ledger.SubTypePendingPurchase, ledger.QuoteAsset))
	if pending != 5_000_000 {
		t.Errorf("expected pending escrow 5_000_000, got %d", pending)
	}
	if view := c.GetPoolView(); view.Queue != 1 {
		t.Errorf("expected queue depth 1, got %d", view.Queue)
	}
}

func TestPurchaseRequested_DuplicateIsNoOp(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	buyer := uuid.New()

	evt := mustPurchase(buyer, 5_000_000, 0)
	if err := c.ProcessEvent(evt); err != nil {
		t.Fatalf("first ProcessEvent failed: %v", err)
	}
	if err := c.ProcessEvent(evt); err != nil {
		t.Fatalf("duplicate ProcessEvent failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output after duplicate, got %d", len(outputs))
	}
	if view := c.GetPoolView(); view.Queue != 1 {
		t.Errorf("expected queue depth 1, got %d", view.Queue)
	}
}

func TestPurchaseRequested_OutOfOrderRejected(t *testing.T) {
	c, _, _ := newTestCore(t)
	buyer := uuid.New()

	if err := c.ProcessEvent(mustPurchase(buyer, 1_000_000, 0)); err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	// Gap: seq jumps 1 -> 2
	if err := c.ProcessEvent(mustPurchase(buyer, 1_000_000, 2)); err == nil {
		t.Fatal("expected sequence gap rejection, got nil")
	}
}

// ============================================================================
// Test: Epoch Settlement
// ============================================================================

func TestEpochTick_SettlesQueueAgainstCurve(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	buyer := uuid.New()

	// cost(0, 100e9) = (100e9)^2 / (2 * 400e9) = 12_500_000_000
	if err := c.ProcessEvent(mustPurchase(buyer, 12_500_000_000, 0)); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	drainOutputs(persistCh)

	if err := c.ProcessEvent(mustEpochTick(1)); err != nil {
		t.Fatalf("epoch tick failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	// One fill batch plus the derived EpochSettled envelope
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs))
	}

	fill := outputs[0].Batch
	if len(fill.Journals) != 2 {
		t.Fatalf("expected 2 journals in fill batch, got %d", len(fill.Journals))
	}

	tokens := c.GetBalance(ledger.NewParticipantAccountKey(buyer, ledger.SubTypeToken, ledger.TokenAsset))
	if tokens != 100_000_000_000 {
		t.Errorf("expected 100e9 tokens, got %d", tokens)
	}

	view := c.GetPoolView()
	if view.Position != 100_000_000_000 {
		t.Errorf("expected position 100e9, got %d", view.Position)
	}
	if view.Reserve != 12_500_000_000 {
		t.Errorf("expected reserve 12.5e9, got %d", view.Reserve)
	}
	// price(100e9) = 100e9 * 1e6 / 400e9 = 250_000
	if view.Price != 250_000 {
		t.Errorf("expected price 250_000, got %d", view.Price)
	}
	if view.Queue != 0 {
		t.Errorf("expected drained queue, got depth %d", view.Queue)
	}
	if view.LastEpoch != 1 {
		t.Errorf("expected last epoch 1, got %d", view.LastEpoch)
	}

	settled := findDerived(outputs, event.EventTypeEpochSettled)
	if settled == nil {
		t.Fatal("expected derived EpochSettled envelope")
	}
	if settled.Sequence <= outputs[0].Envelope.Sequence {
		t.Errorf("derived event sequence %d not after fill sequence %d",
			settled.Sequence, outputs[0].Envelope.Sequence)
	}
}

func TestEpochTick_SecondWindowPaysHigherPrice(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	early := uuid.New()
	late := uuid.New()

	if err := c.ProcessEvent(mustPurchase(early, 12_500_000_000, 0)); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if err := c.ProcessEvent(mustEpochTick(1)); err != nil {
		t.Fatalf("epoch 1 failed: %v", err)
	}

	// cost(100e9, 6e9) = (2*100e9*6e9 + (6e9)^2) / (2*400e9) = 1_545_000_000
	if err := c.ProcessEvent(mustPurchase(late, 1_545_000_000, 1)); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if err := c.ProcessEvent(mustEpochTick(2)); err != nil {
		t.Fatalf("epoch 2 failed: %v", err)
	}
	drainOutputs(persistCh)

	tokens := c.GetBalance(ledger.NewParticipantAccountKey(late, ledger.SubTypeToken, ledger.TokenAsset))
	if tokens != 6_000_000_000 {
		t.Errorf("expected 6e9 tokens for the late buyer, got %d", tokens)
	}

	view := c.GetPoolView()
	if view.Position != 106_000_000_000 {
		t.Errorf("expected position 106e9, got %d", view.Position)
	}
	if view.Price != 265_000 {
		t.Errorf("expected price 265_000, got %d", view.Price)
	}
}

func TestEpochTick_EmptyQueueStillAdvancesEpoch(t *testing.T) {
	c, persistCh, _ := newTestCore(t)

	if err := c.ProcessEvent(mustEpochTick(1)); err != nil {
		t.Fatalf("epoch tick failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	// Empty settlement batch plus derived EpochSettled
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs))
	}
	if len(outputs[0].Batch.Journals) != 0 {
		t.Errorf("expected empty batch, got %d journals", len(outputs[0].Batch.Journals))
	}
	if view := c.GetPoolView(); view.LastEpoch != 1 {
		t.Errorf("expected last epoch 1, got %d", view.LastEpoch)
	}
}

func TestEpochTick_FounderAccrualSameCurve(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	founder := uuid.New()
	buyer := uuid.New()

	if err := c.ProcessEvent(mustPurchase(buyer, 1_000_000_000, 0)); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if err := c.ProcessEvent(mustFounderAccrual(founder, 1_000_000_000, 1)); err != nil {
		t.Fatalf("founder accrual failed: %v", err)
	}
	if err := c.ProcessEvent(mustEpochTick(1)); err != nil {
		t.Fatalf("epoch tick failed: %v", err)
	}
	outputs := drainOutputs(persistCh)

	buyerTokens := c.GetBalance(ledger.NewParticipantAccountKey(buyer, ledger.SubTypeToken, ledger.TokenAsset))
	founderTokens := c.GetBalance(ledger.NewParticipantAccountKey(founder, ledger.SubTypeToken, ledger.TokenAsset))

	// Same value, same window: same allocation up to the 1-unit remainder,
	// which goes to the earlier request.
	diff := buyerTokens - founderTokens
	if diff < 0 || diff > 1 {
		t.Errorf("founder accrual priced off the same curve: buyer %d vs founder %d",
			buyerTokens, founderTokens)
	}

	// Founder fill uses the founder mint journal type
	var sawFounderMint bool
	for _, o := range outputs {
		if o.Batch == nil {
			continue
		}
		for _, j := range o.Batch.Journals {
			if j.JournalType == ledger.JournalTypeFounderMint {
				sawFounderMint = true
			}
		}
	}
	if !sawFounderMint {
		t.Error("expected a JournalTypeFounderMint journal")
	}
}

func TestEpochTick_DuplicateTickIsNoOp(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	buyer := uuid.New()

	if err := c.ProcessEvent(mustPurchase(buyer, 1_000_000_000, 0)); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if err := c.ProcessEvent(mustEpochTick(1)); err != nil {
		t.Fatalf("epoch tick failed: %v", err)
	}
	drainOutputs(persistCh)
	position := c.GetPoolView().Position

	if err := c.ProcessEvent(mustEpochTick(1)); err != nil {
		t.Fatalf("duplicate epoch tick failed: %v", err)
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Fatalf("expected no outputs from duplicate tick, got %d", len(outputs))
	}
	if c.GetPoolView().Position != position {
		t.Error("duplicate tick changed the pool position")
	}
}

func TestEpochTick_StaleTickDoesNotRegressEpoch(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	buyer := uuid.New()

	if err := c.ProcessEvent(mustPurchase(buyer, 1_000_000_000, 0)); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	// Epoch jumps are tolerated; the queue settles at epoch 5
	if err := c.ProcessEvent(mustEpochTick(5)); err != nil {
		t.Fatalf("epoch 5 failed: %v", err)
	}
	drainOutputs(persistCh)
	position := c.GetPoolView().Position

	// A never-seen tick behind the settled window must be dropped whole:
	// it must not settle the queue, and it must not rewind the epoch.
	if err := c.ProcessEvent(mustPurchase(buyer, 2_000_000_000, 1)); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if err := c.ProcessEvent(mustEpochTick(3)); err != nil {
		t.Fatalf("stale epoch tick failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected only the purchase envelope, got %d outputs", len(outputs))
	}
	if outputs[0].Envelope.EventType != event.EventTypePurchaseRequested {
		t.Errorf("unexpected envelope type %s from stale tick", outputs[0].Envelope.EventType)
	}

	view := c.GetPoolView()
	if view.LastEpoch != 5 {
		t.Errorf("stale tick moved last epoch: expected 5, got %d", view.LastEpoch)
	}
	if view.Position != position {
		t.Errorf("stale tick settled the queue: position %d, want %d", view.Position, position)
	}
	if view.Queue != 1 {
		t.Errorf("expected the second purchase still queued, got depth %d", view.Queue)
	}

	// The queue settles normally at the next real epoch
	if err := c.ProcessEvent(mustEpochTick(6)); err != nil {
		t.Fatalf("epoch 6 failed: %v", err)
	}
	if view := c.GetPoolView(); view.LastEpoch != 6 || view.Queue != 0 {
		t.Errorf("expected epoch 6 settled with empty queue, got epoch %d depth %d",
			view.LastEpoch, view.Queue)
	}
}

// ============================================================================
// Test: Token Sales
// ============================================================================

func TestTokensSold_BurnsAtSellSpread(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	trader := uuid.New()

	if err := c.ProcessEvent(mustPurchase(trader, 12_500_000_000, 0)); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if err := c.ProcessEvent(mustEpochTick(1)); err != nil {
		t.Fatalf("epoch tick failed: %v", err)
	}
	drainOutputs(persistCh)

	if err := c.ProcessEvent(mustTokensSold(trader, 1_000_000_000, 1)); err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if len(outputs[0].Batch.Journals) != 2 {
		t.Fatalf("expected burn + proceeds journals, got %d", len(outputs[0].Batch.Journals))
	}

	// proceeds = 9 * 100e9 * 1e9 / (10 * 400e9) = 225_000_000
	quote := c.GetBalance(ledger.NewParticipantAccountKey(trader, ledger.SubTypeQuote, ledger.QuoteAsset))
	if quote != 225_000_000 {
		t.Errorf("expected proceeds 225_000_000, got %d", quote)
	}

	view := c.GetPoolView()
	if view.Position != 99_000_000_000 {
		t.Errorf("expected position 99e9 after burn, got %d", view.Position)
	}
	if view.Reserve != 12_500_000_000-225_000_000 {
		t.Errorf("expected reserve drawn down by proceeds, got %d", view.Reserve)
	}
}

func TestTokensSold_RejectsOversell(t *testing.T) {
	c, _, _ := newTestCore(t)
	trader := uuid.New()

	if err := c.ProcessEvent(mustTokensSold(trader, 1_000, 0)); err == nil {
		t.Fatal("expected oversell rejection, got nil")
	}
}

// ============================================================================
// Test: Fee Splitting & Policy Controller
// ============================================================================

func TestFeeCollected_SplitsThreeWays(t *testing.T) {
	c, persistCh, _ := newTestCore(t)

	if err := c.ProcessEvent(mustFeeCollected("cascadia", 1_000, 1, 0)); err != nil {
		t.Fatalf("fee failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if len(outputs[0].Batch.Journals) != 3 {
		t.Fatalf("expected 3 split journals, got %d", len(outputs[0].Batch.Journals))
	}

	// Default policy: 5000/3000/2000 bps
	ubiPool := c.GetBalance(ledger.NewSystemAccountKey("cascadia", ledger.SubTypeSystemUbiPool, ledger.QuoteAsset))
	validator := c.GetBalance(ledger.NewSystemAccountKey("", ledger.SubTypeSystemValidatorPool, ledger.QuoteAsset))
	treasury := c.GetBalance(ledger.NewSystemAccountKey("", ledger.SubTypeSystemTreasury, ledger.QuoteAsset))

	if ubiPool != 500 {
		t.Errorf("expected ubi share 500, got %d", ubiPool)
	}
	if validator != 300 {
		t.Errorf("expected validator share 300, got %d", validator)
	}
	if treasury != 200 {
		t.Errorf("expected treasury share 200, got %d", treasury)
	}
}

func TestPolicyAdjustTick_RaisesShareWhenPayoutsLow(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	p := uuid.New()

	// Build a period where the average payout lands below TargetLow=80:
	// fee 200 -> ubi share 100; one standard-tier recipient with 3 txs gets
	// floor 20 + (100-20)*70% = 76.
	if err := c.ProcessEvent(mustVerification(p, event.TierStandard, "cascadia", 0)); err != nil {
		t.Fatalf("verification failed: %v", err)
	}
	if err := c.ProcessEvent(mustEngagement(p, "cascadia", 1, 3, 1, 0)); err != nil {
		t.Fatalf("engagement failed: %v", err)
	}
	if err := c.ProcessEvent(mustFeeCollected("cascadia", 200, 1, 0)); err != nil {
		t.Fatalf("fee failed: %v", err)
	}
	if err := c.ProcessEvent(mustUbiDistribute("cascadia", 1)); err != nil {
		t.Fatalf("distribute failed: %v", err)
	}
	drainOutputs(persistCh)

	if err := c.ProcessEvent(&event.PolicyAdjustTick{Period: 1, Timestamp: time.UnixMicro(8000000)}); err != nil {
		t.Fatalf("policy tick failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	policy := c.GetFeePolicy()
	if policy.UbiBps != 5_500 {
		t.Errorf("expected ubi share raised to 5500 bps, got %d", policy.UbiBps)
	}
	if policy.UbiBps+policy.ValidatorBps+policy.TreasuryBps != 10_000 {
		t.Errorf("policy not closed: %d/%d/%d", policy.UbiBps, policy.ValidatorBps, policy.TreasuryBps)
	}
	if policy.Version != 2 {
		t.Errorf("expected version bump to 2, got %d", policy.Version)
	}
	if findDerived(outputs, event.EventTypePolicyAdjusted) == nil {
		t.Error("expected derived PolicyAdjusted envelope")
	}
}

func TestPolicyAdjustTick_NoClaimantsNoChange(t *testing.T) {
	c, persistCh, _ := newTestCore(t)

	if err := c.ProcessEvent(&event.PolicyAdjustTick{Period: 1, Timestamp: time.UnixMicro(8000000)}); err != nil {
		t.Fatalf("policy tick failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if findDerived(outputs, event.EventTypePolicyAdjusted) != nil {
		t.Error("expected no derived PolicyAdjusted with no claimants")
	}
	if got := c.GetFeePolicy().Version; got != 1 {
		t.Errorf("expected version unchanged at 1, got %d", got)
	}
}

// ============================================================================
// Test: UBI Distribution
// ============================================================================

func TestUbiDistribute_FloorPlusRamp(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	p := uuid.New()

	if err := c.ProcessEvent(mustVerification(p, event.TierStandard, "cascadia", 0)); err != nil {
		t.Fatalf("verification failed: %v", err)
	}
	if err := c.ProcessEvent(mustEngagement(p, "cascadia", 1, 3, 1, 0)); err != nil {
		t.Fatalf("engagement failed: %v", err)
	}
	if err := c.ProcessEvent(mustFeeCollected("cascadia", 200, 1, 0)); err != nil {
		t.Fatalf("fee failed: %v", err)
	}
	drainOutputs(persistCh)

	if err := c.ProcessEvent(mustUbiDistribute("cascadia", 1)); err != nil {
		t.Fatalf("distribute failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	// One payout batch plus derived UbiDistributed
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs))
	}

	claim, ok := c.GetUbiClaim(p, 1)
	if !ok {
		t.Fatal("expected a claim for period 1")
	}
	if claim.FloorAmount != 20 || claim.VariableAmount != 56 || claim.Total != 76 {
		t.Errorf("expected claim 20+56=76, got %d+%d=%d",
			claim.FloorAmount, claim.VariableAmount, claim.Total)
	}

	quote := c.GetBalance(ledger.NewParticipantAccountKey(p, ledger.SubTypeQuote, ledger.QuoteAsset))
	if quote != 76 {
		t.Errorf("expected 76 paid out, got %d", quote)
	}

	// Leftover 24 stays in the bioregion's pool account
	pool := c.GetBalance(ledger.NewSystemAccountKey("cascadia", ledger.SubTypeSystemUbiPool, ledger.QuoteAsset))
	if pool != 24 {
		t.Errorf("expected leftover 24 in pool, got %d", pool)
	}

	if findDerived(outputs, event.EventTypeUbiDistributed) == nil {
		t.Error("expected derived UbiDistributed envelope")
	}
}

func TestUbiDistribute_TierBelowStandardExcluded(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	verified := uuid.New()
	basic := uuid.New()

	if err := c.ProcessEvent(mustVerification(verified, event.TierStandard, "cascadia", 0)); err != nil {
		t.Fatalf("verification failed: %v", err)
	}
	if err := c.ProcessEvent(mustVerification(basic, event.TierBasic, "cascadia", 1)); err != nil {
		t.Fatalf("verification failed: %v", err)
	}
	if err := c.ProcessEvent(mustFeeCollected("cascadia", 400, 1, 0)); err != nil {
		t.Fatalf("fee failed: %v", err)
	}
	drainOutputs(persistCh)

	if err := c.ProcessEvent(mustUbiDistribute("cascadia", 1)); err != nil {
		t.Fatalf("distribute failed: %v", err)
	}

	if _, ok := c.GetUbiClaim(basic, 1); ok {
		t.Error("basic-tier participant should not receive a claim")
	}
	if _, ok := c.GetUbiClaim(verified, 1); !ok {
		t.Error("standard-tier participant should receive a claim")
	}
}

func TestUbiDistribute_InsufficientPoolFailsWholePeriod(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	p := uuid.New()

	if err := c.ProcessEvent(mustVerification(p, event.TierStandard, "cascadia", 0)); err != nil {
		t.Fatalf("verification failed: %v", err)
	}
	// ubi share of fee 20 is 10, below the survival floor of 20
	if err := c.ProcessEvent(mustFeeCollected("cascadia", 20, 1, 0)); err != nil {
		t.Fatalf("fee failed: %v", err)
	}
	drainOutputs(persistCh)

	if err := c.ProcessEvent(mustUbiDistribute("cascadia", 1)); err == nil {
		t.Fatal("expected ErrInsufficientPool, got nil")
	}

	if _, ok := c.GetUbiClaim(p, 1); ok {
		t.Error("no claim should exist after a failed distribution")
	}
	// The pool account is untouched
	pool := c.GetBalance(ledger.NewSystemAccountKey("cascadia", ledger.SubTypeSystemUbiPool, ledger.QuoteAsset))
	if pool != 10 {
		t.Errorf("expected pool balance 10 preserved, got %d", pool)
	}
}

// ============================================================================
// Test: Impact Ledger
// ============================================================================

func TestFlowRecorded_AssetThenTransfer(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	asset := uuid.New()
	owner := uuid.New()

	// 112.5 kg CO2 normalizes to grams on ingest
	if err := c.ProcessEvent(mustFlowRecorded(event.DestinationAsset, asset, "CO2", 112_500, "kg", 0)); err != nil {
		t.Fatalf("flow failed: %v", err)
	}
	drainOutputs(persistCh)

	transfer := &event.AssetTransferred{
		TransferID: uuid.New(),
		Asset:      asset,
		NewOwner:   owner,
		Sequence:   1,
		Timestamp:  time.UnixMicro(7100000),
	}
	if err := c.ProcessEvent(transfer); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	record, ok := c.GetConsumerRecord(owner)
	if !ok {
		t.Fatal("expected consumer record after transfer")
	}
	if got := record.Lifetime[1]; got != 112_500_000 {
		t.Errorf("expected lifetime 112_500_000 g CO2, got %d", got)
	}

	account, ok := c.GetAssetAccount(asset)
	if !ok {
		t.Fatal("expected asset account")
	}
	if len(account.Flows) != 0 {
		t.Errorf("expected cleared asset account, got %d flows", len(account.Flows))
	}
}

func TestFlowRecorded_RejectsUnknownCompoundAndBadUnit(t *testing.T) {
	c, _, _ := newTestCore(t)
	dest := uuid.New()

	if err := c.ProcessEvent(mustFlowRecorded(event.DestinationAsset, dest, "XYZ", 100, "g", 0)); err == nil {
		t.Fatal("expected unknown-compound rejection")
	}
	// Volume unit on a mass compound
	if err := c.ProcessEvent(mustFlowRecorded(event.DestinationAsset, dest, "CO2", 100, "L", 0)); err == nil {
		t.Fatal("expected wrong-dimension unit rejection")
	}
}

func TestRemediationSettle_RetiresAndPays(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	consumer := uuid.New()
	holder := uuid.New()

	// Consumer needs tokens to pay with
	if err := c.ProcessEvent(mustPurchase(consumer, 12_500_000_000, 0)); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if err := c.ProcessEvent(mustEpochTick(1)); err != nil {
		t.Fatalf("epoch tick failed: %v", err)
	}
	drainOutputs(persistCh)

	posFlow := mustFlowRecorded(event.DestinationConsumer, consumer, "CO2", 100_000, "g", 0)
	negFlow := mustFlowRecorded(event.DestinationConsumer, holder, "CO2", -40_000, "g", 0)
	if err := c.ProcessEvent(posFlow); err != nil {
		t.Fatalf("positive flow failed: %v", err)
	}
	if err := c.ProcessEvent(negFlow); err != nil {
		t.Fatalf("sequestration flow failed: %v", err)
	}
	drainOutputs(persistCh)

	settle := &event.RemediationSettle{
		MatchID:           uuid.New(),
		Consumer:          consumer,
		Holder:            holder,
		Compound:          "CO2",
		PositiveFlowID:    posFlow.FlowID,
		SequestrationFlow: negFlow.FlowID,
		PerUnitRate:       10_000_000, // 10 tokens per gram, rate scale 1e6
		Sequence:          1,
		Timestamp:         time.UnixMicro(7200000),
	}
	if err := c.ProcessEvent(settle); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	outputs := drainOutputs(persistCh)

	record, _ := c.GetConsumerRecord(consumer)
	if got := record.Remediated[1]; got != 40_000 {
		t.Errorf("expected 40_000 g remediated, got %d", got)
	}
	if got := record.Unremediated(1); got != 60_000 {
		t.Errorf("expected 60_000 g still unremediated, got %d", got)
	}

	// payment = 40_000 * 10_000_000 / 1e6 = 400_000 tokens
	holderTokens := c.GetBalance(ledger.NewParticipantAccountKey(holder, ledger.SubTypeToken, ledger.TokenAsset))
	if holderTokens != 400_000 {
		t.Errorf("expected holder paid 400_000 tokens, got %d", holderTokens)
	}

	if findDerived(outputs, event.EventTypeRemediationSettled) == nil {
		t.Error("expected derived RemediationSettled envelope")
	}
}

func TestRemediationSettle_InsufficientTokensLeavesRecordsIntact(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	consumer := uuid.New()
	holder := uuid.New()

	// No purchase: the consumer holds zero tokens
	posFlow := mustFlowRecorded(event.DestinationConsumer, consumer, "CO2", 150_000, "g", 0)
	negFlow := mustFlowRecorded(event.DestinationConsumer, holder, "CO2", -112_500, "g", 0)
	if err := c.ProcessEvent(posFlow); err != nil {
		t.Fatalf("positive flow failed: %v", err)
	}
	if err := c.ProcessEvent(negFlow); err != nil {
		t.Fatalf("sequestration flow failed: %v", err)
	}
	drainOutputs(persistCh)

	settle := &event.RemediationSettle{
		MatchID:           uuid.New(),
		Consumer:          consumer,
		Holder:            holder,
		Compound:          "CO2",
		PositiveFlowID:    posFlow.FlowID,
		SequestrationFlow: negFlow.FlowID,
		PerUnitRate:       1_000_000, // 1 token per gram: payment 112_500
		Sequence:          1,
		Timestamp:         time.UnixMicro(7200000),
	}
	if err := c.ProcessEvent(settle); err == nil {
		t.Fatal("expected insufficient-balance rejection")
	}

	// A rejected settle must not retire anything on either record
	record, _ := c.GetConsumerRecord(consumer)
	if got := record.Unremediated(1); got != 150_000 {
		t.Errorf("rejected settle changed unremediated balance: got %d, want 150_000", got)
	}
	if got := record.Remediated[1]; got != 0 {
		t.Errorf("rejected settle recorded %d g remediated", got)
	}
	holderRecord, _ := c.GetConsumerRecord(holder)
	if got := holderRecord.SequestrationBalance(1); got != 112_500 {
		t.Errorf("rejected settle retired sequestration credit: got %d, want 112_500", got)
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Fatalf("expected no outputs from rejected settle, got %d", len(outputs))
	}

	// Fund the consumer and retry under a fresh source sequence: the same
	// match settles in full.
	if err := c.ProcessEvent(mustPurchase(consumer, 12_500_000_000, 0)); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if err := c.ProcessEvent(mustEpochTick(1)); err != nil {
		t.Fatalf("epoch tick failed: %v", err)
	}
	drainOutputs(persistCh)

	retry := *settle
	retry.Sequence = 2
	if err := c.ProcessEvent(&retry); err != nil {
		t.Fatalf("funded retry failed: %v", err)
	}

	record, _ = c.GetConsumerRecord(consumer)
	if got := record.Remediated[1]; got != 112_500 {
		t.Errorf("expected 112_500 g remediated after retry, got %d", got)
	}
	holderTokens := c.GetBalance(ledger.NewParticipantAccountKey(holder, ledger.SubTypeToken, ledger.TokenAsset))
	if holderTokens != 112_500 {
		t.Errorf("expected holder paid 112_500 tokens, got %d", holderTokens)
	}
}

func TestRemediationSettle_DeclaredCompoundMustMatchFlows(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	consumer := uuid.New()
	holder := uuid.New()

	posFlow := mustFlowRecorded(event.DestinationConsumer, consumer, "CO2", 100_000, "g", 0)
	negFlow := mustFlowRecorded(event.DestinationConsumer, holder, "CO2", -40_000, "g", 0)
	if err := c.ProcessEvent(posFlow); err != nil {
		t.Fatalf("positive flow failed: %v", err)
	}
	if err := c.ProcessEvent(negFlow); err != nil {
		t.Fatalf("sequestration flow failed: %v", err)
	}
	drainOutputs(persistCh)

	settle := &event.RemediationSettle{
		MatchID:           uuid.New(),
		Consumer:          consumer,
		Holder:            holder,
		Compound:          "CH4", // Flows carry CO2
		PositiveFlowID:    posFlow.FlowID,
		SequestrationFlow: negFlow.FlowID,
		PerUnitRate:       0,
		Sequence:          1,
		Timestamp:         time.UnixMicro(7200000),
	}
	if err := c.ProcessEvent(settle); err == nil {
		t.Fatal("expected compound-mismatch rejection")
	}

	record, _ := c.GetConsumerRecord(consumer)
	if got := record.Remediated[1]; got != 0 {
		t.Errorf("mislabeled settle recorded %d g remediated", got)
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Fatalf("expected no outputs from mislabeled settle, got %d", len(outputs))
	}
}

// ============================================================================
// Test: Governance Overrides
// ============================================================================

func TestParamOverride_StaleVersionRejected(t *testing.T) {
	c, _, _ := newTestCore(t)

	override := &event.ParamOverride{
		Version:          2,
		MaxSupply:        400_000_000_000,
		UbiFloorBps:      3000,
		UbiCeilBps:       7000,
		TargetLow:        80,
		TargetHigh:       120,
		AdjustStepBps:    500,
		SurvivalFloor:    25,
		ControllerPeriod: 1,
		Sequence:         0,
		Timestamp:        time.UnixMicro(9000000),
	}
	if err := c.ProcessEvent(override); err != nil {
		t.Fatalf("override failed: %v", err)
	}
	if got := c.GetParams().SurvivalFloor; got != 25 {
		t.Errorf("expected survival floor 25, got %d", got)
	}

	stale := *override
	stale.Version = 1
	stale.SurvivalFloor = 99
	stale.Sequence = 1
	if err := c.ProcessEvent(&stale); err == nil {
		t.Fatal("expected stale version rejection")
	}
	if got := c.GetParams().SurvivalFloor; got != 25 {
		t.Errorf("stale override changed params: floor %d", got)
	}
}

// ============================================================================
// Test: Hash Chain & Snapshot Restore
// ============================================================================

func TestHashChain_LinksConsecutiveEnvelopes(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	buyer := uuid.New()

	if err := c.ProcessEvent(mustPurchase(buyer, 1_000_000, 0)); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if err := c.ProcessEvent(mustPurchase(buyer, 2_000_000, 1)); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs))
	}
	if outputs[1].Envelope.PrevHash != outputs[0].Envelope.StateHash {
		t.Error("second envelope's prev hash does not link to first envelope's state hash")
	}
	if outputs[0].Envelope.PrevHash == outputs[0].Envelope.StateHash {
		t.Error("envelope's prev hash equals its own state hash; chain link is degenerate")
	}
}

// Derived envelopes (EpochSettled here) are part of the same chain as the
// envelopes of submitted events.
func TestHashChain_LinksThroughDerivedEnvelopes(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	buyer := uuid.New()

	if err := c.ProcessEvent(mustPurchase(buyer, 1_000_000_000, 0)); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if err := c.ProcessEvent(mustEpochTick(1)); err != nil {
		t.Fatalf("epoch tick failed: %v", err)
	}
	if err := c.ProcessEvent(mustPurchase(buyer, 2_000_000_000, 1)); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}

	// Purchase, settlement fill, derived EpochSettled, purchase
	outputs := drainOutputs(persistCh)
	if len(outputs) != 4 {
		t.Fatalf("expected 4 outputs, got %d", len(outputs))
	}
	if findDerived(outputs, event.EventTypeEpochSettled) == nil {
		t.Fatal("expected derived EpochSettled envelope")
	}
	for i := 1; i < len(outputs); i++ {
		if outputs[i].Envelope.Sequence != outputs[i-1].Envelope.Sequence+1 {
			t.Fatalf("sequence gap between outputs %d and %d", i-1, i)
		}
		if outputs[i].Envelope.PrevHash != outputs[i-1].Envelope.StateHash {
			t.Errorf("envelope %d (seq %d) does not link to its predecessor's state hash",
				i, outputs[i].Envelope.Sequence)
		}
	}
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	buyer := uuid.New()

	if err := c.ProcessEvent(mustPurchase(buyer, 12_500_000_000, 0)); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if err := c.ProcessEvent(mustEpochTick(1)); err != nil {
		t.Fatalf("epoch tick failed: %v", err)
	}
	if err := c.ProcessEvent(mustFeeCollected("cascadia", 1_000, 1, 0)); err != nil {
		t.Fatalf("fee failed: %v", err)
	}
	drainOutputs(persistCh)

	snap := c.CreateSnapshotState()

	restored, _, _ := newTestCore(t)
	if err := restored.RestoreFromSnapshot(snap); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	if restored.GetSequence() != c.GetSequence() {
		t.Errorf("sequence mismatch: %d vs %d", restored.GetSequence(), c.GetSequence())
	}
	if restored.GetStateHash() != c.GetStateHash() {
		t.Error("state hash mismatch after restore")
	}

	orig := c.GetPoolView()
	got := restored.GetPoolView()
	if got.Position != orig.Position || got.Reserve != orig.Reserve || got.LastEpoch != orig.LastEpoch {
		t.Errorf("pool mismatch after restore: %+v vs %+v", got, orig)
	}

	tokens := restored.GetBalance(ledger.NewParticipantAccountKey(buyer, ledger.SubTypeToken, ledger.TokenAsset))
	if tokens != 100_000_000_000 {
		t.Errorf("expected restored token balance 100e9, got %d", tokens)
	}

	// The restored core keeps processing where the original left off
	if err := restored.ProcessEvent(mustFeeCollected("cascadia", 500, 1, 1)); err != nil {
		t.Fatalf("post-restore event failed: %v", err)
	}
}

func TestSnapshotRestore_CorruptPolicyRejected(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	if err := c.ProcessEvent(mustFeeCollected("cascadia", 1_000, 1, 0)); err != nil {
		t.Fatalf("fee failed: %v", err)
	}
	drainOutputs(persistCh)

	snap := c.CreateSnapshotState()
	snap.FeeRouter.Policy.TreasuryBps += 100 // breaks closure

	restored, _, _ := newTestCore(t)
	if err := restored.RestoreFromSnapshot(snap); err == nil {
		t.Fatal("expected integrity failure on corrupt fee policy")
	}
}
