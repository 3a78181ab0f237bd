package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"EconLedger/internal/compound"
	"EconLedger/internal/curve"
	"EconLedger/internal/event"
	"EconLedger/internal/ledger"
	"EconLedger/internal/observability"
	"EconLedger/internal/state"

	"github.com/google/uuid"
)

// DeterministicCore is the single-threaded event processor
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	pool              *state.PoolManager
	feeRouter         *state.FeeRouter
	engagement        *state.EngagementBook
	ubi               *state.UbiDistributor
	impact            *state.ImpactLedger
	params            *state.ParamStore
	ubiAccrued        map[string]int64 // UBI fee share accrued per bioregion since last distribution
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput

	// Derived outbound events staged during dispatch, flushed after the
	// triggering event's own outputs
	pendingDerived []derivedEvent
}

type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte
}

type derivedEvent struct {
	eventType      event.EventType
	idempotencyKey string
	scope          *string
	timestamp      time.Time
	payload        any
}

func NewDeterministicCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) (*DeterministicCore, error) {
	balanceTracker := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(balanceTracker)
	journalGen := ledger.NewJournalGenerator(startSequence, balanceTracker)

	feeRouter, err := state.NewFeeRouter(state.DefaultFeePolicy())
	if err != nil {
		return nil, err
	}
	paramStore, err := state.NewParamStore(state.DefaultParams())
	if err != nil {
		return nil, err
	}

	// Capacity of 1M idempotency entries (configurable)
	idempotencyChecker := NewIdempotencyChecker(1_000_000, dbChecker)

	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        journalGen,
		validator:         validator,
		pool:              state.NewPoolManager(),
		feeRouter:         feeRouter,
		engagement:        state.NewEngagementBook(),
		ubi:               state.NewUbiDistributor(),
		impact:            state.NewImpactLedger(),
		params:            paramStore,
		ubiAccrued:        make(map[string]int64),
		idempotency:       idempotencyChecker,
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}, nil
}

// ProcessEvent is the main processing pipeline
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation. Clock-driven ticks tolerate gaps (a
	// missed tick settles late, state does not diverge); everything else is
	// strict per-partition ordering. A stale tick is dropped here, before
	// dispatch: replaying it would settle an already-settled window.
	sourceSequence := evt.SourceSequence()
	if clock, isTick := tickClock(evt); isTick {
		if err := c.sequenceValidator.ValidateTickSequence(clock, sourceSequence); err != nil {
			if errors.Is(err, ErrStaleTick) {
				if c.metrics != nil {
					c.metrics.CoreEventsRejected.WithLabelValues(eventType, "stale_tick").Inc()
				}
				return nil
			}
			return err
		}
	} else {
		partition := c.getPartition(evt)
		if err := c.sequenceValidator.ValidateSequence(partition, sourceSequence, idempotencyKey, isDuplicate); err != nil {
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	// If duplicate, skip processing
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Event dispatch - get batches
	batches, err := c.dispatchEvent(evt)
	if err != nil {
		c.pendingDerived = nil
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "rejected").Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// State-only events still need an envelope in the event log
	if len(batches) == 0 {
		batches = []*ledger.Batch{c.emptyBatch(evt)}
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("payload encoding failed: %w", err)
	}

	// Step 4-9: Process each batch
	outputs := make([]CoreOutput, 0, len(batches))

	for _, batch := range batches {
		if len(batch.Journals) > 0 {
			// Validate batch balance
			if err := c.validator.ValidateBatchBalance(batch); err != nil {
				panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
			}

			// Apply batch to balances
			if err := c.balanceTracker.ApplyBatch(batch); err != nil {
				return fmt.Errorf("apply batch failed: %w", err)
			}
		}

		stateDigest := c.computeStateDigest(batch)
		// ComputeHash advances the chain tip, so the link to the previous
		// envelope must be read first
		prevHash := c.hasher.GetPrevHash()
		stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

		envelope := &event.EventEnvelope{
			Sequence:       c.sequence,
			IdempotencyKey: idempotencyKey,
			EventType:      evt.EventType(),
			Scope:          evt.Scope(),
			Timestamp:      c.getEventTimestamp(evt),
			SourceSequence: sourceSequence,
			Payload:        payload,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		}

		outputs = append(outputs, CoreOutput{
			Envelope:   envelope,
			Batch:      batch,
			StateDelta: stateDigest,
		})
		c.sequence++
	}

	// Step 10: Post-checks
	if err := c.postCheckInvariants(evt); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 11: Emit outputs. Persist channel uses BLOCKING send
	// (backpressure), projection channel uses NON-BLOCKING send with silent
	// drop; projections rebuild from the event log if they fall behind.
	for _, output := range outputs {
		c.persistChan <- output

		select {
		case c.projectionChan <- output:
		default:
			// Dropped; projection catches up via rebuild
		}
	}

	// Step 11b: Flush derived outbound events staged by handlers
	c.flushDerived()

	// Step 12: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}

	return nil
}

// tickClock classifies clock-driven signals for gap-tolerant validation
func tickClock(evt event.Event) (string, bool) {
	switch e := evt.(type) {
	case *event.EpochTick:
		return "epoch", true
	case *event.PolicyAdjustTick:
		return "policy", true
	case *event.UbiDistribute:
		return fmt.Sprintf("ubi:%s", e.Bioregion), true
	}
	return "", false
}

// getPartition determines partition key for sequence validation. Each
// collaborator numbers its own stream, so partitions follow the producer,
// not just the scope.
func (c *DeterministicCore) getPartition(evt event.Event) string {
	switch e := evt.(type) {
	case *event.PurchaseRequested, *event.TokensSold:
		return "trade"
	case *event.FeeCollected:
		return fmt.Sprintf("fees:%s", e.Bioregion)
	case *event.EngagementRecorded:
		return fmt.Sprintf("records:%s", e.Bioregion)
	case *event.VerificationUpdated:
		return "identity"
	case *event.ParamOverride:
		return "governance"
	}
	if scope := evt.Scope(); scope != nil {
		return fmt.Sprintf("scope:%s", *scope)
	}
	return "global"
}

// getEventTimestamp extracts the versioned timestamp from the event.
// The core MUST NOT call time.Now(): all timestamps are versioned inputs,
// or replay would diverge.
func (c *DeterministicCore) getEventTimestamp(evt event.Event) time.Time {
	switch e := evt.(type) {
	case *event.PurchaseRequested:
		return e.Timestamp
	case *event.TokensSold:
		return e.Timestamp
	case *event.EpochTick:
		return e.Timestamp
	case *event.FeeCollected:
		return e.Timestamp
	case *event.PolicyAdjustTick:
		return e.Timestamp
	case *event.EngagementRecorded:
		return e.Timestamp
	case *event.VerificationUpdated:
		return e.Timestamp
	case *event.UbiDistribute:
		return e.Timestamp
	case *event.FlowRecorded:
		return e.Timestamp
	case *event.AssetTransferred:
		return e.Timestamp
	case *event.RemediationSettle:
		return e.Timestamp
	case *event.ParamOverride:
		return e.Timestamp
	default:
		panic(fmt.Sprintf("FATAL: getEventTimestamp called with unhandled event type %T: deterministic core cannot use wall-clock time", evt))
	}
}

// emptyBatch wraps a state-only event so it still gets an envelope
func (c *DeterministicCore) emptyBatch(evt event.Event) *ledger.Batch {
	return &ledger.Batch{
		BatchID:   uuid.New(),
		EventRef:  evt.IdempotencyKey(),
		Sequence:  c.sequence,
		Timestamp: c.getEventTimestamp(evt).UnixMicro(),
		Journals:  []ledger.Journal{},
	}
}

// computeStateDigest creates canonical bytes for the state hash: the
// balances touched by this batch plus the singleton state the event may have
// mutated (pool, policy, params).
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+96)

	for _, key := range accounts {
		balance := c.balanceTracker.GetBalance(key)

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, balance)
	}

	// Singleton state
	digest = appendInt64LE(digest, c.pool.Position())
	digest = appendInt64LE(digest, c.pool.Reserve())
	digest = appendInt64LE(digest, c.pool.LastEpoch())
	digest = appendInt64LE(digest, int64(c.pool.Phase()))
	policy := c.feeRouter.Policy()
	digest = appendInt64LE(digest, policy.UbiBps)
	digest = appendInt64LE(digest, policy.ValidatorBps)
	digest = appendInt64LE(digest, policy.TreasuryBps)
	digest = appendInt64LE(digest, c.params.Current().Version)

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates invariants after batch application
func (c *DeterministicCore) postCheckInvariants(evt event.Event) error {
	maxSupply := c.params.Current().MaxSupply

	switch e := evt.(type) {
	case *event.TokensSold, *event.EpochTick:
		if err := c.validator.ValidateSupplyBound(maxSupply); err != nil {
			return fmt.Errorf("post-check supply bound: %w", err)
		}
		if err := c.validator.ValidatePoolReserveNonNegative(); err != nil {
			return fmt.Errorf("post-check pool reserve: %w", err)
		}
		// Pool singleton must reconcile with the ledger
		if c.pool.Position() != c.balanceTracker.GetCirculatingSupply() {
			return fmt.Errorf("post-check: pool position %d diverged from ledger supply %d",
				c.pool.Position(), c.balanceTracker.GetCirculatingSupply())
		}
		if c.pool.Reserve() != c.balanceTracker.GetPoolReserve() {
			return fmt.Errorf("post-check: pool reserve %d diverged from ledger reserve %d",
				c.pool.Reserve(), c.balanceTracker.GetPoolReserve())
		}

	case *event.FeeCollected:
		if err := c.validator.ValidateUbiPoolNonNegative(e.Bioregion); err != nil {
			return fmt.Errorf("post-check ubi pool: %w", err)
		}

	case *event.UbiDistribute:
		if err := c.validator.ValidateUbiPoolNonNegative(e.Bioregion); err != nil {
			return fmt.Errorf("post-check ubi pool: %w", err)
		}

	case *event.RemediationSettle:
		if err := c.validator.ValidateTokenNonNegative(e.Consumer); err != nil {
			return fmt.Errorf("post-check remediation payment: %w", err)
		}

	case *event.PolicyAdjustTick:
		if err := c.feeRouter.Policy().Validate(); err != nil {
			return fmt.Errorf("post-check policy closure: %w", err)
		}
	}

	// Periodic global zero-sum check
	if c.sequence > 0 && c.sequence%1000 == 0 {
		totals := c.balanceTracker.ComputeGlobalBalance()
		for assetID, total := range totals {
			if total != 0 {
				return fmt.Errorf("post-check: global balance non-zero for asset %d: %d (at seq %d)",
					assetID, total, c.sequence)
			}
		}
	}

	return nil
}

// --- Handlers ---

func (c *DeterministicCore) handlePurchaseRequested(evt *event.PurchaseRequested) (*ledger.Batch, error) {
	req := state.PendingRequest{
		RequestID: evt.RequestID,
		Requester: evt.Requester,
		Value:     evt.Value,
		Kind:      evt.Kind,
		Sequence:  evt.Sequence,
	}
	if err := c.pool.Enqueue(req); err != nil {
		return nil, err
	}

	return c.journalGen.GeneratePurchaseEscrow(evt)
}

func (c *DeterministicCore) handleTokensSold(evt *event.TokensSold) (*ledger.Batch, error) {
	maxSupply := c.params.Current().MaxSupply

	proceeds, err := curve.SellProceeds(c.pool.Position(), evt.Quantity, maxSupply)
	if err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateTokenSale(evt, proceeds)
	if err != nil {
		return nil, err
	}

	if err := c.pool.ApplySell(evt.Quantity, proceeds); err != nil {
		return nil, err
	}

	return batch, nil
}

// handleEpochTick settles every queued request against the curve in one
// pass. Returns one batch per request (plus nothing else); batches are NOT
// applied here; they flow through the standard pipeline in ProcessEvent.
func (c *DeterministicCore) handleEpochTick(evt *event.EpochTick) ([]*ledger.Batch, error) {
	maxSupply := c.params.Current().MaxSupply

	allocations, err := c.pool.BeginSettlement(evt.Epoch, maxSupply)
	if err != nil {
		return nil, err
	}

	ts := evt.Timestamp.UnixMicro()
	batches := make([]*ledger.Batch, 0, len(allocations))
	var totalQuote, totalTokens int64

	for _, alloc := range allocations {
		batch, err := c.journalGen.GenerateSettlementFill(
			alloc.Request.RequestID,
			alloc.Request.Requester,
			alloc.Request.Kind,
			alloc.QuoteSpent,
			alloc.TokensOut,
			evt.Epoch,
			ts,
		)
		if err != nil {
			c.pool.AbortSettlement()
			return nil, fmt.Errorf("settlement fill generation failed: %w", err)
		}
		batches = append(batches, batch)
		totalQuote += alloc.QuoteSpent
		totalTokens += alloc.TokensOut
	}

	if err := c.pool.CompleteSettlement(evt.Epoch, totalQuote, totalTokens); err != nil {
		return nil, err
	}

	c.stageDerived(derivedEvent{
		eventType:      event.EventTypeEpochSettled,
		idempotencyKey: fmt.Sprintf("epoch_settled:%d", evt.Epoch),
		timestamp:      evt.Timestamp,
		payload: &event.EpochSettled{
			Epoch:         evt.Epoch,
			RequestsCount: len(allocations),
			QuoteIn:       totalQuote,
			TokensIssued:  totalTokens,
			NewPosition:   c.pool.Position(),
			NewPrice:      c.pool.Price(maxSupply),
		},
	})

	return batches, nil
}

func (c *DeterministicCore) handleFeeCollected(evt *event.FeeCollected) (*ledger.Batch, error) {
	if evt.Amount <= 0 {
		return nil, fmt.Errorf("fee %s has non-positive amount %d", evt.FeeID, evt.Amount)
	}

	ubiShare, validatorShare, treasuryShare := c.feeRouter.Split(evt.Amount)

	batch, err := c.journalGen.GenerateFeeSplit(evt, ubiShare, validatorShare, treasuryShare)
	if err != nil {
		return nil, err
	}

	c.ubiAccrued[evt.Bioregion] += ubiShare

	return batch, nil
}

func (c *DeterministicCore) handlePolicyAdjustTick(evt *event.PolicyAdjustTick) (*ledger.Batch, error) {
	policy, changed := c.feeRouter.AdjustTick(c.params.Current())

	if changed {
		c.stageDerived(derivedEvent{
			eventType:      event.EventTypePolicyAdjusted,
			idempotencyKey: fmt.Sprintf("policy_adjusted:%d", evt.Period),
			timestamp:      evt.Timestamp,
			payload: &event.PolicyAdjusted{
				Period:       evt.Period,
				UbiBps:       policy.UbiBps,
				ValidatorBps: policy.ValidatorBps,
				TreasuryBps:  policy.TreasuryBps,
				Version:      policy.Version,
			},
		})
	}

	// No journals; the policy only affects future splits
	return nil, nil
}

func (c *DeterministicCore) handleEngagementRecorded(evt *event.EngagementRecorded) (*ledger.Batch, error) {
	c.engagement.Record(evt.Participant, evt.Period, state.Engagement{
		TransactionCount:       evt.TransactionCount,
		DistinctCounterparties: evt.DistinctCounterparties,
	})
	return nil, nil
}

func (c *DeterministicCore) handleVerificationUpdated(evt *event.VerificationUpdated) (*ledger.Batch, error) {
	c.engagement.SetVerification(evt.Participant, evt.Tier, evt.Bioregion)
	return nil, nil
}

// handleUbiDistribute pays one bioregion's period. Returns one payout batch
// per claim. A failed distribution (InsufficientPool) leaves the accrued
// pool untouched for retry after more fees arrive.
func (c *DeterministicCore) handleUbiDistribute(evt *event.UbiDistribute) ([]*ledger.Batch, error) {
	params := c.params.Current()
	eligible := c.engagement.Eligible(evt.Bioregion)
	pool := c.ubiAccrued[evt.Bioregion]

	result, err := c.ubi.Distribute(
		evt.Bioregion,
		evt.Period,
		pool,
		params.SurvivalFloor,
		eligible,
		func(p uuid.UUID) state.Engagement {
			return c.engagement.Engagement(p, evt.Period)
		},
	)
	if err != nil {
		return nil, err
	}

	// Accrual moved into the distributor's carryover bookkeeping
	c.ubiAccrued[evt.Bioregion] = 0

	ts := evt.Timestamp.UnixMicro()
	batches := make([]*ledger.Batch, 0, len(result.Claims))
	for _, claim := range result.Claims {
		batch, err := c.journalGen.GenerateUbiPayout(
			evt.Bioregion, evt.Period, claim.Participant, claim.Total, ts)
		if err != nil {
			return nil, fmt.Errorf("ubi payout generation failed: %w", err)
		}
		batches = append(batches, batch)
	}

	c.feeRouter.RecordDistribution(result.TotalPaid, int64(len(result.Claims)))

	c.stageDerived(derivedEvent{
		eventType:      event.EventTypeUbiDistributed,
		idempotencyKey: fmt.Sprintf("ubi_distributed:%s:%d", evt.Bioregion, evt.Period),
		scope:          evt.Scope(),
		timestamp:      evt.Timestamp,
		payload: &event.UbiDistributed{
			Bioregion: evt.Bioregion,
			Period:    evt.Period,
			Claimants: int64(len(result.Claims)),
			TotalPaid: result.TotalPaid,
			Leftover:  result.Leftover,
		},
	})

	return batches, nil
}

func (c *DeterministicCore) handleFlowRecorded(evt *event.FlowRecorded) (*ledger.Batch, error) {
	info, ok := compound.Lookup(evt.Compound)
	if !ok {
		return nil, fmt.Errorf("unknown compound: %s", evt.Compound)
	}
	quantity, ok := compound.NormalizeQuantity(evt.Compound, evt.Quantity, evt.Unit)
	if !ok {
		return nil, fmt.Errorf("invalid unit %q for compound %s", evt.Unit, evt.Compound)
	}
	if evt.Confidence > 100 {
		return nil, fmt.Errorf("confidence %d out of range", evt.Confidence)
	}

	flow := state.Flow{
		FlowID:       evt.FlowID,
		Activity:     evt.Activity,
		Compound:     info.ID,
		Quantity:     quantity,
		Method:       evt.Method,
		Confidence:   evt.Confidence,
		EvidenceHash: evt.EvidenceHash,
	}

	switch evt.DestinationKind {
	case event.DestinationAsset:
		c.impact.RecordToAsset(evt.DestinationID, flow)
	case event.DestinationConsumer:
		c.impact.RecordToConsumer(evt.DestinationID, flow)
	default:
		return nil, fmt.Errorf("unknown flow destination kind: %d", evt.DestinationKind)
	}

	return nil, nil
}

func (c *DeterministicCore) handleAssetTransferred(evt *event.AssetTransferred) (*ledger.Batch, error) {
	c.impact.Transfer(evt.Asset, evt.NewOwner)
	return nil, nil
}

// handleRemediationSettle mirrors the sale path's ordering: every check that
// can reject the match, including the payment's token balance pre-check, runs
// before any retirement state changes, so a rejected settle leaves both
// records untouched.
func (c *DeterministicCore) handleRemediationSettle(evt *event.RemediationSettle) (*ledger.Batch, error) {
	info, ok := compound.Lookup(evt.Compound)
	if !ok {
		return nil, fmt.Errorf("unknown compound: %s", evt.Compound)
	}

	preview, err := c.impact.PreviewRemediation(
		evt.Consumer,
		evt.Holder,
		evt.PositiveFlowID,
		evt.SequestrationFlow,
		evt.PerUnitRate,
	)
	if err != nil {
		return nil, err
	}
	if preview.Compound != info.ID {
		return nil, fmt.Errorf("%w: match %s declares %s but flows carry compound %d",
			state.ErrCompoundMismatch, evt.MatchID, evt.Compound, preview.Compound)
	}

	var batch *ledger.Batch
	if preview.Payment > 0 {
		batch, err = c.journalGen.GenerateRemediationPayment(
			evt.MatchID,
			evt.Consumer,
			evt.Holder,
			preview.Payment,
			evt.Timestamp.UnixMicro(),
		)
		if err != nil {
			return nil, err
		}
	}

	outcome, err := c.impact.SettleRemediation(
		evt.Consumer,
		evt.Holder,
		evt.PositiveFlowID,
		evt.SequestrationFlow,
		evt.PerUnitRate,
	)
	if err != nil {
		return nil, err
	}

	c.stageDerived(derivedEvent{
		eventType:      event.EventTypeRemediationSettled,
		idempotencyKey: fmt.Sprintf("remediation_settled:%s", evt.MatchID),
		scope:          evt.Scope(),
		timestamp:      evt.Timestamp,
		payload: &event.RemediationSettled{
			MatchID:  evt.MatchID,
			Consumer: evt.Consumer,
			Holder:   evt.Holder,
			Compound: evt.Compound,
			Matched:  outcome.Matched,
			Payment:  outcome.Payment,
		},
	})

	return batch, nil
}

func (c *DeterministicCore) handleParamOverride(evt *event.ParamOverride) (*ledger.Batch, error) {
	if err := c.params.Apply(evt); err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *DeterministicCore) dispatchEvent(evt event.Event) ([]*ledger.Batch, error) {
	// Multi-batch events
	switch e := evt.(type) {
	case *event.EpochTick:
		return c.handleEpochTick(e)
	case *event.UbiDistribute:
		return c.handleUbiDistribute(e)
	}

	var batch *ledger.Batch
	var err error

	switch e := evt.(type) {
	case *event.PurchaseRequested:
		batch, err = c.handlePurchaseRequested(e)
	case *event.TokensSold:
		batch, err = c.handleTokensSold(e)
	case *event.FeeCollected:
		batch, err = c.handleFeeCollected(e)
	case *event.PolicyAdjustTick:
		batch, err = c.handlePolicyAdjustTick(e)
	case *event.EngagementRecorded:
		batch, err = c.handleEngagementRecorded(e)
	case *event.VerificationUpdated:
		batch, err = c.handleVerificationUpdated(e)
	case *event.FlowRecorded:
		batch, err = c.handleFlowRecorded(e)
	case *event.AssetTransferred:
		batch, err = c.handleAssetTransferred(e)
	case *event.RemediationSettle:
		batch, err = c.handleRemediationSettle(e)
	case *event.ParamOverride:
		batch, err = c.handleParamOverride(e)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}

	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, nil
	}
	return []*ledger.Batch{batch}, nil
}

// --- Derived event emission ---

func (c *DeterministicCore) stageDerived(d derivedEvent) {
	c.pendingDerived = append(c.pendingDerived, d)
}

// flushDerived emits staged outbound events with their own sequence numbers
// and hash-chain links, after the triggering event's outputs.
func (c *DeterministicCore) flushDerived() {
	for _, d := range c.pendingDerived {
		payload, err := json.Marshal(d.payload)
		if err != nil {
			panic(fmt.Sprintf("FATAL: derived payload encoding failed: %v", err))
		}

		seq := c.sequence
		c.sequence++

		stateDigest := c.computeStateDigest(nil)
		// Chain tip before ComputeHash advances it
		prevHash := c.hasher.GetPrevHash()
		stateHash := c.hasher.ComputeHash(seq, stateDigest)

		output := CoreOutput{
			Envelope: &event.EventEnvelope{
				Sequence:       seq,
				IdempotencyKey: d.idempotencyKey,
				EventType:      d.eventType,
				Scope:          d.scope,
				Timestamp:      d.timestamp,
				Payload:        payload,
				StateHash:      stateHash,
				PrevHash:       prevHash,
			},
		}

		// Blocking send: derived events are part of the event log
		c.persistChan <- output

		select {
		case c.projectionChan <- output:
		default:
		}
	}
	c.pendingDerived = nil
}

// --- Queries used by the HTTP surface ---

// PoolView is the read-only pool state exposed to collaborators.
type PoolView struct {
	Position  int64
	Reserve   int64
	Price     int64
	LastEpoch int64
	Phase     string
	Queue     int
	Version   int64
}

func (c *DeterministicCore) GetPoolView() PoolView {
	return PoolView{
		Position:  c.pool.Position(),
		Reserve:   c.pool.Reserve(),
		Price:     c.pool.Price(c.params.Current().MaxSupply),
		LastEpoch: c.pool.LastEpoch(),
		Phase:     c.pool.Phase().String(),
		Queue:     c.pool.QueueDepth(),
		Version:   c.pool.Version(),
	}
}

// GetBalance reads one account balance from the tracker.
func (c *DeterministicCore) GetBalance(key ledger.AccountKey) int64 {
	return c.balanceTracker.GetBalance(key)
}

// GetUbiClaim returns a participant's claim for a period, if one exists.
func (c *DeterministicCore) GetUbiClaim(participant uuid.UUID, period int64) (state.UbiClaim, bool) {
	return c.ubi.Claim(participant, period)
}

// GetConsumerRecord returns a participant's impact record, if one exists.
func (c *DeterministicCore) GetConsumerRecord(id uuid.UUID) (*state.ConsumerRecord, bool) {
	return c.impact.Consumer(id)
}

// GetAssetAccount returns an asset's impact account, if one exists.
func (c *DeterministicCore) GetAssetAccount(id uuid.UUID) (*state.AssetAccount, bool) {
	return c.impact.Asset(id)
}

func (c *DeterministicCore) GetFeePolicy() state.FeePolicy {
	return c.feeRouter.Policy()
}

func (c *DeterministicCore) GetParams() state.Params {
	return c.params.Current()
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence   int64
	StateHash  [32]byte
	Balances   map[ledger.AccountKey]int64
	Pool       state.PoolSnapshot
	FeeRouter  state.FeeRouterSnapshot
	Engagement state.EngagementSnapshot
	Ubi        state.UbiSnapshot
	Impact     state.ImpactSnapshot
	Params     state.Params
	UbiAccrued map[string]int64
	Sequences  map[string]int64
	IdemKeys   []string
}

// RestoreFromSnapshot restores the core's in-memory state.
// On warm restart, load the latest snapshot then replay events after it.
// Returns an error only for integrity failures that require halt-and-alert
// (a restored fee policy that no longer sums to the whole, invalid params).
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	if err := c.feeRouter.Restore(snap.FeeRouter); err != nil {
		return fmt.Errorf("fee policy integrity failure: %w", err)
	}
	if err := c.params.Restore(snap.Params); err != nil {
		return fmt.Errorf("params integrity failure: %w", err)
	}

	c.sequence = snap.Sequence + 1 // Next sequence to assign
	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}

	c.pool.Restore(snap.Pool)
	c.engagement.Restore(snap.Engagement)
	c.ubi.Restore(snap.Ubi)
	c.impact.Restore(snap.Impact)

	c.ubiAccrued = make(map[string]int64, len(snap.UbiAccrued))
	for b, v := range snap.UbiAccrued {
		c.ubiAccrued[b] = v
	}

	for partition, nextSeq := range snap.Sequences {
		c.sequenceValidator.SetExpectedSequence(partition, nextSeq)
	}

	c.journalGen.SetSequence(snap.Sequence)

	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache, avoiding
// cold-path DB lookups for recently processed events.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	accrued := make(map[string]int64, len(c.ubiAccrued))
	for b, v := range c.ubiAccrued {
		accrued[b] = v
	}
	return &SnapshotState{
		Sequence:   c.sequence - 1, // Last processed sequence
		StateHash:  c.hasher.GetPrevHash(),
		Balances:   c.balanceTracker.Snapshot(),
		Pool:       c.pool.Snapshot(),
		FeeRouter:  c.feeRouter.Snapshot(),
		Engagement: c.engagement.Snapshot(),
		Ubi:        c.ubi.Snapshot(),
		Impact:     c.impact.Snapshot(),
		Params:     c.params.Current(),
		UbiAccrued: accrued,
		Sequences:  c.sequenceValidator.GetAllPartitions(),
		IdemKeys:   nil,
	}
}
