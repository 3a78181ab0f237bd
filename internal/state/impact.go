package state

import (
	"fmt"
	"sort"

	"EconLedger/internal/compound"
	fpmath "EconLedger/internal/math"

	"github.com/google/uuid"
)

// Flow is one recorded compound flow. Quantity is signed and normalized to
// the compound's canonical unit: positive = released/produced, negative =
// consumed/sequestered. Append-only; the engine never recomputes a flow, it
// only aggregates. Retired tracks how much of the magnitude has been consumed
// by remediation matches.
type Flow struct {
	FlowID       uuid.UUID           `json:"flow_id"`
	Activity     uuid.UUID           `json:"activity"`
	Compound     compound.CompoundID `json:"compound"`
	Quantity     int64               `json:"quantity"`
	Method       string              `json:"method"`
	Confidence   uint8               `json:"confidence"`
	EvidenceHash string              `json:"evidence_hash"`
	Retired      int64               `json:"retired"`
}

// Remaining is the magnitude still open for remediation matching.
func (f *Flow) Remaining() int64 {
	mag := f.Quantity
	if mag < 0 {
		mag = -mag
	}
	return mag - f.Retired
}

// AssetAccount accumulates flows against a tracked asset until ownership
// changes hands.
type AssetAccount struct {
	Asset   uuid.UUID `json:"asset"`
	Version int64     `json:"version"`
	Flows   []Flow    `json:"flows"`
}

// ConsumerRecord holds a participant's inherited impact: three parallel
// per-compound balances plus the open flow records remediation matches
// against. Invariant: unremediated = lifetime - remediated per compound.
type ConsumerRecord struct {
	Participant uuid.UUID                     `json:"participant"`
	Version     int64                         `json:"version"`
	Lifetime    map[compound.CompoundID]int64 `json:"lifetime"`
	Remediated  map[compound.CompoundID]int64 `json:"remediated"`
	OpenFlows   map[uuid.UUID]*Flow           `json:"open_flows"`
}

// Unremediated returns the balance still owed remediation for one compound.
func (r *ConsumerRecord) Unremediated(c compound.CompoundID) int64 {
	return r.Lifetime[c] - r.Remediated[c]
}

// SequestrationBalance sums the tradeable remainder of the record's negative flows.
func (r *ConsumerRecord) SequestrationBalance(c compound.CompoundID) int64 {
	var total int64
	for _, f := range r.OpenFlows {
		if f.Compound == c && f.Quantity < 0 {
			total += f.Remaining()
		}
	}
	return total
}

// RemediationOutcome reports one settled (or previewed) match.
type RemediationOutcome struct {
	Compound compound.CompoundID // Compound both flows carry
	Matched  int64               // Physical units retired on both sides
	Payment  int64               // Token payment owed to the sequestration holder
}

// ImpactLedger owns all asset accounts and consumer records. Methods are
// called from the single-threaded engine loop; per-entity version counters
// exist for optimistic-concurrency commits downstream.
type ImpactLedger struct {
	assets    map[uuid.UUID]*AssetAccount
	consumers map[uuid.UUID]*ConsumerRecord
}

func NewImpactLedger() *ImpactLedger {
	return &ImpactLedger{
		assets:    make(map[uuid.UUID]*AssetAccount),
		consumers: make(map[uuid.UUID]*ConsumerRecord),
	}
}

func (l *ImpactLedger) asset(id uuid.UUID) *AssetAccount {
	a, ok := l.assets[id]
	if !ok {
		a = &AssetAccount{Asset: id}
		l.assets[id] = a
	}
	return a
}

func (l *ImpactLedger) consumer(id uuid.UUID) *ConsumerRecord {
	c, ok := l.consumers[id]
	if !ok {
		c = &ConsumerRecord{
			Participant: id,
			Lifetime:    make(map[compound.CompoundID]int64),
			Remediated:  make(map[compound.CompoundID]int64),
			OpenFlows:   make(map[uuid.UUID]*Flow),
		}
		l.consumers[id] = c
	}
	return c
}

// Asset returns the account for an asset, if one exists.
func (l *ImpactLedger) Asset(id uuid.UUID) (*AssetAccount, bool) {
	a, ok := l.assets[id]
	return a, ok
}

// Consumer returns the record for a participant, if one exists.
func (l *ImpactLedger) Consumer(id uuid.UUID) (*ConsumerRecord, bool) {
	c, ok := l.consumers[id]
	return c, ok
}

// RecordToAsset appends a flow to an asset's account.
func (l *ImpactLedger) RecordToAsset(assetID uuid.UUID, f Flow) {
	a := l.asset(assetID)
	a.Flows = append(a.Flows, f)
	a.Version++
}

// RecordToConsumer applies a flow directly to a participant's record.
// Positive quantities accumulate into the lifetime balance and stay open for
// remediation; negative quantities become tradeable sequestration credits.
func (l *ImpactLedger) RecordToConsumer(participant uuid.UUID, f Flow) {
	c := l.consumer(participant)
	stored := f
	if stored.Quantity > 0 {
		c.Lifetime[stored.Compound] += stored.Quantity
	}
	c.OpenFlows[stored.FlowID] = &stored
	c.Version++
}

// Transfer moves an asset's whole accumulated account into the new owner's
// record and clears the asset. This is the only bulk move in the ledger; a
// flow recorded in the same engine pass lands in exactly one of the two
// accounts because the loop serializes both operations.
//
// Returns the per-compound positive quantities moved, for the conservation
// check: asset balance before == consumer lifetime delta after.
func (l *ImpactLedger) Transfer(assetID uuid.UUID, newOwner uuid.UUID) map[compound.CompoundID]int64 {
	a := l.asset(assetID)
	c := l.consumer(newOwner)

	moved := make(map[compound.CompoundID]int64)
	for _, f := range a.Flows {
		stored := f
		if stored.Quantity > 0 {
			c.Lifetime[stored.Compound] += stored.Quantity
			moved[stored.Compound] += stored.Quantity
		}
		c.OpenFlows[stored.FlowID] = &stored
	}

	a.Flows = nil
	a.Version++
	c.Version++

	return moved
}

// matchRemediation resolves and validates both legs of a match without
// mutating anything. Returns the live flow records and the matchable units.
func (l *ImpactLedger) matchRemediation(
	consumerID uuid.UUID,
	holderID uuid.UUID,
	positiveFlowID uuid.UUID,
	seqFlowID uuid.UUID,
) (pos, neg *Flow, matched int64, err error) {
	consumer, ok := l.consumers[consumerID]
	if !ok {
		return nil, nil, 0, fmt.Errorf("%w: consumer %s", ErrUnknownFlow, consumerID)
	}
	holder, ok := l.consumers[holderID]
	if !ok {
		return nil, nil, 0, fmt.Errorf("%w: holder %s", ErrUnknownFlow, holderID)
	}

	pos, ok = consumer.OpenFlows[positiveFlowID]
	if !ok {
		return nil, nil, 0, fmt.Errorf("%w: positive flow %s", ErrUnknownFlow, positiveFlowID)
	}
	neg, ok = holder.OpenFlows[seqFlowID]
	if !ok {
		return nil, nil, 0, fmt.Errorf("%w: sequestration flow %s", ErrUnknownFlow, seqFlowID)
	}

	if pos.Quantity <= 0 {
		return nil, nil, 0, fmt.Errorf("%w: flow %s is not a positive flow", ErrWrongDirection, positiveFlowID)
	}
	if neg.Quantity >= 0 {
		return nil, nil, 0, fmt.Errorf("%w: flow %s is not a sequestration flow", ErrWrongDirection, seqFlowID)
	}
	if pos.Compound != neg.Compound {
		return nil, nil, 0, fmt.Errorf("%w: %d vs %d", ErrCompoundMismatch, pos.Compound, neg.Compound)
	}

	posRemaining := pos.Remaining()
	negRemaining := neg.Remaining()
	if posRemaining <= 0 || negRemaining <= 0 {
		return nil, nil, 0, fmt.Errorf("%w: match %s/%s", ErrFlowRetired, positiveFlowID, seqFlowID)
	}

	matched = posRemaining
	if negRemaining < matched {
		matched = negRemaining
	}
	return pos, neg, matched, nil
}

// PreviewRemediation validates a match and computes its outcome without
// retiring anything. Callers that must clear an external pre-check (the
// consumer's token balance covering the payment) preview first, commit with
// SettleRemediation only once the whole settlement can succeed.
func (l *ImpactLedger) PreviewRemediation(
	consumerID uuid.UUID,
	holderID uuid.UUID,
	positiveFlowID uuid.UUID,
	seqFlowID uuid.UUID,
	perUnitRate int64,
) (*RemediationOutcome, error) {
	pos, _, matched, err := l.matchRemediation(consumerID, holderID, positiveFlowID, seqFlowID)
	if err != nil {
		return nil, err
	}
	return &RemediationOutcome{
		Compound: pos.Compound,
		Matched:  matched,
		Payment:  fpmath.MulDiv(matched, perUnitRate, fpmath.RateConfig.Scale),
	}, nil
}

// SettleRemediation retires min(|positive|, |negative|) units of a consumer's
// open positive flow against a holder's open sequestration flow of the same
// compound. Partial matches are valid; the larger side's leftover stays open.
// Payment is matched units times the per-unit rate, owed by the consumer to
// the holder.
//
// Replaying a fully-retired pair fails with ErrFlowRetired, which keeps the
// settlement idempotent at the match level.
func (l *ImpactLedger) SettleRemediation(
	consumerID uuid.UUID,
	holderID uuid.UUID,
	positiveFlowID uuid.UUID,
	seqFlowID uuid.UUID,
	perUnitRate int64,
) (*RemediationOutcome, error) {
	pos, neg, matched, err := l.matchRemediation(consumerID, holderID, positiveFlowID, seqFlowID)
	if err != nil {
		return nil, err
	}

	consumer := l.consumers[consumerID]
	holder := l.consumers[holderID]

	pos.Retired += matched
	neg.Retired += matched
	consumer.Remediated[pos.Compound] += matched
	consumer.Version++
	holder.Version++

	return &RemediationOutcome{
		Compound: pos.Compound,
		Matched:  matched,
		Payment:  fpmath.MulDiv(matched, perUnitRate, fpmath.RateConfig.Scale),
	}, nil
}

// ImpactSnapshot is the serializable ledger state.
type ImpactSnapshot struct {
	Assets    []AssetAccount   `json:"assets"`
	Consumers []ConsumerRecord `json:"consumers"`
}

// Snapshot returns the serializable ledger state sorted for a stable encoding.
func (l *ImpactLedger) Snapshot() ImpactSnapshot {
	s := ImpactSnapshot{
		Assets:    make([]AssetAccount, 0, len(l.assets)),
		Consumers: make([]ConsumerRecord, 0, len(l.consumers)),
	}
	for _, a := range l.assets {
		s.Assets = append(s.Assets, *a)
	}
	for _, c := range l.consumers {
		s.Consumers = append(s.Consumers, *c)
	}
	sort.Slice(s.Assets, func(i, j int) bool {
		return s.Assets[i].Asset.String() < s.Assets[j].Asset.String()
	})
	sort.Slice(s.Consumers, func(i, j int) bool {
		return s.Consumers[i].Participant.String() < s.Consumers[j].Participant.String()
	})
	return s
}

// Restore replaces ledger state during recovery.
func (l *ImpactLedger) Restore(s ImpactSnapshot) {
	l.assets = make(map[uuid.UUID]*AssetAccount, len(s.Assets))
	l.consumers = make(map[uuid.UUID]*ConsumerRecord, len(s.Consumers))
	for i := range s.Assets {
		a := s.Assets[i]
		l.assets[a.Asset] = &a
	}
	for i := range s.Consumers {
		c := s.Consumers[i]
		if c.Lifetime == nil {
			c.Lifetime = make(map[compound.CompoundID]int64)
		}
		if c.Remediated == nil {
			c.Remediated = make(map[compound.CompoundID]int64)
		}
		if c.OpenFlows == nil {
			c.OpenFlows = make(map[uuid.UUID]*Flow)
		}
		l.consumers[c.Participant] = &c
	}
}
