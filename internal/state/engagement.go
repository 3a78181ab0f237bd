package state

import (
	"sort"

	"EconLedger/internal/event"

	"github.com/google/uuid"
)

// Engagement is one participant's activity counters for one period, written
// by the external records aggregator and read-only here.
type Engagement struct {
	TransactionCount       uint32 `json:"transaction_count"`
	DistinctCounterparties uint32 `json:"distinct_counterparties"`
}

// RampPct maps engagement to the variable-income percentage. Monotone step
// function; the top step additionally requires two distinct counterparties.
func RampPct(e Engagement) int64 {
	switch {
	case e.TransactionCount == 0:
		return 0
	case e.TransactionCount == 1:
		return 25
	case e.TransactionCount == 2:
		return 50
	case e.TransactionCount == 3:
		return 70
	case e.TransactionCount == 4:
		return 85
	case e.DistinctCounterparties >= 2:
		return 100
	default:
		return 85
	}
}

type engagementKey struct {
	participant uuid.UUID
	period      int64
}

// identity is what the identity collaborator has told us about a participant.
type identity struct {
	tier      event.VerificationTier
	bioregion string
}

// EngagementBook holds verification tiers, bioregion assignments, and
// per-period engagement counters.
type EngagementBook struct {
	identities map[uuid.UUID]identity
	records    map[engagementKey]Engagement
}

func NewEngagementBook() *EngagementBook {
	return &EngagementBook{
		identities: make(map[uuid.UUID]identity),
		records:    make(map[engagementKey]Engagement),
	}
}

// SetVerification records a participant's tier and bioregion assignment.
func (b *EngagementBook) SetVerification(participant uuid.UUID, tier event.VerificationTier, bioregion string) {
	b.identities[participant] = identity{tier: tier, bioregion: bioregion}
}

// Tier returns the participant's verification tier.
func (b *EngagementBook) Tier(participant uuid.UUID) event.VerificationTier {
	return b.identities[participant].tier
}

// Bioregion returns the participant's assigned bioregion.
func (b *EngagementBook) Bioregion(participant uuid.UUID) string {
	return b.identities[participant].bioregion
}

// Record upserts a participant's counters for a period. The aggregator sends
// totals, not deltas, so the latest record wins.
func (b *EngagementBook) Record(participant uuid.UUID, period int64, e Engagement) {
	b.records[engagementKey{participant, period}] = e
}

// Engagement returns a participant's counters for a period. Missing records
// read as zero activity.
func (b *EngagementBook) Engagement(participant uuid.UUID, period int64) Engagement {
	return b.records[engagementKey{participant, period}]
}

// Eligible returns the participants in a bioregion with tier >= Standard,
// sorted by id so distribution order is deterministic under replay.
func (b *EngagementBook) Eligible(bioregion string) []uuid.UUID {
	var out []uuid.UUID
	for p, id := range b.identities {
		if id.bioregion == bioregion && id.tier >= event.TierStandard {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

// EngagementSnapshot is the serializable book state.
type EngagementSnapshot struct {
	Identities map[uuid.UUID]IdentityEntry `json:"identities"`
	Records    []EngagementEntry           `json:"records"`
}

type IdentityEntry struct {
	Tier      event.VerificationTier `json:"tier"`
	Bioregion string                 `json:"bioregion"`
}

type EngagementEntry struct {
	Participant uuid.UUID  `json:"participant"`
	Period      int64      `json:"period"`
	Counters    Engagement `json:"counters"`
}

// Snapshot returns the serializable book state, records sorted for a stable encoding.
func (b *EngagementBook) Snapshot() EngagementSnapshot {
	s := EngagementSnapshot{
		Identities: make(map[uuid.UUID]IdentityEntry, len(b.identities)),
		Records:    make([]EngagementEntry, 0, len(b.records)),
	}
	for p, id := range b.identities {
		s.Identities[p] = IdentityEntry{Tier: id.tier, Bioregion: id.bioregion}
	}
	for k, e := range b.records {
		s.Records = append(s.Records, EngagementEntry{
			Participant: k.participant,
			Period:      k.period,
			Counters:    e,
		})
	}
	sort.Slice(s.Records, func(i, j int) bool {
		if s.Records[i].Period != s.Records[j].Period {
			return s.Records[i].Period < s.Records[j].Period
		}
		return s.Records[i].Participant.String() < s.Records[j].Participant.String()
	})
	return s
}

// Restore replaces book state during recovery.
func (b *EngagementBook) Restore(s EngagementSnapshot) {
	b.identities = make(map[uuid.UUID]identity, len(s.Identities))
	b.records = make(map[engagementKey]Engagement, len(s.Records))
	for p, id := range s.Identities {
		b.identities[p] = identity{tier: id.Tier, bioregion: id.Bioregion}
	}
	for _, e := range s.Records {
		b.records[engagementKey{e.Participant, e.Period}] = e.Counters
	}
}
