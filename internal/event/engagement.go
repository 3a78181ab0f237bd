package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EngagementRecorded is the Records collaborator's per-period aggregate of a
// participant's activity. One record per participant per period; the
// aggregator re-publishes the full counts, so the latest record wins.
type EngagementRecorded struct {
	Participant            uuid.UUID
	Bioregion              string
	Period                 int64
	TransactionCount       uint32
	DistinctCounterparties uint32
	Sequence               int64
	Timestamp              time.Time
}

func (e *EngagementRecorded) IdempotencyKey() string {
	return fmt.Sprintf("engagement:%s:%d:%d", e.Participant, e.Period, e.Sequence)
}

func (e *EngagementRecorded) EventType() EventType {
	return EventTypeEngagementRecorded
}

func (e *EngagementRecorded) Scope() *string {
	s := e.Bioregion
	return &s
}

func (e *EngagementRecorded) SourceSequence() int64 {
	return e.Sequence
}

// VerificationTier mirrors the Identity collaborator's tiers. The engine only
// consumes the fact; issuance and recovery live elsewhere.
type VerificationTier int32

const (
	TierUnverified VerificationTier = iota
	TierBasic
	TierStandard
	TierEnhanced
)

func (t VerificationTier) String() string {
	switch t {
	case TierBasic:
		return "basic"
	case TierStandard:
		return "standard"
	case TierEnhanced:
		return "enhanced"
	default:
		return "unverified"
	}
}

// VerificationUpdated carries a participant's tier and bioregion assignment
// from the Identity collaborator.
type VerificationUpdated struct {
	Participant uuid.UUID
	Tier        VerificationTier
	Bioregion   string
	Sequence    int64
	Timestamp   time.Time
}

func (v *VerificationUpdated) IdempotencyKey() string {
	return fmt.Sprintf("identity:%s:%d", v.Participant, v.Sequence)
}

func (v *VerificationUpdated) EventType() EventType {
	return EventTypeVerificationUpdated
}

func (v *VerificationUpdated) Scope() *string {
	s := v.Bioregion
	return &s
}

func (v *VerificationUpdated) SourceSequence() int64 {
	return v.Sequence
}

// UbiDistribute triggers basic-income distribution for one bioregion and
// period. Idempotency key: "ubi:{bioregion}:{period}".
type UbiDistribute struct {
	Bioregion string
	Period    int64
	Timestamp time.Time
}

func (u *UbiDistribute) IdempotencyKey() string {
	return fmt.Sprintf("ubi:%s:%d", u.Bioregion, u.Period)
}

func (u *UbiDistribute) EventType() EventType {
	return EventTypeUbiDistribute
}

func (u *UbiDistribute) Scope() *string {
	s := u.Bioregion
	return &s
}

func (u *UbiDistribute) SourceSequence() int64 {
	return u.Period
}
