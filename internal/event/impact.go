package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DestinationKind says whether a flow lands on an asset account or directly
// on a consumer record.
type DestinationKind int32

const (
	DestinationAsset DestinationKind = iota
	DestinationConsumer
)

// FlowRecorded appends one compound flow to the impact ledger. The engine
// never recomputes or corrects a flow; confidence and measurement method
// travel with the record as declared.
type FlowRecorded struct {
	FlowID          uuid.UUID // Idempotency key
	Activity        uuid.UUID
	DestinationKind DestinationKind
	DestinationID   uuid.UUID
	Compound        string // Registry code, e.g. "CO2"
	Quantity        int64  // Signed: positive = released/produced, negative = consumed/sequestered
	Unit            string // Measurement unit, normalized on ingest
	Method          string // Measurement method declared by the submitter
	Confidence      uint8  // 0..100
	EvidenceHash    string
	Sequence        int64
	Timestamp       time.Time
}

func (f *FlowRecorded) IdempotencyKey() string {
	return f.FlowID.String()
}

func (f *FlowRecorded) EventType() EventType {
	return EventTypeFlowRecorded
}

func (f *FlowRecorded) Scope() *string {
	s := fmt.Sprintf("impact:%s", f.DestinationID)
	return &s
}

func (f *FlowRecorded) SourceSequence() int64 {
	return f.Sequence
}

// AssetTransferred moves an asset's whole accumulated impact account into the
// new owner's consumer record. Ownership of impact transfers atomically with
// ownership of the asset.
type AssetTransferred struct {
	TransferID uuid.UUID
	Asset      uuid.UUID
	NewOwner   uuid.UUID
	Sequence   int64
	Timestamp  time.Time
}

func (a *AssetTransferred) IdempotencyKey() string {
	return a.TransferID.String()
}

func (a *AssetTransferred) EventType() EventType {
	return EventTypeAssetTransferred
}

func (a *AssetTransferred) Scope() *string {
	s := fmt.Sprintf("impact:%s", a.Asset)
	return &s
}

func (a *AssetTransferred) SourceSequence() int64 {
	return a.Sequence
}

// RemediationSettle retires min(|positive|, |negative|) units of a consumer's
// unremediated flow against a sequestration holder's record, moving token
// payment at the per-unit rate agreed off-engine by the marketplace.
type RemediationSettle struct {
	MatchID           uuid.UUID // Idempotency key
	Consumer          uuid.UUID
	Holder            uuid.UUID
	Compound          string
	PositiveFlowID    uuid.UUID
	SequestrationFlow uuid.UUID
	PerUnitRate       int64 // Token units per physical unit, rate scale
	Sequence          int64
	Timestamp         time.Time
}

func (r *RemediationSettle) IdempotencyKey() string {
	return r.MatchID.String()
}

func (r *RemediationSettle) EventType() EventType {
	return EventTypeRemediationSettle
}

func (r *RemediationSettle) Scope() *string {
	s := fmt.Sprintf("impact:%s", r.Consumer)
	return &s
}

func (r *RemediationSettle) SourceSequence() int64 {
	return r.Sequence
}
