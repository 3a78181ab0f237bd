package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePurchaseRequested
	EventTypeTokensSold
	EventTypeEpochTick
	EventTypeFeeCollected
	EventTypePolicyAdjustTick
	EventTypeEngagementRecorded
	EventTypeVerificationUpdated
	EventTypeUbiDistribute
	EventTypeFlowRecorded
	EventTypeAssetTransferred
	EventTypeRemediationSettle
	EventTypeParamOverride

	// Derived outbound events (emitted by the core, never ingested)
	EventTypeEpochSettled
	EventTypePolicyAdjusted
	EventTypeUbiDistributed
	EventTypeRemediationSettled
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Scope context: bioregion, asset or participant partition
	// (nullable for global events)
	Scope *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Scope returns the partition context (nil for global events)
	Scope() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypePurchaseRequested:
		return "PurchaseRequested"
	case EventTypeTokensSold:
		return "TokensSold"
	case EventTypeEpochTick:
		return "EpochTick"
	case EventTypeFeeCollected:
		return "FeeCollected"
	case EventTypePolicyAdjustTick:
		return "PolicyAdjustTick"
	case EventTypeEngagementRecorded:
		return "EngagementRecorded"
	case EventTypeVerificationUpdated:
		return "VerificationUpdated"
	case EventTypeUbiDistribute:
		return "UbiDistribute"
	case EventTypeFlowRecorded:
		return "FlowRecorded"
	case EventTypeAssetTransferred:
		return "AssetTransferred"
	case EventTypeRemediationSettle:
		return "RemediationSettle"
	case EventTypeParamOverride:
		return "ParamOverride"
	case EventTypeEpochSettled:
		return "EpochSettled"
	case EventTypePolicyAdjusted:
		return "PolicyAdjusted"
	case EventTypeUbiDistributed:
		return "UbiDistributed"
	case EventTypeRemediationSettled:
		return "RemediationSettled"
	default:
		return "Unknown"
	}
}
