package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"EconLedger/internal/event"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts raw
// events before sending to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "PurchaseRequested":
		return parsePurchaseRequested(raw.Data)
	case "TokensSold":
		return parseTokensSold(raw.Data)
	case "EpochTick":
		return parseEpochTick(raw.Data)
	case "FeeCollected":
		return parseFeeCollected(raw.Data)
	case "PolicyAdjustTick":
		return parsePolicyAdjustTick(raw.Data)
	case "EngagementRecorded":
		return parseEngagementRecorded(raw.Data)
	case "VerificationUpdated":
		return parseVerificationUpdated(raw.Data)
	case "UbiDistribute":
		return parseUbiDistribute(raw.Data)
	case "FlowRecorded":
		return parseFlowRecorded(raw.Data)
	case "AssetTransferred":
		return parseAssetTransferred(raw.Data)
	case "RemediationSettle":
		return parseRemediationSettle(raw.Data)
	case "ParamOverride":
		return parseParamOverride(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type purchaseRequestedJSON struct {
	RequestID   string `json:"request_id"`
	Requester   string `json:"requester"`
	Value       int64  `json:"value"`
	Kind        string `json:"kind"` // "purchase" or "founder_accrual"
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePurchaseRequested(data []byte) (*event.PurchaseRequested, error) {
	var j purchaseRequestedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PurchaseRequested: %w", err)
	}

	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	requester, err := uuid.Parse(j.Requester)
	if err != nil {
		return nil, fmt.Errorf("parse requester: %w", err)
	}
	if j.Value <= 0 {
		return nil, fmt.Errorf("non-positive purchase value: %d", j.Value)
	}

	kind := event.RequestKindPurchase
	if j.Kind == "founder_accrual" {
		kind = event.RequestKindFounderAccrual
	}

	return &event.PurchaseRequested{
		RequestID: requestID,
		Requester: requester,
		Value:     j.Value,
		Kind:      kind,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type tokensSoldJSON struct {
	SaleID      string `json:"sale_id"`
	Seller      string `json:"seller"`
	Quantity    int64  `json:"quantity"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseTokensSold(data []byte) (*event.TokensSold, error) {
	var j tokensSoldJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TokensSold: %w", err)
	}
	saleID, err := uuid.Parse(j.SaleID)
	if err != nil {
		return nil, fmt.Errorf("parse sale_id: %w", err)
	}
	seller, err := uuid.Parse(j.Seller)
	if err != nil {
		return nil, fmt.Errorf("parse seller: %w", err)
	}
	if j.Quantity <= 0 {
		return nil, fmt.Errorf("non-positive sale quantity: %d", j.Quantity)
	}
	return &event.TokensSold{
		SaleID:    saleID,
		Seller:    seller,
		Quantity:  j.Quantity,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type epochTickJSON struct {
	Epoch       int64 `json:"epoch"`
	TimestampUs int64 `json:"timestamp_us"`
}

func parseEpochTick(data []byte) (*event.EpochTick, error) {
	var j epochTickJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse EpochTick: %w", err)
	}
	return &event.EpochTick{
		Epoch:     j.Epoch,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type feeCollectedJSON struct {
	FeeID       string `json:"fee_id"`
	Bioregion   string `json:"bioregion"`
	Amount      int64  `json:"amount"`
	Period      int64  `json:"period"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseFeeCollected(data []byte) (*event.FeeCollected, error) {
	var j feeCollectedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FeeCollected: %w", err)
	}
	feeID, err := uuid.Parse(j.FeeID)
	if err != nil {
		return nil, fmt.Errorf("parse fee_id: %w", err)
	}
	if j.Bioregion == "" {
		return nil, fmt.Errorf("missing bioregion on fee %s", feeID)
	}
	return &event.FeeCollected{
		FeeID:     feeID,
		Bioregion: j.Bioregion,
		Amount:    j.Amount,
		Period:    j.Period,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type policyAdjustTickJSON struct {
	Period      int64 `json:"period"`
	TimestampUs int64 `json:"timestamp_us"`
}

func parsePolicyAdjustTick(data []byte) (*event.PolicyAdjustTick, error) {
	var j policyAdjustTickJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PolicyAdjustTick: %w", err)
	}
	return &event.PolicyAdjustTick{
		Period:    j.Period,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type engagementRecordedJSON struct {
	Participant            string `json:"participant"`
	Bioregion              string `json:"bioregion"`
	Period                 int64  `json:"period"`
	TransactionCount       uint32 `json:"transaction_count"`
	DistinctCounterparties uint32 `json:"distinct_counterparties"`
	Sequence               int64  `json:"sequence"`
	TimestampUs            int64  `json:"timestamp_us"`
}

func parseEngagementRecorded(data []byte) (*event.EngagementRecorded, error) {
	var j engagementRecordedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse EngagementRecorded: %w", err)
	}
	participant, err := uuid.Parse(j.Participant)
	if err != nil {
		return nil, fmt.Errorf("parse participant: %w", err)
	}
	return &event.EngagementRecorded{
		Participant:            participant,
		Bioregion:              j.Bioregion,
		Period:                 j.Period,
		TransactionCount:       j.TransactionCount,
		DistinctCounterparties: j.DistinctCounterparties,
		Sequence:               j.Sequence,
		Timestamp:              time.UnixMicro(j.TimestampUs),
	}, nil
}

type verificationUpdatedJSON struct {
	Participant string `json:"participant"`
	Tier        string `json:"tier"` // "unverified", "basic", "standard", "enhanced"
	Bioregion   string `json:"bioregion"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseVerificationUpdated(data []byte) (*event.VerificationUpdated, error) {
	var j verificationUpdatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse VerificationUpdated: %w", err)
	}
	participant, err := uuid.Parse(j.Participant)
	if err != nil {
		return nil, fmt.Errorf("parse participant: %w", err)
	}

	var tier event.VerificationTier
	switch j.Tier {
	case "basic":
		tier = event.TierBasic
	case "standard":
		tier = event.TierStandard
	case "enhanced":
		tier = event.TierEnhanced
	case "unverified", "":
		tier = event.TierUnverified
	default:
		return nil, fmt.Errorf("unknown verification tier: %q", j.Tier)
	}

	return &event.VerificationUpdated{
		Participant: participant,
		Tier:        tier,
		Bioregion:   j.Bioregion,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type ubiDistributeJSON struct {
	Bioregion   string `json:"bioregion"`
	Period      int64  `json:"period"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseUbiDistribute(data []byte) (*event.UbiDistribute, error) {
	var j ubiDistributeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse UbiDistribute: %w", err)
	}
	if j.Bioregion == "" {
		return nil, fmt.Errorf("missing bioregion on distribution trigger")
	}
	return &event.UbiDistribute{
		Bioregion: j.Bioregion,
		Period:    j.Period,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type flowRecordedJSON struct {
	FlowID          string `json:"flow_id"`
	Activity        string `json:"activity"`
	DestinationKind string `json:"destination_kind"` // "asset" or "consumer"
	DestinationID   string `json:"destination_id"`
	Compound        string `json:"compound"`
	Quantity        int64  `json:"quantity"`
	Unit            string `json:"unit"`
	Method          string `json:"method"`
	Confidence      uint8  `json:"confidence"`
	EvidenceHash    string `json:"evidence_hash"`
	Sequence        int64  `json:"sequence"`
	TimestampUs     int64  `json:"timestamp_us"`
}

func parseFlowRecorded(data []byte) (*event.FlowRecorded, error) {
	var j flowRecordedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FlowRecorded: %w", err)
	}
	flowID, err := uuid.Parse(j.FlowID)
	if err != nil {
		return nil, fmt.Errorf("parse flow_id: %w", err)
	}
	activity, err := uuid.Parse(j.Activity)
	if err != nil {
		return nil, fmt.Errorf("parse activity: %w", err)
	}
	destinationID, err := uuid.Parse(j.DestinationID)
	if err != nil {
		return nil, fmt.Errorf("parse destination_id: %w", err)
	}

	var kind event.DestinationKind
	switch j.DestinationKind {
	case "asset":
		kind = event.DestinationAsset
	case "consumer":
		kind = event.DestinationConsumer
	default:
		return nil, fmt.Errorf("unknown destination kind: %q", j.DestinationKind)
	}

	return &event.FlowRecorded{
		FlowID:          flowID,
		Activity:        activity,
		DestinationKind: kind,
		DestinationID:   destinationID,
		Compound:        j.Compound,
		Quantity:        j.Quantity,
		Unit:            j.Unit,
		Method:          j.Method,
		Confidence:      j.Confidence,
		EvidenceHash:    j.EvidenceHash,
		Sequence:        j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type assetTransferredJSON struct {
	TransferID  string `json:"transfer_id"`
	Asset       string `json:"asset"`
	NewOwner    string `json:"new_owner"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseAssetTransferred(data []byte) (*event.AssetTransferred, error) {
	var j assetTransferredJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse AssetTransferred: %w", err)
	}
	transferID, err := uuid.Parse(j.TransferID)
	if err != nil {
		return nil, fmt.Errorf("parse transfer_id: %w", err)
	}
	asset, err := uuid.Parse(j.Asset)
	if err != nil {
		return nil, fmt.Errorf("parse asset: %w", err)
	}
	newOwner, err := uuid.Parse(j.NewOwner)
	if err != nil {
		return nil, fmt.Errorf("parse new_owner: %w", err)
	}
	return &event.AssetTransferred{
		TransferID: transferID,
		Asset:      asset,
		NewOwner:   newOwner,
		Sequence:   j.Sequence,
		Timestamp:  time.UnixMicro(j.TimestampUs),
	}, nil
}

type remediationSettleJSON struct {
	MatchID           string `json:"match_id"`
	Consumer          string `json:"consumer"`
	Holder            string `json:"holder"`
	Compound          string `json:"compound"`
	PositiveFlowID    string `json:"positive_flow_id"`
	SequestrationFlow string `json:"sequestration_flow_id"`
	PerUnitRate       int64  `json:"per_unit_rate"`
	Sequence          int64  `json:"sequence"`
	TimestampUs       int64  `json:"timestamp_us"`
}

func parseRemediationSettle(data []byte) (*event.RemediationSettle, error) {
	var j remediationSettleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RemediationSettle: %w", err)
	}
	matchID, err := uuid.Parse(j.MatchID)
	if err != nil {
		return nil, fmt.Errorf("parse match_id: %w", err)
	}
	consumer, err := uuid.Parse(j.Consumer)
	if err != nil {
		return nil, fmt.Errorf("parse consumer: %w", err)
	}
	holder, err := uuid.Parse(j.Holder)
	if err != nil {
		return nil, fmt.Errorf("parse holder: %w", err)
	}
	positiveFlow, err := uuid.Parse(j.PositiveFlowID)
	if err != nil {
		return nil, fmt.Errorf("parse positive_flow_id: %w", err)
	}
	sequestrationFlow, err := uuid.Parse(j.SequestrationFlow)
	if err != nil {
		return nil, fmt.Errorf("parse sequestration_flow_id: %w", err)
	}
	if j.PerUnitRate < 0 {
		return nil, fmt.Errorf("negative per-unit rate: %d", j.PerUnitRate)
	}
	return &event.RemediationSettle{
		MatchID:           matchID,
		Consumer:          consumer,
		Holder:            holder,
		Compound:          j.Compound,
		PositiveFlowID:    positiveFlow,
		SequestrationFlow: sequestrationFlow,
		PerUnitRate:       j.PerUnitRate,
		Sequence:          j.Sequence,
		Timestamp:         time.UnixMicro(j.TimestampUs),
	}, nil
}

type paramOverrideJSON struct {
	Version          int64 `json:"version"`
	MaxSupply        int64 `json:"max_supply"`
	UbiFloorBps      int64 `json:"ubi_floor_bps"`
	UbiCeilBps       int64 `json:"ubi_ceil_bps"`
	TargetLow        int64 `json:"target_low"`
	TargetHigh       int64 `json:"target_high"`
	AdjustStepBps    int64 `json:"adjust_step_bps"`
	SurvivalFloor    int64 `json:"survival_floor"`
	ControllerPeriod int64 `json:"controller_period"`
	Sequence         int64 `json:"sequence"`
	TimestampUs      int64 `json:"timestamp_us"`
}

func parseParamOverride(data []byte) (*event.ParamOverride, error) {
	var j paramOverrideJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ParamOverride: %w", err)
	}
	return &event.ParamOverride{
		Version:          j.Version,
		MaxSupply:        j.MaxSupply,
		UbiFloorBps:      j.UbiFloorBps,
		UbiCeilBps:       j.UbiCeilBps,
		TargetLow:        j.TargetLow,
		TargetHigh:       j.TargetHigh,
		AdjustStepBps:    j.AdjustStepBps,
		SurvivalFloor:    j.SurvivalFloor,
		ControllerPeriod: j.ControllerPeriod,
		Sequence:         j.Sequence,
		Timestamp:        time.UnixMicro(j.TimestampUs),
	}, nil
}
