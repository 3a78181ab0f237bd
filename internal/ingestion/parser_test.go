package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"EconLedger/internal/event"
	"EconLedger/internal/ingestion"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParsePurchaseRequested(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"requester":    "660e8400-e29b-41d4-a716-446655440001",
		"value":        int64(12_500_000_000),
		"kind":         "purchase",
		"sequence":     int64(42),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "PurchaseRequested")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pr, ok := evt.(*event.PurchaseRequested)
	if !ok {
		t.Fatalf("expected *event.PurchaseRequested, got %T", evt)
	}

	if pr.Value != 12_500_000_000 {
		t.Errorf("value: got %d, want 12_500_000_000", pr.Value)
	}
	if pr.Kind != event.RequestKindPurchase {
		t.Errorf("kind: got %v, want RequestKindPurchase", pr.Kind)
	}
	if pr.Sequence != 42 {
		t.Errorf("sequence: got %d, want 42", pr.Sequence)
	}
	if pr.EventType() != event.EventTypePurchaseRequested {
		t.Errorf("event type: got %v, want PurchaseRequested", pr.EventType())
	}
}

func TestParsePurchaseRequested_FounderKind(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"requester":    "660e8400-e29b-41d4-a716-446655440001",
		"value":        int64(1_000_000),
		"kind":         "founder_accrual",
		"sequence":     int64(1),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "PurchaseRequested")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pr := evt.(*event.PurchaseRequested)
	if pr.Kind != event.RequestKindFounderAccrual {
		t.Errorf("kind: got %v, want RequestKindFounderAccrual", pr.Kind)
	}
}

func TestParsePurchaseRequested_RejectsNonPositiveValue(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"requester":    "660e8400-e29b-41d4-a716-446655440001",
		"value":        int64(0),
		"kind":         "purchase",
		"sequence":     int64(1),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "PurchaseRequested"); err == nil {
		t.Fatal("expected error for zero value")
	}
}

func TestParseTokensSold(t *testing.T) {
	payload := map[string]interface{}{
		"sale_id":      "550e8400-e29b-41d4-a716-446655440000",
		"seller":       "660e8400-e29b-41d4-a716-446655440001",
		"quantity":     int64(1_000_000_000),
		"sequence":     int64(7),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "TokensSold")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ts, ok := evt.(*event.TokensSold)
	if !ok {
		t.Fatalf("expected *event.TokensSold, got %T", evt)
	}

	if ts.Quantity != 1_000_000_000 {
		t.Errorf("quantity: got %d, want 1_000_000_000", ts.Quantity)
	}
	if ts.EventType() != event.EventTypeTokensSold {
		t.Errorf("event type: got %v, want TokensSold", ts.EventType())
	}
}

func TestParseEpochTick(t *testing.T) {
	payload := map[string]interface{}{
		"epoch":        int64(12),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "EpochTick")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	et, ok := evt.(*event.EpochTick)
	if !ok {
		t.Fatalf("expected *event.EpochTick, got %T", evt)
	}

	if et.Epoch != 12 {
		t.Errorf("epoch: got %d, want 12", et.Epoch)
	}
	if et.IdempotencyKey() != "epoch:12" {
		t.Errorf("idempotency key: got %s, want epoch:12", et.IdempotencyKey())
	}
}

func TestParseFeeCollected(t *testing.T) {
	payload := map[string]interface{}{
		"fee_id":       "550e8400-e29b-41d4-a716-446655440000",
		"bioregion":    "cascadia",
		"amount":       int64(1_000),
		"period":       int64(3),
		"sequence":     int64(9),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "FeeCollected")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	fc, ok := evt.(*event.FeeCollected)
	if !ok {
		t.Fatalf("expected *event.FeeCollected, got %T", evt)
	}

	if fc.Bioregion != "cascadia" {
		t.Errorf("bioregion: got %s, want cascadia", fc.Bioregion)
	}
	if fc.Amount != 1_000 {
		t.Errorf("amount: got %d, want 1_000", fc.Amount)
	}
	if fc.Period != 3 {
		t.Errorf("period: got %d, want 3", fc.Period)
	}
}

func TestParseFeeCollected_RejectsMissingBioregion(t *testing.T) {
	payload := map[string]interface{}{
		"fee_id":       "550e8400-e29b-41d4-a716-446655440000",
		"amount":       int64(1_000),
		"period":       int64(3),
		"sequence":     int64(9),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "FeeCollected"); err == nil {
		t.Fatal("expected error for missing bioregion")
	}
}

func TestParseVerificationUpdated(t *testing.T) {
	payload := map[string]interface{}{
		"participant":  "660e8400-e29b-41d4-a716-446655440001",
		"tier":         "standard",
		"bioregion":    "cascadia",
		"sequence":     int64(1),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "VerificationUpdated")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	vu, ok := evt.(*event.VerificationUpdated)
	if !ok {
		t.Fatalf("expected *event.VerificationUpdated, got %T", evt)
	}

	if vu.Tier != event.TierStandard {
		t.Errorf("tier: got %v, want TierStandard", vu.Tier)
	}
	if vu.Bioregion != "cascadia" {
		t.Errorf("bioregion: got %s, want cascadia", vu.Bioregion)
	}
}

func TestParseVerificationUpdated_UnknownTierFails(t *testing.T) {
	payload := map[string]interface{}{
		"participant":  "660e8400-e29b-41d4-a716-446655440001",
		"tier":         "platinum",
		"bioregion":    "cascadia",
		"sequence":     int64(1),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "VerificationUpdated"); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}

func TestParseUbiDistribute(t *testing.T) {
	payload := map[string]interface{}{
		"bioregion":    "cascadia",
		"period":       int64(4),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "UbiDistribute")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ud, ok := evt.(*event.UbiDistribute)
	if !ok {
		t.Fatalf("expected *event.UbiDistribute, got %T", evt)
	}

	if ud.IdempotencyKey() != "ubi:cascadia:4" {
		t.Errorf("idempotency key: got %s, want ubi:cascadia:4", ud.IdempotencyKey())
	}
}

func TestParseFlowRecorded(t *testing.T) {
	payload := map[string]interface{}{
		"flow_id":          "550e8400-e29b-41d4-a716-446655440000",
		"activity":         "660e8400-e29b-41d4-a716-446655440001",
		"destination_kind": "asset",
		"destination_id":   "770e8400-e29b-41d4-a716-446655440002",
		"compound":         "CO2",
		"quantity":         int64(112_500),
		"unit":             "kg",
		"method":           "telemetry",
		"confidence":       uint8(90),
		"evidence_hash":    "abc123",
		"sequence":         int64(5),
		"timestamp_us":     int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "FlowRecorded")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	fr, ok := evt.(*event.FlowRecorded)
	if !ok {
		t.Fatalf("expected *event.FlowRecorded, got %T", evt)
	}

	if fr.DestinationKind != event.DestinationAsset {
		t.Errorf("destination kind: got %v, want DestinationAsset", fr.DestinationKind)
	}
	if fr.Compound != "CO2" {
		t.Errorf("compound: got %s, want CO2", fr.Compound)
	}
	if fr.Quantity != 112_500 {
		t.Errorf("quantity: got %d, want 112_500", fr.Quantity)
	}
	if fr.Unit != "kg" {
		t.Errorf("unit: got %s, want kg", fr.Unit)
	}
}

func TestParseFlowRecorded_UnknownDestinationFails(t *testing.T) {
	payload := map[string]interface{}{
		"flow_id":          "550e8400-e29b-41d4-a716-446655440000",
		"activity":         "660e8400-e29b-41d4-a716-446655440001",
		"destination_kind": "warehouse",
		"destination_id":   "770e8400-e29b-41d4-a716-446655440002",
		"compound":         "CO2",
		"quantity":         int64(1),
		"unit":             "g",
		"sequence":         int64(1),
		"timestamp_us":     int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "FlowRecorded"); err == nil {
		t.Fatal("expected error for unknown destination kind")
	}
}

func TestParseRemediationSettle(t *testing.T) {
	payload := map[string]interface{}{
		"match_id":              "550e8400-e29b-41d4-a716-446655440000",
		"consumer":              "660e8400-e29b-41d4-a716-446655440001",
		"holder":                "770e8400-e29b-41d4-a716-446655440002",
		"compound":              "CO2",
		"positive_flow_id":      "880e8400-e29b-41d4-a716-446655440003",
		"sequestration_flow_id": "990e8400-e29b-41d4-a716-446655440004",
		"per_unit_rate":         int64(10_000_000),
		"sequence":              int64(2),
		"timestamp_us":          int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "RemediationSettle")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rs, ok := evt.(*event.RemediationSettle)
	if !ok {
		t.Fatalf("expected *event.RemediationSettle, got %T", evt)
	}

	if rs.PerUnitRate != 10_000_000 {
		t.Errorf("per_unit_rate: got %d, want 10_000_000", rs.PerUnitRate)
	}
	if rs.Compound != "CO2" {
		t.Errorf("compound: got %s, want CO2", rs.Compound)
	}
}

func TestParseParamOverride(t *testing.T) {
	payload := map[string]interface{}{
		"version":           int64(2),
		"max_supply":        int64(400_000_000_000),
		"ubi_floor_bps":     int64(1_000),
		"ubi_ceil_bps":      int64(7_000),
		"target_low":        int64(80),
		"target_high":       int64(120),
		"adjust_step_bps":   int64(500),
		"survival_floor":    int64(20),
		"controller_period": int64(1),
		"sequence":          int64(1),
		"timestamp_us":      int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "ParamOverride")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	po, ok := evt.(*event.ParamOverride)
	if !ok {
		t.Fatalf("expected *event.ParamOverride, got %T", evt)
	}

	if po.Version != 2 {
		t.Errorf("version: got %d, want 2", po.Version)
	}
	if po.SurvivalFloor != 20 {
		t.Errorf("survival_floor: got %d, want 20", po.SurvivalFloor)
	}
}

func TestParseUnknownEventType_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawEvent(raw, "NonExistentType")
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawEvent(raw, "PurchaseRequested")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "not-a-uuid",
		"requester":    "also-not-a-uuid",
		"value":        int64(1),
		"kind":         "purchase",
		"sequence":     int64(0),
		"timestamp_us": int64(0),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawEvent(raw, "PurchaseRequested")
	if err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}
