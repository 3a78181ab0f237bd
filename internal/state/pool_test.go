package state_test

import (
	"errors"
	"testing"

	"EconLedger/internal/curve"
	"EconLedger/internal/event"
	"EconLedger/internal/state"

	"github.com/google/uuid"
)

const maxSupply = curve.DefaultMaxSupply

func enqueue(t *testing.T, pm *state.PoolManager, value int64, kind event.RequestKind) state.PendingRequest {
	t.Helper()
	req := state.PendingRequest{
		RequestID: uuid.New(),
		Requester: uuid.New(),
		Value:     value,
		Kind:      kind,
	}
	if err := pm.Enqueue(req); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return req
}

// ============================================================================
// Test: settlement state machine
// ============================================================================

func TestPool_ReentrantSettlementRejected(t *testing.T) {
	pm := state.NewPoolManager()
	enqueue(t, pm, 1_000_000, event.RequestKindPurchase)

	if _, err := pm.BeginSettlement(1, maxSupply); err != nil {
		t.Fatalf("first begin: %v", err)
	}

	_, err := pm.BeginSettlement(1, maxSupply)
	if !errors.Is(err, state.ErrSettlementInProgress) {
		t.Errorf("re-entrant begin: got %v, want ErrSettlementInProgress", err)
	}
}

func TestPool_AbortKeepsQueue(t *testing.T) {
	pm := state.NewPoolManager()
	enqueue(t, pm, 1_000_000, event.RequestKindPurchase)

	if _, err := pm.BeginSettlement(1, maxSupply); err != nil {
		t.Fatalf("begin: %v", err)
	}
	pm.AbortSettlement()

	if pm.Phase() != state.PhaseOpen {
		t.Errorf("phase after abort: got %v, want open", pm.Phase())
	}
	if pm.QueueDepth() != 1 {
		t.Errorf("queue depth after abort: got %d, want 1", pm.QueueDepth())
	}
}

func TestPool_EmptyEpochSettles(t *testing.T) {
	pm := state.NewPoolManager()

	allocs, err := pm.BeginSettlement(3, maxSupply)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if len(allocs) != 0 {
		t.Fatalf("allocations: got %d, want 0", len(allocs))
	}
	if err := pm.CompleteSettlement(3, 0, 0); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if pm.LastEpoch() != 3 {
		t.Errorf("last epoch: got %d, want 3", pm.LastEpoch())
	}
}

func TestPool_SettledEpochCannotRewind(t *testing.T) {
	pm := state.NewPoolManager()

	if _, err := pm.BeginSettlement(5, maxSupply); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := pm.CompleteSettlement(5, 0, 0); err != nil {
		t.Fatalf("complete: %v", err)
	}

	enqueue(t, pm, 1_000_000, event.RequestKindPurchase)

	for _, epoch := range []int64{3, 5} {
		if _, err := pm.BeginSettlement(epoch, maxSupply); err == nil {
			t.Errorf("begin at epoch %d after settling 5: expected rejection", epoch)
		}
	}
	if pm.Phase() != state.PhaseOpen {
		t.Errorf("phase after rejected begin: got %v, want open", pm.Phase())
	}
	if pm.LastEpoch() != 5 {
		t.Errorf("last epoch: got %d, want 5", pm.LastEpoch())
	}
	if pm.QueueDepth() != 1 {
		t.Errorf("queue depth: got %d, want 1", pm.QueueDepth())
	}
}

// ============================================================================
// Test: proportional allocation
// ============================================================================

func TestPool_WorkedScenarioAllocation(t *testing.T) {
	pm := state.NewPoolManager()
	restoreTo(t, pm, 100_000_000_000, 0)

	// Spend chosen so aggregate T is exactly 6,000,000,000
	enqueue(t, pm, 1_545_000_000, event.RequestKindPurchase)

	allocs, err := pm.BeginSettlement(1, maxSupply)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if len(allocs) != 1 {
		t.Fatalf("allocations: got %d, want 1", len(allocs))
	}
	if allocs[0].TokensOut != 6_000_000_000 {
		t.Errorf("tokens out: got %d, want 6_000_000_000", allocs[0].TokensOut)
	}

	if err := pm.CompleteSettlement(1, 1_545_000_000, 6_000_000_000); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if pm.Position() != 106_000_000_000 {
		t.Errorf("position: got %d, want 106_000_000_000", pm.Position())
	}
	if got := pm.Price(maxSupply); got != 265_000 {
		t.Errorf("price: got %d, want 265_000", got)
	}
}

func TestPool_RemainderToEarliestRequest(t *testing.T) {
	pm := state.NewPoolManager()
	restoreTo(t, pm, 100_000_000_000, 0)

	// Three equal requests; aggregate tokens rarely divide evenly by 3
	first := enqueue(t, pm, 515_000_000, event.RequestKindPurchase)
	enqueue(t, pm, 515_000_000, event.RequestKindPurchase)
	enqueue(t, pm, 515_000_000, event.RequestKindPurchase)

	allocs, err := pm.BeginSettlement(1, maxSupply)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	var total int64
	for _, a := range allocs {
		total += a.TokensOut
	}
	want, err := curve.TokensForSpend(100_000_000_000, 3*515_000_000, maxSupply)
	if err != nil {
		t.Fatalf("tokens for spend: %v", err)
	}
	if total != want {
		t.Errorf("allocated total: got %d, want %d", total, want)
	}

	if allocs[0].Request.RequestID != first.RequestID {
		t.Fatal("first allocation should be the earliest request")
	}
	if allocs[0].TokensOut < allocs[1].TokensOut {
		t.Error("remainder should go to the earliest request")
	}
}

func TestPool_FounderAccrualSameCurve(t *testing.T) {
	// A founder accrual and a public purchase of equal value in the same
	// epoch must receive equal allocations.
	pm := state.NewPoolManager()
	restoreTo(t, pm, 100_000_000_000, 0)

	enqueue(t, pm, 1_000_000_000, event.RequestKindPurchase)
	enqueue(t, pm, 1_000_000_000, event.RequestKindFounderAccrual)

	allocs, err := pm.BeginSettlement(1, maxSupply)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	// Remainder goes to the earliest; tolerate it
	diff := allocs[0].TokensOut - allocs[1].TokensOut
	if diff < 0 {
		diff = -diff
	}
	if diff > 1 {
		t.Errorf("equal-value allocations differ by %d tokens", diff)
	}
}

func TestPool_SupplyExhaustedKeepsQueue(t *testing.T) {
	pm := state.NewPoolManager()
	restoreTo(t, pm, maxSupply-10, 0)

	enqueue(t, pm, 1_000_000_000_000, event.RequestKindPurchase)

	_, err := pm.BeginSettlement(1, maxSupply)
	if !errors.Is(err, curve.ErrSupplyExhausted) {
		t.Fatalf("got %v, want ErrSupplyExhausted", err)
	}
	if pm.Phase() != state.PhaseOpen {
		t.Errorf("phase: got %v, want open", pm.Phase())
	}
	if pm.QueueDepth() != 1 {
		t.Errorf("queue depth: got %d, want 1", pm.QueueDepth())
	}
}

// ============================================================================
// Test: sells
// ============================================================================

func TestPool_ApplySell(t *testing.T) {
	pm := state.NewPoolManager()
	restoreTo(t, pm, 1_000_000, 500_000)

	if err := pm.ApplySell(400_000, 100_000); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if pm.Position() != 600_000 {
		t.Errorf("position: got %d, want 600_000", pm.Position())
	}
	if pm.Reserve() != 400_000 {
		t.Errorf("reserve: got %d, want 400_000", pm.Reserve())
	}
}

func TestPool_SellBeyondPositionRejected(t *testing.T) {
	pm := state.NewPoolManager()
	restoreTo(t, pm, 100, 1_000)

	if err := pm.ApplySell(200, 10); err == nil {
		t.Error("sell beyond position should be rejected")
	}
}

// ============================================================================
// Test: snapshot round trip
// ============================================================================

func TestPool_SnapshotRestore(t *testing.T) {
	pm := state.NewPoolManager()
	restoreTo(t, pm, 42, 7)
	enqueue(t, pm, 100, event.RequestKindPurchase)

	snap := pm.Snapshot()

	restored := state.NewPoolManager()
	restored.Restore(snap)

	if restored.Position() != 42 || restored.Reserve() != 7 {
		t.Errorf("restored position/reserve: got %d/%d, want 42/7",
			restored.Position(), restored.Reserve())
	}
	if restored.QueueDepth() != 1 {
		t.Errorf("restored queue depth: got %d, want 1", restored.QueueDepth())
	}
}

// restoreTo positions a fresh pool at a given issued position and reserve.
func restoreTo(t *testing.T, pm *state.PoolManager, position, reserve int64) {
	t.Helper()
	pm.Restore(state.PoolSnapshot{Position: position, Reserve: reserve})
}
