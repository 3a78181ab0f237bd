package state

import (
	"fmt"

	"EconLedger/internal/curve"
	"EconLedger/internal/event"
	fpmath "EconLedger/internal/math"

	"github.com/google/uuid"
)

// PoolPhase is the settlement state machine position.
type PoolPhase int32

const (
	PhaseOpen PoolPhase = iota
	PhaseSettling
)

func (p PoolPhase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseSettling:
		return "settling"
	default:
		return "unknown"
	}
}

// PendingRequest is one queued purchase or founder accrual awaiting the next
// epoch boundary. Created once, consumed exactly once, never mutated.
type PendingRequest struct {
	RequestID uuid.UUID
	Requester uuid.UUID
	Value     int64 // Quote currency escrowed
	Kind      event.RequestKind
	Sequence  int64
}

// Allocation is one request's share of a settled epoch.
type Allocation struct {
	Request    PendingRequest
	QuoteSpent int64
	TokensOut  int64
}

// PoolSnapshot is the serializable pool state for snapshots and the state digest.
type PoolSnapshot struct {
	Position  int64            `json:"position"`
	Reserve   int64            `json:"reserve"`
	LastEpoch int64            `json:"last_epoch"`
	Phase     PoolPhase        `json:"phase"`
	Version   int64            `json:"version"`
	Queue     []PendingRequest `json:"queue"`
}

// PoolManager owns the curve pool singleton: issued position, collected
// reserve, the pending-request queue, and the Open/Settling state machine.
// All methods are called from the single-threaded engine loop; the version
// counter exists for optimistic-concurrency commits downstream.
type PoolManager struct {
	position  int64
	reserve   int64
	lastEpoch int64
	phase     PoolPhase
	version   int64
	queue     []PendingRequest
}

func NewPoolManager() *PoolManager {
	return &PoolManager{phase: PhaseOpen}
}

// Position returns tokens issued to date.
func (pm *PoolManager) Position() int64 { return pm.position }

// Reserve returns quote currency collected into the pool.
func (pm *PoolManager) Reserve() int64 { return pm.reserve }

// LastEpoch returns the most recently settled epoch.
func (pm *PoolManager) LastEpoch() int64 { return pm.lastEpoch }

// Phase returns the current state machine position.
func (pm *PoolManager) Phase() PoolPhase { return pm.phase }

// Version returns the optimistic-concurrency version of the pool record.
func (pm *PoolManager) Version() int64 { return pm.version }

// QueueDepth returns the number of requests awaiting settlement.
func (pm *PoolManager) QueueDepth() int { return len(pm.queue) }

// Price returns the current marginal price at the issued position.
func (pm *PoolManager) Price(maxSupply int64) int64 {
	return curve.Price(pm.position, maxSupply)
}

// Enqueue adds a purchase or founder-accrual request to the pending queue.
func (pm *PoolManager) Enqueue(req PendingRequest) error {
	if pm.phase != PhaseOpen {
		return ErrSettlementInProgress
	}
	if req.Value <= 0 {
		return fmt.Errorf("request %s has non-positive value %d", req.RequestID, req.Value)
	}
	pm.queue = append(pm.queue, req)
	pm.version++
	return nil
}

// BeginSettlement transitions Open → Settling and computes the epoch's
// allocations against the pre-settlement position. The queue is not drained
// until CompleteSettlement; a failure path calls AbortSettlement and the
// requests remain queued for the next tick.
//
// Aggregate tokens are computed once over the summed value, then allocated
// proportionally by each request's share (integer division, remainder to the
// earliest request) so the split is deterministic and auditable.
func (pm *PoolManager) BeginSettlement(epoch int64, maxSupply int64) ([]Allocation, error) {
	if pm.phase == PhaseSettling {
		return nil, ErrSettlementInProgress
	}
	// Epochs settle exactly once, in order; a rewind would re-fill the queue
	// at an old position
	if epoch <= pm.lastEpoch {
		return nil, fmt.Errorf("epoch %d already settled (last epoch %d)", epoch, pm.lastEpoch)
	}
	pm.phase = PhaseSettling

	if len(pm.queue) == 0 {
		return nil, nil
	}

	var totalValue int64
	for _, req := range pm.queue {
		totalValue += req.Value
	}

	totalTokens, err := curve.TokensForSpend(pm.position, totalValue, maxSupply)
	if err != nil {
		pm.phase = PhaseOpen
		return nil, err
	}

	allocations := make([]Allocation, len(pm.queue))
	var allocated int64
	for i, req := range pm.queue {
		tokens := fpmath.MulDiv(totalTokens, req.Value, totalValue)
		allocations[i] = Allocation{
			Request:    req,
			QuoteSpent: req.Value,
			TokensOut:  tokens,
		}
		allocated += tokens
	}

	// Remainder to the earliest request
	if remainder := totalTokens - allocated; remainder > 0 {
		allocations[0].TokensOut += remainder
	}

	return allocations, nil
}

// CompleteSettlement applies the position update exactly once, drains the
// queue, and transitions back to Open.
func (pm *PoolManager) CompleteSettlement(epoch int64, totalQuote int64, totalTokens int64) error {
	if pm.phase != PhaseSettling {
		return fmt.Errorf("complete settlement called in phase %s", pm.phase)
	}
	pm.position += totalTokens
	pm.reserve += totalQuote
	pm.lastEpoch = epoch
	pm.queue = pm.queue[:0]
	pm.phase = PhaseOpen
	pm.version++
	return nil
}

// AbortSettlement returns to Open without applying anything. Queued requests
// stay queued.
func (pm *PoolManager) AbortSettlement() {
	pm.phase = PhaseOpen
}

// ApplySell burns sold tokens and releases proceeds from the reserve.
func (pm *PoolManager) ApplySell(quantity int64, proceeds int64) error {
	if quantity <= 0 {
		return fmt.Errorf("sell quantity must be positive, got %d", quantity)
	}
	if quantity > pm.position {
		return fmt.Errorf("sell quantity %d exceeds position %d", quantity, pm.position)
	}
	if proceeds > pm.reserve {
		return fmt.Errorf("sell proceeds %d exceed reserve %d", proceeds, pm.reserve)
	}
	pm.position -= quantity
	pm.reserve -= proceeds
	pm.version++
	return nil
}

// Snapshot returns the serializable pool state.
func (pm *PoolManager) Snapshot() PoolSnapshot {
	queue := make([]PendingRequest, len(pm.queue))
	copy(queue, pm.queue)
	return PoolSnapshot{
		Position:  pm.position,
		Reserve:   pm.reserve,
		LastEpoch: pm.lastEpoch,
		Phase:     pm.phase,
		Version:   pm.version,
		Queue:     queue,
	}
}

// Restore replaces pool state during recovery. A pool restored mid-settlement
// reopens: the settlement never committed, so its requests are still queued.
func (pm *PoolManager) Restore(s PoolSnapshot) {
	pm.position = s.Position
	pm.reserve = s.Reserve
	pm.lastEpoch = s.LastEpoch
	pm.phase = PhaseOpen
	pm.version = s.Version
	pm.queue = make([]PendingRequest, len(s.Queue))
	copy(pm.queue, s.Queue)
}
