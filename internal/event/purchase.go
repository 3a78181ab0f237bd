package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RequestKind distinguishes public purchases from founder accrual.
// Both compete on the same curve integral; founder accrual is a tagged
// variant of the same request, never a separate pricing path.
type RequestKind int32

const (
	RequestKindPurchase RequestKind = iota
	RequestKindFounderAccrual
)

func (k RequestKind) String() string {
	if k == RequestKindFounderAccrual {
		return "founder_accrual"
	}
	return "purchase"
}

// PurchaseRequested queues value for the next epoch settlement.
// Idempotency key: request_id (UUID from the submitting collaborator).
type PurchaseRequested struct {
	RequestID uuid.UUID // Idempotency key
	Requester uuid.UUID
	Value     int64 // Quote currency, fixed-point quote scale
	Kind      RequestKind
	Sequence  int64     // Source sequence from the submitting collaborator
	Timestamp time.Time // Versioned input timestamp (NOT wall-clock)
}

func (p *PurchaseRequested) IdempotencyKey() string {
	return p.RequestID.String()
}

func (p *PurchaseRequested) EventType() EventType {
	return EventTypePurchaseRequested
}

func (p *PurchaseRequested) Scope() *string {
	return nil // Global: all purchases compete on the singleton pool
}

func (p *PurchaseRequested) SourceSequence() int64 {
	return p.Sequence
}

// TokensSold burns tokens against the curve at the 0.9x sell spread.
// Applied immediately, outside the epoch queue: sells strictly decrease the
// position and never compete with queued buys for the integral.
type TokensSold struct {
	SaleID    uuid.UUID
	Seller    uuid.UUID
	Quantity  int64 // Token base units
	Sequence  int64
	Timestamp time.Time
}

func (s *TokensSold) IdempotencyKey() string {
	return s.SaleID.String()
}

func (s *TokensSold) EventType() EventType {
	return EventTypeTokensSold
}

func (s *TokensSold) Scope() *string {
	return nil
}

func (s *TokensSold) SourceSequence() int64 {
	return s.Sequence
}

// EpochTick is the external clock signal that triggers settlement of all
// queued requests. Idempotency key: "epoch:{epoch}".
type EpochTick struct {
	Epoch     int64
	Timestamp time.Time
}

func (e *EpochTick) IdempotencyKey() string {
	return fmt.Sprintf("epoch:%d", e.Epoch)
}

func (e *EpochTick) EventType() EventType {
	return EventTypeEpochTick
}

func (e *EpochTick) Scope() *string {
	return nil
}

func (e *EpochTick) SourceSequence() int64 {
	return e.Epoch
}
