package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"EconLedger/internal/state"
)

// ErrStaleState is returned when an optimistic-concurrency commit loses the
// version race. The caller re-reads the projected row and resubmits.
var ErrStaleState = errors.New("stale state version")

// VersionedStateStore commits the versioned singleton rows (pool state, fee
// policy) with compare-and-swap on the version column. The deterministic core
// is the only writer, so a version conflict means a projection restarted
// mid-write; the commit is simply replayed from the core's current state.
type VersionedStateStore struct {
	db *sql.DB
}

func NewVersionedStateStore(db *sql.DB) *VersionedStateStore {
	return &VersionedStateStore{db: db}
}

// CommitPoolState upserts the pool singleton row, guarding on the previous
// version.
func (s *VersionedStateStore) CommitPoolState(ctx context.Context, snap state.PoolSnapshot) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO econ.pool_state (id, position, reserve, last_epoch, phase, version)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET position = $1, reserve = $2, last_epoch = $3, phase = $4, version = $5
		WHERE econ.pool_state.version < $5
	`, snap.Position, snap.Reserve, snap.LastEpoch, int32(snap.Phase), snap.Version)
	if err != nil {
		return fmt.Errorf("commit pool state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: pool state version %d", ErrStaleState, snap.Version)
	}
	return nil
}

// LoadPoolState reads the projected pool row. Returns (zero, false, nil) when
// no row exists yet.
func (s *VersionedStateStore) LoadPoolState(ctx context.Context) (state.PoolSnapshot, bool, error) {
	var snap state.PoolSnapshot
	var phase int32
	err := s.db.QueryRowContext(ctx, `
		SELECT position, reserve, last_epoch, phase, version
		FROM econ.pool_state WHERE id = 1
	`).Scan(&snap.Position, &snap.Reserve, &snap.LastEpoch, &phase, &snap.Version)
	if err == sql.ErrNoRows {
		return state.PoolSnapshot{}, false, nil
	}
	if err != nil {
		return state.PoolSnapshot{}, false, err
	}
	snap.Phase = state.PoolPhase(phase)
	return snap, true, nil
}

// CommitFeePolicy upserts the fee policy singleton row, guarding on version.
func (s *VersionedStateStore) CommitFeePolicy(ctx context.Context, p state.FeePolicy) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO econ.fee_policy (id, ubi_bps, validator_bps, treasury_bps, version)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET ubi_bps = $1, validator_bps = $2, treasury_bps = $3, version = $4
		WHERE econ.fee_policy.version < $4
	`, p.UbiBps, p.ValidatorBps, p.TreasuryBps, p.Version)
	if err != nil {
		return fmt.Errorf("commit fee policy: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: fee policy version %d", ErrStaleState, p.Version)
	}
	return nil
}

// LoadFeePolicy reads the projected policy row. The closure check on the
// loaded row is the caller's load-time integrity gate.
func (s *VersionedStateStore) LoadFeePolicy(ctx context.Context) (state.FeePolicy, bool, error) {
	var p state.FeePolicy
	err := s.db.QueryRowContext(ctx, `
		SELECT ubi_bps, validator_bps, treasury_bps, version
		FROM econ.fee_policy WHERE id = 1
	`).Scan(&p.UbiBps, &p.ValidatorBps, &p.TreasuryBps, &p.Version)
	if err == sql.ErrNoRows {
		return state.FeePolicy{}, false, nil
	}
	if err != nil {
		return state.FeePolicy{}, false, err
	}
	return p, true, nil
}
