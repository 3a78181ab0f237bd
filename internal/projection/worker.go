package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"EconLedger/internal/event"
	"EconLedger/internal/ledger"
	"EconLedger/internal/observability"
)

// ProjectionOutput mirrors the data needed by the projection worker.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence  int64
	EventType event.EventType
	Scope     *string
	Payload   []byte
	Timestamp int64
	Journals  []JournalEntry
}

// JournalEntry is a simplified journal for projection consumption.
type JournalEntry struct {
	JournalID     string
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   int32
}

// ProjectionWorker updates projection tables from processed events. The
// projection channel is non-blocking with drop; if projections fall behind
// they are rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				// Projections are eventually consistent; a failed update is
				// recovered by RebuildProjections, not by blocking the loop.
				pw.logger.Warn().
					Int64("sequence", output.Sequence).
					Str("event_type", output.EventType.String()).
					Err(err).
					Msg("projection update failed")
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues(output.EventType.String()).
					Observe(time.Since(start).Seconds())
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.Journals {
		if err := pw.updateBalanceProjection(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if err := pw.updateDomainProjections(ctx, tx, output); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	// Debit account: balance increases
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, j.DebitAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	// Credit account: balance decreases
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, j.CreditAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

// updateDomainProjections maintains the queryable history tables. UBI claims
// come from payout journals so each claimant row carries its exact amount;
// the remaining tables come from derived and ingested event payloads.
func (pw *ProjectionWorker) updateDomainProjections(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	switch output.EventType {
	case event.EventTypeEpochSettled:
		var settled event.EpochSettled
		if err := json.Unmarshal(output.Payload, &settled); err != nil {
			return fmt.Errorf("decode EpochSettled: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.pool_history
				(epoch, requests_count, quote_in, tokens_issued, new_position, new_price, sequence, settled_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (epoch) DO NOTHING
		`, settled.Epoch, settled.RequestsCount, settled.QuoteIn, settled.TokensIssued,
			settled.NewPosition, settled.NewPrice, output.Sequence, output.Timestamp)
		if err != nil {
			return fmt.Errorf("pool history: %w", err)
		}

	case event.EventTypeUbiDistribute:
		for _, j := range output.Journals {
			if ledger.JournalType(j.JournalType) != ledger.JournalTypeUbiPayout {
				continue
			}
			key, err := ledger.ParseAccountPath(j.DebitAccount)
			if err != nil {
				return fmt.Errorf("ubi claim account: %w", err)
			}
			bioregion := ""
			if output.Scope != nil {
				bioregion = *output.Scope
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO econ.ubi_claims
					(journal_id, participant, bioregion, amount, sequence, claimed_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (journal_id) DO NOTHING
			`, j.JournalID, key.EntityUUID(), bioregion, j.Amount, output.Sequence, output.Timestamp); err != nil {
				return fmt.Errorf("ubi claim: %w", err)
			}
		}

	case event.EventTypeFlowRecorded:
		var flow event.FlowRecorded
		if err := json.Unmarshal(output.Payload, &flow); err != nil {
			return fmt.Errorf("decode FlowRecorded: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO econ.compound_flows
				(flow_id, activity, destination_kind, destination_id, compound,
				 quantity, unit, method, confidence, evidence_hash, sequence, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (flow_id) DO NOTHING
		`, flow.FlowID, flow.Activity, int32(flow.DestinationKind), flow.DestinationID,
			flow.Compound, flow.Quantity, flow.Unit, flow.Method, int16(flow.Confidence),
			flow.EvidenceHash, output.Sequence, output.Timestamp)
		if err != nil {
			return fmt.Errorf("compound flow: %w", err)
		}

	case event.EventTypeRemediationSettled:
		var settled event.RemediationSettled
		if err := json.Unmarshal(output.Payload, &settled); err != nil {
			return fmt.Errorf("decode RemediationSettled: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.remediation_history
				(match_id, consumer, holder, compound, matched, payment, sequence, settled_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (match_id) DO NOTHING
		`, settled.MatchID, settled.Consumer, settled.Holder, settled.Compound,
			settled.Matched, settled.Payment, output.Sequence, output.Timestamp)
		if err != nil {
			return fmt.Errorf("remediation history: %w", err)
		}

	case event.EventTypePolicyAdjusted:
		var adjusted event.PolicyAdjusted
		if err := json.Unmarshal(output.Payload, &adjusted); err != nil {
			return fmt.Errorf("decode PolicyAdjusted: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.policy_history
				(version, period, ubi_bps, validator_bps, treasury_bps, sequence, adjusted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (version) DO NOTHING
		`, adjusted.Version, adjusted.Period, adjusted.UbiBps, adjusted.ValidatorBps,
			adjusted.TreasuryBps, output.Sequence, output.Timestamp)
		if err != nil {
			return fmt.Errorf("policy history: %w", err)
		}
	}

	return nil
}

// RebuildProjections rebuilds the balance projection from the journal log.
// History tables are append-only with conflict-ignoring inserts, so they
// survive worker restarts without a rebuild.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			asset_id,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY debit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			asset_id,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY credit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		SELECT 'main', COALESCE(MAX(sequence), 0), NOW() FROM event_log.journal
		ON CONFLICT (worker_id) DO UPDATE
			SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`)
	return err
}
