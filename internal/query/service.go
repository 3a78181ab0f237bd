package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"EconLedger/internal/curve"
	"EconLedger/internal/ledger"
)

// QueryService provides read-only access to projection tables. All responses
// include as_of_sequence for freshness semantics.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetPool returns the curve pool singleton with the spot price derived at
// query time.
func (qs *QueryService) GetPool(ctx context.Context) (*PoolResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &PoolResponse{AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT position, reserve, last_epoch, phase, version
		FROM econ.pool_state WHERE id = 1
	`).Scan(&resp.Position, &resp.Reserve, &resp.LastEpoch, &resp.Phase, &resp.Version)
	if err == sql.ErrNoRows {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}

	resp.Price = curve.Price(resp.Position, curve.DefaultMaxSupply)
	return resp, nil
}

// GetPolicy returns the fee policy singleton.
func (qs *QueryService) GetPolicy(ctx context.Context) (*PolicyResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	resp := &PolicyResponse{AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT ubi_bps, validator_bps, treasury_bps, version
		FROM econ.fee_policy WHERE id = 1
	`).Scan(&resp.UbiBps, &resp.ValidatorBps, &resp.TreasuryBps, &resp.Version)
	if err == sql.ErrNoRows {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetUbiClaims returns a participant's payout history with cursor-based
// pagination.
func (qs *QueryService) GetUbiClaims(
	ctx context.Context,
	participant uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]UbiClaimResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT bioregion, amount, sequence, claimed_at
		FROM econ.ubi_claims
		WHERE participant = $1
	`
	args := []interface{}{participant}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []UbiClaimResponse
	for rows.Next() {
		var c UbiClaimResponse
		c.Participant = participant
		c.AsOfSequence = asOfSeq
		if err := rows.Scan(&c.Bioregion, &c.Amount, &c.Sequence, &c.ClaimedAt); err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}

	return claims, rows.Err()
}

// GetAssetImpact returns per-compound flow totals for an asset account.
func (qs *QueryService) GetAssetImpact(ctx context.Context, asset uuid.UUID) (*ImpactResponse, error) {
	return qs.getImpact(ctx, asset, false)
}

// GetConsumerImpact returns per-compound flow totals for a consumer record,
// including remediated magnitude from settled matches.
func (qs *QueryService) GetConsumerImpact(ctx context.Context, consumer uuid.UUID) (*ImpactResponse, error) {
	return qs.getImpact(ctx, consumer, true)
}

// getImpact aggregates the flow log for one destination. Flows folded in by
// asset transfers remain attributed to the original asset here; the core's
// in-memory ledger is authoritative for post-transfer ownership.
func (qs *QueryService) getImpact(ctx context.Context, accountID uuid.UUID, withRemediation bool) (*ImpactResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT compound,
		       COALESCE(SUM(quantity) FILTER (WHERE quantity > 0), 0) AS lifetime,
		       COALESCE(-SUM(quantity) FILTER (WHERE quantity < 0), 0) AS sequestered
		FROM econ.compound_flows
		WHERE destination_id = $1
		GROUP BY compound
		ORDER BY compound
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &ImpactResponse{AccountID: accountID, AsOfSequence: asOfSeq}
	for rows.Next() {
		var t CompoundTotal
		if err := rows.Scan(&t.Compound, &t.Lifetime, &t.Sequestered); err != nil {
			return nil, err
		}
		resp.Compounds = append(resp.Compounds, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !withRemediation {
		for i := range resp.Compounds {
			resp.Compounds[i].Unremediated = resp.Compounds[i].Lifetime
		}
		return resp, nil
	}

	for i := range resp.Compounds {
		var remediated int64
		err := qs.db.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(matched), 0)
			FROM projections.remediation_history
			WHERE consumer = $1 AND compound = $2
		`, accountID, resp.Compounds[i].Compound).Scan(&remediated)
		if err != nil {
			return nil, err
		}
		resp.Compounds[i].Remediated = remediated
		resp.Compounds[i].Unremediated = resp.Compounds[i].Lifetime - remediated
	}

	return resp, nil
}

// GetEpochHistory returns settled epochs with cursor-based pagination.
func (qs *QueryService) GetEpochHistory(
	ctx context.Context,
	limit int,
	afterEpoch *int64,
) ([]EpochHistoryResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT epoch, requests_count, quote_in, tokens_issued, new_position, new_price, sequence, settled_at
		FROM projections.pool_history
	`
	args := []interface{}{}
	argIdx := 1

	if afterEpoch != nil {
		query += fmt.Sprintf(" WHERE epoch < $%d", argIdx)
		args = append(args, *afterEpoch)
		argIdx++
	}

	query += " ORDER BY epoch DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []EpochHistoryResponse
	for rows.Next() {
		var h EpochHistoryResponse
		h.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&h.Epoch, &h.RequestsCount, &h.QuoteIn, &h.TokensIssued,
			&h.NewPosition, &h.NewPrice, &h.Sequence, &h.SettledAt,
		); err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetBalance returns a participant's projected ledger balances.
func (qs *QueryService) GetBalance(
	ctx context.Context,
	participant uuid.UUID,
) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	tokenPath := ledger.NewParticipantAccountKey(participant, ledger.SubTypeToken, ledger.TokenAsset).AccountPath()
	token, err := qs.getProjectedBalance(ctx, tokenPath)
	if err != nil {
		return nil, err
	}

	quotePath := ledger.NewParticipantAccountKey(participant, ledger.SubTypeQuote, ledger.QuoteAsset).AccountPath()
	quote, err := qs.getProjectedBalance(ctx, quotePath)
	if err != nil {
		return nil, err
	}

	pendingPath := ledger.NewParticipantAccountKey(participant, ledger.SubTypePendingPurchase, ledger.QuoteAsset).AccountPath()
	pending, err := qs.getProjectedBalance(ctx, pendingPath)
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		Participant:     participant,
		TokenBalance:    token,
		QuoteBalance:    quote,
		PendingPurchase: pending,
		AsOfSequence:    asOfSeq,
	}, nil
}

// GetJournalHistory returns journal entries touching a participant's accounts
// with pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	participant uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("participant:%s:%%", participant)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE debit_account LIKE $1 OR credit_account LIKE $1
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and the global zero-sum
// invariant per asset.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total int64
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(balance, 0) FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}
