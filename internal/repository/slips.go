package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/oddyssey/engine/internal/domain"
)

const slipColumns = `slip_id, cycle_id, player, placed_at, predictions,
	is_evaluated, correct_count, final_score, leaderboard_rank, prize_claimed, tx_hash`

// InsertSlip allocates a slip id from the dedicated sequence, inserts the
// slip, bumps the cycle's slip count and prize pool by the entry fee, and
// stages the placement event, all in one transaction. Returns the allocated id.
func (s *Store) InsertSlip(ctx context.Context, slip *domain.Slip, entryFee int64) (int64, error) {
	preds, err := json.Marshal(slip.Predictions)
	if err != nil {
		return 0, fmt.Errorf("marshal predictions: %w", err)
	}

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO oddyssey_slips
			  (slip_id, cycle_id, player, placed_at, predictions, is_evaluated, tx_hash)
			VALUES (nextval('oddyssey_slip_id_seq'), $1, $2, now(), $3, false, $4)
			RETURNING slip_id, placed_at`,
			slip.CycleID, slip.Player, preds, slip.TxHash).Scan(&slip.ID, &slip.PlacedAt)
		if err != nil {
			return fmt.Errorf("insert slip: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE oddyssey_cycles
			SET slip_count = slip_count + 1, prize_pool = prize_pool + $2, updated_at = now()
			WHERE cycle_id = $1`, slip.CycleID, entryFee)
		if err != nil {
			return fmt.Errorf("bump cycle counters: %w", err)
		}

		return insertOutbox(ctx, tx, domain.NewSlipPlacedEvent(slip))
	})
	if err != nil {
		return 0, err
	}
	return slip.ID, nil
}

// GetSlip returns a slip by id, nil if absent.
func (s *Store) GetSlip(ctx context.Context, id int64) (*domain.Slip, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+slipColumns+` FROM oddyssey_slips WHERE slip_id = $1`, id)
	return scanSlip(row)
}

// ListSlipsByCycle returns every slip of a cycle ordered by placement time.
func (s *Store) ListSlipsByCycle(ctx context.Context, cycleID int64) ([]domain.Slip, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+slipColumns+` FROM oddyssey_slips
		WHERE cycle_id = $1 ORDER BY placed_at ASC, slip_id ASC`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("list slips: %w", err)
	}
	defer rows.Close()
	return collectSlips(rows)
}

// ListUnevaluatedByCycle returns the cycle's slips still awaiting evaluation.
func (s *Store) ListUnevaluatedByCycle(ctx context.Context, cycleID int64) ([]domain.Slip, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+slipColumns+` FROM oddyssey_slips
		WHERE cycle_id = $1 AND NOT is_evaluated
		ORDER BY slip_id ASC`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("list unevaluated slips: %w", err)
	}
	defer rows.Close()
	return collectSlips(rows)
}

// SaveEvaluation writes the evaluation result. The is_evaluated guard in the
// WHERE clause makes re-evaluation a no-op at the database level.
func (s *Store) SaveEvaluation(ctx context.Context, slipID int64, correctCount int, finalScore int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE oddyssey_slips
		SET is_evaluated = true, correct_count = $2, final_score = $3, updated_at = now()
		WHERE slip_id = $1 AND NOT is_evaluated`, slipID, correctCount, finalScore)
	if err != nil {
		return fmt.Errorf("save evaluation: %w", err)
	}
	return nil
}

// RankedSlip is one leaderboard entry to persist.
type RankedSlip struct {
	SlipID int64
	Player string
	Rank   int
	Prize  int64
}

// SaveRanking writes leaderboard ranks and stages the unclaimed prize rows in
// one transaction. Previous ranks and unclaimed claim rows for the cycle are
// cleared first so a re-ranking leaves no stale ex-winners behind; settled
// claims are never touched.
func (s *Store) SaveRanking(ctx context.Context, cycleID int64, ranked []RankedSlip) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE oddyssey_slips SET leaderboard_rank = NULL, updated_at = now()
			WHERE cycle_id = $1`, cycleID)
		if err != nil {
			return fmt.Errorf("clear ranks: %w", err)
		}
		_, err = tx.Exec(ctx, `
			DELETE FROM oddyssey_prize_claims
			WHERE cycle_id = $1 AND NOT claimed`, cycleID)
		if err != nil {
			return fmt.Errorf("clear unclaimed prizes: %w", err)
		}

		for _, r := range ranked {
			_, err = tx.Exec(ctx, `
				UPDATE oddyssey_slips SET leaderboard_rank = $2, updated_at = now()
				WHERE slip_id = $1`, r.SlipID, r.Rank)
			if err != nil {
				return fmt.Errorf("set rank for slip %d: %w", r.SlipID, err)
			}
			if r.Prize > 0 {
				_, err = tx.Exec(ctx, `
					INSERT INTO oddyssey_prize_claims (cycle_id, slip_id, player, rank, amount, claimed)
					VALUES ($1, $2, $3, $4, $5, false)
					ON CONFLICT (cycle_id, slip_id, player)
					DO UPDATE SET rank = EXCLUDED.rank, amount = EXCLUDED.amount, updated_at = now()
					WHERE NOT oddyssey_prize_claims.claimed`,
					cycleID, r.SlipID, r.Player, r.Rank, r.Prize)
				if err != nil {
					return fmt.Errorf("stage prize claim for slip %d: %w", r.SlipID, err)
				}
			}
		}
		return nil
	})
}

// Leaderboard returns the ranked slips of a cycle with their prize amounts,
// best rank first. This is the materialized read path for clients.
func (s *Store) Leaderboard(ctx context.Context, cycleID int64) ([]domain.PrizeClaim, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cycle_id, slip_id, player, rank, amount, claimed, claim_tx_hash, claimed_at
		FROM oddyssey_prize_claims
		WHERE cycle_id = $1 ORDER BY rank ASC`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()

	var out []domain.PrizeClaim
	for rows.Next() {
		var pc domain.PrizeClaim
		if err := rows.Scan(&pc.CycleID, &pc.SlipID, &pc.Player, &pc.Rank, &pc.Amount,
			&pc.Claimed, &pc.ClaimTxHash, &pc.ClaimedAt); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

func scanSlip(row pgx.Row) (*domain.Slip, error) {
	var slip domain.Slip
	var preds []byte
	err := row.Scan(&slip.ID, &slip.CycleID, &slip.Player, &slip.PlacedAt, &preds,
		&slip.IsEvaluated, &slip.CorrectCount, &slip.FinalScore,
		&slip.LeaderboardRank, &slip.PrizeClaimed, &slip.TxHash)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan slip: %w", err)
	}
	if err := json.Unmarshal(preds, &slip.Predictions); err != nil {
		return nil, fmt.Errorf("unmarshal predictions: %w", err)
	}
	return &slip, nil
}

func collectSlips(rows pgx.Rows) ([]domain.Slip, error) {
	var out []domain.Slip
	for rows.Next() {
		s, err := scanSlip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
