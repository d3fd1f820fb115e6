package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oddyssey/engine/internal/domain"
)

const cycleColumns = `cycle_id, game_date, created_at, starts_at, ends_at, status, matches,
	creation_tx_hash, resolution_tx_hash, resolved_at, evaluation_complete,
	slip_count, prize_pool, rollover_amount, needs_sync_repair, updated_at`

// NextCycleID reserves the next cycle id: max(cycle_id)+1, gap-tolerant.
func (s *Store) NextCycleID(ctx context.Context) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(cycle_id), 0) + 1 FROM oddyssey_cycles`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("next cycle id: %w", err)
	}
	return id, nil
}

// MaxCycleID returns the highest persisted cycle id, zero if none.
func (s *Store) MaxCycleID(ctx context.Context) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(cycle_id), 0) FROM oddyssey_cycles`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("max cycle id: %w", err)
	}
	return id, nil
}

// CreateCycle inserts the cycle row and its ten match rows in one
// transaction. Pending rollover pools from dead cycles are folded into the
// new cycle's pool and marked consumed atomically. The (game_date) unique
// index makes a same-day duplicate insert fail at the database, not in
// application code.
func (s *Store) CreateCycle(ctx context.Context, c *domain.Cycle, matches []domain.CycleMatch) error {
	if err := c.Snapshot.Validate(); err != nil {
		return err
	}
	snapshot, err := json.Marshal(c.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		rollover, err := consumePendingRollover(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		c.RolloverAmount = rollover
		c.PrizePool += rollover

		_, err = tx.Exec(ctx, `
			INSERT INTO oddyssey_cycles
			  (cycle_id, game_date, created_at, starts_at, ends_at, status, matches,
			   slip_count, prize_pool, rollover_amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)`,
			c.ID, c.GameDate, c.CreatedAt, c.StartsAt, c.EndsAt, string(c.Status),
			snapshot, c.PrizePool, c.RolloverAmount)
		if err != nil {
			return fmt.Errorf("insert cycle: %w", err)
		}

		for _, m := range matches {
			_, err = tx.Exec(ctx, `
				INSERT INTO oddyssey_cycle_matches
				  (cycle_id, fixture_id, display_order, kickoff_unix,
				   odds_home, odds_draw, odds_away, odds_over, odds_under,
				   result_moneyline, result_over_under)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, 0)`,
				c.ID, m.FixtureID, m.DisplayOrder, m.KickoffUnix,
				m.Odds.Home, m.Odds.Draw, m.Odds.Away, m.Odds.Over, m.Odds.Under)
			if err != nil {
				return fmt.Errorf("insert cycle match %d: %w", m.FixtureID, err)
			}
		}
		return nil
	})
}

// consumePendingRollover sums the pools of resolved, fully evaluated cycles
// that produced no ranked slip and have not yet rolled over, and marks them
// consumed.
func consumePendingRollover(ctx context.Context, tx pgx.Tx, intoCycleID int64) (int64, error) {
	var total int64
	err := tx.QueryRow(ctx, `
		WITH dead AS (
			UPDATE oddyssey_cycles c
			SET rollover_consumed = true, updated_at = now()
			WHERE c.status = 'resolved'
			  AND c.evaluation_complete
			  AND NOT c.rollover_consumed
			  AND c.cycle_id <> $1
			  AND NOT EXISTS (
				SELECT 1 FROM oddyssey_slips s
				WHERE s.cycle_id = c.cycle_id AND s.leaderboard_rank IS NOT NULL)
			RETURNING c.prize_pool
		)
		SELECT COALESCE(SUM(prize_pool), 0) FROM dead`, intoCycleID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("consume rollover: %w", err)
	}
	return total, nil
}

// MarkPublished records the creation tx hash, moves the cycle to the
// published state, and stages the cycle-created event atomically. An empty
// txHash never overwrites a hash already on record; the row keeps NULL when
// none was ever known, which the transaction monitor flags.
func (s *Store) MarkPublished(ctx context.Context, id int64, txHash string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE oddyssey_cycles
			SET status = 'published',
			    creation_tx_hash = COALESCE(NULLIF($2, ''), creation_tx_hash),
			    updated_at = now()
			WHERE cycle_id = $1 AND status = 'created'`, id, txHash)
		if err != nil {
			return fmt.Errorf("mark published: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound("cycle in created state", id)
		}
		c, err := getCycle(ctx, tx, id)
		if err != nil {
			return err
		}
		return insertOutbox(ctx, tx, domain.NewCycleCreatedEvent(c))
	})
}

// MarkOrphaned flags a cycle whose chain submission failed terminally. The
// row is kept for forensics and excluded from all current-cycle queries.
func (s *Store) MarkOrphaned(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE oddyssey_cycles SET status = 'orphaned', updated_at = now()
		WHERE cycle_id = $1 AND status IN ('created', 'published')`, id)
	if err != nil {
		return fmt.Errorf("mark orphaned: %w", err)
	}
	return nil
}

// MarkResolved records results on the match rows, rewrites the snapshot with
// outcomes, and moves the cycle to resolved in one transaction so no
// reader ever observes a half-resolved cycle.
func (s *Store) MarkResolved(ctx context.Context, id int64, txHash string, resolvedAt time.Time, results map[int64]domain.MatchResult) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		c, err := getCycle(ctx, tx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return domain.ErrNotFound("cycle", id)
		}
		if c.Status == domain.CycleResolved {
			return nil // idempotent
		}

		for i := range c.Snapshot.Matches {
			m := &c.Snapshot.Matches[i]
			r, ok := results[m.ID]
			if !ok {
				return domain.ErrValidationFailed(fmt.Sprintf("no result for fixture %d", m.ID))
			}
			m.Result = r
			_, err = tx.Exec(ctx, `
				UPDATE oddyssey_cycle_matches
				SET result_moneyline = $3, result_over_under = $4, updated_at = now()
				WHERE cycle_id = $1 AND fixture_id = $2`,
				id, m.ID, uint8(r.Moneyline), uint8(r.OverUnder))
			if err != nil {
				return fmt.Errorf("update match result %d: %w", m.ID, err)
			}
		}

		snapshot, err := json.Marshal(c.Snapshot)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE oddyssey_cycles
			SET status = 'resolved', resolution_tx_hash = $2, resolved_at = $3,
			    matches = $4, updated_at = now()
			WHERE cycle_id = $1`, id, txHash, resolvedAt, snapshot)
		if err != nil {
			return fmt.Errorf("mark resolved: %w", err)
		}
		return insertOutbox(ctx, tx, domain.NewCycleResolvedEvent(c))
	})
}

// MarkEvaluationComplete flips the evaluation flag.
func (s *Store) MarkEvaluationComplete(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE oddyssey_cycles SET evaluation_complete = true, updated_at = now()
		WHERE cycle_id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark evaluation complete: %w", err)
	}
	return nil
}

// SetNeedsSyncRepair flags or clears the sync-repair marker.
func (s *Store) SetNeedsSyncRepair(ctx context.Context, id int64, needs bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE oddyssey_cycles SET needs_sync_repair = $2, updated_at = now()
		WHERE cycle_id = $1`, id, needs)
	if err != nil {
		return fmt.Errorf("set sync repair flag: %w", err)
	}
	return nil
}

// GetCycle returns a cycle by id, nil if absent.
func (s *Store) GetCycle(ctx context.Context, id int64) (*domain.Cycle, error) {
	return getCycle(ctx, s.pool, id)
}

func getCycle(ctx context.Context, db DBTX, id int64) (*domain.Cycle, error) {
	row := db.QueryRow(ctx,
		`SELECT `+cycleColumns+` FROM oddyssey_cycles WHERE cycle_id = $1`, id)
	return scanCycle(row)
}

// GetCurrentCycle returns the latest unresolved cycle, or the latest cycle
// if every cycle is resolved. Orphaned cycles never qualify.
func (s *Store) GetCurrentCycle(ctx context.Context) (*domain.Cycle, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+cycleColumns+` FROM oddyssey_cycles
		WHERE status <> 'orphaned'
		ORDER BY (status IN ('created', 'published')) DESC, cycle_id DESC
		LIMIT 1`)
	return scanCycle(row)
}

// GetCycleByDate returns the non-orphaned cycle for a UTC game date.
func (s *Store) GetCycleByDate(ctx context.Context, gameDate string) (*domain.Cycle, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+cycleColumns+` FROM oddyssey_cycles
		WHERE game_date = $1 AND status <> 'orphaned'
		ORDER BY cycle_id ASC LIMIT 1`, gameDate)
	return scanCycle(row)
}

// ListCyclesByDate returns every cycle row for a UTC game date, lowest id
// first, orphans included.
func (s *Store) ListCyclesByDate(ctx context.Context, gameDate string) ([]domain.Cycle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+cycleColumns+` FROM oddyssey_cycles
		WHERE game_date = $1 ORDER BY cycle_id ASC`, gameDate)
	if err != nil {
		return nil, fmt.Errorf("list cycles by date: %w", err)
	}
	defer rows.Close()
	return collectCycles(rows)
}

// ListUnresolvedEndedBefore returns published cycles whose end time is at or
// before the cutoff, oldest first.
func (s *Store) ListUnresolvedEndedBefore(ctx context.Context, cutoff time.Time) ([]domain.Cycle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+cycleColumns+` FROM oddyssey_cycles
		WHERE status = 'published' AND ends_at <= $1
		ORDER BY cycle_id ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list unresolved cycles: %w", err)
	}
	defer rows.Close()
	return collectCycles(rows)
}

// ListCycleMatches returns the ten match rows in display order.
func (s *Store) ListCycleMatches(ctx context.Context, cycleID int64) ([]domain.CycleMatch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cycle_id, fixture_id, display_order, kickoff_unix,
		       odds_home, odds_draw, odds_away, odds_over, odds_under,
		       result_moneyline, result_over_under
		FROM oddyssey_cycle_matches
		WHERE cycle_id = $1 ORDER BY display_order ASC`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("list cycle matches: %w", err)
	}
	defer rows.Close()

	var out []domain.CycleMatch
	for rows.Next() {
		var m domain.CycleMatch
		var ml, ou int16
		if err := rows.Scan(&m.CycleID, &m.FixtureID, &m.DisplayOrder, &m.KickoffUnix,
			&m.Odds.Home, &m.Odds.Draw, &m.Odds.Away, &m.Odds.Over, &m.Odds.Under,
			&ml, &ou); err != nil {
			return nil, fmt.Errorf("scan cycle match: %w", err)
		}
		m.Result = domain.MatchResult{Moneyline: domain.MoneylineResult(ml), OverUnder: domain.OverUnderResult(ou)}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PurgeOlderThan deletes cycles (cascading to match rows, slips, and claims)
// older than cycleDays, and daily selections older than selectionDays.
func (s *Store) PurgeOlderThan(ctx context.Context, cycleDays, selectionDays int) (int64, error) {
	var purged int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM oddyssey_cycles
			WHERE created_at < now() - make_interval(days => $1)`, cycleDays)
		if err != nil {
			return fmt.Errorf("purge cycles: %w", err)
		}
		purged = tag.RowsAffected()

		_, err = tx.Exec(ctx, `
			DELETE FROM oddyssey_daily_selections
			WHERE created_at < now() - make_interval(days => $1)`, selectionDays)
		if err != nil {
			return fmt.Errorf("purge daily selections: %w", err)
		}
		return nil
	})
	return purged, err
}

// RepairSnapshots scans all cycles, rewrites any snapshot that still carries
// legacy string-typed fields, and returns the number of repaired rows.
func (s *Store) RepairSnapshots(ctx context.Context) (int, error) {
	rows, err := s.pool.Query(ctx, `SELECT cycle_id, matches FROM oddyssey_cycles`)
	if err != nil {
		return 0, fmt.Errorf("scan snapshots: %w", err)
	}
	defer rows.Close()

	type repair struct {
		id  int64
		raw []byte
	}
	var pending []repair
	for rows.Next() {
		var id int64
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return 0, fmt.Errorf("scan snapshot row: %w", err)
		}
		pending = append(pending, repair{id, raw})
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	repaired := 0
	for _, p := range pending {
		snap, rewritten, err := domain.DecodeSnapshot(p.raw)
		if err != nil {
			return repaired, domain.ErrCorruptSnapshot(p.id, err)
		}
		if !rewritten {
			continue
		}
		canonical, err := json.Marshal(snap)
		if err != nil {
			return repaired, fmt.Errorf("marshal repaired snapshot %d: %w", p.id, err)
		}
		if _, err := s.pool.Exec(ctx, `
			UPDATE oddyssey_cycles SET matches = $2, updated_at = now()
			WHERE cycle_id = $1`, p.id, canonical); err != nil {
			return repaired, fmt.Errorf("rewrite snapshot %d: %w", p.id, err)
		}
		repaired++
	}
	return repaired, nil
}

func scanCycle(row pgx.Row) (*domain.Cycle, error) {
	var c domain.Cycle
	var status string
	var raw []byte
	var gameDate time.Time
	err := row.Scan(&c.ID, &gameDate, &c.CreatedAt, &c.StartsAt, &c.EndsAt, &status, &raw,
		&c.CreationTxHash, &c.ResolutionTxHash, &c.ResolvedAt, &c.EvaluationComplete,
		&c.SlipCount, &c.PrizePool, &c.RolloverAmount, &c.NeedsSyncRepair, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan cycle: %w", err)
	}
	c.GameDate = gameDate.UTC().Format(time.DateOnly)
	c.Status = domain.CycleStatus(status)
	snap, _, err := domain.DecodeSnapshot(raw)
	if err != nil {
		return nil, domain.ErrCorruptSnapshot(c.ID, err)
	}
	c.Snapshot = snap
	return &c, nil
}

func collectCycles(rows pgx.Rows) ([]domain.Cycle, error) {
	var out []domain.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
