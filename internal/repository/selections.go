package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/oddyssey/engine/internal/domain"
)

// CountDailySelections returns how many fixtures are persisted for a UTC
// game date. The match-select job uses this as its overwrite guard.
func (s *Store) CountDailySelections(ctx context.Context, gameDate string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM oddyssey_daily_selections WHERE game_date = $1`, gameDate).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count daily selections: %w", err)
	}
	return n, nil
}

// SaveDailySelections persists the day's ten selected fixtures. The unique
// (game_date, fixture_id) index makes a re-run conflict instead of
// overwriting; conflicts are ignored so the job is idempotent.
func (s *Store) SaveDailySelections(ctx context.Context, gameDate string, matches []domain.CycleMatch) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		for _, m := range matches {
			_, err := tx.Exec(ctx, `
				INSERT INTO oddyssey_daily_selections
				  (game_date, fixture_id, display_order, kickoff_unix,
				   odds_home, odds_draw, odds_away, odds_over, odds_under)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (game_date, fixture_id) DO NOTHING`,
				gameDate, m.FixtureID, m.DisplayOrder, m.KickoffUnix,
				m.Odds.Home, m.Odds.Draw, m.Odds.Away, m.Odds.Over, m.Odds.Under)
			if err != nil {
				return fmt.Errorf("insert daily selection %d: %w", m.FixtureID, err)
			}
		}
		return nil
	})
}

// GetDailySelections returns the persisted selection for a game date in
// display order.
func (s *Store) GetDailySelections(ctx context.Context, gameDate string) ([]domain.CycleMatch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT fixture_id, display_order, kickoff_unix,
		       odds_home, odds_draw, odds_away, odds_over, odds_under
		FROM oddyssey_daily_selections
		WHERE game_date = $1 ORDER BY display_order ASC`, gameDate)
	if err != nil {
		return nil, fmt.Errorf("get daily selections: %w", err)
	}
	defer rows.Close()

	var out []domain.CycleMatch
	for rows.Next() {
		var m domain.CycleMatch
		if err := rows.Scan(&m.FixtureID, &m.DisplayOrder, &m.KickoffUnix,
			&m.Odds.Home, &m.Odds.Draw, &m.Odds.Away, &m.Odds.Over, &m.Odds.Under); err != nil {
			return nil, fmt.Errorf("scan daily selection: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
