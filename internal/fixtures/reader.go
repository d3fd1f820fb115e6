// Package fixtures is the read-only view over the upstream-populated
// fixtures and odds store. The engine never writes fixture data; the only
// upstream interaction is asking the refresher to bring statuses up to date
// before a resolution decision.
package fixtures

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oddyssey/engine/internal/domain"
	"github.com/oddyssey/engine/internal/repository"
)

// Default totals prices filled in by the relaxed candidate query when a
// bookmaker has not priced the over/under market.
const (
	defaultOverOdd  = 1800
	defaultUnderOdd = 2000
)

// excludedNameParts filters women's competitions by league or team name.
var excludedNameParts = []string{"women", "female", "ladies"}

// StatusRefresher pulls current fixture statuses from the upstream provider
// and writes them into the fixtures store. External collaborator.
type StatusRefresher interface {
	RefreshStatuses(ctx context.Context, fixtureIDs []int64) error
}

// NoopRefresher satisfies StatusRefresher without an upstream; statuses are
// then only as fresh as the ingest pipeline keeps them.
type NoopRefresher struct{}

func (NoopRefresher) RefreshStatuses(context.Context, []int64) error { return nil }

// Reader exposes the candidate and result queries over the fixtures store.
type Reader struct {
	db             repository.DBTX
	minKickoffHour int
	now            func() time.Time
}

// NewReader creates a Reader. minKickoffHour is the earliest admissible UTC
// kickoff hour for selection candidates.
func NewReader(db repository.DBTX, minKickoffHour int) *Reader {
	return &Reader{db: db, minKickoffHour: minKickoffHour, now: time.Now}
}

// CandidatesForDate returns fixtures kicking off on the given UTC date that
// are not started, have complete odds, and pass the exclusion filters,
// deduplicated by fixture id. With relaxed set, missing over/under prices
// are filled with the default line instead of rejecting the fixture; the
// 1X2 markets must always be fully priced.
func (r *Reader) CandidatesForDate(ctx context.Context, date time.Time, relaxed bool) ([]domain.Candidate, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24*time.Hour - time.Second)

	rows, err := r.db.Query(ctx, `
		SELECT f.id, f.home_team, f.away_team, f.league_name, f.country, f.match_date,
		       o.home_odds::text, o.draw_odds::text, o.away_odds::text,
		       o.over_odds::text, o.under_odds::text
		FROM fixtures f
		JOIN fixture_odds o ON o.fixture_id = f.id
		WHERE f.match_date BETWEEN $1 AND $2
		  AND f.status = 'not_started'
		ORDER BY f.match_date ASC, f.id ASC`, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	now := r.now()
	seen := make(map[int64]bool)
	var out []domain.Candidate
	for rows.Next() {
		var f domain.Fixture
		var home, draw, away, over, under *string
		if err := rows.Scan(&f.ID, &f.HomeTeam, &f.AwayTeam, &f.League, &f.Country,
			&f.KickoffAt, &home, &draw, &away, &over, &under); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		f.Status = domain.FixtureNotStarted
		f.KickoffAt = f.KickoffAt.UTC()

		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true

		if !f.KickoffAt.After(now) {
			continue
		}
		if f.KickoffAt.Hour() < r.minKickoffHour {
			continue
		}
		if nameExcluded(f.League) || nameExcluded(f.HomeTeam) || nameExcluded(f.AwayTeam) {
			continue
		}

		quote, ok := buildQuote(home, draw, away, over, under, relaxed)
		if !ok {
			continue
		}
		if quote.IsMock() {
			continue
		}

		out = append(out, domain.Candidate{Fixture: f, Odds: quote})
	}
	return out, rows.Err()
}

// buildQuote parses the five odds columns into a canonical quote. Missing or
// unparseable 1X2 prices always reject; missing totals reject unless relaxed.
func buildQuote(home, draw, away, over, under *string, relaxed bool) (domain.OddsQuote, bool) {
	var q domain.OddsQuote
	var err error

	for _, m := range []struct {
		raw *string
		dst *uint32
	}{{home, &q.Home}, {draw, &q.Draw}, {away, &q.Away}} {
		if m.raw == nil {
			return q, false
		}
		if *m.dst, err = domain.ParseOdd(*m.raw); err != nil {
			return q, false
		}
	}

	q.Over, q.Under = defaultOverOdd, defaultUnderOdd
	if over == nil || under == nil {
		return q, relaxed
	}
	ov, err1 := domain.ParseOdd(*over)
	un, err2 := domain.ParseOdd(*under)
	if err1 != nil || err2 != nil {
		return q, relaxed
	}
	q.Over, q.Under = ov, un
	return q, true
}

// ResultsFor returns the final score for each finished fixture id. Ids that
// are unknown or not finished are absent from the map.
func (r *Reader) ResultsFor(ctx context.Context, fixtureIDs []int64) (map[int64]domain.Score, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, home_score, away_score
		FROM fixtures
		WHERE id = ANY($1) AND status = 'finished'
		  AND home_score IS NOT NULL AND away_score IS NOT NULL`, fixtureIDs)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]domain.Score, len(fixtureIDs))
	for rows.Next() {
		var id int64
		var s domain.Score
		if err := rows.Scan(&id, &s.Home, &s.Away); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out[id] = s
	}
	return out, rows.Err()
}

// StatusesFor returns the current status for each fixture id.
func (r *Reader) StatusesFor(ctx context.Context, fixtureIDs []int64) (map[int64]domain.FixtureStatus, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, status FROM fixtures WHERE id = ANY($1)`, fixtureIDs)
	if err != nil {
		return nil, fmt.Errorf("query statuses: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]domain.FixtureStatus, len(fixtureIDs))
	for rows.Next() {
		var id int64
		var status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		out[id] = domain.FixtureStatus(status)
	}
	return out, rows.Err()
}

func nameExcluded(name string) bool {
	lower := strings.ToLower(name)
	for _, part := range excludedNameParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}
