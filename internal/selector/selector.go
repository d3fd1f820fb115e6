// Package selector chooses the ten daily fixtures from the candidate pool
// using league priority, odds quality, and kickoff-window scoring, with a
// two-pass league-diversity walk over the ranked list.
package selector

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/oddyssey/engine/internal/domain"
)

// CandidateSource provides the day's candidate fixtures. Satisfied by
// fixtures.Reader.
type CandidateSource interface {
	CandidatesForDate(ctx context.Context, date time.Time, relaxed bool) ([]domain.Candidate, error)
}

// Selector produces the validated daily set of ten fixtures.
type Selector struct {
	src    CandidateSource
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Selector.
func New(src CandidateSource, logger *slog.Logger) *Selector {
	return &Selector{src: src, logger: logger, now: time.Now}
}

type scored struct {
	candidate domain.Candidate
	league    string
	priority  int
	score     float64
}

// SelectDaily returns exactly ten validated matches for the given UTC date,
// sorted by kickoff with display order 1..10, or an error.
func (s *Selector) SelectDaily(ctx context.Context, date time.Time) ([]domain.CycleMatch, error) {
	candidates, err := s.src.CandidatesForDate(ctx, date, false)
	if err != nil {
		return nil, err
	}
	if len(candidates) < domain.MatchesPerCycle {
		s.logger.Warn("strict candidate pool too small, retrying relaxed",
			"date", date.Format(time.DateOnly), "strict_count", len(candidates))
		candidates, err = s.src.CandidatesForDate(ctx, date, true)
		if err != nil {
			return nil, err
		}
	}
	if len(candidates) < domain.MatchesPerCycle {
		return nil, domain.ErrInsufficientCandidates(len(candidates), domain.MatchesPerCycle)
	}

	ranked := s.rank(candidates, date)
	picked := pickWithDiversity(ranked)

	if err := s.validate(picked); err != nil {
		return nil, err
	}

	sort.Slice(picked, func(i, j int) bool {
		return picked[i].Fixture.KickoffAt.Before(picked[j].Fixture.KickoffAt)
	})

	out := make([]domain.CycleMatch, 0, domain.MatchesPerCycle)
	for i, c := range picked {
		out = append(out, domain.CycleMatch{
			FixtureID:    c.Fixture.ID,
			DisplayOrder: i + 1,
			KickoffUnix:  c.Fixture.KickoffAt.Unix(),
			Odds:         c.Odds,
		})
	}
	return out, nil
}

// rank scores every candidate and sorts descending. The jitter is seeded by
// the game date so a re-run for the same day ranks identically.
func (s *Selector) rank(candidates []domain.Candidate, date time.Time) []scored {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(day.Unix()))

	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		priority := leaguePriority(c.Fixture.League, c.Fixture.HomeTeam, c.Fixture.AwayTeam)
		ranked = append(ranked, scored{
			candidate: c,
			league:    strings.ToLower(strings.TrimSpace(c.Fixture.League)),
			priority:  priority,
			score:     float64(priority) + oddsBalance(c.Odds) + rangeBonus(c.Odds) + kickoffBonus(c.Fixture.KickoffAt) + rng.Float64()*5,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	return ranked
}

// oddsBalance rewards competitive 1X2 markets: min/max of the three prices
// scaled to at most 20 points.
func oddsBalance(q domain.OddsQuote) float64 {
	lo, hi := q.Home, q.Home
	for _, v := range []uint32{q.Draw, q.Away} {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == 0 {
		return 0
	}
	return float64(lo) / float64(hi) * 20
}

// rangeBonus adds 15 when every price sits in the sane [1.05, 15.0] band.
func rangeBonus(q domain.OddsQuote) float64 {
	for _, v := range []uint32{q.Home, q.Draw, q.Away, q.Over, q.Under} {
		if v < 1050 || v > 15000 {
			return 0
		}
	}
	return 15
}

// kickoffBonus adds 10 for prime-time UTC kickoffs.
func kickoffBonus(at time.Time) float64 {
	h := at.UTC().Hour()
	if h >= 15 && h <= 21 {
		return 10
	}
	return 0
}

// pickWithDiversity walks the ranked list twice. The first pass admits
// high-priority leagues capped at two matches each; the second fills the
// remaining slots with the best of the rest.
func pickWithDiversity(ranked []scored) []domain.Candidate {
	picked := make([]domain.Candidate, 0, domain.MatchesPerCycle)
	taken := make(map[int64]bool)
	perLeague := make(map[string]int)

	for _, r := range ranked {
		if len(picked) == domain.MatchesPerCycle {
			break
		}
		if r.priority < highPriorityCutoff {
			continue
		}
		if perLeague[r.league] >= maxPerPriorityLeague {
			continue
		}
		picked = append(picked, r.candidate)
		taken[r.candidate.Fixture.ID] = true
		perLeague[r.league]++
	}

	for _, r := range ranked {
		if len(picked) == domain.MatchesPerCycle {
			break
		}
		if taken[r.candidate.Fixture.ID] {
			continue
		}
		picked = append(picked, r.candidate)
		taken[r.candidate.Fixture.ID] = true
	}
	return picked
}

// validate enforces the hard invariants on the selected ten before they can
// become a cycle.
func (s *Selector) validate(picked []domain.Candidate) error {
	if len(picked) != domain.MatchesPerCycle {
		return domain.ErrWrongMatchCount(len(picked))
	}

	now := s.now()
	seen := make(map[int64]bool, len(picked))
	for _, c := range picked {
		if seen[c.Fixture.ID] {
			return domain.ErrDuplicateFixtureInCycle(c.Fixture.ID)
		}
		seen[c.Fixture.ID] = true

		for _, v := range []uint32{c.Odds.Home, c.Odds.Draw, c.Odds.Away} {
			if v <= domain.OddsScale || v > domain.MaxMoneylineOdd {
				return domain.ErrValidationFailed(
					"moneyline odds out of range for fixture " + c.Fixture.HomeTeam + " v " + c.Fixture.AwayTeam)
			}
		}
		for _, v := range []uint32{c.Odds.Over, c.Odds.Under} {
			if v <= domain.OddsScale || v > domain.MaxOverUnderOdd {
				return domain.ErrValidationFailed(
					"over/under odds out of range for fixture " + c.Fixture.HomeTeam + " v " + c.Fixture.AwayTeam)
			}
		}

		if !c.Fixture.KickoffAt.After(now) {
			return domain.ErrValidationFailed(
				"kickoff not in the future for fixture " + c.Fixture.HomeTeam + " v " + c.Fixture.AwayTeam)
		}
	}
	return nil
}
