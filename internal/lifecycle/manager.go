// Package lifecycle drives the daily cycle state machine: selection of the
// day's matches, cycle creation and publication, resolution readiness, and
// post-publish sync verification against the chain.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oddyssey/engine/internal/domain"
)

// Store is the slice of the cycle store the manager needs.
type Store interface {
	NextCycleID(ctx context.Context) (int64, error)
	CreateCycle(ctx context.Context, c *domain.Cycle, matches []domain.CycleMatch) error
	MarkPublished(ctx context.Context, id int64, txHash string) error
	MarkOrphaned(ctx context.Context, id int64) error
	MarkResolved(ctx context.Context, id int64, txHash string, resolvedAt time.Time, results map[int64]domain.MatchResult) error
	SetNeedsSyncRepair(ctx context.Context, id int64, needs bool) error
	GetCycleByDate(ctx context.Context, gameDate string) (*domain.Cycle, error)
	GetCurrentCycle(ctx context.Context) (*domain.Cycle, error)
	ListUnresolvedEndedBefore(ctx context.Context, cutoff time.Time) ([]domain.Cycle, error)
	CountDailySelections(ctx context.Context, gameDate string) (int, error)
	SaveDailySelections(ctx context.Context, gameDate string, matches []domain.CycleMatch) error
	GetDailySelections(ctx context.Context, gameDate string) ([]domain.CycleMatch, error)
	InsertAlert(ctx context.Context, a domain.Alert) error
}

// Gateway is the slice of the chain client the manager needs.
type Gateway interface {
	SubmitDailyCycle(ctx context.Context, cycleID int64, matches []domain.CycleMatch) (string, error)
	SubmitCycleResults(ctx context.Context, cycleID int64, results []domain.MatchResult) (string, error)
	GetCurrentCycleID(ctx context.Context) (int64, error)
}

// FixtureSource reads finished scores and statuses for the resolution check.
type FixtureSource interface {
	ResultsFor(ctx context.Context, fixtureIDs []int64) (map[int64]domain.Score, error)
	StatusesFor(ctx context.Context, fixtureIDs []int64) (map[int64]domain.FixtureStatus, error)
}

// StatusRefresher pulls fresh statuses from the upstream feed before the
// readiness check reads them.
type StatusRefresher interface {
	RefreshStatuses(ctx context.Context, fixtureIDs []int64) error
}

// MatchSelector produces the day's ten matches.
type MatchSelector interface {
	SelectDaily(ctx context.Context, date time.Time) ([]domain.CycleMatch, error)
}

// Evaluator scores and ranks a resolved cycle's slips.
type Evaluator interface {
	EvaluateCycle(ctx context.Context, cycleID int64) error
}

// resolveConcurrency bounds how many overdue cycles resolve in parallel.
const resolveConcurrency = 3

// Manager owns cycle state transitions. All times are UTC.
type Manager struct {
	store     Store
	gateway   Gateway
	fixtures  FixtureSource
	refresher StatusRefresher
	selector  MatchSelector
	evaluator Evaluator
	logger    *slog.Logger

	cycleDuration    time.Duration
	resolutionBuffer time.Duration
	now              func() time.Time
}

// New wires a manager. evaluator may be set later via SetEvaluator to break
// the construction cycle with the slips package.
func New(store Store, gateway Gateway, fixtures FixtureSource, refresher StatusRefresher,
	selector MatchSelector, logger *slog.Logger, cycleDuration, resolutionBuffer time.Duration) *Manager {
	return &Manager{
		store:            store,
		gateway:          gateway,
		fixtures:         fixtures,
		refresher:        refresher,
		selector:         selector,
		logger:           logger,
		cycleDuration:    cycleDuration,
		resolutionBuffer: resolutionBuffer,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// SetEvaluator attaches the slip evaluation pipeline.
func (m *Manager) SetEvaluator(e Evaluator) { m.evaluator = e }

// SelectDailyMatches picks and persists the day's ten matches. Idempotent: a
// day with a full selection on record is left alone.
func (m *Manager) SelectDailyMatches(ctx context.Context, date time.Time) error {
	gameDate := date.UTC().Format(time.DateOnly)

	count, err := m.store.CountDailySelections(ctx, gameDate)
	if err != nil {
		return err
	}
	if count >= domain.MatchesPerCycle {
		m.logger.Info("daily selection already on record", "game_date", gameDate)
		return nil
	}

	matches, err := m.selector.SelectDaily(ctx, date)
	if err != nil {
		m.alert(ctx, domain.NewAlert(domain.SeverityCritical, "match_selection",
			fmt.Sprintf("selection failed for %s", gameDate),
			map[string]any{"game_date": gameDate, "error": err.Error()}))
		return err
	}
	if err := m.store.SaveDailySelections(ctx, gameDate, matches); err != nil {
		return err
	}
	m.logger.Info("daily selection saved", "game_date", gameDate, "matches", len(matches))
	return nil
}

// CreateDailyCycle creates and publishes the cycle for the given date.
// Idempotent per UTC day: an existing non-orphaned cycle for the date is
// returned as-is. Publication failure orphans the cycle rather than leaving
// it half-created.
func (m *Manager) CreateDailyCycle(ctx context.Context, date time.Time) (*domain.Cycle, error) {
	gameDate := date.UTC().Format(time.DateOnly)

	existing, err := m.store.GetCycleByDate(ctx, gameDate)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status == domain.CycleCreated {
			// Crashed between insert and publish; finish the job.
			return m.publish(ctx, existing)
		}
		m.logger.Info("cycle already exists for date",
			"game_date", gameDate, "cycle_id", existing.ID, "status", existing.Status)
		return existing, nil
	}

	matches, err := m.store.GetDailySelections(ctx, gameDate)
	if err != nil {
		return nil, err
	}
	if len(matches) != domain.MatchesPerCycle {
		// The selection job didn't run or came up short; select inline.
		if err := m.SelectDailyMatches(ctx, date); err != nil {
			return nil, err
		}
		matches, err = m.store.GetDailySelections(ctx, gameDate)
		if err != nil {
			return nil, err
		}
	}

	id, err := m.store.NextCycleID(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	cycle := &domain.Cycle{
		ID:        id,
		GameDate:  gameDate,
		CreatedAt: now,
		StartsAt:  now,
		EndsAt:    now.Add(m.cycleDuration),
		Status:    domain.CycleCreated,
		Snapshot:  snapshotFrom(matches),
	}
	for i := range matches {
		matches[i].CycleID = id
	}

	if err := m.store.CreateCycle(ctx, cycle, matches); err != nil {
		return nil, err
	}
	m.logger.Info("cycle created", "cycle_id", id, "game_date", gameDate,
		"prize_pool", cycle.PrizePool, "rollover", cycle.RolloverAmount)

	return m.publish(ctx, cycle)
}

// publish pushes a created cycle on chain and verifies the chain agrees on
// the cycle id afterwards.
func (m *Manager) publish(ctx context.Context, cycle *domain.Cycle) (*domain.Cycle, error) {
	matches := matchesFromSnapshot(cycle)

	txHash, err := m.gateway.SubmitDailyCycle(ctx, cycle.ID, matches)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrCycleAlreadyOnChain(cycle.ID)):
		// A previous run's submission landed before we recorded the outcome.
		// Keep the hash on record; when none exists the row stays NULL and
		// the transaction monitor reports it.
		if cycle.CreationTxHash != nil {
			txHash = *cycle.CreationTxHash
		} else {
			m.alert(ctx, domain.NewAlert(domain.SeverityWarning, "cycle_publication",
				fmt.Sprintf("cycle %d already on chain, creation tx hash unrecoverable", cycle.ID),
				map[string]any{"cycle_id": cycle.ID}))
		}
	default:
		m.logger.Error("cycle publication failed", "cycle_id", cycle.ID, "error", err)
		if oerr := m.store.MarkOrphaned(ctx, cycle.ID); oerr != nil {
			m.logger.Error("orphaning failed", "cycle_id", cycle.ID, "error", oerr)
		}
		m.alert(ctx, domain.NewAlert(domain.SeverityCritical, "cycle_publication",
			fmt.Sprintf("cycle %d orphaned after chain submission failure", cycle.ID),
			map[string]any{"cycle_id": cycle.ID, "error": err.Error()}))
		return nil, err
	}

	if err := m.store.MarkPublished(ctx, cycle.ID, txHash); err != nil {
		return nil, err
	}
	cycle.Status = domain.CyclePublished
	if txHash != "" {
		cycle.CreationTxHash = &txHash
	}
	m.logger.Info("cycle published", "cycle_id", cycle.ID, "tx_hash", txHash)

	if chainID, err := m.gateway.GetCurrentCycleID(ctx); err == nil && chainID != cycle.ID {
		m.logger.Error("cycle id out of sync with chain",
			"cycle_id", cycle.ID, "chain_cycle_id", chainID)
		if serr := m.store.SetNeedsSyncRepair(ctx, cycle.ID, true); serr != nil {
			m.logger.Error("flagging sync repair failed", "cycle_id", cycle.ID, "error", serr)
		}
		m.alert(ctx, domain.NewAlert(domain.SeverityCritical, "cycle_sync",
			fmt.Sprintf("db cycle %d vs chain cycle %d", cycle.ID, chainID),
			map[string]any{"cycle_id": cycle.ID, "chain_cycle_id": chainID}))
		cycle.NeedsSyncRepair = true
	}

	return cycle, nil
}

// ResolvePending resolves every published cycle whose end time plus the
// resolution buffer has passed and whose ten fixtures have all finished.
// Cycles not yet ready are skipped, not failed.
func (m *Manager) ResolvePending(ctx context.Context) error {
	now := m.now()
	cycles, err := m.store.ListUnresolvedEndedBefore(ctx, now.Add(-m.resolutionBuffer))
	if err != nil {
		return err
	}
	if len(cycles) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for i := range cycles {
		cycle := cycles[i]
		g.Go(func() error {
			if err := m.resolveCycle(gctx, &cycle); err != nil {
				m.logger.Error("cycle resolution failed", "cycle_id", cycle.ID, "error", err)
				m.alert(gctx, domain.NewAlert(domain.SeverityCritical, "cycle_resolution",
					fmt.Sprintf("cycle %d resolution failed", cycle.ID),
					map[string]any{"cycle_id": cycle.ID, "error": err.Error()}))
			}
			// One stuck cycle must not block its siblings.
			return nil
		})
	}
	return g.Wait()
}

// resolveCycle runs the readiness check and, if ready, submits results on
// chain, persists them, and kicks off slip evaluation.
func (m *Manager) resolveCycle(ctx context.Context, cycle *domain.Cycle) error {
	ids := cycle.Snapshot.FixtureIDs()

	if err := m.refresher.RefreshStatuses(ctx, ids); err != nil {
		m.logger.Warn("status refresh failed, using stored statuses",
			"cycle_id", cycle.ID, "error", err)
	}

	statuses, err := m.fixtures.StatusesFor(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if statuses[id] != domain.FixtureFinished {
			m.logger.Info("cycle not ready, fixture unfinished",
				"cycle_id", cycle.ID, "fixture_id", id, "status", statuses[id])
			return nil
		}
	}

	scores, err := m.fixtures.ResultsFor(ctx, ids)
	if err != nil {
		return err
	}
	results := make(map[int64]domain.MatchResult, len(ids))
	ordered := make([]domain.MatchResult, 0, len(ids))
	for _, id := range ids {
		score, ok := scores[id]
		if !ok {
			return domain.ErrInternal(
				fmt.Sprintf("fixture %d finished but has no score", id), nil)
		}
		r := domain.OutcomeFromScore(score)
		results[id] = r
		ordered = append(ordered, r)
	}

	txHash, err := m.gateway.SubmitCycleResults(ctx, cycle.ID, ordered)
	if err != nil {
		return err
	}
	if err := m.store.MarkResolved(ctx, cycle.ID, txHash, m.now(), results); err != nil {
		return err
	}
	m.logger.Info("cycle resolved", "cycle_id", cycle.ID, "tx_hash", txHash)

	if m.evaluator != nil {
		if err := m.evaluator.EvaluateCycle(ctx, cycle.ID); err != nil {
			m.logger.Error("slip evaluation failed", "cycle_id", cycle.ID, "error", err)
			return err
		}
	}
	return nil
}

// SyncRepair re-checks a flagged cycle against the chain and clears the flag
// once the two agree.
func (m *Manager) SyncRepair(ctx context.Context) error {
	cycle, err := m.store.GetCurrentCycle(ctx)
	if err != nil || cycle == nil || !cycle.NeedsSyncRepair {
		return err
	}

	chainID, err := m.gateway.GetCurrentCycleID(ctx)
	if err != nil {
		return err
	}
	if chainID == cycle.ID {
		m.logger.Info("cycle sync repaired", "cycle_id", cycle.ID)
		return m.store.SetNeedsSyncRepair(ctx, cycle.ID, false)
	}
	return domain.ErrCycleSyncMismatch(cycle.ID, chainID)
}

// snapshotFrom builds the immutable snapshot from selected matches.
func snapshotFrom(matches []domain.CycleMatch) domain.MatchesSnapshot {
	snap := domain.MatchesSnapshot{
		Version: domain.SnapshotVersion,
		Matches: make([]domain.SnapshotMatch, 0, len(matches)),
	}
	for _, m := range matches {
		snap.Matches = append(snap.Matches, domain.SnapshotMatch{
			ID:        m.FixtureID,
			StartTime: m.KickoffUnix,
			OddsHome:  m.Odds.Home,
			OddsDraw:  m.Odds.Draw,
			OddsAway:  m.Odds.Away,
			OddsOver:  m.Odds.Over,
			OddsUnder: m.Odds.Under,
		})
	}
	return snap
}

// matchesFromSnapshot rehydrates the wire matches from a cycle snapshot.
func matchesFromSnapshot(cycle *domain.Cycle) []domain.CycleMatch {
	out := make([]domain.CycleMatch, 0, len(cycle.Snapshot.Matches))
	for i, sm := range cycle.Snapshot.Matches {
		out = append(out, domain.CycleMatch{
			CycleID:      cycle.ID,
			FixtureID:    sm.ID,
			DisplayOrder: i + 1,
			KickoffUnix:  sm.StartTime,
			Odds: domain.OddsQuote{
				Home:  sm.OddsHome,
				Draw:  sm.OddsDraw,
				Away:  sm.OddsAway,
				Over:  sm.OddsOver,
				Under: sm.OddsUnder,
			},
			Result: sm.Result,
		})
	}
	return out
}

// alert persists a monitor alert, logging but not failing on store errors.
func (m *Manager) alert(ctx context.Context, a domain.Alert) {
	if err := m.store.InsertAlert(ctx, a); err != nil {
		m.logger.Error("persist alert failed", "check", a.Check, "error", err)
	}
}
