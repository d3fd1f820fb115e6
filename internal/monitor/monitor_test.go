package monitor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddyssey/engine/internal/domain"
)

type fakeStore struct {
	byDate     map[string]*domain.Cycle
	allByDate  map[string][]domain.Cycle
	unresolved []domain.Cycle
	maxID      int64
	alerts     []domain.Alert
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byDate:    map[string]*domain.Cycle{},
		allByDate: map[string][]domain.Cycle{},
	}
}

func (f *fakeStore) GetCycleByDate(_ context.Context, gameDate string) (*domain.Cycle, error) {
	return f.byDate[gameDate], nil
}

func (f *fakeStore) GetCurrentCycle(context.Context) (*domain.Cycle, error) {
	var latest *domain.Cycle
	for _, c := range f.byDate {
		if latest == nil || c.ID > latest.ID {
			latest = c
		}
	}
	return latest, nil
}

func (f *fakeStore) ListCyclesByDate(_ context.Context, gameDate string) ([]domain.Cycle, error) {
	return f.allByDate[gameDate], nil
}

func (f *fakeStore) ListUnresolvedEndedBefore(context.Context, time.Time) ([]domain.Cycle, error) {
	return f.unresolved, nil
}

func (f *fakeStore) MaxCycleID(context.Context) (int64, error) { return f.maxID, nil }

func (f *fakeStore) InsertAlert(_ context.Context, a domain.Alert) error {
	f.alerts = append(f.alerts, a)
	return nil
}

type fakeGateway struct{ chainID int64 }

func (g *fakeGateway) GetCurrentCycleID(context.Context) (int64, error) { return g.chainID, nil }

func newMonitor(store *fakeStore, gw *fakeGateway, at time.Time) *Monitor {
	m := New(store, gw, NewMetrics(prometheus.NewRegistry()), slog.Default())
	m.now = func() time.Time { return at }
	return m
}

func alertsFor(alerts []domain.Alert, check string) []domain.Alert {
	var out []domain.Alert
	for _, a := range alerts {
		if a.Check == check {
			out = append(out, a)
		}
	}
	return out
}

func healthyCycle(id int64, day time.Time) *domain.Cycle {
	created := time.Date(day.Year(), day.Month(), day.Day(), 0, 5, 30, 0, time.UTC)
	return &domain.Cycle{
		ID:        id,
		GameDate:  day.Format(time.DateOnly),
		CreatedAt: created,
		Status:    domain.CyclePublished,
		CreationTxHash: func() *string {
			h := "0xabc"
			return &h
		}(),
	}
}

// seedHistory fills the lookback window with healthy past cycles so only the
// day under test is interesting. IDs stay low so they never become current.
func seedHistory(store *fakeStore, now time.Time) {
	for offset := 1; offset <= missingCycleLookbackDays; offset++ {
		day := now.AddDate(0, 0, -offset)
		key := day.Format(time.DateOnly)
		if store.byDate[key] == nil {
			store.byDate[key] = healthyCycle(int64(offset), day)
		}
	}
}

func TestRunAll_HealthyPipelineRaisesNothing(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	cycle := healthyCycle(5, now)
	store.byDate["2026-01-10"] = cycle
	store.allByDate["2026-01-10"] = []domain.Cycle{*cycle}
	store.maxID = 5
	seedHistory(store, now)

	m := newMonitor(store, &fakeGateway{chainID: 5}, now)
	raised := m.RunAll(context.Background())

	assert.Empty(t, raised)
	assert.Empty(t, store.alerts)
}

func TestMissingCycleAlert(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.maxID = 4
	seedHistory(store, now)

	m := newMonitor(store, &fakeGateway{chainID: 4}, now)
	raised := m.RunAll(context.Background())

	missing := alertsFor(raised, CheckMissingCycle)
	require.Len(t, missing, 1)
	assert.Equal(t, domain.SeverityCritical, missing[0].Severity)
}

func TestMissingCycleReportsOlderGaps(t *testing.T) {
	// Today and yesterday are fine; the day before went dark.
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.byDate["2026-01-10"] = healthyCycle(5, now)
	store.maxID = 5
	seedHistory(store, now)
	delete(store.byDate, "2026-01-08")

	m := newMonitor(store, &fakeGateway{chainID: 5}, now)
	raised := m.RunAll(context.Background())

	missing := alertsFor(raised, CheckMissingCycle)
	require.Len(t, missing, 1)
	assert.Contains(t, missing[0].Message, "2026-01-08")
}

func TestMissingCycleChecksYesterdayBeforeCreationWindow(t *testing.T) {
	// 00:03: today's cycle legitimately does not exist yet.
	now := time.Date(2026, 1, 10, 0, 3, 0, 0, time.UTC)
	store := newFakeStore()
	store.byDate["2026-01-09"] = healthyCycle(4, now.AddDate(0, 0, -1))
	store.maxID = 4
	seedHistory(store, now)

	m := newMonitor(store, &fakeGateway{chainID: 4}, now)
	raised := m.RunAll(context.Background())
	assert.Empty(t, alertsFor(raised, CheckMissingCycle))
}

func TestOffScheduleCreationAlert(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	cycle := healthyCycle(5, now)
	cycle.CreatedAt = time.Date(2026, 1, 10, 2, 40, 0, 0, time.UTC) // hours late
	store.byDate["2026-01-10"] = cycle
	store.allByDate["2026-01-10"] = []domain.Cycle{*cycle}
	store.maxID = 5

	m := newMonitor(store, &fakeGateway{chainID: 5}, now)
	raised := m.RunAll(context.Background())

	off := alertsFor(raised, CheckOffScheduleCycle)
	require.Len(t, off, 1)
	assert.Equal(t, domain.SeverityWarning, off[0].Severity)
}

func TestOrphanedCycleAlert(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	good := healthyCycle(6, now)
	orphan := &domain.Cycle{ID: 5, GameDate: "2026-01-10", Status: domain.CycleOrphaned}
	store.byDate["2026-01-10"] = good
	store.allByDate["2026-01-10"] = []domain.Cycle{*orphan, *good}
	store.maxID = 6

	m := newMonitor(store, &fakeGateway{chainID: 6}, now)
	raised := m.RunAll(context.Background())

	failed := alertsFor(raised, CheckFailedTransaction)
	require.Len(t, failed, 1)
	assert.Equal(t, domain.SeverityCritical, failed[0].Severity)
}

func TestResolvedWithoutResolutionHashFlagged(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	cycle := healthyCycle(5, now)
	cycle.Status = domain.CycleResolved
	store.byDate["2026-01-10"] = cycle
	store.allByDate["2026-01-10"] = []domain.Cycle{*cycle}
	store.maxID = 5
	seedHistory(store, now)

	m := newMonitor(store, &fakeGateway{chainID: 5}, now)
	raised := m.RunAll(context.Background())

	failed := alertsFor(raised, CheckFailedTransaction)
	require.Len(t, failed, 1)
	assert.Equal(t, domain.SeverityWarning, failed[0].Severity)
	assert.Contains(t, failed[0].Message, "resolution tx hash")
}

func TestEmptyCreationHashTreatedAsMissing(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	cycle := healthyCycle(5, now)
	empty := ""
	cycle.CreationTxHash = &empty
	store.byDate["2026-01-10"] = cycle
	store.allByDate["2026-01-10"] = []domain.Cycle{*cycle}
	store.maxID = 5
	seedHistory(store, now)

	m := newMonitor(store, &fakeGateway{chainID: 5}, now)
	raised := m.RunAll(context.Background())

	failed := alertsFor(raised, CheckFailedTransaction)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Message, "creation tx hash")
}

func TestDelayedResolutionAlert(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	cycle := healthyCycle(5, now)
	store.byDate["2026-01-10"] = cycle
	store.allByDate["2026-01-10"] = []domain.Cycle{*cycle}
	store.maxID = 5

	// Last kickoff six hours ago, still unresolved.
	stuck := domain.Cycle{
		ID: 4, Status: domain.CyclePublished,
		Snapshot: domain.MatchesSnapshot{
			Version: domain.SnapshotVersion,
			Matches: []domain.SnapshotMatch{{ID: 1, StartTime: now.Add(-6 * time.Hour).Unix()}},
		},
	}
	store.unresolved = []domain.Cycle{stuck}

	m := newMonitor(store, &fakeGateway{chainID: 5}, now)
	raised := m.RunAll(context.Background())

	delayed := alertsFor(raised, CheckDelayedResolution)
	require.Len(t, delayed, 1)
	assert.Equal(t, domain.SeverityCritical, delayed[0].Severity)
}

func TestRecentLastKickoffNotFlagged(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	cycle := healthyCycle(5, now)
	store.byDate["2026-01-10"] = cycle
	store.allByDate["2026-01-10"] = []domain.Cycle{*cycle}
	store.maxID = 5

	// Ended but the last match finished only an hour ago: normal lag.
	waiting := domain.Cycle{
		ID: 4, Status: domain.CyclePublished,
		Snapshot: domain.MatchesSnapshot{
			Version: domain.SnapshotVersion,
			Matches: []domain.SnapshotMatch{{ID: 1, StartTime: now.Add(-time.Hour).Unix()}},
		},
	}
	store.unresolved = []domain.Cycle{waiting}

	m := newMonitor(store, &fakeGateway{chainID: 5}, now)
	raised := m.RunAll(context.Background())
	assert.Empty(t, alertsFor(raised, CheckDelayedResolution))
}

func TestCycleSyncMismatchAlert(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	cycle := healthyCycle(5, now)
	store.byDate["2026-01-10"] = cycle
	store.allByDate["2026-01-10"] = []domain.Cycle{*cycle}
	store.maxID = 5

	m := newMonitor(store, &fakeGateway{chainID: 7}, now)
	raised := m.RunAll(context.Background())

	sync := alertsFor(raised, CheckCycleSync)
	require.Len(t, sync, 1)
	assert.Equal(t, domain.SeverityCritical, sync[0].Severity)
	// Raised alerts are also persisted.
	assert.Len(t, store.alerts, len(raised))
}
