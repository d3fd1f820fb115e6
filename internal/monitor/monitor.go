// Package monitor watches the cycle pipeline from the outside: missing or
// late cycles, stuck resolutions, failed transactions, and drift between the
// store and the chain. Findings become persisted alerts and metrics.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oddyssey/engine/internal/domain"
)

// Check names, stable keys in alerts and metrics.
const (
	CheckMissingCycle      = "missing_cycle"
	CheckOffScheduleCycle  = "off_schedule_cycle"
	CheckFailedTransaction = "failed_transaction"
	CheckDelayedResolution = "delayed_resolution"
	CheckCycleSync         = "cycle_sync"
)

// expectedCreationMinute is when the daily cycle job fires; creation drifting
// past the tolerance means the scheduler is unhealthy.
const (
	expectedCreationHour   = 0
	expectedCreationMinute = 5
	creationTolerance      = 30 * time.Minute
	resolutionDelayLimit   = 4 * time.Hour

	// missingCycleLookbackDays is how far back the gap check scans, so a
	// multi-day outage is reported for every lost day.
	missingCycleLookbackDays = 3
)

// Store is the slice of the store the monitor reads and alerts through.
type Store interface {
	GetCycleByDate(ctx context.Context, gameDate string) (*domain.Cycle, error)
	GetCurrentCycle(ctx context.Context) (*domain.Cycle, error)
	ListCyclesByDate(ctx context.Context, gameDate string) ([]domain.Cycle, error)
	ListUnresolvedEndedBefore(ctx context.Context, cutoff time.Time) ([]domain.Cycle, error)
	MaxCycleID(ctx context.Context) (int64, error)
	InsertAlert(ctx context.Context, a domain.Alert) error
}

// Gateway reads the chain's view for the sync check.
type Gateway interface {
	GetCurrentCycleID(ctx context.Context) (int64, error)
}

// Monitor runs the health checks. RunAll is meant to be called periodically;
// every check is independent and failures in one do not stop the rest.
type Monitor struct {
	store   Store
	gateway Gateway
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New wires a monitor.
func New(store Store, gateway Gateway, metrics *Metrics, logger *slog.Logger) *Monitor {
	return &Monitor{
		store:   store,
		gateway: gateway,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RunAll executes every check and refreshes the pipeline gauges. It returns
// the alerts raised so the control surface can show them inline.
func (m *Monitor) RunAll(ctx context.Context) []domain.Alert {
	var raised []domain.Alert
	for _, check := range []struct {
		name string
		fn   func(context.Context) []domain.Alert
	}{
		{CheckMissingCycle, m.checkMissingCycle},
		{CheckOffScheduleCycle, m.checkOffScheduleCycle},
		{CheckFailedTransaction, m.checkFailedTransactions},
		{CheckDelayedResolution, m.checkDelayedResolution},
		{CheckCycleSync, m.checkCycleSync},
	} {
		alerts := check.fn(ctx)
		outcome := "ok"
		if len(alerts) > 0 {
			outcome = "alerted"
		}
		m.metrics.ChecksRun.WithLabelValues(check.name, outcome).Inc()
		raised = append(raised, alerts...)
	}

	m.refreshGauges(ctx)

	for _, a := range raised {
		m.metrics.AlertsRaised.WithLabelValues(a.Check, string(a.Severity)).Inc()
		if err := m.store.InsertAlert(ctx, a); err != nil {
			m.logger.Error("persist alert failed", "check", a.Check, "error", err)
		}
	}
	return raised
}

// checkMissingCycle scans the last few UTC days for dates without a cycle on
// record, so a multi-day gap raises one alert per lost day.
func (m *Monitor) checkMissingCycle(ctx context.Context) []domain.Alert {
	now := m.now()

	var out []domain.Alert
	for offset := 0; offset <= missingCycleLookbackDays; offset++ {
		// Before the creation job has had a chance to run, today's absence is
		// expected.
		if offset == 0 && now.Hour() == expectedCreationHour && now.Minute() <= expectedCreationMinute {
			continue
		}
		gameDate := now.AddDate(0, 0, -offset).Format(time.DateOnly)

		cycle, err := m.store.GetCycleByDate(ctx, gameDate)
		if err != nil {
			m.logger.Error("missing cycle check failed", "game_date", gameDate, "error", err)
			continue
		}
		if cycle != nil {
			continue
		}
		out = append(out, domain.NewAlert(domain.SeverityCritical, CheckMissingCycle,
			fmt.Sprintf("no cycle exists for %s", gameDate),
			map[string]any{"game_date": gameDate}))
	}
	return out
}

// checkOffScheduleCycle flags a cycle created far from the scheduled time.
func (m *Monitor) checkOffScheduleCycle(ctx context.Context) []domain.Alert {
	gameDate := m.now().Format(time.DateOnly)
	cycle, err := m.store.GetCycleByDate(ctx, gameDate)
	if err != nil || cycle == nil {
		return nil
	}

	expected := time.Date(cycle.CreatedAt.Year(), cycle.CreatedAt.Month(), cycle.CreatedAt.Day(),
		expectedCreationHour, expectedCreationMinute, 0, 0, time.UTC)
	drift := cycle.CreatedAt.Sub(expected)
	if drift < 0 {
		drift = -drift
	}
	if drift <= creationTolerance {
		return nil
	}
	return []domain.Alert{domain.NewAlert(domain.SeverityWarning, CheckOffScheduleCycle,
		fmt.Sprintf("cycle %d created %s off schedule", cycle.ID, drift.Round(time.Minute)),
		map[string]any{"cycle_id": cycle.ID, "created_at": cycle.CreatedAt, "drift": drift.String()})}
}

// checkFailedTransactions flags orphaned cycles and cycles whose recorded
// state implies a transaction that has no hash on record.
func (m *Monitor) checkFailedTransactions(ctx context.Context) []domain.Alert {
	var out []domain.Alert
	for offset := 0; offset <= 1; offset++ {
		gameDate := m.now().AddDate(0, 0, -offset).Format(time.DateOnly)
		cycles, err := m.store.ListCyclesByDate(ctx, gameDate)
		if err != nil {
			m.logger.Error("failed transaction check failed", "error", err)
			return out
		}
		for _, c := range cycles {
			if c.Status == domain.CycleOrphaned {
				out = append(out, domain.NewAlert(domain.SeverityCritical, CheckFailedTransaction,
					fmt.Sprintf("cycle %d orphaned after failed chain submission", c.ID),
					map[string]any{"cycle_id": c.ID, "game_date": c.GameDate}))
				continue
			}
			if c.Status != domain.CycleCreated && hashMissing(c.CreationTxHash) {
				out = append(out, domain.NewAlert(domain.SeverityWarning, CheckFailedTransaction,
					fmt.Sprintf("cycle %d is %s but has no creation tx hash", c.ID, c.Status),
					map[string]any{"cycle_id": c.ID, "status": string(c.Status)}))
			}
			if c.Status == domain.CycleResolved && hashMissing(c.ResolutionTxHash) {
				out = append(out, domain.NewAlert(domain.SeverityWarning, CheckFailedTransaction,
					fmt.Sprintf("cycle %d is resolved but has no resolution tx hash", c.ID),
					map[string]any{"cycle_id": c.ID, "status": string(c.Status)}))
			}
		}
	}
	return out
}

// hashMissing treats both NULL and an empty string as no hash on record.
func hashMissing(h *string) bool { return h == nil || *h == "" }

// checkDelayedResolution flags cycles still unresolved long after their last
// kickoff.
func (m *Monitor) checkDelayedResolution(ctx context.Context) []domain.Alert {
	now := m.now()
	cycles, err := m.store.ListUnresolvedEndedBefore(ctx, now)
	if err != nil {
		m.logger.Error("delayed resolution check failed", "error", err)
		return nil
	}

	var out []domain.Alert
	var worst time.Duration
	for _, c := range cycles {
		last := c.Snapshot.LastKickoff()
		if last.IsZero() {
			continue
		}
		delay := now.Sub(last)
		if delay > worst {
			worst = delay
		}
		if delay > resolutionDelayLimit {
			out = append(out, domain.NewAlert(domain.SeverityCritical, CheckDelayedResolution,
				fmt.Sprintf("cycle %d unresolved %s after last kickoff", c.ID, delay.Round(time.Minute)),
				map[string]any{"cycle_id": c.ID, "last_kickoff": last, "delay": delay.String()}))
		}
	}
	m.metrics.UnresolvedCycles.Set(float64(len(cycles)))
	m.metrics.ResolutionDelayHr.Set(worst.Hours())
	return out
}

// checkCycleSync compares the store's highest cycle id with the chain's.
func (m *Monitor) checkCycleSync(ctx context.Context) []domain.Alert {
	dbID, err := m.store.MaxCycleID(ctx)
	if err != nil {
		m.logger.Error("cycle sync check failed", "error", err)
		return nil
	}
	chainID, err := m.gateway.GetCurrentCycleID(ctx)
	if err != nil {
		m.logger.Warn("chain unreachable for sync check", "error", err)
		return nil
	}
	m.metrics.ChainCycleID.Set(float64(chainID))

	if dbID == chainID {
		return nil
	}
	return []domain.Alert{domain.NewAlert(domain.SeverityCritical, CheckCycleSync,
		fmt.Sprintf("db cycle id %d vs chain cycle id %d", dbID, chainID),
		map[string]any{"db_cycle_id": dbID, "chain_cycle_id": chainID})}
}

// refreshGauges updates the current-cycle instruments.
func (m *Monitor) refreshGauges(ctx context.Context) {
	cycle, err := m.store.GetCurrentCycle(ctx)
	if err != nil || cycle == nil {
		return
	}
	m.metrics.CurrentCycleID.Set(float64(cycle.ID))
	m.metrics.SlipCount.Set(float64(cycle.SlipCount))
	m.metrics.PrizePoolWei.Set(float64(cycle.PrizePool))
}
