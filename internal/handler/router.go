// Package handler is the engine's control surface: cycle and slip reads,
// placement and claims, manual job triggers, health, and metrics.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oddyssey/engine/internal/domain"
	"github.com/oddyssey/engine/internal/infra"
	"github.com/oddyssey/engine/internal/scheduler"
	"github.com/oddyssey/engine/internal/slips"
)

// CycleReader is the read path into the cycle store.
type CycleReader interface {
	GetCycle(ctx context.Context, id int64) (*domain.Cycle, error)
	GetCurrentCycle(ctx context.Context) (*domain.Cycle, error)
	GetSlip(ctx context.Context, id int64) (*domain.Slip, error)
	ListCycleMatches(ctx context.Context, cycleID int64) ([]domain.CycleMatch, error)
	ListAlertsSince(ctx context.Context, cutoff time.Time) ([]domain.Alert, error)
}

// SlipService is the write path for placements and claims.
type SlipService interface {
	PlaceSlip(ctx context.Context, player string, cycleID int64, inputs []slips.PredictionInput) (*domain.Slip, error)
	ClaimPrize(ctx context.Context, cycleID, slipID int64, player string) (*domain.PrizeClaim, error)
	Leaderboard(ctx context.Context, cycleID int64) ([]domain.PrizeClaim, error)
}

// Jobs exposes the scheduler's manual triggers and status.
type Jobs interface {
	TriggerMatchSelection()
	TriggerNewCycle()
	TriggerResolution()
	TriggerCleanup()
	Status() []scheduler.JobStatus
}

// ChainPinger checks RPC reachability.
type ChainPinger interface {
	Ping(ctx context.Context) error
}

// HealthRunner runs the monitor checks on demand.
type HealthRunner interface {
	RunAll(ctx context.Context) []domain.Alert
}

// Deps bundles everything the router serves.
type Deps struct {
	Pool     *pgxpool.Pool
	Cycles   CycleReader
	Slips    SlipService
	Jobs     Jobs
	Chain    ChainPinger
	Monitor  HealthRunner
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

// NewRouter assembles the control surface.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLogger(d.Logger))
	r.Use(Recovery(d.Logger))

	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(JSONContentType)

		r.Get("/health", healthHandler(d))
		r.Get("/status", statusHandler(d))

		r.Route("/cycles", func(r chi.Router) {
			r.Get("/current", getCurrentCycle(d))
			r.Get("/{cycleID}", getCycle(d))
			r.Get("/{cycleID}/matches", getCycleMatches(d))
			r.Get("/{cycleID}/leaderboard", getLeaderboard(d))
		})

		r.Route("/slips", func(r chi.Router) {
			r.Post("/", placeSlip(d))
			r.Get("/{slipID}", getSlip(d))
		})

		r.Post("/claims", claimPrize(d))

		r.Route("/trigger", func(r chi.Router) {
			r.Post("/select", trigger(d, "matchSelect", d.Jobs.TriggerMatchSelection))
			r.Post("/cycle", trigger(d, "newCycle", d.Jobs.TriggerNewCycle))
			r.Post("/resolve", trigger(d, "resolve", d.Jobs.TriggerResolution))
			r.Post("/cleanup", trigger(d, "cleanup", d.Jobs.TriggerCleanup))
			r.Post("/monitor", runMonitor(d))
		})
	})

	return r
}

func healthHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"database": "healthy", "chain": "healthy"}
		status := http.StatusOK

		if err := infra.HealthCheck(r.Context(), d.Pool); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := d.Chain.Ping(r.Context()); err != nil {
			checks["chain"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		RespondJSON(w, status, checks)
	}
}

func statusHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cycle, err := d.Cycles.GetCurrentCycle(r.Context())
		if err != nil {
			RespondError(w, err)
			return
		}
		alerts, err := d.Cycles.ListAlertsSince(r.Context(), time.Now().UTC().Add(-24*time.Hour))
		if err != nil {
			RespondError(w, err)
			return
		}
		RespondJSON(w, http.StatusOK, map[string]any{
			"current_cycle": cycle,
			"jobs":          d.Jobs.Status(),
			"recent_alerts": alerts,
		})
	}
}

func getCurrentCycle(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cycle, err := d.Cycles.GetCurrentCycle(r.Context())
		if err != nil {
			RespondError(w, err)
			return
		}
		if cycle == nil {
			RespondError(w, domain.ErrNotFound("cycle", 0))
			return
		}
		RespondJSON(w, http.StatusOK, cycle)
	}
}

func getCycle(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "cycleID")
		if err != nil {
			RespondError(w, err)
			return
		}
		cycle, err := d.Cycles.GetCycle(r.Context(), id)
		if err != nil {
			RespondError(w, err)
			return
		}
		if cycle == nil {
			RespondError(w, domain.ErrNotFound("cycle", id))
			return
		}
		RespondJSON(w, http.StatusOK, cycle)
	}
}

func getCycleMatches(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "cycleID")
		if err != nil {
			RespondError(w, err)
			return
		}
		matches, err := d.Cycles.ListCycleMatches(r.Context(), id)
		if err != nil {
			RespondError(w, err)
			return
		}
		RespondJSON(w, http.StatusOK, matches)
	}
}

func getLeaderboard(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "cycleID")
		if err != nil {
			RespondError(w, err)
			return
		}
		board, err := d.Slips.Leaderboard(r.Context(), id)
		if err != nil {
			RespondError(w, err)
			return
		}
		RespondJSON(w, http.StatusOK, board)
	}
}

type placeSlipRequest struct {
	Player string `json:"player"`
	// CycleID is optional; zero targets the current cycle.
	CycleID     int64                   `json:"cycle_id,omitempty"`
	Predictions []slips.PredictionInput `json:"predictions"`
}

func placeSlip(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req placeSlipRequest
		if err := DecodeJSON(r, &req); err != nil {
			RespondError(w, domain.ErrValidationFailed("invalid request body"))
			return
		}
		slip, err := d.Slips.PlaceSlip(r.Context(), req.Player, req.CycleID, req.Predictions)
		if err != nil {
			RespondError(w, err)
			return
		}
		RespondJSON(w, http.StatusCreated, slip)
	}
}

func getSlip(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "slipID")
		if err != nil {
			RespondError(w, err)
			return
		}
		slip, err := d.Cycles.GetSlip(r.Context(), id)
		if err != nil {
			RespondError(w, err)
			return
		}
		if slip == nil {
			RespondError(w, domain.ErrNotFound("slip", id))
			return
		}
		RespondJSON(w, http.StatusOK, slip)
	}
}

type claimRequest struct {
	CycleID int64  `json:"cycle_id"`
	SlipID  int64  `json:"slip_id"`
	Player  string `json:"player"`
}

func claimPrize(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req claimRequest
		if err := DecodeJSON(r, &req); err != nil {
			RespondError(w, domain.ErrValidationFailed("invalid request body"))
			return
		}
		claim, err := d.Slips.ClaimPrize(r.Context(), req.CycleID, req.SlipID, req.Player)
		if err != nil {
			RespondError(w, err)
			return
		}
		RespondJSON(w, http.StatusOK, claim)
	}
}

func trigger(d Deps, name string, fn func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Logger.Info("manual trigger", "job", name, "request_id", GetRequestID(r.Context()))
		fn()
		RespondJSON(w, http.StatusAccepted, map[string]string{"triggered": name})
	}
}

func runMonitor(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alerts := d.Monitor.RunAll(r.Context())
		RespondJSON(w, http.StatusOK, map[string]any{
			"alerts_raised": len(alerts),
			"alerts":        alerts,
		})
	}
}

func pathID(r *http.Request, key string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil {
		return 0, domain.ErrValidationFailed("invalid " + key)
	}
	return id, nil
}
