package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddyssey/engine/internal/domain"
	"github.com/oddyssey/engine/internal/scheduler"
	"github.com/oddyssey/engine/internal/slips"
)

// --- RespondJSON / RespondError ---

func TestRespondJSON(t *testing.T) {
	t.Run("200 with body", func(t *testing.T) {
		w := httptest.NewRecorder()
		RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		assert.Equal(t, http.StatusOK, w.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("204 with nil body", func(t *testing.T) {
		w := httptest.NewRecorder()
		RespondJSON(w, http.StatusNoContent, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestRespondError(t *testing.T) {
	t.Run("AppError maps to correct status", func(t *testing.T) {
		tests := []struct {
			err        *domain.AppError
			wantStatus int
			wantCode   string
		}{
			{domain.ErrNotFound("cycle", 123), 404, "NOT_FOUND"},
			{domain.ErrValidationFailed("bad input"), 422, "VALIDATION_FAILED"},
			{domain.ErrPredictionMismatch("odd moved"), 400, "PREDICTION_MISMATCH"},
			{domain.ErrSlipClosedForBetting(4), 409, "SLIP_CLOSED_FOR_BETTING"},
			{domain.ErrAlreadyClaimed(4, 9), 409, "ALREADY_CLAIMED"},
			{domain.ErrUnauthorizedClaim("0xabc"), 403, "UNAUTHORIZED_CLAIM"},
			{domain.ErrRateLimited("3/1m"), 429, "RATE_LIMITED"},
			{domain.ErrInternal("oops", nil), 500, "INTERNAL_ERROR"},
		}

		for _, tt := range tests {
			t.Run(tt.wantCode, func(t *testing.T) {
				w := httptest.NewRecorder()
				RespondError(w, tt.err)
				assert.Equal(t, tt.wantStatus, w.Code)

				var body map[string]string
				require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
				assert.Equal(t, tt.wantCode, body["code"])
			})
		}
	})

	t.Run("wrapped AppError still maps", func(t *testing.T) {
		w := httptest.NewRecorder()
		RespondError(w, fmt.Errorf("placing slip: %w", domain.ErrRateLimited("3/1m")))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})

	t.Run("generic error returns 500", func(t *testing.T) {
		w := httptest.NewRecorder()
		RespondError(w, assert.AnError)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

// --- Router ---

type fakeCycles struct {
	current *domain.Cycle
	slip    *domain.Slip
}

func (f *fakeCycles) GetCycle(_ context.Context, id int64) (*domain.Cycle, error) {
	if f.current != nil && f.current.ID == id {
		return f.current, nil
	}
	return nil, nil
}
func (f *fakeCycles) GetCurrentCycle(context.Context) (*domain.Cycle, error) { return f.current, nil }
func (f *fakeCycles) GetSlip(context.Context, int64) (*domain.Slip, error)  { return f.slip, nil }
func (f *fakeCycles) ListCycleMatches(context.Context, int64) ([]domain.CycleMatch, error) {
	return nil, nil
}
func (f *fakeCycles) ListAlertsSince(context.Context, time.Time) ([]domain.Alert, error) {
	return nil, nil
}

type fakeSlips struct {
	placed   *domain.Slip
	placeErr error
}

func (f *fakeSlips) PlaceSlip(context.Context, string, int64, []slips.PredictionInput) (*domain.Slip, error) {
	return f.placed, f.placeErr
}
func (f *fakeSlips) ClaimPrize(context.Context, int64, int64, string) (*domain.PrizeClaim, error) {
	return &domain.PrizeClaim{Claimed: true}, nil
}
func (f *fakeSlips) Leaderboard(context.Context, int64) ([]domain.PrizeClaim, error) {
	return []domain.PrizeClaim{{Rank: 1}}, nil
}

type fakeJobs struct{ triggered []string }

func (f *fakeJobs) TriggerMatchSelection()        { f.triggered = append(f.triggered, "matchSelect") }
func (f *fakeJobs) TriggerNewCycle()              { f.triggered = append(f.triggered, "newCycle") }
func (f *fakeJobs) TriggerResolution()            { f.triggered = append(f.triggered, "resolve") }
func (f *fakeJobs) TriggerCleanup()               { f.triggered = append(f.triggered, "cleanup") }
func (f *fakeJobs) Status() []scheduler.JobStatus { return nil }

type fakeChain struct{ err error }

func (f *fakeChain) Ping(context.Context) error { return f.err }

type fakeMonitor struct{}

func (fakeMonitor) RunAll(context.Context) []domain.Alert { return nil }

func testRouter(cycles *fakeCycles, s *fakeSlips, jobs *fakeJobs) http.Handler {
	return NewRouter(Deps{
		Cycles:   cycles,
		Slips:    s,
		Jobs:     jobs,
		Chain:    &fakeChain{},
		Monitor:  fakeMonitor{},
		Registry: prometheus.NewRegistry(),
		Logger:   slog.Default(),
	})
}

func TestGetCurrentCycle(t *testing.T) {
	cycles := &fakeCycles{current: &domain.Cycle{ID: 7, GameDate: "2026-01-10"}}
	router := testRouter(cycles, &fakeSlips{}, &fakeJobs{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cycles/current", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var got domain.Cycle
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, int64(7), got.ID)
}

func TestGetCycleNotFound(t *testing.T) {
	router := testRouter(&fakeCycles{}, &fakeSlips{}, &fakeJobs{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cycles/99", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetCycleBadID(t *testing.T) {
	router := testRouter(&fakeCycles{}, &fakeSlips{}, &fakeJobs{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cycles/abc", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestPlaceSlipEndpoint(t *testing.T) {
	s := &fakeSlips{placed: &domain.Slip{ID: 3, CycleID: 7}}
	router := testRouter(&fakeCycles{}, s, &fakeJobs{})

	body, _ := json.Marshal(map[string]any{
		"player":      "0x1111111111111111111111111111111111111111",
		"predictions": []slips.PredictionInput{},
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/slips", bytes.NewReader(body)))

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestPlaceSlipErrorPropagates(t *testing.T) {
	s := &fakeSlips{placeErr: domain.ErrSlipClosedForBetting(7)}
	router := testRouter(&fakeCycles{}, s, &fakeJobs{})

	body := []byte(`{"player":"0x1111111111111111111111111111111111111111","predictions":[]}`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/slips", bytes.NewReader(body)))

	assert.Equal(t, http.StatusConflict, w.Code)
	var got map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, "SLIP_CLOSED_FOR_BETTING", got["code"])
}

func TestTriggerEndpoints(t *testing.T) {
	jobs := &fakeJobs{}
	router := testRouter(&fakeCycles{}, &fakeSlips{}, jobs)

	for _, path := range []string{"/trigger/select", "/trigger/cycle", "/trigger/resolve", "/trigger/cleanup"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusAccepted, w.Code, path)
	}
	assert.Equal(t, []string{"matchSelect", "newCycle", "resolve", "cleanup"}, jobs.triggered)
}

func TestRequestIDPropagates(t *testing.T) {
	router := testRouter(&fakeCycles{current: &domain.Cycle{ID: 1}}, &fakeSlips{}, &fakeJobs{})

	req := httptest.NewRequest(http.MethodGet, "/cycles/current", nil)
	req.Header.Set("X-Request-ID", "test-rid")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "test-rid", w.Header().Get("X-Request-ID"))
}
