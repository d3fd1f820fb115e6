package slips

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddyssey/engine/internal/domain"
	"github.com/oddyssey/engine/internal/guard"
	"github.com/oddyssey/engine/internal/repository"
)

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
	carol = "0x3333333333333333333333333333333333333333"
)

type fakeStore struct {
	cycles    map[int64]*domain.Cycle
	slips     map[int64]*domain.Slip
	claims    map[string]*domain.PrizeClaim
	nextSlip  int64
	ranked    []repository.RankedSlip
	evalDone  []int64
	settleErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		cycles:   map[int64]*domain.Cycle{},
		slips:    map[int64]*domain.Slip{},
		claims:   map[string]*domain.PrizeClaim{},
		nextSlip: 1,
	}
}

func claimKey(cycleID, slipID int64, player string) string {
	return fmt.Sprintf("%d:%d:%s", cycleID, slipID, common.HexToAddress(player).Hex())
}

func (f *fakeStore) GetCurrentCycle(context.Context) (*domain.Cycle, error) {
	var latest *domain.Cycle
	for _, c := range f.cycles {
		if c.Status == domain.CycleOrphaned {
			continue
		}
		if latest == nil || c.ID > latest.ID {
			latest = c
		}
	}
	return latest, nil
}

func (f *fakeStore) GetCycle(_ context.Context, id int64) (*domain.Cycle, error) {
	return f.cycles[id], nil
}

func (f *fakeStore) InsertSlip(_ context.Context, slip *domain.Slip, entryFee int64) (int64, error) {
	slip.ID = f.nextSlip
	slip.PlacedAt = time.Now().UTC()
	f.nextSlip++
	cp := *slip
	f.slips[slip.ID] = &cp
	if c, ok := f.cycles[slip.CycleID]; ok {
		c.SlipCount++
		c.PrizePool += entryFee
	}
	return slip.ID, nil
}

func (f *fakeStore) GetSlip(_ context.Context, id int64) (*domain.Slip, error) {
	return f.slips[id], nil
}

func (f *fakeStore) ListSlipsByCycle(_ context.Context, cycleID int64) ([]domain.Slip, error) {
	var out []domain.Slip
	for id := int64(1); id < f.nextSlip; id++ {
		if s, ok := f.slips[id]; ok && s.CycleID == cycleID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) ListUnevaluatedByCycle(ctx context.Context, cycleID int64) ([]domain.Slip, error) {
	all, _ := f.ListSlipsByCycle(ctx, cycleID)
	var out []domain.Slip
	for _, s := range all {
		if !s.IsEvaluated {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveEvaluation(_ context.Context, slipID int64, correct int, score int64) error {
	s := f.slips[slipID]
	if !s.IsEvaluated {
		s.IsEvaluated = true
		s.CorrectCount = correct
		s.FinalScore = score
	}
	return nil
}

func (f *fakeStore) SaveRanking(_ context.Context, cycleID int64, ranked []repository.RankedSlip) error {
	f.ranked = ranked
	for _, s := range f.slips {
		if s.CycleID == cycleID {
			s.LeaderboardRank = nil
		}
	}
	for key, c := range f.claims {
		if c.CycleID == cycleID && !c.Claimed {
			delete(f.claims, key)
		}
	}
	for _, r := range ranked {
		rank := r.Rank
		f.slips[r.SlipID].LeaderboardRank = &rank
		if r.Prize > 0 {
			f.claims[claimKey(cycleID, r.SlipID, r.Player)] = &domain.PrizeClaim{
				CycleID: cycleID, SlipID: r.SlipID, Player: r.Player,
				Rank: r.Rank, Amount: r.Prize,
			}
		}
	}
	return nil
}

func (f *fakeStore) MarkEvaluationComplete(_ context.Context, id int64) error {
	f.evalDone = append(f.evalDone, id)
	if c, ok := f.cycles[id]; ok {
		c.EvaluationComplete = true
	}
	return nil
}

func (f *fakeStore) Leaderboard(_ context.Context, cycleID int64) ([]domain.PrizeClaim, error) {
	var out []domain.PrizeClaim
	for rank := 1; rank <= domain.PrizeRankCount; rank++ {
		for _, c := range f.claims {
			if c.CycleID == cycleID && c.Rank == rank {
				out = append(out, *c)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) GetClaim(_ context.Context, cycleID, slipID int64, player string) (*domain.PrizeClaim, error) {
	return f.claims[claimKey(cycleID, slipID, player)], nil
}

func (f *fakeStore) SettleClaim(_ context.Context, claim *domain.PrizeClaim, txHash string, at time.Time) (bool, error) {
	if f.settleErr != nil {
		return false, f.settleErr
	}
	stored := f.claims[claimKey(claim.CycleID, claim.SlipID, claim.Player)]
	if stored == nil || stored.Claimed {
		return false, nil
	}
	stored.Claimed = true
	stored.ClaimTxHash = &txHash
	stored.ClaimedAt = &at
	claim.Claimed = true
	claim.ClaimTxHash = &txHash
	claim.ClaimedAt = &at
	if s, ok := f.slips[claim.SlipID]; ok {
		s.PrizeClaimed = true
	}
	return true, nil
}

type fakeGateway struct {
	matches  []domain.CycleMatch
	placeErr error
	placed   int
}

func (g *fakeGateway) GetCycleMatches(context.Context, int64) ([]domain.CycleMatch, error) {
	return g.matches, nil
}

func (g *fakeGateway) PlaceSlip(context.Context, common.Address, []domain.Prediction, *big.Int) (string, error) {
	if g.placeErr != nil {
		return "", g.placeErr
	}
	g.placed++
	return "0xslip", nil
}

func (g *fakeGateway) ClaimPrize(context.Context, int64) (string, error) {
	return "0xclaim", nil
}

func openCycle(id int64, firstKickoff time.Time) (*domain.Cycle, []domain.CycleMatch) {
	snap := domain.MatchesSnapshot{Version: domain.SnapshotVersion}
	var matches []domain.CycleMatch
	for i := 0; i < 10; i++ {
		fid := int64(100 + i)
		kick := firstKickoff.Add(time.Duration(i) * time.Hour).Unix()
		odds := domain.OddsQuote{Home: 2000, Draw: 3200, Away: 3500, Over: 1850, Under: 1950}
		snap.Matches = append(snap.Matches, domain.SnapshotMatch{
			ID: fid, StartTime: kick,
			OddsHome: odds.Home, OddsDraw: odds.Draw, OddsAway: odds.Away,
			OddsOver: odds.Over, OddsUnder: odds.Under,
		})
		matches = append(matches, domain.CycleMatch{
			CycleID: id, FixtureID: fid, DisplayOrder: i + 1, KickoffUnix: kick, Odds: odds,
		})
	}
	return &domain.Cycle{ID: id, Status: domain.CyclePublished, Snapshot: snap}, matches
}

func homeInputs() []PredictionInput {
	out := make([]PredictionInput, 0, 10)
	for i := 0; i < 10; i++ {
		out = append(out, PredictionInput{
			FixtureID: int64(100 + i), BetType: uint8(domain.BetMoneyline),
			Selection: "1", SelectedOdd: 2000,
		})
	}
	return out
}

func newService(store *fakeStore, gw *fakeGateway) *Service {
	limiter := guard.NewRateLimiter(3, time.Minute)
	svc := New(store, gw, limiter, big.NewInt(500), slog.Default())
	svc.now = func() time.Time { return time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC) }
	return svc
}

func TestPlaceSlip_HappyPath(t *testing.T) {
	store := newFakeStore()
	cycle, matches := openCycle(1, time.Date(2026, 1, 10, 14, 0, 0, 0, time.UTC))
	store.cycles[1] = cycle
	gw := &fakeGateway{matches: matches}
	svc := newService(store, gw)

	slip, err := svc.PlaceSlip(context.Background(), alice, 0, homeInputs())
	require.NoError(t, err)

	assert.Equal(t, int64(1), slip.ID)
	assert.Equal(t, "0xslip", slip.TxHash)
	assert.Equal(t, common.HexToAddress(alice).Hex(), slip.Player)
	assert.Equal(t, 1, cycle.SlipCount)
	assert.Equal(t, int64(500), cycle.PrizePool)
}

func TestPlaceSlip_ExplicitCycleID(t *testing.T) {
	store := newFakeStore()
	cycle, matches := openCycle(7, time.Date(2026, 1, 10, 14, 0, 0, 0, time.UTC))
	store.cycles[7] = cycle
	svc := newService(store, &fakeGateway{matches: matches})

	// Naming the open cycle is accepted.
	slip, err := svc.PlaceSlip(context.Background(), alice, 7, homeInputs())
	require.NoError(t, err)
	assert.Equal(t, int64(7), slip.CycleID)

	// Targeting any other cycle is rejected before touching the chain.
	_, err = svc.PlaceSlip(context.Background(), alice, 6, homeInputs())
	require.ErrorIs(t, err, domain.ErrValidationFailed(""))
}

func TestPlaceSlip_AcceptsHashedSelections(t *testing.T) {
	store := newFakeStore()
	cycle, matches := openCycle(1, time.Date(2026, 1, 10, 14, 0, 0, 0, time.UTC))
	store.cycles[1] = cycle
	svc := newService(store, &fakeGateway{matches: matches})

	inputs := homeInputs()
	homeHash := domain.Selection{Type: domain.BetMoneyline, Value: domain.SelectionHome}.Hash()
	for i := range inputs {
		inputs[i].Selection = homeHash.Hex()
	}

	slip, err := svc.PlaceSlip(context.Background(), alice, 0, inputs)
	require.NoError(t, err)
	for _, p := range slip.Predictions {
		assert.Equal(t, domain.SelectionHome, p.Selection.Value)
	}
}

func TestPlaceSlip_RejectsStaleOdds(t *testing.T) {
	store := newFakeStore()
	cycle, matches := openCycle(1, time.Date(2026, 1, 10, 14, 0, 0, 0, time.UTC))
	store.cycles[1] = cycle
	svc := newService(store, &fakeGateway{matches: matches})

	inputs := homeInputs()
	inputs[4].SelectedOdd = 2100 // odds moved since the user loaded the cycle

	_, err := svc.PlaceSlip(context.Background(), alice, 0, inputs)
	require.ErrorIs(t, err, domain.ErrPredictionMismatch(""))
}

func TestPlaceSlip_RejectsForeignFixture(t *testing.T) {
	store := newFakeStore()
	cycle, matches := openCycle(1, time.Date(2026, 1, 10, 14, 0, 0, 0, time.UTC))
	store.cycles[1] = cycle
	svc := newService(store, &fakeGateway{matches: matches})

	inputs := homeInputs()
	inputs[9].FixtureID = 9999

	_, err := svc.PlaceSlip(context.Background(), alice, 0, inputs)
	require.ErrorIs(t, err, domain.ErrPredictionMismatch(""))
}

func TestPlaceSlip_RejectsAfterFirstKickoff(t *testing.T) {
	store := newFakeStore()
	// First kickoff before the fixed test clock of 08:00.
	cycle, matches := openCycle(1, time.Date(2026, 1, 10, 7, 0, 0, 0, time.UTC))
	store.cycles[1] = cycle
	svc := newService(store, &fakeGateway{matches: matches})

	_, err := svc.PlaceSlip(context.Background(), alice, 0, homeInputs())
	require.ErrorIs(t, err, domain.ErrSlipClosedForBetting(0))
}

func TestPlaceSlip_RateLimited(t *testing.T) {
	store := newFakeStore()
	cycle, matches := openCycle(1, time.Date(2026, 1, 10, 14, 0, 0, 0, time.UTC))
	store.cycles[1] = cycle
	gw := &fakeGateway{matches: matches}
	svc := newService(store, gw)

	for i := 0; i < 3; i++ {
		_, err := svc.PlaceSlip(context.Background(), alice, 0, homeInputs())
		require.NoError(t, err)
	}
	_, err := svc.PlaceSlip(context.Background(), alice, 0, homeInputs())
	require.ErrorIs(t, err, domain.ErrRateLimited(""))

	// Another player is unaffected.
	_, err = svc.PlaceSlip(context.Background(), bob, 0, homeInputs())
	require.NoError(t, err)
}

// resolvedCycleWith seeds a resolved cycle where every fixture settled home
// win and under, then places slips via direct store writes.
func resolvedCycleWith(store *fakeStore, pool int64) *domain.Cycle {
	cycle, _ := openCycle(1, time.Date(2026, 1, 9, 14, 0, 0, 0, time.UTC))
	cycle.Status = domain.CycleResolved
	cycle.PrizePool = pool
	for i := range cycle.Snapshot.Matches {
		cycle.Snapshot.Matches[i].Result = domain.MatchResult{
			Moneyline: domain.MoneylineHome, OverUnder: domain.OverUnderUnder,
		}
	}
	store.cycles[1] = cycle
	return cycle
}

func seedSlip(store *fakeStore, player string, placedAt time.Time, correctPicks int) *domain.Slip {
	preds := make([]domain.Prediction, 0, 10)
	for i := 0; i < 10; i++ {
		value := domain.SelectionHome
		if i >= correctPicks {
			value = domain.SelectionAway // settles wrong, every match is a home win
		}
		preds = append(preds, domain.Prediction{
			FixtureID:   int64(100 + i),
			Selection:   domain.Selection{Type: domain.BetMoneyline, Value: value},
			SelectedOdd: 2000,
		})
	}
	slip := &domain.Slip{
		ID: store.nextSlip, CycleID: 1,
		Player:      common.HexToAddress(player).Hex(),
		PlacedAt:    placedAt,
		Predictions: preds,
	}
	store.slips[slip.ID] = slip
	store.nextSlip++
	return slip
}

func TestEvaluateCycle_RanksAndAllocatesPrizes(t *testing.T) {
	store := newFakeStore()
	cycle := resolvedCycleWith(store, 10000)

	base := time.Date(2026, 1, 9, 10, 0, 0, 0, time.UTC)
	seedSlip(store, alice, base, 10)                  // rank 1
	seedSlip(store, bob, base.Add(time.Minute), 8)    // rank 2
	seedSlip(store, carol, base.Add(2*time.Minute), 7) // rank 3
	seedSlip(store, alice, base.Add(3*time.Minute), 6) // below threshold

	svc := newService(store, &fakeGateway{})
	require.NoError(t, svc.EvaluateCycle(context.Background(), cycle.ID))

	require.Len(t, store.ranked, 3)
	assert.Equal(t, int64(1), store.ranked[0].SlipID)
	assert.Equal(t, int64(2), store.ranked[1].SlipID)
	assert.Equal(t, int64(3), store.ranked[2].SlipID)

	// 40/30/20 of the pool for ranks 1-3.
	assert.Equal(t, int64(4000), store.ranked[0].Prize)
	assert.Equal(t, int64(3000), store.ranked[1].Prize)
	assert.Equal(t, int64(2000), store.ranked[2].Prize)

	assert.True(t, store.cycles[1].EvaluationComplete)
	assert.Nil(t, store.slips[4].LeaderboardRank)
}

func TestEvaluateCycle_TieBreaksByPlacementTime(t *testing.T) {
	store := newFakeStore()
	cycle := resolvedCycleWith(store, 1000)

	base := time.Date(2026, 1, 9, 10, 0, 0, 0, time.UTC)
	late := seedSlip(store, bob, base.Add(time.Hour), 8)
	early := seedSlip(store, alice, base, 8) // identical picks, placed earlier

	svc := newService(store, &fakeGateway{})
	require.NoError(t, svc.EvaluateCycle(context.Background(), cycle.ID))

	require.Len(t, store.ranked, 2)
	assert.Equal(t, early.ID, store.ranked[0].SlipID)
	assert.Equal(t, late.ID, store.ranked[1].SlipID)
}

func TestEvaluateCycle_NoQualifiersYieldsEmptyRanking(t *testing.T) {
	store := newFakeStore()
	cycle := resolvedCycleWith(store, 5000)

	base := time.Date(2026, 1, 9, 10, 0, 0, 0, time.UTC)
	seedSlip(store, alice, base, 6)
	seedSlip(store, bob, base, 5)

	svc := newService(store, &fakeGateway{})
	require.NoError(t, svc.EvaluateCycle(context.Background(), cycle.ID))

	assert.Empty(t, store.ranked)
	assert.True(t, store.cycles[1].EvaluationComplete)
}

func TestEvaluateCycle_Idempotent(t *testing.T) {
	store := newFakeStore()
	cycle := resolvedCycleWith(store, 10000)
	seedSlip(store, alice, time.Date(2026, 1, 9, 10, 0, 0, 0, time.UTC), 10)

	svc := newService(store, &fakeGateway{})
	require.NoError(t, svc.EvaluateCycle(context.Background(), cycle.ID))
	firstScore := store.slips[1].FinalScore

	require.NoError(t, svc.EvaluateCycle(context.Background(), cycle.ID))
	assert.Equal(t, firstScore, store.slips[1].FinalScore)
	require.Len(t, store.ranked, 1)
}

func TestEvaluateCycle_RerankDropsStaleWinners(t *testing.T) {
	store := newFakeStore()
	cycle := resolvedCycleWith(store, 10000)

	base := time.Date(2026, 1, 9, 10, 0, 0, 0, time.UTC)
	seedSlip(store, alice, base, 10)
	seedSlip(store, bob, base.Add(time.Minute), 9)
	seedSlip(store, carol, base.Add(2*time.Minute), 8)
	seedSlip(store, alice, base.Add(3*time.Minute), 7)
	edged := seedSlip(store, bob, base.Add(4*time.Minute), 7) // rank 5 for now

	svc := newService(store, &fakeGateway{})
	require.NoError(t, svc.EvaluateCycle(context.Background(), cycle.ID))

	board, err := svc.Leaderboard(context.Background(), cycle.ID)
	require.NoError(t, err)
	require.Len(t, board, 5)

	// A perfect slip that missed the first pass gets evaluated and the cycle
	// re-ranked; the edged-out winner's unclaimed prize row must go with it.
	seedSlip(store, carol, base.Add(-time.Hour), 10)
	require.NoError(t, svc.EvaluateCycle(context.Background(), cycle.ID))

	board, err = svc.Leaderboard(context.Background(), cycle.ID)
	require.NoError(t, err)
	require.Len(t, board, 5)
	for _, entry := range board {
		assert.NotEqual(t, edged.ID, entry.SlipID)
	}
	assert.Nil(t, store.slips[edged.ID].LeaderboardRank)
}

func TestEvaluateCycle_RejectsUnresolvedCycle(t *testing.T) {
	store := newFakeStore()
	cycle, _ := openCycle(1, time.Date(2026, 1, 10, 14, 0, 0, 0, time.UTC))
	store.cycles[1] = cycle

	svc := newService(store, &fakeGateway{})
	err := svc.EvaluateCycle(context.Background(), 1)
	require.ErrorIs(t, err, domain.ErrValidationFailed(""))
}

func TestClaimPrize_HappyThenAlreadyClaimed(t *testing.T) {
	store := newFakeStore()
	cycle := resolvedCycleWith(store, 10000)
	seedSlip(store, alice, time.Date(2026, 1, 9, 10, 0, 0, 0, time.UTC), 10)

	svc := newService(store, &fakeGateway{})
	require.NoError(t, svc.EvaluateCycle(context.Background(), cycle.ID))

	claim, err := svc.ClaimPrize(context.Background(), 1, 1, alice)
	require.NoError(t, err)
	assert.True(t, claim.Claimed)
	assert.Equal(t, int64(4000), claim.Amount)
	require.NotNil(t, claim.ClaimTxHash)
	assert.Equal(t, "0xclaim", *claim.ClaimTxHash)

	_, err = svc.ClaimPrize(context.Background(), 1, 1, alice)
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed(0, 0))
}

func TestClaimPrize_WrongPlayer(t *testing.T) {
	store := newFakeStore()
	cycle := resolvedCycleWith(store, 10000)
	seedSlip(store, alice, time.Date(2026, 1, 9, 10, 0, 0, 0, time.UTC), 10)

	svc := newService(store, &fakeGateway{})
	require.NoError(t, svc.EvaluateCycle(context.Background(), cycle.ID))

	_, err := svc.ClaimPrize(context.Background(), 1, 1, bob)
	require.ErrorIs(t, err, domain.ErrUnauthorizedClaim(""))
}

func TestClaimPrize_NotEligible(t *testing.T) {
	store := newFakeStore()
	cycle := resolvedCycleWith(store, 10000)
	seedSlip(store, alice, time.Date(2026, 1, 9, 10, 0, 0, 0, time.UTC), 5)

	svc := newService(store, &fakeGateway{})
	require.NoError(t, svc.EvaluateCycle(context.Background(), cycle.ID))

	_, err := svc.ClaimPrize(context.Background(), 1, 1, alice)
	require.ErrorIs(t, err, domain.ErrNotEligibleForPrize(0))
}
