// Package slips implements the slip pipeline: placement against the current
// cycle, post-resolution evaluation, leaderboard ranking, and prize claims.
package slips

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/oddyssey/engine/internal/domain"
	"github.com/oddyssey/engine/internal/guard"
	"github.com/oddyssey/engine/internal/repository"
)

// Store is the slice of the store the slip pipeline needs.
type Store interface {
	GetCurrentCycle(ctx context.Context) (*domain.Cycle, error)
	GetCycle(ctx context.Context, id int64) (*domain.Cycle, error)
	InsertSlip(ctx context.Context, slip *domain.Slip, entryFee int64) (int64, error)
	GetSlip(ctx context.Context, id int64) (*domain.Slip, error)
	ListSlipsByCycle(ctx context.Context, cycleID int64) ([]domain.Slip, error)
	ListUnevaluatedByCycle(ctx context.Context, cycleID int64) ([]domain.Slip, error)
	SaveEvaluation(ctx context.Context, slipID int64, correctCount int, finalScore int64) error
	SaveRanking(ctx context.Context, cycleID int64, ranked []repository.RankedSlip) error
	MarkEvaluationComplete(ctx context.Context, id int64) error
	Leaderboard(ctx context.Context, cycleID int64) ([]domain.PrizeClaim, error)
	GetClaim(ctx context.Context, cycleID, slipID int64, player string) (*domain.PrizeClaim, error)
	SettleClaim(ctx context.Context, claim *domain.PrizeClaim, txHash string, claimedAt time.Time) (bool, error)
}

// Gateway is the slice of the chain client the slip pipeline needs.
type Gateway interface {
	GetCycleMatches(ctx context.Context, cycleID int64) ([]domain.CycleMatch, error)
	PlaceSlip(ctx context.Context, player common.Address, predictions []domain.Prediction, entryFee *big.Int) (string, error)
	ClaimPrize(ctx context.Context, cycleID int64) (string, error)
}

// PredictionInput is a raw placement pick before normalization. Selection
// accepts either the canonical string form ("1", "X", "2", "Over", "Under",
// case-insensitive) or the 0x-prefixed keccak hash the contract stores.
type PredictionInput struct {
	FixtureID   int64  `json:"fixture_id"`
	BetType     uint8  `json:"bet_type"`
	Selection   string `json:"selection"`
	SelectedOdd uint32 `json:"selected_odd"`
}

// Service runs the slip pipeline.
type Service struct {
	store    Store
	gateway  Gateway
	limiter  *guard.RateLimiter
	logger   *slog.Logger
	entryFee *big.Int
	now      func() time.Time
}

// New wires the service. entryFee is the fixed per-slip fee in wei.
func New(store Store, gateway Gateway, limiter *guard.RateLimiter, entryFee *big.Int, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		gateway:  gateway,
		limiter:  limiter,
		logger:   logger,
		entryFee: entryFee,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PlaceSlip validates ten predictions against the current cycle, submits them
// on chain, and persists the slip. Predictions must reference exactly the
// cycle's ten fixtures with the odds the cycle was published at. cycleID is
// optional: zero means the current cycle, any other value must name it.
func (s *Service) PlaceSlip(ctx context.Context, player string, cycleID int64, inputs []PredictionInput) (*domain.Slip, error) {
	if !common.IsHexAddress(player) {
		return nil, domain.ErrValidationFailed(fmt.Sprintf("invalid player address %q", player))
	}
	addr := common.HexToAddress(player)
	canonical := addr.Hex()

	if res := s.limiter.Check("placeSlip:" + canonical); !res.Allowed {
		return nil, domain.ErrRateLimited(res.Reason)
	}

	cycle, err := s.store.GetCurrentCycle(ctx)
	if err != nil {
		return nil, err
	}
	if cycle == nil {
		return nil, domain.ErrNotFound("cycle", 0)
	}
	if cycleID != 0 && cycleID != cycle.ID {
		return nil, domain.ErrValidationFailed(
			fmt.Sprintf("cycle %d is not open for betting; current cycle is %d", cycleID, cycle.ID))
	}
	if cycle.ClosedForBetting(s.now()) {
		return nil, domain.ErrSlipClosedForBetting(cycle.ID)
	}

	predictions, err := normalize(inputs)
	if err != nil {
		return nil, err
	}
	if err := s.validateAgainstCycle(ctx, cycle, predictions); err != nil {
		return nil, err
	}

	txHash, err := s.gateway.PlaceSlip(ctx, addr, predictions, s.entryFee)
	if err != nil {
		return nil, err
	}

	slip := &domain.Slip{
		CycleID:     cycle.ID,
		Player:      canonical,
		Predictions: predictions,
		TxHash:      txHash,
	}
	if _, err := s.store.InsertSlip(ctx, slip, s.entryFee.Int64()); err != nil {
		return nil, err
	}
	s.logger.Info("slip placed",
		"slip_id", slip.ID, "cycle_id", cycle.ID, "player", canonical, "tx_hash", txHash)
	return slip, nil
}

// normalize converts raw inputs into canonical predictions, resolving hashed
// selections back to their pre-images.
func normalize(inputs []PredictionInput) ([]domain.Prediction, error) {
	if len(inputs) != domain.MatchesPerCycle {
		return nil, domain.ErrPredictionMismatch(
			fmt.Sprintf("slip has %d predictions, need %d", len(inputs), domain.MatchesPerCycle))
	}

	out := make([]domain.Prediction, 0, len(inputs))
	for _, in := range inputs {
		var sel domain.Selection
		var err error
		if isHashForm(in.Selection) {
			sel, err = domain.SelectionFromHash(domain.BetType(in.BetType), common.HexToHash(in.Selection))
		} else {
			sel, err = domain.ParseSelection(domain.BetType(in.BetType), in.Selection)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Prediction{
			FixtureID:   in.FixtureID,
			Selection:   sel,
			SelectedOdd: in.SelectedOdd,
		})
	}
	return out, nil
}

// isHashForm reports whether a selection string is a 0x-prefixed 32-byte hex
// value rather than a canonical name.
func isHashForm(s string) bool {
	return strings.HasPrefix(s, "0x") && len(s) == 66
}

// validateAgainstCycle checks the predictions cover exactly the cycle's
// fixtures with the published odds, re-reading the chain so a drifted
// snapshot cannot let a stale-odds slip through.
func (s *Service) validateAgainstCycle(ctx context.Context, cycle *domain.Cycle, predictions []domain.Prediction) error {
	onChain, err := s.gateway.GetCycleMatches(ctx, cycle.ID)
	if err != nil {
		return err
	}
	if len(onChain) != domain.MatchesPerCycle {
		return domain.ErrWrongMatchCount(len(onChain))
	}

	byFixture := make(map[int64]domain.CycleMatch, len(onChain))
	for _, m := range onChain {
		byFixture[m.FixtureID] = m
	}

	// The snapshot and the chain must agree on the fixture set.
	for _, sm := range cycle.Snapshot.Matches {
		if _, ok := byFixture[sm.ID]; !ok {
			return domain.ErrCycleSyncMismatch(cycle.ID, cycle.ID)
		}
	}

	seen := make(map[int64]bool, len(predictions))
	for _, p := range predictions {
		if seen[p.FixtureID] {
			return domain.ErrPredictionMismatch(
				fmt.Sprintf("fixture %d predicted twice", p.FixtureID))
		}
		seen[p.FixtureID] = true

		m, ok := byFixture[p.FixtureID]
		if !ok {
			return domain.ErrPredictionMismatch(
				fmt.Sprintf("fixture %d is not part of cycle %d", p.FixtureID, cycle.ID))
		}

		var published uint32
		switch p.Selection.Type {
		case domain.BetMoneyline:
			switch p.Selection.Value {
			case domain.SelectionHome:
				published = m.Odds.Home
			case domain.SelectionDraw:
				published = m.Odds.Draw
			case domain.SelectionAway:
				published = m.Odds.Away
			}
		case domain.BetOverUnder:
			switch p.Selection.Value {
			case domain.SelectionOver:
				published = m.Odds.Over
			case domain.SelectionUnder:
				published = m.Odds.Under
			}
		}
		if p.SelectedOdd != published {
			return domain.ErrPredictionMismatch(fmt.Sprintf(
				"fixture %d %s odd %d does not match published odd %d",
				p.FixtureID, p.Selection.Value, p.SelectedOdd, published))
		}
	}
	return nil
}

// EvaluateCycle scores every unevaluated slip of a resolved cycle, ranks the
// qualifiers, and marks evaluation complete. Idempotent: already evaluated
// slips are skipped and re-ranking overwrites prior ranks in place.
func (s *Service) EvaluateCycle(ctx context.Context, cycleID int64) error {
	cycle, err := s.store.GetCycle(ctx, cycleID)
	if err != nil {
		return err
	}
	if cycle == nil {
		return domain.ErrNotFound("cycle", cycleID)
	}
	if !cycle.Resolved() {
		return domain.ErrValidationFailed(
			fmt.Sprintf("cycle %d is not resolved, cannot evaluate", cycleID))
	}

	results := make(map[int64]domain.MatchResult, len(cycle.Snapshot.Matches))
	for _, m := range cycle.Snapshot.Matches {
		results[m.ID] = m.Result
	}

	pending, err := s.store.ListUnevaluatedByCycle(ctx, cycleID)
	if err != nil {
		return err
	}
	for _, slip := range pending {
		correct, score := domain.ScoreSlip(slip.Predictions, results)
		if err := s.store.SaveEvaluation(ctx, slip.ID, correct, score); err != nil {
			return err
		}
	}
	s.logger.Info("slips evaluated", "cycle_id", cycleID, "count", len(pending))

	if err := s.rankCycle(ctx, cycle); err != nil {
		return err
	}
	return s.store.MarkEvaluationComplete(ctx, cycleID)
}

// rankCycle orders the qualifying slips and persists the top five with their
// prize shares. Ties break by correct count, then earlier placement, then
// lower slip id.
func (s *Service) rankCycle(ctx context.Context, cycle *domain.Cycle) error {
	slips, err := s.store.ListSlipsByCycle(ctx, cycle.ID)
	if err != nil {
		return err
	}

	qualified := slips[:0:0]
	for _, slip := range slips {
		if slip.IsEvaluated && slip.CorrectCount >= domain.MinCorrectForPrize {
			qualified = append(qualified, slip)
		}
	}

	sort.SliceStable(qualified, func(i, j int) bool {
		a, b := qualified[i], qualified[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.CorrectCount != b.CorrectCount {
			return a.CorrectCount > b.CorrectCount
		}
		if !a.PlacedAt.Equal(b.PlacedAt) {
			return a.PlacedAt.Before(b.PlacedAt)
		}
		return a.ID < b.ID
	})

	if len(qualified) > domain.PrizeRankCount {
		qualified = qualified[:domain.PrizeRankCount]
	}

	ranked := make([]repository.RankedSlip, 0, len(qualified))
	for i, slip := range qualified {
		rank := i + 1
		ranked = append(ranked, repository.RankedSlip{
			SlipID: slip.ID,
			Player: slip.Player,
			Rank:   rank,
			Prize:  domain.PrizeForRank(rank, cycle.PrizePool),
		})
	}

	if err := s.store.SaveRanking(ctx, cycle.ID, ranked); err != nil {
		return err
	}
	s.logger.Info("cycle ranked", "cycle_id", cycle.ID,
		"qualified", len(ranked), "prize_pool", cycle.PrizePool)
	return nil
}

// ClaimPrize settles a ranked slip's prize: ownership and eligibility are
// checked, the claim is submitted on chain, and the settlement is recorded.
func (s *Service) ClaimPrize(ctx context.Context, cycleID, slipID int64, player string) (*domain.PrizeClaim, error) {
	if !common.IsHexAddress(player) {
		return nil, domain.ErrValidationFailed(fmt.Sprintf("invalid player address %q", player))
	}
	canonical := common.HexToAddress(player).Hex()

	slip, err := s.store.GetSlip(ctx, slipID)
	if err != nil {
		return nil, err
	}
	if slip == nil || slip.CycleID != cycleID {
		return nil, domain.ErrNotFound("slip", slipID)
	}
	if !strings.EqualFold(slip.Player, canonical) {
		return nil, domain.ErrUnauthorizedClaim(canonical)
	}

	cycle, err := s.store.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if cycle == nil {
		return nil, domain.ErrNotFound("cycle", cycleID)
	}
	if !cycle.Resolved() || !cycle.EvaluationComplete {
		return nil, domain.ErrValidationFailed(
			fmt.Sprintf("cycle %d is not fully evaluated yet", cycleID))
	}
	if slip.LeaderboardRank == nil {
		return nil, domain.ErrNotEligibleForPrize(slip.CorrectCount)
	}

	claim, err := s.store.GetClaim(ctx, cycleID, slipID, slip.Player)
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, domain.ErrNotEligibleForPrize(slip.CorrectCount)
	}
	if claim.Claimed {
		return nil, domain.ErrAlreadyClaimed(cycleID, slipID)
	}

	txHash, err := s.gateway.ClaimPrize(ctx, cycleID)
	if err != nil {
		return nil, err
	}

	settled, err := s.store.SettleClaim(ctx, claim, txHash, s.now())
	if err != nil {
		return nil, err
	}
	if !settled {
		return nil, domain.ErrAlreadyClaimed(cycleID, slipID)
	}
	s.logger.Info("prize claimed", "cycle_id", cycleID, "slip_id", slipID,
		"player", slip.Player, "amount", claim.Amount, "tx_hash", txHash)
	return claim, nil
}

// Leaderboard is the read path for a cycle's ranked results.
func (s *Service) Leaderboard(ctx context.Context, cycleID int64) ([]domain.PrizeClaim, error) {
	return s.store.Leaderboard(ctx, cycleID)
}
