package domain

import (
	"math"
	"math/big"
	"time"
)

// Prediction is one of a slip's ten picks. FixtureID must match one of the
// owning cycle's matches; SelectedOdd is captured at placement time in
// canonical scaled form.
type Prediction struct {
	FixtureID   int64     `json:"fixture_id"`
	Selection   Selection `json:"selection"`
	SelectedOdd uint32    `json:"selected_odd"`
}

// Slip is a player's set of ten predictions committed to a single cycle.
// Immutable after evaluation except for PrizeClaimed.
type Slip struct {
	ID              int64        `json:"slip_id"`
	CycleID         int64        `json:"cycle_id"`
	Player          string       `json:"player"` // checksummed hex address
	PlacedAt        time.Time    `json:"placed_at"`
	Predictions     []Prediction `json:"predictions"`
	IsEvaluated     bool         `json:"is_evaluated"`
	CorrectCount    int          `json:"correct_count"`
	FinalScore      int64        `json:"final_score"`
	LeaderboardRank *int         `json:"leaderboard_rank,omitempty"`
	PrizeClaimed    bool         `json:"prize_claimed"`
	TxHash          string       `json:"tx_hash"`
}

// ScoreBase is the evaluation starting score. Each correct pick multiplies
// by its scaled odd and truncates back down by the scale.
const ScoreBase = 1000

// ScoreSlip computes (correctCount, finalScore) for a slip against the
// resolved outcomes keyed by fixture id. A slip with no correct picks scores
// zero, not the base. Ten correct picks at the odds ceiling exceed int64, so
// the product is carried in a big.Int and saturates at MaxInt64.
func ScoreSlip(predictions []Prediction, results map[int64]MatchResult) (int, int64) {
	correct := 0
	score := big.NewInt(ScoreBase)
	scale := big.NewInt(OddsScale)
	for _, p := range predictions {
		r, ok := results[p.FixtureID]
		if !ok {
			continue
		}
		if p.Selection.Matches(r) {
			correct++
			score.Mul(score, big.NewInt(int64(p.SelectedOdd)))
			score.Quo(score, scale)
		}
	}
	if correct == 0 {
		return 0, 0
	}
	if !score.IsInt64() {
		return correct, math.MaxInt64
	}
	return correct, score.Int64()
}

// MinCorrectForPrize is the qualification floor for the leaderboard.
const MinCorrectForPrize = 7

// PrizeRankCount is how many ranked slips share the pool.
const PrizeRankCount = 5

// PrizePercents is the pool split by rank (index 0 = rank 1).
var PrizePercents = [PrizeRankCount]int64{40, 30, 20, 5, 5}

// PrizeForRank returns the prize amount for a 1-based rank out of the given
// pool, or zero for unranked slips.
func PrizeForRank(rank int, pool int64) int64 {
	if rank < 1 || rank > PrizeRankCount {
		return 0
	}
	return pool * PrizePercents[rank-1] / 100
}

// PrizeClaim records a settled prize for (cycle, slip, player).
type PrizeClaim struct {
	CycleID     int64      `json:"cycle_id"`
	SlipID      int64      `json:"slip_id"`
	Player      string     `json:"player"`
	Rank        int        `json:"rank"`
	Amount      int64      `json:"amount"`
	Claimed     bool       `json:"claimed"`
	ClaimTxHash *string    `json:"claim_tx_hash,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
}
