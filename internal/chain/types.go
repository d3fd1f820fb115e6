package chain

import (
	"github.com/oddyssey/engine/internal/domain"
)

// ContractResult is the on-chain result pair. Both zero until resolution.
type ContractResult struct {
	Moneyline uint8
	OverUnder uint8
}

// ContractMatch is the fixed-position match tuple the contract stores.
// All odds are decimal x1000.
type ContractMatch struct {
	Id        uint64
	StartTime uint64
	OddsHome  uint32
	OddsDraw  uint32
	OddsAway  uint32
	OddsOver  uint32
	OddsUnder uint32
	Result    ContractResult
}

// ContractPrediction is the prediction tuple for placeSlip. Selection is the
// keccak of the canonical selection string.
type ContractPrediction struct {
	FixtureId   uint64
	BetType     uint8
	Selection   [32]byte
	SelectedOdd uint32
}

// ToContractMatch converts a store match row to the wire tuple.
func ToContractMatch(m domain.CycleMatch) ContractMatch {
	return ContractMatch{
		Id:        uint64(m.FixtureID),
		StartTime: uint64(m.KickoffUnix),
		OddsHome:  m.Odds.Home,
		OddsDraw:  m.Odds.Draw,
		OddsAway:  m.Odds.Away,
		OddsOver:  m.Odds.Over,
		OddsUnder: m.Odds.Under,
		Result: ContractResult{
			Moneyline: uint8(m.Result.Moneyline),
			OverUnder: uint8(m.Result.OverUnder),
		},
	}
}

// FromContractMatch converts the wire tuple back to the domain shape.
func FromContractMatch(m ContractMatch) domain.CycleMatch {
	return domain.CycleMatch{
		FixtureID:   int64(m.Id),
		KickoffUnix: int64(m.StartTime),
		Odds: domain.OddsQuote{
			Home:  m.OddsHome,
			Draw:  m.OddsDraw,
			Away:  m.OddsAway,
			Over:  m.OddsOver,
			Under: m.OddsUnder,
		},
		Result: domain.MatchResult{
			Moneyline: domain.MoneylineResult(m.Result.Moneyline),
			OverUnder: domain.OverUnderResult(m.Result.OverUnder),
		},
	}
}

// ToContractPrediction converts a canonical prediction to the wire tuple.
func ToContractPrediction(p domain.Prediction) ContractPrediction {
	return ContractPrediction{
		FixtureId:   uint64(p.FixtureID),
		BetType:     uint8(p.Selection.Type),
		Selection:   [32]byte(p.Selection.Hash()),
		SelectedOdd: p.SelectedOdd,
	}
}

// ToContractResult converts a resolved domain outcome to the wire pair.
func ToContractResult(r domain.MatchResult) ContractResult {
	return ContractResult{Moneyline: uint8(r.Moneyline), OverUnder: uint8(r.OverUnder)}
}
