package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// BetType is the market a prediction targets. Values match the contract wire
// encoding.
type BetType uint8

const (
	BetMoneyline BetType = 0
	BetOverUnder BetType = 1
)

func (b BetType) String() string {
	if b == BetOverUnder {
		return "OverUnder"
	}
	return "Moneyline"
}

// Canonical selection strings. These five strings (plus bet type) form the
// closed set of valid predictions; the contract carries their keccak hashes.
const (
	SelectionHome  = "1"
	SelectionDraw  = "X"
	SelectionAway  = "2"
	SelectionOver  = "Over"
	SelectionUnder = "Under"
)

// Selection is a tagged variant over the closed set of predictions: the
// three moneyline picks or the two totals picks.
type Selection struct {
	Type  BetType `json:"bet_type"`
	Value string  `json:"value"` // canonical string
}

var (
	moneylineSelections = map[string]bool{SelectionHome: true, SelectionDraw: true, SelectionAway: true}

	selectionByHash = map[common.Hash]Selection{}
)

func init() {
	for _, s := range []Selection{
		{BetMoneyline, SelectionHome},
		{BetMoneyline, SelectionDraw},
		{BetMoneyline, SelectionAway},
		{BetOverUnder, SelectionOver},
		{BetOverUnder, SelectionUnder},
	} {
		selectionByHash[s.Hash()] = s
	}
}

// ParseSelection normalizes user input into a canonical selection. It accepts
// the human-readable form, case-insensitive on the canonical alphabet, for
// the given bet type.
func ParseSelection(betType BetType, raw string) (Selection, error) {
	switch betType {
	case BetMoneyline:
		v := strings.ToUpper(strings.TrimSpace(raw))
		if !moneylineSelections[v] {
			return Selection{}, ErrPredictionMismatch(fmt.Sprintf("invalid moneyline selection %q", raw))
		}
		return Selection{Type: BetMoneyline, Value: v}, nil
	case BetOverUnder:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "over":
			return Selection{Type: BetOverUnder, Value: SelectionOver}, nil
		case "under":
			return Selection{Type: BetOverUnder, Value: SelectionUnder}, nil
		}
		return Selection{}, ErrPredictionMismatch(fmt.Sprintf("invalid over/under selection %q", raw))
	default:
		return Selection{}, ErrPredictionMismatch(fmt.Sprintf("unknown bet type %d", betType))
	}
}

// SelectionFromHash recovers the canonical selection from its on-chain
// keccak form. The hash must be one of the five canonical pre-images and its
// market must match the declared bet type.
func SelectionFromHash(betType BetType, h common.Hash) (Selection, error) {
	s, ok := selectionByHash[h]
	if !ok {
		return Selection{}, ErrPredictionMismatch(fmt.Sprintf("selection hash %s is not a canonical pre-image", h.Hex()))
	}
	if s.Type != betType {
		return Selection{}, ErrPredictionMismatch(fmt.Sprintf("selection %q does not belong to market %s", s.Value, betType))
	}
	return s, nil
}

// Hash returns the keccak256 of the canonical string, the form the contract
// stores.
func (s Selection) Hash() common.Hash {
	return crypto.Keccak256Hash([]byte(s.Value))
}

// Matches compares the selection against a resolved match outcome.
func (s Selection) Matches(r MatchResult) bool {
	switch s.Type {
	case BetMoneyline:
		switch s.Value {
		case SelectionHome:
			return r.Moneyline == MoneylineHome
		case SelectionDraw:
			return r.Moneyline == MoneylineDraw
		case SelectionAway:
			return r.Moneyline == MoneylineAway
		}
	case BetOverUnder:
		switch s.Value {
		case SelectionOver:
			return r.OverUnder == OverUnderOver
		case SelectionUnder:
			return r.OverUnder == OverUnderUnder
		}
	}
	return false
}
