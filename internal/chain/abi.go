package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// contractABI covers the slice of the Oddyssey contract surface the engine
// consumes.
const contractABI = `[
  {"type":"function","name":"dailyCycleId","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getUserSlipCount","stateMutability":"view",
   "inputs":[{"name":"player","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getCycleMatches","stateMutability":"view",
   "inputs":[{"name":"cycleId","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple[10]","components":[
     {"name":"id","type":"uint64"},
     {"name":"startTime","type":"uint64"},
     {"name":"oddsHome","type":"uint32"},
     {"name":"oddsDraw","type":"uint32"},
     {"name":"oddsAway","type":"uint32"},
     {"name":"oddsOver","type":"uint32"},
     {"name":"oddsUnder","type":"uint32"},
     {"name":"result","type":"tuple","components":[
       {"name":"moneyline","type":"uint8"},
       {"name":"overUnder","type":"uint8"}]}]}]},
  {"type":"function","name":"startDailyCycle","stateMutability":"nonpayable",
   "inputs":[{"name":"matches","type":"tuple[10]","components":[
     {"name":"id","type":"uint64"},
     {"name":"startTime","type":"uint64"},
     {"name":"oddsHome","type":"uint32"},
     {"name":"oddsDraw","type":"uint32"},
     {"name":"oddsAway","type":"uint32"},
     {"name":"oddsOver","type":"uint32"},
     {"name":"oddsUnder","type":"uint32"},
     {"name":"result","type":"tuple","components":[
       {"name":"moneyline","type":"uint8"},
       {"name":"overUnder","type":"uint8"}]}]}],
   "outputs":[]},
  {"type":"function","name":"resolveDailyCycle","stateMutability":"nonpayable",
   "inputs":[{"name":"cycleId","type":"uint256"},
     {"name":"results","type":"tuple[10]","components":[
       {"name":"moneyline","type":"uint8"},
       {"name":"overUnder","type":"uint8"}]}],
   "outputs":[]},
  {"type":"function","name":"placeSlip","stateMutability":"payable",
   "inputs":[{"name":"predictions","type":"tuple[10]","components":[
     {"name":"fixtureId","type":"uint64"},
     {"name":"betType","type":"uint8"},
     {"name":"selection","type":"bytes32"},
     {"name":"selectedOdd","type":"uint32"}]}],
   "outputs":[]},
  {"type":"function","name":"claimPrize","stateMutability":"nonpayable",
   "inputs":[{"name":"cycleId","type":"uint256"}],
   "outputs":[]}
]`

// loadABI parses the embedded ABI once at client construction.
func loadABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(contractABI))
}
