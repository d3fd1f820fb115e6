package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MatchesPerCycle is fixed by the contract: every cycle holds exactly ten
// fixtures.
const MatchesPerCycle = 10

// CycleStatus tracks the lifecycle state machine.
type CycleStatus string

const (
	// CycleCreated: persisted in the store, not yet on chain.
	CycleCreated CycleStatus = "created"
	// CyclePublished: startDailyCycle confirmed on chain.
	CyclePublished CycleStatus = "published"
	// CycleResolved: results submitted on chain.
	CycleResolved CycleStatus = "resolved"
	// CycleOrphaned: chain submission failed terminally; kept for forensics,
	// never resolved or served as the current cycle.
	CycleOrphaned CycleStatus = "orphaned"
)

// MoneylineResult is the resolved 1X2 outcome of a match.
type MoneylineResult uint8

const (
	MoneylineUnset MoneylineResult = iota
	MoneylineHome
	MoneylineDraw
	MoneylineAway
)

// OverUnderResult is the resolved totals outcome of a match.
type OverUnderResult uint8

const (
	OverUnderUnset OverUnderResult = iota
	OverUnderOver
	OverUnderUnder
)

// MatchResult pairs both market outcomes. Both stay Unset until the cycle is
// resolved.
type MatchResult struct {
	Moneyline MoneylineResult `json:"moneyline"`
	OverUnder OverUnderResult `json:"overUnder"`
}

// OutcomeFromScore derives the canonical outcomes of a finished fixture.
// The totals line is 2.5, so any combined score of three or more settles Over.
func OutcomeFromScore(s Score) MatchResult {
	r := MatchResult{}
	switch {
	case s.Home > s.Away:
		r.Moneyline = MoneylineHome
	case s.Home < s.Away:
		r.Moneyline = MoneylineAway
	default:
		r.Moneyline = MoneylineDraw
	}
	if s.Total() > 2 {
		r.OverUnder = OverUnderOver
	} else {
		r.OverUnder = OverUnderUnder
	}
	return r
}

// Cycle is the dated container over which slips are placed and scored.
type Cycle struct {
	ID                 int64
	GameDate           string // UTC date, YYYY-MM-DD
	CreatedAt          time.Time
	StartsAt           time.Time
	EndsAt             time.Time
	Status             CycleStatus
	Snapshot           MatchesSnapshot
	CreationTxHash     *string
	ResolutionTxHash   *string
	ResolvedAt         *time.Time
	EvaluationComplete bool
	SlipCount          int
	PrizePool          int64
	RolloverAmount     int64
	NeedsSyncRepair    bool
	UpdatedAt          time.Time
}

// Resolved reports whether results have been submitted.
func (c *Cycle) Resolved() bool { return c.Status == CycleResolved }

// ClosedForBetting reports whether slips may still be placed: betting closes
// at the first kickoff or at resolution, whichever comes first.
func (c *Cycle) ClosedForBetting(now time.Time) bool {
	if c.Status == CycleResolved || c.Status == CycleOrphaned {
		return true
	}
	first := c.Snapshot.FirstKickoff()
	return !first.IsZero() && !now.Before(first)
}

// CycleMatch is one of the ten per-cycle match rows.
type CycleMatch struct {
	CycleID      int64       `json:"cycle_id"`
	FixtureID    int64       `json:"fixture_id"`
	DisplayOrder int         `json:"display_order"`
	KickoffUnix  int64       `json:"kickoff_unix"`
	Odds         OddsQuote   `json:"odds"`
	Result       MatchResult `json:"result"`
}

// SnapshotVersion is the canonical snapshot shape version. Rows without a
// version field are legacy and must pass through RepairSnapshot.
const SnapshotVersion = 1

// SnapshotMatch is the canonical per-match record inside a cycle snapshot.
// startTime is always an integer epoch and odds are always scaled integers.
type SnapshotMatch struct {
	ID        int64       `json:"id"`
	StartTime int64       `json:"startTime"`
	OddsHome  uint32      `json:"oddsHome"`
	OddsDraw  uint32      `json:"oddsDraw"`
	OddsAway  uint32      `json:"oddsAway"`
	OddsOver  uint32      `json:"oddsOver"`
	OddsUnder uint32      `json:"oddsUnder"`
	Result    MatchResult `json:"result"`
}

// MatchesSnapshot is the immutable matches record stored alongside a cycle.
type MatchesSnapshot struct {
	Version int             `json:"version"`
	Matches []SnapshotMatch `json:"matches"`
}

// FirstKickoff returns the earliest start time in the snapshot, or the zero
// time for an empty snapshot.
func (s MatchesSnapshot) FirstKickoff() time.Time {
	var min int64
	for _, m := range s.Matches {
		if min == 0 || m.StartTime < min {
			min = m.StartTime
		}
	}
	if min == 0 {
		return time.Time{}
	}
	return time.Unix(min, 0).UTC()
}

// LastKickoff returns the latest start time in the snapshot.
func (s MatchesSnapshot) LastKickoff() time.Time {
	var max int64
	for _, m := range s.Matches {
		if m.StartTime > max {
			max = m.StartTime
		}
	}
	if max == 0 {
		return time.Time{}
	}
	return time.Unix(max, 0).UTC()
}

// FixtureIDs returns the snapshot's fixture ids in display order.
func (s MatchesSnapshot) FixtureIDs() []int64 {
	ids := make([]int64, 0, len(s.Matches))
	for _, m := range s.Matches {
		ids = append(ids, m.ID)
	}
	return ids
}

// Validate enforces the cycle snapshot invariants: exactly ten matches with
// distinct fixture ids.
func (s MatchesSnapshot) Validate() error {
	if len(s.Matches) != MatchesPerCycle {
		return ErrWrongMatchCount(len(s.Matches))
	}
	seen := make(map[int64]bool, MatchesPerCycle)
	for _, m := range s.Matches {
		if seen[m.ID] {
			return ErrDuplicateFixtureInCycle(m.ID)
		}
		seen[m.ID] = true
	}
	return nil
}

// legacySnapshotMatch tolerates the historical mixed-type rows: startTime as
// an ISO string or numeric string, odds as decimal strings or floats.
type legacySnapshotMatch struct {
	ID        json.Number     `json:"id"`
	StartTime json.RawMessage `json:"startTime"`
	OddsHome  json.RawMessage `json:"oddsHome"`
	OddsDraw  json.RawMessage `json:"oddsDraw"`
	OddsAway  json.RawMessage `json:"oddsAway"`
	OddsOver  json.RawMessage `json:"oddsOver"`
	OddsUnder json.RawMessage `json:"oddsUnder"`
	Result    *MatchResult    `json:"result"`
}

type legacySnapshot struct {
	Version int                   `json:"version"`
	Matches []legacySnapshotMatch `json:"matches"`
}

// DecodeSnapshot parses a stored snapshot, rewriting legacy rows into the
// canonical shape. The second return reports whether a rewrite happened, in
// which case the caller must persist the repaired form.
func DecodeSnapshot(raw []byte) (MatchesSnapshot, bool, error) {
	var canonical MatchesSnapshot
	if err := json.Unmarshal(raw, &canonical); err == nil && canonical.Version == SnapshotVersion {
		return canonical, false, nil
	}

	var legacy legacySnapshot
	if err := json.Unmarshal(raw, &legacy); err != nil {
		// Oldest rows stored a bare match array with no wrapper.
		if err2 := json.Unmarshal(raw, &legacy.Matches); err2 != nil {
			return MatchesSnapshot{}, false, err
		}
	}

	out := MatchesSnapshot{Version: SnapshotVersion, Matches: make([]SnapshotMatch, 0, len(legacy.Matches))}
	for _, lm := range legacy.Matches {
		id, err := lm.ID.Int64()
		if err != nil {
			return MatchesSnapshot{}, false, fmt.Errorf("snapshot match id %q: %w", lm.ID, err)
		}
		start, err := decodeEpoch(lm.StartTime)
		if err != nil {
			return MatchesSnapshot{}, false, fmt.Errorf("snapshot match %d startTime: %w", id, err)
		}
		m := SnapshotMatch{ID: id, StartTime: start}
		for _, f := range []struct {
			raw  json.RawMessage
			dst  *uint32
			name string
		}{
			{lm.OddsHome, &m.OddsHome, "oddsHome"},
			{lm.OddsDraw, &m.OddsDraw, "oddsDraw"},
			{lm.OddsAway, &m.OddsAway, "oddsAway"},
			{lm.OddsOver, &m.OddsOver, "oddsOver"},
			{lm.OddsUnder, &m.OddsUnder, "oddsUnder"},
		} {
			v, err := decodeScaledOdd(f.raw)
			if err != nil {
				return MatchesSnapshot{}, false, fmt.Errorf("snapshot match %d %s: %w", id, f.name, err)
			}
			*f.dst = v
		}
		if lm.Result != nil {
			m.Result = *lm.Result
		}
		out.Matches = append(out.Matches, m)
	}
	return out, true, nil
}

// decodeEpoch accepts an integer epoch, a numeric string, or an ISO-8601
// string and returns epoch seconds.
func decodeEpoch(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing")
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("unsupported startTime %s", raw)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("unsupported startTime %q", s)
	}
	return t.Unix(), nil
}

// decodeScaledOdd accepts a scaled integer, a decimal number, or a decimal
// string, and returns the canonical x1000 form. Legacy rows stored raw
// decimals (e.g. 2.5) next to scaled integers (2500); anything at or below
// the scale boundary is treated as a raw decimal.
func decodeScaledOdd(raw json.RawMessage) (uint32, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing")
	}
	s := strings.Trim(string(raw), `"`)
	if strings.Contains(s, ".") || strings.ContainsAny(s, "eE") {
		return ParseOdd(s)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable odd %q", s)
	}
	if n <= 50 {
		// A bare integer at or below the max decimal price is a raw decimal.
		return ParseOdd(s)
	}
	if n <= OddsScale || n > MaxMoneylineOdd {
		return 0, fmt.Errorf("scaled odd %d out of range", n)
	}
	return uint32(n), nil
}
