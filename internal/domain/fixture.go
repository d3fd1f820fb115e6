package domain

import "time"

// FixtureStatus is the lifecycle state of an upstream fixture.
type FixtureStatus string

const (
	FixtureNotStarted FixtureStatus = "not_started"
	FixtureInProgress FixtureStatus = "in_progress"
	FixtureFinished   FixtureStatus = "finished"
	FixtureOther      FixtureStatus = "other"
)

// Fixture is the read-only view of an upstream football fixture.
type Fixture struct {
	ID        int64         `json:"id"`
	HomeTeam  string        `json:"home_team"`
	AwayTeam  string        `json:"away_team"`
	League    string        `json:"league"`
	Country   string        `json:"country"`
	KickoffAt time.Time     `json:"kickoff_at"`
	Status    FixtureStatus `json:"status"`
	HomeScore *int          `json:"home_score,omitempty"`
	AwayScore *int          `json:"away_score,omitempty"`
}

// Score is a final result pair for a finished fixture.
type Score struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

// Total returns combined goals.
func (s Score) Total() int { return s.Home + s.Away }

// OddsQuote holds the five markets for a fixture in canonical scaled-integer
// form (decimal odds x1000).
type OddsQuote struct {
	Home  uint32 `json:"home"`
	Draw  uint32 `json:"draw"`
	Away  uint32 `json:"away"`
	Over  uint32 `json:"over"`
	Under uint32 `json:"under"`
}

// Complete reports whether all five markets carry a usable price.
func (q OddsQuote) Complete() bool {
	return q.Home > OddsScale && q.Draw > OddsScale && q.Away > OddsScale &&
		q.Over > OddsScale && q.Under > OddsScale
}

// Placeholder default odds written by the upstream sync when a bookmaker has
// not priced the fixture yet. A quote matching all five exactly is mock data.
var mockQuote = OddsQuote{Home: 1500, Draw: 3000, Away: 2500, Over: 1800, Under: 2000}

// IsMock reports whether the quote equals the known upstream placeholder set.
func (q OddsQuote) IsMock() bool { return q == mockQuote }

// Candidate pairs a fixture with its odds for the selector.
type Candidate struct {
	Fixture Fixture
	Odds    OddsQuote
}
