package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func canonicalSnapshotJSON(t *testing.T) []byte {
	t.Helper()
	snap := MatchesSnapshot{Version: SnapshotVersion}
	for i := 0; i < MatchesPerCycle; i++ {
		snap.Matches = append(snap.Matches, SnapshotMatch{
			ID:        int64(100 + i),
			StartTime: 1_700_000_000 + int64(i)*3600,
			OddsHome:  2000, OddsDraw: 3200, OddsAway: 3500,
			OddsOver: 1850, OddsUnder: 1950,
		})
	}
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	return raw
}

func TestDecodeSnapshotCanonical(t *testing.T) {
	raw := canonicalSnapshotJSON(t)
	snap, repaired, err := DecodeSnapshot(raw)
	require.NoError(t, err)
	assert.False(t, repaired)
	assert.Len(t, snap.Matches, MatchesPerCycle)
	require.NoError(t, snap.Validate())
}

func TestDecodeSnapshotLegacyStringTypes(t *testing.T) {
	legacy := `{"matches":[{"id":42,"startTime":"2024-03-01T15:00:00Z","oddsHome":"2.5","oddsDraw":"3.0","oddsAway":2800,"oddsOver":1.8,"oddsUnder":"2000"}]}`
	snap, repaired, err := DecodeSnapshot([]byte(legacy))
	require.NoError(t, err)
	assert.True(t, repaired)
	require.Len(t, snap.Matches, 1)

	m := snap.Matches[0]
	want, _ := time.Parse(time.RFC3339, "2024-03-01T15:00:00Z")
	assert.Equal(t, want.Unix(), m.StartTime)
	assert.Equal(t, uint32(2500), m.OddsHome)
	assert.Equal(t, uint32(3000), m.OddsDraw)
	assert.Equal(t, uint32(2800), m.OddsAway)
	assert.Equal(t, uint32(1800), m.OddsOver)
	assert.Equal(t, uint32(2000), m.OddsUnder)
	assert.Equal(t, SnapshotVersion, snap.Version)
}

func TestDecodeSnapshotEpochString(t *testing.T) {
	legacy := `{"matches":[{"id":7,"startTime":"1700000000","oddsHome":2100,"oddsDraw":3100,"oddsAway":3600,"oddsOver":1900,"oddsUnder":1900}]}`
	snap, repaired, err := DecodeSnapshot([]byte(legacy))
	require.NoError(t, err)
	assert.True(t, repaired)
	assert.Equal(t, int64(1_700_000_000), snap.Matches[0].StartTime)
}

func TestDecodeSnapshotGarbage(t *testing.T) {
	_, _, err := DecodeSnapshot([]byte(`{"matches":[{"id":1,"startTime":"whenever","oddsHome":2000,"oddsDraw":3000,"oddsAway":3000,"oddsOver":1800,"oddsUnder":1900}]}`))
	require.Error(t, err)
}

func TestSnapshotValidate(t *testing.T) {
	snap := MatchesSnapshot{Version: SnapshotVersion}
	for i := 0; i < MatchesPerCycle; i++ {
		snap.Matches = append(snap.Matches, SnapshotMatch{ID: int64(i + 1), StartTime: 1})
	}
	require.NoError(t, snap.Validate())

	short := MatchesSnapshot{Matches: snap.Matches[:9]}
	assert.ErrorContains(t, short.Validate(), "WRONG_MATCH_COUNT")

	dup := snap
	dup.Matches = append([]SnapshotMatch{}, snap.Matches...)
	dup.Matches[9].ID = dup.Matches[0].ID
	assert.ErrorContains(t, dup.Validate(), "DUPLICATE_FIXTURE_IN_CYCLE")
}

func TestCycleClosedForBetting(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	c := &Cycle{
		Status: CyclePublished,
		Snapshot: MatchesSnapshot{Version: SnapshotVersion, Matches: []SnapshotMatch{
			{ID: 1, StartTime: now.Add(2 * time.Hour).Unix()},
			{ID: 2, StartTime: now.Add(30 * time.Minute).Unix()},
		}},
	}
	assert.False(t, c.ClosedForBetting(now))
	assert.True(t, c.ClosedForBetting(now.Add(30*time.Minute)))

	c.Status = CycleResolved
	assert.True(t, c.ClosedForBetting(now))
}

func TestSnapshotKickoffBounds(t *testing.T) {
	snap := MatchesSnapshot{Matches: []SnapshotMatch{
		{ID: 1, StartTime: 300}, {ID: 2, StartTime: 100}, {ID: 3, StartTime: 200},
	}}
	assert.Equal(t, int64(100), snap.FirstKickoff().Unix())
	assert.Equal(t, int64(300), snap.LastKickoff().Unix())
	assert.True(t, MatchesSnapshot{}.FirstKickoff().IsZero())
}
