package fixtures

import (
	"testing"

	"github.com/oddyssey/engine/internal/domain"
	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestNameExcluded(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"Premier League", false},
		{"FA Women's Super League", true},
		{"Frauen-Bundesliga Female Division", true},
		{"Crystal Palace Ladies", true},
		{"WOMEN Serie A", true},
		{"Borussia Dortmund", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, nameExcluded(tt.name), tt.name)
	}
}

func TestBuildQuoteStrict(t *testing.T) {
	q, ok := buildQuote(strPtr("2.1"), strPtr("3.3"), strPtr("3.4"), strPtr("1.85"), strPtr("1.95"), false)
	assert.True(t, ok)
	assert.Equal(t, domain.OddsQuote{Home: 2100, Draw: 3300, Away: 3400, Over: 1850, Under: 1950}, q)

	// Missing totals reject in strict mode.
	_, ok = buildQuote(strPtr("2.1"), strPtr("3.3"), strPtr("3.4"), nil, nil, false)
	assert.False(t, ok)

	// Missing 1X2 always rejects.
	_, ok = buildQuote(nil, strPtr("3.3"), strPtr("3.4"), strPtr("1.85"), strPtr("1.95"), true)
	assert.False(t, ok)
}

func TestBuildQuoteRelaxedFillsDefaults(t *testing.T) {
	q, ok := buildQuote(strPtr("2.1"), strPtr("3.3"), strPtr("3.4"), nil, nil, true)
	assert.True(t, ok)
	assert.Equal(t, uint32(defaultOverOdd), q.Over)
	assert.Equal(t, uint32(defaultUnderOdd), q.Under)
}

func TestBuildQuoteUnparseableOdds(t *testing.T) {
	_, ok := buildQuote(strPtr("abc"), strPtr("3.3"), strPtr("3.4"), strPtr("1.85"), strPtr("1.95"), true)
	assert.False(t, ok)

	// Out-of-range price (<= 1.0) rejects.
	_, ok = buildQuote(strPtr("1.0"), strPtr("3.3"), strPtr("3.4"), strPtr("1.85"), strPtr("1.95"), false)
	assert.False(t, ok)
}
