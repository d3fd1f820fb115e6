package selector

import (
	"sort"
	"strings"
)

// League priorities, 20-110. Unlisted leagues default to the floor.
const (
	priorityFloor        = 20
	highPriorityCutoff   = 80
	maxPerPriorityLeague = 2
)

var leaguePriorities = map[string]int{
	// Continental club competitions
	"uefa champions league":  110,
	"champions league":       110,
	"uefa europa league":     95,
	"europa league":          95,
	"uefa conference league": 85,
	"copa libertadores":      90,

	// Top five domestic leagues
	"english premier league": 100,
	"la liga":                100,
	"laliga":                 100,
	"serie a":                95,
	"bundesliga":             95,
	"ligue 1":                90,

	// Strong domestic leagues
	"eredivisie":       75,
	"primeira liga":    75,
	"liga portugal":    75,
	"scottish premiership": 65,
	"belgian pro league":   65,
	"jupiler pro league":   65,
	"super lig":            65,
	"brasileirao":          70,
	"brasileiro serie a":   70,
	"liga mx":              65,
	"major league soccer":  60,
	"mls":                  60,
	"argentine primera division": 65,
	"liga profesional argentina": 65,

	// Second divisions and cups
	"championship":     60,
	"efl championship": 60,
	"la liga 2":        45,
	"serie b":          45,
	"2. bundesliga":    50,
	"ligue 2":          45,
	"fa cup":           70,
	"copa del rey":     65,
	"coppa italia":     60,
	"dfb pokal":        60,
	"coupe de france":  55,

	// Smaller European leagues
	"danish superliga":     45,
	"allsvenskan":          45,
	"eliteserien":          40,
	"swiss super league":   45,
	"austrian bundesliga":  45,
	"czech first league":   40,
	"ekstraklasa":          40,
	"greek super league":   40,
	"russian premier league": 40,
	"ukrainian premier league": 40,

	// Long-tail
	"league of ireland":  30,
	"a-league":           30,
	"j1 league":          35,
	"k league 1":         30,
	"saudi pro league":   35,
	"egyptian premier league": 25,
	"south african premier division": 25,
}

// englishPLTeams disambiguates the bare league name "Premier League": many
// countries use it, so the English priority only applies when one of the
// clubs is recognisably English top-flight.
var englishPLTeams = map[string]bool{
	"arsenal": true, "aston villa": true, "bournemouth": true,
	"brentford": true, "brighton": true, "burnley": true,
	"chelsea": true, "crystal palace": true, "everton": true,
	"fulham": true, "leeds united": true, "leeds": true,
	"liverpool": true, "manchester city": true, "manchester united": true,
	"newcastle united": true, "newcastle": true, "nottingham forest": true,
	"sunderland": true, "tottenham": true, "tottenham hotspur": true,
	"west ham": true, "west ham united": true, "wolverhampton": true,
	"wolves": true,
}

// prioritySearchOrder holds the table keys longest first so substring
// matching is deterministic and the most specific name wins ("la liga 2"
// before "la liga").
var prioritySearchOrder = func() []string {
	keys := make([]string, 0, len(leaguePriorities))
	for k := range leaguePriorities {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// leaguePriority resolves the priority for a candidate. Ambiguous names are
// disambiguated against the team names.
func leaguePriority(league, homeTeam, awayTeam string) int {
	name := strings.ToLower(strings.TrimSpace(league))

	if p, ok := leaguePriorities[name]; ok {
		return p
	}
	// Substring fallback catches provider prefixes like "Spain - La Liga 2".
	for _, known := range prioritySearchOrder {
		if strings.Contains(name, known) {
			return leaguePriorities[known]
		}
	}
	// Many countries run a bare or prefixed "Premier League"; only the
	// English top flight, recognised by its clubs, earns the top priority.
	if strings.Contains(name, "premier league") {
		if isEnglishPLTeam(homeTeam) || isEnglishPLTeam(awayTeam) {
			return 100
		}
		return 30
	}
	return priorityFloor
}

func isEnglishPLTeam(team string) bool {
	t := strings.ToLower(strings.TrimSpace(team))
	if englishPLTeams[t] {
		return true
	}
	for known := range englishPLTeams {
		if strings.Contains(t, known) {
			return true
		}
	}
	return false
}
