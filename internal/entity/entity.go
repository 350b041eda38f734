package entity

import (
	"net/url"
	"sort"
	"strings"
	"time"
)

// Entity is a logical upstream resource category. All requests for the same
// entity share one quota bucket.
type Entity string

const (
	Fixtures   Entity = "fixtures"
	Livescores Entity = "livescores"
	Odds       Entity = "odds"
	Lineups    Entity = "lineups"
	Events     Entity = "events"
	Statistics Entity = "statistics"
	Standings  Entity = "standings"
	Sidelined  Entity = "sidelined"
	Teams      Entity = "teams"
	Players    Entity = "players"
	Leagues    Entity = "leagues"
	Seasons    Entity = "seasons"
	Venues     Entity = "venues"
	Markets    Entity = "markets"
	States     Entity = "states"
	Types      Entity = "types"
	Countries  Entity = "countries"
)

// Default is where unknown paths land: the busiest category, so an unmapped
// path can never borrow a quieter entity's quota.
const Default = Fixtures

var known = map[string]Entity{
	"fixtures":   Fixtures,
	"livescores": Livescores,
	"odds":       Odds,
	"lineups":    Lineups,
	"events":     Events,
	"statistics": Statistics,
	"standings":  Standings,
	"sidelined":  Sidelined,
	"teams":      Teams,
	"players":    Players,
	"leagues":    Leagues,
	"seasons":    Seasons,
	"venues":     Venues,
	"markets":    Markets,
	"states":     States,
	"types":      Types,
	"countries":  Countries,
}

// ttlSeconds is the per-entity cache TTL policy. Static reference data is
// cached for hours, schedule data for minutes, live data for seconds.
var ttlSeconds = map[Entity]int{
	Teams:      86400,
	Leagues:    86400,
	Markets:    86400,
	Types:      86400,
	States:     43200,
	Countries:  43200,
	Seasons:    43200,
	Venues:     43200,
	Players:    21600,
	Standings:  300,
	Sidelined:  600,
	Fixtures:   180,
	Lineups:    60,
	Livescores: 4,
	Odds:       4,
	Events:     4,
	Statistics: 4,
}

const defaultTTLSeconds = 60

// FromPath resolves an entity from a request path: first segment, lowercased.
// Unknown segments fall back to Default.
func FromPath(path string) Entity {
	seg := strings.Trim(path, "/")
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg = seg[:i]
	}
	if e, ok := known[strings.ToLower(seg)]; ok {
		return e
	}
	return Default
}

// TTL returns the cache TTL for an entity.
func (e Entity) TTL() time.Duration {
	if s, ok := ttlSeconds[e]; ok {
		return time.Duration(s) * time.Second
	}
	return defaultTTLSeconds * time.Second
}

// Known reports whether e is one of the mapped entities.
func (e Entity) Known() bool {
	_, ok := known[string(e)]
	return ok
}

// All returns every known entity, sorted, for metrics iteration.
func All() []Entity {
	out := make([]Entity, 0, len(known))
	for _, e := range known {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Fingerprint builds the deterministic identity of a logical request:
// path plus canonically sorted query parameters. Two requests with the same
// fingerprint are the same request for coalescing and caching purposes.
func Fingerprint(path string, params url.Values) string {
	var b strings.Builder
	b.WriteString(strings.Trim(path, "/"))
	b.WriteString(":")
	b.WriteString(canonicalParams(params))
	return b.String()
}

// CacheKey builds the cache key: "<namespace>:<entity>:<path>:<sortedParams>".
func CacheKey(namespace string, e Entity, path string, params url.Values) string {
	var b strings.Builder
	b.WriteString(namespace)
	b.WriteString(":")
	b.WriteString(string(e))
	b.WriteString(":")
	b.WriteString(Fingerprint(path, params))
	return b.String()
}

func canonicalParams(params url.Values) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString("&")
		}
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for j, v := range vals {
			if j > 0 {
				b.WriteString("&")
			}
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(v)
		}
	}
	return b.String()
}
