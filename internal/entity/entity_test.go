package entity

import (
	"net/url"
	"testing"
	"time"
)

func TestFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Entity
	}{
		{"livescores", Livescores},
		{"/livescores", Livescores},
		{"livescores/inplay", Livescores},
		{"ODDS/pre-match", Odds},
		{"fixtures/date/2026-08-24", Fixtures},
		{"teams/123", Teams},
		{"", Fixtures},
		{"/", Fixtures},
		{"something-new/42", Fixtures}, // unknown paths use the busiest entity
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := FromPath(tt.path); got != tt.want {
				t.Errorf("FromPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestTTLPolicy(t *testing.T) {
	tests := []struct {
		e    Entity
		want time.Duration
	}{
		{Teams, 24 * time.Hour},
		{Leagues, 24 * time.Hour},
		{Countries, 12 * time.Hour},
		{Seasons, 12 * time.Hour},
		{Players, 6 * time.Hour},
		{Standings, 5 * time.Minute},
		{Sidelined, 10 * time.Minute},
		{Fixtures, 3 * time.Minute},
		{Lineups, time.Minute},
		{Livescores, 4 * time.Second},
		{Odds, 4 * time.Second},
		{Events, 4 * time.Second},
		{Statistics, 4 * time.Second},
		{Entity("mystery"), time.Minute}, // unrecognized entity default
	}
	for _, tt := range tests {
		if got := tt.e.TTL(); got != tt.want {
			t.Errorf("TTL(%q) = %v, want %v", tt.e, got, tt.want)
		}
	}
}

func TestAllCoversKnownSet(t *testing.T) {
	all := All()
	if len(all) != 17 {
		t.Fatalf("len(All()) = %d, want 17", len(all))
	}
	for _, e := range all {
		if !e.Known() {
			t.Errorf("All() returned unknown entity %q", e)
		}
	}
}

func TestFingerprintCanonicalOrder(t *testing.T) {
	a := Fingerprint("fixtures/date/2026-08-24", url.Values{"include": {"odds"}, "page": {"2"}})
	b := Fingerprint("fixtures/date/2026-08-24", url.Values{"page": {"2"}, "include": {"odds"}})
	if a != b {
		t.Errorf("fingerprints differ for identical logical requests: %q vs %q", a, b)
	}

	c := Fingerprint("fixtures/date/2026-08-24", url.Values{"page": {"3"}, "include": {"odds"}})
	if a == c {
		t.Error("fingerprints collide for different parameters")
	}
}

func TestFingerprintSortsRepeatedValues(t *testing.T) {
	a := Fingerprint("odds", url.Values{"market": {"2", "1"}})
	b := Fingerprint("odds", url.Values{"market": {"1", "2"}})
	if a != b {
		t.Errorf("repeated values not canonicalized: %q vs %q", a, b)
	}
}

func TestCacheKeyFormat(t *testing.T) {
	got := CacheKey("sportsgate", Odds, "odds/fixture/99", url.Values{"market": {"1"}})
	want := "sportsgate:odds:odds/fixture/99:market=1"
	if got != want {
		t.Errorf("CacheKey = %q, want %q", got, want)
	}
}

func TestCacheKeyNoParams(t *testing.T) {
	got := CacheKey("sportsgate", Livescores, "livescores", nil)
	want := "sportsgate:livescores:livescores:"
	if got != want {
		t.Errorf("CacheKey = %q, want %q", got, want)
	}
}
