// Package incubation projects when microbiology readings fall due.
//
// A log sheet selects a set of incubation profiles when it is created. Each
// profile has a fixed incubation time; the reading is due that many hours
// after the sheet was created. ProjectDueEvents buckets those due times into
// a rolling seven day calendar.
package incubation

import "strings"

// Profile is one entry of the incubation catalog.
type Profile struct {
	Key           string `json:"key"`
	Label         string `json:"label"`
	HoursUntilDue int    `json:"hours_until_due"`
}

// Catalog keys as stored in the incubation_profile column.
const (
	KeyEnterobacteriacea = "enterobacteriacea"
	KeyTMC30             = "tmc_30"
	KeyYeastsMolds       = "yeasts_molds"
	KeyBacillus          = "bacillus"
)

var catalog = []Profile{
	{Key: KeyEnterobacteriacea, Label: "Enterobacteriacea", HoursUntilDue: 24},
	{Key: KeyTMC30, Label: "Total mesophilic count 30°C", HoursUntilDue: 72},
	{Key: KeyYeastsMolds, Label: "Yeasts / molds", HoursUntilDue: 120},
	{Key: KeyBacillus, Label: "Bacillus", HoursUntilDue: 26},
}

var catalogIndex = func() map[string]Profile {
	m := make(map[string]Profile, len(catalog))
	for _, p := range catalog {
		m[p.Key] = p
	}
	return m
}()

// Catalog returns a copy of the catalog in display order.
func Catalog() []Profile {
	out := make([]Profile, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns the profile registered under key.
func Lookup(key string) (Profile, bool) {
	p, ok := catalogIndex[key]
	return p, ok
}

// ParseProfileKeys splits a stored comma separated profile list.
// Blank entries are dropped and duplicates removed, keeping first occurrence order.
func ParseProfileKeys(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return dedupe(strings.Split(s, ","))
}

// JoinProfileKeys is the inverse of ParseProfileKeys.
func JoinProfileKeys(keys []string) string {
	return strings.Join(dedupe(keys), ",")
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
