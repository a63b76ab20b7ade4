package expected

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
)

// Denylist is the operator-maintained block file. Allow patterns override
// blocks; otherwise any block or path-substring match excludes a collector.
type Denylist struct {
	BlockedCollectors   []string `json:"blocked_collectors"`
	BlockedPathContains []string `json:"blocked_paths_contains"`
	AllowCollectors     []string `json:"allow_collectors"`
}

// LoadDenylist reads the JSON denylist. A missing file is an empty denylist.
func LoadDenylist(file string) (Denylist, error) {
	b, err := os.ReadFile(file)
	if os.IsNotExist(err) {
		return Denylist{}, nil
	}
	if err != nil {
		return Denylist{}, fmt.Errorf("read denylist: %w", err)
	}
	var d Denylist
	if err := json.Unmarshal(b, &d); err != nil {
		return Denylist{}, fmt.Errorf("parse denylist %s: %w", file, err)
	}
	return d, nil
}

// Allowed decides whether a collector may be scheduled. Decision order:
// allow-list match wins, then any block match excludes, else allowed.
func (d Denylist) Allowed(collectorID, collectorPath string) bool {
	for _, pat := range d.AllowCollectors {
		if globMatch(pat, collectorID) {
			return true
		}
	}
	for _, pat := range d.BlockedCollectors {
		if globMatch(pat, collectorID) {
			return false
		}
	}
	lower := strings.ToLower(collectorPath)
	for _, sub := range d.BlockedPathContains {
		if sub != "" && strings.Contains(lower, strings.ToLower(sub)) {
			return false
		}
	}
	return true
}

func globMatch(pattern, s string) bool {
	ok, err := path.Match(pattern, s)
	return err == nil && ok
}
