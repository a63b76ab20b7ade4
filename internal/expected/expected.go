// Package expected derives the daily expected set: active inventory minus
// denylist, partitioned into groups with per-group concurrency and timeout
// policy.
package expected

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sofiapulse/internal/store"
)

// Group names. Required and ga4 form the gate; the rest are best-effort.
const (
	GroupRequired = "required"
	GroupGA4      = "ga4"
	GroupTech     = "tech"
	GroupResearch = "research"
	GroupJobs     = "jobs"
	GroupPatents  = "patents"
	GroupOther    = "other"
)

// GroupOrder is the execution order of the daily pipeline.
var GroupOrder = []string{
	GroupRequired, GroupGA4, GroupTech, GroupResearch, GroupJobs, GroupPatents, GroupOther,
}

// requiredIDs is the hard-coded critical set: the economic indicator
// collectors the day is useless without.
var requiredIDs = map[string]bool{
	"bacen-sgs": true,
	"ibge-api":  true,
	"ipea-api":  true,
}

const (
	defaultTimeoutS = 300
	ga4TimeoutS     = 600
)

// Member is one collector inside a group.
type Member struct {
	CollectorID string `json:"collector_id"`
	Required    bool   `json:"required"`
	TimeoutS    int    `json:"timeout_s"`
	ExpectedMin int    `json:"expected_min"`
	AllowEmpty  bool   `json:"allow_empty"`
}

// Set is the derived expected set for one pipeline day.
type Set struct {
	Stats  Stats               `json:"_stats"`
	Groups map[string][]Member `json:"groups"`
}

// Stats summarizes the derivation.
type Stats struct {
	Active  int `json:"active"`
	Blocked int `json:"blocked"`
	Allowed int `json:"allowed"`
	Groups  int `json:"groups"`
}

// Inventory is the slice of the persistence layer the synchronizer needs.
type Inventory interface {
	ListCollectors(ctx context.Context, status string) ([]store.Collector, error)
}

// Build derives the expected set from active inventory entries and the
// denylist. Output ordering is stable: members are sorted by collector_id
// inside each group, so identical inputs produce byte-identical files.
func Build(ctx context.Context, inv Inventory, deny Denylist) (Set, error) {
	active, err := inv.ListCollectors(ctx, store.StatusActive)
	if err != nil {
		return Set{}, fmt.Errorf("list active collectors: %w", err)
	}

	set := Set{Groups: map[string][]Member{}}
	set.Stats.Active = len(active)

	for _, c := range active {
		if !c.Enabled {
			continue
		}
		if !deny.Allowed(c.CollectorID, c.Path) {
			set.Stats.Blocked++
			continue
		}
		set.Stats.Allowed++

		group := groupFor(c.CollectorID)
		m := Member{
			CollectorID: c.CollectorID,
			Required:    group == GroupRequired || group == GroupGA4,
			TimeoutS:    defaultTimeoutS,
			ExpectedMin: c.ExpectedMinRecords,
			AllowEmpty:  c.AllowEmpty,
		}
		if group == GroupGA4 {
			m.TimeoutS = ga4TimeoutS
		}
		set.Groups[group] = append(set.Groups[group], m)
	}

	for name := range set.Groups {
		members := set.Groups[name]
		sort.Slice(members, func(i, j int) bool {
			return members[i].CollectorID < members[j].CollectorID
		})
		set.Groups[name] = members
	}
	set.Stats.Groups = len(set.Groups)
	return set, nil
}

// groupFor partitions by collector id: required set first, ga4 prefix, then
// topic substrings, else other.
func groupFor(id string) string {
	switch {
	case requiredIDs[id]:
		return GroupRequired
	case strings.HasPrefix(id, "ga4"):
		return GroupGA4
	case strings.Contains(id, "tech"):
		return GroupTech
	case strings.Contains(id, "research"), strings.Contains(id, "paper"):
		return GroupResearch
	case strings.Contains(id, "job"):
		return GroupJobs
	case strings.Contains(id, "patent"):
		return GroupPatents
	default:
		return GroupOther
	}
}

// IDs returns every member id of the set, sorted.
func (s Set) IDs() []string {
	var out []string
	for _, members := range s.Groups {
		for _, m := range members {
			out = append(out, m.CollectorID)
		}
	}
	sort.Strings(out)
	return out
}

// GateIDs returns the ids whose health gates the pipeline exit code.
func (s Set) GateIDs() []string {
	var out []string
	for _, g := range []string{GroupRequired, GroupGA4} {
		for _, m := range s.Groups[g] {
			out = append(out, m.CollectorID)
		}
	}
	sort.Strings(out)
	return out
}

// WriteFiles persists the grouped config and the legacy flat list. Only
// non-empty groups appear in the grouped file.
func (s Set) WriteFiles(configPath, legacyPath string) error {
	if err := writeJSON(configPath, s); err != nil {
		return err
	}
	legacy := map[string]any{"collectors": s.IDs()}
	return writeJSON(legacyPath, legacy)
}

// Load reads a previously written expected-set config.
func Load(configPath string) (Set, error) {
	b, err := os.ReadFile(configPath)
	if err != nil {
		return Set{}, fmt.Errorf("read expected set: %w", err)
	}
	var s Set
	if err := json.Unmarshal(b, &s); err != nil {
		return Set{}, fmt.Errorf("parse expected set %s: %w", configPath, err)
	}
	if s.Groups == nil {
		s.Groups = map[string][]Member{}
	}
	return s, nil
}

func writeJSON(file string, v any) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	return os.Rename(tmp, file)
}
