package audit

import (
	"sort"

	"sofiapulse/internal/store"
)

// Expectation is one collector the window commits to having run.
type Expectation struct {
	CollectorID string
	ExpectedMin int
	AllowEmpty  bool
}

// Entry is one classified expected collector.
type Entry struct {
	CollectorID string `json:"collector_id"`
	RunID       string `json:"run_id,omitempty"`
	Saved       int    `json:"saved"`
	ExpectedMin int    `json:"expected_min"`
	ErrorCode   string `json:"error_code,omitempty"`
	ErrorMsg    string `json:"error_message,omitempty"`
}

// Result is the outcome of classifying a window. The four sets partition the
// expected set: every expected collector lands in exactly one of succeeded,
// empty, failed, or missing.
type Result struct {
	Expected  int
	Ran       int
	Succeeded []Entry
	Empty     []Entry
	Failed    []Entry
	Missing   []string
}

// Healthy is the objective verdict: nothing missing, failed, or empty.
func (r Result) Healthy() bool {
	return len(r.Missing) == 0 && len(r.Failed) == 0 && len(r.Empty) == 0
}

// Classify reduces the ledger window to one verdict per expected collector.
// It is a pure function of its inputs: identical (expected, runs) yield an
// identical result.
//
// runs may be in any order; the latest finished row per collector wins.
// In-flight rows (no finish marker) are not successes and are skipped; a
// collector with only in-flight rows counts as missing.
func Classify(expected []Expectation, runs []store.Run) Result {
	latest := make(map[string]store.Run, len(expected))
	for _, r := range runs {
		if r.FinishedAt == nil {
			continue
		}
		prev, seen := latest[r.CollectorID]
		if !seen || r.StartedAt.After(prev.StartedAt) {
			latest[r.CollectorID] = r
		}
	}

	byID := make([]Expectation, len(expected))
	copy(byID, expected)
	sort.Slice(byID, func(i, j int) bool { return byID[i].CollectorID < byID[j].CollectorID })

	res := Result{Expected: len(byID)}
	for _, exp := range byID {
		run, ran := latest[exp.CollectorID]
		if !ran {
			res.Missing = append(res.Missing, exp.CollectorID)
			continue
		}
		res.Ran++

		entry := Entry{
			CollectorID: exp.CollectorID,
			RunID:       run.RunID,
			Saved:       run.Saved,
			ExpectedMin: exp.ExpectedMin,
		}
		switch {
		case !run.OK:
			entry.ErrorCode = run.ErrorCode
			entry.ErrorMsg = run.ErrorMessage
			res.Failed = append(res.Failed, entry)
		case run.Saved < exp.ExpectedMin && !exp.AllowEmpty:
			res.Empty = append(res.Empty, entry)
		default:
			res.Succeeded = append(res.Succeeded, entry)
		}
	}
	return res
}
