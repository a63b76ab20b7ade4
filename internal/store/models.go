package store

import "time"

// Collector is a registered collector script in the inventory.
type Collector struct {
	CollectorID        string
	Path               string
	Language           string
	Schedule           string
	Status             string
	Enabled            bool
	ExpectedMinRecords int
	AllowEmpty         bool
	Owner              string
	Tags               []string
	OutputTables       []string
	Description        string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Collector statuses.
const (
	StatusActive       = "active"
	StatusExperimental = "experimental"
	StatusDeprecated   = "deprecated"
)

// Run is one row of the run ledger: one invocation of a collector by the
// core. Rows are inserted at start and finished exactly once; a row with a
// nil FinishedAt is in-flight.
type Run struct {
	RunID         string
	TraceID       string
	CollectorID   string
	CollectorPath string
	Actor         string
	ParamsJSON    []byte
	Env           string
	StartedAt     time.Time
	FinishedAt    *time.Time
	DurationMS    *int64
	Fetched       int
	Saved         int
	Skipped       int
	ExitCode      *int
	OK            bool
	ErrorCode     string
	ErrorMessage  string
}

// RunFinish carries the terminal state written to a ledger row.
type RunFinish struct {
	Fetched      int
	Saved        int
	Skipped      int
	ExitCode     int
	OK           bool
	ErrorCode    string
	ErrorMessage string
	DurationMS   int64
}

// BudgetLimit is an active spending cap for a scope.
type BudgetLimit struct {
	Scope     string
	ScopeID   string
	LimitCost float64
	Active    bool
}

// BudgetUsage is one append-only usage row recorded after a paid operation.
type BudgetUsage struct {
	Scope     string
	ScopeID   string
	TraceID   string
	Skill     string
	Provider  string
	Cost      float64
	TokensIn  int
	TokensOut int
	Requests  int
	CreatedAt time.Time
}

// Watermark is a monotonic last-processed marker keyed on
// (skill_name, domain, detector); detector may be empty for a domain-level
// watermark.
type Watermark struct {
	SkillName       string
	Domain          string
	Detector        string
	LastProcessedAt time.Time
}
