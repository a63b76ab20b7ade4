package envelope

// Error codes form a closed taxonomy at the core boundary. Skills outside
// this list must map their failures onto one of these before returning.
const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeInventoryNotFound = "INVENTORY_NOT_FOUND"
	CodeFSError           = "FS_ERROR"
	CodeDependencyMissing = "DEPENDENCY_MISSING"
	CodeSourceDown        = "COLLECT_SOURCE_DOWN"
	CodeCollectEmpty      = "COLLECT_EMPTY"
	CodeTimeout           = "TIMEOUT"
	CodeScriptError       = "SCRIPT_ERROR"
	CodeBudgetExceeded    = "BUDGET_EXCEEDED"
	CodeHTTPRequestFailed = "HTTP_REQUEST_FAILED"
	CodeHTTPAuthFailed    = "HTTP_AUTH_FAILED"
	CodeUnknownError      = "UNKNOWN_ERROR"
)

// Warning codes.
const (
	WarnFS           = "FS_WARNING"
	WarnBudget       = "BUDGET_WARNING"
	WarnAuditNoRuns  = "AUDIT_NO_RUNS_TODAY"
	WarnWppDisabled  = "WHATSAPP_DISABLED"
	WarnCollectEmpty = "COLLECT_EMPTY"
	WarnBestEffort   = "BEST_EFFORT_FAILED"
)
