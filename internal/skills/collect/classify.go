package collect

import (
	"strings"

	"sofiapulse/internal/envelope"
)

var (
	fsSignals = []string{
		"no such file or directory",
		"permission denied",
		"is a directory",
		"read-only file system",
		"too many open files",
	}
	dependencySignals = []string{
		"modulenotfounderror",
		"importerror",
		"cannot find module",
		"command not found",
		"npx: not found",
		"tsx: not found",
		"node: not found",
		"python3: not found",
	}
	sourceDownSignals = []string{
		"connectionerror",
		"connection refused",
		"connection reset",
		"econnrefused",
		"econnreset",
		"timed out",
		"timeout",
		"unreachable",
		"temporary failure in name resolution",
		"http 500",
		"http 502",
		"http 503",
		"http 504",
		"500 internal server error",
		"502 bad gateway",
		"503 service unavailable",
		"504 gateway",
	}
)

// ClassifyFailure maps a non-zero exit's stderr onto the error taxonomy.
// Returns the error code and whether a retry may succeed.
func ClassifyFailure(stderr string) (string, bool) {
	text := strings.ToLower(stderr)

	if containsAny(text, fsSignals) {
		// A missing file inside a module/import error is a broken
		// dependency, not a filesystem problem of ours.
		if strings.Contains(text, "module") || strings.Contains(text, "import") {
			return envelope.CodeDependencyMissing, false
		}
		return envelope.CodeFSError, false
	}
	if containsAny(text, dependencySignals) {
		return envelope.CodeDependencyMissing, false
	}
	if containsAny(text, sourceDownSignals) {
		return envelope.CodeSourceDown, true
	}
	return envelope.CodeScriptError, false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
