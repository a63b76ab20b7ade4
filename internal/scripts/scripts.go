// Package scripts knows the permitted collector script types and how to
// invoke them as child processes.
package scripts

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Permitted script extensions and the language tag derived from each.
var languages = map[string]string{
	".py": "python",
	".ts": "typescript",
	".js": "javascript",
}

// Language derives the language tag from a script path. ok is false for
// extensions outside the permitted set.
func Language(path string) (string, bool) {
	lang, ok := languages[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}

// Permitted reports whether the path has one of the permitted extensions.
func Permitted(path string) bool {
	_, ok := Language(path)
	return ok
}

// Command returns the interpreter argv prefix for a script, e.g.
// ["python3", path] for .py. The error names the offending extension.
func Command(path string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return []string{"python3", path}, nil
	case ".ts":
		return []string{"npx", "tsx", path}, nil
	case ".js":
		return []string{"node", path}, nil
	default:
		return nil, fmt.Errorf("unsupported script extension %q", filepath.Ext(path))
	}
}
