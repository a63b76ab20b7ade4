// Package fsboot ensures the log directory tree exists before any skill
// writes to it, falling back to a writable temporary location when the
// preferred path cannot be created.
package fsboot

import (
	"fmt"
	"os"
	"path/filepath"
)

// Result reports where logs will land and whether the preferred path had to
// be abandoned.
type Result struct {
	Dir      string
	FellBack bool
	Warning  string
}

// EnsureLogDir creates preferred (idempotent) and returns it. On failure it
// creates fallback instead and flags the result so callers can attach an
// FS_WARNING to their envelope. When fallback is empty a directory under the
// OS temp dir is used.
func EnsureLogDir(preferred, fallback string) (Result, error) {
	if preferred != "" {
		if err := os.MkdirAll(preferred, 0o755); err == nil {
			if writable(preferred) {
				return Result{Dir: preferred}, nil
			}
		}
	}

	if fallback == "" {
		fallback = filepath.Join(os.TempDir(), "sofia-logs")
	}
	if err := os.MkdirAll(fallback, 0o755); err != nil {
		return Result{}, fmt.Errorf("create fallback log dir %s: %w", fallback, err)
	}
	return Result{
		Dir:      fallback,
		FellBack: true,
		Warning:  fmt.Sprintf("log dir %s not writable, using %s", preferred, fallback),
	}, nil
}

func writable(dir string) bool {
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}
