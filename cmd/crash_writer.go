package cmd

import (
	"fmt"
	"os"
	"runtime/debug"
)

// enableCrashOutput directs an unrecovered panic's report to path in
// addition to stderr, so a crash during a mount left running unattended
// (e.g. under systemd) leaves a trace even though stderr went nowhere.
// The returned func closes the underlying file and must be called before
// the process exits normally.
func enableCrashOutput(path string) (func() error, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening crash output %s: %w", path, err)
	}
	if err := debug.SetCrashOutput(f, debug.CrashOptions{}); err != nil {
		f.Close()
		return nil, fmt.Errorf("setting crash output: %w", err)
	}
	return f.Close, nil
}
