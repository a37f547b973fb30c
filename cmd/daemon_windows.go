//go:build windows

package cmd

import "os"

// Windows has no SIGUSR1; use 'riff sync' to force a cycle.
func visibleSignals() []os.Signal {
	return nil
}
