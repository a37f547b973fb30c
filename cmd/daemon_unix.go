//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

func visibleSignals() []os.Signal {
	return []os.Signal{syscall.SIGUSR1}
}
