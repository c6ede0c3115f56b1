// Package stability classifies failures that make the process unfit to
// continue (memory exhaustion, file-handle exhaustion), captures
// diagnostics for them, and terminates with a fixed exit code.
package stability

import (
	"os"
	"strings"
	"sync/atomic"

	"github.com/stagepool/stagepool/pkg/core"
)

// fatalExitCode is the process exit code for an unstable-state shutdown.
const fatalExitCode = 100

var pkgLogger atomic.Pointer[loggerRef]

type loggerRef struct {
	l core.Logger
}

func init() {
	pkgLogger.Store(&loggerRef{core.NewDefaultLogger()})
}

// SetLogger swaps the logger used by this package.
func SetLogger(l core.Logger) {
	if l != nil {
		pkgLogger.Store(&loggerRef{l})
	}
}

func logger() core.Logger {
	return pkgLogger.Load().l
}

// Killer terminates the current process after an unstable condition. It
// is replaceable through SetKiller so tests can intercept the kill.
type Killer interface {
	Kill(err error)
}

type processKiller struct{}

func (processKiller) Kill(err error) {
	logger().Errorf("process state determined to be unstable, exiting forcefully due to: %v", err)
	RemoveAllShutdownHooks()
	os.Exit(fatalExitCode)
}

var killer atomic.Pointer[killerRef]

type killerRef struct {
	k Killer
}

func init() {
	killer.Store(&killerRef{processKiller{}})
}

// SetKiller replaces the process terminator; intended for tests.
func SetKiller(k Killer) {
	if k != nil {
		killer.Store(&killerRef{k})
	}
}

// Inspect checks whether err represents a condition the process cannot
// survive. Memory exhaustion additionally triggers a heap diagnostic
// before the process is killed. Safe to call with nil.
func Inspect(err error) {
	if err == nil {
		return
	}
	unstable := false
	msg := err.Error()
	if isOutOfMemory(msg) {
		unstable = true
		WriteHeapDiagnostic()
	} else if strings.Contains(msg, "too many open files") {
		unstable = true
	}
	if unstable {
		killer.Load().k.Kill(err)
	}
}

func isOutOfMemory(msg string) bool {
	return strings.Contains(msg, "out of memory") ||
		strings.Contains(msg, "cannot allocate memory")
}
