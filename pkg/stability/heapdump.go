package stability

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
)

// dumpPathEnv names the directory (or file) heap diagnostics are written
// to. Unset falls back to the system temp directory.
const dumpPathEnv = "STAGEPOOL_DUMP_PATH"

// WriteHeapDiagnostic captures a heap profile for the current process and
// logs a short allocation summary. Failures are logged, never fatal: the
// diagnostic is best effort on an already unstable process.
func WriteHeapDiagnostic() {
	path := resolveDumpPath()
	f, err := os.Create(path)
	if err != nil {
		logger().Errorf("heap diagnostic could not be written: %v", err)
		return
	}
	defer f.Close()
	if err := pprof.Lookup("heap").WriteTo(f, 0); err != nil {
		logger().Errorf("heap diagnostic could not be generated: %v", err)
		return
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	logger().Infof("heap diagnostic written to %s (alloc=%d sys=%d objects=%d goroutines=%d)",
		path, ms.HeapAlloc, ms.Sys, ms.HeapObjects, runtime.NumGoroutine())
}

// resolveDumpPath picks the profile destination: the env override when it
// points at a file, a pid-stamped file inside it when it is a directory,
// and the temp dir otherwise.
func resolveDumpPath() string {
	name := fmt.Sprintf("stagepool_pid%d.pprof", os.Getpid())
	base := os.Getenv(dumpPathEnv)
	if base == "" {
		return filepath.Join(os.TempDir(), name)
	}
	if info, err := os.Stat(base); err == nil && info.IsDir() {
		return filepath.Join(base, name)
	}
	return base
}
