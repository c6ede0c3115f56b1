package stability

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingKiller struct {
	killed []error
}

func (k *recordingKiller) Kill(err error) {
	k.killed = append(k.killed, err)
}

func withRecordingKiller(t *testing.T) *recordingKiller {
	t.Helper()
	k := &recordingKiller{}
	SetKiller(k)
	t.Cleanup(func() { SetKiller(processKiller{}) })
	return k
}

func TestInspect_NilAndBenignErrors(t *testing.T) {
	k := withRecordingKiller(t)
	Inspect(nil)
	Inspect(errors.New("connection refused"))
	Inspect(errors.New("task panicked: index out of range"))
	if len(k.killed) != 0 {
		t.Errorf("benign errors killed the process %d times", len(k.killed))
	}
}

func TestInspect_FileHandleExhaustion(t *testing.T) {
	k := withRecordingKiller(t)
	Inspect(errors.New("open /tmp/x: too many open files"))
	if len(k.killed) != 1 {
		t.Fatalf("killed %d times, want 1", len(k.killed))
	}
}

func TestInspect_OutOfMemory(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STAGEPOOL_DUMP_PATH", dir)
	k := withRecordingKiller(t)

	Inspect(errors.New("runtime: out of memory"))

	if len(k.killed) != 1 {
		t.Fatalf("killed %d times, want 1", len(k.killed))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	found := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "stagepool_pid") && strings.HasSuffix(e.Name(), ".pprof") {
			found = true
			info, err := e.Info()
			if err != nil {
				t.Fatalf("Info() error = %v", err)
			}
			if info.Size() == 0 {
				t.Error("heap diagnostic file is empty")
			}
		}
	}
	if !found {
		t.Errorf("no heap diagnostic written to %s", dir)
	}
}

func TestWriteHeapDiagnostic_ExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.pprof")
	t.Setenv("STAGEPOOL_DUMP_PATH", path)
	WriteHeapDiagnostic()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("heap diagnostic not written: %v", err)
	}
	if info.Size() == 0 {
		t.Error("heap diagnostic file is empty")
	}
}
