package controller

import (
	"os/exec"
	"testing"
)

func TestClassifyHostExitCleanExit(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	_ = cmd.Run()
	if got := ClassifyHostExit(cmd.ProcessState); got != CrashCleanExit {
		t.Fatalf("expected CrashCleanExit, got %v", got)
	}
}

func TestClassifyHostExitNonZeroIsUnknown(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "exit 7")
	_ = cmd.Run()
	if got := ClassifyHostExit(cmd.ProcessState); got != CrashUnknown {
		t.Fatalf("expected CrashUnknown, got %v", got)
	}
}

func TestClassifyHostExitSignalKilledIsOOM(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "kill -KILL $$")
	_ = cmd.Run()
	if got := ClassifyHostExit(cmd.ProcessState); got != CrashOutOfMemory {
		t.Fatalf("expected CrashOutOfMemory for SIGKILL, got %v", got)
	}
}

func TestClassifyHostExitSignalAbortIsAssertionFailure(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "kill -ABRT $$")
	_ = cmd.Run()
	if got := ClassifyHostExit(cmd.ProcessState); got != CrashAssertionFailure {
		t.Fatalf("expected CrashAssertionFailure for SIGABRT, got %v", got)
	}
}

func TestClassifyHostExitOtherSignalIsSignalTerminated(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "kill -TERM $$")
	_ = cmd.Run()
	if got := ClassifyHostExit(cmd.ProcessState); got != CrashSignalTerminated {
		t.Fatalf("expected CrashSignalTerminated for SIGTERM, got %v", got)
	}
}

func TestClassifyHostExitNilStateIsUnknown(t *testing.T) {
	if got := ClassifyHostExit(nil); got != CrashUnknown {
		t.Fatalf("expected CrashUnknown for nil state, got %v", got)
	}
}
