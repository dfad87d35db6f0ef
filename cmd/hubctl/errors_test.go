package main

import (
	"errors"
	"testing"
)

func TestExitCodeForMapsCliErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{usageErrorf("bad flag"), exitUsage},
		{notFoundErrorf("missing"), exitNotFound},
		{busyErrorf("in flight"), exitBusy},
		{runtimeError(errors.New("boom")), exitRuntime},
		{errors.New("unwrapped plain error"), exitRuntime},
	}
	for _, tc := range cases {
		if got := exitCodeFor(tc.err); got != tc.want {
			t.Errorf("exitCodeFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestRuntimeErrorNilIsNil(t *testing.T) {
	if err := runtimeError(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
