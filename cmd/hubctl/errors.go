package main

import (
	"errors"
	"fmt"
)

// cliError carries the spec §6 exit code a command's error should map to,
// since cobra itself only distinguishes "no error" from "error".
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &cliError{code: exitUsage, err: fmt.Errorf(format, args...)}
}

func notFoundErrorf(format string, args ...any) error {
	return &cliError{code: exitNotFound, err: fmt.Errorf(format, args...)}
}

func busyErrorf(format string, args ...any) error {
	return &cliError{code: exitBusy, err: fmt.Errorf(format, args...)}
}

func runtimeError(err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: exitRuntime, err: err}
}

func exitCodeFor(err error) int {
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return exitRuntime
}
