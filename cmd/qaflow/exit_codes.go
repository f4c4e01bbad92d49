package main

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/odvcencio/qaflow/pkg/errors"
	"github.com/odvcencio/qaflow/pkg/types"
)

const (
	exitPassed    = 0
	exitFailed    = 1
	exitCancelled = 130 // 128 + SIGINT
)

// runStatusError reports a run that finished without passing.
type runStatusError struct {
	status  types.RunStatus
	message string
}

func (e runStatusError) Error() string {
	if e.status == types.StatusCancelled {
		return e.message
	}
	return fmt.Sprintf("test failed: %s", e.message)
}

func (e runStatusError) ExitCode() int {
	return exitCodeForStatus(e.status)
}

func exitCodeForStatus(status types.RunStatus) int {
	switch status {
	case types.StatusPass:
		return exitPassed
	case types.StatusCancelled:
		return exitCancelled
	default:
		return exitFailed
	}
}

func exitCodeForError(err error) int {
	if err == nil {
		return exitPassed
	}
	var runErr runStatusError
	if errors.As(err, &runErr) {
		return runErr.ExitCode()
	}
	if errors.Is(err, context.Canceled) || apperrors.IsCode(err, apperrors.ErrCodeCancelled) {
		return exitCancelled
	}
	return exitFailed
}
