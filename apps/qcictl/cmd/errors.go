package cmd

import (
	"errors"
	"fmt"

	"github.com/quatton/qci/pkg/qapi/schemas"
	"github.com/quatton/qci/pkg/qerr"
)

// Exit codes for outcomes other than a failing task.
const (
	exitGeneric     = 1
	exitInvalidSpec = 2
	exitPlatform    = 3
	exitAuth        = 4
	exitTimeout     = 124
	exitCancelled   = 130
)

// exitCode maps a run error onto the process exit code. A failing task's
// own exit code is passed through.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if tf, ok := qerr.AsTaskFailed(err); ok && tf.ExitCode > 0 && tf.ExitCode < 256 {
		return tf.ExitCode
	}
	switch qerr.CodeOf(err) {
	case qerr.CodeInvalidSpec:
		return exitInvalidSpec
	case qerr.CodePlatformError:
		return exitPlatform
	case qerr.CodeTimeout:
		return exitTimeout
	case qerr.CodeCancelled:
		return exitCancelled
	case qerr.CodeUnauthorized:
		return exitAuth
	}
	return exitGeneric
}

// reportError prints guidance for err and returns the exit code.
func reportError(err error) int {
	var silent *runExit
	if errors.As(err, &silent) {
		return silent.code
	}

	if qerr.IsCode(err, qerr.CodeUnauthorized) {
		logger.Error("authentication required, run 'qcictl auth set-token'", "error", err)
	} else {
		logger.Error(err.Error())
	}
	return exitCode(err)
}

// runExit carries the exit code of a remote run that was already reported.
type runExit struct {
	code int
}

func (e *runExit) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// remoteExitCode maps a finished remote run onto the exit code a local
// run with the same outcome would produce.
func remoteExitCode(run *schemas.RunResponse) int {
	switch qerr.Code(run.ErrorCode) {
	case "":
		return 0
	case qerr.CodeTaskFailed:
		if run.ExitCode != nil && *run.ExitCode > 0 && *run.ExitCode < 256 {
			return *run.ExitCode
		}
		return exitGeneric
	case qerr.CodeInvalidSpec:
		return exitInvalidSpec
	case qerr.CodePlatformError:
		return exitPlatform
	case qerr.CodeTimeout:
		return exitTimeout
	case qerr.CodeCancelled:
		return exitCancelled
	}
	return exitGeneric
}
