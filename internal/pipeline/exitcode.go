package pipeline

import (
	"errors"
	"os/exec"

	"github.com/hochfrequenz/pipeline-orchestrator/internal/domain"
)

// Exit-code contract every pipeline script must honor
const (
	ExitSuccess = 0
	ExitBuild   = 1
	ExitTest    = 2
	ExitInfra   = 3
	ExitAgent   = 4
)

// ClassForExit maps a pipeline exit code to an error class. Unrecognized
// codes map to "unknown", which downstream treats as conservatively as a
// build failure.
func ClassForExit(code int) domain.ErrorClass {
	switch code {
	case ExitBuild:
		return domain.ClassBuild
	case ExitTest:
		return domain.ClassTest
	case ExitInfra:
		return domain.ClassInfra
	case ExitAgent:
		return domain.ClassAgent
	default:
		return domain.ClassUnknown
	}
}

// exitCode extracts an exit code from a command error.
// Returns (code, nil) for ExitError, (0, err) for other errors, (0, nil) for nil.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}
