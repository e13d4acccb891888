package fileops

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/pleme-io/typemill/plan"
)

const defaultValidationTimeout = 2 * time.Minute

// runValidation executes the configured post-apply command and reports its
// outcome. A non-zero exit (or stderr output with FailOnStderr) fails.
func runValidation(ctx context.Context, workdir string, v *plan.Validation) plan.ValidationResult {
	timeout := v.Timeout
	if timeout <= 0 {
		timeout = defaultValidationTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir := v.Dir
	if dir == "" {
		dir = workdir
	}
	cmd := exec.CommandContext(ctx, v.Command, v.Args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := plan.ValidationResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: time.Since(start).Milliseconds(),
	}
	switch e := err.(type) {
	case nil:
		result.ExitCode = 0
	case *exec.ExitError:
		result.ExitCode = e.ExitCode()
	default:
		// spawn failure
		result.ExitCode = -1
		if result.Stderr == "" {
			result.Stderr = err.Error()
		}
	}
	result.Passed = result.ExitCode == 0 && !(v.FailOnStderr && result.Stderr != "")
	return result
}
