package host

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// LocalRunner executes commands on the local host.
type LocalRunner struct {
	Timeout time.Duration
}

func (r *LocalRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = ExitCodeNotRun
		return result, &CommandError{Command: joinCommand(name, args), Result: result, Err: ctxErr}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, &CommandError{Command: joinCommand(name, args), Result: result, Err: err}
	}

	result.ExitCode = 1
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		result.ExitCode = 127
	}
	return result, &CommandError{Command: joinCommand(name, args), Result: result, Err: err}
}

// CommandError reports a failed command with whatever output it produced.
type CommandError struct {
	Command string
	Result  Result
	Err     error
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Result.Stderr)
	if out == "" {
		out = strings.TrimSpace(e.Result.Stdout)
	}
	if out != "" {
		return fmt.Sprintf("command '%s' exited %d: %s", e.Command, e.Result.ExitCode, out)
	}
	return fmt.Sprintf("command '%s' exited %d: %v", e.Command, e.Result.ExitCode, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExitCodeNotRun marks a command that did not finish before its context ended.
const ExitCodeNotRun = -1

// ExitedNonZero is true when the command ran and reported failure, as opposed to not running at all.
func ExitedNonZero(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	if errors.Is(cmdErr.Err, context.DeadlineExceeded) || errors.Is(cmdErr.Err, context.Canceled) {
		return false
	}
	return cmdErr.Result.ExitCode > 0 && cmdErr.Result.ExitCode != 127
}

func joinCommand(cmd string, args []string) string {
	if len(args) == 0 {
		return shellEscape(cmd)
	}

	var builder strings.Builder
	builder.WriteString(shellEscape(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(shellEscape(arg))
	}

	return builder.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}
	if !strings.ContainsAny(value, " \t\n'\"\\$`;&|<>()*?[]#~!{}") {
		return value
	}

	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
