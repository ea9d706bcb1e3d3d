package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// ErrHookTimeout is returned when a hook exceeds its time budget.
var ErrHookTimeout = errors.New("hook timed out")

// CommandOutput is the captured result of one shell command.
type CommandOutput struct {
	Command  string `json:"command"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// RunResult lists the commands a run step executed, in order.
type RunResult struct {
	Executed []CommandOutput `json:"executed"`
}

// RunStepError reports the command that stopped a run step. Results holds
// every command that ran, the failing one included.
type RunStepError struct {
	Command  string
	ExitCode int
	Results  *RunResult
	Err      error // set when the command was killed or could not start
}

func (e *RunStepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command failed: `%s`: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("command failed: `%s` exited with code %d", e.Command, e.ExitCode)
}

func (e *RunStepError) Unwrap() error {
	return e.Err
}

// Shell runs commands through sh -c, streaming their output to the terminal
// writers while capturing it.
type Shell struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

// NewShell creates a Shell that echoes command output to stdout and stderr.
// Nil writers discard.
func NewShell(stdout, stderr io.Writer) *Shell {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return &Shell{stdout: stdout, stderr: stderr}
}

// Run executes commands sequentially in cwd with env, stopping at the first
// non-zero exit. The error is a *RunStepError carrying partial results.
func (s *Shell) Run(ctx context.Context, commands []string, cwd string, env []string) (*RunResult, error) {
	result := &RunResult{}
	for _, command := range commands {
		out, err := s.exec(ctx, command, cwd, env)
		result.Executed = append(result.Executed, out)
		if err != nil || out.ExitCode != 0 {
			return result, &RunStepError{
				Command:  command,
				ExitCode: out.ExitCode,
				Results:  result,
				Err:      err,
			}
		}
	}
	return result, nil
}

// exec runs one command. A non-zero exit is reported through ExitCode, not
// the error; the error is reserved for start failures and cancellation.
func (s *Shell) exec(ctx context.Context, command, cwd string, env []string) (CommandOutput, error) {
	out := CommandOutput{Command: command, ExitCode: -1}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cwd
	cmd.Env = env
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return out, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return out, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return out, fmt.Errorf("starting command: %w", err)
	}

	// Both pipes drain concurrently; reading one to EOF before the other
	// deadlocks once the unread pipe's buffer fills.
	var stdoutBuf, stderrBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go s.drain(&wg, stdoutPipe, &stdoutBuf, s.stdout)
	go s.drain(&wg, stderrPipe, &stderrBuf, s.stderr)
	wg.Wait()

	// Wait closes the pipes, so it runs only after both readers hit EOF.
	waitErr := cmd.Wait()
	out.Stdout = stdoutBuf.String()
	out.Stderr = stderrBuf.String()

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return out, ErrHookTimeout
		}
		return out, ctxErr
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		out.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		out.ExitCode = exitErr.ExitCode()
	default:
		return out, fmt.Errorf("waiting for command: %w", waitErr)
	}
	return out, nil
}

// drain copies r into buf and echoes each chunk to the terminal writer.
func (s *Shell) drain(wg *sync.WaitGroup, r io.Reader, buf *bytes.Buffer, terminal io.Writer) {
	defer wg.Done()
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			s.mu.Lock()
			terminal.Write(chunk[:n])
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}
