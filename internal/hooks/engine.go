package hooks

import (
	"context"
	"fmt"
	"io"
	"time"
)

// DefaultTimeout bounds the run and shell steps of a hook without timeout_secs.
const DefaultTimeout = 120 * time.Second

// Definition is the configuration of one hook. Absent fields skip their step.
type Definition struct {
	Copy        []string `toml:"copy,omitempty"`
	Run         []string `toml:"run,omitempty"`
	Shell       string   `toml:"shell,omitempty"`
	TimeoutSecs *uint64  `toml:"timeout_secs,omitempty"`
}

// Timeout returns the configured budget for the run and shell steps.
func (d *Definition) Timeout() time.Duration {
	if d.TimeoutSecs == nil || *d.TimeoutSecs == 0 {
		return DefaultTimeout
	}
	return time.Duration(*d.TimeoutSecs) * time.Second
}

// Step names one stage of a hook.
type Step string

const (
	StepCopy  Step = "copy"
	StepRun   Step = "run"
	StepShell Step = "shell"
)

// Result collects what each executed step did.
type Result struct {
	Event Event          `json:"event"`
	Copy  *CopyResult    `json:"copy,omitempty"`
	Run   *RunResult     `json:"run,omitempty"`
	Shell *CommandOutput `json:"shell,omitempty"`
}

// StepError reports the step that stopped a hook.
type StepError struct {
	Event Event
	Step  Step
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s hook %s step: %v", e.Event, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Invocation is one firing of a hook.
type Invocation struct {
	Event      Event
	Definition *Definition
	SourceDir  string // copy source
	WorkDir    string // copy destination and command working directory
	Env        Env
}

// Logger is the logging the engine needs. trench.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}

// Engine runs hook definitions.
type Engine struct {
	shell  *Shell
	logger Logger
}

// NewEngine creates an Engine that streams command output to stdout and stderr.
func NewEngine(stdout, stderr io.Writer, logger Logger) *Engine {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Engine{shell: NewShell(stdout, stderr), logger: logger}
}

// Fire runs the copy, run and shell steps of inv in order. The first failing
// step stops the hook; the partial Result is returned with a *StepError.
// The run and shell steps share one time budget; exceeding it kills the
// running command's process group and fails with ErrHookTimeout.
func (e *Engine) Fire(ctx context.Context, inv Invocation) (*Result, error) {
	result := &Result{Event: inv.Event}
	def := inv.Definition
	if def == nil {
		return result, nil
	}

	if len(def.Copy) > 0 {
		copyResult, err := Copy(inv.SourceDir, inv.WorkDir, def.Copy)
		result.Copy = copyResult
		if err != nil {
			return result, &StepError{Event: inv.Event, Step: StepCopy, Err: err}
		}
		e.logger.Debug("hook copy step finished", "event", inv.Event, "files", len(copyResult.Copied))
	}

	if len(def.Run) == 0 && def.Shell == "" {
		return result, nil
	}

	execCtx, cancel := context.WithTimeout(ctx, def.Timeout())
	defer cancel()
	env := inv.Env.Environ(inv.Event)

	if len(def.Run) > 0 {
		runResult, err := e.shell.Run(execCtx, def.Run, inv.WorkDir, env)
		result.Run = runResult
		if err != nil {
			return result, &StepError{Event: inv.Event, Step: StepRun, Err: err}
		}
		e.logger.Debug("hook run step finished", "event", inv.Event, "commands", len(runResult.Executed))
	}

	if def.Shell != "" {
		shellResult, err := e.shell.Run(execCtx, []string{def.Shell}, inv.WorkDir, env)
		if len(shellResult.Executed) > 0 {
			result.Shell = &shellResult.Executed[0]
		}
		if err != nil {
			return result, &StepError{Event: inv.Event, Step: StepShell, Err: err}
		}
		e.logger.Debug("hook shell step finished", "event", inv.Event)
	}

	return result, nil
}
