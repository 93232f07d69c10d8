// Package tactile runs external programs on the host: the print driver and
// any other helper the agent shells out to.
package tactile

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Executor runs a command to completion.
type Executor interface {
	Execute(ctx context.Context, cmd Command) (*ExecutionResult, error)
}

// Command describes one process invocation.
type Command struct {
	Binary           string
	Arguments        []string
	WorkingDirectory string
	// Environment entries are KEY=VALUE and are added to the allowed
	// variables inherited from the agent.
	Environment []string
	// Timeout overrides the executor default when positive.
	Timeout time.Duration
}

// CommandString renders the command for logs.
func (c Command) CommandString() string {
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Arguments, " ")
}

// ExecutionResult captures what happened.
type ExecutionResult struct {
	ExitCode int
	Stdout   string
	Stderr   string

	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration

	// Killed is set when the process was stopped by timeout or cancellation.
	Killed     bool
	KillReason string

	Truncated      bool
	TruncatedBytes int64
}

// Succeeded reports a clean zero exit.
func (r *ExecutionResult) Succeeded() bool {
	return r != nil && !r.Killed && r.ExitCode == 0
}

// Output returns stdout and stderr joined by a newline.
func (r *ExecutionResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Err converts an unsuccessful result into an error carrying the exit
// status and the tail of the output.
func (r *ExecutionResult) Err() error {
	switch {
	case r == nil:
		return fmt.Errorf("no result")
	case r.Killed:
		return fmt.Errorf("process killed: %s", r.KillReason)
	case r.ExitCode != 0:
		return fmt.Errorf("exit status %d: %s", r.ExitCode, tail(strings.TrimSpace(r.Output()), 512))
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// ExecutorConfig holds executor defaults.
type ExecutorConfig struct {
	DefaultTimeout time.Duration
	MaxOutputBytes int64
	// AllowedEnvironment names the agent variables a child process inherits.
	AllowedEnvironment []string
}

// DefaultExecutorConfig returns sane defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultTimeout:     2 * time.Minute,
		MaxOutputBytes:     1 << 20,
		AllowedEnvironment: []string{"PATH", "HOME", "USER", "TMP", "TEMP", "SYSTEMROOT", "LANG"},
	}
}
