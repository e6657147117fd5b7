// Package sandbox spawns local MCP server processes inside resource bounds.
//
// A ProcessSandbox applies OS resource limits, isolates the child in its own
// process group, enforces a wall-clock execution timeout and guarantees
// termination with a graceful then forceful stop. NoopSandbox honours the
// same contract without limits or monitoring for trusted servers.
package sandbox

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/imyashkale/mcphost/internal/models"
)

const (
	DefaultMaxMemoryMB      = 512
	DefaultMaxCPUSeconds    = 300
	DefaultMaxOpenFiles     = 256
	DefaultMaxProcesses     = 50
	DefaultMaxExecutionTime = time.Hour
	DefaultMonitorInterval  = 5 * time.Second
	DefaultStopTimeout      = 5 * time.Second
)

var (
	// ErrSpawn is returned when the subprocess cannot be started
	ErrSpawn = errors.New("failed to spawn process")
	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("sandbox already started")
)

// Sandbox contains a single spawned process
type Sandbox interface {
	// Start spawns the process and returns its stdin and stdout
	Start(ctx context.Context, spec ProcessSpec) (io.WriteCloser, io.ReadCloser, error)
	// Stop terminates the process, waiting up to timeout before killing it.
	// Calling Stop more than once is safe.
	Stop(timeout time.Duration) error
	IsRunning() bool
	// Stats never fails; Usage is nil when introspection is unavailable
	Stats() models.SandboxStats
}

// ProcessSpec describes the program to run
type ProcessSpec struct {
	Command    string
	Args       []string
	Env        map[string]string
	WorkingDir string
}

// Limits bounds a sandboxed process. Zero fields take the defaults.
type Limits struct {
	MaxMemoryMB      int
	MaxCPUSeconds    int
	MaxCPUPercent    int
	MaxOpenFiles     int
	MaxProcesses     int
	MaxExecutionTime time.Duration
}

// DefaultLimits returns the limits applied when none are configured
func DefaultLimits() Limits {
	return Limits{
		MaxMemoryMB:      DefaultMaxMemoryMB,
		MaxCPUSeconds:    DefaultMaxCPUSeconds,
		MaxOpenFiles:     DefaultMaxOpenFiles,
		MaxProcesses:     DefaultMaxProcesses,
		MaxExecutionTime: DefaultMaxExecutionTime,
	}
}

// LimitsFromResourceLimits overlays a server's configured limits on the defaults
func LimitsFromResourceLimits(rl *models.ResourceLimits) Limits {
	limits := DefaultLimits()
	if rl == nil {
		return limits
	}
	if rl.MaxMemoryMB > 0 {
		limits.MaxMemoryMB = rl.MaxMemoryMB
	}
	if rl.MaxCPUPercent > 0 {
		limits.MaxCPUPercent = rl.MaxCPUPercent
	}
	if rl.MaxExecutionTimeSeconds > 0 {
		limits.MaxExecutionTime = time.Duration(rl.MaxExecutionTimeSeconds) * time.Second
	}
	return limits
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxMemoryMB <= 0 {
		l.MaxMemoryMB = d.MaxMemoryMB
	}
	if l.MaxCPUSeconds <= 0 {
		l.MaxCPUSeconds = d.MaxCPUSeconds
	}
	if l.MaxOpenFiles <= 0 {
		l.MaxOpenFiles = d.MaxOpenFiles
	}
	if l.MaxProcesses <= 0 {
		l.MaxProcesses = d.MaxProcesses
	}
	if l.MaxExecutionTime <= 0 {
		l.MaxExecutionTime = d.MaxExecutionTime
	}
	return l
}
