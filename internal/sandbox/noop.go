package sandbox

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/imyashkale/mcphost/internal/logger"
	"github.com/imyashkale/mcphost/internal/models"
)

// NoopSandbox runs a process with the host environment and no limits.
// Termination still covers the whole process group.
type NoopSandbox struct {
	proc process
}

func NewNoopSandbox() *NoopSandbox {
	return &NoopSandbox{}
}

func (s *NoopSandbox) Start(ctx context.Context, spec ProcessSpec) (io.WriteCloser, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	if err := s.proc.spawn(spec, passthroughEnv(spec.Env)); err != nil {
		return nil, nil, err
	}

	logger.WithFields(map[string]interface{}{
		"pid":     s.proc.pid,
		"command": spec.Command,
	}).Info("Started unsandboxed process")

	stdin, stdout := s.proc.streams()
	return stdin, stdout, nil
}

func (s *NoopSandbox) Stop(timeout time.Duration) error {
	s.proc.stop(timeout)
	return nil
}

func (s *NoopSandbox) IsRunning() bool {
	return s.proc.running()
}

func (s *NoopSandbox) Stats() models.SandboxStats {
	return s.proc.stats()
}

// New returns a ProcessSandbox when enabled, NoopSandbox otherwise
func New(enabled bool, limits Limits, opts ...Option) Sandbox {
	if enabled {
		return NewProcessSandbox(limits, opts...)
	}
	return NewNoopSandbox()
}
