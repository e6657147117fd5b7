package sandbox

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/imyashkale/mcphost/internal/logger"
	"github.com/imyashkale/mcphost/internal/models"
)

// Option configures a ProcessSandbox
type Option func(*ProcessSandbox)

// WithMonitorInterval sets how often the monitor samples the process
func WithMonitorInterval(d time.Duration) Option {
	return func(s *ProcessSandbox) {
		if d > 0 {
			s.monitorInterval = d
		}
	}
}

// ProcessSandbox runs a process under OS resource limits with a minimal
// environment and a wall-clock execution timeout
type ProcessSandbox struct {
	limits          Limits
	monitorInterval time.Duration
	proc            process

	mu          sync.Mutex
	stopMonitor context.CancelFunc
	monitorDone chan struct{}
}

// NewProcessSandbox creates a sandbox; zero limits take the defaults
func NewProcessSandbox(limits Limits, opts ...Option) *ProcessSandbox {
	s := &ProcessSandbox{
		limits:          limits.withDefaults(),
		monitorInterval: DefaultMonitorInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.proc.limits = &s.limits
	return s
}

// Limits returns the effective limits
func (s *ProcessSandbox) Limits() Limits {
	return s.limits
}

func (s *ProcessSandbox) Start(ctx context.Context, spec ProcessSpec) (io.WriteCloser, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	if err := s.proc.spawn(spec, BuildEnv(spec.Env)); err != nil {
		return nil, nil, err
	}

	pid := s.proc.pid
	if !s.proc.limitedAtExec {
		if err := applyLimits(pid, s.limits); err != nil {
			logger.WithFields(map[string]interface{}{
				"pid":   pid,
				"error": err.Error(),
			}).Warn("Resource limits not applied")
		}
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.stopMonitor = cancel
	s.monitorDone = make(chan struct{})
	done := s.monitorDone
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.monitor(monitorCtx)
	}()

	logger.WithFields(map[string]interface{}{
		"pid":        pid,
		"command":    spec.Command,
		"memory_mb":  s.limits.MaxMemoryMB,
		"cpu_secs":   s.limits.MaxCPUSeconds,
		"exec_limit": s.limits.MaxExecutionTime.String(),
	}).Info("Started sandboxed process")

	stdin, stdout := s.proc.streams()
	return stdin, stdout, nil
}

// monitor enforces the execution time limit and reports cpu overuse
func (s *ProcessSandbox) monitor(ctx context.Context) {
	ticker := time.NewTicker(s.monitorInterval)
	defer ticker.Stop()

	s.proc.mu.Lock()
	pid, startedAt, exited := s.proc.pid, s.proc.startedAt, s.proc.done
	s.proc.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-exited:
			return
		case <-ticker.C:
		}

		elapsed := time.Since(startedAt)
		if elapsed > s.limits.MaxExecutionTime {
			logger.WithFields(map[string]interface{}{
				"pid":     pid,
				"elapsed": elapsed.String(),
				"limit":   s.limits.MaxExecutionTime.String(),
			}).Warn("Sandboxed process exceeded execution time, terminating")
			s.proc.terminate(DefaultStopTimeout)
			return
		}

		if s.limits.MaxCPUPercent <= 0 {
			continue
		}
		usage, err := collectUsage(pid, startedAt)
		if err != nil {
			continue
		}
		if usage.CPUPercent > float64(s.limits.MaxCPUPercent) {
			logger.WithFields(map[string]interface{}{
				"pid":         pid,
				"cpu_percent": usage.CPUPercent,
				"limit":       s.limits.MaxCPUPercent,
			}).Warn("Sandboxed process above cpu threshold")
		}
	}
}

// Stop terminates the process group and cleans up. It is safe to call
// more than once.
func (s *ProcessSandbox) Stop(timeout time.Duration) error {
	s.mu.Lock()
	cancel, monitorDone := s.stopMonitor, s.monitorDone
	s.stopMonitor = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-monitorDone
	}

	if s.proc.stop(timeout) {
		logger.WithField("pid", s.proc.pid).Info("Stopped sandboxed process")
	}
	return nil
}

func (s *ProcessSandbox) IsRunning() bool {
	return s.proc.running()
}

func (s *ProcessSandbox) Stats() models.SandboxStats {
	return s.proc.stats()
}
