package services

import (
	"context"
	"errors"
	"time"

	"github.com/imyashkale/mcphost/internal/logger"
	"github.com/imyashkale/mcphost/internal/models"
	"github.com/imyashkale/mcphost/internal/queue"
)

const statusNotRunning = "not_running"

// CheckHealth checks a live server by listing its tools. A server that is
// not live is reported as not running rather than failing.
func (m *MCPManager) CheckHealth(ctx context.Context, id string) (*models.HealthReport, error) {
	ls, live := m.liveServer(id)
	if !live {
		if _, err := m.getServer(ctx, id); err != nil {
			return nil, err
		}
		return &models.HealthReport{Healthy: false, Status: statusNotRunning}, nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, m.cfg.ToolCallTimeout)
	defer cancel()

	report := &models.HealthReport{SandboxStats: ls.conn.SandboxStats()}
	health := models.HealthHealthy

	tools, err := ls.conn.ListTools(checkCtx)
	if err != nil {
		health = models.HealthUnhealthy
		report.Status = string(models.HealthUnhealthy)
		report.Error = err.Error()
	} else {
		count := len(tools)
		report.Healthy = true
		report.Status = string(models.HealthHealthy)
		report.ToolCount = &count
	}

	if uerr := m.store.UpdateHealthStatus(context.WithoutCancel(ctx), id, health); uerr != nil {
		logger.WithField("server_id", id).Warnf("Failed to record health status: %v", uerr)
	}
	m.metrics.ObserveHealthCheck(ls.name, report.Healthy)

	if !report.Healthy {
		logger.WithFields(map[string]interface{}{
			"server_id":   id,
			"server_name": ls.name,
			"error":       report.Error,
		}).Warn("MCP server health check failed")
	}
	return report, nil
}

func (m *MCPManager) startHealthLoop() {
	m.healthMu.Lock()
	defer m.healthMu.Unlock()

	if m.healthCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.healthCancel = cancel
	m.healthDone = done

	go func() {
		defer close(done)

		ticker := time.NewTicker(m.cfg.HealthCheckInterval)
		defer ticker.Stop()

		logger.WithField("interval", m.cfg.HealthCheckInterval.String()).Info("Health check loop started")
		for {
			select {
			case <-ctx.Done():
				logger.Debug("Health check loop exiting")
				return
			case <-ticker.C:
				m.runHealthChecks(ctx)
			}
		}
	}()
}

// stopHealthLoop cancels the loop and waits a bounded time for it to exit
func (m *MCPManager) stopHealthLoop() {
	m.healthMu.Lock()
	cancel, done := m.healthCancel, m.healthDone
	m.healthCancel = nil
	m.healthDone = nil
	m.healthMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	select {
	case <-done:
	case <-time.After(m.cfg.HealthStopTimeout):
		logger.Warn("Health check loop did not exit in time, abandoning it")
	}
}

// runHealthChecks checks every live server on the worker pool
func (m *MCPManager) runHealthChecks(ctx context.Context) {
	m.mu.RLock()
	jobs := make([]*queue.LifecycleJob, 0, len(m.live))
	for id, ls := range m.live {
		jobs = append(jobs, &queue.LifecycleJob{
			ServerID:   id,
			ServerName: ls.name,
			Action:     queue.ActionHealthCheck,
		})
	}
	m.mu.RUnlock()

	if len(jobs) == 0 {
		return
	}

	healthy := queue.RunAll(jobs, m.cfg.StartupWorkers, func(job *queue.LifecycleJob) error {
		report, err := m.CheckHealth(ctx, job.ServerID)
		if err != nil {
			return err
		}
		if !report.Healthy {
			if report.Error == "" {
				return errors.New(report.Status)
			}
			return errors.New(report.Error)
		}
		return nil
	})

	logger.WithFields(map[string]interface{}{
		"healthy": healthy,
		"total":   len(jobs),
	}).Debug("Health check sweep completed")
}
