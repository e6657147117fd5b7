package sandbox

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/imyashkale/mcphost/internal/logger"
	"github.com/imyashkale/mcphost/internal/models"
)

// process owns one spawned child: its pipes, exit tracking and termination
type process struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	done      chan struct{}
	stopped   bool

	// limits, when set, are applied through the exec shim; limitedAtExec
	// records whether that succeeded
	limits        *Limits
	limitedAtExec bool

	stdin   *os.File
	stdout  *os.File
	stderrR *os.File
	stderr  *stderrBuffer
	tempDir string
}

// spawn starts the child with its own process group. The child's ends of
// the pipes are plain files so exec.Cmd.Wait never closes the parent's ends.
func (p *process) spawn(spec ProcessSpec, env []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return ErrAlreadyStarted
	}
	if spec.Command == "" {
		return fmt.Errorf("%w: empty command", ErrSpawn)
	}

	workDir := spec.WorkingDir
	if workDir == "" {
		dir, err := os.MkdirTemp("", "mcp-sandbox-")
		if err != nil {
			return fmt.Errorf("%w: creating working directory: %v", ErrSpawn, err)
		}
		p.tempDir = dir
		workDir = dir
	}

	var opened []*os.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}
	pipe := func() (*os.File, *os.File, error) {
		r, w, err := os.Pipe()
		if err == nil {
			opened = append(opened, r, w)
		}
		return r, w, err
	}

	stdinR, stdinW, err := pipe()
	if err != nil {
		p.cleanupTempDir()
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	stdoutR, stdoutW, err := pipe()
	if err != nil {
		closeAll()
		p.cleanupTempDir()
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	stderrR, stderrW, err := pipe()
	if err != nil {
		closeAll()
		p.cleanupTempDir()
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = env
	cmd.Dir = workDir
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	setProcessGroup(cmd)

	if p.limits != nil {
		limited, err := limitAtExec(cmd, *p.limits)
		if err != nil {
			closeAll()
			p.cleanupTempDir()
			return fmt.Errorf("%w: %s: %v", ErrSpawn, spec.Command, err)
		}
		p.limitedAtExec = limited
	}

	if err := cmd.Start(); err != nil {
		closeAll()
		p.cleanupTempDir()
		return fmt.Errorf("%w: %s: %v", ErrSpawn, spec.Command, err)
	}

	// The child holds its own copies now
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()
	p.done = make(chan struct{})
	p.stdin = stdinW
	p.stdout = stdoutR
	p.stderrR = stderrR
	p.stderr = newStderrBuffer(stderrLineLimit)

	go p.stderr.drain(stderrR, p.pid)
	go p.wait()

	return nil
}

func (p *process) wait() {
	err := p.cmd.Wait()
	close(p.done)

	entry := logger.WithField("pid", p.pid)
	if err != nil {
		entry = entry.WithField("exit", err.Error())
	}
	entry.Debug("Sandboxed process exited")
}

// running reports whether the child was started and has not exited
func (p *process) running() bool {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// terminate sends a graceful signal, waits up to timeout, then kills the
// group and waits for exit unconditionally
func (p *process) terminate(timeout time.Duration) {
	p.mu.Lock()
	pid, done := p.pid, p.done
	p.mu.Unlock()

	if done == nil {
		return
	}
	select {
	case <-done:
		return
	default:
	}

	if err := terminateGroup(pid); err != nil {
		logger.WithFields(map[string]interface{}{
			"pid":   pid,
			"error": err.Error(),
		}).Warn("Failed to signal sandboxed process")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-timer.C:
	}

	logger.WithField("pid", pid).Warn("Sandboxed process ignored termination, killing")
	if err := killGroup(pid); err != nil {
		logger.WithFields(map[string]interface{}{
			"pid":   pid,
			"error": err.Error(),
		}).Error("Failed to kill sandboxed process")
	}
	<-done
}

// stop terminates the child and releases pipes and the temp directory.
// Returns false if it had already been stopped.
func (p *process) stop(timeout time.Duration) bool {
	p.mu.Lock()
	if p.stopped || p.cmd == nil {
		p.stopped = true
		p.mu.Unlock()
		return false
	}
	p.stopped = true
	p.mu.Unlock()

	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	p.terminate(timeout)

	p.stdin.Close()
	p.stdout.Close()
	p.stderrR.Close()
	p.cleanupTempDir()
	return true
}

func (p *process) cleanupTempDir() {
	if p.tempDir == "" {
		return
	}
	if err := os.RemoveAll(p.tempDir); err != nil {
		logger.WithFields(map[string]interface{}{
			"dir":   p.tempDir,
			"error": err.Error(),
		}).Warn("Failed to remove sandbox working directory")
	}
	p.tempDir = ""
}

func (p *process) stats() models.SandboxStats {
	p.mu.Lock()
	pid, started, buf := p.pid, p.startedAt, p.stderr
	p.mu.Unlock()

	st := models.SandboxStats{Status: "not_started", PID: pid}
	if buf != nil {
		st.RecentStderr = buf.Lines()
	}
	if pid == 0 {
		return st
	}
	if !p.running() {
		st.Status = "stopped"
		return st
	}

	st.Status = "running"
	if usage, err := collectUsage(pid, started); err == nil {
		st.Usage = usage
	}
	return st
}

func (p *process) streams() (io.WriteCloser, io.ReadCloser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdin, p.stdout
}
