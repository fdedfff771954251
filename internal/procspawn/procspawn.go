// Package procspawn launches and supervises OS subprocesses; public/master
// uses it to run the router/dealer queue device (cmd/zmesh-broker). REP
// workers run as goroutines in the master process, not through this
// package. The child inherits the parent's stdout and stderr. It sends
// SIGTERM on Stop and escalates to SIGKILL if the process hasn't exited
// within the grace period, the same two-stage shutdown the embedded
// container supervisor uses.
package procspawn

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/tenzoki/zmesh/internal/wirelog"
)

// Process supervises one spawned subprocess.
type Process struct {
	Name string

	mu      sync.Mutex
	cmd     *exec.Cmd
	waitErr error
	done    chan struct{}
}

// Spawn starts name with args and begins supervising it. The process
// inherits the current environment plus any extraEnv entries ("KEY=value").
func Spawn(ctx context.Context, label, name string, args []string, extraEnv []string) (*Process, error) {
	log := wirelog.For("procspawn").With().Str("process", label).Logger()
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", label, err)
	}
	log.Info().Int("pid", cmd.Process.Pid).Msg("process started")

	p := &Process{Name: label, cmd: cmd, done: make(chan struct{})}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Wait blocks until the process exits and returns its exit error, if any.
func (p *Process) Wait() error {
	<-p.done
	return p.waitErr
}

// Running reports whether the process has not yet exited.
func (p *Process) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Stop sends SIGTERM, then SIGKILL if the process is still alive after
// grace elapses. It blocks until the process has exited or the context is
// cancelled.
func (p *Process) Stop(ctx context.Context, grace time.Duration) error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()

	log := wirelog.For("procspawn").With().Str("process", p.Name).Logger()

	if !p.Running() {
		return nil
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && p.Running() {
		log.Warn().Err(err).Msg("SIGTERM delivery failed")
	}

	select {
	case <-p.done:
		return p.waitErr
	case <-time.After(grace):
	case <-ctx.Done():
		return ctx.Err()
	}

	if !p.Running() {
		return p.waitErr
	}
	log.Warn().Msg("process did not exit within grace period, sending SIGKILL")
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill %s: %w", p.Name, err)
	}

	select {
	case <-p.done:
		return p.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}
