package worker

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

// process owns the worker child process and its stdin/stdout pipes.
type process struct {
	log *zap.SugaredLogger
	cmd *exec.Cmd

	stdin  *os.File
	stdout *os.File
	// killTree force-kills the worker and everything it started.
	killTree func() error

	// exited is closed once the child has been reaped.
	exited   chan struct{}
	killOnce sync.Once
}

type processConfig struct {
	command string
	dir     string
	env     []string
	stderr  io.Writer
}

func startProcess(log *zap.SugaredLogger, cfg processConfig) (*process, error) {
	cmd := shellCommand(cfg.command)
	cmd.Dir = cfg.dir
	if len(cfg.env) > 0 {
		cmd.Env = append(os.Environ(), cfg.env...)
	}
	cmd.Stderr = cfg.stderr
	setProcAttrs(cmd)

	// Both ends are plain pipes rather than cmd.StdinPipe/StdoutPipe. Writes to stdin need deadlines,
	// and Wait closes StdoutPipe as soon as the process exits, possibly before the last responses have been read.
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: creating stdin pipe: %s", ErrStartupFailed, err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, fmt.Errorf("%w: creating stdout pipe: %s", ErrStartupFailed, err)
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW

	log.Debugw("starting worker", "Command", cfg.command, "Dir", cfg.dir)
	killTree, err := startCommand(cmd)
	stdinR.Close()
	stdoutW.Close()
	if err != nil {
		stdoutR.Close()
		stdinW.Close()
		return nil, fmt.Errorf("%w: starting %q: %s", ErrStartupFailed, cfg.command, err)
	}

	p := &process{
		log:      log,
		cmd:      cmd,
		stdin:    stdinW,
		stdout:   stdoutR,
		killTree: killTree,
		exited:   make(chan struct{}),
	}
	go p.wait()
	log.Infow("worker started", "PID", cmd.Process.Pid)
	return p, nil
}

func (p *process) wait() {
	defer close(p.exited)
	err := p.cmd.Wait()
	code := p.cmd.ProcessState.ExitCode()
	if err != nil {
		p.log.Infow("worker exited", "Error", err, "ExitCode", code)
		if code == 127 {
			p.log.Warn("exit code 127 usually means the shell could not find the worker command")
		}
		return
	}
	p.log.Infow("worker exited", "ExitCode", code)
}

// kill force-kills the worker's process group. Only the first call has any effect.
func (p *process) kill() {
	p.killOnce.Do(func() {
		p.log.Debugf("killing worker %d", p.cmd.Process.Pid)
		if err := p.killTree(); err != nil {
			p.log.Debugf("error killing worker: %s", err)
		}
		p.stdin.Close()
	})
}
