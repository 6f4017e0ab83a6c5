//go:build linux

package worker

import (
	"os/exec"
	"runtime"
	"sync"
	"syscall"
)

// The worker gets its own process group so that the shell and whatever it forks can be killed together,
// and it is killed by the kernel if the build dies without cleaning up.
func setProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGKILL}
}

type spawnRequest struct {
	cmd  *exec.Cmd
	done chan error
}

var (
	spawnOnce sync.Once
	spawns    chan spawnRequest
)

// Pdeathsig is delivered when the thread that forked the child exits, not the process.
// Go may retire a thread at any time, so every worker is forked from one goroutine that stays
// locked to its thread for the life of the process.
func spawnLoop() {
	runtime.LockOSThread()
	for req := range spawns {
		req.done <- req.cmd.Start()
	}
}

func startCommand(cmd *exec.Cmd) (func() error, error) {
	spawnOnce.Do(func() {
		spawns = make(chan spawnRequest)
		go spawnLoop()
	})
	done := make(chan error, 1)
	spawns <- spawnRequest{cmd: cmd, done: done}
	if err := <-done; err != nil {
		return nil, err
	}
	return func() error { return killGroup(cmd) }, nil
}
