package worker

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerOutlivesSpawningThread(t *testing.T) {
	command, opts := helperCommand("echo")

	// the goroutine exits while locked, which makes the runtime retire its thread
	clientCh := make(chan *Client, 1)
	errCh := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		c, err := Start(command, opts...)
		clientCh <- c
		errCh <- err
	}()
	c := <-clientCh
	require.NoError(t, <-errCh)
	t.Cleanup(func() { c.Close() })

	time.Sleep(200 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.Call(ctx, "echo", "still here")
	require.NoError(t, err)
	assert.Equal(t, "still here", res)
}
