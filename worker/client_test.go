//go:build unix

package worker

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestCall(t *testing.T) {
	c := startHelper(t, "echo")
	res, err := c.Call(context.Background(), "anything", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", res)
	assert.Equal(t, 0, c.Pending())
}

func TestConcurrentCallsGetTheirOwnResponses(t *testing.T) {
	c := startHelper(t, "echo")

	group, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 100; i++ {
		payload := uuid.NewString() + "\n\"quoted\" <b>" + strconv.Itoa(i) + "</b>"
		group.Go(func() error {
			res, err := c.Call(ctx, "echo", payload)
			if err != nil {
				return err
			}
			if res != payload {
				return errors.New("got " + res + ", expected " + payload)
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())
	assert.Equal(t, 0, c.Pending())
}

func TestMinifyAndHighlight(t *testing.T) {
	c := startHelper(t, "html")
	ctx := context.Background()

	res, err := c.Minify(ctx, "<p>  hi  </p>")
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", res)

	res, err = c.Highlight(ctx, "<code>let x = 1;</code>")
	require.NoError(t, err)
	assert.Equal(t, "<code><span>let</span> <span>x</span> = <span>1</span>;</code>", res)
}

func TestRequestsFromOneCallerArriveInOrder(t *testing.T) {
	c := startHelper(t, "arrival")
	ctx := context.Background()

	last := 0
	for i := 0; i < 20; i++ {
		res, err := c.Call(ctx, "next", "")
		require.NoError(t, err)
		n, err := strconv.Atoi(res)
		require.NoError(t, err)
		assert.Greater(t, n, last)
		last = n
	}
}

func TestSequenceNumbersAreDistinct(t *testing.T) {
	c := startHelper(t, "echo")

	var (
		mu   sync.Mutex
		seen = map[uint32]bool{}
	)
	group, _ := errgroup.WithContext(context.Background())
	for i := 0; i < 10; i++ {
		group.Go(func() error {
			var last uint32
			for j := 0; j < 10; j++ {
				seq, slot, err := c.send(context.Background(), "echo", "x", time.Time{})
				if err != nil {
					return err
				}
				<-slot
				if seq <= last {
					return errors.New("sequence numbers went backwards")
				}
				last = seq
				mu.Lock()
				if seen[seq] {
					mu.Unlock()
					return errors.New("sequence number issued twice")
				}
				seen[seq] = true
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())
	assert.Len(t, seen, 100)
	assert.True(t, seen[1])
	assert.True(t, seen[100])
}

func TestMalformedFrameDoesNotStopDelivery(t *testing.T) {
	c := startHelper(t, "garbage")
	ctx := context.Background()

	for _, payload := range []string{"first", "second"} {
		res, err := c.Call(ctx, "echo", payload)
		require.NoError(t, err)
		assert.Equal(t, payload, res)
	}
}

func TestWorkerExitFailsPendingCall(t *testing.T) {
	c := startHelper(t, "exit", WithTimeout(10*time.Second))
	ctx := context.Background()

	_, err := c.Call(ctx, "echo", "x")
	assert.ErrorIs(t, err, ErrChannelClosed)

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("reader loop did not end")
	}

	_, err = c.Call(ctx, "echo", "y")
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestTimeout(t *testing.T) {
	c := startHelper(t, "silent", WithTimeout(100*time.Millisecond))

	start := time.Now()
	_, err := c.Call(context.Background(), "echo", "x")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 0, c.Pending(), "abandoned call should be removed from the registry")

	// the worker is still alive after a timeout
	select {
	case <-c.Done():
		t.Fatal("timeout should not kill the worker")
	default:
	}
}

func TestContextCancel(t *testing.T) {
	c := startHelper(t, "silent")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Call(ctx, "echo", "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.Pending())
}

func TestWriteToStalledWorkerTimesOut(t *testing.T) {
	// sleep never reads its stdin, so a payload larger than the pipe buffer blocks the write
	c, err := Start("exec sleep 30", WithTimeout(200*time.Millisecond), WithLogger(log))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	payload := strings.Repeat("x", 1<<20)
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), OpMinify, payload)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrTimeout)
	case <-time.After(5 * time.Second):
		t.Fatal("call blocked on a worker that does not read its stdin")
	}
	assert.Equal(t, 0, c.Pending())

	// part of the frame was written, so the worker is killed and later calls fail fast
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker was not killed after a partial write")
	}
	_, err = c.Call(context.Background(), OpMinify, "<p>x</p>")
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestWriteToStalledWorkerHonorsContext(t *testing.T) {
	c, err := Start("exec sleep 30", WithLogger(log))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(ctx, OpMinify, strings.Repeat("x", 1<<20))
		errCh <- err
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelling the context did not stop the write")
	}

	ctx, cancel = context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = c.Call(ctx, OpMinify, "<p>x</p>")
	assert.ErrorIs(t, err, ErrChannelClosed, "the worker was killed after the partial write")
}

func TestCloseFailsPendingCallsAndKillsWorker(t *testing.T) {
	c := startHelper(t, "silent")

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "echo", "x")
		errCh <- err
	}()
	require.Eventually(t, func() bool { return c.Pending() == 1 }, 5*time.Second, 10*time.Millisecond)

	pid := c.proc.cmd.Process.Pid
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("pending call did not fail after Close")
	}

	err := syscall.Kill(pid, 0)
	assert.ErrorIs(t, err, syscall.ESRCH, "worker process should be gone")
}

func TestStartupFailed(t *testing.T) {
	command, opts := helperCommand("echo")
	_, err := Start(command, append(opts, WithDir("/nonexistent/workermux/dir"))...)
	assert.ErrorIs(t, err, ErrStartupFailed)
}

func TestLazy(t *testing.T) {
	command, opts := helperCommand("echo")
	l := &Lazy{Command: command, Options: opts}
	t.Cleanup(func() { l.Close() })

	group, ctx := errgroup.WithContext(context.Background())
	clients := make([]*Client, 10)
	for i := range clients {
		i := i
		group.Go(func() error {
			res, err := l.Call(ctx, "echo", strconv.Itoa(i))
			if err != nil {
				return err
			}
			if res != strconv.Itoa(i) {
				return errors.New("wrong response " + res)
			}
			clients[i], err = l.Get()
			return err
		})
	}
	require.NoError(t, group.Wait())
	for _, c := range clients {
		assert.Same(t, clients[0], c)
	}

	require.NoError(t, l.Close())
	_, err := l.Call(context.Background(), "echo", "x")
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestLazyClosedBeforeUse(t *testing.T) {
	l := &Lazy{Command: "exit 1"}
	require.NoError(t, l.Close())

	c, err := l.Get()
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrChannelClosed)
}
