package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Operation names understood by the HTML worker.
const (
	OpMinify    = "minify"
	OpHighlight = "highlight"
)

// Client sends requests to a single worker process and routes each response back to its caller.
// A Client is safe for concurrent use.
type Client struct {
	log     *zap.SugaredLogger
	timeout time.Duration
	procCfg processConfig

	proc     *process
	registry *registry

	// mu serializes sequence allocation, slot registration and writes to the worker's stdin,
	// so frames never interleave and requests reach the worker in sequence order.
	mu  sync.Mutex
	seq uint32

	// broken is set once a request frame was only partly written; the worker is killed then.
	broken error

	readerDone chan struct{}
	closeOnce  sync.Once
}

type Option func(c *Client)

// WithDir sets the working directory of the worker process.
func WithDir(dir string) Option {
	return func(c *Client) {
		c.procCfg.dir = dir
	}
}

// WithEnv adds "KEY=value" entries to the environment inherited by the worker.
func WithEnv(env ...string) Option {
	return func(c *Client) {
		c.procCfg.env = append(c.procCfg.env, env...)
	}
}

// WithTimeout bounds how long a call waits for its response. Zero waits forever.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Client) {
		c.log = l.Named("worker")
	}
}

// WithStderr redirects the worker's stderr, which is inherited from this process by default.
func WithStderr(w io.Writer) Option {
	return func(c *Client) {
		c.procCfg.stderr = w
	}
}

// Start launches command through the host shell and starts reading its responses.
// The returned Client owns the process; Close must be called to kill it.
func Start(command string, opts ...Option) (*Client, error) {
	c := &Client{
		log:        zap.NewNop().Sugar(),
		procCfg:    processConfig{command: command, stderr: os.Stderr},
		registry:   newRegistry(),
		readerDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	proc, err := startProcess(c.log, c.procCfg)
	if err != nil {
		return nil, err
	}
	c.proc = proc

	go c.runReader()
	return c, nil
}

func (c *Client) runReader() {
	defer close(c.readerDone)
	defer c.registry.close()

	log := c.log.Named("reader")
	err := readResponses(c.proc.stdout, c.registry, log)
	c.proc.stdout.Close()
	if err != nil {
		log.Errorw("error reading worker output", "Error", err)
	}
	if n := c.registry.pending(); n > 0 {
		log.Warnf("worker output closed with %d calls pending", n)
	}
}

// Call sends op and payload to the worker and blocks until the matching response arrives.
// The timeout and ctx bound both the write of the request and the wait for the response.
func (c *Client) Call(ctx context.Context, op, payload string) (string, error) {
	var expires time.Time
	if c.timeout > 0 {
		expires = time.Now().Add(c.timeout)
	}

	seq, slot, err := c.send(ctx, op, payload, expires)
	if err != nil {
		return "", err
	}

	var timeout <-chan time.Time
	if !expires.IsZero() {
		timer := time.NewTimer(time.Until(expires))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case data, ok := <-slot:
		if !ok {
			return "", fmt.Errorf("%s request %d: %w", op, seq, ErrChannelClosed)
		}
		return data, nil
	case <-timeout:
		c.registry.remove(seq)
		return "", fmt.Errorf("%s request %d: %w after %s", op, seq, ErrTimeout, c.timeout)
	case <-ctx.Done():
		c.registry.remove(seq)
		return "", fmt.Errorf("%s request %d: %w", op, seq, ctx.Err())
	}
}

func (c *Client) send(ctx context.Context, op, payload string, expires time.Time) (uint32, <-chan string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return 0, nil, fmt.Errorf("%s request: %w", op, c.broken)
	}
	if err := ctx.Err(); err != nil {
		return 0, nil, fmt.Errorf("%s request: %w", op, err)
	}

	c.seq++
	seq := c.seq

	// the slot must exist before the request is written, or the response could beat it
	slot, err := c.registry.register(seq)
	if err != nil {
		if errors.Is(err, ErrDuplicateSequence) {
			c.log.DPanicw("sequence number reused", "Seq", seq, "Error", err)
		}
		return 0, nil, fmt.Errorf("%s request %d: %w", op, seq, err)
	}

	line, err := encodeRequest(seq, op, payload)
	if err != nil {
		c.registry.remove(seq)
		return 0, nil, fmt.Errorf("encoding %s request %d: %w", op, seq, err)
	}
	line = append(line, '\n')

	deadline := expires
	ctxDeadline, hasCtxDeadline := ctx.Deadline()
	if hasCtxDeadline && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}

	n, err := c.write(ctx, line, deadline)
	if err != nil {
		c.registry.remove(seq)
		if n > 0 {
			// the worker holds the first part of a frame, so nothing written after it would parse
			c.broken = fmt.Errorf("%w: request %d was cut short after %d bytes", ErrChannelClosed, seq, n)
			c.log.Warnw("killing worker after a partial write", "Seq", seq, "Bytes", n, "Error", err)
			c.proc.kill()
		}
		switch {
		case !errors.Is(err, os.ErrDeadlineExceeded):
		case ctx.Err() != nil:
			err = ctx.Err()
		case hasCtxDeadline && ctxDeadline.Equal(deadline):
			err = context.DeadlineExceeded
		default:
			return 0, nil, fmt.Errorf("writing %s request %d: %w after %s", op, seq, ErrTimeout, c.timeout)
		}
		return 0, nil, fmt.Errorf("writing %s request %d: %w", op, seq, err)
	}
	c.log.Debugf("sent %s request %d (%d bytes)", op, seq, len(payload))
	return seq, slot, nil
}

// write writes line to the worker's stdin, giving up at deadline or when ctx is done.
// A zero deadline waits as long as ctx allows. Must be called with c.mu held.
func (c *Client) write(ctx context.Context, line []byte, deadline time.Time) (int, error) {
	stdin := c.proc.stdin
	err := stdin.SetWriteDeadline(deadline)
	if err == nil && ctx.Done() != nil {
		stop := make(chan struct{})
		stopped := make(chan struct{})
		go func() {
			defer close(stopped)
			select {
			case <-ctx.Done():
				stdin.SetWriteDeadline(time.Now())
			case <-stop:
			}
		}()
		defer func() {
			close(stop)
			<-stopped
		}()
	} else if err != nil && !errors.Is(err, os.ErrNoDeadline) {
		c.log.Debugf("error setting write deadline: %s", err)
	}
	return stdin.Write(line)
}

// Minify asks the worker to minify an HTML document or fragment.
func (c *Client) Minify(ctx context.Context, html string) (string, error) {
	return c.Call(ctx, OpMinify, html)
}

// Highlight asks the worker to syntax-highlight the code blocks of an HTML document or fragment.
func (c *Client) Highlight(ctx context.Context, html string) (string, error) {
	return c.Call(ctx, OpHighlight, html)
}

// Pending returns the number of calls waiting for a response.
func (c *Client) Pending() int {
	return c.registry.pending()
}

// Done is closed once the worker's output has closed and no more responses will be delivered.
func (c *Client) Done() <-chan struct{} {
	return c.readerDone
}

// Close kills the worker and waits for it to be reaped. Pending calls fail with ErrChannelClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.proc.kill()
		<-c.proc.exited
		// unblocks the reader if something outside the process group still holds the pipe
		c.proc.stdout.Close()
		<-c.readerDone
	})
	return nil
}
