package worker

import (
	"context"
	"fmt"
	"sync"
)

// Lazy is a shared worker handle that starts the worker on first use.
// Construct one per build and pass it to everything that needs the worker.
type Lazy struct {
	Command string
	Options []Option

	once   sync.Once
	client *Client
	err    error
}

// Get returns the Client, starting the worker if this is the first use.
// A startup failure is returned to every caller; it is not retried.
func (l *Lazy) Get() (*Client, error) {
	l.once.Do(func() {
		l.client, l.err = Start(l.Command, l.Options...)
	})
	return l.client, l.err
}

func (l *Lazy) Call(ctx context.Context, op, payload string) (string, error) {
	c, err := l.Get()
	if err != nil {
		return "", err
	}
	return c.Call(ctx, op, payload)
}

// Close kills the worker if it was started. After Close, Get no longer starts a worker.
func (l *Lazy) Close() error {
	l.once.Do(func() {
		l.err = fmt.Errorf("worker handle closed: %w", ErrChannelClosed)
	})
	if l.client != nil {
		return l.client.Close()
	}
	return nil
}
