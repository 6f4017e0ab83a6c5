package worker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Handler performs one operation for the worker side of the protocol.
type Handler interface {
	Handle(ctx context.Context, op, data string) (string, error)
}

type HandlerFunc func(ctx context.Context, op, data string) (string, error)

func (f HandlerFunc) Handle(ctx context.Context, op, data string) (string, error) {
	return f(ctx, op, data)
}

// Mux dispatches requests by operation name. Unknown operations are answered with "?".
type Mux struct {
	ops map[string]func(ctx context.Context, data string) (string, error)
}

func NewMux() *Mux {
	return &Mux{ops: map[string]func(ctx context.Context, data string) (string, error){}}
}

func (m *Mux) HandleFunc(op string, f func(ctx context.Context, data string) (string, error)) {
	m.ops[op] = f
}

func (m *Mux) Handle(ctx context.Context, op, data string) (string, error) {
	f, ok := m.ops[op]
	if !ok {
		return "?", nil
	}
	return f(ctx, data)
}

// Server is the worker side of the protocol: it reads request frames and writes response frames.
type Server struct {
	Handler Handler
	Log     *zap.SugaredLogger
}

// Serve handles requests from r until it is exhausted, writing responses to w.
// Each request runs in its own goroutine, so responses may be written out of order.
// The protocol has no error frame, so a failed request is answered with its input unchanged.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	var (
		wg      sync.WaitGroup
		writeMu sync.Mutex
	)
	respond := func(seq uint32, data string) {
		b, err := encodeResponse(seq, data)
		if err != nil {
			log.Errorw("error encoding response", "Seq", seq, "Error", err)
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err = w.Write(append(b, '\n'))
		if err != nil {
			log.Debugf("error writing response %d: %s", seq, err)
		}
	}

	reader := bufio.NewReaderSize(r, 64*1024)
	var readErr error
	for {
		line, err := reader.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			req, decodeErr := decodeRequest(line)
			if decodeErr != nil {
				log.Warnw("skipping malformed request", "Error", decodeErr)
			} else {
				wg.Add(1)
				go func() {
					defer wg.Done()
					data, err := s.Handler.Handle(ctx, req.Op, req.Data)
					if err != nil {
						log.Errorw("request failed, echoing input", "Op", req.Op, "Seq", req.Seq, "Error", err)
						data = req.Data
					}
					respond(req.Seq, data)
				}()
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}

	wg.Wait()
	return readErr
}
