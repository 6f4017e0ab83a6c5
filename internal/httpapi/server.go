// Package httpapi shares one worker over HTTP, so that short-lived builds can reuse a long-running worker.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/workermux/worker"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// readLimit bounds the size of a single WebSocket request frame.
const readLimit = 16 << 20

// Caller runs one operation on a worker.
type Caller interface {
	Call(ctx context.Context, op, payload string) (string, error)
}

// Server exposes a Caller over HTTP:
//
//	GET  /heartbeat  liveness check
//	POST /call/:op   request body is the payload, response body is the result
//	GET  /ws         WebSocket carrying JSON request frames in and wsResponse frames out
type Server struct {
	log        *zap.SugaredLogger
	caller     Caller
	listenAddr string
	startedAt  time.Time
	httpServer *http.Server
}

// wsResponse is a response frame on the WebSocket endpoint. Unlike the worker protocol it can carry an error.
type wsResponse struct {
	Seq   uint32 `json:"seq"`
	Data  string `json:"data"`
	Error string `json:"error,omitempty"`
}

type Option func(s *Server)

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Server) {
		s.log = l.Named("httpapi")
	}
}

func NewServer(caller Caller, opts ...Option) *Server {
	s := &Server{
		log:        zap.NewNop().Sugar(),
		caller:     caller,
		listenAddr: "127.0.0.1:8181",
		startedAt:  time.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	s.httpServer = &http.Server{Handler: s.Handler()}
	return s
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/heartbeat", s.heartbeat)
	router.POST("/call/:op", s.call)
	router.GET("/ws", s.callWS)
	return router
}

// Run serves until Stop is called.
func (s *Server) Run() error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	s.log.Infow("serving worker", "Addr", listener.Addr().String())

	err = s.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop() error {
	return s.httpServer.Close()
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	response := struct {
		StartedAt string
	}{
		StartedAt: s.startedAt.UTC().Format(time.RFC3339),
	}
	b, err := json.Marshal(response)
	if err != nil {
		s.log.Debugf("error marshaling heartbeat response: %s", err)
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}

func (s *Server) call(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	op := params.ByName("op")
	b, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.caller.Call(r.Context(), op, string(b))
	if err != nil {
		s.log.Debugw("call failed", "Op", op, "Error", err)
		http.Error(w, err.Error(), statusCode(err))
		return
	}
	w.Header().Add("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(res))
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, worker.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, worker.ErrChannelClosed), errors.Is(err, worker.ErrStartupFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// callWS runs every request frame as its own call and writes each response as soon as it is ready,
// so responses may come back in a different order than the requests.
func (s *Server) callWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.log.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	conn.SetReadLimit(readLimit)
	log := s.log.With("Session", uuid.NewString())
	log.Debug("accepted WebSocket conn")

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		var req worker.Request
		err := wsjson.Read(ctx, conn, &req)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			log.Debug("got normal closure from client, wrapping up")
			return
		}
		if err != nil {
			log.Debugf("message reader got error: %s", err)
			conn.Close(websocket.StatusInternalError, "read error")
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := wsResponse{Seq: req.Seq}
			data, err := s.caller.Call(ctx, req.Op, req.Data)
			if err != nil {
				log.Debugw("call failed", "Op", req.Op, "Seq", req.Seq, "Error", err)
				resp.Error = err.Error()
			} else {
				resp.Data = data
			}
			err = wsjson.Write(ctx, conn, resp)
			if err != nil {
				log.Debugf("error writing response %d: %s", req.Seq, err)
			}
		}()
	}
}
