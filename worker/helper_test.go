package worker

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

// helperEnv makes the test binary act as a worker instead of running tests.
const helperEnv = "WORKERMUX_TEST_WORKER"

var log *zap.SugaredLogger

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelperWorker(mode))
	}

	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	log = l.Sugar()

	os.Exit(m.Run())
}

// helperCommand returns the shell command and options that start this test binary as a worker in the given mode.
func helperCommand(mode string) (string, []Option) {
	exe := "'" + strings.ReplaceAll(os.Args[0], "'", `'\''`) + "'"
	return "exec " + exe, []Option{
		WithEnv(helperEnv + "=" + mode),
		WithLogger(log),
	}
}

func startHelper(t *testing.T, mode string, opts ...Option) *Client {
	t.Helper()
	command, baseOpts := helperCommand(mode)
	c, err := Start(command, append(baseOpts, opts...)...)
	if err != nil {
		t.Fatalf("starting helper worker: %s", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

var (
	betweenTags = regexp.MustCompile(`>\s+|\s+<`)
	keywords    = regexp.MustCompile(`\b(let|x|1)\b`)
)

func runHelperWorker(mode string) int {
	ctx := context.Background()
	switch mode {
	case "echo":
		// echoes data back after a random delay, so responses come back out of order
		s := &Server{Handler: HandlerFunc(func(ctx context.Context, op, data string) (string, error) {
			time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
			return data, nil
		})}
		return exitCode(s.Serve(ctx, os.Stdin, os.Stdout))
	case "html":
		mux := NewMux()
		mux.HandleFunc(OpMinify, func(ctx context.Context, data string) (string, error) {
			return betweenTags.ReplaceAllStringFunc(data, strings.TrimSpace), nil
		})
		mux.HandleFunc(OpHighlight, func(ctx context.Context, data string) (string, error) {
			return keywords.ReplaceAllString(data, `<span>$1</span>`), nil
		})
		s := &Server{Handler: mux}
		return exitCode(s.Serve(ctx, os.Stdin, os.Stdout))
	case "arrival":
		// answers with the order in which requests arrived
		var n int64
		s := &Server{Handler: HandlerFunc(func(ctx context.Context, op, data string) (string, error) {
			return fmt.Sprint(atomic.AddInt64(&n, 1)), nil
		})}
		return exitCode(s.Serve(ctx, os.Stdin, os.Stdout))
	case "garbage":
		// writes a malformed line before every valid response
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			req, err := decodeRequest(scanner.Bytes())
			if err != nil {
				return 2
			}
			resp, _ := encodeResponse(req.Seq, req.Data)
			fmt.Fprintf(os.Stdout, "{this is not json\n%s\n", resp)
		}
		return 0
	case "pid":
		s := &Server{Handler: HandlerFunc(func(ctx context.Context, op, data string) (string, error) {
			return fmt.Sprint(os.Getpid()), nil
		})}
		return exitCode(s.Serve(ctx, os.Stdin, os.Stdout))
	case "silent":
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
		}
		return 0
	case "exit":
		// dies as soon as it receives a request
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Scan()
		return 3
	}
	fmt.Fprintf(os.Stderr, "unknown helper mode %q\n", mode)
	return 2
}

func exitCode(err error) int {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
