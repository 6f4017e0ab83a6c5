package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/workermux/internal/config"
	"github.com/guseggert/workermux/internal/httpapi"
	"github.com/guseggert/workermux/internal/logging"
	"github.com/guseggert/workermux/internal/pipeline"
	"github.com/guseggert/workermux/worker"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "workermux",
		Usage: "build HTML through one long-running worker process",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to the config file. By default " + config.FileName + " is searched for from the working directory upwards.",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "One of [debug,info,warn,error]. Overrides log.level.",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Also write logs to this file. Overrides log.file.",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "build",
				Usage:  "write every file of the source tree to the output tree, highlighting and minifying HTML",
				Flags:  append(workerFlags(), buildFlags()...),
				Action: build,
			},
			{
				Name:      "call",
				Usage:     "run one operation, reading the payload from stdin and writing the result to stdout",
				ArgsUsage: "<op>",
				Flags: append(workerFlags(), &cli.StringFlag{
					Name:  "remote",
					Usage: "Base URL of a 'workermux serve' to call instead of starting a worker.",
				}),
				Action: call,
			},
			{
				Name:  "serve",
				Usage: "share one worker over HTTP",
				Flags: append(workerFlags(), &cli.StringFlag{
					Name:  "listen-addr",
					Usage: "The address for the HTTP server to listen on. Overrides serve.listen_addr.",
				}),
				Action: serve,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func workerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "worker-cmd",
			Usage: "Shell command that starts the worker. Overrides worker.command.",
		},
		&cli.StringFlag{
			Name:  "worker-dir",
			Usage: "Working directory of the worker. Overrides worker.dir.",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "How long to wait for each response; 0 waits forever. Overrides worker.timeout.",
		},
	}
}

func buildFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "source",
			Usage: "Source tree. Overrides build.source.",
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "Output tree. Overrides build.output.",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Files in flight at once. Overrides build.concurrency.",
		},
		&cli.BoolFlag{
			Name:  "no-minify",
			Usage: "Do not minify HTML.",
		},
		&cli.BoolFlag{
			Name:  "no-highlight",
			Usage: "Do not highlight code blocks.",
		},
		&cli.StringFlag{
			Name:  "remote",
			Usage: "Base URL of a 'workermux serve' to call instead of starting a worker.",
		},
		&cli.BoolFlag{
			Name:  "watch",
			Usage: "Rebuild whenever the source tree changes, until interrupted.",
		},
	}
}

type env struct {
	cfg *config.Config
	log *zap.SugaredLogger
}

// setup loads the config, applies the flags over it and builds the logger.
// Path flags are made absolute like the paths from the config file, so the two can be mixed.
func setup(cctx *cli.Context) (*env, func(), error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(cctx.String("config"), wd)
	if err != nil {
		return nil, nil, err
	}

	if cctx.IsSet("log-level") {
		cfg.Log.Level = cctx.String("log-level")
	}
	if file := cctx.String("log-file"); file != "" {
		cfg.Log.File, err = filepath.Abs(file)
		if err != nil {
			return nil, nil, err
		}
	}
	if cctx.IsSet("worker-cmd") {
		cfg.Worker.Command = cctx.String("worker-cmd")
	}
	if cctx.IsSet("worker-dir") {
		cfg.Worker.Dir, err = filepath.Abs(cctx.String("worker-dir"))
		if err != nil {
			return nil, nil, err
		}
	}
	if cctx.IsSet("timeout") {
		cfg.Worker.Timeout = cctx.Duration("timeout")
	}
	if cctx.IsSet("source") {
		cfg.Build.Source, err = filepath.Abs(cctx.String("source"))
		if err != nil {
			return nil, nil, err
		}
	}
	if cctx.IsSet("output") {
		cfg.Build.Output, err = filepath.Abs(cctx.String("output"))
		if err != nil {
			return nil, nil, err
		}
	}
	if cctx.IsSet("concurrency") {
		cfg.Build.Concurrency = cctx.Int("concurrency")
	}
	if cctx.Bool("no-minify") {
		cfg.Build.Minify = false
	}
	if cctx.Bool("no-highlight") {
		cfg.Build.Highlight = false
	}
	if cctx.IsSet("listen-addr") {
		cfg.Serve.ListenAddr = cctx.String("listen-addr")
	}
	err = cfg.Validate()
	if err != nil {
		return nil, nil, err
	}

	l, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return nil, nil, err
	}
	log := l.Sugar()
	if cfg.Path != "" {
		log.Debugw("loaded config", "Path", cfg.Path)
	}
	return &env{cfg: cfg, log: log}, func() { _ = l.Sync() }, nil
}

func (e *env) lazyWorker(log *zap.SugaredLogger) *worker.Lazy {
	return &worker.Lazy{
		Command: e.cfg.Worker.Command,
		Options: []worker.Option{
			worker.WithDir(e.cfg.Worker.Dir),
			worker.WithEnv(e.cfg.Worker.Env...),
			worker.WithTimeout(e.cfg.Worker.Timeout),
			worker.WithLogger(log),
		},
	}
}

// caller returns the remote worker if --remote is set, or a worker started on first use.
// The returned func releases it.
func (e *env) caller(cctx *cli.Context, log *zap.SugaredLogger) (pipeline.Caller, func() error) {
	if remote := cctx.String("remote"); remote != "" {
		return httpapi.NewClient(log, remote), func() error { return nil }
	}
	lazy := e.lazyWorker(log)
	return lazy, lazy.Close
}

func signalContext(cctx *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
}

func build(cctx *cli.Context) error {
	e, sync, err := setup(cctx)
	if err != nil {
		return err
	}
	defer sync()
	ctx, stop := signalContext(cctx)
	defer stop()

	cfg := e.cfg.Build
	log := e.log.With("BuildID", uuid.NewString())
	caller, release := e.caller(cctx, log)
	defer func() {
		if err := release(); err != nil {
			log.Debugf("error closing worker: %s", err)
		}
	}()

	p := &pipeline.WritePipeline{}
	p.Push(pipeline.MkdirsHook)
	if cfg.Highlight {
		p.Push(pipeline.HighlightHook(caller))
	}
	if cfg.Minify {
		p.Push(pipeline.MinifyHook(caller, cfg.MinifiedHeader))
	}
	p.Push(pipeline.LoggingHook(log))

	runBuild := func(ctx context.Context) error {
		start := time.Now()
		n, err := pipeline.Build(ctx, pipeline.BuildOptions{
			Source:      cfg.Source,
			Output:      cfg.Output,
			Concurrency: cfg.Concurrency,
			Pipeline:    p,
		})
		if err != nil {
			return err
		}
		log.Infow("build finished", "Files", n, "Duration", time.Since(start).String())
		return nil
	}

	err = runBuild(ctx)
	if !cctx.Bool("watch") {
		return err
	}
	if err != nil {
		log.Errorw("build failed", "Error", err)
	}
	return pipeline.Watch(ctx, pipeline.WatchOptions{
		Dir:      cfg.Source,
		Ignore:   cfg.Output,
		Debounce: 100 * time.Millisecond,
		OnChange: runBuild,
		Log:      log,
	})
}

func call(cctx *cli.Context) error {
	op := cctx.Args().First()
	if op == "" {
		return errors.New("missing <op>")
	}
	e, sync, err := setup(cctx)
	if err != nil {
		return err
	}
	defer sync()
	ctx, stop := signalContext(cctx)
	defer stop()

	caller, release := e.caller(cctx, e.log)
	defer release()

	payload, err := io.ReadAll(cctx.App.Reader)
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}
	res, err := caller.Call(ctx, op, string(payload))
	if err != nil {
		return err
	}
	_, err = io.WriteString(cctx.App.Writer, res)
	return err
}

func serve(cctx *cli.Context) error {
	e, sync, err := setup(cctx)
	if err != nil {
		return err
	}
	defer sync()
	ctx, stop := signalContext(cctx)
	defer stop()

	lazy := e.lazyWorker(e.log)
	defer lazy.Close()
	// start the worker now so a bad command fails here rather than on the first request
	client, err := lazy.Get()
	if err != nil {
		return err
	}

	server := httpapi.NewServer(lazy,
		httpapi.WithListenAddr(e.cfg.Serve.ListenAddr),
		httpapi.WithLogger(e.log),
	)
	go func() {
		select {
		case <-ctx.Done():
		case <-client.Done():
			e.log.Warn("worker exited, stopping server")
		}
		if err := server.Stop(); err != nil {
			e.log.Debugf("error stopping server: %s", err)
		}
	}()
	err = server.Run()
	if err != nil {
		return err
	}
	select {
	case <-client.Done():
		return fmt.Errorf("serving: %w", worker.ErrChannelClosed)
	default:
		return nil
	}
}
