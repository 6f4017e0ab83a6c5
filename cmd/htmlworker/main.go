package main

import (
	"log"
	"os"

	"github.com/guseggert/workermux/internal/htmlops"
	"github.com/guseggert/workermux/internal/logging"
	"github.com/guseggert/workermux/worker"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "htmlworker",
		Usage: "the worker that minifies and highlights HTML, speaking JSON lines on stdin and stdout",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "One of [debug,info,warn,error].",
				Value:   "info",
				EnvVars: []string{"HTMLWORKER_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-file",
				Usage:   "Also write logs to this file, rotated by size.",
				EnvVars: []string{"HTMLWORKER_LOG_FILE"},
			},
		},
		Action: func(ctx *cli.Context) error {
			l, err := logging.New(logging.Config{
				Level:      ctx.String("log-level"),
				File:       ctx.String("log-file"),
				MaxSizeMB:  10,
				MaxBackups: 3,
			})
			if err != nil {
				return err
			}
			defer l.Sync()

			// stdout carries response frames, nothing else may write to it
			s := &worker.Server{
				Handler: htmlops.Handler(),
				Log:     l.Sugar().Named("htmlworker"),
			}
			return s.Serve(ctx.Context, os.Stdin, os.Stdout)
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
