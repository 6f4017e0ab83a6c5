// Package pipeline writes build output through a chain of hooks, some of which call out to the worker.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/guseggert/workermux/worker"
	"go.uber.org/zap"
)

// Caller runs one operation on a worker. *worker.Client, *worker.Lazy and *httpapi.Client implement it.
type Caller interface {
	Call(ctx context.Context, op, payload string) (string, error)
}

type File struct {
	Path     string
	Contents []byte
}

// Hook transforms a file about to be written into zero or more files.
type Hook func(ctx context.Context, f File) ([]File, error)

type WritePipeline struct {
	hooks []Hook
}

func (p *WritePipeline) Push(h Hook) {
	p.hooks = append(p.hooks, h)
}

// Write passes the file through every hook in order, then writes whatever comes out of the last one.
func (p *WritePipeline) Write(ctx context.Context, path string, contents []byte) error {
	files := []File{{Path: path, Contents: contents}}
	for _, hook := range p.hooks {
		var next []File
		for _, f := range files {
			out, err := hook(ctx, f)
			if err != nil {
				return err
			}
			next = append(next, out...)
		}
		files = next
	}

	for _, f := range files {
		err := os.WriteFile(f.Path, f.Contents, 0o644)
		if err != nil {
			return fmt.Errorf("writing %s: %w", f.Path, err)
		}
	}
	return nil
}

func isHTML(path string) bool {
	return strings.HasSuffix(filepath.Base(path), ".html")
}

// MkdirsHook creates the parent directories of every file.
func MkdirsHook(ctx context.Context, f File) ([]File, error) {
	err := os.MkdirAll(filepath.Dir(f.Path), 0o755)
	if err != nil {
		return nil, fmt.Errorf("making dirs for %s: %w", f.Path, err)
	}
	return []File{f}, nil
}

// HighlightHook highlights the code blocks of HTML files with the worker.
func HighlightHook(c Caller) Hook {
	return func(ctx context.Context, f File) ([]File, error) {
		if !isHTML(f.Path) {
			return []File{f}, nil
		}
		out, err := c.Call(ctx, worker.OpHighlight, string(f.Contents))
		if err != nil {
			return nil, fmt.Errorf("highlighting %s: %w", f.Path, err)
		}
		return []File{{Path: f.Path, Contents: []byte(out)}}, nil
	}
}

// MinifyHook minifies HTML files with the worker and prefixes the result with header.
func MinifyHook(c Caller, header string) Hook {
	return func(ctx context.Context, f File) ([]File, error) {
		if !isHTML(f.Path) {
			return []File{f}, nil
		}
		out, err := c.Call(ctx, worker.OpMinify, string(f.Contents))
		if err != nil {
			return nil, fmt.Errorf("minifying %s: %w", f.Path, err)
		}
		return []File{{Path: f.Path, Contents: []byte(header + out)}}, nil
	}
}

func LoggingHook(log *zap.SugaredLogger) Hook {
	return func(ctx context.Context, f File) ([]File, error) {
		log.Infow("writing", "Path", f.Path, "Bytes", len(f.Contents))
		return []File{f}, nil
	}
}
