package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

type BuildOptions struct {
	Source      string
	Output      string
	Concurrency int
	Pipeline    *WritePipeline
}

// Build writes every file under opts.Source to the same relative path under opts.Output,
// through opts.Pipeline, with up to opts.Concurrency files in flight.
// The first failure cancels the rest of the build. It returns the number of source files.
func Build(ctx context.Context, opts BuildOptions) (int, error) {
	paths, err := sourceFiles(opts.Source, opts.Output)
	if err != nil {
		return 0, err
	}

	group, ctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		group.SetLimit(opts.Concurrency)
	}
	for _, rel := range paths {
		rel := rel
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			contents, err := os.ReadFile(filepath.Join(opts.Source, rel))
			if err != nil {
				return fmt.Errorf("reading %s: %w", rel, err)
			}
			err = opts.Pipeline.Write(ctx, filepath.Join(opts.Output, rel), contents)
			if err != nil {
				return fmt.Errorf("building %s: %w", rel, err)
			}
			return nil
		})
	}
	return len(paths), group.Wait()
}

// sourceFiles lists the files under source relative to it, skipping output if it is nested inside.
// Either may be relative to the working directory.
func sourceFiles(source, output string) ([]string, error) {
	source, err := filepath.Abs(source)
	if err != nil {
		return nil, fmt.Errorf("resolving source: %w", err)
	}
	output, err = filepath.Abs(output)
	if err != nil {
		return nil, fmt.Errorf("resolving output: %w", err)
	}
	var paths []string
	err = filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == output {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing source files: %w", err)
	}
	return paths, nil
}
