// Package htmlops implements the operations of the HTML worker.
package htmlops

import (
	"context"

	"github.com/guseggert/workermux/worker"
)

// Handler routes the worker's operations to Minify and Highlight.
func Handler() *worker.Mux {
	mux := worker.NewMux()
	mux.HandleFunc(worker.OpMinify, func(ctx context.Context, data string) (string, error) {
		return Minify(data)
	})
	mux.HandleFunc(worker.OpHighlight, func(ctx context.Context, data string) (string, error) {
		return Highlight(data)
	})
	return mux
}
