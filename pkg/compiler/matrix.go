package compiler

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/715d/domainmembership/pkg/facts"
	"github.com/715d/domainmembership/pkg/lint"
	"github.com/715d/domainmembership/pkg/membership"
)

// MatrixOptions configures CompileMatrix.
type MatrixOptions struct {
	// Jobs bounds the number of concurrent compilations. Values below 1
	// compile one context at a time.
	Jobs int
}

// MatrixResult is the outcome for one operating system context.
type MatrixResult struct {
	OS     string
	Result *Result
	Err    error
}

// CompileMatrix compiles params for every context. A failing context does
// not stop the others. Results are returned in context order.
func (c *Compiler) CompileMatrix(ctx context.Context, contexts []facts.Context, params membership.Params, sc *lint.Checker, opts MatrixOptions) []MatrixResult {
	// Each goroutine writes only its own index.
	results := make([]MatrixResult, len(contexts))

	jobs := max(opts.Jobs, 1)
	var wg errgroup.Group
	wg.SetLimit(jobs)

	for idx, osCtx := range contexts {
		wg.Go(func() error {
			res, err := c.Compile(ctx, Request{
				OS:           osCtx.Name,
				Facts:        osCtx.Facts,
				Params:       params,
				Suppressions: sc,
			})
			results[idx] = MatrixResult{OS: osCtx.Name, Result: res, Err: err}
			return nil
		})
	}

	_ = wg.Wait()
	return results
}

// Failed returns the results that carry an error.
func Failed(results []MatrixResult) []MatrixResult {
	var out []MatrixResult
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
