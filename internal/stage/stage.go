// Package stage runs one enrichment stage: a per-record operation fanned
// out over an input record set with bounded concurrency and
// partial-success semantics. The runner never drops a row silently;
// every input either yields an output or a recorded failure.
package stage

import (
	"context"
	"fmt"
	"sync"

	"comms-intel-go/internal/types"
)

// Op is one pure per-record call into the text generation service.
type Op[I, O any] func(ctx context.Context, in I) (O, error)

// Options configures a stage run.
type Options struct {
	// Name tags recorded failures with the owning stage.
	Name string
	// Concurrency bounds simultaneous per-record calls. Zero or negative
	// means sequential.
	Concurrency int
	// Classify maps an op error to a failure kind. Defaults to
	// service-unavailable, which keeps unknown failures retriable.
	Classify func(error) types.FailureKind
}

// Result is the outcome of one stage run. Outputs is keyed by record id:
// the output set is unordered and correctness never depends on position.
type Result[O any] struct {
	Outputs  map[string]O
	Failures []types.RecordFailure
}

// Failed reports whether any record failed.
func (r Result[O]) Failed() bool {
	return len(r.Failures) > 0
}

// FailedIDs lists the record ids that produced no output, for re-running
// just the failed subset.
func (r Result[O]) FailedIDs() []string {
	ids := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		ids = append(ids, f.RecordID)
	}
	return ids
}

// Run executes op once per input. Per-record failures are recorded and
// never abort the run; sibling records are unaffected. Run returns an
// error only when the context is cancelled, in which case the caller
// must not materialize the partial output.
func Run[I, O any](ctx context.Context, inputs []I, id func(I) string, op Op[I, O], opts Options) (Result[O], error) {
	res := Result[O]{Outputs: make(map[string]O, len(inputs))}
	if len(inputs) == 0 {
		return res, nil
	}

	classify := opts.Classify
	if classify == nil {
		classify = func(error) types.FailureKind { return types.FailServiceUnavailable }
	}

	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	if workers > len(inputs) {
		workers = len(inputs)
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		tasks = make(chan I)
	)

	record := func(in I) {
		recordID := id(in)
		out, err := runOne(ctx, in, op)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			res.Failures = append(res.Failures, types.RecordFailure{
				RecordID: recordID,
				Stage:    opts.Name,
				Kind:     classify(err),
				Detail:   err.Error(),
			})
			return
		}
		res.Outputs[recordID] = out
	}

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for in := range tasks {
				record(in)
			}
		}()
	}

	var cancelled bool
dispatch:
	for _, in := range inputs {
		select {
		case tasks <- in:
		case <-ctx.Done():
			cancelled = true
			break dispatch
		}
	}
	close(tasks)
	wg.Wait()

	if cancelled {
		return Result[O]{}, ctx.Err()
	}
	return res, nil
}

// runOne isolates a single op call so a panicking operation is contained
// as that record's failure instead of taking down the stage.
func runOne[I, O any](ctx context.Context, in I, op Op[I, O]) (out O, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in record operation: %v", r)
		}
	}()
	return op(ctx, in)
}
