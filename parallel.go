package gopeakcore

import (
	"context"
	"sync"
)

type decomposeJob struct {
	index int
	curve *Curve
}

type decomposeOutcome struct {
	index  int
	result *Decomposition
	err    error
}

// DecomposeAll runs the decomposer over many curves on a bounded worker
// pool. Results are returned in input order; a failed curve yields a nil
// entry and the first error is returned after all curves finish. The
// context cancels queued work, not fits already in flight.
func DecomposeAll(ctx context.Context, d *Decomposer, curves []*Curve, workers int) ([]*Decomposition, error) {
	if workers <= 0 {
		workers = 4
	}
	if workers > len(curves) {
		workers = len(curves)
	}

	jobs := make(chan decomposeJob, len(curves))
	outcomes := make(chan decomposeOutcome, len(curves))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-ctx.Done():
					outcomes <- decomposeOutcome{index: j.index, err: ctx.Err()}
					continue
				default:
				}
				res, err := d.Run(j.curve)
				outcomes <- decomposeOutcome{index: j.index, result: res, err: err}
			}
		}()
	}

	for i, c := range curves {
		jobs <- decomposeJob{index: i, curve: c}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	results := make([]*Decomposition, len(curves))
	var firstErr error
	for o := range outcomes {
		results[o.index] = o.result
		if o.err != nil && firstErr == nil {
			firstErr = o.err
		}
	}
	return results, firstErr
}
