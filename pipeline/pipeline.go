// Package pipeline drives a sharded translation job: the initial run with
// one worker per shard, gap detection over the checkpoint store, and
// round-robin redistribution of missing work units to a fresh worker pool.
//
// Workers share nothing in memory. Each one owns its units, writes only
// their checkpoint keys, and returns its own Result; the caller sums them.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/minios-linux/batchtrans/partition"
	"github.com/minios-linux/batchtrans/translate"
)

// Translator turns a batch into a batch of the same length.
type Translator interface {
	TranslateBatch(ctx context.Context, texts []string) (translate.BatchResult, error)
}

var _ Translator = (*translate.Adapter)(nil)

// ---------------------------------------------------------------------------
// Result
// ---------------------------------------------------------------------------

// Result counts the outcome of one or more work units.
type Result struct {
	Units       int
	Skipped     int
	Batches     int
	Items       int
	Translated  int
	Fallback    int
	Passthrough int
	Mismatches  int
	Failures    int
}

// Add accumulates o into r.
func (r *Result) Add(o Result) {
	r.Units += o.Units
	r.Skipped += o.Skipped
	r.Batches += o.Batches
	r.Items += o.Items
	r.Translated += o.Translated
	r.Fallback += o.Fallback
	r.Passthrough += o.Passthrough
	r.Mismatches += o.Mismatches
	r.Failures += o.Failures
}

func (r *Result) addBatch(b translate.BatchResult) {
	r.Batches++
	r.Items += len(b.Texts)
	r.Translated += b.Translated
	r.Fallback += b.Fallback
	r.Passthrough += b.Passthrough
	if b.Mismatch {
		r.Mismatches++
	}
	if b.Failed {
		r.Failures++
	}
}

func (r Result) String() string {
	return fmt.Sprintf("%d units (%d skipped), %d items: %d translated, %d fallback, %d passthrough, %d mismatched batches, %d failed batches",
		r.Units, r.Skipped, r.Items, r.Translated, r.Fallback, r.Passthrough, r.Mismatches, r.Failures)
}

// ---------------------------------------------------------------------------
// Runner
// ---------------------------------------------------------------------------

// Options configures a Runner.
type Options struct {
	// LaunchDelay staggers worker start-up.
	LaunchDelay time.Duration
	// OnLog is called for progress messages.
	OnLog func(format string, args ...any)
	// OnError is called for units that fall back or mismatch.
	OnError func(format string, args ...any)
	// OnUnit is called after each saved unit with its own result. Workers
	// call it concurrently.
	OnUnit func(worker int, u partition.Unit, res Result)
	Verbose bool
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) logError(format string, args ...any) {
	if o.OnError != nil {
		o.OnError(format, args...)
	}
}

// Runner processes work units of one job.
type Runner struct {
	params     partition.Params
	items      []string
	translator Translator
	store      Store
	opts       Options
}

// NewRunner validates p against items and returns a Runner.
func NewRunner(p partition.Params, items []string, translator Translator, store Store, opts Options) (*Runner, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Total != len(items) {
		return nil, fmt.Errorf("%w: total %d does not match %d input items", partition.ErrInvalidConfig, p.Total, len(items))
	}
	return &Runner{params: p, items: items, translator: translator, store: store, opts: opts}, nil
}

// Params returns the partition parameters of the job.
func (r *Runner) Params() partition.Params {
	return r.params
}

// ProcessUnit translates the items of u batch by batch and saves the
// fragment under u's own key. Nothing is saved if ctx is cancelled
// midway.
func (r *Runner) ProcessUnit(ctx context.Context, u partition.Unit) (Result, error) {
	rng, err := partition.UnitRange(r.params, u)
	if err != nil {
		return Result{}, err
	}
	original := r.items[rng.Start:rng.End]
	translated := make([]string, 0, len(original))

	var res Result
	for _, br := range partition.Batches(rng, r.params.BatchSize) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch := r.items[br.Start:br.End]
		out, err := r.translator.TranslateBatch(ctx, batch)
		if err != nil {
			return res, fmt.Errorf("unit %s: %w", u, err)
		}
		if len(out.Texts) != len(batch) {
			return res, fmt.Errorf("unit %s: translator returned %d items for %d", u, len(out.Texts), len(batch))
		}
		translated = append(translated, out.Texts...)
		res.addBatch(out)
	}

	if err := r.store.Save(u, translated, original); err != nil {
		return res, err
	}
	res.Units = 1
	if res.Fallback > 0 {
		r.opts.logError("Unit %s: %d of %d items kept the original text", u, res.Fallback, res.Items)
	}
	return res, nil
}

// Run is the initial run: one worker per shard, each walking its windows
// in order and skipping those already present in the store.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	slots := make([][]partition.Unit, r.params.Shards)
	for s := range slots {
		units, err := partition.ShardUnits(r.params, s)
		if err != nil {
			return Result{}, err
		}
		slots[s] = units
	}
	return r.runSlots(ctx, slots, true)
}

// Redistribute assigns units round-robin to workers and processes them.
// Fragments are saved under each unit's original key, never under the
// worker's index.
func (r *Runner) Redistribute(ctx context.Context, units []partition.Unit, workers int) (Result, error) {
	slots, err := Assign(units, workers)
	if err != nil {
		return Result{}, err
	}
	return r.runSlots(ctx, slots, false)
}

// Resume repeats detect-then-redistribute until no gaps remain or rounds
// are exhausted. exists defaults to the store's own Exists. It returns
// the units still missing afterwards.
func (r *Runner) Resume(ctx context.Context, workers, rounds int, exists func(partition.Unit) bool) (Result, []partition.Unit, error) {
	if exists == nil {
		exists = r.store.Exists
	}
	if rounds <= 0 {
		rounds = 1
	}

	var total Result
	for round := 1; ; round++ {
		gaps, err := DetectGaps(r.params, exists)
		if err != nil {
			return total, nil, err
		}
		if len(gaps) == 0 || round > rounds {
			return total, gaps, nil
		}
		r.opts.log("Round %d: %d missing units, %d workers", round, len(gaps), min(workers, len(gaps)))
		res, err := r.Redistribute(ctx, gaps, workers)
		total.Add(res)
		if err != nil {
			return total, nil, err
		}
	}
}

// runSlots starts one goroutine per non-empty slot and waits for all of
// them. A worker stops at its first error and cancels the others;
// backend problems never get here since the translator absorbs them.
func (r *Runner) runSlots(ctx context.Context, slots [][]partition.Unit, skipExisting bool) (Result, error) {
	results := make([]Result, len(slots))
	group, gctx := errgroup.WithContext(ctx)

	launched := 0
	for w, units := range slots {
		if len(units) == 0 {
			continue
		}
		if launched > 0 && r.opts.LaunchDelay > 0 {
			select {
			case <-gctx.Done():
			case <-time.After(r.opts.LaunchDelay):
			}
		}
		if gctx.Err() != nil {
			break
		}
		launched++

		group.Go(func() error {
			res := &results[w]
			if r.opts.Verbose {
				r.opts.log("Worker %d: %d units", w, len(units))
			}
			for _, u := range units {
				if skipExisting && r.store.Exists(u) {
					res.Skipped++
					continue
				}
				ur, err := r.ProcessUnit(gctx, u)
				if err != nil {
					return fmt.Errorf("worker %d: %w", w, err)
				}
				res.Add(ur)
				if r.opts.OnUnit != nil {
					r.opts.OnUnit(w, u, ur)
				}
			}
			return nil
		})
	}

	err := group.Wait()
	var total Result
	for _, res := range results {
		total.Add(res)
	}
	if err == nil {
		err = ctx.Err()
	}
	return total, err
}
