// Package partition derives every item range of a sharded translation job
// from four integers: item count, shard count, batch size and window size.
//
// Nothing here depends on runtime state. A resume recomputes the exact same
// ranges the original run used, which is what lets a redistributed work unit
// be written back under its original (shard, window) key.
//
// Layout of one job:
//
//	items   [0 ............................................ T)
//	shards  [ shard 0: ceil(T/N) ][ shard 1 ] ... [ shard N-1 (clipped) ]
//	batches each shard split into runs of BatchSize items
//	windows each shard's batches grouped into runs of WindowSize batches
//
// A window is the unit of checkpointing; (shard, window) is the work unit.
package partition

import (
	"errors"
	"fmt"
	"iter"
)

// ErrInvalidConfig reports partition parameters no job can run with.
var ErrInvalidConfig = errors.New("invalid partition config")

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Params are the partition parameters of a job.
type Params struct {
	// Total is the number of items in the global sequence.
	Total int `yaml:"total"`
	// Shards is the number of initial workers (N).
	Shards int `yaml:"shards"`
	// BatchSize is the number of items per backend request (B).
	BatchSize int `yaml:"batch_size"`
	// WindowSize is the number of batches per checkpoint fragment (W).
	WindowSize int `yaml:"window_size"`
}

// Range is a half-open interval [Start, End).
type Range struct {
	Start int
	End   int
}

// Len returns the number of positions in the range.
func (r Range) Len() int {
	return r.End - r.Start
}

// Empty reports whether the range holds no positions.
func (r Range) Empty() bool {
	return r.End <= r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("[%d:%d)", r.Start, r.End)
}

// Unit identifies one checkpoint window: the unit of resumability.
// Window ids start at 1.
type Unit struct {
	Shard  int `yaml:"shard"`
	Window int `yaml:"window"`
}

func (u Unit) String() string {
	return fmt.Sprintf("%d/%d", u.Shard, u.Window)
}

// Less orders units shard-major, window-minor.
func (u Unit) Less(o Unit) bool {
	if u.Shard != o.Shard {
		return u.Shard < o.Shard
	}
	return u.Window < o.Window
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks the parameters before any work starts.
func (p Params) Validate() error {
	switch {
	case p.Shards <= 0:
		return fmt.Errorf("%w: shard count must be positive, got %d", ErrInvalidConfig, p.Shards)
	case p.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, p.BatchSize)
	case p.WindowSize <= 0:
		return fmt.Errorf("%w: window size must be positive, got %d", ErrInvalidConfig, p.WindowSize)
	case p.Total < 0:
		return fmt.Errorf("%w: item count must not be negative, got %d", ErrInvalidConfig, p.Total)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Partitioner
// ---------------------------------------------------------------------------

// ceilDiv returns ceil(a/b) for a >= 0, b > 0.
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// ShardSize returns ceil(Total/Shards), the length of every shard but
// possibly the last non-empty one.
func (p Params) ShardSize() int {
	return ceilDiv(p.Total, p.Shards)
}

// ShardRange returns the global item range of one shard. Shards past the
// end of the sequence are empty.
func ShardRange(p Params, shard int) (Range, error) {
	if err := p.Validate(); err != nil {
		return Range{}, err
	}
	if shard < 0 || shard >= p.Shards {
		return Range{}, fmt.Errorf("%w: shard %d out of range [0,%d)", ErrInvalidConfig, shard, p.Shards)
	}
	size := p.ShardSize()
	start := min(shard*size, p.Total)
	end := min(start+size, p.Total)
	return Range{Start: start, End: end}, nil
}

// Shards splits [0, Total) into Shards contiguous ranges.
func Shards(p Params) ([]Range, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := make([]Range, p.Shards)
	for i := range out {
		r, err := ShardRange(p, i)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Batcher
// ---------------------------------------------------------------------------

// BatchCount returns the number of batches n items split into.
func BatchCount(n, batchSize int) int {
	if n <= 0 || batchSize <= 0 {
		return 0
	}
	return ceilDiv(n, batchSize)
}

// WindowCount returns the number of windows a run of batches splits into.
func WindowCount(batches, windowSize int) int {
	if batches <= 0 || windowSize <= 0 {
		return 0
	}
	return ceilDiv(batches, windowSize)
}

// Batches yields (batch index, item range) for every batch of r, in order.
// The last batch may be shorter than size.
func Batches(r Range, size int) iter.Seq2[int, Range] {
	return func(yield func(int, Range) bool) {
		if size <= 0 {
			return
		}
		idx := 0
		for start := r.Start; start < r.End; start += size {
			end := min(start+size, r.End)
			if !yield(idx, Range{Start: start, End: end}) {
				return
			}
			idx++
		}
	}
}

// Windows yields (window id, batch index range) for a run of batches.
// Window ids start at 1; the last window may hold fewer batches.
func Windows(batches, windowSize int) iter.Seq2[int, Range] {
	return func(yield func(int, Range) bool) {
		if windowSize <= 0 {
			return
		}
		for first := 0; first < batches; first += windowSize {
			id := first/windowSize + 1
			if !yield(id, Range{Start: first, End: min(first+windowSize, batches)}) {
				return
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Work units
// ---------------------------------------------------------------------------

// ShardUnits returns every unit of one shard in window order.
func ShardUnits(p Params, shard int) ([]Unit, error) {
	r, err := ShardRange(p, shard)
	if err != nil {
		return nil, err
	}
	n := WindowCount(BatchCount(r.Len(), p.BatchSize), p.WindowSize)
	units := make([]Unit, 0, n)
	for w := 1; w <= n; w++ {
		units = append(units, Unit{Shard: shard, Window: w})
	}
	return units, nil
}

// ExpectedUnits enumerates every unit the parameters imply, shard-major
// and window-minor.
func ExpectedUnits(p Params) ([]Unit, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var units []Unit
	for s := 0; s < p.Shards; s++ {
		su, err := ShardUnits(p, s)
		if err != nil {
			return nil, err
		}
		units = append(units, su...)
	}
	return units, nil
}

// UnitRange returns the global item range covered by one work unit.
func UnitRange(p Params, u Unit) (Range, error) {
	shard, err := ShardRange(p, u.Shard)
	if err != nil {
		return Range{}, err
	}
	batches := BatchCount(shard.Len(), p.BatchSize)
	windows := WindowCount(batches, p.WindowSize)
	if u.Window < 1 || u.Window > windows {
		return Range{}, fmt.Errorf("%w: unit %s: window out of range [1,%d]", ErrInvalidConfig, u, windows)
	}
	firstBatch := (u.Window - 1) * p.WindowSize
	lastBatch := min(firstBatch+p.WindowSize, batches)
	start := shard.Start + firstBatch*p.BatchSize
	end := min(shard.Start+lastBatch*p.BatchSize, shard.End)
	return Range{Start: start, End: end}, nil
}

// ExpectedCount returns the number of items a fragment for u must hold.
func ExpectedCount(p Params, u Unit) (int, error) {
	r, err := UnitRange(p, u)
	if err != nil {
		return 0, err
	}
	return r.Len(), nil
}
