// Package merge reassembles checkpoint fragments into the final output.
//
// Fragments are concatenated strictly in (shard, window) order, so the
// result depends only on the keys and never on when a fragment was saved.
// Every fragment's length is checked against the item count its unit
// covers before it is used.
package merge

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/minios-linux/batchtrans/checkpoint"
	"github.com/minios-linux/batchtrans/partition"
)

// ErrIncompleteMerge is returned when an expected fragment is missing,
// unreadable, or holds the wrong number of items.
var ErrIncompleteMerge = errors.New("incomplete merge")

// Loader loads one fragment.
type Loader interface {
	Load(u partition.Unit) (checkpoint.Fragment, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(u partition.Unit) (checkpoint.Fragment, error)

// Load implements Loader.
func (f LoaderFunc) Load(u partition.Unit) (checkpoint.Fragment, error) {
	return f(u)
}

// Problem describes one unit that could not be merged.
type Problem struct {
	Unit partition.Unit
	Err  error
}

// Merge concatenates the translated side of every expected fragment.
// The result has exactly p.Total items.
func Merge(p partition.Params, loader Loader) ([]string, error) {
	return assemble(p, loader, func(f checkpoint.Fragment) []string { return f.Translated })
}

// MergeOriginals concatenates the original side of every expected
// fragment. Comparing it with the input confirms that the fragments line
// up with the items they claim to cover.
func MergeOriginals(p partition.Params, loader Loader) ([]string, error) {
	return assemble(p, loader, func(f checkpoint.Fragment) []string { return f.Original })
}

// Check loads every expected fragment and reports the units that would
// make Merge fail, without building the output.
func Check(p partition.Params, loader Loader) ([]Problem, error) {
	units, err := partition.ExpectedUnits(p)
	if err != nil {
		return nil, err
	}
	var problems []Problem
	for _, u := range units {
		if _, err := loadChecked(p, loader, u); err != nil {
			problems = append(problems, Problem{Unit: u, Err: err})
		}
	}
	return problems, nil
}

func assemble(p partition.Params, loader Loader, side func(checkpoint.Fragment) []string) ([]string, error) {
	units, err := partition.ExpectedUnits(p)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, p.Total)
	var failed []string
	for _, u := range units {
		f, err := loadChecked(p, loader, u)
		if err != nil {
			failed = append(failed, err.Error())
			continue
		}
		out = append(out, side(f)...)
	}
	if len(failed) > 0 {
		return nil, fmt.Errorf("%w: %d of %d units unusable:\n  %s",
			ErrIncompleteMerge, len(failed), len(units), strings.Join(failed, "\n  "))
	}
	if len(out) != p.Total {
		return nil, fmt.Errorf("%w: assembled %d items, expected %d", ErrIncompleteMerge, len(out), p.Total)
	}
	return out, nil
}

func loadChecked(p partition.Params, loader Loader, u partition.Unit) (checkpoint.Fragment, error) {
	want, err := partition.ExpectedCount(p, u)
	if err != nil {
		return checkpoint.Fragment{}, err
	}
	f, err := loader.Load(u)
	if err != nil {
		return checkpoint.Fragment{}, err
	}
	if f.Len() != want || len(f.Original) != want {
		return checkpoint.Fragment{}, fmt.Errorf("%s: holds %d items, expected %d", u, f.Len(), want)
	}
	return f, nil
}

// SortUnits orders units by (shard, window) ascending, in place.
func SortUnits(units []partition.Unit) {
	sort.Slice(units, func(i, j int) bool { return units[i].Less(units[j]) })
}

// Stray returns stored units that the parameters do not expect, typically
// left over from a job with a different layout.
func Stray(p partition.Params, stored []partition.Unit) ([]partition.Unit, error) {
	units, err := partition.ExpectedUnits(p)
	if err != nil {
		return nil, err
	}
	expected := make(map[partition.Unit]bool, len(units))
	for _, u := range units {
		expected[u] = true
	}
	var stray []partition.Unit
	for _, u := range stored {
		if !expected[u] {
			stray = append(stray, u)
		}
	}
	SortUnits(stray)
	return stray, nil
}
