package pipeline

import (
	"fmt"

	"github.com/minios-linux/batchtrans/checkpoint"
	"github.com/minios-linux/batchtrans/partition"
)

// DetectGaps returns every unit implied by p for which exists is false,
// shard-major and window-minor. It only calls the predicate; whether that
// loads content is up to the predicate.
func DetectGaps(p partition.Params, exists func(partition.Unit) bool) ([]partition.Unit, error) {
	units, err := partition.ExpectedUnits(p)
	if err != nil {
		return nil, err
	}
	var missing []partition.Unit
	for _, u := range units {
		if !exists(u) {
			missing = append(missing, u)
		}
	}
	return missing, nil
}

// Assign deals units round-robin over workers: after removing duplicates
// (first occurrence wins), unit i goes to slot i mod workers. Every unit
// lands in exactly one slot. Slots may be empty when there are fewer units
// than workers.
func Assign(units []partition.Unit, workers int) ([][]partition.Unit, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("%w: redistribution needs at least one worker, got %d", partition.ErrInvalidConfig, workers)
	}
	slots := make([][]partition.Unit, workers)
	seen := make(map[partition.Unit]bool, len(units))
	i := 0
	for _, u := range units {
		if seen[u] {
			continue
		}
		seen[u] = true
		slots[i%workers] = append(slots[i%workers], u)
		i++
	}
	return slots, nil
}

// VerifiedExists returns a predicate that treats a unit as present only
// when its fragment loads cleanly and holds exactly the number of items
// the unit covers. Corrupt or short fragments count as missing.
func VerifiedExists(p partition.Params, store Store) func(partition.Unit) bool {
	return func(u partition.Unit) bool {
		if !store.Exists(u) {
			return false
		}
		want, err := partition.ExpectedCount(p, u)
		if err != nil {
			return false
		}
		f, err := store.Load(u)
		if err != nil {
			return false
		}
		return f.Len() == want
	}
}

// Store is the part of the checkpoint store the pipeline uses.
type Store interface {
	Exists(u partition.Unit) bool
	Save(u partition.Unit, translated, original []string) error
	Load(u partition.Unit) (checkpoint.Fragment, error)
}

var _ Store = (*checkpoint.Store)(nil)
