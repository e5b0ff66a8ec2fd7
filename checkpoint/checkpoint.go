// Package checkpoint persists one fragment per work unit in a directory.
//
// A fragment is two JSON arrays of strings written side by side:
//
//	<shard>_<window>_original.json    the source items of the unit
//	<shard>_<window>_translated.json  the translated items, same length
//
// The translated file is always written last, each file through a
// temporary file and an atomic rename, so the presence of the translated
// file means the fragment is complete.
package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/minios-linux/batchtrans/partition"
)

var (
	// ErrNotFound is returned by Load when no fragment exists for a unit.
	ErrNotFound = errors.New("fragment not found")
	// ErrCorruptFragment is returned by Load for unreadable, unparsable or
	// misaligned fragments.
	ErrCorruptFragment = errors.New("corrupt fragment")
)

var translatedName = regexp.MustCompile(`^(\d+)_(\d+)_translated\.json$`)

// Fragment is the persisted output of one work unit.
type Fragment struct {
	Translated []string
	Original   []string
}

// Len returns the number of items in the fragment.
func (f Fragment) Len() int {
	return len(f.Translated)
}

// Store is a directory of fragments. It holds no in-memory state, so any
// number of workers may share one Store as long as they write disjoint
// units.
type Store struct {
	dir string
}

// Open returns a Store rooted at dir, creating the directory if needed.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("checkpoint directory is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory the store writes to.
func (s *Store) Dir() string {
	return s.dir
}

// TranslatedPath returns the path of the translated file for u.
func (s *Store) TranslatedPath(u partition.Unit) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d_%d_translated.json", u.Shard, u.Window))
}

// OriginalPath returns the path of the original file for u.
func (s *Store) OriginalPath(u partition.Unit) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d_%d_original.json", u.Shard, u.Window))
}

// Exists reports whether a complete fragment for u is present. It costs
// one stat and never reads the file.
func (s *Store) Exists(u partition.Unit) bool {
	_, err := os.Stat(s.TranslatedPath(u))
	return err == nil
}

// Save writes the fragment for u, replacing any previous one.
func (s *Store) Save(u partition.Unit, translated, original []string) error {
	if len(translated) != len(original) {
		return fmt.Errorf("saving %s: %d translated vs %d original items", u, len(translated), len(original))
	}
	orig, err := encode(original)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", u, err)
	}
	trans, err := encode(translated)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", u, err)
	}
	if err := writeAtomic(s.OriginalPath(u), orig, 0644); err != nil {
		return fmt.Errorf("saving %s: %w", u, err)
	}
	if err := writeAtomic(s.TranslatedPath(u), trans, 0644); err != nil {
		return fmt.Errorf("saving %s: %w", u, err)
	}
	return nil
}

// Load reads the fragment for u.
func (s *Store) Load(u partition.Unit) (Fragment, error) {
	trans, err := readStrings(s.TranslatedPath(u))
	if errors.Is(err, os.ErrNotExist) {
		return Fragment{}, fmt.Errorf("%s: %w", u, ErrNotFound)
	}
	if err != nil {
		return Fragment{}, fmt.Errorf("%s: %w: %w", u, ErrCorruptFragment, err)
	}
	orig, err := readStrings(s.OriginalPath(u))
	if err != nil {
		return Fragment{}, fmt.Errorf("%s: %w: original: %w", u, ErrCorruptFragment, err)
	}
	if len(trans) != len(orig) {
		return Fragment{}, fmt.Errorf("%s: %w: %d translated vs %d original items", u, ErrCorruptFragment, len(trans), len(orig))
	}
	return Fragment{Translated: trans, Original: orig}, nil
}

// Remove deletes the fragment for u. Removing a missing fragment is not
// an error.
func (s *Store) Remove(u partition.Unit) error {
	for _, p := range []string{s.TranslatedPath(u), s.OriginalPath(u)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", u, err)
		}
	}
	return nil
}

// List returns every unit with a translated file on disk, in
// (shard, window) order.
func (s *Store) List() ([]partition.Unit, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	var units []partition.Unit
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := translatedName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		shard, err1 := strconv.Atoi(m[1])
		window, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			continue
		}
		units = append(units, partition.Unit{Shard: shard, Window: window})
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Less(units[j]) })
	return units, nil
}

func encode(items []string) ([]byte, error) {
	if items == nil {
		items = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(items); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readStrings(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}
