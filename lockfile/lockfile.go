// Package lockfile implements batchtrans.lock, the file that pins a
// checkpoint directory to the job that produced it: the partition
// parameters and an MD5 of the input items. Fragment keys only make sense
// under the parameters that created them, so a resume against a changed
// layout or a different input is refused before any work starts.
//
// The lock file also keeps a short history of the runs that touched the
// directory.
package lockfile

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/minios-linux/batchtrans/partition"
)

// LockFileName is the lock file name inside the checkpoint directory.
const LockFileName = "batchtrans.lock"

// Version is the lock file format version.
const Version = 1

// maxRuns bounds the run history kept in the file.
const maxRuns = 50

// Run kinds.
const (
	KindRun    = "run"
	KindResume = "resume"
)

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Run records one invocation against the checkpoint directory.
type Run struct {
	ID         string    `yaml:"id"`
	Kind       string    `yaml:"kind"`
	Started    time.Time `yaml:"started"`
	Finished   time.Time `yaml:"finished,omitempty"`
	Units      int       `yaml:"units"`
	Translated int       `yaml:"translated"`
	Fallback   int       `yaml:"fallback"`
}

// LockFile represents the batchtrans.lock file structure.
type LockFile struct {
	Version   int              `yaml:"version"`
	Params    partition.Params `yaml:"params"`
	InputHash string           `yaml:"input_md5"`
	Runs      []Run            `yaml:"runs,omitempty"`

	mu   sync.Mutex `yaml:"-"`
	path string     `yaml:"-"`
}

// ---------------------------------------------------------------------------
// Loading and saving
// ---------------------------------------------------------------------------

// Load reads the lock file from dir.
// Returns an empty, unpinned lock file if the file doesn't exist.
func Load(dir string) (*LockFile, error) {
	path := filepath.Join(dir, LockFileName)
	lf := &LockFile{Version: Version, path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lf, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, lf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	lf.path = path
	if lf.Version > Version {
		return nil, fmt.Errorf("%s: unsupported lock version %d", path, lf.Version)
	}
	return lf, nil
}

// Save writes the lock file to disk.
func (lf *LockFile) Save() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.path == "" {
		return fmt.Errorf("lock file path not set")
	}
	if err := os.MkdirAll(filepath.Dir(lf.path), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(lf.path), err)
	}

	data, err := yaml.Marshal(lf)
	if err != nil {
		return fmt.Errorf("marshaling lock file: %w", err)
	}
	if err := os.WriteFile(lf.path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", lf.path, err)
	}
	return nil
}

// Path returns the lock file path.
func (lf *LockFile) Path() string {
	return lf.path
}

// ---------------------------------------------------------------------------
// Pinning
// ---------------------------------------------------------------------------

// Hash computes the MD5 hex digest of data.
func Hash(data []byte) string {
	return fmt.Sprintf("%x", md5.Sum(data))
}

// HashFile computes the MD5 hex digest of a file's content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// Pinned reports whether the lock already records a job.
func (lf *LockFile) Pinned() bool {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.InputHash != ""
}

// Pin binds the lock to p and inputHash. An unpinned lock takes the
// values; a pinned one must match them exactly, otherwise the error wraps
// partition.ErrInvalidConfig.
func (lf *LockFile) Pin(p partition.Params, inputHash string) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.InputHash == "" {
		lf.Params = p
		lf.InputHash = inputHash
		return nil
	}
	if lf.Params != p {
		return fmt.Errorf("%w: checkpoints in %s were written with %s, current job uses %s",
			partition.ErrInvalidConfig, filepath.Dir(lf.path), describe(lf.Params), describe(p))
	}
	if lf.InputHash != inputHash {
		return fmt.Errorf("%w: input changed since checkpoints in %s were written (md5 %s, now %s)",
			partition.ErrInvalidConfig, filepath.Dir(lf.path), lf.InputHash, inputHash)
	}
	return nil
}

// Reset unpins the lock and clears the run history.
func (lf *LockFile) Reset() {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	lf.Params = partition.Params{}
	lf.InputHash = ""
	lf.Runs = nil
}

func describe(p partition.Params) string {
	return fmt.Sprintf("total=%d shards=%d batch=%d window=%d", p.Total, p.Shards, p.BatchSize, p.WindowSize)
}

// ---------------------------------------------------------------------------
// Run history
// ---------------------------------------------------------------------------

// StartRun appends a new run record and returns its ID.
func (lf *LockFile) StartRun(kind string) string {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	id := uuid.NewString()
	lf.Runs = append(lf.Runs, Run{ID: id, Kind: kind, Started: time.Now().UTC().Truncate(time.Second)})
	if len(lf.Runs) > maxRuns {
		lf.Runs = lf.Runs[len(lf.Runs)-maxRuns:]
	}
	return id
}

// FinishRun records the outcome of the run with the given ID. Unknown IDs
// are ignored.
func (lf *LockFile) FinishRun(id string, units, translated, fallback int) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	for i := range lf.Runs {
		if lf.Runs[i].ID != id {
			continue
		}
		lf.Runs[i].Finished = time.Now().UTC().Truncate(time.Second)
		lf.Runs[i].Units = units
		lf.Runs[i].Translated = translated
		lf.Runs[i].Fallback = fallback
		return
	}
}

// LastRun returns the most recent run, if any.
func (lf *LockFile) LastRun() (Run, bool) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if len(lf.Runs) == 0 {
		return Run{}, false
	}
	return lf.Runs[len(lf.Runs)-1], true
}
