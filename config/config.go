// Package config handles the .batchtrans.yaml job file.
//
// The file sits in the job's working directory and describes one job:
// where the items come from, where checkpoints go, how the work is split
// and which translation provider to use. Every field has a default, so a
// missing file is the same as an empty one. Relative paths are resolved
// against the directory holding the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/minios-linux/batchtrans/partition"
	"github.com/minios-linux/batchtrans/translate"
)

// FileName is the job file name.
const FileName = ".batchtrans.yaml"

// Retry backoff policies.
const (
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

// MaxRetryWait caps the exponential backoff.
const MaxRetryWait = time.Minute

// ---------------------------------------------------------------------------
// YAML schema
// ---------------------------------------------------------------------------

// File is the top-level .batchtrans.yaml structure.
type File struct {
	// Input is the items file (JSON array of strings).
	Input string `yaml:"input"`
	// Output receives the merged translation.
	Output string `yaml:"output"`
	// CheckpointDir holds one fragment pair per work unit.
	CheckpointDir string `yaml:"checkpoint_dir"`

	// Workers is the shard count of the initial run.
	Workers int `yaml:"workers"`
	// ResumeWorkers is the redistribution pool size.
	ResumeWorkers int `yaml:"resume_workers"`
	// ResumeRounds bounds detect-and-redistribute passes.
	ResumeRounds int `yaml:"resume_rounds"`
	BatchSize    int `yaml:"batch_size"`
	WindowSize   int `yaml:"window_size"`

	// MaxRetries is the number of attempts per batch.
	MaxRetries int `yaml:"max_retries"`
	// RetryDelay is nil when unset; "0s" retries immediately.
	RetryDelay *time.Duration `yaml:"retry_delay"`
	// RetryBackoff is "constant" or "exponential". Exponential doubles
	// RetryDelay after every failed attempt up to MaxRetryWait.
	RetryBackoff string        `yaml:"retry_backoff"`
	LaunchDelay  time.Duration `yaml:"launch_delay"`

	SourceLang string        `yaml:"source_lang"`
	TargetLang string        `yaml:"target_lang"`
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model,omitempty"`
	BaseURL    string        `yaml:"base_url,omitempty"`
	Proxy      string        `yaml:"proxy,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	// Prompt replaces the system prompt entirely.
	Prompt string `yaml:"prompt,omitempty"`
	// PromptType selects a named prompt from prompts.json.
	PromptType string `yaml:"prompt_type,omitempty"`

	Extract Extract `yaml:"extract"`

	dir   string `yaml:"-"`
	found bool   `yaml:"-"`
}

// Extract configures the extract and apply commands.
type Extract struct {
	SourceDir    string   `yaml:"source_dir"`
	OutputDir    string   `yaml:"output_dir"`
	Pattern      string   `yaml:"pattern,omitempty"`
	SkipKeys     []string `yaml:"skip_keys,omitempty"`
	ExcludeFiles []string `yaml:"exclude_files,omitempty"`
}

// Default returns a File with every default applied.
func Default() *File {
	f := &File{}
	f.applyDefaults()
	return f
}

func (f *File) applyDefaults() {
	setString(&f.Input, "translation_strings.json")
	setString(&f.Output, "translation_strings_cn.json")
	setString(&f.CheckpointDir, "json_temp")
	setInt(&f.Workers, 8)
	setInt(&f.ResumeWorkers, 8)
	setInt(&f.ResumeRounds, 3)
	setInt(&f.BatchSize, 50)
	setInt(&f.WindowSize, 10)
	setInt(&f.MaxRetries, 3)
	if f.RetryDelay == nil {
		d := 3 * time.Second
		f.RetryDelay = &d
	}
	setString(&f.RetryBackoff, BackoffConstant)
	if f.LaunchDelay == 0 {
		f.LaunchDelay = 100 * time.Millisecond
	}
	setString(&f.SourceLang, "ja")
	setString(&f.TargetLang, "zh-CN")
	setString(&f.Provider, "deepseek")
	setString(&f.PromptType, "game")
	setString(&f.Extract.SourceDir, "www/data")
	setString(&f.Extract.OutputDir, "www/data_translated")
}

func setString(p *string, v string) {
	if *p == "" {
		*p = v
	}
}

func setInt(p *int, v int) {
	if *p == 0 {
		*p = v
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads .batchtrans.yaml from dir and applies defaults. A missing
// file yields the defaults.
func Load(dir string) (*File, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(abs, FileName)

	f := &File{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		f.found = true
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	f.dir = abs
	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Validate checks values that defaults cannot repair. It runs after
// defaults and command-line overrides are applied, so zero counts are
// errors here.
func (f *File) Validate() error {
	switch {
	case f.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive, got %d", partition.ErrInvalidConfig, f.Workers)
	case f.ResumeWorkers <= 0:
		return fmt.Errorf("%w: resume_workers must be positive, got %d", partition.ErrInvalidConfig, f.ResumeWorkers)
	case f.ResumeRounds <= 0:
		return fmt.Errorf("%w: resume_rounds must be positive, got %d", partition.ErrInvalidConfig, f.ResumeRounds)
	case f.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size must be positive, got %d", partition.ErrInvalidConfig, f.BatchSize)
	case f.WindowSize <= 0:
		return fmt.Errorf("%w: window_size must be positive, got %d", partition.ErrInvalidConfig, f.WindowSize)
	case f.MaxRetries <= 0:
		return fmt.Errorf("%w: max_retries must be positive, got %d", partition.ErrInvalidConfig, f.MaxRetries)
	case f.RetryDelay != nil && *f.RetryDelay < 0, f.LaunchDelay < 0, f.Timeout < 0:
		return fmt.Errorf("%w: delays must not be negative", partition.ErrInvalidConfig)
	case f.RetryBackoff != BackoffConstant && f.RetryBackoff != BackoffExponential:
		return fmt.Errorf("%w: retry_backoff must be %q or %q, got %q", partition.ErrInvalidConfig, BackoffConstant, BackoffExponential, f.RetryBackoff)
	}
	return nil
}

// Backoff returns the pause after each failed attempt.
func (f *File) Backoff() translate.Backoff {
	d := 3 * time.Second
	if f.RetryDelay != nil {
		d = *f.RetryDelay
	}
	if f.RetryBackoff == BackoffExponential {
		return translate.ExponentialBackoff(d, MaxRetryWait)
	}
	return translate.ConstantBackoff(d)
}

// Found reports whether the file existed on disk.
func (f *File) Found() bool {
	return f.found
}

// Dir returns the directory relative paths are resolved against.
func (f *File) Dir() string {
	return f.dir
}

// Path returns the path of the job file.
func (f *File) Path() string {
	return filepath.Join(f.dir, FileName)
}

// Abs resolves p against the job directory.
func (f *File) Abs(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(f.dir, p)
}

// Params returns the partition parameters for total items.
func (f *File) Params(total int) partition.Params {
	return partition.Params{
		Total:      total,
		Shards:     f.Workers,
		BatchSize:  f.BatchSize,
		WindowSize: f.WindowSize,
	}
}

// Save writes f to its job file.
func (f *File) Save() error {
	if f.dir == "" {
		return fmt.Errorf("config directory not set")
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(f.Path(), data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", f.Path(), err)
	}
	f.found = true
	return nil
}

// Init writes a job file with the defaults to dir. It refuses to
// overwrite an existing file.
func Init(dir string) (*File, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	f := Default()
	f.dir = abs
	if _, err := os.Stat(f.Path()); err == nil {
		return nil, fmt.Errorf("%s already exists", f.Path())
	}
	if err := f.Save(); err != nil {
		return nil, err
	}
	return f, nil
}
