// Package extract collects translatable strings from a directory of JSON
// data files and writes translations back into a copy of those files.
//
// Each file is parsed into an order-preserving node tree. Collection walks
// every tree once, depth first in document order, and records a flat list
// of targets (file, path, value) before anything is modified. Write-back
// consumes the translations positionally against that list, so the i-th
// translated item always lands on the i-th collected string.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPattern matches hiragana, katakana and CJK ideographs.
const DefaultPattern = `[\x{3040}-\x{30ff}\x{4e00}-\x{9fff}]+`

// DefaultSkipKeys are object keys whose strings are collected but never
// replaced (file names of images must keep pointing at real files).
var DefaultSkipKeys = []string{"image"}

// DefaultExcludeFiles are copied to the output unchanged and never
// scanned.
var DefaultExcludeFiles = []string{"CommonEvents.json", "Tilesets.json"}

// Options configures an Extractor.
type Options struct {
	// SourceDir holds the *.json data files (not scanned recursively).
	SourceDir string
	// OutputDir receives the rewritten files.
	OutputDir string
	// Pattern selects which strings need translation.
	Pattern string
	// SkipKeys are object keys below which strings are left as they are.
	SkipKeys []string
	// ExcludeFiles are file names copied verbatim.
	ExcludeFiles []string
	// OnLog is called for progress messages.
	OnLog func(format string, args ...any)
	// Verbose logs every skipped string.
	Verbose bool
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

// Target is one collected string.
type Target struct {
	// File is the base name of the data file.
	File string
	// Pointer is the JSON pointer of the string inside the file.
	Pointer string
	// Value is the original string.
	Value string
	// Skip is set when an enclosing object key is a skip key.
	Skip bool

	node *yaml.Node
}

func (t Target) String() string {
	return t.File + "#" + t.Pointer
}

// Document is one parsed data file.
type Document struct {
	Name string
	root *yaml.Node
}

// Corpus is the result of scanning a source directory.
type Corpus struct {
	Documents []*Document
	Targets   []Target
	// Excluded lists excluded files that exist in the source directory.
	Excluded []string
}

// Texts returns the value of every target in collection order. This is
// the items file content.
func (c *Corpus) Texts() []string {
	out := make([]string, len(c.Targets))
	for i, t := range c.Targets {
		out[i] = t.Value
	}
	return out
}

// Apply replaces every non-skipped target with the translation at the
// same position. translations must have exactly one entry per target.
func (c *Corpus) Apply(translations []string) (applied, skipped int, err error) {
	if len(translations) != len(c.Targets) {
		return 0, 0, fmt.Errorf("have %d translations for %d collected strings", len(translations), len(c.Targets))
	}
	for i, t := range c.Targets {
		if t.Skip {
			skipped++
			continue
		}
		t.node.Value = translations[i]
		t.node.Style = yaml.DoubleQuotedStyle
		applied++
	}
	return applied, skipped, nil
}

// ---------------------------------------------------------------------------
// Extractor
// ---------------------------------------------------------------------------

// Extractor scans and rewrites one data directory.
type Extractor struct {
	opts    Options
	pattern *regexp.Regexp
	skip    map[string]bool
	exclude map[string]bool
}

// New validates opts and returns an Extractor. Empty fields take the
// package defaults.
func New(opts Options) (*Extractor, error) {
	if opts.SourceDir == "" {
		return nil, fmt.Errorf("source directory is required")
	}
	if opts.Pattern == "" {
		opts.Pattern = DefaultPattern
	}
	if opts.SkipKeys == nil {
		opts.SkipKeys = DefaultSkipKeys
	}
	if opts.ExcludeFiles == nil {
		opts.ExcludeFiles = DefaultExcludeFiles
	}
	re, err := regexp.Compile(opts.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", opts.Pattern, err)
	}

	e := &Extractor{
		opts:    opts,
		pattern: re,
		skip:    make(map[string]bool, len(opts.SkipKeys)),
		exclude: make(map[string]bool, len(opts.ExcludeFiles)),
	}
	for _, k := range opts.SkipKeys {
		e.skip[k] = true
	}
	for _, f := range opts.ExcludeFiles {
		e.exclude[f] = true
	}
	return e, nil
}

// Scan parses every data file in name order and collects its targets.
func (e *Extractor) Scan() (*Corpus, error) {
	files, err := filepath.Glob(filepath.Join(e.opts.SourceDir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	c := &Corpus{}
	for _, path := range files {
		name := filepath.Base(path)
		if e.exclude[name] {
			c.Excluded = append(c.Excluded, name)
			continue
		}
		doc, err := parseFile(path)
		if err != nil {
			return nil, err
		}
		before := len(c.Targets)
		e.collect(doc, doc.root, "", false, &c.Targets)
		c.Documents = append(c.Documents, doc)
		if e.opts.Verbose {
			e.opts.log("%s: %d strings", name, len(c.Targets)-before)
		}
	}
	return c, nil
}

// collect appends targets depth first in document order.
func (e *Extractor) collect(doc *Document, n *yaml.Node, pointer string, skip bool, out *[]Target) {
	switch n.Kind {
	case yaml.DocumentNode:
		for _, child := range n.Content {
			e.collect(doc, child, pointer, skip, out)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			e.collect(doc, n.Content[i+1], pointer+"/"+escapePointer(key), skip || e.skip[key], out)
		}
	case yaml.SequenceNode:
		for i, child := range n.Content {
			e.collect(doc, child, pointer+"/"+strconv.Itoa(i), skip, out)
		}
	case yaml.ScalarNode:
		if !isQuoted(n) || !e.pattern.MatchString(n.Value) {
			return
		}
		if skip && e.opts.Verbose {
			e.opts.log("Keeping %s#%s: %s", doc.Name, pointer, n.Value)
		}
		*out = append(*out, Target{File: doc.Name, Pointer: pointer, Value: n.Value, Skip: skip, node: n})
	}
}

// Write stores every document of c in the output directory and copies
// the excluded files next to them unchanged.
func (e *Extractor) Write(c *Corpus) error {
	if e.opts.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	src, _ := filepath.Abs(e.opts.SourceDir)
	dst, _ := filepath.Abs(e.opts.OutputDir)
	if src == dst {
		return fmt.Errorf("output directory must differ from source directory %s", e.opts.SourceDir)
	}
	if err := os.MkdirAll(e.opts.OutputDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", e.opts.OutputDir, err)
	}

	for _, doc := range c.Documents {
		data, err := encodeJSON(doc.root)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", doc.Name, err)
		}
		if err := os.WriteFile(filepath.Join(e.opts.OutputDir, doc.Name), data, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", doc.Name, err)
		}
	}

	for _, name := range c.Excluded {
		data, err := os.ReadFile(filepath.Join(e.opts.SourceDir, name))
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(e.opts.OutputDir, name), data, 0644); err != nil {
			return fmt.Errorf("copying %s: %w", name, err)
		}
		e.opts.log("Copied %s unchanged", name)
	}
	return nil
}

func escapePointer(key string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(key)
}
