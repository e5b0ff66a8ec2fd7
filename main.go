// batchtrans: resumable, partitioned batch translation of game text with AI providers.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/minios-linux/batchtrans/checkpoint"
	"github.com/minios-linux/batchtrans/config"
	"github.com/minios-linux/batchtrans/extract"
	"github.com/minios-linux/batchtrans/i18n"
	"github.com/minios-linux/batchtrans/langmeta"
	"github.com/minios-linux/batchtrans/lockfile"
	"github.com/minios-linux/batchtrans/merge"
	"github.com/minios-linux/batchtrans/partition"
	"github.com/minios-linux/batchtrans/pipeline"
	"github.com/minios-linux/batchtrans/settings"
	"github.com/minios-linux/batchtrans/translate"
	"github.com/spf13/cobra"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[INFO]"+colorReset+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[OK]"+colorReset+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[WARN]"+colorReset+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[ERROR]"+colorReset+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Global flag
// ---------------------------------------------------------------------------

var rootDir string

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "batchtrans",
		Short: "Resumable batch translation of game text with AI providers",
		Long: `batchtrans: resumable batch translation of game text with AI providers.

The items file (a JSON array of strings) is split into shards, each shard
into windows of batches. Every finished window is checkpointed, so an
interrupted job picks up where it stopped and a failed window can be
redone by any worker.

Commands:
  init        Write a .batchtrans.yaml with the defaults
  extract     Collect translatable strings from game data into the items file
  run         Translate the items file, one worker per shard
  resume      Redo missing windows with a fresh worker pool
  status      Show job progress (--check validates every checkpoint)
  merge       Assemble checkpoints into the output file
  apply       Write the merged translation back into game data
  auth        Manage provider API keys

AI Providers:
  deepseek       DeepSeek (default), API key
  openai         OpenAI, API key
  google         Google AI (Gemini), API key
  anthropic      Anthropic, API key
  groq           Groq, API key
  ollama         Ollama local server
  custom-openai  Custom OpenAI-compatible endpoint
  echo           Offline dry run, returns the input unchanged`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			i18n.Init("")
		},
	}

	root.PersistentFlags().StringVar(&rootDir, "root", ".", "Job directory (holds .batchtrans.yaml)")

	root.AddCommand(
		newInitCmd(),
		newExtractCmd(),
		newRunCmd(),
		newResumeCmd(),
		newStatusCmd(),
		newMergeCmd(),
		newApplyCmd(),
		newAuthCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version (display version information)
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version, commit hash, and build date.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "batchtrans version %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit:    %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built:     %s\n", date)
		},
	}

	return cmd
}

// ---------------------------------------------------------------------------
// init (write the job file)
// ---------------------------------------------------------------------------

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a .batchtrans.yaml with the defaults",
		Long: `Write a .batchtrans.yaml with every default spelled out.

An existing file is never overwritten. Edit the file to point at your
items, choose a provider and tune the partitioning.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Init(rootDir)
			if err != nil {
				return err
			}
			logSuccess(i18n.T("Created %s"), cfg.Path())
			fmt.Fprintf(os.Stderr, "\n  Next steps:\n")
			fmt.Fprintf(os.Stderr, "    batchtrans extract              Collect strings from %s\n", cfg.Extract.SourceDir)
			fmt.Fprintf(os.Stderr, "    batchtrans auth login           Store an API key for %s\n", cfg.Provider)
			fmt.Fprintf(os.Stderr, "    batchtrans run                  Translate %s\n\n", cfg.Input)
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// Job loading (shared by run, resume, status, merge)
// ---------------------------------------------------------------------------

// jobFlags are the command-line overrides of .batchtrans.yaml.
type jobFlags struct {
	input         string
	output        string
	checkpointDir string
	workers       int
	batchSize     int
	windowSize    int
	resumeWorkers int
	resumeRounds  int
	maxRetries    int
	retryDelay    time.Duration
	retryBackoff  string
	launchDelay   time.Duration
	sourceLang    string
	targetLang    string
	provider      string
	model         string
	apiKey        string
	baseURL       string
	proxy         string
	timeout       time.Duration
	prompt        string
	promptType    string
	verbose       bool
}

func addPathFlags(cmd *cobra.Command, f *jobFlags) {
	cmd.Flags().StringVar(&f.input, "input", "", "Items file (JSON array of strings)")
	cmd.Flags().StringVar(&f.output, "output", "", "Merged output file")
	cmd.Flags().StringVar(&f.checkpointDir, "checkpoint-dir", "", "Checkpoint directory")
}

func addPartitionFlags(cmd *cobra.Command, f *jobFlags) {
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "Shard count of the initial run")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "Items per backend request")
	cmd.Flags().IntVar(&f.windowSize, "window-size", 0, "Batches per checkpoint")
}

func addTranslateFlags(cmd *cobra.Command, f *jobFlags) {
	cmd.Flags().IntVar(&f.maxRetries, "max-retries", 0, "Backend attempts per batch")
	cmd.Flags().DurationVar(&f.retryDelay, "retry-delay", 0, "Pause between attempts (0s retries immediately)")
	cmd.Flags().StringVar(&f.retryBackoff, "retry-backoff", "", "Retry pause policy: constant, exponential")
	cmd.Flags().DurationVar(&f.launchDelay, "launch-delay", 0, "Stagger between worker start-ups")
	cmd.Flags().StringVar(&f.sourceLang, "source-lang", "", "Source language code")
	cmd.Flags().StringVar(&f.targetLang, "target-lang", "", "Target language code")
	cmd.Flags().StringVar(&f.provider, "provider", "", "AI provider: "+strings.Join(providerIDs(), ", "))
	cmd.Flags().StringVar(&f.model, "model", "", "Model name")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "API key (or set "+settings.EnvAPIKey+")")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "Custom API endpoint URL")
	cmd.Flags().StringVar(&f.proxy, "proxy", "", "HTTP/HTTPS proxy URL")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Request timeout")
	cmd.Flags().StringVar(&f.prompt, "prompt", "", "Custom system prompt ({{sourceLang}} and {{targetLang}} are replaced)")
	cmd.Flags().StringVar(&f.promptType, "prompt-type", "", "Named prompt from prompts.json: default, game")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Log every batch and worker")

	_ = cmd.RegisterFlagCompletionFunc("provider", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		defaults := translate.DefaultProviders()
		completions := make([]string, 0, len(defaults))
		for _, id := range providerIDs() {
			completions = append(completions, fmt.Sprintf("%s\t%s", id, defaults[id].Name))
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	})
	_ = cmd.RegisterFlagCompletionFunc("target-lang", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"zh-CN\tChinese (Simplified)", "zh-TW\tChinese (Traditional)", "en\tEnglish", "ko\tKorean", "ru\tRussian"}, cobra.ShellCompDirectiveNoFileComp
	})
}

// apply copies every flag the user set onto cfg.
func (f *jobFlags) apply(cmd *cobra.Command, cfg *config.File) {
	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}
	if changed("input") {
		cfg.Input = f.input
	}
	if changed("output") {
		cfg.Output = f.output
	}
	if changed("checkpoint-dir") {
		cfg.CheckpointDir = f.checkpointDir
	}
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if changed("batch-size") {
		cfg.BatchSize = f.batchSize
	}
	if changed("window-size") {
		cfg.WindowSize = f.windowSize
	}
	if changed("resume-workers") {
		cfg.ResumeWorkers = f.resumeWorkers
	}
	if changed("rounds") {
		cfg.ResumeRounds = f.resumeRounds
	}
	if changed("max-retries") {
		cfg.MaxRetries = f.maxRetries
	}
	if changed("retry-delay") {
		d := f.retryDelay
		cfg.RetryDelay = &d
	}
	if changed("retry-backoff") {
		cfg.RetryBackoff = f.retryBackoff
	}
	if changed("launch-delay") {
		cfg.LaunchDelay = f.launchDelay
	}
	if changed("source-lang") {
		cfg.SourceLang = f.sourceLang
	}
	if changed("target-lang") {
		cfg.TargetLang = f.targetLang
	}
	if changed("provider") {
		cfg.Provider = f.provider
		// A model or endpoint from the file belongs to the file's provider.
		if !changed("model") {
			cfg.Model = ""
		}
		if !changed("base-url") {
			cfg.BaseURL = ""
		}
	}
	if changed("model") {
		cfg.Model = f.model
	}
	if changed("base-url") {
		cfg.BaseURL = f.baseURL
	}
	if changed("proxy") {
		cfg.Proxy = f.proxy
	}
	if changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if changed("prompt") {
		cfg.Prompt = f.prompt
	}
	if changed("prompt-type") {
		cfg.PromptType = f.promptType
	}
}

// job is everything a command needs to work on the checkpoints.
type job struct {
	cfg       *config.File
	items     []string
	inputHash string
	params    partition.Params
	store     *checkpoint.Store
	lock      *lockfile.LockFile
}

func loadJob(cmd *cobra.Command, f *jobFlags) (*job, error) {
	cfg, err := config.Load(rootDir)
	if err != nil {
		return nil, err
	}
	f.apply(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	inputPath := cfg.Abs(cfg.Input)
	items, err := extract.ReadItems(inputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("items file %s not found (run 'batchtrans extract' or set 'input' in %s)", inputPath, config.FileName)
		}
		return nil, err
	}
	hash, err := lockfile.HashFile(inputPath)
	if err != nil {
		return nil, err
	}

	params := cfg.Params(len(items))
	if err := params.Validate(); err != nil {
		return nil, err
	}

	store, err := checkpoint.Open(cfg.Abs(cfg.CheckpointDir))
	if err != nil {
		return nil, err
	}
	lock, err := lockfile.Load(store.Dir())
	if err != nil {
		return nil, err
	}

	return &job{cfg: cfg, items: items, inputHash: hash, params: params, store: store, lock: lock}, nil
}

// pinnedParams returns the parameters the checkpoints were written with.
// Commands that only read checkpoints use them so that a changed
// workers setting does not hide finished work.
func (j *job) pinnedParams() partition.Params {
	if j.lock.Pinned() {
		if j.lock.InputHash != j.inputHash {
			logWarning("%s changed since the checkpoints were written", j.cfg.Input)
		}
		return j.lock.Params
	}
	return j.params
}

// ---------------------------------------------------------------------------
// extract (game data -> items file)
// ---------------------------------------------------------------------------

func newExtractCmd() *cobra.Command {
	var f jobFlags
	var sourceDir string

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Collect translatable strings into the items file",
		Long: `Walk the *.json files of the game data directory in name order and
collect every string that contains source-script characters, in document
order. The result is written to the items file ('input' in .batchtrans.yaml).

Strings under a skip key (default: image) are collected too, so that the
items file lines up with the documents, but 'apply' leaves them unchanged.

Examples:
  batchtrans extract
  batchtrans extract --source-dir www/data --input strings.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootDir)
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			if sourceDir != "" {
				cfg.Extract.SourceDir = sourceDir
			}

			e, err := newExtractor(cfg, f.verbose)
			if err != nil {
				return err
			}
			corpus, err := e.Scan()
			if err != nil {
				return err
			}

			skipped := 0
			for _, t := range corpus.Targets {
				if t.Skip {
					skipped++
				}
			}
			out := cfg.Abs(cfg.Input)
			if err := extract.WriteItems(out, corpus.Texts()); err != nil {
				return err
			}
			logSuccess(i18n.T("Extracted %d strings from %d files into %s"), len(corpus.Targets), len(corpus.Documents), out)
			if skipped > 0 {
				logInfo(i18n.N("%d string is under a skip key and will not be written back",
					"%d strings are under a skip key and will not be written back", skipped), skipped)
			}
			return nil
		},
	}

	addPathFlags(cmd, &f)
	cmd.Flags().StringVar(&sourceDir, "source-dir", "", "Game data directory (default from config)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "List every file")

	return cmd
}

func newExtractor(cfg *config.File, verbose bool) (*extract.Extractor, error) {
	return extract.New(extract.Options{
		SourceDir:    cfg.Abs(cfg.Extract.SourceDir),
		OutputDir:    cfg.Abs(cfg.Extract.OutputDir),
		Pattern:      cfg.Extract.Pattern,
		SkipKeys:     cfg.Extract.SkipKeys,
		ExcludeFiles: cfg.Extract.ExcludeFiles,
		OnLog:        logInfo,
		Verbose:      verbose,
	})
}

// ---------------------------------------------------------------------------
// run (initial partitioned run)
// ---------------------------------------------------------------------------

func newRunCmd() *cobra.Command {
	var f jobFlags
	var resetLock, noMerge bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Translate the items file, one worker per shard",
		Long: `Translate the items file with one worker per shard.

Each worker walks its shard window by window and saves a checkpoint after
every window. Windows already checkpointed are skipped, so re-running after
an interruption continues where it stopped. Windows still missing afterwards
get up to resume_rounds redistribution passes, and when every window is
present the checkpoints are merged into the output file.

The partitioning and the md5 of the items file are recorded in
batchtrans.lock inside the checkpoint directory. Later runs must use the
same values; pass --reset-lock to discard the checkpoints and start over.

Examples:
  batchtrans run
  batchtrans run --provider openai --model gpt-4o-mini --workers 4
  batchtrans run --provider echo                  Dry run without any API`,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := loadJob(cmd, &f)
			if err != nil {
				return err
			}
			if resetLock {
				stored, err := j.store.List()
				if err != nil {
					return err
				}
				for _, u := range stored {
					if err := j.store.Remove(u); err != nil {
						return err
					}
				}
				j.lock.Reset()
				logWarning("Lock reset, %d checkpoints removed", len(stored))
			}
			if err := j.lock.Pin(j.params, j.inputHash); err != nil {
				return err
			}

			adapter, err := newAdapter(j.cfg, f.apiKey, f.verbose)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logInfo("Translating %d items: %d shards, batch %d, window %d",
				j.params.Total, j.params.Shards, j.params.BatchSize, j.params.WindowSize)
			var gaps []partition.Unit
			res, err := j.execute(ctx, lockfile.KindRun, adapter, f.verbose, func(r *pipeline.Runner) (pipeline.Result, error) {
				res, err := r.Run(ctx)
				if err != nil {
					return res, err
				}
				more, remaining, err := r.Resume(ctx, j.cfg.ResumeWorkers, j.cfg.ResumeRounds, nil)
				res.Add(more)
				gaps = remaining
				return res, err
			})
			if err != nil {
				return err
			}
			logInfo("%s", res)

			if len(gaps) > 0 {
				logWarning(i18n.N("%d window is missing", "%d windows are missing", len(gaps)), len(gaps))
				logInfo("Run 'batchtrans resume' to redo them")
				return nil
			}
			if noMerge {
				logSuccess(i18n.T("All windows present"))
				return nil
			}
			return mergeOutput(j, j.params, "")
		},
	}

	addPathFlags(cmd, &f)
	addPartitionFlags(cmd, &f)
	addTranslateFlags(cmd, &f)
	cmd.Flags().BoolVar(&resetLock, "reset-lock", false, "Discard checkpoints and the recorded partitioning")
	cmd.Flags().BoolVar(&noMerge, "no-merge", false, "Do not write the output file")

	return cmd
}

// execute records a run in the lock and drives the runner.
func (j *job) execute(ctx context.Context, kind string, tr pipeline.Translator, verbose bool, drive func(*pipeline.Runner) (pipeline.Result, error)) (pipeline.Result, error) {
	var done atomic.Int64
	expected, err := partition.ExpectedUnits(j.params)
	if err != nil {
		return pipeline.Result{}, err
	}
	total := len(expected)

	runner, err := pipeline.NewRunner(j.params, j.items, tr, j.store, pipeline.Options{
		LaunchDelay: j.cfg.LaunchDelay,
		OnLog:       logInfo,
		OnError:     logWarning,
		OnUnit: func(worker int, u partition.Unit, res pipeline.Result) {
			n := done.Add(1)
			if verbose {
				logInfo("Worker %d saved window %s (%d items, %d translated) [%d/%d]", worker, u, res.Items, res.Translated, n, total)
			}
		},
		Verbose: verbose,
	})
	if err != nil {
		return pipeline.Result{}, err
	}

	id := j.lock.StartRun(kind)
	if err := j.lock.Save(); err != nil {
		return pipeline.Result{}, err
	}

	start := time.Now()
	res, runErr := drive(runner)
	j.lock.FinishRun(id, res.Units, res.Translated, res.Fallback)
	if err := j.lock.Save(); err != nil && runErr == nil {
		runErr = err
	}

	if errors.Is(runErr, context.Canceled) {
		logWarning("Interrupted after %s; %d windows saved", time.Since(start).Round(time.Second), res.Units)
		return res, runErr
	}
	if runErr == nil {
		logInfo("Finished in %s", time.Since(start).Round(time.Millisecond))
	}
	return res, runErr
}

// ---------------------------------------------------------------------------
// resume (redistribute missing windows)
// ---------------------------------------------------------------------------

func newResumeCmd() *cobra.Command {
	var f jobFlags
	var verify, noMerge bool

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Redo missing windows with a fresh worker pool",
		Long: `Find every window without a checkpoint and spread them round-robin over
a new pool of workers. Each result is saved under the window's own key, so
the checkpoint set ends up identical to an uninterrupted run. Detection and
redistribution repeat for up to --rounds passes.

The partitioning must match the one recorded in batchtrans.lock.

Examples:
  batchtrans resume
  batchtrans resume --resume-workers 16 --verify`,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := loadJob(cmd, &f)
			if err != nil {
				return err
			}
			if err := j.lock.Pin(j.params, j.inputHash); err != nil {
				return err
			}

			exists := j.store.Exists
			if verify {
				exists = pipeline.VerifiedExists(j.params, j.store)
			}
			gaps, err := pipeline.DetectGaps(j.params, exists)
			if err != nil {
				return err
			}
			if len(gaps) == 0 {
				logSuccess(i18n.T("Nothing to resume, all windows present"))
				if noMerge {
					return nil
				}
				return mergeOutput(j, j.params, "")
			}
			logInfo(i18n.N("%d missing window", "%d missing windows", len(gaps)), len(gaps))

			adapter, err := newAdapter(j.cfg, f.apiKey, f.verbose)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var remaining []partition.Unit
			res, err := j.execute(ctx, lockfile.KindResume, adapter, f.verbose, func(r *pipeline.Runner) (pipeline.Result, error) {
				res, rem, err := r.Resume(ctx, j.cfg.ResumeWorkers, j.cfg.ResumeRounds, exists)
				remaining = rem
				return res, err
			})
			if err != nil {
				return err
			}
			logInfo("%s", res)

			if len(remaining) > 0 {
				return fmt.Errorf("%d windows still missing after %d rounds: %s",
					len(remaining), j.cfg.ResumeRounds, unitList(remaining, 10))
			}
			if noMerge {
				logSuccess(i18n.T("All windows present"))
				return nil
			}
			return mergeOutput(j, j.params, "")
		},
	}

	addPathFlags(cmd, &f)
	addPartitionFlags(cmd, &f)
	addTranslateFlags(cmd, &f)
	cmd.Flags().IntVar(&f.resumeWorkers, "resume-workers", 0, "Worker pool size")
	cmd.Flags().IntVar(&f.resumeRounds, "rounds", 0, "Detect-and-redistribute passes")
	cmd.Flags().BoolVar(&verify, "verify", true, "Treat unreadable or short checkpoints as missing (--verify=false only stats files)")
	cmd.Flags().BoolVar(&noMerge, "no-merge", false, "Do not write the output file")

	return cmd
}

// ---------------------------------------------------------------------------
// status (read-only: job info + progress per shard)
// ---------------------------------------------------------------------------

func newStatusCmd() *cobra.Command {
	var f jobFlags
	var check bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show job progress",
		Long: `Show the job configuration and how many windows of each shard are
checkpointed. With --check every checkpoint is loaded and validated, the
originals are compared against the items file and files that do not belong
to the current partitioning are listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := loadJob(cmd, &f)
			if err != nil {
				return err
			}
			return runStatus(cmd, j, check)
		},
	}

	addPathFlags(cmd, &f)
	addPartitionFlags(cmd, &f)
	cmd.Flags().BoolVar(&check, "check", false, "Load and validate every checkpoint")

	return cmd
}

func runStatus(cmd *cobra.Command, j *job, check bool) error {
	out := cmd.OutOrStdout()
	p := j.pinnedParams()

	fmt.Fprintf(out, "%sJob%s\n", colorBlue, colorReset)
	fmt.Fprintln(out, strings.Repeat("─", 60))
	if j.cfg.Found() {
		fmt.Fprintf(out, "  %-12s %s\n", "Config:", j.cfg.Path())
	} else {
		fmt.Fprintf(out, "  %-12s %s\n", "Config:", "(defaults, no "+config.FileName+")")
	}
	fmt.Fprintf(out, "  %-12s %s (%d items, md5 %s)\n", "Input:", j.cfg.Input, len(j.items), j.inputHash)
	fmt.Fprintf(out, "  %-12s %s\n", "Output:", j.cfg.Output)
	fmt.Fprintf(out, "  %-12s %s\n", "Checkpoints:", j.store.Dir())
	fmt.Fprintf(out, "  %-12s %s -> %s\n", "Languages:",
		langmeta.Resolve(j.cfg.SourceLang).Label(), langmeta.Resolve(j.cfg.TargetLang).Label())
	fmt.Fprintf(out, "  %-12s %s %s\n", "Provider:", j.cfg.Provider, j.cfg.Model)
	fmt.Fprintf(out, "  %-12s %d shards x %d items, batch %d, window %d\n", "Partition:",
		p.Shards, p.ShardSize(), p.BatchSize, p.WindowSize)
	if !j.lock.Pinned() {
		fmt.Fprintf(out, "  %-12s %s\n", "Lock:", "not yet pinned")
	}
	if last, ok := j.lock.LastRun(); ok {
		state := "interrupted"
		if !last.Finished.IsZero() {
			state = fmt.Sprintf("%d windows, %d translated, %d fallback", last.Units, last.Translated, last.Fallback)
		}
		fmt.Fprintf(out, "  %-12s %s %s (%s)\n", "Last run:", last.Kind, last.Started.Local().Format(time.DateTime), state)
	}

	if p.Total != len(j.items) {
		logWarning("Checkpoints cover %d items, the items file has %d", p.Total, len(j.items))
	}

	fmt.Fprintf(out, "\n%sProgress%s\n", colorBlue, colorReset)
	fmt.Fprintln(out, strings.Repeat("─", 60))

	present, expected := 0, 0
	for s := range p.Shards {
		units, err := partition.ShardUnits(p, s)
		if err != nil {
			return err
		}
		have := 0
		for _, u := range units {
			if j.store.Exists(u) {
				have++
			}
		}
		present += have
		expected += len(units)
		fmt.Fprintf(out, "  shard %-4d %s  %d/%d\n", s, progressBar(percent(have, len(units)), 20), have, len(units))
	}
	fmt.Fprintf(out, "  %-10s %s  %d/%d\n", "total", progressBar(percent(present, expected), 20), present, expected)

	if !check {
		fmt.Fprintln(out)
		switch {
		case present == expected:
			fmt.Fprintf(out, "  Next: batchtrans merge\n")
		case j.lock.Pinned():
			fmt.Fprintf(out, "  Next: batchtrans resume\n")
		default:
			fmt.Fprintf(out, "  Next: batchtrans run\n")
		}
		return nil
	}

	fmt.Fprintf(out, "\n%sCheck%s\n", colorBlue, colorReset)
	fmt.Fprintln(out, strings.Repeat("─", 60))

	problems, err := merge.Check(p, j.store)
	if err != nil {
		return err
	}
	for _, pr := range problems {
		fmt.Fprintf(out, "  %s%s%s  %v\n", colorRed, pr.Unit, colorReset, pr.Err)
	}

	stored, err := j.store.List()
	if err != nil {
		return err
	}
	stray, err := merge.Stray(p, stored)
	if err != nil {
		return err
	}
	for _, u := range stray {
		fmt.Fprintf(out, "  %s%s%s  not part of the current partitioning\n", colorYellow, u, colorReset)
	}

	if len(problems) == 0 && p.Total == len(j.items) {
		originals, err := merge.MergeOriginals(p, j.store)
		if err != nil {
			return err
		}
		differ := 0
		for i := range originals {
			if originals[i] != j.items[i] {
				differ++
			}
		}
		if differ > 0 {
			fmt.Fprintf(out, "  %s%d checkpointed originals differ from %s%s\n", colorRed, differ, j.cfg.Input, colorReset)
			return fmt.Errorf("checkpoints do not match the items file")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", merge.ErrIncompleteMerge,
			fmt.Sprintf(i18n.N("%d window needs work", "%d windows need work", len(problems)), len(problems)))
	}
	fmt.Fprintf(out, "  %sAll %d windows valid%s\n", colorGreen, expected, colorReset)
	return nil
}

func percent(n, total int) int {
	if total == 0 {
		return 100
	}
	return n * 100 / total
}

// progressBar renders a colored bar for percent, clamped to [0, 100].
func progressBar(percent, width int) string {
	percent = max(0, min(100, percent))
	filled := percent * width / 100

	color := colorRed
	switch {
	case percent >= 100:
		color = colorGreen
	case percent >= 50:
		color = colorYellow
	}
	return color + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + colorReset + fmt.Sprintf(" %3d%%", percent)
}

// unitList formats at most limit units for a message.
func unitList(units []partition.Unit, limit int) string {
	parts := make([]string, 0, min(len(units), limit)+1)
	for i, u := range units {
		if i == limit {
			parts = append(parts, fmt.Sprintf("and %d more", len(units)-limit))
			break
		}
		parts = append(parts, u.String())
	}
	return strings.Join(parts, ", ")
}

// ---------------------------------------------------------------------------
// merge (checkpoints -> output file)
// ---------------------------------------------------------------------------

func newMergeCmd() *cobra.Command {
	var f jobFlags
	var originals string

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Assemble checkpoints into the output file",
		Long: `Concatenate every checkpoint in (shard, window) order into the output
file. Fails without writing anything when a window is missing or does not
hold the number of items its range requires.

Examples:
  batchtrans merge
  batchtrans merge --output cn.json --originals check.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := loadJob(cmd, &f)
			if err != nil {
				return err
			}
			return mergeOutput(j, j.pinnedParams(), originals)
		},
	}

	addPathFlags(cmd, &f)
	addPartitionFlags(cmd, &f)
	cmd.Flags().StringVar(&originals, "originals", "", "Also write the checkpointed source texts to this file")

	return cmd
}

func mergeOutput(j *job, p partition.Params, originalsPath string) error {
	translated, err := merge.Merge(p, j.store)
	if err != nil {
		return err
	}
	out := j.cfg.Abs(j.cfg.Output)
	if err := extract.WriteItems(out, translated); err != nil {
		return err
	}
	logSuccess(i18n.T("Merged %d items into %s"), len(translated), out)

	if originalsPath != "" {
		originals, err := merge.MergeOriginals(p, j.store)
		if err != nil {
			return err
		}
		path := j.cfg.Abs(originalsPath)
		if err := extract.WriteItems(path, originals); err != nil {
			return err
		}
		logSuccess("Wrote %d originals to %s", len(originals), path)
	}
	return nil
}

// ---------------------------------------------------------------------------
// apply (output file -> game data)
// ---------------------------------------------------------------------------

func newApplyCmd() *cobra.Command {
	var f jobFlags
	var outputDir string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Write the merged translation back into game data",
		Long: `Rescan the game data directory, replace every collected string with the
entry at the same position of the output file and write the documents to
the output directory. Strings under a skip key keep their value. Excluded
files are copied unchanged.

The output file must have exactly as many entries as the scan finds.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootDir)
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			if outputDir != "" {
				cfg.Extract.OutputDir = outputDir
			}

			translations, err := extract.ReadItems(cfg.Abs(cfg.Output))
			if err != nil {
				return err
			}
			e, err := newExtractor(cfg, f.verbose)
			if err != nil {
				return err
			}
			corpus, err := e.Scan()
			if err != nil {
				return err
			}
			applied, skipped, err := corpus.Apply(translations)
			if err != nil {
				return err
			}
			if err := e.Write(corpus); err != nil {
				return err
			}
			logSuccess(i18n.T("Applied %d strings (%d skipped) to %s"), applied, skipped, cfg.Abs(cfg.Extract.OutputDir))
			return nil
		},
	}

	addPathFlags(cmd, &f)
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory for translated game data (default from config)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "List every file")

	return cmd
}

// ---------------------------------------------------------------------------
// auth (manage provider credentials)
// ---------------------------------------------------------------------------

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage provider API keys",
		Long: `Manage API keys for the AI providers.

Keys are stored in ` + settings.FilePath() + `.
The ` + settings.EnvAPIKey + ` environment variable and the --api-key flag
take precedence over stored keys.

Examples:
  batchtrans auth login                          Interactive provider selection
  batchtrans auth login --provider deepseek      Store a DeepSeek API key
  batchtrans auth login --provider custom-openai --base-url https://llm.local/v1
  batchtrans auth logout --provider openai       Remove the OpenAI key
  batchtrans auth logout                         Remove all credentials
  batchtrans auth list                           Show stored credentials`,
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthListCmd(),
	)

	return cmd
}

// authProviders are the providers that take an API key, in menu order.
var authProviders = []struct {
	id      string
	helpURL string
}{
	{translate.ProviderDeepSeek, "https://platform.deepseek.com/api_keys"},
	{translate.ProviderOpenAI, "https://platform.openai.com/api-keys"},
	{translate.ProviderGoogle, "https://aistudio.google.com/apikey"},
	{translate.ProviderAnthropic, "https://console.anthropic.com/settings/keys"},
	{translate.ProviderGroq, "https://console.groq.com/keys"},
	{translate.ProviderCustomOpenAI, ""},
}

func isAuthProvider(id string) bool {
	for _, p := range authProviders {
		if p.id == id {
			return true
		}
	}
	return false
}

func newAuthLoginCmd() *cobra.Command {
	var provider, baseURL, key string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API key for a provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewScanner(cmd.InOrStdin())
			defaults := translate.DefaultProviders()

			if provider == "" {
				fmt.Fprintf(os.Stderr, "\n%sSelect a provider%s\n", colorBlue, colorReset)
				for i, p := range authProviders {
					fmt.Fprintf(os.Stderr, "  %d) %-14s %s\n", i+1, p.id, defaults[p.id].Name)
				}
				fmt.Fprintf(os.Stderr, "\n  Choice: ")
				if !in.Scan() {
					return fmt.Errorf("no input received")
				}
				var n int
				if _, err := fmt.Sscanf(strings.TrimSpace(in.Text()), "%d", &n); err != nil || n < 1 || n > len(authProviders) {
					return fmt.Errorf("invalid choice %q", strings.TrimSpace(in.Text()))
				}
				provider = authProviders[n-1].id
			}
			if !isAuthProvider(provider) {
				return fmt.Errorf("provider '%s' does not take an API key (choose one of: %s)", provider, strings.Join(authProviderIDs(), ", "))
			}

			if provider == translate.ProviderCustomOpenAI && baseURL == "" {
				baseURL = settings.GetBaseURL(provider)
				fmt.Fprintf(os.Stderr, "  Endpoint URL [%s]: ", baseURL)
				if in.Scan() {
					if v := strings.TrimSpace(in.Text()); v != "" {
						baseURL = v
					}
				}
				if baseURL == "" {
					return fmt.Errorf("custom-openai requires an endpoint URL")
				}
			}

			existing := settings.GetAPIKey(provider)
			if key == "" {
				for _, p := range authProviders {
					if p.id == provider && p.helpURL != "" {
						fmt.Fprintf(os.Stderr, "\n  Get your API key from: %s%s%s\n\n", colorGreen, p.helpURL, colorReset)
					}
				}
				if existing != "" {
					fmt.Fprintf(os.Stderr, "  Current key: %s%s%s\n", colorYellow, settings.MaskKey(existing), colorReset)
					fmt.Fprintf(os.Stderr, "  Enter new key to replace, or press Enter to keep: ")
				} else {
					fmt.Fprintf(os.Stderr, "  Enter API key: ")
				}
				if in.Scan() {
					key = strings.TrimSpace(in.Text())
				}
			}
			if key == "" {
				if existing == "" && provider != translate.ProviderCustomOpenAI {
					return fmt.Errorf("no API key provided")
				}
				key = existing
			}

			if err := settings.SetAPIKey(provider, key, baseURL); err != nil {
				return fmt.Errorf("saving API key: %w", err)
			}
			logSuccess(i18n.T("%s credentials saved"), provider)
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Provider to configure")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Endpoint URL (custom-openai)")
	cmd.Flags().StringVar(&key, "key", "", "API key (skips the prompt)")
	registerAuthProviderCompletion(cmd)

	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		Long: `Remove stored credentials for one or all providers.

If --provider is not specified, credentials for ALL providers are removed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if provider != "" {
				if err := settings.Remove(provider); err != nil {
					return fmt.Errorf("removing %s credentials: %w", provider, err)
				}
				logSuccess(i18n.T("%s credentials removed"), provider)
				return nil
			}
			if err := settings.RemoveAll(); err != nil {
				return fmt.Errorf("removing credentials: %w", err)
			}
			logSuccess(i18n.T("All stored credentials removed"))
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Provider to logout (default: all)")
	registerAuthProviderCompletion(cmd)

	return cmd
}

func newAuthListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show stored credentials",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\n%sStored Credentials%s\n", colorBlue, colorReset)
			fmt.Fprintln(out, strings.Repeat("─", 60))

			for _, p := range authProviders {
				entry := settings.Get(p.id)
				switch {
				case entry != nil && entry.Key != "":
					status := fmt.Sprintf("%sconfigured%s (key: %s)", colorGreen, colorReset, settings.MaskKey(entry.Key))
					if entry.BaseURL != "" {
						status += fmt.Sprintf("\n  %14s endpoint: %s", "", entry.BaseURL)
					}
					fmt.Fprintf(out, "  %-14s %s\n", p.id, status)
				case entry != nil && entry.BaseURL != "":
					fmt.Fprintf(out, "  %-14s %sconfigured%s (no key)\n  %14s endpoint: %s\n", p.id, colorGreen, colorReset, "", entry.BaseURL)
				default:
					fmt.Fprintf(out, "  %-14s %snot configured%s\n", p.id, colorRed, colorReset)
				}
			}

			fmt.Fprintf(out, "\n  %sEnvironment Variables%s\n", colorYellow, colorReset)
			if envKey := os.Getenv(settings.EnvAPIKey); envKey != "" {
				fmt.Fprintf(out, "  %s: %s%s%s (overrides stored keys)\n", settings.EnvAPIKey, colorGreen, settings.MaskKey(envKey), colorReset)
			} else {
				fmt.Fprintf(out, "  %s: %snot set%s\n", settings.EnvAPIKey, colorRed, colorReset)
			}
			fmt.Fprintln(out)
		},
	}
}

func registerAuthProviderCompletion(cmd *cobra.Command) {
	_ = cmd.RegisterFlagCompletionFunc("provider", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		defaults := translate.DefaultProviders()
		completions := make([]string, 0, len(authProviders))
		for _, p := range authProviders {
			completions = append(completions, fmt.Sprintf("%s\t%s", p.id, defaults[p.id].Name))
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	})
}

func authProviderIDs() []string {
	ids := make([]string, len(authProviders))
	for i, p := range authProviders {
		ids[i] = p.id
	}
	return ids
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

// providerIDs lists the built-in providers in help order.
func providerIDs() []string {
	return []string{
		translate.ProviderDeepSeek,
		translate.ProviderOpenAI,
		translate.ProviderGoogle,
		translate.ProviderAnthropic,
		translate.ProviderGroq,
		translate.ProviderOllama,
		translate.ProviderCustomOpenAI,
		translate.ProviderEcho,
	}
}

// newAdapter resolves the provider from cfg and builds the batch adapter.
func newAdapter(cfg *config.File, flagKey string, verbose bool) (*translate.Adapter, error) {
	if path, err := translate.LoadPromptsFromDefaultLocations(); err != nil {
		logWarning("Prompts file not loaded, using built-in prompts: %v", err)
	} else if verbose && path != "" {
		logInfo("Prompts loaded from %s", path)
	}

	key, source := settings.ResolveAPIKey(flagKey, cfg.Provider)
	prov := resolveProvider(cfg.Provider, cfg.BaseURL, key, cfg.Model, cfg.Proxy, cfg.Timeout)
	if err := validateProvider(prov, key); err != nil {
		return nil, err
	}
	if verbose && source != "" {
		logInfo("Using %s API key from %s", prov.Name, source)
	}

	adapter := translate.NewAdapter(translate.NewBackend(prov, verbose), translate.Options{
		SourceLang:   cfg.SourceLang,
		TargetLang:   cfg.TargetLang,
		SystemPrompt: cfg.Prompt,
		PromptType:   cfg.PromptType,
		MaxRetries:   cfg.MaxRetries,
		Backoff:      cfg.Backoff(),
		OnLog:        logInfo,
		OnError:      logWarning,
		Verbose:      verbose,
	})
	for _, lang := range []string{cfg.SourceLang, cfg.TargetLang} {
		if !langmeta.Known(lang) {
			logWarning("Unknown language code %q, passing it to the model as is", lang)
		}
	}
	logInfo("Provider: %s, model: %s, %s -> %s", prov.Name, prov.Model,
		langmeta.Resolve(cfg.SourceLang).Label(), langmeta.Resolve(cfg.TargetLang).Label())
	if verbose {
		logInfo("System prompt:\n%s", adapter.SystemPrompt())
	}
	return adapter, nil
}

func resolveProvider(name, baseURL, apiKey, model, proxy string, timeout time.Duration) translate.Provider {
	defaults := translate.DefaultProviders()

	var prov translate.Provider

	if p, ok := defaults[strings.ToLower(name)]; ok {
		prov = p
	} else {
		prov = translate.Provider{
			ID:      translate.ProviderCustomOpenAI,
			Name:    name,
			BaseURL: name,
			Timeout: 60 * time.Second,
		}
	}

	if baseURL != "" {
		prov.BaseURL = baseURL
	} else if prov.ID == translate.ProviderCustomOpenAI {
		if storedURL := settings.GetBaseURL(prov.ID); storedURL != "" {
			prov.BaseURL = storedURL
		}
	}
	if apiKey != "" {
		prov.APIKey = apiKey
	}
	if model != "" {
		prov.Model = model
	}
	if proxy != "" {
		prov.Proxy = proxy
	}
	if timeout > 0 {
		prov.Timeout = timeout
	}

	return prov
}

func validateProvider(prov translate.Provider, apiKey string) error {
	if prov.ID == translate.ProviderEcho {
		return nil
	}

	if prov.Model == "" {
		modelExamples := map[string]string{
			translate.ProviderOpenAI:       "gpt-4o, gpt-4o-mini",
			translate.ProviderGoogle:       "gemini-2.5-flash, gemini-2.0-flash",
			translate.ProviderAnthropic:    "claude-sonnet-4-5, claude-haiku-4-5",
			translate.ProviderGroq:         "llama-3.3-70b-versatile, qwen-2.5-32b",
			translate.ProviderOllama:       "qwen2.5, llama3.2",
			translate.ProviderCustomOpenAI: "depends on your endpoint",
		}

		examples := modelExamples[prov.ID]
		if examples == "" {
			examples = "check provider documentation"
		}

		return fmt.Errorf("--model is required for provider '%s'\n\n"+
			"Example models for %s:\n  %s\n\n"+
			"Usage: --provider %s --model MODEL_NAME",
			prov.ID, prov.Name, examples, prov.ID)
	}

	switch prov.ID {
	case translate.ProviderDeepSeek, translate.ProviderOpenAI, translate.ProviderGoogle,
		translate.ProviderAnthropic, translate.ProviderGroq:
		if apiKey == "" {
			return fmt.Errorf("provider '%s' requires an API key\n\n"+
				"Option 1: Store your API key:\n"+
				"  batchtrans auth login --provider %s\n\n"+
				"Option 2: Pass key directly:\n"+
				"  --api-key YOUR_KEY or export %s=YOUR_KEY",
				prov.ID, prov.ID, settings.EnvAPIKey)
		}

	case translate.ProviderCustomOpenAI:
		if prov.BaseURL == "" {
			return fmt.Errorf("provider 'custom-openai' requires an endpoint URL\n\n" +
				"Option 1: Configure via auth:\n" +
				"  batchtrans auth login --provider custom-openai\n\n" +
				"Option 2: Pass directly:\n" +
				"  --base-url https://api.example.com/v1")
		}

	case translate.ProviderOllama:
		client := &http.Client{Timeout: 2 * time.Second}
		ollamaURL := strings.TrimSuffix(strings.TrimSuffix(prov.BaseURL, "/"), "/v1")
		if ollamaURL == "" {
			ollamaURL = "http://localhost:11434"
		}
		resp, err := client.Get(ollamaURL + "/api/tags")
		if err != nil {
			return fmt.Errorf("provider 'ollama' requires Ollama server to be running\n\n" +
				"Start Ollama with: ollama serve\n" +
				"Install from: https://ollama.com")
		}
		resp.Body.Close()
	}

	return nil
}
