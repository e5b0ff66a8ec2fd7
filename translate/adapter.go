package translate

import (
	"context"
	"fmt"
)

// BatchResult is the outcome of one batch. Texts always has the length of
// the input batch.
type BatchResult struct {
	Texts []string
	// Translated counts items whose text came from the backend.
	Translated int
	// Fallback counts items that kept their original text because the
	// backend failed or its reply lacked an entry for them.
	Fallback int
	// Passthrough counts items that were never sent (empty or decorative).
	Passthrough int
	// Mismatch is set when the reply held a different number of entries
	// than the request.
	Mismatch bool
	// Failed is set when every attempt failed.
	Failed bool
}

// Adapter translates batches through a Backend with bounded retries and a
// fallback to the original text.
type Adapter struct {
	backend      Backend
	opts         Options
	systemPrompt string
}

// NewAdapter creates an Adapter. The system prompt is resolved once.
func NewAdapter(backend Backend, opts Options) *Adapter {
	return &Adapter{
		backend:      backend,
		opts:         opts,
		systemPrompt: opts.resolvedPrompt(),
	}
}

// SystemPrompt returns the resolved system prompt.
func (a *Adapter) SystemPrompt() string {
	return a.systemPrompt
}

// TranslateBatch translates texts and returns exactly len(texts) strings in
// order. Backend and parse problems never surface as errors; the only
// error is context cancellation, in which case no result must be saved.
func (a *Adapter) TranslateBatch(ctx context.Context, texts []string) (BatchResult, error) {
	envs := make([]Envelope, len(texts))
	res := BatchResult{Texts: make([]string, len(texts))}

	var cores []string
	var positions []int
	for i, t := range texts {
		e := SplitEnvelope(t)
		envs[i] = e
		res.Texts[i] = t
		if e.Translate {
			cores = append(cores, e.Core)
			positions = append(positions, i)
		}
	}
	res.Passthrough = len(texts) - len(cores)
	if len(cores) == 0 {
		return res, nil
	}

	user := a.userPrompt(cores)
	attempts := a.opts.effectiveMaxRetries()
	reply, err := Retry(ctx, attempts, a.opts.effectiveBackoff(),
		func(ctx context.Context) (string, error) {
			return a.backend.Complete(ctx, a.systemPrompt, user)
		},
		func(attempt int, err error) {
			a.opts.logError("Attempt %d/%d failed: %v", attempt, attempts, err)
		})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return BatchResult{}, ctxErr
		}
		a.opts.logError("Keeping %d entries untranslated: %v", len(cores), err)
		res.Failed = true
		res.Fallback = len(cores)
		return res, nil
	}

	parsed, n := ParseNumbered(reply, len(cores))
	if n != len(cores) {
		res.Mismatch = true
		a.opts.logError("Reply has %d entries, expected %d; missing entries keep the original text", n, len(cores))
	}
	if a.opts.Verbose {
		a.opts.log("Batch: %d sent, %d parsed, %d passthrough", len(cores), n, res.Passthrough)
	}

	for j, pos := range positions {
		if parsed[j] == "" {
			res.Fallback++
			continue
		}
		res.Texts[pos] = envs[pos].Join(parsed[j])
		res.Translated++
	}
	return res, nil
}

func (a *Adapter) userPrompt(cores []string) string {
	return fmt.Sprintf("Translate these %d entries:\n\n%s", len(cores), CombineNumbered(cores))
}
