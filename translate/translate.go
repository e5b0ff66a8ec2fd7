// Package translate turns one batch of strings into one batch of
// translated strings using an AI backend.
//
// A batch is sent as a single numbered request ("1. text", "2. text", ...)
// and the reply is split back on line-start ordinals. The Adapter always
// returns exactly as many strings as it was given: missing replies are
// filled from the original text, extra replies are dropped, and a backend
// that keeps failing degrades to passing the batch through untranslated.
//
// Supported backends: DeepSeek, OpenAI, Groq, Ollama, custom
// OpenAI-compatible endpoints, Google AI (Gemini) and Anthropic, plus an
// offline echo backend for dry runs.
package translate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minios-linux/batchtrans/langmeta"
	"github.com/minios-linux/batchtrans/settings"
)

// ---------------------------------------------------------------------------
// Provider IDs
// ---------------------------------------------------------------------------

const (
	ProviderDeepSeek     = "deepseek"
	ProviderOpenAI       = "openai"
	ProviderGroq         = "groq"
	ProviderOllama       = "ollama"
	ProviderCustomOpenAI = "custom-openai"
	ProviderGoogle       = "google"
	ProviderAnthropic    = "anthropic"
	ProviderEcho         = "echo"
)

// ---------------------------------------------------------------------------
// System prompts
// ---------------------------------------------------------------------------

// PromptsConfig holds all system prompts loaded from prompts.json
type PromptsConfig struct {
	Prompts map[string]string `json:"prompts"`
}

// globalPrompts holds the loaded prompts configuration
var globalPrompts *PromptsConfig

// LoadPromptsFromFile loads system prompts from a JSON file.
// A missing file is not an error; the built-in prompts stay in effect.
func LoadPromptsFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read prompts file: %w", err)
	}

	var config PromptsConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse prompts file: %w", err)
	}

	globalPrompts = &config
	return nil
}

// defaultPromptsMap returns all built-in system prompts as a map.
func defaultPromptsMap() map[string]string {
	return map[string]string{
		"default": DefaultSystemPrompt,
		"game":    GameSystemPrompt,
	}
}

// createDefaultPromptsFile writes the built-in prompts to path as a formatted JSON file.
func createDefaultPromptsFile(path string) error {
	config := PromptsConfig{
		Prompts: defaultPromptsMap(),
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling default prompts: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating prompts directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing default prompts file: %w", err)
	}
	return nil
}

// LoadPromptsFromDefaultLocations loads prompts.json from the user data
// directory, creating it with the built-in prompts when absent.
// Returns the path of the loaded file.
func LoadPromptsFromDefaultLocations() (string, error) {
	path, err := settings.PromptsFilePath()
	if err != nil {
		return "", fmt.Errorf("cannot determine prompts file path: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefaultPromptsFile(path); err != nil {
			return "", fmt.Errorf("creating default prompts file: %w", err)
		}
	}

	if err := LoadPromptsFromFile(path); err != nil {
		return "", err
	}
	if globalPrompts != nil {
		return path, nil
	}
	return "", nil
}

// getPrompt returns the system prompt for a prompt type, preferring
// prompts loaded from disk.
func getPrompt(promptType string) string {
	if globalPrompts != nil {
		if prompt, ok := globalPrompts.Prompts[promptType]; ok && prompt != "" {
			return prompt
		}
	}
	if prompt, ok := defaultPromptsMap()[promptType]; ok {
		return prompt
	}
	return DefaultSystemPrompt
}

// DefaultSystemPrompt is used for plain localization strings.
const DefaultSystemPrompt = `You are a professional translator. Translate each numbered line from {{sourceLang}} into {{targetLang}}.

RULES:
- The input is a numbered list ("1. text", "2. text", ...). Reply with the same numbered list, one entry per input entry, in the same order.
- Keep every number exactly as given. Never merge, split, skip or renumber entries.
- Translate only the text after the number. Do not add explanations, notes or markdown.
- Preserve control codes, placeholders and escape sequences exactly as-is (\C[2], \N[1], %s, {name}, <br>, etc.).
- If an entry cannot be translated, return it unchanged under its number.`

// GameSystemPrompt is used for game script text (dialogue, item and skill
// descriptions) extracted from data files.
const GameSystemPrompt = `You are a professional game localizer. Translate each numbered line of game text from {{sourceLang}} into {{targetLang}}.

CONTEXT:
- Lines come from an RPG's data files: dialogue, names, menu labels, item and skill descriptions.
- Keep character voice and tone. Use natural, idiomatic {{targetLang}}, not word-for-word translation.
- Keep proper names consistent between entries.

RULES:
- The input is a numbered list ("1. text", "2. text", ...). Reply with the same numbered list, one entry per input entry, in the same order.
- Keep every number exactly as given. Never merge, split, skip or renumber entries.
- Preserve engine control codes exactly (\C[n], \N[n], \V[n], \I[n], \{, \}, \., \|, \!, etc.).
- If an entry cannot be translated, return it unchanged under its number.
- Reply with the numbered list only.`

// ---------------------------------------------------------------------------
// Provider configuration
// ---------------------------------------------------------------------------

// Provider holds the configuration for an AI translation service.
type Provider struct {
	// ID is the provider identifier (deepseek, openai, google, ...).
	ID string
	// Name is the display name.
	Name string
	// BaseURL is the API base URL.
	BaseURL string
	// APIKey is the authentication key (empty for local services).
	APIKey string
	// Model is the model identifier.
	Model string
	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy string
	// Timeout is the request timeout.
	Timeout time.Duration
}

// DefaultProviders returns the pre-configured provider definitions.
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		ProviderDeepSeek: {
			ID:      ProviderDeepSeek,
			Name:    "DeepSeek",
			BaseURL: "https://api.deepseek.com",
			Model:   "deepseek-chat",
			Timeout: 120 * time.Second,
		},
		ProviderOpenAI: {
			ID:      ProviderOpenAI,
			Name:    "OpenAI",
			BaseURL: "https://api.openai.com/v1",
			Timeout: 120 * time.Second,
		},
		ProviderGroq: {
			ID:      ProviderGroq,
			Name:    "Groq",
			BaseURL: "https://api.groq.com/openai/v1",
			Timeout: 60 * time.Second,
		},
		ProviderOllama: {
			ID:      ProviderOllama,
			Name:    "Ollama",
			BaseURL: "http://localhost:11434/v1",
			Timeout: 300 * time.Second,
		},
		ProviderCustomOpenAI: {
			ID:      ProviderCustomOpenAI,
			Name:    "Custom OpenAI",
			Timeout: 60 * time.Second,
		},
		ProviderGoogle: {
			ID:      ProviderGoogle,
			Name:    "Google AI (Gemini)",
			BaseURL: "https://generativelanguage.googleapis.com",
			Timeout: 120 * time.Second,
		},
		ProviderAnthropic: {
			ID:      ProviderAnthropic,
			Name:    "Anthropic",
			BaseURL: "https://api.anthropic.com/v1",
			Timeout: 120 * time.Second,
		},
		ProviderEcho: {
			ID:   ProviderEcho,
			Name: "Echo (offline)",
		},
	}
}

// NewBackend returns the backend for a provider.
func NewBackend(prov Provider, verbose bool) Backend {
	if prov.ID == ProviderEcho {
		return EchoBackend{}
	}
	return NewHTTPBackend(prov, verbose)
}

// ---------------------------------------------------------------------------
// Translation options
// ---------------------------------------------------------------------------

// Options controls the Adapter.
type Options struct {
	// SourceLang is the source language code (e.g. "ja").
	SourceLang string
	// TargetLang is the target language code (e.g. "zh-CN").
	TargetLang string
	// SystemPrompt overrides the prompt selected by PromptType.
	SystemPrompt string
	// PromptType selects a built-in or prompts.json prompt: "default", "game".
	PromptType string
	// MaxRetries is the number of backend attempts per batch. Default: 3.
	MaxRetries int
	// RetryDelay is the fixed pause between attempts. Default: 3s. Set
	// Backoff to NoBackoff or ConstantBackoff(0) to retry immediately.
	RetryDelay time.Duration
	// Backoff overrides RetryDelay when set.
	Backoff Backoff
	// OnLog emits log messages during translation.
	OnLog func(format string, args ...any)
	// OnError emits error and degraded-quality messages during translation.
	OnError func(format string, args ...any)
	// Verbose enables per-batch debug logging.
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
	} else if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) effectiveMaxRetries() int {
	if o.MaxRetries > 0 {
		return o.MaxRetries
	}
	return 3
}

func (o *Options) effectiveBackoff() Backoff {
	if o.Backoff != nil {
		return o.Backoff
	}
	if o.RetryDelay > 0 {
		return ConstantBackoff(o.RetryDelay)
	}
	return ConstantBackoff(3 * time.Second)
}

// resolvedPrompt returns the system prompt with language placeholders filled.
func (o *Options) resolvedPrompt() string {
	prompt := o.SystemPrompt
	if prompt == "" {
		promptType := o.PromptType
		if promptType == "" {
			promptType = "default"
		}
		prompt = getPrompt(promptType)
	}
	source := "the source language"
	if o.SourceLang != "" {
		source = langmeta.Resolve(o.SourceLang).English
	}
	target := langmeta.Resolve(o.TargetLang).English
	prompt = strings.ReplaceAll(prompt, "{{sourceLang}}", source)
	return strings.ReplaceAll(prompt, "{{targetLang}}", target)
}

// truncate truncates a string to maxLen bytes.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
