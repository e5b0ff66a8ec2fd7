// Package translate contains tests for the batch translation adapter.
package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// CombineNumbered / ParseNumbered
// ---------------------------------------------------------------------------

func TestCombineNumbered(t *testing.T) {
	got := CombineNumbered([]string{"こんにちは", "さようなら", "はい"})
	want := "1. こんにちは\n2. さようなら\n3. はい"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestParseNumbered(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		expected   int
		want       []string
		wantParsed int
	}{
		{
			name:       "exact",
			reply:      "1. 你好\n2. 再见\n3. 是",
			expected:   3,
			want:       []string{"你好", "再见", "是"},
			wantParsed: 3,
		},
		{
			name:       "missing third entry is padded with empty",
			reply:      "1. 你好\n2. 再见",
			expected:   3,
			want:       []string{"你好", "再见", ""},
			wantParsed: 2,
		},
		{
			name:       "extra entries are truncated",
			reply:      "1. a\n2. b\n3. c\n4. d",
			expected:   2,
			want:       []string{"a", "b"},
			wantParsed: 4,
		},
		{
			name:       "block spans lines",
			reply:      "1. first line\nsecond line\n2. next",
			expected:   2,
			want:       []string{"first line\nsecond line", "next"},
			wantParsed: 2,
		},
		{
			name:       "preamble before first marker is ignored",
			reply:      "Here are the translations:\n1. a\n2. b",
			expected:   2,
			want:       []string{"a", "b"},
			wantParsed: 2,
		},
		{
			name:       "code fence is stripped",
			reply:      "```\n1. a\n2. b\n```",
			expected:   2,
			want:       []string{"a", "b"},
			wantParsed: 2,
		},
		{
			name:       "fenced list after preamble is unwrapped",
			reply:      "Sure:\n```text\n1. a\n2. b\n```\n",
			expected:   2,
			want:       []string{"a", "b"},
			wantParsed: 2,
		},
		{
			name:       "inline fence inside an entry is kept",
			reply:      "1. 使用 ```ls``` 命令\n2. 第二",
			expected:   2,
			want:       []string{"使用 ```ls``` 命令", "第二"},
			wantParsed: 2,
		},
		{
			name:       "fenced block inside an entry is kept",
			reply:      "1. 运行:\n```sh\nmake\n```\n2. 完成",
			expected:   2,
			want:       []string{"运行:\n```sh\nmake\n```", "完成"},
			wantParsed: 2,
		},
		{
			name:       "empty reply",
			reply:      "",
			expected:   2,
			want:       []string{"", ""},
			wantParsed: 0,
		},
		{
			name:       "numbers inside text are not markers",
			reply:      "1. costs 3. 5 gold\n2. ok",
			expected:   2,
			want:       []string{"costs 3. 5 gold", "ok"},
			wantParsed: 2,
		},
		{
			name:       "order of appearance wins over the number",
			reply:      "2. b\n1. a",
			expected:   2,
			want:       []string{"b", "a"},
			wantParsed: 2,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, parsed := ParseNumbered(tc.reply, tc.expected)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %q, want %q", got, tc.want)
			}
			if parsed != tc.wantParsed {
				t.Errorf("parsed = %d, want %d", parsed, tc.wantParsed)
			}
		})
	}
}

func TestParseNumberedAlwaysExpectedLength(t *testing.T) {
	replies := []string{"", "garbage", "1.", "1. x", "1. x\n2. y\n3. z\n4. w\n5. v", "\n\n\n", "1.\n2.\n3."}
	for _, reply := range replies {
		for n := 0; n <= 4; n++ {
			got, _ := ParseNumbered(reply, n)
			if len(got) != n {
				t.Errorf("ParseNumbered(%q, %d) returned %d entries", reply, n, len(got))
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

func TestSplitEnvelope(t *testing.T) {
	tests := []struct {
		in        string
		prefix    string
		core      string
		suffix    string
		translate bool
	}{
		{"こんにちは", "", "こんにちは", "", true},
		{"--↓　宝箱　↓--", "--↓　", "宝箱", "　↓--", true},
		{"  勇者 ", "  ", "勇者", " ", true},
		{"---", "---", "", "", false},
		{"", "", "", "", false},
		{"　　", "　　", "", "", false},
		{"↑↓", "↑", "", "", false},
		{"一行目\n二行目", "", "一行目\n二行目", "", true},
	}
	for _, tc := range tests {
		e := SplitEnvelope(tc.in)
		if e.Translate != tc.translate {
			t.Errorf("%q: Translate = %v, want %v", tc.in, e.Translate, tc.translate)
			continue
		}
		if got := e.Join(e.Core); got != tc.in {
			t.Errorf("%q: Join(Core) = %q", tc.in, got)
		}
		if !tc.translate {
			continue
		}
		if e.Prefix != tc.prefix || e.Core != tc.core || e.Suffix != tc.suffix {
			t.Errorf("%q: got (%q, %q, %q), want (%q, %q, %q)", tc.in, e.Prefix, e.Core, e.Suffix, tc.prefix, tc.core, tc.suffix)
		}
	}
}

func TestEnvelopeJoin(t *testing.T) {
	e := SplitEnvelope("--↓　宝箱　↓--")
	if got := e.Join("宝箱子"); got != "--↓　宝箱子　↓--" {
		t.Errorf("Join = %q", got)
	}
	pass := SplitEnvelope("---")
	if got := pass.Join("ignored"); got != "---" {
		t.Errorf("passthrough Join = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Retry
// ---------------------------------------------------------------------------

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), 3, NoBackoff, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("boom")
		}
		return "ok", nil
	}, nil)
	if err != nil || got != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	boom := errors.New("boom")
	var seen []int
	_, err := Retry(context.Background(), 4, NoBackoff, func(context.Context) (int, error) {
		return 0, boom
	}, func(attempt int, err error) {
		seen = append(seen, attempt)
	})
	if !errors.Is(err, ErrBackendFailure) {
		t.Errorf("err = %v, want ErrBackendFailure", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want it to wrap the last error", err)
	}
	if !reflect.DeepEqual(seen, []int{1, 2, 3, 4}) {
		t.Errorf("onRetry saw %v", seen)
	}
}

func TestRetryUsesBackoffBetweenAttempts(t *testing.T) {
	var waits []int
	backoff := func(attempt int) time.Duration {
		waits = append(waits, attempt)
		return 0
	}
	_, _ = Retry(context.Background(), 3, backoff, func(context.Context) (int, error) {
		return 0, errors.New("x")
	}, nil)
	// No wait after the final attempt.
	if !reflect.DeepEqual(waits, []int{1, 2}) {
		t.Errorf("backoff called for %v", waits)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, 5, ConstantBackoff(time.Hour), func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("x")
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(time.Second, 5*time.Second)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := b(i + 1); got != w {
			t.Errorf("attempt %d: %v, want %v", i+1, got, w)
		}
	}
}

// ---------------------------------------------------------------------------
// Adapter
// ---------------------------------------------------------------------------

func testOptions() Options {
	return Options{SourceLang: "ja", TargetLang: "zh-CN", MaxRetries: 3, Backoff: NoBackoff}
}

// bracketBackend "translates" by wrapping each numbered entry in brackets.
func bracketBackend() FuncBackend {
	return func(_ context.Context, _, user string) (string, error) {
		var out []string
		for _, line := range strings.Split(user, "\n") {
			if idx := strings.Index(line, ". "); idx > 0 && ordinalMarker.MatchString(line) {
				out = append(out, line[:idx+2]+"["+line[idx+2:]+"]")
			}
		}
		return strings.Join(out, "\n"), nil
	}
}

func TestAdapterTranslatesAndRewraps(t *testing.T) {
	a := NewAdapter(bracketBackend(), testOptions())
	in := []string{"こんにちは", "--↓　宝箱　↓--", "---", ""}
	res, err := a.TranslateBatch(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"[こんにちは]", "--↓　[宝箱]　↓--", "---", ""}
	if !reflect.DeepEqual(res.Texts, want) {
		t.Errorf("Texts = %q, want %q", res.Texts, want)
	}
	if res.Translated != 2 || res.Passthrough != 2 || res.Fallback != 0 {
		t.Errorf("counters = %+v", res)
	}
}

func TestAdapterAlwaysFailingBackendReturnsOriginal(t *testing.T) {
	var calls atomic.Int32
	backend := FuncBackend(func(context.Context, string, string) (string, error) {
		calls.Add(1)
		return "", errors.New("timeout")
	})
	var logged []string
	opts := testOptions()
	opts.OnError = func(format string, args ...any) { logged = append(logged, fmt.Sprintf(format, args...)) }

	in := []string{"一", "二", "--三--"}
	res, err := NewAdapter(backend, opts).TranslateBatch(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.Texts, in) {
		t.Errorf("Texts = %q, want original %q", res.Texts, in)
	}
	if calls.Load() != 3 {
		t.Errorf("backend called %d times, want 3", calls.Load())
	}
	if !res.Failed || res.Fallback != 3 {
		t.Errorf("counters = %+v", res)
	}
	if len(logged) == 0 {
		t.Error("fallback was not logged")
	}
}

func TestAdapterPadsMissingEntryWithOriginal(t *testing.T) {
	backend := FuncBackend(func(context.Context, string, string) (string, error) {
		return "1. 一号\n2. 二号", nil
	})
	res, err := NewAdapter(backend, testOptions()).TranslateBatch(context.Background(), []string{"一", "二", "三"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"一号", "二号", "三"}
	if !reflect.DeepEqual(res.Texts, want) {
		t.Errorf("Texts = %q, want %q", res.Texts, want)
	}
	if !res.Mismatch || res.Translated != 2 || res.Fallback != 1 {
		t.Errorf("counters = %+v", res)
	}
}

func TestAdapterLengthInvariant(t *testing.T) {
	replies := []string{"", "nonsense", "1. a", "1. a\n2. b\n3. c\n4. d\n5. e\n6. f", "```\n1. x\n```"}
	inputs := [][]string{{}, {"a"}, {"a", "b", "c"}, {"---", "x", "", "y"}}
	for _, reply := range replies {
		backend := FuncBackend(func(context.Context, string, string) (string, error) { return reply, nil })
		a := NewAdapter(backend, testOptions())
		for _, in := range inputs {
			res, err := a.TranslateBatch(context.Background(), in)
			if err != nil {
				t.Fatal(err)
			}
			if len(res.Texts) != len(in) {
				t.Errorf("reply %q input %q: got %d texts", reply, in, len(res.Texts))
			}
		}
	}
}

func TestAdapterSkipsBackendForDecorativeBatch(t *testing.T) {
	called := false
	backend := FuncBackend(func(context.Context, string, string) (string, error) {
		called = true
		return "", nil
	})
	res, err := NewAdapter(backend, testOptions()).TranslateBatch(context.Background(), []string{"---", "　", ""})
	if err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("backend should not be called for a decorative-only batch")
	}
	if res.Passthrough != 3 {
		t.Errorf("Passthrough = %d", res.Passthrough)
	}
}

func TestAdapterRecoversWithFlakyBackend(t *testing.T) {
	flaky := &FlakyBackend{Failures: 2, Next: EchoBackend{}}
	res, err := NewAdapter(flaky, testOptions()).TranslateBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if flaky.Calls() != 3 {
		t.Errorf("calls = %d, want 3", flaky.Calls())
	}
	if res.Failed || res.Translated != 2 {
		t.Errorf("counters = %+v", res)
	}
}

func TestAdapterCancelledContextReturnsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := FuncBackend(func(context.Context, string, string) (string, error) {
		cancel()
		return "", errors.New("interrupted")
	})
	_, err := NewAdapter(backend, testOptions()).TranslateBatch(ctx, []string{"a"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestResolvedPromptFillsLanguages(t *testing.T) {
	opts := Options{SourceLang: "ja", TargetLang: "zh-CN"}
	p := opts.resolvedPrompt()
	if strings.Contains(p, "{{") {
		t.Errorf("placeholders left in prompt: %s", p)
	}
	if !strings.Contains(p, "Japanese") || !strings.Contains(p, "Chinese (Simplified)") {
		t.Errorf("language names missing from prompt: %s", p)
	}
}

// ---------------------------------------------------------------------------
// HTTP backend
// ---------------------------------------------------------------------------

func TestHTTPBackendOpenAIChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"1. 你好"}}]}`)
	}))
	defer srv.Close()

	b := NewHTTPBackend(Provider{ID: ProviderDeepSeek, Name: "test", BaseURL: srv.URL, APIKey: "sk-test", Model: "m"}, false)
	got, err := b.Complete(context.Background(), "sys", "1. こんにちは")
	if err != nil {
		t.Fatal(err)
	}
	if got != "1. 你好" {
		t.Errorf("got %q", got)
	}
}

func TestHTTPBackendGemini(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-2.5-flash:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"1. 你好"}]}}]}`)
	}))
	defer srv.Close()

	b := NewHTTPBackend(Provider{ID: ProviderGoogle, BaseURL: srv.URL, APIKey: "k", Model: "gemini-2.5-flash"}, false)
	got, err := b.Complete(context.Background(), "sys", "1. x")
	if err != nil || got != "1. 你好" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestHTTPBackendRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"1s"}]}}`)
	}))
	defer srv.Close()

	b := NewHTTPBackend(Provider{ID: ProviderOpenAI, BaseURL: srv.URL, Model: "m"}, false)
	_, err := b.Complete(context.Background(), "sys", "1. x")
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want *RateLimitError", err)
	}
	if rl.RetryAfter != 6*time.Second {
		t.Errorf("RetryAfter = %v, want 6s", rl.RetryAfter)
	}
	if !b.rl.isPaused() {
		t.Error("backend should be paused after 429")
	}
}

func TestHTTPBackendServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	b := NewHTTPBackend(Provider{ID: ProviderOpenAI, BaseURL: srv.URL, Model: "m"}, false)
	if _, err := b.Complete(context.Background(), "sys", "1. x"); err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("err = %v, want status 502", err)
	}
}

func TestExtractResponseText(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"openai", `{"choices":[{"message":{"content":"hi"}}]}`, "hi", false},
		{"gemini", `{"candidates":[{"content":{"parts":[{"text":"a"},{"text":"b"}]}}]}`, "ab", false},
		{"anthropic", `{"content":[{"type":"text","text":"hey"}]}`, "hey", false},
		{"api error", `{"error":{"message":"bad key"}}`, "", true},
		{"unknown", `{"foo":1}`, "", true},
		{"not json", `<html>`, "", true},
	}
	for _, tc := range tests {
		got, err := extractResponseText([]byte(tc.body))
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: err = %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestParseRetryDelayDefault(t *testing.T) {
	if d := parseRetryDelay([]byte("not json")); d != 65*time.Second {
		t.Errorf("got %v", d)
	}
}

func TestRateLimitErrorStretchesRetryWait(t *testing.T) {
	calls := 0
	start := time.Now()
	_, err := Retry(context.Background(), 2, NoBackoff, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &RateLimitError{RetryAfter: 20 * time.Millisecond}
		}
		return 1, nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("retry did not wait for RetryAfter")
	}
}

func TestAdapterZeroDelayRetriesImmediately(t *testing.T) {
	backend := &FlakyBackend{Failures: 1 << 20, Next: EchoBackend{}}
	opts := Options{MaxRetries: 2, Backoff: ConstantBackoff(0)}
	start := time.Now()
	res, err := NewAdapter(backend, opts).TranslateBatch(context.Background(), []string{"一"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Failed || backend.Calls() != 2 {
		t.Errorf("failed=%v calls=%d", res.Failed, backend.Calls())
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("zero delay took %v", elapsed)
	}
}

func TestDefaultRetryDelay(t *testing.T) {
	if d := (&Options{}).effectiveBackoff()(1); d != 3*time.Second {
		t.Errorf("default backoff = %v, want 3s", d)
	}
	if d := (&Options{RetryDelay: time.Second}).effectiveBackoff()(1); d != time.Second {
		t.Errorf("RetryDelay backoff = %v", d)
	}
}

func TestAdapterSystemPromptFillsLanguages(t *testing.T) {
	a := NewAdapter(EchoBackend{}, Options{SourceLang: "ja", TargetLang: "zh-CN", SystemPrompt: "From {{sourceLang}} to {{targetLang}}."})
	got := a.SystemPrompt()
	if !strings.HasPrefix(got, "From Japanese to ") || strings.Contains(got, "{{") {
		t.Errorf("SystemPrompt = %q", got)
	}
}
