package translate

import (
	"regexp"
	"strings"
)

var (
	// envelopePattern splits decorative leading dashes/arrows/spaces and
	// trailing spaces/arrows/dashes from the core text.
	envelopePattern = regexp.MustCompile(`^(-*[↓↑]?[　\s-]*)(.*?)([　\s↑↓-]*)$`)
	// decorativeOnly matches cores that carry nothing to translate.
	decorativeOnly = regexp.MustCompile(`^[\s　↑↓-]+$`)
)

// Envelope is one item split into a decorative frame and its core text.
// Only Core is sent to the backend; Prefix and Suffix are reattached
// verbatim.
type Envelope struct {
	Prefix string
	Core   string
	Suffix string
	// Translate is false for items that pass through untouched.
	Translate bool
}

// SplitEnvelope decomposes text. Text the pattern cannot frame (for
// example multi-line text) is kept whole as the core.
func SplitEnvelope(text string) Envelope {
	m := envelopePattern.FindStringSubmatch(text)
	if m == nil {
		return Envelope{Core: text, Translate: translatable(text)}
	}
	if !translatable(m[2]) {
		return Envelope{Core: text}
	}
	return Envelope{Prefix: m[1], Core: m[2], Suffix: m[3], Translate: true}
}

// Join reattaches the frame around a translated core. Passthrough
// envelopes ignore core and return the original text.
func (e Envelope) Join(core string) string {
	if !e.Translate {
		return e.Core
	}
	return e.Prefix + core + e.Suffix
}

func translatable(core string) bool {
	return strings.TrimSpace(core) != "" && !decorativeOnly.MatchString(core)
}
