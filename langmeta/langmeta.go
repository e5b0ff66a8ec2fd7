// Package langmeta provides a shared language metadata registry
// (English and native names, emoji flags) used by prompts and CLI output.
package langmeta

import "strings"

// Meta describes language display metadata.
type Meta struct {
	// English is the name used inside translation prompts.
	English string
	// Name is the native name shown in CLI output.
	Name string
	Flag string
}

// Label returns "Name (English)", or just one of them when they coincide.
func (m Meta) Label() string {
	if m.Name == "" || m.Name == m.English {
		return m.English
	}
	return m.Name + " (" + m.English + ")"
}

// Registry contains canonical language metadata.
// Locale variants are resolved in Resolve() via normalization and base fallback.
var Registry = map[string]Meta{
	"ar":    {English: "Arabic", Name: "العربية", Flag: "🇸🇦"},
	"bg":    {English: "Bulgarian", Name: "Български", Flag: "🇧🇬"},
	"ca":    {English: "Catalan", Name: "Català", Flag: "🇪🇸"},
	"cs":    {English: "Czech", Name: "Čeština", Flag: "🇨🇿"},
	"da":    {English: "Danish", Name: "Dansk", Flag: "🇩🇰"},
	"de":    {English: "German", Name: "Deutsch", Flag: "🇩🇪"},
	"el":    {English: "Greek", Name: "Ελληνικά", Flag: "🇬🇷"},
	"en":    {English: "English", Name: "English", Flag: "🇺🇸"},
	"en-GB": {English: "English (UK)", Name: "English (UK)", Flag: "🇬🇧"},
	"es":    {English: "Spanish", Name: "Español", Flag: "🇪🇸"},
	"es-MX": {English: "Spanish (Mexico)", Name: "Español (México)", Flag: "🇲🇽"},
	"fa":    {English: "Persian", Name: "فارسی", Flag: "🇮🇷"},
	"fi":    {English: "Finnish", Name: "Suomi", Flag: "🇫🇮"},
	"fr":    {English: "French", Name: "Français", Flag: "🇫🇷"},
	"he":    {English: "Hebrew", Name: "עברית", Flag: "🇮🇱"},
	"hi":    {English: "Hindi", Name: "हिन्दी", Flag: "🇮🇳"},
	"hu":    {English: "Hungarian", Name: "Magyar", Flag: "🇭🇺"},
	"id":    {English: "Indonesian", Name: "Bahasa Indonesia", Flag: "🇮🇩"},
	"it":    {English: "Italian", Name: "Italiano", Flag: "🇮🇹"},
	"ja":    {English: "Japanese", Name: "日本語", Flag: "🇯🇵"},
	"ko":    {English: "Korean", Name: "한국어", Flag: "🇰🇷"},
	"ms":    {English: "Malay", Name: "Bahasa Melayu", Flag: "🇲🇾"},
	"nb":    {English: "Norwegian Bokmål", Name: "Norsk bokmål", Flag: "🇳🇴"},
	"nl":    {English: "Dutch", Name: "Nederlands", Flag: "🇳🇱"},
	"pl":    {English: "Polish", Name: "Polski", Flag: "🇵🇱"},
	"pt":    {English: "Portuguese", Name: "Português", Flag: "🇵🇹"},
	"pt-BR": {English: "Portuguese (Brazil)", Name: "Português (Brasil)", Flag: "🇧🇷"},
	"ro":    {English: "Romanian", Name: "Română", Flag: "🇷🇴"},
	"ru":    {English: "Russian", Name: "Русский", Flag: "🇷🇺"},
	"sk":    {English: "Slovak", Name: "Slovenčina", Flag: "🇸🇰"},
	"sv":    {English: "Swedish", Name: "Svenska", Flag: "🇸🇪"},
	"th":    {English: "Thai", Name: "ไทย", Flag: "🇹🇭"},
	"tl":    {English: "Tagalog", Name: "Tagalog", Flag: "🇵🇭"},
	"tr":    {English: "Turkish", Name: "Türkçe", Flag: "🇹🇷"},
	"uk":    {English: "Ukrainian", Name: "Українська", Flag: "🇺🇦"},
	"vi":    {English: "Vietnamese", Name: "Tiếng Việt", Flag: "🇻🇳"},
	"zh":    {English: "Chinese", Name: "中文", Flag: "🇨🇳"},
	"zh-CN": {English: "Chinese (Simplified)", Name: "简体中文", Flag: "🇨🇳"},
	"zh-TW": {English: "Chinese (Traditional)", Name: "繁體中文", Flag: "🇹🇼"},
}

func canonicalize(lang string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if normalized == "" {
		return ""
	}
	parts := strings.Split(normalized, "-")
	parts[0] = strings.ToLower(parts[0])
	if len(parts) >= 2 {
		parts[1] = strings.ToUpper(parts[1])
	}
	return strings.Join(parts, "-")
}

// Resolve returns best-effort language metadata for language codes,
// supporting variants like zh_CN, zh-cn, and base-language fallbacks.
// Unknown codes resolve to a Meta that uses the code as both names.
func Resolve(lang string) Meta {
	if m, ok := Registry[lang]; ok {
		return m
	}
	normalized := canonicalize(lang)
	if m, ok := Registry[normalized]; ok {
		return m
	}
	if parts := strings.SplitN(normalized, "-", 2); len(parts) == 2 {
		if m, ok := Registry[parts[0]]; ok {
			return m
		}
	}
	return Meta{English: lang, Name: lang}
}

// Known reports whether lang resolves to a registered language.
func Known(lang string) bool {
	normalized := canonicalize(lang)
	if _, ok := Registry[normalized]; ok {
		return true
	}
	if parts := strings.SplitN(normalized, "-", 2); len(parts) == 2 {
		_, ok := Registry[parts[0]]
		return ok
	}
	return false
}
