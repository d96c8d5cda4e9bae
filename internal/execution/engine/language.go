package engine

import (
	"sort"
	"strings"

	appErr "arenaoj/pkg/errors"
)

// UnknownLanguage is returned when a numeric code has no known name. The
// reverse direction only feeds display/storage fields, so it degrades
// instead of failing.
const UnknownLanguage = "UNKNOWN"

// languageTable is the single source of truth for both translation
// directions. Codes follow the execution engine's public language ids.
var languageTable = map[string]int{
	"c":          50,
	"csharp":     51,
	"cpp":        54,
	"go":         60,
	"java":       62,
	"javascript": 63,
	"kotlin":     78,
	"php":        68,
	"python":     71,
	"ruby":       72,
	"rust":       73,
	"swift":      83,
	"typescript": 74,
}

var languageByCode = func() map[int]string {
	byCode := make(map[int]string, len(languageTable))
	for name, code := range languageTable {
		byCode[code] = name
	}
	return byCode
}()

// LanguageCode resolves a normalized language name to the engine's numeric
// code. This direction feeds the batch request and must fail loudly.
func LanguageCode(name string) (int, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	code, ok := languageTable[normalized]
	if !ok {
		return 0, appErr.New(appErr.LanguageNotSupported).
			WithMessagef("language %q is not supported", name)
	}
	return code, nil
}

// LanguageName resolves an engine code back to a language name, returning
// UnknownLanguage for codes outside the table.
func LanguageName(code int) string {
	name, ok := languageByCode[code]
	if !ok {
		return UnknownLanguage
	}
	return name
}

// Language pairs a supported language name with its engine code.
type Language struct {
	Name       string `json:"name"`
	EngineCode int    `json:"engine_code"`
}

// SupportedLanguages returns the supported set sorted by name.
func SupportedLanguages() []Language {
	languages := make([]Language, 0, len(languageTable))
	for name, code := range languageTable {
		languages = append(languages, Language{Name: name, EngineCode: code})
	}
	sort.Slice(languages, func(i, j int) bool {
		return languages[i].Name < languages[j].Name
	})
	return languages
}
