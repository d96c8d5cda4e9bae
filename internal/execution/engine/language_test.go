package engine_test

import (
	"sort"
	"testing"

	"arenaoj/internal/execution/engine"
	pkgerrors "arenaoj/pkg/errors"
)

func TestLanguageCodeKnown(t *testing.T) {
	code, err := engine.LanguageCode("cpp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 54 {
		t.Fatalf("expected 54 for cpp, got %d", code)
	}
}

func TestLanguageCodeNormalizesInput(t *testing.T) {
	code, err := engine.LanguageCode("  Python ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 71 {
		t.Fatalf("expected 71 for python, got %d", code)
	}
}

func TestLanguageCodeUnknown(t *testing.T) {
	_, err := engine.LanguageCode("cobol")
	if err == nil || pkgerrors.GetCode(err) != pkgerrors.LanguageNotSupported {
		t.Fatalf("expected LanguageNotSupported, got %v", err)
	}
}

func TestLanguageNameUnknownCode(t *testing.T) {
	if name := engine.LanguageName(9999); name != engine.UnknownLanguage {
		t.Fatalf("expected %q for unknown code, got %q", engine.UnknownLanguage, name)
	}
}

func TestLanguageRoundTrip(t *testing.T) {
	for _, lang := range engine.SupportedLanguages() {
		code, err := engine.LanguageCode(lang.Name)
		if err != nil {
			t.Fatalf("language %q: unexpected error: %v", lang.Name, err)
		}
		if code != lang.EngineCode {
			t.Fatalf("language %q: expected code %d, got %d", lang.Name, lang.EngineCode, code)
		}
		if name := engine.LanguageName(code); name != lang.Name {
			t.Fatalf("code %d: expected name %q, got %q", code, lang.Name, name)
		}
	}
}

func TestSupportedLanguagesSorted(t *testing.T) {
	languages := engine.SupportedLanguages()
	if len(languages) == 0 {
		t.Fatal("expected a non-empty language set")
	}
	sorted := sort.SliceIsSorted(languages, func(i, j int) bool {
		return languages[i].Name < languages[j].Name
	})
	if !sorted {
		t.Fatal("expected languages sorted by name")
	}
}
