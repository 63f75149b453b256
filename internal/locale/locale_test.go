package locale

import (
	"errors"
	"testing"

	"github.com/MikeSquared-Agency/dispatchbot/internal/kv"
)

func TestLanguage_Default(t *testing.T) {
	p := NewPreferences(kv.NewMemoryStore())
	if got := p.Language(); got != "en" {
		t.Errorf("expected default en, got %q", got)
	}
}

func TestSetLanguage(t *testing.T) {
	store := kv.NewMemoryStore()
	p := NewPreferences(store)

	if err := p.SetLanguage("it"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.Language(); got != "it" {
		t.Errorf("expected it, got %q", got)
	}
	if v, _ := store.Get(kv.KeyLanguage); v != "it" {
		t.Errorf("expected selectedLanguage persisted, got %q", v)
	}
}

func TestSetLanguage_Unsupported(t *testing.T) {
	p := NewPreferences(kv.NewMemoryStore())
	if err := p.SetLanguage("fr"); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Errorf("expected ErrUnsupportedLanguage, got %v", err)
	}
	if got := p.Language(); got != "en" {
		t.Errorf("language should be unchanged, got %q", got)
	}
}

func TestLanguage_IgnoresUnknownStoredValue(t *testing.T) {
	store := kv.NewMemoryStore()
	store.Set(kv.KeyLanguage, "xx")
	if got := NewPreferences(store).Language(); got != "en" {
		t.Errorf("expected fallback to en, got %q", got)
	}
}
