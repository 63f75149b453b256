// Package locale stores the user's interface language.
package locale

import (
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/dispatchbot/internal/kv"
)

// DefaultLanguage is used until the user picks one.
const DefaultLanguage = "en"

var ErrUnsupportedLanguage = errors.New("unsupported language")

type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Supported lists the selectable languages in display order.
var Supported = []Language{
	{Code: "en", Name: "English"},
	{Code: "de", Name: "German"},
	{Code: "it", Name: "Italian"},
}

type Preferences struct {
	store kv.Store
}

func NewPreferences(store kv.Store) *Preferences {
	return &Preferences{store: store}
}

// Language returns the saved language code, or DefaultLanguage.
func (p *Preferences) Language() string {
	if code, ok := p.store.Get(kv.KeyLanguage); ok && isSupported(code) {
		return code
	}
	return DefaultLanguage
}

func (p *Preferences) SetLanguage(code string) error {
	if !isSupported(code) {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, code)
	}
	if err := p.store.Set(kv.KeyLanguage, code); err != nil {
		return fmt.Errorf("save language: %w", err)
	}
	return nil
}

func isSupported(code string) bool {
	for _, l := range Supported {
		if l.Code == code {
			return true
		}
	}
	return false
}
