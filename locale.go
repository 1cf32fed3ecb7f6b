package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultMessages is the en_US catalogue. Locale files only need the keys
// they translate.
var defaultMessages = map[string]string{
	"notify_subject_failed":    "VFS check failed at %s",
	"notify_body_failed":       "The appointment check stopped at stage %s.\nReason: %s\n",
	"notify_body_checkpoint":   "Last screenshot: %s\n",
	"notify_footer":            "\nTime: %s\nCheck: %s\n",
	"notify_subject_status":    "VFS appointment status",
	"notify_subject_available": "VFS appointment may be available",
}

// Locale holds the operator-facing notification texts.
type Locale struct {
	translations map[string]string
	locale       string
}

func DefaultLocale() *Locale {
	return &Locale{translations: defaultMessages, locale: "en_US"}
}

// DetectSystemLocale detects the user's system locale. The first non-empty
// variable in POSIX order wins, even when it names the C locale.
func DetectSystemLocale() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if locale := os.Getenv(key); locale != "" {
			// Typically "en_US.UTF-8"
			parts := strings.Split(locale, ".")
			if parts[0] != "" && parts[0] != "C" && parts[0] != "POSIX" {
				return parts[0]
			}
			break
		}
	}

	if runtime.GOOS == "windows" {
		if locale := os.Getenv("LANG"); locale != "" {
			return locale
		}
	}

	return "en_US"
}

// LoadLocale reads dir/<locale>.yaml on top of the built-in catalogue.
func LoadLocale(dir, locale string) (*Locale, error) {
	localeFile := filepath.Join(dir, locale+".yaml")

	data, err := os.ReadFile(localeFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read locale file %s: %w", localeFile, err)
	}

	var overrides map[string]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse locale file %s: %w", localeFile, err)
	}

	translations := make(map[string]string, len(defaultMessages)+len(overrides))
	for k, v := range defaultMessages {
		translations[k] = v
	}
	for k, v := range overrides {
		translations[k] = v
	}

	return &Locale{translations: translations, locale: locale}, nil
}

// ResolveLocale loads the system locale from dir, falling back to en_US.
func ResolveLocale(dir string) (*Locale, error) {
	locale := DetectSystemLocale()
	if locale == "en_US" || dir == "" {
		return DefaultLocale(), nil
	}
	l, err := LoadLocale(dir, locale)
	if err != nil {
		return DefaultLocale(), err
	}
	return l, nil
}

// T translates key. Unknown keys come back unchanged.
func (l *Locale) T(key string, params ...interface{}) string {
	if l == nil {
		l = DefaultLocale()
	}
	translation, ok := l.translations[key]
	if !ok {
		return key
	}
	if len(params) > 0 {
		return fmt.Sprintf(translation, params...)
	}
	return translation
}

func (l *Locale) Code() string {
	if l == nil {
		return "en_US"
	}
	return l.locale
}
