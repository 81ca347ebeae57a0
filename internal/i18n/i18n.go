// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// Package i18n provides internationalization and localization support for
// Stevedore. It uses the go-i18n library to load and manage translation
// files, allowing the CLI and TUI to be displayed in multiple languages.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// localeFS embeds the YAML translation files from the 'locales' directory
// into the application binary.
//
//go:embed locales/*.yaml
var localeFS embed.FS

// bundle stores all the loaded translation messages from the locale files.
var bundle *i18n.Bundle

// localizer is used to translate messages into a specific language.
var localizer *i18n.Localizer

// currentLang tracks the active language code.
var currentLang string

// Init initializes the i18n bundle and sets up the localizer for a specific
// language. It parses all embedded YAML files from the 'locales' directory.
func Init(lang string) {
	bundle = i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	files, _ := fs.ReadDir(localeFS, "locales")
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, _ := localeFS.ReadFile("locales/" + f.Name())
		bundle.ParseMessageFileBytes(data, f.Name())
	}

	localizer = i18n.NewLocalizer(bundle, lang)
	currentLang = lang
}

// GetLang returns the active language code.
func GetLang() string {
	return currentLang
}

// GetAvailableLocales returns the embedded locales as a map of language code
// to display name. The display name is the locale's own "language.name"
// message; a locale that does not name itself shows up under its code.
func GetAvailableLocales() map[string]string {
	locales := make(map[string]string)
	files, _ := fs.ReadDir(localeFS, "locales")
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		code := strings.TrimSuffix(f.Name(), ".yaml")
		locales[code] = code

		data, err := localeFS.ReadFile("locales/" + f.Name())
		if err != nil {
			continue
		}
		var messages map[string]string
		if yaml.Unmarshal(data, &messages) == nil && messages["language.name"] != "" {
			locales[code] = messages["language.name"]
		}
	}
	return locales
}

// T translates a message by its ID. Any extra arguments are applied with
// fmt.Sprintf, so translations may carry printf verbs. If the i18n system
// has not been initialized, it defaults to English. If a translation for
// the given ID is not found, the ID itself is returned so the UI degrades
// to readable (if untranslated) output.
func T(messageID string, args ...any) string {
	if localizer == nil {
		Init("en")
	}
	msg, err := localizer.Localize(&i18n.LocalizeConfig{MessageID: messageID})
	if err != nil {
		msg = messageID
	}
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// SetLang changes the active language of the localizer.
func SetLang(lang string) {
	Init(lang)
}
