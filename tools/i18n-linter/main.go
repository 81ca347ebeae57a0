// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// i18n-linter checks the translation catalogs against the source tree.
// It scans the Go sources for i18n.T() calls and compares them with the
// YAML locale files: a key used in code but absent from the primary
// locale fails the lint, as does a secondary locale missing keys the
// primary defines. Orphaned keys and hardcoded user-facing strings are
// reported as warnings.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Location stores the file and line number of a found string.
type Location struct {
	Filepath string
	Line     int
}

const (
	localesDir    = "internal/i18n/locales"
	primaryLocale = "en.yaml"
	projectRoot   = "."
)

func main() {
	fmt.Println("🔍 Running i18n linter...")

	tKeys, mentioned, err := findUsedKeys(projectRoot)
	if err != nil {
		fmt.Printf("❌ Error finding used keys: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Found %d unique translation keys used in source code.\n", len(tKeys))

	localeFiles, err := filepath.Glob(filepath.Join(localesDir, "*.yaml"))
	if err != nil {
		fmt.Printf("❌ Error finding locale files: %v\n", err)
		os.Exit(1)
	}

	primaryKeys, err := loadKeysFromLocale(filepath.Join(localesDir, primaryLocale))
	if err != nil {
		fmt.Printf("❌ Error loading primary locale '%s': %v\n", primaryLocale, err)
		os.Exit(1)
	}
	fmt.Printf("✅ Loaded %d keys from primary locale (%s).\n\n", len(primaryKeys), primaryLocale)

	hasErrors := false
	hasWarnings := false

	// 1. Keys the code calls T() with must exist in the primary locale.
	fmt.Println("--- Checking for Undefined Keys (used in code but not in primary locale) ---")
	var undefined []string
	for key := range tKeys {
		if _, exists := primaryKeys[key]; !exists {
			undefined = append(undefined, key)
		}
	}
	sort.Strings(undefined)
	for _, key := range undefined {
		fmt.Printf("  - Undefined: %s\n", key)
		hasErrors = true
	}
	if len(undefined) == 0 {
		fmt.Println("  ✨ None found.")
	}
	fmt.Println()

	// 2. Primary locale keys nothing references are clutter. Bare string
	// literals that look like keys (dynamic lookups) count as references.
	fmt.Println("--- Checking for Orphaned Keys (in primary locale but not used in code) ---")
	var orphaned []string
	for key := range primaryKeys {
		if _, exists := mentioned[key]; !exists {
			orphaned = append(orphaned, key)
		}
	}
	sort.Strings(orphaned)
	for _, key := range orphaned {
		fmt.Printf("  - Orphaned: %s\n", key)
		hasWarnings = true
	}
	if len(orphaned) == 0 {
		fmt.Println("  ✨ None found.")
	}
	fmt.Println()

	// 3. Every secondary locale must carry the full primary key set.
	fmt.Println("--- Checking for Missing Keys (in primary locale but not in others) ---")
	for _, file := range localeFiles {
		if filepath.Base(file) == primaryLocale {
			continue
		}

		fmt.Printf("Checking %s:\n", file)
		secondaryKeys, err := loadKeysFromLocale(file)
		if err != nil {
			fmt.Printf("  - ❌ Error loading %s: %v\n", file, err)
			hasErrors = true
			continue
		}

		var missing []string
		for key := range primaryKeys {
			if _, exists := secondaryKeys[key]; !exists {
				missing = append(missing, key)
			}
		}
		sort.Strings(missing)
		for _, key := range missing {
			fmt.Printf("  - Missing: %s\n", key)
			hasErrors = true
		}
		if len(missing) == 0 {
			fmt.Println("  ✨ All keys present.")
		}
	}

	// 4. Hardcoded strings that look user-facing.
	untranslated, err := findUntranslatedStrings(projectRoot, primaryKeys)
	if err != nil {
		fmt.Printf("❌ Error finding untranslated strings: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\n--- Checking for Potentially Untranslated Strings ---")
	if len(untranslated) > 0 {
		var literals []string
		for literal := range untranslated {
			literals = append(literals, literal)
		}
		sort.Strings(literals)
		for _, literal := range literals {
			loc := untranslated[literal][0]
			fmt.Printf("  - Potential: \"%s\" (found in %s:%d)\n", literal, loc.Filepath, loc.Line)
		}
		hasWarnings = true
	} else {
		fmt.Println("  ✨ None found.")
	}

	fmt.Println("\n--- Linter Finished ---")
	switch {
	case hasErrors:
		fmt.Println("❌ Found issues that need to be addressed.")
		os.Exit(1)
	case hasWarnings:
		fmt.Println("⚠️  Found warnings. Please review them.")
	default:
		fmt.Println("✅ All translation files are consistent!")
	}
}

// skippableDir reports whether a directory should be left out of the scan:
// hidden and underscore-prefixed trees (the go tool ignores those too),
// testdata, and this linter itself.
func skippableDir(name string) bool {
	switch name {
	case ".", "..":
		return false
	case "tools", "testdata":
		return true
	}
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

// keyLiteralRe matches bare string literals shaped like translation keys,
// e.g. "language.name" read through a map lookup instead of i18n.T.
var keyLiteralRe = regexp.MustCompile(`"([a-z][a-z_]*\.[a-z0-9._]+)"`)

// tCallRe matches the key argument of an i18n.T call.
var tCallRe = regexp.MustCompile(`i18n\.T\("([^"]+)"`)

// findUsedKeys scans the non-test Go sources. It returns the keys passed to
// i18n.T (these must exist in the primary locale) and the wider set of
// key-shaped literals (these only suppress orphan reports).
func findUsedKeys(root string) (map[string]struct{}, map[string]struct{}, error) {
	tKeys := make(map[string]struct{})
	mentioned := make(map[string]struct{})

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if skippableDir(info.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, match := range tCallRe.FindAllStringSubmatch(string(content), -1) {
			tKeys[match[1]] = struct{}{}
			mentioned[match[1]] = struct{}{}
		}
		for _, match := range keyLiteralRe.FindAllStringSubmatch(string(content), -1) {
			mentioned[match[1]] = struct{}{}
		}
		return nil
	})

	return tKeys, mentioned, err
}

// callRe matches someFunc("literal") shapes so string arguments can be
// inspected for user-facing text.
var callRe = regexp.MustCompile(`([a-zA-Z0-9_]+\.)?([a-zA-Z0-9_]+)\("([^"]+)"`)

// Output and log plumbing takes already-translated (or developer-only)
// strings, so literals passed to these are not reported.
var callBlacklist = map[string]struct{}{
	"Print": {}, "Println": {}, "Printf": {},
	"Fatal": {}, "Fatalf": {},
	"Debugf": {}, "Infof": {}, "Warnf": {}, "Errorf": {},
	"WriteString": {},
}

var (
	allCapsRe      = regexp.MustCompile(`^[A-Z_]+$`)
	formatOnlyRe   = regexp.MustCompile(`^[\s%.,:;()#\d\w-]*%[\s\w-]*$`)
	keyShapedRe    = regexp.MustCompile(`^[a-z_]+\.[a-z0-9._]+$`)
	sqlKeywordList = []string{"SELECT ", "INSERT ", "UPDATE ", "DELETE ", "TRUNCATE ", "PRAGMA ", "CREATE ", "ALTER ", "DROP ", "SHOW ", "OPTIMIZE ", "VACUUM"}
)

// findUntranslatedStrings scans for hardcoded strings that might belong in
// the catalogs. Heuristic by nature; the result is a warning, not a failure.
func findUntranslatedStrings(root string, knownKeys map[string]struct{}) (map[string][]Location, error) {
	untranslated := make(map[string][]Location)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if skippableDir(info.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		for i, line := range strings.Split(string(content), "\n") {
			for _, match := range callRe.FindAllStringSubmatch(line, -1) {
				funcName := match[2]
				literal := match[3]

				if _, blacklisted := callBlacklist[funcName]; blacklisted {
					continue
				}
				if _, exists := knownKeys[literal]; exists {
					continue
				}
				if keyShapedRe.MatchString(literal) {
					continue
				}
				if len(literal) < 4 {
					continue
				}
				if strings.HasPrefix(literal, "file:") || strings.HasPrefix(literal, "http") {
					continue
				}
				if isSQL(literal) {
					continue
				}
				// Go reference time layouts.
				if strings.HasPrefix(literal, "2006-") {
					continue
				}
				// Audit action constants (ADD_ARTIFACT, SEED_PUSH, ...).
				if allCapsRe.MatchString(literal) {
					continue
				}
				if formatOnlyRe.MatchString(literal) && !strings.Contains(literal, " ") {
					continue
				}

				untranslated[literal] = append(untranslated[literal], Location{Filepath: path, Line: i + 1})
			}
		}
		return nil
	})

	return untranslated, err
}

func isSQL(literal string) bool {
	upper := strings.ToUpper(literal)
	for _, keyword := range sqlKeywordList {
		if strings.HasPrefix(upper, keyword) {
			return true
		}
	}
	return false
}

// loadKeysFromLocale reads a YAML file and returns a flat set of its keys.
func loadKeysFromLocale(path string) (map[string]struct{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var data map[string]interface{}
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, err
	}

	keys := make(map[string]struct{})
	flattenYAML("", data, keys)
	return keys, nil
}

// flattenYAML converts a possibly nested map into dot-separated flat keys.
// The stevedore catalogs are flat already, so this mostly passes through,
// but a nested file still lints correctly.
func flattenYAML(prefix string, node interface{}, keys map[string]struct{}) {
	switch v := node.(type) {
	case map[string]interface{}:
		for k, val := range v {
			newPrefix := k
			if prefix != "" {
				newPrefix = prefix + "." + k
			}
			flattenYAML(newPrefix, val, keys)
		}
	case []interface{}:
		for i, val := range v {
			flattenYAML(fmt.Sprintf("%s[%d]", prefix, i), val, keys)
		}
	default:
		if prefix != "" {
			keys[prefix] = struct{}{}
		}
	}
}
