package main

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestFlattenYAMLAndLoadKeys(t *testing.T) {
	m := map[string]interface{}{
		"fetch.progress": "Fetching...",
		"nested": map[string]interface{}{
			"sub": "value",
			"arr": []interface{}{"one", "two"},
		},
	}
	keys := make(map[string]struct{})
	flattenYAML("", m, keys)
	if _, ok := keys["fetch.progress"]; !ok {
		t.Fatalf("expected flat key fetch.progress in keys")
	}
	if _, ok := keys["nested.sub"]; !ok {
		t.Fatalf("expected nested.sub in keys")
	}
	if _, ok := keys["nested.arr[0]"]; !ok {
		t.Fatalf("expected nested.arr[0] in keys")
	}

	dir := t.TempDir()
	p := filepath.Join(dir, "test.yaml")
	data, _ := yaml.Marshal(m)
	if err := os.WriteFile(p, data, 0600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	got, err := loadKeysFromLocale(p)
	if err != nil {
		t.Fatalf("loadKeysFromLocale failed: %v", err)
	}
	if _, ok := got["fetch.progress"]; !ok {
		t.Fatalf("expected loaded key fetch.progress")
	}
}

func TestFindUsedKeys(t *testing.T) {
	dir := t.TempDir()
	src := `package foo
func f() {
	_ = i18n.T("my.key")
	_ = lookup["audit_log.title"]
	foo("Visible message")
}`
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "a.go"), []byte(src), 0644); err != nil {
		t.Fatalf("write go: %v", err)
	}
	// Test files and underscore directories stay out of the scan.
	if err := os.WriteFile(filepath.Join(dir, "sub", "a_test.go"), []byte(`package foo
func g() { _ = i18n.T("test.only.key") }`), 0644); err != nil {
		t.Fatalf("write test go: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "_vendor"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "_vendor", "b.go"), []byte(`package bar
func h() { _ = i18n.T("vendored.key") }`), 0644); err != nil {
		t.Fatalf("write vendored go: %v", err)
	}

	tKeys, mentioned, err := findUsedKeys(dir)
	if err != nil {
		t.Fatalf("findUsedKeys failed: %v", err)
	}
	if _, ok := tKeys["my.key"]; !ok {
		t.Fatalf("expected my.key in T-called keys")
	}
	if _, ok := tKeys["audit_log.title"]; ok {
		t.Fatalf("bare literal should not count as a T-called key")
	}
	if _, ok := mentioned["audit_log.title"]; !ok {
		t.Fatalf("expected audit_log.title in mentioned keys")
	}
	if _, ok := tKeys["test.only.key"]; ok {
		t.Fatalf("keys from _test.go files should be ignored")
	}
	if _, ok := tKeys["vendored.key"]; ok {
		t.Fatalf("keys under underscore directories should be ignored")
	}
}

func TestFindUntranslatedStrings(t *testing.T) {
	dir := t.TempDir()
	src := `package foo
func f() {
	foo("Visible message")
	bar("ok")
	baz("my.key")
	qux("SELECT * FROM artifacts")
	log.Debugf("fetch run %s done", id)
	audit("ADD_ARTIFACT")
}`
	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte(src), 0644); err != nil {
		t.Fatalf("write go: %v", err)
	}

	known := map[string]struct{}{"my.key": {}}
	untranslated, err := findUntranslatedStrings(dir, known)
	if err != nil {
		t.Fatalf("findUntranslatedStrings failed: %v", err)
	}
	if _, ok := untranslated["Visible message"]; !ok {
		t.Fatalf("expected Visible message to be flagged")
	}
	for _, skipped := range []string{"ok", "my.key", "SELECT * FROM artifacts", "fetch run %s done", "ADD_ARTIFACT"} {
		if _, ok := untranslated[skipped]; ok {
			t.Fatalf("did not expect %q to be flagged", skipped)
		}
	}
}
