package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validManifest = `
[project]
name = "payments-api"

[dependencies.billing-core]
git = "ssh://git@github.com/acme/billing-core.git"
branch = "main"
subdir = "sdk/go"

[dependencies.audit-log]
git = "git@github.com:acme/audit-log.git"
tag = "v1.4.2"

[dependencies.public-utils]
git = "https://github.com/acme/public-utils.git"
rev = "0123456789abcdef0123456789abcdef01234567"
`

func TestParseValid(t *testing.T) {
	m, err := Parse([]byte(validManifest))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.Project.Name != "payments-api" {
		t.Errorf("project name = %q", m.Project.Name)
	}
	if len(m.Dependencies) != 3 {
		t.Fatalf("got %d dependencies, want 3", len(m.Dependencies))
	}
	if m.Dependencies["billing-core"].Subdir != "sdk/go" {
		t.Errorf("subdir = %q", m.Dependencies["billing-core"].Subdir)
	}
}

func TestParseEmptyDependenciesIsLegal(t *testing.T) {
	m, err := Parse([]byte("[project]\nname = \"solo\"\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(m.Deps()) != 0 {
		t.Errorf("expected no deps, got %d", len(m.Deps()))
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{"missing project name", `[dependencies.a]` + "\n" + `git = "https://x.test/a.git"`},
		{"uppercase project name", "[project]\nname = \"Payments\"\n"},
		{"bad dep name", "[project]\nname = \"p\"\n[dependencies.\"Bad Name\"]\ngit = \"https://x.test/a.git\"\n"},
		{"missing git url", "[project]\nname = \"p\"\n[dependencies.a]\nbranch = \"main\"\n"},
		{"unparseable git url", "[project]\nname = \"p\"\n[dependencies.a]\ngit = \"ftp://x.test/a.git\"\n"},
		{"branch and tag together", "[project]\nname = \"p\"\n[dependencies.a]\ngit = \"https://x.test/a.git\"\nbranch = \"main\"\ntag = \"v1\"\n"},
		{"rev not hex", "[project]\nname = \"p\"\n[dependencies.a]\ngit = \"https://x.test/a.git\"\nrev = \"not-a-sha\"\n"},
		{"rev too short", "[project]\nname = \"p\"\n[dependencies.a]\ngit = \"https://x.test/a.git\"\nrev = \"abc12\"\n"},
		{"absolute subdir", "[project]\nname = \"p\"\n[dependencies.a]\ngit = \"https://x.test/a.git\"\nsubdir = \"/etc\"\n"},
		{"escaping subdir", "[project]\nname = \"p\"\n[dependencies.a]\ngit = \"https://x.test/a.git\"\nsubdir = \"../secrets\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.manifest)); err == nil {
				t.Errorf("Parse accepted invalid manifest")
			}
		})
	}
}

func TestDepsSortedByName(t *testing.T) {
	m, err := Parse([]byte(validManifest))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	deps := m.Deps()
	want := []string{"audit-log", "billing-core", "public-utils"}
	if len(deps) != len(want) {
		t.Fatalf("got %d deps", len(deps))
	}
	for i, name := range want {
		if deps[i].Name != name {
			t.Errorf("deps[%d].Name = %q, want %q", i, deps[i].Name, name)
		}
	}
}

func TestSSHDeps(t *testing.T) {
	m, err := Parse([]byte(validManifest))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	ssh := m.SSHDeps()
	if len(ssh) != 2 {
		t.Fatalf("got %d ssh deps, want 2", len(ssh))
	}
	for _, d := range ssh {
		if strings.HasPrefix(d.URL, "https://") {
			t.Errorf("https remote %q classified as ssh", d.URL)
		}
	}
}

func TestWriteLoadRoundTrip(t *testing.T) {
	m, err := Parse([]byte(validManifest))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), Filename)
	if err := m.Write(path); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if back.Project.Name != m.Project.Name {
		t.Errorf("project name lost in round trip")
	}
	if len(back.Dependencies) != len(m.Dependencies) {
		t.Errorf("dependencies lost in round trip")
	}
	if back.Dependencies["audit-log"].Tag != "v1.4.2" {
		t.Errorf("tag lost in round trip")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), Filename)); err == nil {
		t.Fatal("expected error for missing manifest")
	}
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), Filename)
	if err := Init(path, "fresh-project"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading scaffold: %v", err)
	}
	if !strings.Contains(string(data), "fresh-project") {
		t.Errorf("scaffold missing project name:\n%s", data)
	}
	// Second Init must refuse to clobber.
	if err := Init(path, "other"); err == nil {
		t.Error("Init overwrote an existing manifest")
	}
}

func TestInitRejectsBadProjectName(t *testing.T) {
	path := filepath.Join(t.TempDir(), Filename)
	if err := Init(path, "Bad Name"); err == nil {
		t.Fatal("Init accepted invalid project name")
	}
	if _, statErr := os.Stat(path); statErr == nil {
		t.Error("Init left a file behind after validation failure")
	}
}
