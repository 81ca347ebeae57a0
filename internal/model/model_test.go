package model

import "testing"

func TestDependencyRef(t *testing.T) {
	tests := []struct {
		name string
		dep  Dependency
		want string
	}{
		{"branch", Dependency{Branch: "main"}, "main"},
		{"tag", Dependency{Tag: "v1.2.3"}, "v1.2.3"},
		{"rev", Dependency{Rev: "abc123f"}, "abc123f"},
		{"default", Dependency{}, "HEAD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dep.Ref(); got != tt.want {
				t.Errorf("Ref() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDependencyString(t *testing.T) {
	d := Dependency{Name: "libadd", URL: "ssh://git@example.com/org/libadd.git", Tag: "v1.4.2"}
	want := "libadd @ ssh://git@example.com/org/libadd.git#v1.4.2"
	if got := d.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestLockedDependencyShortCommit(t *testing.T) {
	l := LockedDependency{Name: "libadd", Commit: "0123456789abcdef0123456789abcdef01234567"}
	if got := l.ShortCommit(); got != "0123456789ab" {
		t.Errorf("ShortCommit() = %q, want %q", got, "0123456789ab")
	}
	if got := l.String(); got != "libadd@0123456789ab" {
		t.Errorf("String() = %q, want %q", got, "libadd@0123456789ab")
	}

	short := LockedDependency{Commit: "abc"}
	if got := short.ShortCommit(); got != "abc" {
		t.Errorf("ShortCommit() on short id = %q, want %q", got, "abc")
	}
}
