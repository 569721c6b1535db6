package version

import (
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	v := Get()
	if v == "" {
		t.Fatal("expected a version")
	}
	if strings.TrimSpace(v) != v {
		t.Errorf("version %q has surrounding whitespace", v)
	}
}

func TestFull_Commit(t *testing.T) {
	old := Commit
	defer func() { Commit = old }()

	Commit = "0123456789abcdef"
	if got, want := Full(), Get()+" (0123456789ab)"; got != want {
		t.Errorf("Full() = %q, want %q", got, want)
	}
}
