package version

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
)

func TestColoredWithoutColor(t *testing.T) {
	old := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = old }()

	for _, v := range []string{"0.1.0-dev", "1.2.3", "1.2.3+build.7", "dev", "1.2"} {
		if got := Colored(v); got != v {
			t.Fatalf("Colored(%q) = %q", v, got)
		}
	}
}

func TestColoredKeepsSuffix(t *testing.T) {
	old := color.NoColor
	color.NoColor = false
	defer func() { color.NoColor = old }()

	got := Colored("1.2.3-rc.1")
	if got == "1.2.3-rc.1" {
		t.Fatalf("expected escape sequences in %q", got)
	}
	if !bytes.HasSuffix([]byte(got), []byte("-rc.1")) {
		t.Fatalf("suffix lost: %q", got)
	}
	if Colored("dev") != "dev" {
		t.Fatalf("non-semver version must pass through")
	}
}

func TestBanner(t *testing.T) {
	old, oldVersion := color.NoColor, Version
	color.NoColor = true
	Version = "9.8.7"
	defer func() { color.NoColor, Version = old, oldVersion }()

	var buf bytes.Buffer
	if err := Fprint(&buf, "kiln", "tagline"); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "kiln 9.8.7: tagline\n" {
		t.Fatalf("banner = %q", buf.String())
	}
}
