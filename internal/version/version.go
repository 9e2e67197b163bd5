package version

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Build metadata of the kiln CLI. Override at build time via -ldflags
// "-X kiln/internal/version.Version=...".
var (
	// Version is the semantic version of the CLI.
	Version = "0.1.0-dev"

	// GitCommit is an optional git commit hash.
	GitCommit = ""

	// BuildDate is an optional build date in ISO-8601.
	BuildDate = ""
)

var (
	majorColor = color.New(color.FgYellow, color.Bold)
	minorColor = color.New(color.FgGreen, color.Bold)
	patchColor = color.New(color.FgBlue, color.Bold)
)

// Colored renders v with each numeric component in its own colour. A
// pre-release or build suffix is printed as is. Colour output follows
// color.NoColor.
func Colored(v string) string {
	core, rest := v, ""
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		core, rest = v[:i], v[i:]
	}
	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return v
	}
	return majorColor.Sprint(parts[0]) + "." + minorColor.Sprint(parts[1]) + "." + patchColor.Sprint(parts[2]) + rest
}

// Fprint writes the one-line banner of the CLI.
func Fprint(w io.Writer, tool, tagline string) error {
	_, err := fmt.Fprintf(w, "%s %s: %s\n", tool, Colored(Version), tagline)
	return err
}
