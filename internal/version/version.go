// Package version reports the build version stamped into dexft binaries
// with -ldflags "-X github.com/dexft/dexft/internal/version.version=...".
package version

import (
	"fmt"
	"regexp"
	"runtime"
	"runtime/debug"
	"strings"
)

const devVersion = "dev"

var version = devVersion

// String returns the raw build version.
func String() string {
	return version
}

// ForTesting swaps the build version and returns a restore func. Not safe
// for concurrent use.
func ForTesting(v string) func() {
	prev := version
	version = v
	return func() { version = prev }
}

// describeSuffix is the "-<commits>-g<hash>" tail of git describe output.
var describeSuffix = regexp.MustCompile(`-\d+-g[0-9a-f]+$`)

func normalizeVersion(v string) string {
	return describeSuffix.ReplaceAllString(strings.TrimPrefix(v, "v"), "")
}

// FormatVersion adds a "v" prefix to release versions. "dev" and "" pass
// through unchanged.
func FormatVersion(v string) string {
	if v == "" || v == devVersion || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// unversioned reports builds that carry no comparable release number.
// 0.0.0 is what the build stamps when the checkout has no tags.
func unversioned(v string) bool {
	switch v {
	case "", devVersion, "0.0.0":
		return true
	}
	return false
}

// CheckVersionMismatch returns a warning when this binary and the daemon
// were built from different releases, and "" otherwise.
func CheckVersionMismatch(daemonVersion string) string {
	if unversioned(version) || unversioned(daemonVersion) {
		return ""
	}
	if normalizeVersion(version) == normalizeVersion(daemonVersion) {
		return ""
	}
	return fmt.Sprintf("WARNING: dexft %s connected to dexftd %s; version mismatch, restart the daemon or reinstall",
		FormatVersion(version), FormatVersion(daemonVersion))
}

// Info describes the running binary for /status and `dexft version`.
type Info struct {
	Version   string `json:"version"`
	Revision  string `json:"revision,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Current returns build information for this binary. Revision comes from
// the VCS stamp the go command embeds, when present.
func Current() Info {
	return Info{
		Version:   FormatVersion(version),
		Revision:  vcsRevision(),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var rev string
	dirty := false
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev != "" && dirty {
		rev += "-dirty"
	}
	return rev
}
