package version

import (
	"runtime/debug"
)

// Swappable for testing
var readBuildInfo = debug.ReadBuildInfo

// BuildVersion returns the module version, or "dev" if unavailable.
func BuildVersion() string {
	info, ok := readBuildInfo()
	if !ok {
		return "dev"
	}
	if info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}

// Revision returns the short VCS revision stamped by the go tool, with a
// "-dirty" suffix for modified trees. Empty when not built from a checkout.
func Revision() string {
	info, ok := readBuildInfo()
	if !ok {
		return ""
	}
	var rev string
	dirty := false
	for _, s := range info.Settings {
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

// String is the banner shown by `winguard --version`
func String() string {
	if rev := Revision(); rev != "" {
		return BuildVersion() + " (" + rev + ")"
	}
	return BuildVersion()
}
