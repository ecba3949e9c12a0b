package utils

import "runtime/debug"

// BuildVersion is overridden at link time with -ldflags "-X".
var BuildVersion = ""

// GetVersion returns BuildVersion, falling back to the module version
// recorded in the binary. Test binaries report "(devel)".
func GetVersion() string {
	if BuildVersion != "" {
		return BuildVersion
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.modified" && setting.Value == "true" {
			return info.Main.Version + "-dirty"
		}
	}

	return info.Main.Version
}
