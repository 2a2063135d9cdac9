// Package buildinfo exposes build identity for the /debug endpoint.
package buildinfo

import "runtime/debug"

// Set at build time via -ldflags "-X hubroute/internal/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

// Info reports the build identity, falling back to the module's embedded
// VCS revision when no commit was stamped in.
func Info() map[string]string {
	commit := Commit
	if commit == "" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					commit = s.Value
					break
				}
			}
		}
	}
	return map[string]string{
		"version": Version,
		"commit":  commit,
		"builtAt": BuiltAt,
	}
}
