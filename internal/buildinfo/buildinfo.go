// Package buildinfo carries release metadata stamped in at link time, e.g.
//
//	go build -ldflags "-X sitecover/internal/buildinfo.Version=v1.2.0"
package buildinfo

// Set via -ldflags; a plain go build reports a dev build.
var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

// Info is the build section of the debug endpoint. Unset fields are left
// out so a dev build reports only its version.
func Info() map[string]string {
	out := map[string]string{"version": Version}
	if Commit != "" {
		out["commit"] = Commit
	}
	if BuiltAt != "" {
		out["builtAt"] = BuiltAt
	}
	return out
}
