//go:build nogit

package registry

// gitEntry keeps the git backend listed in builds without libgit2 so Probe
// can report why it is unavailable.
func gitEntry() entry {
	return entry{missing: "libgit2", features: Features{Changesets: true}}
}
