package clearcase

import (
	"path"
	"strings"

	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

const (
	// extendedSeparator joins an element path to its version path.
	extendedSeparator = "@@"

	checkedOut   = "CHECKEDOUT"
	mainZeroPath = "/main/0"
)

// UnextendPath strips version information from an extended path such as
// "/vobs/comm@@/main/122/network@@/main/55/sntp.c@@/main/8", returning the
// version number of the last element and the plain path
// "/vobs/comm/network/sntp.c". Paths without version information and
// checked-out versions yield HEAD.
//
// Each segment after an "@@" is a version path ("/main/.../N" or
// ".../CHECKEDOUT") followed by the names of the next elements, if any.
func UnextendPath(extended string) (scm.Revision, string) {
	if !strings.Contains(extended, extendedSeparator) {
		return scm.Head, extended
	}

	segments := strings.Split(extended, extendedSeparator)

	elements := []string{segments[0]}
	for _, segment := range segments[1:] {
		elements = append(elements, elementNames(segment)...)
	}

	plain := path.Clean(strings.Join(elements, "/"))

	version := segments[len(segments)-1]
	if strings.HasSuffix(version, checkedOut) {
		return scm.Head, plain
	}

	return scm.NewRevision(path.Base(version)), plain
}

// elementNames drops the leading version path from segment and returns what
// follows it.
func elementNames(segment string) []string {
	parts := strings.Split(strings.Trim(segment, "/"), "/")

	for i, part := range parts {
		if part == checkedOut || isVersionNumber(part) {
			return parts[i+1:]
		}
	}

	return nil
}

func isVersionNumber(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

// revisionFromFilename applies the diff filename conventions: a "/main/0"
// version is an element that did not exist yet, checked-out and
// unversioned paths are the view's current version, and anything else
// carries its version path after "@@".
func revisionFromFilename(filename string) scm.Revision {
	switch {
	case strings.HasSuffix(filename, mainZeroPath):
		return scm.PreCreation
	case strings.HasSuffix(filename, checkedOut), !strings.Contains(filename, extendedSeparator):
		return scm.Head
	default:
		return scm.NewRevision(filename[strings.LastIndex(filename, extendedSeparator)+len(extendedSeparator):])
	}
}

// extendedPath returns the version-extended path for p at rev.
func extendedPath(p string, rev scm.Revision) string {
	if strings.Contains(p, extendedSeparator) || !rev.IsNative() {
		return p
	}

	return p + extendedSeparator + rev.Value()
}

// elementPath returns the element designator "p@@" that describe needs to
// report on the element rather than a version.
func elementPath(p string) string {
	if idx := strings.LastIndex(p, extendedSeparator); idx >= 0 {
		return p[:idx] + extendedSeparator
	}

	return p + extendedSeparator
}
