// Package scm defines the backend-neutral model shared by every SCM client:
// revisions, changesets, repository configuration, the client capability
// interface and the error taxonomy.
package scm

const (
	headLabel        = "HEAD"
	preCreationLabel = "PRE-CREATION"
)

type revisionKind uint8

const (
	revisionNone revisionKind = iota
	revisionHead
	revisionPreCreation
	revisionNative
)

// Revision identifies a version of a file. It is one of the HEAD sentinel,
// the PRE_CREATION sentinel, or an opaque backend-native identifier. No
// ordering is defined between native revisions.
type Revision struct {
	kind  revisionKind
	value string
}

// Head is the sentinel for the latest available revision.
var Head = Revision{kind: revisionHead}

// PreCreation is the sentinel for a file that does not exist yet on the base
// side of a diff.
var PreCreation = Revision{kind: revisionPreCreation}

// NewRevision wraps a backend-native revision string.
func NewRevision(value string) Revision {
	return Revision{kind: revisionNative, value: value}
}

// ParseRevision converts a string produced by [Revision.String] back into a
// Revision, mapping the sentinel labels to their sentinels.
func ParseRevision(value string) Revision {
	switch value {
	case "":
		return Revision{}
	case headLabel:
		return Head
	case preCreationLabel:
		return PreCreation
	default:
		return NewRevision(value)
	}
}

// IsHead reports whether r is the HEAD sentinel.
func (r Revision) IsHead() bool { return r.kind == revisionHead }

// IsPreCreation reports whether r is the PRE_CREATION sentinel.
func (r Revision) IsPreCreation() bool { return r.kind == revisionPreCreation }

// IsNative reports whether r carries a backend-native identifier.
func (r Revision) IsNative() bool { return r.kind == revisionNative }

// IsZero reports whether r is the zero value.
func (r Revision) IsZero() bool { return r.kind == revisionNone }

// Value returns the native identifier, or "" for sentinels.
func (r Revision) Value() string { return r.value }

// String renders sentinels by name and native revisions verbatim.
func (r Revision) String() string {
	switch r.kind {
	case revisionHead:
		return headLabel
	case revisionPreCreation:
		return preCreationLabel
	case revisionNone:
		return ""
	default:
		return r.value
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (r Revision) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (r *Revision) UnmarshalText(text []byte) error {
	*r = ParseRevision(string(text))

	return nil
}
