package bazaar

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

const (
	// PreCreationTimestamp is the timestamp bzr prints on the missing side
	// of an added file.
	PreCreationTimestamp = "1970-01-01 00:00:00 +0000"

	diffTimestampLayout = "2006-01-02 15:04:05 -0700"
	localDateLayout     = "2006-01-02 15:04:05"

	revidPrefix = "revid:"
	datePrefix  = "date:"
	lastRevspec = "last:1"
)

var revidSuffixRe = regexp.MustCompile(`\((revid:[^)]+)\)\s*$`)

// ParseDiffTimestamp parses a bzr diff header timestamp such as
// "2007-02-09 23:23:50 +0100".
func ParseDiffTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(diffTimestampLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse bzr timestamp %q: %w", s, err)
	}

	return t, nil
}

// Revspec converts a revision into a bzr revision specifier. Timestamps are
// given to bzr in the server's local time zone, which is what date: expects.
func Revspec(rev scm.Revision, loc *time.Location) (string, error) {
	if rev.IsHead() || rev.IsZero() {
		return lastRevspec, nil
	}

	value := rev.Value()
	if strings.HasPrefix(value, revidPrefix) {
		return value, nil
	}

	t, err := ParseDiffTimestamp(value)
	if err != nil {
		return "", err
	}

	return datePrefix + t.In(loc).Format(localDateLayout), nil
}

// parseRevision maps a diff header revision string to a Revision. A
// trailing "(revid:...)" wins over the timestamp before it.
func parseRevision(filename, revision string) (scm.Revision, error) {
	revision = strings.TrimSpace(revision)

	if m := revidSuffixRe.FindStringSubmatch(revision); m != nil {
		return scm.NewRevision(m[1]), nil
	}

	if revision == PreCreationTimestamp || revision == scm.PreCreation.String() {
		return scm.PreCreation, nil
	}

	if _, err := ParseDiffTimestamp(revision); err != nil {
		return scm.Revision{}, &scm.InvalidRevisionFormatError{Path: filename, Revision: revision, Detail: err.Error()}
	}

	return scm.NewRevision(revision), nil
}
