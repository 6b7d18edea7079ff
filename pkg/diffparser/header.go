package diffparser

import (
	"context"
	"regexp"
	"strings"
)

// IndexSeparator is the line that follows an "Index: " header in CVS and
// Subversion style diffs.
var IndexSeparator = strings.Repeat("=", 67)

const indexPrefix = "Index: "

var multiSpaceRe = regexp.MustCompile(`  +`)

// Header accumulates what the header parsers learn about one file before it
// becomes a record. A header is complete once both sides carry a filename and
// both info fields have been set, even if set to "".
type Header struct {
	Index string

	OrigFile string
	OrigInfo string
	NewFile  string
	NewInfo  string

	Binary  bool
	Deleted bool
	Moved   bool
	Copied  bool

	origSet bool
	newSet  bool
}

// SetOrig records the original side of the change.
func (h *Header) SetOrig(file, info string) {
	h.OrigFile = file
	h.OrigInfo = info
	h.origSet = true
}

// SetNew records the modified side of the change.
func (h *Header) SetNew(file, info string) {
	h.NewFile = file
	h.NewInfo = info
	h.newSet = true
}

// Complete reports whether enough is known to emit a record.
func (h *Header) Complete() bool {
	return h.origSet && h.newSet && h.OrigFile != "" && h.NewFile != ""
}

// HeaderParser recognizes backend-specific header lines starting at linenum.
// It returns the first unconsumed line. When done is true the header is final
// and the generic unified header parser is not consulted.
type HeaderParser func(ctx context.Context, lines []string, linenum int, h *Header) (next int, done bool, err error)

// ParseIndexHeader consumes an "Index: path" line followed by the separator
// line and records the path in h.Index. It is the default HeaderParser.
func ParseIndexHeader(_ context.Context, lines []string, linenum int, h *Header) (int, bool, error) {
	if linenum+1 >= len(lines) ||
		!strings.HasPrefix(lines[linenum], indexPrefix) ||
		strings.TrimRight(lines[linenum+1], "\r") != IndexSeparator {
		return linenum, false, nil
	}

	index := strings.TrimSpace(strings.TrimPrefix(lines[linenum], indexPrefix))
	if index == "" {
		return linenum, false, newParseError(linenum, "malformed Index line")
	}

	h.Index = index

	return linenum + 2, false, nil
}

// ParseUnifiedHeader consumes a unified ("--- "/"+++ ") or context
// ("*** "/"--- ") file header pair.
func ParseUnifiedHeader(lines []string, linenum int, h *Header) (int, error) {
	if linenum+1 >= len(lines) {
		return linenum, nil
	}

	first, second := lines[linenum], lines[linenum+1]

	unified := strings.HasPrefix(first, "--- ") && strings.HasPrefix(second, "+++ ")
	contextDiff := strings.HasPrefix(first, "*** ") && strings.HasPrefix(second, "--- ") &&
		!strings.HasSuffix(first, " ****")

	if !unified && !contextDiff {
		return linenum, nil
	}

	origFile, origInfo, err := ParseFilenameHeader(first[4:])
	if err != nil {
		return linenum, newParseError(linenum, "the diff file is missing revision information")
	}

	newFile, newInfo, err := ParseFilenameHeader(second[4:])
	if err != nil {
		return linenum + 1, newParseError(linenum+1, "the diff file is missing revision information")
	}

	h.SetOrig(origFile, origInfo)
	h.SetNew(newFile, newInfo)

	return linenum + 2, nil
}

// ParseFilenameHeader splits the text after "--- " or "+++ " into a filename
// and its revision or timestamp info. A tab is the preferred separator; two
// or more spaces are accepted as a fallback.
func ParseFilenameHeader(s string) (file, info string, err error) {
	s = strings.TrimRight(s, "\r")

	if name, rest, ok := strings.Cut(s, "\t"); ok {
		return name, rest, nil
	}

	if parts := multiSpaceRe.Split(s, 2); len(parts) == 2 {
		return parts[0], parts[1], nil
	}

	return "", "", ErrNoSeparator
}

// IsBinaryLine reports whether line is a "Binary files X and Y differ" or
// "Files X and Y differ" marker.
func IsBinaryLine(line string) bool {
	return strings.HasPrefix(line, "Binary files ") || strings.HasPrefix(line, "Files ")
}
