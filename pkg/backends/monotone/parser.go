package monotone

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Sumatoshi-tech/scmkit/pkg/diffparser"
)

// Separator ends the comment block mtn writes before each file's diff.
var Separator = strings.Repeat("=", 60)

var binaryCommentRe = regexp.MustCompile(`^# (.+) is binary\r?$`)

// NewParser returns a diff parser for "mtn diff" output.
func NewParser(data []byte, logger *slog.Logger) *diffparser.Parser {
	return diffparser.New(data,
		diffparser.WithHeaderParser(parseHeader),
		diffparser.WithLogger(logger))
}

// parseHeader skips the "#" comment block and separator that precede each
// file, then reads the unified header and the "# name is binary" marker mtn
// prints in place of hunks for binary content.
func parseHeader(ctx context.Context, lines []string, linenum int, h *diffparser.Header) (int, bool, error) {
	next := linenum

	for next < len(lines) && strings.HasPrefix(lines[next], "#") && !binaryCommentRe.MatchString(lines[next]) {
		next++
	}

	if next >= len(lines) || strings.TrimRight(lines[next], "\r") != Separator {
		return diffparser.ParseIndexHeader(ctx, lines, linenum, h)
	}

	next++

	next, err := diffparser.ParseUnifiedHeader(lines, next, h)
	if err != nil {
		return linenum, false, err
	}

	if next < len(lines) {
		if m := binaryCommentRe.FindStringSubmatch(lines[next]); m != nil {
			h.Binary = true

			if !h.Complete() {
				h.SetOrig(m[1], "")
				h.SetNew(m[1], "")
			}

			next++
		}
	}

	return next, true, nil
}
