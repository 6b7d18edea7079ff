package bazaar

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/Sumatoshi-tech/scmkit/pkg/diffparser"
)

// changeLineRe matches the "=== <kind> file 'path'" lines bzr diff prints
// before each file. Renames carry both paths.
var changeLineRe = regexp.MustCompile(`^=== (added|removed|modified|renamed) (?:file|directory) '([^']*)'(?: => '([^']*)')?`)

// NewParser returns a diff parser that understands bzr change lines.
func NewParser(data []byte, logger *slog.Logger) *diffparser.Parser {
	return diffparser.New(data,
		diffparser.WithHeaderParser(parseChangeLine),
		diffparser.WithLogger(logger))
}

// parseChangeLine records the file and status announced by a change line
// and leaves the unified header to the generic parser.
func parseChangeLine(ctx context.Context, lines []string, linenum int, h *diffparser.Header) (int, bool, error) {
	m := changeLineRe.FindStringSubmatch(lines[linenum])
	if m == nil {
		return diffparser.ParseIndexHeader(ctx, lines, linenum, h)
	}

	h.Index = m[2]

	switch m[1] {
	case "removed":
		h.Deleted = true
	case "renamed":
		h.Moved = true
		if m[3] != "" {
			h.Index = m[3]
		}
	}

	return linenum + 1, false, nil
}
