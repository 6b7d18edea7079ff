package plastic

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/Sumatoshi-tech/scmkit/pkg/diffparser"
)

// itemHeaderRe matches "==== path (revspec) ==X==" where X is the item
// status letter: A, C, I, M or R.
var itemHeaderRe = regexp.MustCompile(`^==== ([^\s]+) \(([^\)]+)\) ==([ACIMR])==$`)

const (
	statusMoved   = "M"
	statusRemoved = "R"
)

// NewParser returns a diff parser that understands cm item headers.
func NewParser(data []byte, logger *slog.Logger) *diffparser.Parser {
	return diffparser.New(data,
		diffparser.WithHeaderParser(parseItemHeader),
		diffparser.WithLogger(logger))
}

func parseItemHeader(ctx context.Context, lines []string, linenum int, h *diffparser.Header) (int, bool, error) {
	m := itemHeaderRe.FindStringSubmatch(lines[linenum])
	if m == nil {
		return diffparser.ParseIndexHeader(ctx, lines, linenum, h)
	}

	h.SetOrig(m[1], m[2])
	h.SetNew(m[1], "")

	switch m[3] {
	case statusMoved:
		h.Moved = true
	case statusRemoved:
		h.Deleted = true
	}

	linenum++

	if linenum < len(lines) && diffparser.IsBinaryLine(lines[linenum]) {
		h.Binary = true
		linenum++
	}

	return linenum, true, nil
}
