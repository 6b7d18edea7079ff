package perforce

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Sumatoshi-tech/scmkit/pkg/diffparser"
)

// depotHeaderRe matches "==== //depot/path#rev ==A== /local/path ====".
var depotHeaderRe = regexp.MustCompile(`^==== ([^#]+)#(\d+) ==([AMD]|MV)== (.*) ====$`)

const (
	actionDelete = "D"
	actionMove   = "MV"
)

// NewParser returns a diff parser that understands p4 depot headers.
func NewParser(data []byte, logger *slog.Logger) *diffparser.Parser {
	return diffparser.New(data,
		diffparser.WithHeaderParser(parseDepotHeader),
		diffparser.WithLogger(logger))
}

// parseDepotHeader recognizes a depot header line. It is the complete header
// for that file, so the unified header parser is skipped for it.
func parseDepotHeader(ctx context.Context, lines []string, linenum int, h *diffparser.Header) (int, bool, error) {
	m := depotHeaderRe.FindStringSubmatch(lines[linenum])
	if m == nil {
		return diffparser.ParseIndexHeader(ctx, lines, linenum, h)
	}

	depotPath, rev, action, localPath := m[1], m[2], m[3], m[4]

	h.SetOrig(depotPath, depotPath+"#"+rev)
	h.SetNew(localPath, "")

	linenum++

	if linenum < len(lines) && diffparser.IsBinaryLine(lines[linenum]) {
		h.Binary = true
		linenum++
	}

	// p4 diff -du repeats the paths as a unified header pair.
	if linenum+1 < len(lines) &&
		strings.HasPrefix(lines[linenum], "--- ") && strings.HasPrefix(lines[linenum+1], "+++ ") {
		linenum += 2
	}

	switch action {
	case actionDelete:
		h.Deleted = true
	case actionMove:
		h.Moved = true
	}

	return linenum, true, nil
}
