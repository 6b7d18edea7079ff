package clearcase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Sumatoshi-tech/scmkit/pkg/diffparser"
)

// oidHeaderRe matches "==== <orig oid> <new oid> ====".
var oidHeaderRe = regexp.MustCompile(`^==== (\S+) (\S+) ====$`)

// Resolver maps ClearCase object ids to extended paths.
type Resolver interface {
	OIDToPath(ctx context.Context, oid string) (string, error)
}

type parser struct {
	resolver Resolver
	fallback OIDFallback
	logger   *slog.Logger
}

// NewParser returns a diff parser for diffs whose files are identified by
// oid headers. Filenames come from resolving the oids, falling back to the
// paths recorded in the diff according to fallback.
func NewParser(data []byte, resolver Resolver, fallback OIDFallback, logger *slog.Logger) *diffparser.Parser {
	if logger == nil {
		logger = slog.Default()
	}

	p := &parser{resolver: resolver, fallback: fallback, logger: logger}

	return diffparser.New(data,
		diffparser.WithHeaderParser(p.parseHeader),
		diffparser.WithLogger(logger))
}

func (p *parser) parseHeader(ctx context.Context, lines []string, linenum int, h *diffparser.Header) (int, bool, error) {
	m := oidHeaderRe.FindStringSubmatch(lines[linenum])
	if m == nil {
		return diffparser.ParseIndexHeader(ctx, lines, linenum, h)
	}

	next := linenum + 1

	var clientOrig, clientNew string

	if next < len(lines) && diffparser.IsBinaryLine(lines[next]) {
		h.Binary = true
		clientOrig, clientNew = binaryLinePaths(lines[next])
		next++
	} else {
		var err error

		next, err = diffparser.ParseUnifiedHeader(lines, next, h)
		if err != nil {
			return linenum, false, err
		}

		clientOrig, clientNew = h.OrigFile, h.NewFile
	}

	orig, err := p.resolve(ctx, linenum, m[1], clientOrig)
	if err != nil {
		return linenum, false, err
	}

	modified, err := p.resolve(ctx, linenum, m[2], clientNew)
	if err != nil {
		return linenum, false, err
	}

	h.SetOrig(orig, h.OrigInfo)
	h.SetNew(modified, h.NewInfo)

	return next, true, nil
}

// resolve maps oid to a path, applying the fallback policy on failure.
func (p *parser) resolve(ctx context.Context, linenum int, oid, clientPath string) (string, error) {
	resolved, err := p.resolver.OIDToPath(ctx, oid)
	if err == nil && resolved != "" {
		return resolved, nil
	}

	if err == nil {
		err = fmt.Errorf("oid %s resolved to an empty path", oid)
	}

	if p.fallback == FallbackFail || clientPath == "" {
		return "", diffparser.NewParseError(linenum, "unable to resolve oid %s: %v", oid, err)
	}

	p.logger.WarnContext(ctx, "oid lookup failed, using the path recorded in the diff",
		"oid", oid, "path", clientPath, "error", err)

	return clientPath, nil
}

// binaryLinePaths extracts the two paths from "Binary files X and Y differ"
// or "Files X and Y differ". Paths may contain spaces, so the last " and "
// separates them.
func binaryLinePaths(line string) (orig, modified string) {
	body := strings.TrimPrefix(strings.TrimPrefix(line, "Binary "), "files ")
	body = strings.TrimPrefix(body, "Files ")
	body = strings.TrimSuffix(strings.TrimRight(body, "\r"), " differ")

	idx := strings.LastIndex(body, " and ")
	if idx < 0 {
		return "", ""
	}

	return body[:idx], body[idx+len(" and "):]
}
