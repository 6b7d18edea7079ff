package cvs

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Sumatoshi-tech/scmkit/pkg/diffparser"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

const devNull = "/dev/null"

var (
	rcsFileRe    = regexp.MustCompile(`^RCS file: (.+?)(?:,v)?\r?$`)
	retrievingRe = regexp.MustCompile(`^retrieving revision (\S+)\r?$`)
)

// Parser recognizes the "Index:", "RCS file:", "retrieving revision" and
// "diff" preamble cvs prints before each file's unified header.
type Parser struct {
	repoPath string
}

// NewParser returns a diff parser for a repository rooted at repoPath.
func NewParser(data []byte, repoPath string, logger *slog.Logger) *diffparser.Parser {
	p := &Parser{repoPath: repoPath}

	return diffparser.New(data,
		diffparser.WithHeaderParser(p.parseHeader),
		diffparser.WithLogger(logger))
}

// parseHeader consumes the preamble and the unified header. The original
// side is named by its repository-relative RCS path when cvs printed one;
// /dev/null on either side marks an added or removed file.
func (p *Parser) parseHeader(ctx context.Context, lines []string, linenum int, h *diffparser.Header) (int, bool, error) {
	next, _, err := diffparser.ParseIndexHeader(ctx, lines, linenum, h)
	if err != nil {
		return linenum, false, err
	}

	var rcsPath, baseRev string

	if h.Index != "" {
		next, rcsPath, baseRev = p.parsePreamble(lines, next)
	}

	next, err = diffparser.ParseUnifiedHeader(lines, next, h)
	if err != nil {
		return linenum, false, err
	}

	if !h.Complete() {
		if h.Index != "" && next < len(lines) && diffparser.IsBinaryLine(lines[next]) {
			orig := h.Index
			if rcsPath != "" {
				orig = rcsPath
			}

			h.Binary = true
			h.SetOrig(orig, baseRev)
			h.SetNew(h.Index, "")

			next++
		}

		return next, true, nil
	}

	switch {
	case h.OrigFile == devNull:
		h.SetOrig(h.NewFile, scm.PreCreation.String())
	case rcsPath != "":
		h.SetOrig(rcsPath, h.OrigInfo)
	}

	if h.NewFile == devNull {
		h.Deleted = true
		h.SetNew(h.OrigFile, h.NewInfo)
	}

	return next, true, nil
}

// parsePreamble skips the RCS file, retrieving revision and diff command
// lines following an Index header.
func (p *Parser) parsePreamble(lines []string, linenum int) (next int, rcsPath, baseRev string) {
	for ; linenum < len(lines); linenum++ {
		line := lines[linenum]

		if m := rcsFileRe.FindStringSubmatch(line); m != nil {
			rcsPath = NormalizeRCSPath(m[1], p.repoPath)

			continue
		}

		if m := retrievingRe.FindStringSubmatch(line); m != nil {
			if baseRev == "" {
				baseRev = m[1]
			}

			continue
		}

		if strings.HasPrefix(line, "diff ") {
			continue
		}

		break
	}

	return linenum, rcsPath, baseRev
}

// NormalizeRCSPath turns a server-side RCS file path into a path relative
// to the repository: the repository prefix, any ",v" suffix and Attic
// directories are removed.
func NormalizeRCSPath(path, repoPath string) string {
	path = strings.TrimSuffix(path, ",v")

	repoPath = strings.TrimRight(repoPath, "/")
	if repoPath != "" {
		if rest, ok := strings.CutPrefix(path, repoPath+"/"); ok {
			path = rest
		}
	}

	path = strings.ReplaceAll(path, "/Attic/", "/")
	path = strings.TrimPrefix(path, "Attic/")

	return path
}
