//go:build !nogit

package git

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Sumatoshi-tech/scmkit/pkg/diffparser"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

const gitHeaderPrefix = "diff --git "

// NewParser returns a diff parser for "git diff" output with extended
// headers (modes, renames, copies, index lines and binary markers).
func NewParser(data []byte, logger *slog.Logger) *diffparser.Parser {
	return diffparser.New(data,
		diffparser.WithHeaderParser(parseGitHeader),
		diffparser.WithLogger(logger))
}

// StripPrefix removes the a/ or b/ prefix git puts on diff paths.
func StripPrefix(path string) string {
	if strings.HasPrefix(path, "a/") || strings.HasPrefix(path, "b/") {
		return path[2:]
	}

	return path
}

func parseGitHeader(ctx context.Context, lines []string, linenum int, h *diffparser.Header) (int, bool, error) {
	line := strings.TrimRight(lines[linenum], "\r")
	if !strings.HasPrefix(line, gitHeaderPrefix) {
		return diffparser.ParseIndexHeader(ctx, lines, linenum, h)
	}

	orig, modified := splitPaths(line[len(gitHeaderPrefix):])

	var (
		origID, newID string
		added         bool
	)

	next := linenum + 1

extended:
	for ; next < len(lines); next++ {
		ext := strings.TrimRight(lines[next], "\r")

		switch {
		case strings.HasPrefix(ext, "new file mode "):
			added = true
		case strings.HasPrefix(ext, "deleted file mode "):
			h.Deleted = true
		case strings.HasPrefix(ext, "rename from "):
			orig = strings.TrimPrefix(ext, "rename from ")
			h.Moved = true
		case strings.HasPrefix(ext, "rename to "):
			modified = strings.TrimPrefix(ext, "rename to ")
		case strings.HasPrefix(ext, "copy from "):
			orig = strings.TrimPrefix(ext, "copy from ")
			h.Copied = true
		case strings.HasPrefix(ext, "copy to "):
			modified = strings.TrimPrefix(ext, "copy to ")
		case strings.HasPrefix(ext, "index "):
			origID, newID = parseIndexLine(ext)
		case strings.HasPrefix(ext, "old mode "), strings.HasPrefix(ext, "new mode "),
			strings.HasPrefix(ext, "similarity index "), strings.HasPrefix(ext, "dissimilarity index "):
		default:
			break extended
		}
	}

	if next+1 < len(lines) && strings.HasPrefix(lines[next], "--- ") && strings.HasPrefix(lines[next+1], "+++ ") {
		next += 2
	}

	if next < len(lines) && (diffparser.IsBinaryLine(lines[next]) || strings.HasPrefix(lines[next], "GIT binary patch")) {
		h.Binary = true
		next++
	}

	if added {
		origID = scm.PreCreation.String()
	}

	h.SetOrig(orig, origID)
	h.SetNew(modified, newID)

	return next, true, nil
}

// splitPaths splits "a/<path> b/<path>". When both sides name the same path
// the split is unambiguous even if the path contains " b/"; otherwise the
// last separator wins and rename headers refine the result.
func splitPaths(s string) (orig, modified string) {
	s = strings.TrimPrefix(s, "a/")

	for idx := strings.Index(s, " b/"); idx >= 0; {
		if s[:idx] == s[idx+3:] {
			return s[:idx], s[idx+3:]
		}

		next := strings.Index(s[idx+1:], " b/")
		if next < 0 {
			break
		}

		idx += next + 1
	}

	if idx := strings.LastIndex(s, " b/"); idx >= 0 {
		return s[:idx], s[idx+3:]
	}

	return s, s
}

// parseIndexLine reads "index <orig>..<new>[ <mode>]".
func parseIndexLine(line string) (origID, newID string) {
	ids, _, _ := strings.Cut(strings.TrimPrefix(line, "index "), " ")
	origID, newID, _ = strings.Cut(ids, "..")

	return origID, newID
}
