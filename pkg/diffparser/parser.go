// Package diffparser tokenizes unified and context diffs into per-file
// records. Backends plug their own header syntax in through a HeaderParser
// that runs before the generic unified header parser.
package diffparser

import (
	"bytes"
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

// ctxCheckInterval is how many lines are scanned between context checks.
const ctxCheckInterval = 1024

// Parser turns the diff bound at construction into []*scm.FileDiff.
type Parser struct {
	lines  []string
	header HeaderParser
	logger *slog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithHeaderParser installs a backend-specific header parser. It replaces the
// default Index header recognition, so implementations that also accept
// "Index:" headers should call ParseIndexHeader themselves.
func WithHeaderParser(hp HeaderParser) Option {
	return func(p *Parser) {
		if hp != nil {
			p.header = hp
		}
	}
}

// WithLogger sets the logger used for parse diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New returns a parser bound to data.
func New(data []byte, opts ...Option) *Parser {
	p := &Parser{
		lines:  SplitLines(data),
		header: ParseIndexHeader,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Lines returns the diff split into lines without terminators.
func (p *Parser) Lines() []string {
	return p.lines
}

// Parse walks the diff and returns one record per file header found. Lines
// before the first header are ignored. Parsing the same parser twice yields
// identical results.
func (p *Parser) Parse(ctx context.Context) ([]*scm.FileDiff, error) {
	var (
		files   []*scm.FileDiff
		current *scm.FileDiff
		data    bytes.Buffer
		hunk    hunkState
	)

	flush := func() {
		if current != nil {
			current.Data = bytes.Clone(data.Bytes())
			files = append(files, current)
		}

		data.Reset()
	}

	for linenum := 0; linenum < len(p.lines); {
		if linenum%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		line := p.lines[linenum]

		if hunk.consume(line) {
			if current != nil {
				countLine(current, line)
				data.WriteString(line)
				data.WriteByte('\n')
			}

			linenum++

			continue
		}

		next, file, err := p.parseChangeHeader(ctx, linenum)
		if err != nil {
			return nil, err
		}

		if file != nil {
			flush()

			current = file
		}

		if next == linenum {
			if current != nil {
				hunk.start(line)
				countLine(current, line)
			}

			next = linenum + 1
		}

		if current != nil {
			for _, consumed := range p.lines[linenum:next] {
				data.WriteString(consumed)
				data.WriteByte('\n')
			}
		}

		linenum = next
	}

	flush()

	p.logger.DebugContext(ctx, "parsed diff", "files", len(files), "lines", len(p.lines))

	return files, nil
}

// parseChangeHeader tries the header parsers at linenum. It returns the
// first line after whatever was consumed and, when the header was complete,
// a new record.
func (p *Parser) parseChangeHeader(ctx context.Context, linenum int) (int, *scm.FileDiff, error) {
	var h Header

	next, done, err := p.header(ctx, p.lines, linenum, &h)
	if err != nil {
		return linenum, nil, err
	}

	if !done {
		next, err = ParseUnifiedHeader(p.lines, next, &h)
		if err != nil {
			return linenum, nil, err
		}
	}

	if next > linenum && !h.Binary && next < len(p.lines) && IsBinaryLine(p.lines[next]) {
		h.Binary = true
		next++
	}

	if h.Binary && !h.Complete() && h.Index != "" {
		h.SetOrig(h.Index, "")
		h.SetNew(h.Index, "")
	}

	if !h.Complete() {
		return next, nil, nil
	}

	return next, &scm.FileDiff{
		OrigFilename:        h.OrigFile,
		OrigFileDetails:     h.OrigInfo,
		ModifiedFilename:    h.NewFile,
		ModifiedFileDetails: h.NewInfo,
		Binary:              h.Binary,
		Deleted:             h.Deleted,
		Moved:               h.Moved,
		Copied:              h.Copied,
	}, nil
}

// hunkRe matches a unified hunk header. Omitted lengths default to 1.
var hunkRe = regexp.MustCompile(`^@@ -\d+(?:,(\d+))? \+\d+(?:,(\d+))? @@`)

// contextRangeRe matches the "--- 1,4 ----" range line of a context diff hunk.
var contextRangeRe = regexp.MustCompile(`^--- \d+(?:,\d+)? ----\r?$`)

// hunkState tracks how many lines of the current unified hunk remain. Lines
// inside a hunk are content, even when they look like file headers.
type hunkState struct {
	oldLeft int
	newLeft int
}

func (hs *hunkState) start(line string) {
	m := hunkRe.FindStringSubmatch(line)
	if m == nil {
		return
	}

	hs.oldLeft = hunkLength(m[1])
	hs.newLeft = hunkLength(m[2])
}

// consume reports whether line belongs to the open hunk and accounts for it.
func (hs *hunkState) consume(line string) bool {
	if hs.oldLeft <= 0 && hs.newLeft <= 0 {
		return false
	}

	switch {
	case strings.HasPrefix(line, "-"):
		hs.oldLeft--
	case strings.HasPrefix(line, "+"):
		hs.newLeft--
	case strings.HasPrefix(line, "\\"):
	case line == "" || strings.HasPrefix(line, " "):
		hs.oldLeft--
		hs.newLeft--
	default:
		*hs = hunkState{}

		return false
	}

	return true
}

func hunkLength(s string) int {
	if s == "" {
		return 1
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}

	return n
}

func countLine(file *scm.FileDiff, line string) {
	switch {
	case strings.HasPrefix(line, "-"):
		if !contextRangeRe.MatchString(line) {
			file.DeleteCount++
		}
	case strings.HasPrefix(line, "+"):
		file.InsertCount++
	}
}

// SplitLines splits data on "\n". A trailing newline does not produce an
// empty final line.
func SplitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}

	text := strings.TrimSuffix(string(data), "\n")

	return strings.Split(text, "\n")
}
