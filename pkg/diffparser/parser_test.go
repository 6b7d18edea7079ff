package diffparser_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/scmkit/pkg/diffparser"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

const unifiedDiff = `Index: foo.c
===================================================================
--- foo.c	1.1
+++ foo.c	(working copy)
@@ -1,3 +1,3 @@
 int main() {
-	return 1;
+	return 0;
 }
Index: bar.c
===================================================================
--- bar.c	PRE-CREATION
+++ bar.c	(working copy)
@@ -0,0 +1,2 @@
+int bar;
+int baz;
`

func TestParse_UnifiedWithIndex(t *testing.T) {
	t.Parallel()

	files, err := diffparser.New([]byte(unifiedDiff)).Parse(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, "foo.c", files[0].OrigFilename)
	assert.Equal(t, "1.1", files[0].OrigFileDetails)
	assert.Equal(t, "foo.c", files[0].ModifiedFilename)
	assert.Equal(t, "(working copy)", files[0].ModifiedFileDetails)
	assert.Equal(t, 1, files[0].InsertCount)
	assert.Equal(t, 1, files[0].DeleteCount)
	assert.Contains(t, string(files[0].Data), "--- foo.c\t1.1\n")
	assert.NotContains(t, string(files[0].Data), "Index: bar.c")

	assert.Equal(t, "PRE-CREATION", files[1].OrigFileDetails)
	assert.Equal(t, 2, files[1].InsertCount)
	assert.Zero(t, files[1].DeleteCount)
}

func TestParse_Idempotent(t *testing.T) {
	t.Parallel()

	parser := diffparser.New([]byte(unifiedDiff))

	first, err := parser.Parse(context.Background())
	require.NoError(t, err)

	second, err := parser.Parse(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestParse_SpaceSeparatedHeader(t *testing.T) {
	t.Parallel()

	diff := "--- a.txt  2010-01-01 00:00:00\n+++ a.txt  2010-01-02 00:00:00\n@@ -1 +1 @@\n-x\n+y\n"

	files, err := diffparser.New([]byte(diff)).Parse(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "2010-01-01 00:00:00", files[0].OrigFileDetails)
}

func TestParse_MissingSeparator(t *testing.T) {
	t.Parallel()

	diff := "--- a.txt\n+++ a.txt\n@@ -1 +1 @@\n-x\n+y\n"

	_, err := diffparser.New([]byte(diff)).Parse(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, scm.ErrDiffParse)

	var perr *diffparser.ParseError

	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 0, perr.Line)
}

func TestParse_ContextDiffHeader(t *testing.T) {
	t.Parallel()

	diff := "*** a.txt\t1.1\n--- a.txt\t1.2\n***************\n*** 1 ****\n! x\n--- 1 ----\n! y\n"

	files, err := diffparser.New([]byte(diff)).Parse(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "1.1", files[0].OrigFileDetails)
	assert.Equal(t, "1.2", files[0].ModifiedFileDetails)
}

func TestParse_IndexOnlyBinary(t *testing.T) {
	t.Parallel()

	diff := "Index: logo.png\n" + diffparser.IndexSeparator + "\nBinary files logo.png and logo.png differ\n"

	files, err := diffparser.New([]byte(diff)).Parse(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, files[0].Binary)
	assert.Equal(t, "logo.png", files[0].OrigFilename)
	assert.Equal(t, "logo.png", files[0].ModifiedFilename)
}

func TestParse_BinaryAfterUnifiedHeader(t *testing.T) {
	t.Parallel()

	diff := "--- a.bin\t1.1\n+++ a.bin\t(working copy)\nFiles a.bin and a.bin differ\n"

	files, err := diffparser.New([]byte(diff)).Parse(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, files[0].Binary)
}

func TestParse_HunkLinesThatLookLikeHeaders(t *testing.T) {
	t.Parallel()

	diff := "--- q.sql\t1.1\n+++ q.sql\t(working copy)\n@@ -1,3 +1,3 @@\n" +
		"-x--;\n" +
		"--- old sql comment\n" +
		"+++ i;\n" +
		"+y;\n" +
		" end\n" +
		"--- r.sql\t1.4\n+++ r.sql\t(working copy)\n@@ -1 +1 @@\n-a\n+b\n"

	files, err := diffparser.New([]byte(diff)).Parse(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, "q.sql", files[0].OrigFilename)
	assert.Equal(t, 2, files[0].InsertCount)
	assert.Equal(t, 2, files[0].DeleteCount)
	assert.Contains(t, string(files[0].Data), "+++ i;\n")

	assert.Equal(t, "r.sql", files[1].OrigFilename)
	assert.Equal(t, 1, files[1].InsertCount)
	assert.Equal(t, 1, files[1].DeleteCount)
}

func TestParse_ContextRangeNotCounted(t *testing.T) {
	t.Parallel()

	diff := "*** a.txt\t1.1\n--- a.txt\t1.2\n***************\n*** 1,2 ****\n- x\n  y\n--- 1 ----\n"

	files, err := diffparser.New([]byte(diff)).Parse(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, 1, files[0].DeleteCount)
	assert.Zero(t, files[0].InsertCount)
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()

	files, err := diffparser.New(nil).Parse(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestParse_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := diffparser.New([]byte(unifiedDiff)).Parse(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

var specialRe = regexp.MustCompile(`^==== ([^#]+)#(\d+) ==([AMD]|MV)== (.*) ====$`)

// depotHeader mimics a backend strategy that fully owns its header line.
func depotHeader(ctx context.Context, lines []string, linenum int, h *diffparser.Header) (int, bool, error) {
	next, _, err := diffparser.ParseIndexHeader(ctx, lines, linenum, h)
	if err != nil || next >= len(lines) {
		return next, false, err
	}

	m := specialRe.FindStringSubmatch(lines[next])
	if m == nil {
		return next, false, nil
	}

	h.SetOrig(m[1], m[1]+"#"+m[2])
	h.SetNew(m[4], "")
	next++

	if next < len(lines) && diffparser.IsBinaryLine(lines[next]) {
		h.Binary = true
		next++
	}

	return next, true, nil
}

func TestParse_CustomHeaderBinary(t *testing.T) {
	t.Parallel()

	diff := "==== //depot/foo/proj/test.png#1 ==A== /src/proj/test.png ====\n" +
		"Binary files /tmp/foo and /src/proj/test.png differ\n"

	files, err := diffparser.New([]byte(diff), diffparser.WithHeaderParser(depotHeader)).Parse(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)

	assert.Equal(t, "//depot/foo/proj/test.png", files[0].OrigFilename)
	assert.Equal(t, "//depot/foo/proj/test.png#1", files[0].OrigFileDetails)
	assert.Equal(t, "/src/proj/test.png", files[0].ModifiedFilename)
	assert.True(t, files[0].Binary)
}

func TestParseFilenameHeader(t *testing.T) {
	t.Parallel()

	file, info, err := diffparser.ParseFilenameHeader("my file.txt\t1.4\r")
	require.NoError(t, err)
	assert.Equal(t, "my file.txt", file)
	assert.Equal(t, "1.4", info)

	_, _, err = diffparser.ParseFilenameHeader("nofields")
	assert.ErrorIs(t, err, diffparser.ErrNoSeparator)
}

func TestSplitLines(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b"}, diffparser.SplitLines([]byte("a\nb\n")))
	assert.Equal(t, []string{"a", "", "b"}, diffparser.SplitLines([]byte("a\n\nb")))
	assert.Nil(t, diffparser.SplitLines(nil))
}
