// Package textutil inspects and compares file contents fetched from
// repositories: binary sniffing, line counts, language detection, line
// statistics and unified diffs.
package textutil

import (
	"bytes"
	"fmt"
	"path"

	difflib "github.com/ianbruene/go-difflib/difflib"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/src-d/enry/v2"
)

// BinarySniffLength is the maximum number of bytes scanned for null-byte
// detection.
const BinarySniffLength = 8000

// DefaultContext is the number of context lines in unified diffs.
const DefaultContext = 3

// IsBinary reports whether data contains a null byte within the first
// BinarySniffLength bytes. Empty data is not binary.
func IsBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	sniff := data
	if len(sniff) > BinarySniffLength {
		sniff = sniff[:BinarySniffLength]
	}

	return bytes.IndexByte(sniff, 0) >= 0
}

// CountLines returns the number of newline-delimited lines in data. A
// trailing partial line counts.
func CountLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}

	lines := bytes.Count(data, []byte{'\n'})

	if data[len(data)-1] != '\n' {
		lines++
	}

	return lines
}

// Language guesses the programming language of a file from its name and
// content. Binary content and unknown files yield "".
func Language(filename string, data []byte) string {
	if IsBinary(data) {
		return ""
	}

	return enry.GetLanguage(path.Base(filename), data)
}

// Info summarizes one fetched file.
type Info struct {
	Size     int    `json:"size" yaml:"size"`
	Lines    int    `json:"lines" yaml:"lines"`
	Binary   bool   `json:"binary" yaml:"binary"`
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
	Vendored bool   `json:"vendored,omitempty" yaml:"vendored,omitempty"`
}

// Describe inspects data fetched for filename.
func Describe(filename string, data []byte) Info {
	info := Info{
		Size:     len(data),
		Binary:   IsBinary(data),
		Vendored: enry.IsVendor(filename),
	}

	if !info.Binary {
		info.Lines = CountLines(data)
		info.Language = Language(filename, data)
	}

	return info
}

// Stats counts changed lines between two versions of a file.
type Stats struct {
	Inserted int `json:"inserted" yaml:"inserted"`
	Deleted  int `json:"deleted" yaml:"deleted"`
}

// LineStats computes line-level insertions and deletions from old to new.
func LineStats(oldData, newData []byte) Stats {
	if bytes.Equal(oldData, newData) {
		return Stats{}
	}

	dmp := diffmatchpatch.New()
	src, dst, _ := dmp.DiffLinesToRunes(string(oldData), string(newData))
	diffs := dmp.DiffMainRunes(src, dst, false)

	var stats Stats

	for _, edit := range diffs {
		lines := len([]rune(edit.Text))

		switch edit.Type {
		case diffmatchpatch.DiffInsert:
			stats.Inserted += lines
		case diffmatchpatch.DiffDelete:
			stats.Deleted += lines
		case diffmatchpatch.DiffEqual:
		}
	}

	return stats
}

// UnifiedDiff renders a unified diff between two versions. Identical input
// yields "".
func UnifiedDiff(oldName, newName string, oldData, newData []byte, context int) (string, error) {
	if bytes.Equal(oldData, newData) {
		return "", nil
	}

	if context < 0 {
		context = DefaultContext
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(oldData)),
		B:        difflib.SplitLines(string(newData)),
		FromFile: oldName,
		ToFile:   newName,
		Context:  context,
	})
	if err != nil {
		return "", fmt.Errorf("unified diff: %w", err)
	}

	return text, nil
}
