package scm

import "strings"

// summaryParagraphLimit bounds where a blank line may occur and still end the
// summary paragraph.
const summaryParagraphLimit = 100

// ChangeSet is an atomic, backend-identified unit of change.
type ChangeSet struct {
	ChangeNum   string   `json:"changenum" yaml:"changenum"`
	Username    string   `json:"username" yaml:"username"`
	Description string   `json:"description" yaml:"description"`
	Summary     string   `json:"summary" yaml:"summary"`
	Branch      string   `json:"branch,omitempty" yaml:"branch,omitempty"`
	Files       []string `json:"files" yaml:"files"`
	Pending     bool     `json:"pending" yaml:"pending"`
}

// NewChangeSet builds a ChangeSet and derives its summary from description.
func NewChangeSet(changeNum, username, description string, files []string, pending bool) *ChangeSet {
	return &ChangeSet{
		ChangeNum:   changeNum,
		Username:    username,
		Description: description,
		Summary:     Summarize(description),
		Files:       files,
		Pending:     pending,
	}
}

// Summarize returns the first logical line of a description. When a blank
// line occurs before column 100 the first paragraph is used, joined onto one
// line; otherwise the text up to the first newline.
func Summarize(description string) string {
	if idx := strings.Index(description, "\n\n"); idx >= 0 && idx < summaryParagraphLimit {
		return strings.ReplaceAll(description[:idx], "\n", " ")
	}

	first, _, _ := strings.Cut(description, "\n")

	return first
}
