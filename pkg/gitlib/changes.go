//go:build !nogit

package gitlib

import (
	"fmt"

	git2go "github.com/libgit2/git2go/v34"
)

// ChangeAction represents the type of change in a diff.
type ChangeAction int

const (
	// Insert indicates a new file was added.
	Insert ChangeAction = iota
	// Delete indicates a file was removed.
	Delete
	// Modify indicates a file was modified.
	Modify
	// Rename indicates a file was moved, possibly with edits.
	Rename
	// Copy indicates a file was copied from another path.
	Copy
)

// Change is one file touched by a commit.
type Change struct {
	Action ChangeAction
	From   string
	To     string
}

// Path returns the path the change leaves behind, or the removed path for
// deletions.
func (c Change) Path() string {
	if c.Action == Delete {
		return c.From
	}

	return c.To
}

// CommitChanges lists the files changed by the commit spec resolves to,
// compared with its first parent. Root commits are compared with the empty
// tree. Renames and copies are detected.
func (r *Repository) CommitChanges(spec string) ([]Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	commit, err := r.lookupCommit(spec)
	if err != nil {
		return nil, err
	}
	defer commit.Free()

	newTree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("get commit tree: %w", err)
	}
	defer newTree.Free()

	var oldTree *git2go.Tree

	if commit.ParentCount() > 0 {
		parent := commit.Parent(0)
		if parent == nil {
			return nil, fmt.Errorf("%w: parent of %s", ErrNotFound, HashFromOid(commit.Id()))
		}
		defer parent.Free()

		oldTree, err = parent.Tree()
		if err != nil {
			return nil, fmt.Errorf("get parent tree: %w", err)
		}
		defer oldTree.Free()
	}

	return r.treeChanges(oldTree, newTree)
}

func (r *Repository) treeChanges(oldTree, newTree *git2go.Tree) ([]Change, error) {
	if oldTree != nil && oldTree.Id().Equal(newTree.Id()) {
		return nil, nil
	}

	opts, err := git2go.DefaultDiffOptions()
	if err != nil {
		return nil, fmt.Errorf("get diff options: %w", err)
	}

	diff, err := r.repo.DiffTreeToTree(oldTree, newTree, &opts)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}

	defer func() {
		_ = diff.Free()
	}()

	findOpts, err := git2go.DefaultDiffFindOptions()
	if err != nil {
		return nil, fmt.Errorf("get find options: %w", err)
	}

	findOpts.Flags |= git2go.DiffFindRenames | git2go.DiffFindCopies

	if err = diff.FindSimilar(&findOpts); err != nil {
		return nil, fmt.Errorf("find renames: %w", err)
	}

	numDeltas, err := diff.NumDeltas()
	if err != nil {
		return nil, fmt.Errorf("get num deltas: %w", err)
	}

	changes := make([]Change, 0, numDeltas)

	for i := range numDeltas {
		delta, deltaErr := diff.Delta(i)
		if deltaErr != nil {
			return nil, fmt.Errorf("get delta: %w", deltaErr)
		}

		change := Change{From: delta.OldFile.Path, To: delta.NewFile.Path}

		switch delta.Status {
		case git2go.DeltaAdded:
			change.Action = Insert
			change.From = ""
		case git2go.DeltaDeleted:
			change.Action = Delete
			change.To = ""
		case git2go.DeltaModified, git2go.DeltaTypeChange:
			change.Action = Modify
		case git2go.DeltaRenamed:
			change.Action = Rename
		case git2go.DeltaCopied:
			change.Action = Copy
		case git2go.DeltaUnmodified, git2go.DeltaIgnored, git2go.DeltaUntracked,
			git2go.DeltaUnreadable, git2go.DeltaConflicted:
			continue
		}

		changes = append(changes, change)
	}

	return changes, nil
}
