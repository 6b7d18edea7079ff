package backends

import (
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/scmkit/pkg/runner"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

// Failure converts a failed command into the scm error taxonomy. The
// command's output is matched against rules; a missing executable becomes
// an error matching scm.ErrBackendUnavailable.
func Failure(res *runner.Result, err error, rules ...scm.Rule) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, runner.ErrNotFound) {
		return &scm.Error{Msg: err.Error(), Err: fmt.Errorf("%w: %w", scm.ErrBackendUnavailable, err)}
	}

	var exitErr *runner.ExitError
	if !errors.As(err, &exitErr) {
		return scm.Wrap(err)
	}

	msg := runner.Output(res)
	if msg == "" {
		msg = exitErr.Error()
	}

	return scm.Translate(msg, rules...)
}

// FileNotFound returns a rule maker that reports path at rev as missing.
func FileNotFound(path string, rev scm.Revision) func(string) error {
	return func(msg string) error {
		return &scm.FileNotFoundError{Path: path, Revision: rev, Detail: msg}
	}
}

// RepositoryNotFound returns a rule maker that reports path as not a
// repository.
func RepositoryNotFound(path string) func(string) error {
	return func(msg string) error {
		return &scm.RepositoryNotFoundError{Path: path, Detail: msg}
	}
}

// Authentication is a rule maker for rejected credentials.
func Authentication(msg string) error {
	return &scm.AuthenticationError{Msg: msg}
}

// Unsupported reports an operation the backend cannot perform.
func Unsupported(id scm.BackendID, op string) error {
	return &scm.Error{
		Msg: fmt.Sprintf("%s does not support %s", id, op),
		Err: scm.ErrUnsupported,
	}
}
