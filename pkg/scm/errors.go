package scm

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds. Every typed error in this package matches ErrSCM
// through [errors.Is] in addition to its own kind.
var (
	ErrSCM                   = errors.New("scm error")
	ErrRepositoryNotFound    = errors.New("repository not found")
	ErrFileNotFound          = errors.New("file not found")
	ErrInvalidRevisionFormat = errors.New("invalid revision format")
	ErrAuthentication        = errors.New("authentication failed")
	ErrEmptyChangeSet        = errors.New("empty changeset")
	ErrUnverifiedCertificate = errors.New("unverified certificate")
	ErrUnsupportedSSHKey     = errors.New("unsupported ssh key")
	ErrBadHostKey            = errors.New("bad host key")
	ErrUnknownHostKey        = errors.New("unknown host key")
	ErrUnsupported           = errors.New("operation not supported by this backend")
	ErrDiffParse             = errors.New("diff parse error")
	ErrBackendUnavailable    = errors.New("backend unavailable")
)

// Error is the generic SCM failure. Backend-native failures that do not map
// to a more specific kind are wrapped in it with the original message.
type Error struct {
	Msg string
	Err error
}

// NewError returns a generic SCM error with a formatted message.
func NewError(format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Msg == "" && e.Err != nil {
		return e.Err.Error()
	}

	return e.Msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is ErrSCM.
func (e *Error) Is(target error) bool { return target == ErrSCM }

// RepositoryNotFoundError reports that a path is not a repository of the
// expected kind.
type RepositoryNotFoundError struct {
	Path   string
	Detail string
}

func (e *RepositoryNotFoundError) Error() string {
	msg := "a repository was not found at the specified path"
	if e.Path != "" {
		msg = fmt.Sprintf("a repository was not found at %q", e.Path)
	}

	if e.Detail != "" {
		msg += ": " + e.Detail
	}

	return msg
}

// Is matches ErrSCM and ErrRepositoryNotFound.
func (e *RepositoryNotFoundError) Is(target error) bool {
	return target == ErrSCM || target == ErrRepositoryNotFound
}

// FileNotFoundError reports that a path/revision pair does not resolve.
type FileNotFoundError struct {
	Path     string
	Revision Revision
	Detail   string
}

func (e *FileNotFoundError) Error() string {
	var msg string

	if e.Revision.IsZero() || e.Revision.IsHead() {
		msg = fmt.Sprintf("the file %q could not be found in the repository", e.Path)
	} else {
		msg = fmt.Sprintf("the file %q (revision %s) could not be found in the repository", e.Path, e.Revision)
	}

	if e.Detail != "" {
		msg += ": " + e.Detail
	}

	return msg
}

// Is matches ErrSCM and ErrFileNotFound.
func (e *FileNotFoundError) Is(target error) bool {
	return target == ErrSCM || target == ErrFileNotFound
}

// InvalidRevisionFormatError reports a revision string that the backend
// cannot interpret.
type InvalidRevisionFormatError struct {
	Path     string
	Revision string
	Detail   string
}

func (e *InvalidRevisionFormatError) Error() string {
	msg := fmt.Sprintf("the revision %q for %q is not in a valid format", e.Revision, e.Path)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}

	return msg
}

// Is matches ErrSCM and ErrInvalidRevisionFormat.
func (e *InvalidRevisionFormatError) Is(target error) bool {
	return target == ErrSCM || target == ErrInvalidRevisionFormat
}

// AuthenticationError reports rejected credentials. AllowedTypes lists the
// authentication methods the server advertised, when known.
type AuthenticationError struct {
	Msg          string
	AllowedTypes []string
	UserKey      []byte
}

func (e *AuthenticationError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = "unable to authenticate against this repository"
	}

	if len(e.AllowedTypes) > 0 {
		msg += fmt.Sprintf(" (allowed: %s)", strings.Join(e.AllowedTypes, ", "))
	}

	return msg
}

// Is matches ErrSCM and ErrAuthentication.
func (e *AuthenticationError) Is(target error) bool {
	return target == ErrSCM || target == ErrAuthentication
}

// EmptyChangeSetError reports a changeset that exists but has no files.
type EmptyChangeSetError struct {
	ChangeNum string
}

func (e *EmptyChangeSetError) Error() string {
	return fmt.Sprintf("changeset %s is empty", e.ChangeNum)
}

// Is matches ErrSCM and ErrEmptyChangeSet.
func (e *EmptyChangeSetError) Is(target error) bool {
	return target == ErrSCM || target == ErrEmptyChangeSet
}

// Certificate describes a server certificate awaiting a trust decision.
type Certificate struct {
	Hostname    string
	Fingerprint string
	Issuer      string
	Valid       string
}

// UnverifiedCertificateError reports a server certificate that has not been
// trusted yet.
type UnverifiedCertificateError struct {
	Certificate Certificate
}

func (e *UnverifiedCertificateError) Error() string {
	return fmt.Sprintf("the SSL certificate for this repository (fingerprint %s) was not verified",
		e.Certificate.Fingerprint)
}

// Is matches ErrSCM and ErrUnverifiedCertificate.
func (e *UnverifiedCertificateError) Is(target error) bool {
	return target == ErrSCM || target == ErrUnverifiedCertificate
}

// HostKey is the wire form of an SSH public key: its algorithm name and the
// marshaled key bytes.
type HostKey struct {
	Type string
	Data []byte
}

// UnsupportedSSHKeyError reports key material of an unsupported type.
type UnsupportedSSHKeyError struct {
	Key HostKey
	Msg string
}

func (e *UnsupportedSSHKeyError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}

	return fmt.Sprintf("this SSH key type (%s) is not supported", e.Key.Type)
}

// Is matches ErrSCM and ErrUnsupportedSSHKey.
func (e *UnsupportedSSHKeyError) Is(target error) bool {
	return target == ErrSCM || target == ErrUnsupportedSSHKey
}

// BadHostKeyError reports a host key that differs from the trusted one. Both
// keys are carried so the caller can present a "did the key change" flow.
type BadHostKeyError struct {
	Hostname    string
	Key         HostKey
	ExpectedKey HostKey
}

func (e *BadHostKeyError) Error() string {
	return fmt.Sprintf("invalid host key for %s: got %s key, expected %s key",
		e.Hostname, e.Key.Type, e.ExpectedKey.Type)
}

// Is matches ErrSCM and ErrBadHostKey.
func (e *BadHostKeyError) Is(target error) bool {
	return target == ErrSCM || target == ErrBadHostKey
}

// UnknownHostKeyError reports a host with no trusted key on record.
type UnknownHostKeyError struct {
	Hostname string
	Key      HostKey
}

func (e *UnknownHostKeyError) Error() string {
	return fmt.Sprintf("the host key for %s is not known", e.Hostname)
}

// Is matches ErrSCM and ErrUnknownHostKey.
func (e *UnknownHostKeyError) Is(target error) bool {
	return target == ErrSCM || target == ErrUnknownHostKey
}

// Rule maps a substring of a backend message to a specific error kind.
type Rule struct {
	Substr string
	Make   func(msg string) error
}

// Translate returns the error produced by the first rule whose substring
// occurs in msg. Unmatched messages become a generic *Error carrying msg.
func Translate(msg string, rules ...Rule) error {
	msg = strings.TrimSpace(msg)

	for _, rule := range rules {
		if strings.Contains(msg, rule.Substr) {
			return rule.Make(msg)
		}
	}

	return &Error{Msg: msg}
}

// Wrap converts err into the taxonomy. Errors already in the taxonomy are
// returned unchanged; anything else is wrapped in a generic *Error.
func Wrap(err error) error {
	if err == nil || errors.Is(err, ErrSCM) {
		return err
	}

	return &Error{Msg: err.Error(), Err: err}
}
