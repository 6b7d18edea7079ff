package sshutil

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

// Policy decides what happens when a server presents a key that is not in
// the known-hosts file. A key that conflicts with a recorded one is always
// rejected with *scm.BadHostKeyError.
type Policy int

const (
	// RejectUnknown fails with *scm.UnknownHostKeyError. Used for
	// connectivity checks so the caller can ask the user to trust the key.
	RejectUnknown Policy = iota
	// WarnUnknown logs a warning and accepts the key without recording it.
	WarnUnknown
)

func (p Policy) String() string {
	switch p {
	case RejectUnknown:
		return "reject"
	case WarnUnknown:
		return "warn"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// HostKeyCallback returns an ssh.HostKeyCallback that verifies keys against
// the known-hosts file under policy.
func (s *Storage) HostKeyCallback(policy Policy, logger *slog.Logger) (ssh.HostKeyCallback, error) {
	if logger == nil {
		logger = slog.Default()
	}

	check, err := s.knownHostsCallback()
	if err != nil {
		return nil, err
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := check(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}

		if len(keyErr.Want) > 0 {
			return &scm.BadHostKeyError{
				Hostname:    hostname,
				Key:         ToHostKey(key),
				ExpectedKey: ToHostKey(keyErr.Want[0].Key),
			}
		}

		if policy == WarnUnknown {
			logger.Warn("unknown host key accepted",
				"host", hostname, "type", key.Type(), "fingerprint", ssh.FingerprintSHA256(key))

			return nil
		}

		return &scm.UnknownHostKeyError{Hostname: hostname, Key: ToHostKey(key)}
	}, nil
}

func (s *Storage) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := s.KnownHostsPath()

	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return func(string, net.Addr, ssh.PublicKey) error {
			return &knownhosts.KeyError{}
		}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("stat known hosts: %w", err)
	}

	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}

	return callback, nil
}
