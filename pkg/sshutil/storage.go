// Package sshutil manages SSH identity and trust for backends that tunnel
// over SSH: the user key, the known-hosts file, host key policies and the
// dialer shared by CheckHost and rbssh.
package sshutil

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600

	knownHostsFile = "known_hosts"
)

// userKeyFiles are tried in order when loading the user key.
var userKeyFiles = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// ErrNoUserKey is returned when no user key has been stored.
var ErrNoUserKey = errors.New("no SSH user key is configured")

// Storage keeps the user key and the known-hosts file in one directory,
// partitioned per local site.
type Storage struct {
	dir string
}

// NewStorage returns storage rooted at baseDir. A non-empty localSite selects
// a subdirectory so tenants never share keys.
func NewStorage(baseDir, localSite string) *Storage {
	dir := baseDir
	if localSite != "" {
		dir = filepath.Join(baseDir, localSite)
	}

	return &Storage{dir: dir}
}

// DefaultDir returns $HOME/.ssh, or "" when the home directory is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".ssh")
}

// Dir returns the storage directory.
func (s *Storage) Dir() string { return s.dir }

// KnownHostsPath returns the path of the known-hosts file.
func (s *Storage) KnownHostsPath() string {
	return filepath.Join(s.dir, knownHostsFile)
}

func (s *Storage) ensureDir() error {
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return fmt.Errorf("create ssh dir: %w", err)
	}

	return nil
}

// UserKey loads the stored user key.
func (s *Storage) UserKey() (ssh.Signer, error) {
	for _, name := range userKeyFiles {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("read user key: %w", err)
		}

		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, &scm.UnsupportedSSHKeyError{Msg: fmt.Sprintf("the stored SSH key %s could not be loaded: %v", name, err)}
		}

		return signer, nil
	}

	return nil, ErrNoUserKey
}

// WriteUserKey validates a PEM or OpenSSH private key and stores it under
// the file name matching its type, replacing any previous user key.
func (s *Storage) WriteUserKey(pemBytes []byte) error {
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return &scm.UnsupportedSSHKeyError{Msg: fmt.Sprintf("the SSH key could not be parsed: %v", err)}
	}

	name, err := keyFileName(signer.PublicKey())
	if err != nil {
		return err
	}

	if err := s.ensureDir(); err != nil {
		return err
	}

	if err := s.DeleteUserKey(); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(s.dir, name), pemBytes, filePerm); err != nil {
		return fmt.Errorf("write user key: %w", err)
	}

	return nil
}

// DeleteUserKey removes every stored user key file.
func (s *Storage) DeleteUserKey() error {
	for _, name := range userKeyFiles {
		err := os.Remove(filepath.Join(s.dir, name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete user key: %w", err)
		}
	}

	return nil
}

func keyFileName(pub ssh.PublicKey) (string, error) {
	switch pub.Type() {
	case ssh.KeyAlgoED25519:
		return "id_ed25519", nil
	case ssh.KeyAlgoECDSA256, ssh.KeyAlgoECDSA384, ssh.KeyAlgoECDSA521:
		return "id_ecdsa", nil
	case ssh.KeyAlgoRSA:
		return "id_rsa", nil
	default:
		return "", &scm.UnsupportedSSHKeyError{Key: ToHostKey(pub)}
	}
}

// HostKeyEntry is one parsed known-hosts line.
type HostKeyEntry struct {
	Line   int
	Marker string
	Hosts  []string
	Key    ssh.PublicKey
}

// HostKeys parses the known-hosts file. A missing file yields no entries.
func (s *Storage) HostKeys() ([]HostKeyEntry, error) {
	data, err := os.ReadFile(s.KnownHostsPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read known hosts: %w", err)
	}

	var entries []HostKeyEntry

	line := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))

	for scanner.Scan() {
		line++

		text := scanner.Bytes()
		if len(bytes.TrimSpace(text)) == 0 || bytes.HasPrefix(bytes.TrimSpace(text), []byte("#")) {
			continue
		}

		marker, hosts, key, _, _, err := ssh.ParseKnownHosts(text)
		if err != nil {
			return nil, fmt.Errorf("known hosts line %d: %w", line, err)
		}

		entries = append(entries, HostKeyEntry{Line: line, Marker: marker, Hosts: hosts, Key: key})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan known hosts: %w", err)
	}

	return entries, nil
}

// AddHostKey appends a trusted key for hostname.
func (s *Storage) AddHostKey(hostname string, key ssh.PublicKey) error {
	if err := s.ensureDir(); err != nil {
		return err
	}

	f, err := os.OpenFile(s.KnownHostsPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("open known hosts: %w", err)
	}

	if _, err := f.WriteString(hostKeyLine(hostname, key) + "\n"); err != nil {
		f.Close()

		return fmt.Errorf("append known hosts: %w", err)
	}

	return f.Close()
}

// ReplaceHostKey rewrites the lines trusting oldKey for hostname so they
// trust newKey instead. Other hosts sharing a matching line keep oldKey on
// a line of their own. All other lines are preserved byte for byte. When no
// line matches, newKey is appended.
func (s *Storage) ReplaceHostKey(hostname string, oldKey, newKey ssh.PublicKey) error {
	path := s.KnownHostsPath()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s.AddHostKey(hostname, newKey)
	}

	if err != nil {
		return fmt.Errorf("read known hosts: %w", err)
	}

	host := knownhosts.Normalize(hostname)
	oldWire := oldKey.Marshal()
	replaced := false

	var out bytes.Buffer

	for _, raw := range bytes.SplitAfter(data, []byte("\n")) {
		if len(raw) == 0 {
			continue
		}

		body := bytes.TrimRight(raw, "\r\n")
		ending := raw[len(body):]

		if others, comment, ok := matchHostKey(body, host, oldWire); ok {
			if len(others) > 0 {
				out.WriteString(knownHostsLine(others, oldKey, comment))
				out.Write(ending)
			}

			out.WriteString(hostKeyLine(hostname, newKey))
			out.Write(ending)

			replaced = true

			continue
		}

		out.Write(raw)
	}

	if !replaced {
		if out.Len() > 0 && !bytes.HasSuffix(out.Bytes(), []byte("\n")) {
			out.WriteByte('\n')
		}

		out.WriteString(hostKeyLine(hostname, newKey) + "\n")
	}

	return writeFileAtomic(path, out.Bytes())
}

// matchHostKey reports whether line trusts the key with wire form wire for
// host. It also returns the line's other hosts and its comment.
func matchHostKey(line []byte, host string, wire []byte) (others []string, comment string, ok bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] == '#' {
		return nil, "", false
	}

	marker, hosts, key, comment, _, err := ssh.ParseKnownHosts(trimmed)
	if err != nil || marker != "" || !bytes.Equal(key.Marshal(), wire) {
		return nil, "", false
	}

	for _, h := range hosts {
		if h == host {
			ok = true

			continue
		}

		others = append(others, h)
	}

	return others, comment, ok
}

func knownHostsLine(hosts []string, key ssh.PublicKey, comment string) string {
	line := knownhosts.Line(hosts, key)
	if comment != "" {
		line += " " + comment
	}

	return line
}

func hostKeyLine(hostname string, key ssh.PublicKey) string {
	return knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()

		return fmt.Errorf("write temp file: %w", err)
	}

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()

		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}

	return nil
}

// ToHostKey converts a public key to its wire form for error payloads.
func ToHostKey(key ssh.PublicKey) scm.HostKey {
	if key == nil {
		return scm.HostKey{}
	}

	return scm.HostKey{Type: key.Type(), Data: key.Marshal()}
}

// ParseAuthorizedKey parses one "type base64 [comment]" public key line.
func ParseAuthorizedKey(line string) (ssh.PublicKey, error) {
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(strings.TrimSpace(line)))
	if err != nil {
		return nil, &scm.UnsupportedSSHKeyError{Msg: fmt.Sprintf("invalid public key: %v", err)}
	}

	return key, nil
}
