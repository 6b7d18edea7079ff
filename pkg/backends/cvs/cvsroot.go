package cvs

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidRoot is returned for paths that cannot be turned into a CVSROOT.
var ErrInvalidRoot = errors.New("not a valid CVSROOT")

var (
	localRootRe  = regexp.MustCompile(`^:(local|fork):(.+)$`)
	remoteRootRe = regexp.MustCompile(
		`^(?::([gkp]server|ext|ssh|extssh):)?(?:([^:@/]+)(?::([^@]+))?@)?([^:/]+)(?::(\d+))?:?(/.*)$`)
)

const defaultProtocol = "pserver"

// Root is a parsed CVSROOT.
type Root struct {
	Protocol string
	Username string
	Password string
	Host     string
	Port     string
	// Path is the repository directory on the server.
	Path string
}

// IsRemote reports whether the root names a server.
func (r Root) IsRemote() bool { return r.Host != "" }

// UsesSSH reports whether the tool reaches the server through CVS_RSH.
func (r Root) UsesSSH() bool {
	switch r.Protocol {
	case "ext", "ssh", "extssh":
		return true
	default:
		return false
	}
}

// String renders the root in the form passed to "cvs -d".
func (r Root) String() string {
	if !r.IsRemote() {
		if r.Protocol == "" {
			return r.Path
		}

		return ":" + r.Protocol + ":" + r.Path
	}

	var b strings.Builder

	b.WriteString(":" + r.Protocol + ":")

	if r.Username != "" {
		b.WriteString(r.Username)

		if r.Password != "" {
			b.WriteString(":" + r.Password)
		}

		b.WriteString("@")
	}

	b.WriteString(r.Host)

	if r.Port != "" {
		b.WriteString(":" + r.Port)
	} else {
		b.WriteString(":")
	}

	b.WriteString(r.Path)

	return b.String()
}

// ParseRoot builds a CVSROOT from a repository path and credentials. The
// configured credentials take precedence over any embedded in the path.
// Plain directory paths are local repositories. Remote paths without a
// protocol use pserver.
func ParseRoot(path, username, password string) (Root, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Root{}, fmt.Errorf("%w: empty path", ErrInvalidRoot)
	}

	if m := localRootRe.FindStringSubmatch(path); m != nil {
		return Root{Protocol: m[1], Path: m[2]}, nil
	}

	if strings.HasPrefix(path, "/") {
		return Root{Path: path}, nil
	}

	m := remoteRootRe.FindStringSubmatch(path)
	if m == nil {
		return Root{}, fmt.Errorf("%w: %q", ErrInvalidRoot, path)
	}

	root := Root{
		Protocol: m[1],
		Username: m[2],
		Password: m[3],
		Host:     m[4],
		Port:     m[5],
		Path:     m[6],
	}

	if root.Protocol == "" {
		root.Protocol = defaultProtocol
	}

	if username != "" {
		root.Username = username
	}

	if password != "" {
		root.Password = password
	}

	return root, nil
}
