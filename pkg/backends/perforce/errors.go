package perforce

import (
	"strings"

	"github.com/Sumatoshi-tech/scmkit/pkg/backends"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

const (
	// fingerprintLine is where p4 prints the key fingerprint in its trust
	// prompt when no "fingerprint" label line is found.
	fingerprintLine = 3

	sslVersionHint = "The SSL library used by the p4 client is too old to connect to this server. " +
		"Upgrade OpenSSL and the p4 client."
)

// rules map p4 error output to the error taxonomy.
func (c *Client) rules() []scm.Rule {
	return []scm.Rule{
		{Substr: "Perforce password", Make: backends.Authentication},
		{Substr: "Password must be set", Make: backends.Authentication},
		{Substr: "check $P4PORT", Make: backends.RepositoryNotFound(c.repo.Path)},
		{Substr: "TCP connect to", Make: backends.RepositoryNotFound(c.repo.Path)},
		{Substr: "To allow connection use the 'p4 trust' command", Make: c.untrusted},
		{Substr: "SSL library must be at least version", Make: func(msg string) error {
			return scm.NewError("%s (%s)", sslVersionHint, msg)
		}},
	}
}

// fileRules extends rules with a not-found mapping for path at rev.
func (c *Client) fileRules(path string, rev scm.Revision) []scm.Rule {
	return append(c.rules(),
		scm.Rule{Substr: "no such file", Make: backends.FileNotFound(path, rev)},
		scm.Rule{Substr: "file(s) not on client", Make: backends.FileNotFound(path, rev)},
	)
}

// untrusted extracts the fingerprint from p4's trust prompt.
func (c *Client) untrusted(msg string) error {
	return &scm.UnverifiedCertificateError{Certificate: scm.Certificate{
		Hostname:    c.port,
		Fingerprint: trustFingerprint(msg),
	}}
}

func trustFingerprint(msg string) string {
	lines := strings.Split(msg, "\n")

	for i, line := range lines {
		if strings.Contains(line, "fingerprint") && i+1 < len(lines) {
			return strings.TrimSpace(lines[i+1])
		}
	}

	if len(lines) > fingerprintLine {
		return strings.TrimSpace(lines[fingerprintLine])
	}

	return ""
}
