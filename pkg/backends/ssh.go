package backends

import (
	"context"
	"net/url"

	"github.com/Sumatoshi-tech/scmkit/pkg/sshutil"
)

// CheckSSHHost verifies the host key and credentials for uri when it uses an
// SSH scheme and a dialer is configured. Other URIs pass unchecked.
func (e Env) CheckSSHHost(ctx context.Context, uri, username, password string) error {
	if e.SSH == nil || !sshutil.IsSSHURI(uri) {
		return nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil //nolint:nilerr // not a URI, so nothing to check.
	}

	if username == "" && u.User != nil {
		username = u.User.Username()
	}

	return e.SSH.CheckHost(ctx, u.Host, sshutil.Credentials{Username: username, Password: password})
}

// RBSSHEnv returns the environment that points a tool at rbssh through
// envVars, scoped to localSite unless the shared settings name one.
func (e Env) RBSSHEnv(localSite string, envVars ...string) []string {
	rbssh := e.RBSSH
	if rbssh.LocalSite == "" {
		rbssh.LocalSite = localSite
	}

	return rbssh.Env(envVars...)
}
