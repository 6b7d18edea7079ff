package sshutil

import (
	"net/url"
	"os/exec"
	"strconv"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
)

// Environment variables read by rbssh.
const (
	EnvSSHDir     = "RBSSH_SSH_DIR"
	EnvLocalSite  = "RBSSH_LOCAL_SITE"
	EnvAllowAgent = "RBSSH_ALLOW_AGENT"
	EnvDebug      = "DEBUG_RBSSH"
)

// sshSchemes are URL schemes that tunnel over SSH.
var sshSchemes = map[string]bool{
	"ssh":     true,
	"sftp":    true,
	"svn+ssh": true,
	"bzr+ssh": true,
	"git+ssh": true,
	"ssh+git": true,
}

// RBSSH describes how backends invoke the portable SSH client.
type RBSSH struct {
	// Command is the rbssh executable, optionally followed by arguments.
	Command    string
	SSHDir     string
	LocalSite  string
	AllowAgent bool
}

// Argv splits Command into an argument vector.
func (r RBSSH) Argv() ([]string, error) {
	cmd := r.Command
	if cmd == "" {
		cmd = "rbssh"
	}

	return shellquote.Split(cmd)
}

// Available reports whether the rbssh executable can be found.
func (r RBSSH) Available() bool {
	argv, err := r.Argv()
	if err != nil || len(argv) == 0 {
		return false
	}

	_, err = exec.LookPath(argv[0])

	return err == nil
}

// Env returns the KEY=VALUE pairs that make a backend tool use rbssh as its
// SSH program through each of envVars (for example CVS_RSH or BZR_SSH),
// along with the storage settings rbssh inherits.
func (r RBSSH) Env(envVars ...string) []string {
	cmd := r.Command
	if cmd == "" {
		cmd = "rbssh"
	}

	env := make([]string, 0, len(envVars)+3)
	for _, name := range envVars {
		env = append(env, name+"="+cmd)
	}

	if r.SSHDir != "" {
		env = append(env, EnvSSHDir+"="+r.SSHDir)
	}

	if r.LocalSite != "" {
		env = append(env, EnvLocalSite+"="+r.LocalSite)
	}

	env = append(env, EnvAllowAgent+"="+strconv.FormatBool(r.AllowAgent))

	return env
}

// IsSSHURI reports whether uri uses an SSH-tunneled scheme.
func IsSSHURI(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}

	return sshSchemes[strings.ToLower(u.Scheme)]
}
