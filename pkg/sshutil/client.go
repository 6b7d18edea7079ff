package sshutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/user"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

const (
	// DefaultPort is the standard SSH port.
	DefaultPort = 22

	defaultDialTimeout = 30 * time.Second
)

// ErrInvalidNetloc is returned for unparsable "[user@]host[:port]" strings.
var ErrInvalidNetloc = errors.New("invalid network location")

var attemptedMethodsRe = regexp.MustCompile(`attempted methods \[([^\]]*)\]`)

// Dialer opens authenticated SSH connections using the keys in a Storage.
type Dialer struct {
	storage    *Storage
	policy     Policy
	allowAgent bool
	timeout    time.Duration
	logger     *slog.Logger
}

// DialerOption configures a Dialer.
type DialerOption func(*Dialer)

// WithPolicy sets the unknown host key policy. The default is RejectUnknown.
func WithPolicy(p Policy) DialerOption {
	return func(d *Dialer) { d.policy = p }
}

// WithAgent enables authentication through $SSH_AUTH_SOCK.
func WithAgent(enabled bool) DialerOption {
	return func(d *Dialer) { d.allowAgent = enabled }
}

// WithDialTimeout bounds TCP connect and handshake.
func WithDialTimeout(timeout time.Duration) DialerOption {
	return func(d *Dialer) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) DialerOption {
	return func(d *Dialer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDialer returns a Dialer backed by storage.
func NewDialer(storage *Storage, opts ...DialerOption) *Dialer {
	d := &Dialer{
		storage: storage,
		policy:  RejectUnknown,
		timeout: defaultDialTimeout,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Credentials carry what the caller knows about the remote account.
type Credentials struct {
	Username string
	Password string
	// PasswordPrompt, when set, is asked for a password after the stored
	// password (if any) has been tried.
	PasswordPrompt func() (string, error)
	// PasswordAttempts is how many times password authentication is retried
	// when PasswordPrompt is set. Values below 1 mean a single attempt.
	PasswordAttempts int
}

// Dial connects to addr ("host" or "host:port") and authenticates. Host key,
// authentication and key errors are reported with the scm error taxonomy.
func (d *Dialer) Dial(ctx context.Context, addr string, creds Credentials) (*ssh.Client, error) {
	addr = withDefaultPort(addr)

	callback, err := d.storage.HostKeyCallback(d.policy, d.logger)
	if err != nil {
		return nil, err
	}

	auth, userKey, closeAgent, err := d.authMethods(creds)
	if err != nil {
		return nil, err
	}
	defer closeAgent()

	username := creds.Username
	if username == "" {
		username = CurrentUsername()
	}

	config := &ssh.ClientConfig{
		User:            username,
		Auth:            auth,
		HostKeyCallback: callback,
		Timeout:         d.timeout,
	}

	dialer := net.Dialer{Timeout: d.timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &scm.Error{Msg: fmt.Sprintf("unable to connect to %s: %v", addr, err), Err: err}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()

		return nil, translateHandshakeError(err, userKey)
	}

	_ = conn.SetDeadline(time.Time{})

	d.logger.DebugContext(ctx, "ssh connected", "addr", addr, "user", username,
		"server_version", string(sshConn.ServerVersion()))

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (d *Dialer) authMethods(creds Credentials) ([]ssh.AuthMethod, []byte, func(), error) {
	var (
		methods []ssh.AuthMethod
		userKey []byte
	)

	closeAgent := func() {}

	signer, err := d.storage.UserKey()

	switch {
	case err == nil:
		methods = append(methods, ssh.PublicKeys(signer))
		userKey = signer.PublicKey().Marshal()
	case errors.Is(err, ErrNoUserKey):
	default:
		return nil, nil, closeAgent, err
	}

	if d.allowAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				d.logger.Warn("ssh agent unavailable", "error", err)
			} else {
				closeAgent = func() { conn.Close() }
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			}
		}
	}

	passwords := passwordSource(creds)
	if passwords != nil {
		attempts := max(creds.PasswordAttempts, 1)
		if creds.Password != "" && creds.PasswordPrompt != nil {
			attempts++
		}

		methods = append(methods, ssh.RetryableAuthMethod(ssh.PasswordCallback(passwords), attempts))
	}

	if creds.Password != "" {
		methods = append(methods, ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range questions {
				answers[i] = creds.Password
			}

			return answers, nil
		}))
	}

	return methods, userKey, closeAgent, nil
}

// passwordSource yields the stored password first, then the prompt.
func passwordSource(creds Credentials) func() (string, error) {
	if creds.Password == "" && creds.PasswordPrompt == nil {
		return nil
	}

	usedStored := creds.Password == ""

	return func() (string, error) {
		if !usedStored {
			usedStored = true

			return creds.Password, nil
		}

		if creds.PasswordPrompt == nil {
			return "", &scm.AuthenticationError{Msg: "the password was rejected"}
		}

		return creds.PasswordPrompt()
	}
}

func translateHandshakeError(err error, userKey []byte) error {
	var (
		bad     *scm.BadHostKeyError
		unknown *scm.UnknownHostKeyError
		authErr *scm.AuthenticationError
	)

	switch {
	case errors.As(err, &bad):
		return bad
	case errors.As(err, &unknown):
		return unknown
	case errors.As(err, &authErr):
		return authErr
	}

	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") {
		return &scm.AuthenticationError{
			Msg:          "unable to authenticate against this SSH server",
			AllowedTypes: attemptedMethods(msg),
			UserKey:      userKey,
		}
	}

	return &scm.Error{Msg: msg, Err: err}
}

func attemptedMethods(msg string) []string {
	m := attemptedMethodsRe.FindStringSubmatch(msg)
	if m == nil {
		return nil
	}

	var methods []string

	for method := range strings.FieldsSeq(m[1]) {
		if method != "none" {
			methods = append(methods, method)
		}
	}

	return methods
}

// CheckHost connects to netloc and authenticates, rejecting unknown host
// keys. The connection is always closed before returning.
func (d *Dialer) CheckHost(ctx context.Context, netloc string, creds Credentials) error {
	login, host, port, err := ParseNetloc(netloc)
	if err != nil {
		return err
	}

	if creds.Username == "" {
		creds.Username = login
	}

	strict := *d
	strict.policy = RejectUnknown

	client, err := strict.Dial(ctx, net.JoinHostPort(host, strconv.Itoa(port)), creds)
	if err != nil {
		return err
	}

	return client.Close()
}

// ParseNetloc splits "[user@]host[:port]". The port defaults to 22.
func ParseNetloc(netloc string) (login, host string, port int, err error) {
	if at := strings.LastIndex(netloc, "@"); at >= 0 {
		login, netloc = netloc[:at], netloc[at+1:]
	}

	host, portStr, splitErr := net.SplitHostPort(netloc)
	if splitErr != nil {
		return login, strings.Trim(netloc, "[]"), DefaultPort, nil
	}

	port, err = strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return "", "", 0, fmt.Errorf("%w: invalid port in %q", ErrInvalidNetloc, netloc)
	}

	return login, host, port, nil
}

func withDefaultPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	return net.JoinHostPort(strings.Trim(addr, "[]"), strconv.Itoa(DefaultPort))
}

// CurrentUsername returns the login name of the current user.
func CurrentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}

	for _, key := range []string{"USER", "LOGNAME", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}

	return ""
}

// FetchHostKey connects to addr and returns the key the server presents
// without authenticating.
func FetchHostKey(ctx context.Context, addr string, timeout time.Duration) (ssh.PublicKey, error) {
	addr = withDefaultPort(addr)

	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	var presented ssh.PublicKey

	errGotKey := errors.New("host key captured")

	config := &ssh.ClientConfig{
		User: "scmkit",
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			presented = key

			return errGotKey
		},
		Timeout: timeout,
	}

	dialer := net.Dialer{Timeout: timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &scm.Error{Msg: fmt.Sprintf("unable to connect to %s: %v", addr, err), Err: err}
	}
	defer conn.Close()

	_, _, _, err = ssh.NewClientConn(conn, addr, config)
	if presented != nil {
		return presented, nil
	}

	return nil, &scm.Error{Msg: fmt.Sprintf("no host key received from %s", addr), Err: err}
}
