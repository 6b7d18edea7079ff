// Package sshtest runs a minimal in-process SSH server for tests.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// Server accepts connections on 127.0.0.1 and serves exec, shell and
// subsystem requests.
//
// Exec commands understood: "echo WORDS" writes WORDS and a newline,
// "exit N" exits with status N, "stderr WORDS" writes WORDS to stderr and
// "cat" copies stdin to stdout. Shells and subsystems copy stdin to stdout.
type Server struct {
	Addr    string
	HostKey ssh.Signer

	listener net.Listener
	config   *ssh.ServerConfig
	wg       sync.WaitGroup

	mu       sync.Mutex
	ptyTerms []string
	subs     []string
}

// Options configure accepted credentials. An empty Password disables
// password authentication; a nil AuthorizedKey disables public keys.
type Options struct {
	Username      string
	Password      string
	AuthorizedKey ssh.PublicKey
}

// Start launches a server and registers cleanup with t.
func Start(t testing.TB, opts Options) *Server {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	config := &ssh.ServerConfig{}
	config.AddHostKey(signer)

	if opts.Password != "" {
		config.PasswordCallback = func(conn ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if conn.User() == opts.Username && string(pw) == opts.Password {
				return &ssh.Permissions{}, nil
			}

			return nil, errors.New("bad password")
		}
	}

	if opts.AuthorizedKey != nil {
		want := opts.AuthorizedKey.Marshal()
		config.PublicKeyCallback = func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if conn.User() == opts.Username && string(key.Marshal()) == string(want) {
				return &ssh.Permissions{}, nil
			}

			return nil, errors.New("unknown key")
		}
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{
		Addr:     listener.Addr().String(),
		HostKey:  signer,
		listener: listener,
		config:   config,
	}

	s.wg.Add(1)

	go s.serve()

	t.Cleanup(s.Close)

	return s
}

// Close stops accepting connections and waits for handlers.
func (s *Server) Close() {
	s.listener.Close()
	s.wg.Wait()
}

// PTYTerms returns the TERM values of received pty-req requests.
func (s *Server) PTYTerms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.ptyTerms...)
}

// Subsystems returns the names of requested subsystems.
func (s *Server) Subsystems() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.subs...)
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.wg.Add(1)

		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(nc net.Conn) {
	defer nc.Close()

	conn, chans, reqs, err := ssh.NewServerConn(nc, s.config)
	if err != nil {
		return
	}
	defer conn.Close()

	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(ssh.UnknownChannelType, "only sessions")

			continue
		}

		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}

		go s.handleSession(ch, requests)
	}
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	for req := range requests {
		switch req.Type {
		case "pty-req":
			s.mu.Lock()
			s.ptyTerms = append(s.ptyTerms, parseString(req.Payload))
			s.mu.Unlock()

			_ = req.Reply(true, nil)
		case "env", "window-change":
			_ = req.Reply(true, nil)
		case "exec":
			_ = req.Reply(true, nil)

			status := runExec(ch, parseString(req.Payload))
			sendExit(ch, status)

			return
		case "shell":
			_ = req.Reply(true, nil)

			_, _ = io.Copy(ch, ch)
			sendExit(ch, 0)

			return
		case "subsystem":
			s.mu.Lock()
			s.subs = append(s.subs, parseString(req.Payload))
			s.mu.Unlock()

			_ = req.Reply(true, nil)

			_, _ = io.Copy(ch, ch)
			sendExit(ch, 0)

			return
		default:
			_ = req.Reply(false, nil)
		}
	}
}

func runExec(ch ssh.Channel, command string) uint32 {
	verb, rest, _ := strings.Cut(command, " ")

	switch verb {
	case "echo":
		_, _ = io.WriteString(ch, rest+"\n")
	case "stderr":
		_, _ = io.WriteString(ch.Stderr(), rest+"\n")
	case "cat":
		_, _ = io.Copy(ch, ch)
	case "exit":
		code, err := strconv.Atoi(rest)
		if err != nil {
			return 255
		}

		return uint32(code) //nolint:gosec // test input.
	default:
		_, _ = io.WriteString(ch.Stderr(), "unknown command: "+command+"\n")

		return 127
	}

	return 0
}

func sendExit(ch ssh.Channel, status uint32) {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, status)

	_, _ = ch.SendRequest("exit-status", false, payload)
}

// parseString decodes the leading SSH string of a request payload.
func parseString(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}

	n := binary.BigEndian.Uint32(payload)
	if int(n) > len(payload)-4 {
		return ""
	}

	return string(payload[4 : 4+n])
}
