// Package remote runs commands on the storage appliance over SSH: SMART
// diagnostics, the GPU read and the interactive shell used by the relay.
// Every call opens its own connection and closes it before returning.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

const (
	DefaultDialTimeout = 10 * time.Second
	DefaultExecTimeout = 30 * time.Second
)

// Credentials identify one SSH login. PrivateKeyPEM and Password may both be
// set; the key is offered first.
type Credentials struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	User          string `json:"user"`
	Password      string `json:"password"`
	PrivateKeyPEM string `json:"private_key"`
	SudoPassword  string `json:"sudo_password"`
}

// Addr returns host:port, defaulting the port to 22.
func (c Credentials) Addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c Credentials) clientConfig(timeout time.Duration) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod
	if c.PrivateKeyPEM != "" {
		signer, err := ssh.ParsePrivateKey([]byte(c.PrivateKeyPEM))
		if err != nil {
			return nil, &SessionAuthError{Host: c.Host, Err: fmt.Errorf("parsing SSH key: %w", err)}
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		authMethods = append(authMethods, ssh.Password(c.Password))
		authMethods = append(authMethods, ssh.KeyboardInteractive(
			func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			}))
	}
	user := c.User
	if user == "" {
		user = "root"
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // TODO: pin the appliance host key from config
		Timeout:         timeout,
	}, nil
}

// Executor runs one command on a host. A non-zero exit status of the remote
// command is not an error; only session failures are.
type Executor interface {
	Exec(ctx context.Context, creds Credentials, cmd string) (stdout, stderr string, err error)
}

// SSHExecutor is the Executor backed by golang.org/x/crypto/ssh.
type SSHExecutor struct {
	dialTimeout time.Duration
	execTimeout time.Duration
	logger      *zap.Logger
}

// NewSSHExecutor returns an executor. Zero timeouts select the defaults.
func NewSSHExecutor(dialTimeout, execTimeout time.Duration, logger *zap.Logger) *SSHExecutor {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	if execTimeout <= 0 {
		execTimeout = DefaultExecTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSHExecutor{dialTimeout: dialTimeout, execTimeout: execTimeout, logger: logger}
}

// dial opens an authenticated client connection.
func (e *SSHExecutor) dial(ctx context.Context, creds Credentials) (*ssh.Client, error) {
	if strings.TrimSpace(creds.Host) == "" {
		return nil, &SessionError{Op: "dial", Err: errors.New("no host configured")}
	}
	cfg, err := creds.clientConfig(e.dialTimeout)
	if err != nil {
		return nil, err
	}
	if len(cfg.Auth) == 0 {
		return nil, &SessionAuthError{Host: creds.Host, Err: errors.New("no password or private key supplied")}
	}

	addr := creds.Addr()
	d := net.Dialer{Timeout: e.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &SessionError{Host: creds.Host, Op: "dial", Err: err}
	}
	_ = conn.SetDeadline(time.Now().Add(e.dialTimeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		if isAuthFailure(err) {
			return nil, &SessionAuthError{Host: creds.Host, Err: err}
		}
		return nil, &SessionError{Host: creds.Host, Op: "handshake", Err: err}
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// Exec runs cmd on a fresh connection. With SudoPassword set the command is
// run under sudo and the password is fed on stdin.
func (e *SSHExecutor) Exec(ctx context.Context, creds Credentials, cmd string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.execTimeout)
	defer cancel()

	start := time.Now()
	client, err := e.dial(ctx, creds)
	if err != nil {
		e.logger.Warn("ssh connect failed", zap.String("host", creds.Host), zap.Error(err))
		return "", "", err
	}
	defer func() { _ = client.Close() }()

	sess, err := client.NewSession()
	if err != nil {
		return "", "", &SessionError{Host: creds.Host, Op: "session", Err: err}
	}
	defer func() { _ = sess.Close() }()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	cmd, input := withSudo(cmd, creds.SudoPassword)
	var stdin io.WriteCloser
	if input != "" {
		if stdin, err = sess.StdinPipe(); err != nil {
			return "", "", &SessionError{Host: creds.Host, Op: "stdin", Err: err}
		}
	}
	if err := sess.Start(cmd); err != nil {
		return "", "", &SessionError{Host: creds.Host, Op: "start", Err: err}
	}
	if stdin != nil {
		_, _ = io.WriteString(stdin, input)
		_ = stdin.Close()
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = client.Close()
		// Wait returns only after the output copies have stopped writing.
		<-done
		return stdout.String(), stderr.String(), &SessionError{Host: creds.Host, Op: "exec", Err: ctx.Err()}
	case err := <-done:
		var exitErr *ssh.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return stdout.String(), stderr.String(), &SessionError{Host: creds.Host, Op: "exec", Err: err}
		}
	}

	if input != "" && sudoRejected(stderr.String()) {
		return stdout.String(), stderr.String(), &SessionAuthError{Host: creds.Host, Err: errors.New("sudo password rejected")}
	}
	e.logger.Debug("ssh exec",
		zap.String("host", creds.Host),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("stdout_bytes", stdout.Len()),
	)
	return stdout.String(), stderr.String(), nil
}

// withSudo wraps cmd for password elevation. The password is written to
// stdin followed by a newline; stdin is then closed so a rejected password
// cannot leave sudo waiting for another attempt.
func withSudo(cmd, password string) (string, string) {
	if password == "" {
		return cmd, ""
	}
	return "sudo -S -p '' " + cmd, password + "\n"
}

func sudoRejected(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "incorrect password") ||
		strings.Contains(s, "sorry, try again") ||
		strings.Contains(s, "a password is required") ||
		strings.Contains(s, "is not in the sudoers file")
}

func isAuthFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain")
}
