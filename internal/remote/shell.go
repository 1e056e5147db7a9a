package remote

import (
	"context"
	"io"

	"golang.org/x/crypto/ssh"
)

// Shell is an interactive login shell on a PTY.
type Shell struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

// OpenShell dials the host and starts a login shell on an xterm PTY of the
// given size. The caller must Close it.
func (e *SSHExecutor) OpenShell(ctx context.Context, creds Credentials, cols, rows int) (*Shell, error) {
	client, err := e.dial(ctx, creds)
	if err != nil {
		return nil, err
	}
	sess, err := client.NewSession()
	if err != nil {
		_ = client.Close()
		return nil, &SessionError{Host: creds.Host, Op: "session", Err: err}
	}

	fail := func(op string, err error) (*Shell, error) {
		_ = sess.Close()
		_ = client.Close()
		return nil, &SessionError{Host: creds.Host, Op: op, Err: err}
	}

	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm", rows, cols, modes); err != nil {
		return fail("pty", err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		return fail("stdin", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return fail("stdout", err)
	}
	// PTY sessions merge stderr into stdout on the remote side.
	if err := sess.Shell(); err != nil {
		return fail("shell", err)
	}
	return &Shell{client: client, session: sess, stdin: stdin, stdout: stdout}, nil
}

func (s *Shell) Read(p []byte) (int, error)  { return s.stdout.Read(p) }
func (s *Shell) Write(p []byte) (int, error) { return s.stdin.Write(p) }

// Resize changes the PTY window size.
func (s *Shell) Resize(cols, rows int) error {
	return s.session.WindowChange(rows, cols)
}

// Close ends the session and the connection.
func (s *Shell) Close() error {
	_ = s.session.Close()
	return s.client.Close()
}
