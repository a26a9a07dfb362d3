package ssh

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// ExecResult is the outcome of one remote command. Output is trimmed.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Execute runs cmd in a new session. A non-zero exit status is reported in
// the result, not as an error. A non-empty stdin is written to the
// command's standard input.
func (c *Client) Execute(ctx context.Context, cmd, stdin string) (*ExecResult, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "session", Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != "" {
		session.Stdin = strings.NewReader(stdin)
	}

	started := time.Now()
	if err := session.Start(cmd); err != nil {
		return nil, &TransportError{Op: "execute", Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		runErr = ctx.Err()
	}

	res := &ExecResult{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(started),
	}

	log.Debug().
		Str("host", c.config.Host).
		Int("stdout_bytes", len(res.Stdout)).
		Dur("duration", res.Duration).
		Err(runErr).
		Msg("Remote command finished")

	var exitErr *ssh.ExitError
	switch {
	case runErr == nil:
		return res, nil
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	default:
		res.ExitCode = -1
		return res, &TransportError{Op: "execute", Err: runErr}
	}
}

// RunScript uploads body, runs it with bash and removes it again. With
// UseSudo the script runs through sudo and the password, if any, is fed
// to sudo on stdin.
func (c *Client) RunScript(ctx context.Context, body string) (*ExecResult, error) {
	files, err := c.openFiles()
	if err != nil {
		return nil, err
	}
	defer files.Close()

	remotePath, err := files.writeScript(body)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := files.remove(remotePath); err != nil {
			log.Warn().Err(err).Str("host", c.config.Host).Str("path", remotePath).Msg("Failed to remove script")
		}
	}()

	cmd, stdin := c.scriptCommand(remotePath)
	return c.Execute(ctx, cmd, stdin)
}

func (c *Client) scriptCommand(remotePath string) (cmd, stdin string) {
	cmd = "bash " + shellQuote(remotePath)
	switch {
	case !c.config.UseSudo:
		return cmd, ""
	case c.config.Password != "":
		return "sudo -S -p '' " + cmd, c.config.Password + "\n"
	default:
		return "sudo -n " + cmd, ""
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
