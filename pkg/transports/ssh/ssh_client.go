package ssh

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// TransportError is a failure talking to a host, tagged with the step that
// failed.
type TransportError struct {
	Op   string
	Err  error
	Auth bool
}

func (e *TransportError) Error() string {
	return "ssh " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is a rejected login.
func IsAuthError(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Auth
}

func isAuthFailure(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

// Client is one SSH connection to a host. It is not reused across runs.
type Client struct {
	config *Config
	conn   *ssh.Client
}

// Dial validates cfg and opens a connection. Cancelling ctx aborts both the
// TCP dial and the SSH handshake.
func Dial(ctx context.Context, cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &TransportError{Op: "config", Err: err}
	}

	clientConfig, err := cfg.clientConfig()
	if err != nil {
		return nil, &TransportError{Op: "config", Err: err}
	}

	address := cfg.Address()
	log.Debug().Str("address", address).Str("user", cfg.User).Msg("Dialing host")

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, &TransportError{Op: "connect", Err: err}
	}

	// The handshake has no context of its own.
	_ = netConn.SetDeadline(time.Now().Add(cfg.ConnectTimeout))
	stop := context.AfterFunc(ctx, func() { _ = netConn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, clientConfig)
	if !stop() {
		if err == nil {
			_ = sshConn.Close()
		}
		return nil, &TransportError{Op: "connect", Err: ctx.Err()}
	}
	if err != nil {
		_ = netConn.Close()
		return nil, &TransportError{Op: "connect", Err: err, Auth: isAuthFailure(err)}
	}
	_ = netConn.SetDeadline(time.Time{})

	return &Client{config: cfg, conn: ssh.NewClient(sshConn, chans, reqs)}, nil
}

// Close ends the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
