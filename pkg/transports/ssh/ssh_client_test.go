package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/inspector/pkg/config"
	"github.com/openfroyo/inspector/pkg/engine"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// testSSHServer is an in-process SSH server that runs exec requests with
// /bin/sh and serves the sftp subsystem from the local filesystem.
type testSSHServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	done     chan struct{}
}

func newTestSSHServer(t *testing.T) *testSSHServer {
	t.Helper()

	hostKey, err := generateTestSigner()
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "testuser" && string(pass) == "testpass" {
				return nil, nil
			}
			return nil, fmt.Errorf("invalid credentials")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	config.AddHostKey(hostKey)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	server := &testSSHServer{
		listener: listener,
		config:   config,
		addr:     listener.Addr().String(),
		done:     make(chan struct{}),
	}
	go server.serve()

	t.Cleanup(server.close)
	return server
}

func (s *testSSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *testSSHServer) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleChannel(channel, requests)
	}
}

func (s *testSSHServer) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)

			go func() {
				status := runCommand(payload.Command, channel)
				_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				_ = channel.Close()
			}()

		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)

			go func() {
				server, err := sftp.NewServer(channel)
				if err == nil {
					_ = server.Serve()
					_ = server.Close()
				}
				_ = channel.Close()
			}()

		default:
			_ = req.Reply(false, nil)
		}
	}
}

func runCommand(command string, channel ssh.Channel) uint32 {
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Stdin = channel
	cmd.Stdout = channel
	cmd.Stderr = channel.Stderr()

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exitErr):
		return uint32(exitErr.ExitCode())
	default:
		return 255
	}
}

func (s *testSSHServer) close() {
	close(s.done)
	_ = s.listener.Close()
}

func (s *testSSHServer) hostPort(t *testing.T) (string, int) {
	t.Helper()

	host, portStr, err := net.SplitHostPort(s.addr)
	if err != nil {
		t.Fatalf("failed to split address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("failed to parse port: %v", err)
	}
	return host, port
}

func generateTestSigner() (ssh.Signer, error) {
	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(privKey)
}

func testConfig(t *testing.T, server *testSSHServer, password string) *Config {
	t.Helper()

	host, port := server.hostPort(t)
	return &Config{
		Host:           host,
		Port:           port,
		User:           "testuser",
		Password:       password,
		ConnectTimeout: 5 * time.Second,
		RemoteDir:      t.TempDir(),
	}
}

func newConnectedClient(t *testing.T, server *testSSHServer) *Client {
	t.Helper()

	client, err := Dial(context.Background(), testConfig(t, server, "testpass"))
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestDial(t *testing.T) {
	server := newTestSSHServer(t)

	tests := []struct {
		name     string
		mutate   func(*Config)
		wantErr  bool
		wantAuth bool
	}{
		{name: "password", mutate: func(c *Config) {}},
		{name: "key", mutate: func(c *Config) {
			c.Password = ""
			c.KeyPath = writeTestKey(t)
		}},
		{name: "wrong password", mutate: func(c *Config) { c.Password = "wrong" }, wantErr: true, wantAuth: true},
		{name: "invalid config", mutate: func(c *Config) { c.User = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, server, "testpass")
			tt.mutate(cfg)

			client, err := Dial(context.Background(), cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if err == nil {
				defer client.Close()
				res, err := client.Execute(context.Background(), "echo ok", "")
				if err != nil {
					t.Fatalf("failed to execute: %v", err)
				}
				if res.Stdout != "ok" {
					t.Errorf("Expected stdout ok, got %q", res.Stdout)
				}
			}
			if IsAuthError(err) != tt.wantAuth {
				t.Errorf("Expected auth error %v, got %v", tt.wantAuth, err)
			}
		})
	}
}

func TestDialCancelled(t *testing.T) {
	server := newTestSSHServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Dial(ctx, testConfig(t, server, "testpass")); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestClientExecute(t *testing.T) {
	server := newTestSSHServer(t)
	client := newConnectedClient(t, server)

	tests := []struct {
		name           string
		command        string
		stdin          string
		expectedStdout string
		expectedStderr string
		expectedCode   int
	}{
		{name: "simple echo", command: "echo test", expectedStdout: "test"},
		{name: "stderr output", command: "echo error >&2", expectedStderr: "error"},
		{name: "non-zero exit", command: "echo partial; exit 3", expectedStdout: "partial", expectedCode: 3},
		{name: "stdin", command: "cat", stdin: "hello\n", expectedStdout: "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := client.Execute(context.Background(), tt.command, tt.stdin)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Stdout != tt.expectedStdout {
				t.Errorf("expected stdout '%s', got '%s'", tt.expectedStdout, res.Stdout)
			}
			if res.Stderr != tt.expectedStderr {
				t.Errorf("expected stderr '%s', got '%s'", tt.expectedStderr, res.Stderr)
			}
			if res.ExitCode != tt.expectedCode {
				t.Errorf("expected exit code %d, got %d", tt.expectedCode, res.ExitCode)
			}
		})
	}
}

func TestClientExecuteTimeout(t *testing.T) {
	server := newTestSSHServer(t)
	client := newConnectedClient(t, server)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Execute(ctx, "sleep 2", "")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("expected execute to return promptly, took %v", time.Since(start))
	}
}

func TestClientRunScript(t *testing.T) {
	server := newTestSSHServer(t)
	client := newConnectedClient(t, server)

	body := "#!/bin/bash\necho \"※ U-01 결과 : 양호\"\necho warn >&2\nexit 2\n"
	res, err := client.RunScript(context.Background(), body)
	if err != nil {
		t.Fatalf("failed to run script: %v", err)
	}

	if res.Stdout != "※ U-01 결과 : 양호" {
		t.Errorf("unexpected stdout: %q", res.Stdout)
	}
	if res.Stderr != "warn" {
		t.Errorf("unexpected stderr: %q", res.Stderr)
	}
	if res.ExitCode != 2 {
		t.Errorf("expected exit code 2, got %d", res.ExitCode)
	}

	entries, err := os.ReadDir(client.config.RemoteDir)
	if err != nil {
		t.Fatalf("failed to read remote dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected the uploaded script to be removed, found %d files", len(entries))
	}
}

func TestScriptCommand(t *testing.T) {
	tests := []struct {
		name          string
		useSudo       bool
		password      string
		expectedCmd   string
		expectedStdin string
	}{
		{name: "plain", expectedCmd: "bash '/tmp/a b.sh'"},
		{name: "sudo with password", useSudo: true, password: "pw", expectedCmd: "sudo -S -p '' bash '/tmp/a b.sh'", expectedStdin: "pw\n"},
		{name: "passwordless sudo", useSudo: true, expectedCmd: "sudo -n bash '/tmp/a b.sh'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &Client{config: &Config{UseSudo: tt.useSudo, Password: tt.password}}
			cmd, stdin := client.scriptCommand("/tmp/a b.sh")
			if cmd != tt.expectedCmd {
				t.Errorf("expected command %q, got %q", tt.expectedCmd, cmd)
			}
			if stdin != tt.expectedStdin {
				t.Errorf("expected stdin %q, got %q", tt.expectedStdin, stdin)
			}
		})
	}

	if got := shellQuote("it's"); got != `'it'\''s'` {
		t.Errorf("unexpected quoting: %s", got)
	}
}

func TestTransportRun(t *testing.T) {
	server := newTestSSHServer(t)
	host, port := server.hostPort(t)

	transport := NewTransport(config.SSHConfig{
		Port:              port,
		ConnectionTimeout: 5 * time.Second,
		RemoteDir:         t.TempDir(),
	})
	target := engine.Target{ID: "h1", IP: host, Username: "testuser"}

	res, err := transport.Run(context.Background(), engine.RemoteRequest{
		Target:     target,
		Credential: engine.Credential{Password: "testpass"},
		Body:       "#!/bin/bash\necho inspected\n",
		Type:       engine.ScriptTypeShell,
	})
	if err != nil {
		t.Fatalf("failed to run: %v", err)
	}
	if res.ExitCode != 0 || strings.TrimSpace(res.Stdout) != "inspected" {
		t.Errorf("unexpected result: %+v", res)
	}

	_, err = transport.Run(context.Background(), engine.RemoteRequest{
		Target:     target,
		Credential: engine.Credential{Password: "testpass"},
		Body:       "- hosts: all",
		Type:       engine.ScriptTypePlaybook,
	})
	if err == nil {
		t.Error("expected playbooks to be rejected")
	}

	_, err = transport.Run(context.Background(), engine.RemoteRequest{
		Target:     target,
		Credential: engine.Credential{Password: "nope"},
		Body:       "echo",
		Type:       engine.ScriptTypeShell,
	})
	if !IsAuthError(err) {
		t.Errorf("expected an auth error, got %v", err)
	}
}
