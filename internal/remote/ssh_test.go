package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// startSSHServer serves exec requests, echoing the command back.
// Commands starting with "fail" exit with status 1.
func startSSHServer(t *testing.T, authorized ssh.PublicKey) (string, int) {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, ssh.ErrNoAuth
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg)
		}
	}()

	return "127.0.0.1", ln.Addr().(*net.TCPAddr).Port
}

func serveConn(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := newChan.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range chReqs {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				ssh.Unmarshal(req.Payload, &payload)
				req.Reply(true, nil)

				status := uint32(0)
				if strings.HasPrefix(payload.Command, "fail") {
					status = 1
				}
				ch.Write([]byte("ran: " + payload.Command + "\n"))
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				return
			}
		}()
	}
}

func writeClientKey(t *testing.T) (string, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal client key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("write client key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	return path, sshPub
}

func TestSSHExecutorRunsCommand(t *testing.T) {
	keyPath, pub := writeClientKey(t)
	host, port := startSSHServer(t, pub)

	exec, err := NewSSHExecutor(SSHConfig{
		User:                  "harness",
		KeyFile:               keyPath,
		InsecureIgnoreHostKey: true,
		Port:                  port,
		Timeout:               5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSSHExecutor failed: %v", err)
	}

	out, err := exec.Run(context.Background(), host, "sudo systemctl stop nginx")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(out, "ran: sudo systemctl stop nginx") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestSSHExecutorReportsNonZeroExit(t *testing.T) {
	keyPath, pub := writeClientKey(t)
	host, port := startSSHServer(t, pub)

	exec, err := NewSSHExecutor(SSHConfig{
		User:                  "harness",
		KeyFile:               keyPath,
		InsecureIgnoreHostKey: true,
		Port:                  port,
		Timeout:               5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSSHExecutor failed: %v", err)
	}

	if _, err := exec.Run(context.Background(), host, "fail now"); err == nil {
		t.Fatal("expected error for non-zero exit status")
	}
}

func TestSSHExecutorRejectsUnknownKey(t *testing.T) {
	keyPath, _ := writeClientKey(t)
	_, otherPub := writeClientKey(t)
	host, port := startSSHServer(t, otherPub)

	exec, err := NewSSHExecutor(SSHConfig{
		User:                  "harness",
		KeyFile:               keyPath,
		InsecureIgnoreHostKey: true,
		Port:                  port,
		Timeout:               5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSSHExecutor failed: %v", err)
	}

	if _, err := exec.Run(context.Background(), host, "true"); err == nil {
		t.Fatal("expected handshake failure")
	}
}

func TestNewSSHExecutorValidation(t *testing.T) {
	keyPath, _ := writeClientKey(t)

	tests := []struct {
		name string
		cfg  SSHConfig
	}{
		{"missing user", SSHConfig{KeyFile: keyPath, InsecureIgnoreHostKey: true}},
		{"missing key", SSHConfig{User: "u", InsecureIgnoreHostKey: true}},
		{"unreadable key", SSHConfig{User: "u", KeyFile: filepath.Join(t.TempDir(), "nope"), InsecureIgnoreHostKey: true}},
		{"no host key policy", SSHConfig{User: "u", KeyFile: keyPath}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSSHExecutor(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
