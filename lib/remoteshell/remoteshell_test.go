// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remoteshell

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// startTestSSHServer spins up a minimal loopback sshd that accepts
// any public key and interprets a few exec commands itself (see
// handleTestSession), echoing stdin back on stdout for "cat" so Pipe
// can be exercised without a real shell dependency. Returns the listen
// address and port.
func startTestSSHServer(t *testing.T) (string, int) {
	t.Helper()

	hostKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		t.Fatalf("NewSignerFromKey: %v", err)
	}

	config := &ssh.ServerConfig{NoClientAuth: true}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveTestConn(t, conn, config)
		}
	}()

	addr := listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func serveTestConn(t *testing.T, conn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go handleTestSession(channel, requests)
	}
}

// handleTestSession interprets exec requests: "echo <text>" writes
// text to stdout, "cat" echoes stdin to stdout, "exit <n>" exits with
// status n, anything else exits 0 after draining stdin.
func handleTestSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()
	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}
		if req.WantReply {
			req.Reply(true, nil)
		}

		var payload struct{ Command string }
		ssh.Unmarshal(req.Payload, &payload)
		cmd := payload.Command

		exitCode := 0
		switch {
		case cmd == "cat":
			io.Copy(channel, channel)
		case strings.HasPrefix(cmd, "echo "):
			channel.Write([]byte(strings.TrimPrefix(cmd, "echo ") + "\n"))
		case strings.HasPrefix(cmd, "exit "):
			n, _ := strconv.Atoi(strings.TrimPrefix(cmd, "exit "))
			exitCode = n
		case cmd == "sleep-forever":
			select {}
		default:
			io.Copy(io.Discard, channel)
		}

		channel.SendRequest("exit-status", false, ssh.Marshal(&struct{ Status uint32 }{uint32(exitCode)}))
		return
	}
}

func dialTest(t *testing.T) *Client {
	t.Helper()
	host, port := startTestSSHServer(t)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		t.Fatalf("NewSignerFromKey: %v", err)
	}

	client, err := Dial(context.Background(), host, port, "hal9999", signer, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	client := dialTest(t)

	result, err := client.Run(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "hello" {
		t.Errorf("Stdout = %q, want hello", result.Stdout)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
}

func TestRunReportsNonZeroExit(t *testing.T) {
	client := dialTest(t)

	result, err := client.Run(context.Background(), "exit 7")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", result.ExitCode)
	}
}

func TestPipeEchoesStdinToStdout(t *testing.T) {
	client := dialTest(t)

	out, err := client.Pipe(context.Background(), "cat", strings.NewReader("payload-data"))
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	if string(out) != "payload-data" {
		t.Errorf("out = %q, want payload-data", out)
	}
}

func TestDetachReturnsWithoutWaiting(t *testing.T) {
	client := dialTest(t)

	done := make(chan error, 1)
	go func() { done <- client.Detach(context.Background(), "sleep-forever") }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Detach: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Detach blocked waiting for a command that never exits")
	}
}
