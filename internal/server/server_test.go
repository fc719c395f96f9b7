package server

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ikedas/postfixproxy/internal/attrproto"
)

// testClient speaks the client side of attrproto's length-prefixed JSON
// framing — attrproto.Conn only exposes the server-side Recv(Request)/
// Send(Reply) pair, so the test dials in and frames requests/replies by
// hand rather than adding a client-only API to the production codec.
type testClient struct {
	c net.Conn
}

func (tc *testClient) sendRequest(req attrproto.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := tc.c.Write(hdr[:]); err != nil {
		return err
	}
	_, err = tc.c.Write(body)
	return err
}

func (tc *testClient) recvReply() (attrproto.Reply, error) {
	var length uint32
	if err := binary.Read(tc.c, binary.BigEndian, &length); err != nil {
		return attrproto.Reply{}, err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(tc.c, buf); err != nil {
		return attrproto.Reply{}, err
	}
	var reply attrproto.Reply
	if err := json.Unmarshal(buf, &reply); err != nil {
		return attrproto.Reply{}, fmt.Errorf("decode reply: %w", err)
	}
	return reply, nil
}

func (tc *testClient) Close() error { return tc.c.Close() }

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// echoHandler replies with whatever int "n" it was sent, doubled, so a test
// can verify requests actually reach the single dispatch goroutine.
type echoHandler struct{}

func (echoHandler) Handle(req attrproto.Request) *attrproto.Reply {
	n, _ := req.Int("n")
	return attrproto.NewReply().Set("n", n*2)
}

func dial(t *testing.T, socketPath string) *testClient {
	t.Helper()
	var conn net.Conn
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err = net.Dial("unix", socketPath)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial %s: %v", socketPath, err)
	}
	return &testClient{c: conn}
}

func TestRunServesRequests(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "s.sock")
	done := make(chan error, 1)
	go func() {
		done <- Run(Config{SocketPath: socketPath, Handler: echoHandler{}, MaxRequests: 1})
	}()

	conn := dial(t, socketPath)
	defer conn.Close()

	if err := conn.sendRequest(attrproto.Request{Name: "double", Fields: map[string]any{"n": 21}}); err != nil {
		t.Fatalf("send request: %v", err)
	}
	reply, err := conn.recvReply()
	if err != nil {
		t.Fatalf("recv reply: %v", err)
	}
	if n, _ := reply.Fields["n"].(float64); n != 42 {
		t.Fatalf("reply n = %v, want 42", reply.Fields["n"])
	}
}

func TestRunExitsAtMaxRequests(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "s.sock")
	done := make(chan error, 1)
	go func() {
		done <- Run(Config{SocketPath: socketPath, Handler: echoHandler{}, MaxRequests: 2})
	}()

	conn := dial(t, socketPath)
	defer conn.Close()

	for i := 0; i < 2; i++ {
		if err := conn.sendRequest(attrproto.Request{Name: "double", Fields: map[string]any{"n": i}}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if _, err := conn.recvReply(); err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error after max requests: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after reaching MaxRequests")
	}
}

func TestRunExitsOnIdleTimeout(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "s.sock")
	done := make(chan error, 1)
	go func() {
		done <- Run(Config{SocketPath: socketPath, Handler: echoHandler{}, IdleTimeout: 50 * time.Millisecond})
	}()

	// Trigger socket creation before waiting for idle exit.
	conn := dial(t, socketPath)
	conn.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error after idle timeout: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after IdleTimeout elapsed")
	}
}

func TestRunPreAcceptTriggersRestart(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "s.sock")
	changed := false
	done := make(chan error, 1)
	go func() {
		done <- Run(Config{
			SocketPath: socketPath,
			Handler:    echoHandler{},
			PreAccept:  func() bool { return changed },
		})
	}()

	conn := dial(t, socketPath)
	conn.Close()

	changed = true
	// A fresh connection attempt is what drives PreAccept's next check.
	if c, err := net.Dial("unix", socketPath); err == nil {
		c.Close()
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error after PreAccept requested a restart: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after PreAccept reported a change")
	}
}

func TestRunRunsPreJailAndPostJail(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "s.sock")
	var preJailRan, postJailRan bool
	done := make(chan error, 1)
	go func() {
		done <- Run(Config{
			SocketPath: socketPath,
			Handler:    echoHandler{},
			MaxRequests: 1,
			PreJail:    func() error { preJailRan = true; return nil },
			PostJail:   func() error { postJailRan = true; return nil },
		})
	}()

	conn := dial(t, socketPath)
	conn.sendRequest(attrproto.Request{Name: "double", Fields: map[string]any{"n": 1}})
	conn.recvReply()
	conn.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit")
	}

	if !preJailRan || !postJailRan {
		t.Fatalf("preJailRan=%v postJailRan=%v, want both true", preJailRan, postJailRan)
	}
}
