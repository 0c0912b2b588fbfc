package admin

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
)

type fakeSource struct {
	nodes []NodeDump
	conns []ConnDump
}

func (f *fakeSource) DumpNodes() []NodeDump       { return f.nodes }
func (f *fakeSource) DumpConnections() []ConnDump { return f.conns }

// roundtrip runs one command against serveConn over an in-memory pipe.
func roundtrip(t *testing.T, s *Server, command string) (status string, body []byte) {
	t.Helper()
	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		s.serveConn(server)
		server.Close()
		close(done)
	}()

	if _, err := io.WriteString(client, command+"\n"); err != nil {
		t.Fatalf("send: %v", err)
	}
	br := bufio.NewReader(client)
	status, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	status = strings.TrimSuffix(status, "\n")
	if parts := strings.Fields(status); len(parts) == 3 && parts[0] == "ok" {
		n, err := strconv.Atoi(parts[2])
		if err != nil {
			t.Fatalf("bad length in %q", status)
		}
		body = make([]byte, n)
		if _, err := io.ReadFull(br, body); err != nil {
			t.Fatalf("read body: %v", err)
		}
	}
	client.Close()
	<-done
	return status, body
}

func newTestServer(t *testing.T, src StateSource) *Server {
	t.Helper()
	s, err := NewServer(src)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func TestDumpNodesJSON(t *testing.T) {
	src := &fakeSource{nodes: []NodeDump{
		{Name: "B", Address: "203.0.113.5:51820", Version: 10, Reachable: true},
	}}
	s := newTestServer(t, src)

	status, body := roundtrip(t, s, "dump nodes")
	if !strings.HasPrefix(status, "ok application/json ") {
		t.Fatalf("status = %q", status)
	}
	var out []NodeDump
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 1 || out[0] != src.nodes[0] {
		t.Fatalf("dump = %+v", out)
	}
}

func TestDumpConnectionsCBOR(t *testing.T) {
	src := &fakeSource{conns: []ConnDump{
		{Name: "B", Hostname: "b.example", Outgoing: true, QueueLen: 42},
	}}
	s := newTestServer(t, src)

	status, body := roundtrip(t, s, "dump connections cbor")
	if !strings.HasPrefix(status, "ok application/cbor ") {
		t.Fatalf("status = %q", status)
	}
	if len(body) == 0 {
		t.Fatal("empty body")
	}
}

func TestUnknownCommand(t *testing.T) {
	s := newTestServer(t, &fakeSource{})
	for _, cmd := range []string{"reboot", "dump everything", "dump nodes xml"} {
		status, _ := roundtrip(t, s, cmd)
		if !strings.HasPrefix(status, "err ") {
			t.Fatalf("%q status = %q", cmd, status)
		}
	}
}

func TestClientAgainstUnixSocket(t *testing.T) {
	src := &fakeSource{nodes: []NodeDump{{Name: "B", Version: 10}}}
	s := newTestServer(t, src)

	socket := t.TempDir() + "/admin.sock"
	ln, err := Listen(socket)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go s.Serve(ln)
	defer s.Close()

	body, contentType, err := Request(socket, "dump nodes")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if contentType != "application/json" {
		t.Fatalf("content type = %q", contentType)
	}
	var out []NodeDump
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 1 || out[0].Name != "B" {
		t.Fatalf("dump = %+v", out)
	}

	if _, _, err := Request(socket, "bogus"); err == nil {
		t.Fatal("error reply not surfaced")
	}
}
