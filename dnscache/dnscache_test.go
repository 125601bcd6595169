package dnscache

import (
	"fmt"
	"net"
	"testing"
)

type fakeConn struct {
	net.Conn
	remote net.Addr
}

func (c fakeConn) RemoteAddr() net.Addr { return c.remote }
func (c fakeConn) Close() error         { return nil }

func addr(s string) net.Addr {
	a, err := net.ResolveTCPAddr("tcp", s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestDialCachesResolution(t *testing.T) {
	dials := 0
	wrapped := func(network, address string) (net.Conn, error) {
		dials++
		return fakeConn{remote: addr("93.184.216.34:80")}, nil
	}

	dial, err := Dial(wrapped, 100, false)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := dial("tcp", "example.com:80"); err != nil {
		t.Fatal(err)
	}
	if _, err := dial("tcp", "example.com:80"); err != nil {
		t.Fatal(err)
	}
	if dials != 2 {
		t.Fatalf("Expected 2 wrapped dials, got %v", dials)
	}
	// The second dial must have received the cached IP, not the hostname.
}

func TestDialUsesCachedIP(t *testing.T) {
	var lastAddr string
	wrapped := func(network, address string) (net.Conn, error) {
		lastAddr = address
		return fakeConn{remote: addr("93.184.216.34:80")}, nil
	}

	dial, _ := Dial(wrapped, 100, false)
	dial("tcp", "example.com:80")
	dial("tcp", "example.com:80")
	if lastAddr != "93.184.216.34:80" {
		t.Errorf("Second dial used %q, expected the cached IP", lastAddr)
	}
}

func TestDialCachesFailures(t *testing.T) {
	dials := 0
	wrapped := func(network, address string) (net.Conn, error) {
		dials++
		return nil, fmt.Errorf("no such host")
	}

	dial, _ := Dial(wrapped, 100, false)
	if _, err := dial("tcp", "dead.example:80"); err == nil {
		t.Fatal("Expected an error")
	}
	if _, err := dial("tcp", "dead.example:80"); err == nil {
		t.Fatal("Expected the cached error")
	}
	if dials != 1 {
		t.Errorf("Failure was not cached: %v dials", dials)
	}
}

func TestDialRefusesPrivate(t *testing.T) {
	wrapped := func(network, address string) (net.Conn, error) {
		return fakeConn{remote: addr("192.168.1.10:80")}, nil
	}

	dial, _ := Dial(wrapped, 100, true)
	if _, err := dial("tcp", "internal.example:80"); err == nil {
		t.Fatal("Expected a refusal for a private address")
	}

	// The refusal is remembered.
	if _, err := dial("tcp", "internal.example:80"); err == nil {
		t.Fatal("Expected the cached refusal")
	}
}

func TestIsPrivateAddr(t *testing.T) {
	tests := []struct {
		addr   string
		expect bool
	}{
		{"10.0.0.5:80", true},
		{"192.168.1.1:443", true},
		{"172.16.9.9:80", true},
		{"127.0.0.1:8080", true},
		{"93.184.216.34:80", false},
		{"8.8.8.8:53", false},
	}
	for _, tst := range tests {
		if got := isPrivateAddr(tst.addr); got != tst.expect {
			t.Errorf("isPrivateAddr(%q) = %v, expected %v", tst.addr, got, tst.expect)
		}
	}
}
