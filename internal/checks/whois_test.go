package checks

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"
)

// startWHOISServer answers every query with body.
func startWHOISServer(t *testing.T, body string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = bufio.NewReader(c).ReadString('\n')
				_, _ = c.Write([]byte(body))
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestWHOISExpiry(t *testing.T) {
	addr := startWHOISServer(t, "Domain Name: EXAMPLE.COM\r\nRegistry Expiry Date: 2031-08-13T04:00:00Z\r\n")
	got, err := WHOISClient{Server: addr, Timeout: 2 * time.Second}.Expiry(context.Background(), "www.example.com")
	if err != nil {
		t.Fatalf("expiry: %v", err)
	}
	want := time.Date(2031, 8, 13, 4, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expiry = %s, expected %s", got, want)
	}
}

func TestExtractExpiryFormats(t *testing.T) {
	tests := map[string]string{
		"Registrar Registration Expiration Date: 2030-01-02T00:00:00Z": "2030-01-02",
		"paid-till: 2029-12-31":           "2029-12-31",
		"Expiration Date: 05-Mar-2028":    "2028-03-05",
		"   Expiry Date: 2027.07.01\nx: y": "2027-07-01",
	}
	for body, want := range tests {
		got, err := extractExpiry(body)
		if err != nil {
			t.Fatalf("extractExpiry(%q): %v", body, err)
		}
		if got.Format("2006-01-02") != want {
			t.Fatalf("extractExpiry(%q) = %s, expected %s", body, got, want)
		}
	}
	if _, err := extractExpiry("No match for domain"); err == nil {
		t.Fatalf("expected error without expiry line")
	}
}

func TestWHOISServerForDomain(t *testing.T) {
	if server, err := whoisServerForDomain("example.com"); err != nil || server != "whois.verisign-grs.com" {
		t.Fatalf("server = %q, %v", server, err)
	}
	if _, err := whoisServerForDomain("example.invalid"); err == nil {
		t.Fatalf("expected error for unknown suffix")
	}
}
