package connectproxy

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/domain"
)

type fakeRegistry struct {
	descriptors []domain.Descriptor
	index       int
}

func (r *fakeRegistry) GetNext() (domain.Descriptor, bool) {
	if r.index >= len(r.descriptors) {
		return domain.Descriptor{}, false
	}
	d := r.descriptors[r.index]
	r.index++
	return d, true
}

func (r *fakeRegistry) AvailableCount() int { return len(r.descriptors) - r.index }

// startEchoSocks5Server accepts a single RFC 1928 no-auth CONNECT, replies
// success, then echoes everything it reads back to the caller.
func startEchoSocks5Server(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		header := make([]byte, 2)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		io.ReadFull(conn, make([]byte, header[1]))
		conn.Write([]byte{0x05, 0x00})

		req := make([]byte, 4)
		if _, err := io.ReadFull(conn, req); err != nil {
			return
		}
		switch req[3] {
		case 0x01:
			io.ReadFull(conn, make([]byte, 4+2))
		case 0x03:
			lb := make([]byte, 1)
			io.ReadFull(conn, lb)
			io.ReadFull(conn, make([]byte, int(lb[0])+2))
		case 0x04:
			io.ReadFull(conn, make([]byte, 16+2))
		}

		reply := []byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
		binary.BigEndian.PutUint16(reply[8:], 0)
		conn.Write(reply)

		io.Copy(conn, conn)
	}()

	return ln.Addr().String()
}

func TestHandle_NonConnectMethod(t *testing.T) {
	h := New(&fakeRegistry{}, nil, "", "", 0, slog.Default())
	client, server := net.Pipe()
	defer client.Close()

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.Host = "example.com:80"

	go h.Handle(context.Background(), server, req)

	buf := make([]byte, 512)
	n, _ := client.Read(buf)
	if got := string(buf[:n]); got == "" || got[:15] != "HTTP/1.1 405 Me" {
		t.Fatalf("expected 405 response, got %q", got)
	}
}

func TestHandle_MissingPortIsBadRequest(t *testing.T) {
	h := New(&fakeRegistry{}, nil, "", "", 0, slog.Default())
	client, server := net.Pipe()
	defer client.Close()

	req := httptest.NewRequest(http.MethodConnect, "http://example.com/", nil)
	req.Host = "example.com"

	go h.Handle(context.Background(), server, req)

	buf := make([]byte, 512)
	n, _ := client.Read(buf)
	if got := string(buf[:n]); got == "" || got[:15] != "HTTP/1.1 400 Ba" {
		t.Fatalf("expected 400 response, got %q", got)
	}
}

func TestHandleRawTunnel_EstablishesAndForwardsBytes(t *testing.T) {
	socksAddr := startEchoSocks5Server(t)
	reg := &fakeRegistry{descriptors: []domain.Descriptor{descriptorFromAddr(socksAddr)}}

	h := New(reg, nil, "", "", 0, slog.Default())
	client, server := net.Pipe()

	req := httptest.NewRequest(http.MethodConnect, "http://example.com/", nil)
	req.Host = "example.com:80"

	go h.Handle(context.Background(), server, req)

	established := make([]byte, 64)
	n, err := client.Read(established)
	if err != nil {
		t.Fatalf("read established line: %v", err)
	}
	if string(established[:n]) != "HTTP/1.1 200 Connection Established\r\n\r\n" {
		t.Fatalf("unexpected established line: %q", established[:n])
	}

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := make([]byte, 4)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(client, out); err != nil {
		t.Fatalf("expected echoed bytes, got error: %v", err)
	}
	if string(out) != "ping" {
		t.Fatalf("expected echo of 'ping', got %q", out)
	}
	client.Close()
}

func descriptorFromAddr(addr string) domain.Descriptor {
	host, portStr, _ := net.SplitHostPort(addr)
	var port int
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}
	return domain.Descriptor{Host: host, Port: port}
}

func TestHandleRawTunnel_NoAvailableProxyIsBadGateway(t *testing.T) {
	h := New(&fakeRegistry{}, nil, "", "", 0, slog.Default())
	client, server := net.Pipe()
	defer client.Close()

	req := httptest.NewRequest(http.MethodConnect, "http://example.com/", nil)
	req.Host = "example.com:80"

	go h.Handle(context.Background(), server, req)

	buf := make([]byte, 512)
	n, _ := client.Read(buf)
	if got := string(buf[:n]); got == "" || got[:15] != "HTTP/1.1 502 Ba" {
		t.Fatalf("expected 502 response, got %q", got)
	}
}

func TestHandleTLSTermination_ForwardsEmbeddedRequest(t *testing.T) {
	certFile, keyFile := writeSelfSignedCert(t)

	var gotHost string
	dispatchFunc := dispatchFuncAdapter(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.URL.Host
		w.Header().Set("Content-Length", "2")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	h := New(&fakeRegistry{}, dispatchFunc, certFile, keyFile, 0, slog.Default())
	client, server := net.Pipe()

	req := httptest.NewRequest(http.MethodConnect, "http://example.com/", nil)
	req.Host = "example.com:443"

	go h.Handle(context.Background(), server, req)

	established := make([]byte, 64)
	n, err := client.Read(established)
	if err != nil {
		t.Fatalf("read established line: %v", err)
	}
	if string(established[:n]) != "HTTP/1.1 200 Connection Established\r\n\r\n" {
		t.Fatalf("unexpected established line: %q", established[:n])
	}

	tlsClient := tls.Client(client, &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"http/1.1"}})
	defer tlsClient.Close()

	reqLine := "GET /path HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"
	if _, err := tlsClient.Write([]byte(reqLine)); err != nil {
		t.Fatalf("write embedded request: %v", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(tlsClient), nil)
	if err != nil {
		t.Fatalf("read embedded response: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("expected body 'ok', got %q", body)
	}
	if gotHost != "example.com:443" {
		t.Fatalf("expected dispatcher to see host example.com:443, got %q", gotHost)
	}
}

type dispatchFuncAdapter func(w http.ResponseWriter, r *http.Request)

func (f dispatchFuncAdapter) Dispatch(w http.ResponseWriter, r *http.Request) { f(w, r) }

func writeSelfSignedCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"example.com"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	certF, err := os.CreateTemp(t.TempDir(), "cert-*.pem")
	if err != nil {
		t.Fatalf("temp cert file: %v", err)
	}
	certF.Write(certPEM)
	certF.Close()

	keyF, err := os.CreateTemp(t.TempDir(), "key-*.pem")
	if err != nil {
		t.Fatalf("temp key file: %v", err)
	}
	keyF.Write(keyPEM)
	keyF.Close()

	return certF.Name(), keyF.Name()
}
