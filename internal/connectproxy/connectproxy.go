// Package connectproxy implements the CONNECT handler (C7): the HTTPS
// leg of the forward proxy. A raw TCP tunnel is opened for every
// destination port except 443; port 443 is terminated locally with a
// static certificate so the embedded HTTP request inside the TLS
// session can still be retried and load-balanced like a plain request.
package connectproxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/domain"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/httpconn"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/socks5"
)

const (
	tlsTerminationPort = "443"
	maxTunnelAttempts  = 20
	tunnelBufferSize   = 8 * 1024
	inactivityTimeout  = 60 * time.Second
)

// registry is the narrow view of *registry.Registry the CONNECT handler
// depends on for raw-tunnel proxy selection.
type registry interface {
	GetNext() (domain.Descriptor, bool)
	AvailableCount() int
}

// dispatcher is satisfied by *dispatcher.Dispatcher; it is what the
// TLS-terminated path forwards the embedded HTTP request through.
type dispatcher interface {
	Dispatch(w http.ResponseWriter, req *http.Request)
}

// Handler serves CONNECT requests hijacked off a plain-HTTP listener.
type Handler struct {
	registry   registry
	dispatcher dispatcher
	logger     *slog.Logger

	certFile string
	keyFile  string

	connectTimeout time.Duration

	tlsConfigOnce sync.Once
	tlsConfig     *tls.Config
	tlsConfigErr  error
}

func New(reg registry, disp dispatcher, certFile, keyFile string, connectTimeout time.Duration, logger *slog.Logger) *Handler {
	if connectTimeout <= 0 {
		connectTimeout = 15 * time.Second
	}
	return &Handler{
		registry:       reg,
		dispatcher:     disp,
		certFile:       certFile,
		keyFile:        keyFile,
		connectTimeout: connectTimeout,
		logger:         logger,
	}
}

// Handle services one CONNECT request on a hijacked client connection.
// req.Host carries the "host:port" target, per RFC 7231 §4.3.6. clientConn
// is already hijacked and owned by the caller; Handle closes it before
// returning.
func (h *Handler) Handle(ctx context.Context, clientConn net.Conn, req *http.Request) {
	defer clientConn.Close()

	if req.Method != http.MethodConnect {
		writeRawError(clientConn, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	host, port, err := net.SplitHostPort(req.Host)
	if err != nil {
		writeRawError(clientConn, http.StatusBadRequest, "Bad Request: missing port")
		return
	}

	if port == tlsTerminationPort {
		h.handleTLSTermination(ctx, clientConn, net.JoinHostPort(host, port))
		return
	}
	h.handleRawTunnel(ctx, clientConn, net.JoinHostPort(host, port))
}

// handleRawTunnel opens a SOCKS5 tunnel to dest through an available
// proxy, retrying across proxies on dial failure, then copies bytes in
// both directions until either side closes or the connection idles out.
func (h *Handler) handleRawTunnel(ctx context.Context, clientConn net.Conn, dest string) {
	attempts := maxTunnelAttempts
	if avail := h.registry.AvailableCount(); avail > 0 && avail < attempts {
		attempts = avail
	}

	var upstream net.Conn
	for attempt := 0; attempt < attempts; attempt++ {
		descriptor, ok := h.registry.GetNext()
		if !ok {
			break
		}
		conn, err := socks5.Dial(ctx, descriptor.Key(), dest, socks5.Auth{
			Username: descriptor.Username,
			Password: descriptor.Password,
		}, h.withConnectTimeout)
		if err != nil {
			h.logger.Debug("raw tunnel dial failed", "proxy", descriptor.Key(), "dest", dest, "error", err)
			continue
		}
		upstream = conn
		break
	}

	if upstream == nil {
		writeRawError(clientConn, http.StatusBadGateway, "Bad Gateway")
		return
	}
	defer upstream.Close()

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	tunnel(clientConn, upstream, inactivityTimeout)
}

// handleTLSTermination terminates TLS locally using the configured
// certificate, then reads and forwards each embedded HTTP request
// through the Dispatcher, ALPN-negotiated to http/1.1 only.
func (h *Handler) handleTLSTermination(ctx context.Context, clientConn net.Conn, host string) {
	cfg, err := h.loadTLSConfig()
	if err != nil {
		h.logger.Error("tls termination unavailable", "error", err)
		writeRawError(clientConn, http.StatusBadGateway, "Bad Gateway")
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	tlsConn := tls.Server(clientConn, cfg)
	defer tlsConn.Close()

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		h.logger.Debug("tls handshake failed", "host", host, "error", err)
		return
	}

	reader := bufio.NewReader(tlsConn)
	bw := bufio.NewWriter(tlsConn)

	for {
		tlsConn.SetReadDeadline(time.Now().Add(inactivityTimeout))
		req, err := http.ReadRequest(reader)
		if err != nil {
			return
		}
		tlsConn.SetReadDeadline(time.Time{})

		req.URL.Scheme = "https"
		req.URL.Host = host
		if req.Host == "" {
			req.Host = host
		}

		w := httpconn.NewWriter(bw)
		h.dispatcher.Dispatch(w, req)
		bw.Flush()

		if !httpconn.KeepAlive(req) {
			return
		}
	}
}

func (h *Handler) loadTLSConfig() (*tls.Config, error) {
	h.tlsConfigOnce.Do(func() {
		cert, err := tls.LoadX509KeyPair(h.certFile, h.keyFile)
		if err != nil {
			h.tlsConfigErr = fmt.Errorf("load tls termination cert: %w", err)
			return
		}
		h.tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"http/1.1"},
			MinVersion:   tls.VersionTLS12,
		}
	})
	return h.tlsConfig, h.tlsConfigErr
}

// withConnectTimeout bounds each SOCKS5 CONNECT attempt to h.connectTimeout.
func (h *Handler) withConnectTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.connectTimeout)
}

// tunnel copies bytes between client and upstream until both directions
// finish, resetting an inactivity deadline on every byte transferred.
func tunnel(client, upstream net.Conn, idle time.Duration) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		copyWithDeadline(upstream, client, idle)
		if tc, ok := upstream.(interface{ CloseWrite() error }); ok {
			tc.CloseWrite()
		}
	}()
	go func() {
		defer wg.Done()
		copyWithDeadline(client, upstream, idle)
		if tc, ok := client.(interface{ CloseWrite() error }); ok {
			tc.CloseWrite()
		}
	}()
	wg.Wait()
}

func copyWithDeadline(dst net.Conn, src net.Conn, idle time.Duration) {
	buf := make([]byte, tunnelBufferSize)
	for {
		src.SetReadDeadline(time.Now().Add(idle))
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func writeRawError(conn net.Conn, status int, message string) {
	fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, http.StatusText(status), len(message), message)
}
