package socks5

import (
	"context"
	"net"
	"time"
)

// Dialer binds a fixed upstream SOCKS5 proxy address and credentials so
// it can be used directly as an http.Transport's DialContext: every
// dialed "network, addr" pair becomes a CONNECT through this proxy to
// addr, regardless of what the caller passes as network.
type Dialer struct {
	ProxyAddr      string
	Auth           Auth
	ConnectTimeout time.Duration
}

func NewDialer(proxyAddr string, auth Auth, connectTimeout time.Duration) *Dialer {
	return &Dialer{ProxyAddr: proxyAddr, Auth: auth, ConnectTimeout: connectTimeout}
}

// DialContext satisfies the signature expected by http.Transport.DialContext.
func (d *Dialer) DialContext(ctx context.Context, _, addr string) (net.Conn, error) {
	return Dial(ctx, d.ProxyAddr, addr, d.Auth, d.withTimeout)
}

func (d *Dialer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
