package dispatcher

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/domain"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/socks5"
)

// NewClientFactory returns the function the registry uses to build a
// fresh pooled http.Client when a proxy's session pool is empty: one
// http.Transport per proxy, not per request, dialing upstream through a
// socks5.Dialer bound to that proxy's descriptor.
//
// Upstream certificate validation is disabled: the proxy is frequently
// chained through anonymizing networks whose exit nodes terminate TLS
// with self-signed or otherwise unverifiable certificates.
func NewClientFactory(connectTimeout, responseTimeout time.Duration) func(domain.Descriptor) *http.Client {
	return func(d domain.Descriptor) *http.Client {
		dialer := socks5.NewDialer(d.Key(), socks5.Auth{Username: d.Username, Password: d.Password}, connectTimeout)
		transport := &http.Transport{
			DialContext:         dialer.DialContext,
			DisableCompression:  false,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		}
		return &http.Client{
			Transport: transport,
			Timeout:   responseTimeout,
		}
	}
}
