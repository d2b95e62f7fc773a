package dispatcher

import (
	"net/http"
	"strings"
)

// requestStripHeaders are the hop-by-hop and proxy-trace headers removed
// from every incoming request before it is forwarded upstream.
var requestStripHeaders = map[string]bool{
	"proxy-connection":      true,
	"proxy-authorization":   true,
	"via":                   true,
	"x-forwarded-for":       true,
	"x-forwarded-host":      true,
	"x-real-ip":             true,
	"x-proxy-authorization": true,
	"proxy-authenticate":    true,
	"x-forwarded-server":    true,
	"x-forwarded-port":      true,
	"forwarded":             true,
}

// responseStripHeaders are stripped from the origin's response before it
// is relayed to the client. x-forwarded- is a prefix match.
var responseStripHeaders = map[string]bool{
	"connection":         true,
	"transfer-encoding":  true,
	"via":                true,
	"x-real-ip":          true,
	"proxy-connection":   true,
	"proxy-authenticate": true,
	"server":             true,
}

func sanitizeRequestHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		if requestStripHeaders[strings.ToLower(k)] {
			continue
		}
		out[k] = v
	}
	return out
}

func filterResponseHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		lower := strings.ToLower(k)
		if responseStripHeaders[lower] || strings.HasPrefix(lower, "x-forwarded-") {
			continue
		}
		out[k] = v
	}
	return out
}
