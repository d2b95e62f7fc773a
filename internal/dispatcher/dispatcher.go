// Package dispatcher implements the Request Dispatcher (C6): the plain
// HTTP hot path that borrows a SOCKS5-tunneled client from the registry,
// forwards a request, streams the response back, and retries across
// alternate proxies on 429 or transport failure.
package dispatcher

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/domain"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/pkg/pool"
)

const (
	maxAttempts       = 20
	streamChunkSize   = 8 * 1024
	fewProxyThreshold = 10
)

// registry is the narrow view of *registry.Registry the dispatcher
// depends on.
type registry interface {
	GetNext() (domain.Descriptor, bool)
	AvailableCount() int
	BorrowClient(key string) (*http.Client, bool)
	ReturnClient(key string, client *http.Client)
	MarkSuccess(key string)
	MarkOtherStatus(key string)
	MarkFailure(key string)
	MarkOverloaded(key string)
}

// Dispatcher forwards already-parsed plain HTTP requests to an upstream
// origin through a rotating set of SOCKS5 proxies.
type Dispatcher struct {
	registry   registry
	bufferPool *pool.Pool[*[]byte]
	logger     *slog.Logger
}

func New(reg registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		bufferPool: pool.NewLitePool(func() *[]byte {
			buf := make([]byte, streamChunkSize)
			return &buf
		}),
		logger: logger,
	}
}

// outcome classifies one forwarding attempt.
type outcome int

const (
	outcomeForwarded outcome = iota
	outcomeOverloaded
	outcomeFailure
)

// Dispatch forwards req to an upstream proxy and writes the result to w.
// It never returns an error: every failure path writes a response
// (503/502/429) and the canonical user-visible phrase, per §4.6.
func (d *Dispatcher) Dispatch(w http.ResponseWriter, req *http.Request) {
	req.Header = sanitizeRequestHeaders(req.Header)

	requestID := uuid.NewString()
	reqLogger := d.logger.With("request_id", requestID, "method", req.Method, "url", req.URL.String())

	attempts := maxAttempts
	if avail := d.registry.AvailableCount(); avail > 0 && avail < attempts {
		attempts = avail
	}

	var lastWas429 bool
	var lastWasTransportFailure bool

	for attempt := 0; attempt < attempts; attempt++ {
		descriptor, ok := d.registry.GetNext()
		if !ok {
			reqLogger.Warn("no available proxy", "attempt", attempt)
			writeErrorResponse(w, http.StatusServiceUnavailable, "Service Unavailable")
			return
		}
		key := descriptor.Key()

		client, ok := d.registry.BorrowClient(key)
		if !ok {
			reqLogger.Warn("session pool exhausted", "proxy", key, "attempt", attempt)
			writeErrorResponse(w, http.StatusBadGateway, "Bad Gateway")
			return
		}

		result := d.attempt(req, client)
		switch result.outcome {
		case outcomeForwarded:
			reqLogger.Debug("forwarded", "proxy", key, "attempt", attempt, "status", result.resp.StatusCode)
			d.classifyAndRelay(w, key, client, result)
			return
		case outcomeOverloaded:
			lastWas429 = true
			lastWasTransportFailure = false
			reqLogger.Debug("upstream overloaded", "proxy", key, "attempt", attempt)
			d.registry.MarkOverloaded(key)
			d.registry.ReturnClient(key, client)
			continue
		case outcomeFailure:
			lastWas429 = false
			lastWasTransportFailure = true
			reqLogger.Warn("transport failure", "proxy", key, "attempt", attempt)
			d.registry.MarkFailure(key)
			// Do not pool a client that just failed a transport-level
			// operation — it may be wedged.
			continue
		}
	}

	switch {
	case lastWasTransportFailure:
		reqLogger.Error("exhausted retries, last attempt was a transport failure")
		writeErrorResponse(w, http.StatusBadGateway, "Bad Gateway")
	case lastWas429 && d.registry.AvailableCount() < fewProxyThreshold:
		reqLogger.Warn("exhausted retries under 429 backpressure")
		writeErrorResponse(w, http.StatusTooManyRequests, "Too Many Requests")
	default:
		reqLogger.Error("exhausted retries, no available proxy")
		writeErrorResponse(w, http.StatusServiceUnavailable, "Service Unavailable")
	}
}

type attemptResult struct {
	outcome outcome
	resp    *http.Response
}

func (d *Dispatcher) attempt(req *http.Request, client *http.Client) attemptResult {
	outReq := req.Clone(req.Context())
	outReq.RequestURI = ""

	resp, err := client.Do(outReq)
	if err != nil {
		return attemptResult{outcome: outcomeFailure}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		return attemptResult{outcome: outcomeOverloaded}
	}
	return attemptResult{outcome: outcomeForwarded, resp: resp}
}

// classifyAndRelay handles a response that was successfully obtained
// (non-429): marks the registry outcome, streams the body, and returns
// the client to its pool.
func (d *Dispatcher) classifyAndRelay(w http.ResponseWriter, key string, client *http.Client, result attemptResult) {
	resp := result.resp
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		d.registry.MarkSuccess(key)
	} else {
		d.registry.MarkOtherStatus(key)
	}

	header := w.Header()
	for k, v := range filterResponseHeaders(resp.Header) {
		header[k] = v
	}
	w.WriteHeader(resp.StatusCode)

	// Success/other-status has already been recorded against the proxy
	// above; a broken-pipe/connection-reset partway through streaming is
	// a client-side event and never reclassifies the proxy as failed.
	_ = d.stream(w, resp.Body)
	d.registry.ReturnClient(key, client)
}

// stream copies src to w in fixed-size chunks, flushing after each one
// so long-lived responses are not buffered whole.
func (d *Dispatcher) stream(w http.ResponseWriter, src io.Reader) error {
	bufPtr := d.bufferPool.Get()
	defer d.bufferPool.Put(bufPtr)
	buf := *bufPtr

	flusher, _ := w.(http.Flusher)

	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, phrase string) {
	w.WriteHeader(status)
	_, _ = w.Write([]byte(phrase))
}
