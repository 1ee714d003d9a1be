package httpclient

import (
	"net"
	"net/http"
	"time"

	"github.com/smarttriage/platform/pkg/common/logger"
)

// New creates an HTTP client tuned for outbound service-to-service communication.
// The request id carried by the request context is forwarded as X-Request-ID.
func New(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: requestIDTransport{next: transport},
	}
}

type requestIDTransport struct {
	next http.RoundTripper
}

func (t requestIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if id := logger.RequestID(req.Context()); id != "" && req.Header.Get("X-Request-ID") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("X-Request-ID", id)
	}
	return t.next.RoundTrip(req)
}
