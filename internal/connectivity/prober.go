package connectivity

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/Asgard-Solutions/ironstag-sub000/internal/httpclient"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/logging"
)

// DefaultProbeTimeout bounds a single reachability probe.
const DefaultProbeTimeout = 2 * time.Second

// Prober answers whether the remote side looks reachable right now.
type Prober interface {
	Probe(ctx context.Context) bool
}

// HTTPProber probes by issuing a HEAD request against a health URL. Any
// 2xx/3xx answer counts as online; errors, timeouts and server-side
// failures count as offline.
type HTTPProber struct {
	url    string
	client *http.Client
	logger logging.Logger
}

// NewHTTPProber builds a prober for the given health URL.
func NewHTTPProber(url string, timeout time.Duration, logger logging.Logger) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HTTPProber{
		url:    url,
		client: httpclient.New(timeout, nil),
		logger: logging.OrNop(logger),
	}
}

// Probe reports reachability of the health URL.
func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.logger.Warn("Probe request for %s could not be built: %v", p.url, err)
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("Probe of %s failed: %v", p.url, err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusBadRequest
}

// ProberFunc adapts a plain function to the Prober interface.
type ProberFunc func(ctx context.Context) bool

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }
