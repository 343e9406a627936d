package recognizer

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"
)

// TracedClient is an HTTP client that records per-phase timings of every request.
type TracedClient struct {
	client  *http.Client
	warmURL string
}

func NewTracedClient(warmURL string) *TracedClient {
	return &TracedClient{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
		warmURL: warmURL,
	}
}

type TracedResponse struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	Metrics    *NetworkMetrics
}

// phases holds the timestamps httptrace reports. The hooks fire on the
// transport's dial, write and read goroutines, so every access holds mu.
type phases struct {
	mu sync.Mutex

	getConn, gotConn           time.Time
	dnsStart, dnsDone          time.Time
	connStart, connDone        time.Time
	tlsStart, tlsDone          time.Time
	wroteHeaders, wroteRequest time.Time
	firstByte                  time.Time
	reused                     bool
	tlsProto                   string
}

func (p *phases) mark(t *time.Time) {
	now := time.Now()
	p.mu.Lock()
	*t = now
	p.mu.Unlock()
}

func (p *phases) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn: func(string) { p.mark(&p.getConn) },
		GotConn: func(info httptrace.GotConnInfo) {
			p.mark(&p.gotConn)
			p.mu.Lock()
			p.reused = info.Reused
			p.mu.Unlock()
		},
		DNSStart:          func(httptrace.DNSStartInfo) { p.mark(&p.dnsStart) },
		DNSDone:           func(httptrace.DNSDoneInfo) { p.mark(&p.dnsDone) },
		ConnectStart:      func(_, _ string) { p.mark(&p.connStart) },
		ConnectDone:       func(_, _ string, _ error) { p.mark(&p.connDone) },
		TLSHandshakeStart: func() { p.mark(&p.tlsStart) },
		TLSHandshakeDone: func(cs tls.ConnectionState, _ error) {
			p.mark(&p.tlsDone)
			p.mu.Lock()
			p.tlsProto = cs.NegotiatedProtocol
			p.mu.Unlock()
		},
		WroteHeaders:         func() { p.mark(&p.wroteHeaders) },
		WroteRequest:         func(httptrace.WroteRequestInfo) { p.mark(&p.wroteRequest) },
		GotFirstResponseByte: func() { p.mark(&p.firstByte) },
	}
}

// span is to minus from, or zero when either end was never reported.
func span(from, to time.Time) time.Duration {
	if from.IsZero() || to.IsZero() {
		return 0
	}
	return to.Sub(from)
}

// metrics turns the recorded timestamps into per-phase durations.
func (p *phases) metrics(start, end time.Time) *NetworkMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &NetworkMetrics{
		ConnWait:    span(p.getConn, p.gotConn),
		DNS:         span(p.dnsStart, p.dnsDone),
		TCP:         span(p.connStart, p.connDone),
		TLS:         span(p.tlsStart, p.tlsDone),
		ReqHeaders:  span(p.gotConn, p.wroteHeaders),
		ReqBody:     span(p.wroteHeaders, p.wroteRequest),
		TTFB:        span(p.wroteRequest, p.firstByte),
		Download:    span(p.firstByte, end),
		Total:       end.Sub(start),
		ConnReused:  p.reused,
		TLSProtocol: p.tlsProto,
	}
}

func (c *TracedClient) Do(req *http.Request) (*TracedResponse, error) {
	p := &phases{}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), p.trace()))
	reqStart := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &TracedResponse{
		Body:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Metrics:    p.metrics(reqStart, time.Now()),
	}, nil
}

// Warm opens a connection to the API host so the first recognition skips the
// handshake. It returns how long the TLS handshake took.
func (c *TracedClient) Warm(ctx context.Context) (time.Duration, error) {
	if c.warmURL == "" {
		return 0, nil
	}
	p := &phases{}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, p.trace()), http.MethodHead, c.warmURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return p.metrics(time.Time{}, time.Time{}).TLS, nil
}
