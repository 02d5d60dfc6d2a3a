// File: internal/network/httpclient.go
package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Constants for default optimized TCP/HTTP settings.
const (
	DefaultDialTimeout           = 5 * time.Second
	DefaultKeepAliveInterval     = 15 * time.Second
	DefaultTLSHandshakeTimeout   = 5 * time.Second
	DefaultResponseHeaderTimeout = 10 * time.Second
	DefaultRequestTimeout        = 30 * time.Second

	// Connection Pool Configuration tuned for scanning workloads.
	DefaultMaxIdleConns        = 100
	DefaultMaxIdleConnsPerHost = 20
	DefaultMaxConnsPerHost     = 50
	DefaultIdleConnTimeout     = 30 * time.Second

	DefaultMaxConcurrency = 20
	DefaultMaxBodySize    = 10 << 20
)

// ErrClientClosed is returned when queueing on a client that has been closed.
var ErrClientClosed = errors.New("http client is closed")

// ClientConfig holds the configuration for the HTTP client and transport layers.
type ClientConfig struct {
	IgnoreTLSErrors bool

	RequestTimeout        time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	ForceHTTP2 bool

	// RateLimit caps outbound requests per second. Zero disables limiting.
	RateLimit float64
	Burst     int
	// MaxConcurrency bounds the number of queued requests in flight.
	MaxConcurrency int64
	MaxBodySize    int64

	// Headers are added to every request unless the request sets them itself.
	Headers map[string]string

	// Custom404Threshold is the simhash distance under which a body is
	// considered the same as the site's not-found page.
	Custom404Threshold int

	Logger *zap.Logger
}

// NewDefaultClientConfig creates a configuration optimized for general-purpose scanning.
func NewDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		RequestTimeout:        DefaultRequestTimeout,
		DialTimeout:           DefaultDialTimeout,
		KeepAlive:             DefaultKeepAliveInterval,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		MaxConnsPerHost:       DefaultMaxConnsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		ForceHTTP2:            true,
		MaxConcurrency:        DefaultMaxConcurrency,
		MaxBodySize:           DefaultMaxBodySize,
		Custom404Threshold:    DefaultCustom404Threshold,
		Logger:                zap.NewNop(),
	}
}

// Client performs audit traffic. It is safe for concurrent use by multiple
// goroutines. Synchronous requests go through Do; fire-and-forget requests
// go through Queue and report back through a Callback.
type Client struct {
	http    *http.Client
	cfg     ClientConfig
	logger  *zap.Logger
	limiter *rate.Limiter
	sem     *semaphore.Weighted

	notFound *custom404Detector

	// mu orders closed against wg.Add so Close never races a new Queue.
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewHTTPTransport creates and configures an http.Transport based on the provided configuration.
func NewHTTPTransport(config *ClientConfig) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   config.DialTimeout,
		KeepAlive: config.KeepAlive,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       configureTLS(config),
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     config.ForceHTTP2,
	}

	if config.ForceHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			config.Logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
		}
	}
	return transport
}

// NewClient creates a client using the configured transport.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = NewDefaultClientConfig()
	}
	cfg := *config
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}

	c := &Client{
		http: &http.Client{
			Transport: NewHTTPTransport(&cfg),
			Timeout:   cfg.RequestTimeout,
			// Redirects are findings in their own right; never follow them blindly.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cfg:    cfg,
		logger: cfg.Logger.Named("httpclient"),
		sem:    semaphore.NewWeighted(cfg.MaxConcurrency),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	c.notFound = newCustom404Detector(c, cfg.Custom404Threshold, c.logger)
	return c
}

// Do performs req synchronously and reads the whole body.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from %s: %w", req.URL, err)
	}

	return &Response{
		URL:        req.URL,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       string(body),
		Time:       time.Since(start),
		Request:    req,
	}, nil
}

// Queue dispatches req in the background and invokes cb on completion. An
// error means the request could not be dispatched at all and cb will not run.
func (c *Client) Queue(ctx context.Context, req *Request, cb Callback) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Validate up front so that malformed requests fail the dispatch rather than the callback.
	if _, err := c.build(ctx, req); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if err := c.sem.Acquire(ctx, 1); err != nil {
			cb(nil, err)
			return
		}
		defer c.sem.Release(1)

		resp, err := c.Do(ctx, req)
		if err != nil {
			c.logger.Debug("Queued request failed.", zap.String("url", req.URL), zap.Error(err))
		}
		cb(resp, err)
	}()
	return nil
}

// Wait blocks until every queued request has completed and its callback returned.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close rejects further queued requests, waits for in-flight ones and releases idle connections.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
	c.http.CloseIdleConnections()
}

// IsCustom404 reports whether resp is the site's not-found page, including
// not-found pages served with a 200 status.
func (c *Client) IsCustom404(ctx context.Context, resp *Response) bool {
	return c.notFound.isCustom404(ctx, resp)
}

func (c *Client) build(ctx context.Context, req *Request) (*http.Request, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("invalid request for %q: %w", req.URL, err)
	}
	if httpReq.URL.Scheme == "" || httpReq.URL.Host == "" {
		return nil, fmt.Errorf("invalid request for %q: absolute URL required", req.URL)
	}
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, vs := range req.Headers {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	return httpReq, nil
}

// configureTLS sets up the TLS configuration with strong defaults.
func configureTLS(config *ClientConfig) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ClientSessionCache: tls.NewLRUClientSessionCache(512),
		// Targets routinely run with self-signed certificates in test environments.
		InsecureSkipVerify: config.IgnoreTLSErrors,
	}
}
