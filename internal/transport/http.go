// Package transport executes a request.Spec as a blocking HTTP call.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/zep-us/httpjobs/internal/request"
	"github.com/zep-us/httpjobs/pkg/logger"
)

const tracerName = "github.com/zep-us/httpjobs/internal/transport"

// Defaults applied when Options leaves a field unset
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultUserAgent      = "httpjobs/1.0"
	DefaultMaxRedirects   = 10
	DefaultMaxBodyBytes   = 10 * 1024 * 1024
)

// Options configures an HTTP transport
type Options struct {
	ConnectTimeout time.Duration // per-request override: Spec.ConnectTimeout
	RequestTimeout time.Duration // per-request override: Spec.RequestTimeout
	UserAgent      string
	CertsDir       string // relative CA file paths are resolved here
	MaxBodyBytes   int64  // response bodies are truncated beyond this
	MaxRedirects   int
	RateLimit      float64 // requests per second across all jobs, 0 disables
	RateBurst      int
	TracerProvider trace.TracerProvider // nil uses the global provider
}

// HTTP executes request specs over net/http.
// It is safe for concurrent use.
type HTTP struct {
	opts    Options
	limiter *rate.Limiter
	tracer  trace.Tracer
	log     *logger.Logger

	mu      sync.Mutex
	clients map[clientKey]*http.Client
}

// NewHTTP creates an HTTP transport, filling defaults for unset options
func NewHTTP(opts Options) *HTTP {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	t := &HTTP{
		opts:    opts,
		tracer:  tp.Tracer(tracerName),
		log:     logger.Named("transport"),
		clients: make(map[clientKey]*http.Client),
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
		t.log.Info("Rate limit enabled: %.2f req/s, burst %d", opts.RateLimit, burst)
	}
	return t
}

// Execute performs spec and blocks until the response is read, the request times out or ctx is done.
// Any non-nil error is an *Error.
func (t *HTTP) Execute(ctx context.Context, spec *request.Spec) (*request.Response, error) {
	method := spec.EffectiveMethod()

	ctx, span := t.tracer.Start(ctx, "HTTP "+string(method), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.request.method", string(method)),
		attribute.String("url.full", spec.URL),
		attribute.String("httpjobs.auth", spec.Auth.Type.String()),
	)

	resp, err := t.execute(ctx, spec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Int("httpjobs.failure_code", err.Code))
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 500 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	return resp, nil
}

func (t *HTTP) execute(ctx context.Context, spec *request.Spec) (*request.Response, *Error) {
	timeout := t.opts.RequestTimeout
	if spec.RequestTimeout > 0 {
		timeout = spec.RequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			if ctx.Err() == nil {
				// the limiter refuses early when the deadline cannot be met
				return nil, newError(CodeTimeout, "ratelimit", err)
			}
			return nil, classify(ctx, err)
		}
	}

	client, err := t.client(spec)
	if err != nil {
		return nil, err
	}

	req, err := t.newRequest(ctx, spec)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, doErr := client.Do(req)
	if doErr != nil {
		te := classify(ctx, doErr)
		t.log.Debug("%s %s failed after %v: %v", req.Method, spec.URL, time.Since(start), te)
		return nil, te
	}
	defer res.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(res.Body, t.opts.MaxBodyBytes+1))
	if readErr != nil {
		return nil, classify(ctx, readErr)
	}
	if int64(len(body)) > t.opts.MaxBodyBytes {
		t.log.Warn("Response body from %s truncated to %d bytes", spec.URL, t.opts.MaxBodyBytes)
		body = body[:t.opts.MaxBodyBytes]
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		t.log.Warn("%s %s returned %d", req.Method, spec.URL, res.StatusCode)
	}

	return &request.Response{
		StatusCode: res.StatusCode,
		Header:     headerPairs(res.Header),
		Body:       body,
	}, nil
}

func (t *HTTP) newRequest(ctx context.Context, spec *request.Spec) (*http.Request, *Error) {
	method := string(spec.EffectiveMethod())

	var (
		payload     []byte
		contentType string
	)
	switch {
	case len(spec.Fields) > 0:
		var err *Error
		payload, contentType, err = encodeMultipart(spec.Fields)
		if err != nil {
			return nil, err
		}
	case len(spec.Body) > 0:
		payload = spec.Body
		contentType = spec.EffectiveContentType()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, spec.URL, body)
	if err != nil {
		return nil, newError(CodeMalformedURL, "request", err)
	}

	ua := t.opts.UserAgent
	if spec.UserAgent != "" {
		ua = spec.UserAgent
	}
	req.Header.Set("User-Agent", ua)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, h := range spec.Headers {
		req.Header.Add(h.Name, h.Value)
	}

	if spec.Auth.Enabled() {
		switch spec.Auth.Type {
		case request.AuthBasic:
			user, pass := spec.Auth.UserPassword()
			req.SetBasicAuth(user, pass)
		case request.AuthBearer:
			req.Header.Set("Authorization", "Bearer "+spec.Auth.Credentials)
		}
	}
	return req, nil
}

// client returns the cached client for spec's connection settings, wrapped for digest auth when needed
func (t *HTTP) client(spec *request.Spec) (*http.Client, *Error) {
	key := clientKey{
		tls:     spec.TLS,
		proxy:   spec.Proxy,
		connect: t.opts.ConnectTimeout,
	}
	if spec.ConnectTimeout > 0 {
		key.connect = spec.ConnectTimeout
	}

	t.mu.Lock()
	c, ok := t.clients[key]
	if !ok {
		rt, err := t.buildTransport(key)
		if err != nil {
			t.mu.Unlock()
			return nil, err
		}
		c = &http.Client{Transport: rt, CheckRedirect: t.checkRedirect}
		t.clients[key] = c
		t.log.Debug("Created HTTP client %d (proxy=%q, connect=%v)", len(t.clients), key.proxy.URL, key.connect)
	}
	t.mu.Unlock()

	if !spec.Auth.Enabled() {
		return c, nil
	}
	switch spec.Auth.Type {
	case request.AuthDigest, request.AuthAny:
		user, pass := spec.Auth.UserPassword()
		wrapped := *c
		wrapped.Transport = authTransport(spec.Auth.Type, user, pass, c.Transport)
		return &wrapped, nil
	}
	return c, nil
}

func (t *HTTP) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= t.opts.MaxRedirects {
		return newError(CodeTooManyRedirects, "redirect", fmt.Errorf("stopped after %d redirects", len(via)))
	}
	return nil
}

// CloseIdleConnections releases pooled connections of every cached client
func (t *HTTP) CloseIdleConnections() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.clients {
		c.CloseIdleConnections()
	}
}

// headerPairs flattens response headers into name/value pairs sorted by name
func headerPairs(h http.Header) []request.Header {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]request.Header, 0, len(names))
	for _, name := range names {
		for _, v := range h[name] {
			pairs = append(pairs, request.Header{Name: name, Value: v})
		}
	}
	return pairs
}

// AsError extracts the *Error from err, classifying anything else as a receive error
func AsError(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return newError(CodeReceiveError, "request", err)
}
