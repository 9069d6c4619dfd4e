// Package client is the caller-facing surface of the job engine: one cooperative ("async") and one
// threaded ("bg") dispatcher sharing a transport, plus synchronous Perform.
package client

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zep-us/httpjobs/internal/config"
	"github.com/zep-us/httpjobs/internal/dispatch"
	"github.com/zep-us/httpjobs/internal/request"
	"github.com/zep-us/httpjobs/internal/transport"
)

// Options sizes the two job families
type Options struct {
	AsyncCapacity     int
	AsyncBlockingTick bool
	BgCapacity        int
	BgPoolSize        int
	ShutdownGrace     time.Duration
}

// OptionsFromConfig maps application config to client options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		AsyncCapacity:     cfg.AsyncCapacity,
		AsyncBlockingTick: cfg.AsyncBlockingTick,
		BgCapacity:        cfg.BgCapacity,
		BgPoolSize:        cfg.BgPoolSize,
		ShutdownGrace:     cfg.ShutdownGrace(),
	}
}

// TransportFromConfig builds the HTTP transport described by cfg
func TransportFromConfig(cfg *config.Config) *transport.HTTP {
	return transport.NewHTTP(transport.Options{
		ConnectTimeout: cfg.ConnectTimeout(),
		RequestTimeout: cfg.RequestTimeout(),
		UserAgent:      cfg.UserAgent,
		CertsDir:       cfg.CertsDir,
		MaxBodyBytes:   cfg.MaxResponseBodyBytes(),
		RateLimit:      cfg.RateLimitPerSecond,
		RateBurst:      cfg.RateLimitBurst,
	})
}

// Client owns one dispatcher per family. IDs are per family, so a result can only be polled
// from the family that issued it.
type Client struct {
	transport dispatch.Transport
	async     *dispatch.Dispatcher
	bg        *dispatch.Dispatcher
}

// New creates both dispatchers on top of tr
func New(opts Options, tr dispatch.Transport) (*Client, error) {
	async, err := dispatch.New(dispatch.Config{
		Strategy:      dispatch.StrategyCooperative,
		Capacity:      opts.AsyncCapacity,
		BlockingTick:  opts.AsyncBlockingTick,
		ShutdownGrace: opts.ShutdownGrace,
	}, tr)
	if err != nil {
		return nil, fmt.Errorf("async dispatcher: %w", err)
	}

	bg, err := dispatch.New(dispatch.Config{
		Strategy:      dispatch.StrategyThreaded,
		Capacity:      opts.BgCapacity,
		PoolSize:      opts.BgPoolSize,
		ShutdownGrace: opts.ShutdownGrace,
	}, tr)
	if err != nil {
		// the async dispatcher has no goroutines until polled, so there is nothing to stop
		return nil, fmt.Errorf("bg dispatcher: %w", err)
	}

	return &Client{transport: tr, async: async, bg: bg}, nil
}

// SubmitAsync queues spec on the cooperative family
func (c *Client) SubmitAsync(spec *request.Spec) (dispatch.ID, error) {
	return c.async.Submit(spec)
}

// PollAsync advances the cooperative family by one step and returns a completed result if any
func (c *Client) PollAsync() (dispatch.Result, bool) {
	return c.async.Poll()
}

// SubmitBg queues spec on the threaded family
func (c *Client) SubmitBg(spec *request.Spec) (dispatch.ID, error) {
	return c.bg.Submit(spec)
}

// PollBg returns a completed threaded result if any
func (c *Client) PollBg() (dispatch.Result, bool) {
	return c.bg.Poll()
}

// Dispatcher returns the dispatcher for a family
func (c *Client) Dispatcher(strategy dispatch.Strategy) (*dispatch.Dispatcher, bool) {
	switch strategy {
	case dispatch.StrategyCooperative:
		return c.async, true
	case dispatch.StrategyThreaded:
		return c.bg, true
	}
	return nil, false
}

// Perform executes spec synchronously on the caller's goroutine. The result carries NoID.
// Transport failures are reported through the result code; the error is only for invalid specs.
func (c *Client) Perform(ctx context.Context, spec *request.Spec) (dispatch.Result, error) {
	if spec == nil {
		return dispatch.Result{}, fmt.Errorf("%w: nil spec", dispatch.ErrInvalidSpec)
	}
	if err := spec.Validate(); err != nil {
		return dispatch.Result{}, fmt.Errorf("%w: %w", dispatch.ErrInvalidSpec, err)
	}

	start := time.Now()
	resp, err := c.transport.Execute(ctx, spec.Clone())
	return dispatch.ResultFrom(dispatch.NoID, resp, err, time.Since(start)), nil
}

// Stats returns both families' counters
func (c *Client) Stats() map[dispatch.Strategy]dispatch.Stats {
	return map[dispatch.Strategy]dispatch.Stats{
		dispatch.StrategyCooperative: c.async.Stats(),
		dispatch.StrategyThreaded:    c.bg.Stats(),
	}
}

// Shutdown shuts both families down concurrently and returns the first error
func (c *Client) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return c.async.Shutdown(ctx) })
	g.Go(func() error { return c.bg.Shutdown(ctx) })
	err := g.Wait()

	if closer, ok := c.transport.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
	return err
}
