package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/sattrk/telarc/internal/errors"
)

const executePath = "/api/v1/execute/"

// ClientConfig tunes the HTTP executor.
type ClientConfig struct {
	// BaseURL locates the server, e.g. "http://archive:9440".
	BaseURL string

	// ConnectTimeout bounds dialing. RequestTimeout bounds one attempt
	// end to end; the caller's context still caps the whole call.
	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// MaxTries caps attempts per call. Only timeouts and connection
	// failures are retried; server-reported errors never are.
	MaxTries int

	// RetryInterval is the initial backoff between attempts.
	RetryInterval time.Duration
}

// DefaultClientConfig returns the production defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 30 * time.Second,
		MaxTries:       3,
		RetryInterval:  200 * time.Millisecond,
	}
}

// Client executes functions on a remote server over HTTP. It
// implements Executor and is safe for concurrent use.
type Client struct {
	base string
	http *http.Client
	cfg  ClientConfig
}

// NewClient builds a client for one server. Zero config fields fall
// back to DefaultClientConfig; BaseURL is required.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.NewMissingField("base url")
	}
	def := DefaultClientConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxTries < 1 {
		cfg.MaxTries = def.MaxTries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	return &Client{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		cfg: cfg,
	}, nil
}

// Execute posts args to the server and decodes the result into reply.
// Retriable failures back off exponentially up to MaxTries; a
// server-reported error comes back as a CallError.
func (c *Client) Execute(ctx context.Context, fn string, args any, reply any) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return errors.Wrapf(err, "encode %s arguments", fn)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryInterval
	bo.MaxInterval = 5 * time.Second

	attempt := 0
	result, err := backoff.Retry(ctx, func() (json.RawMessage, error) {
		attempt++
		if attempt > 1 {
			log.Warn("retrying", "fn", fn, "attempt", attempt)
		}
		raw, err := c.call(ctx, fn, payload)
		if err != nil && !errors.IsRetriable(err) {
			return nil, backoff.Permanent(err)
		}
		return raw, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(c.cfg.MaxTries)))
	if err != nil {
		return err
	}

	if reply == nil || len(result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result, reply); err != nil {
		return errors.Wrapf(errors.ErrRemote, "%s: decode result: %v", fn, err)
	}
	return nil
}

// call is one round trip: post, read, unwrap the envelope.
func (c *Client) call(ctx context.Context, fn string, payload []byte) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+executePath+fn, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidArgument, "%s: %v", fn, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(fn, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrConnectionFailed, "%s: read response: %v", fn, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || (env.Err == nil && env.Result == nil) {
		// Not an envelope, so it never reached a handler. A gateway
		// 5xx is worth retrying; anything else is not ours to fix.
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, errors.Wrapf(errors.ErrConnectionFailed, "%s: status %d", fn, resp.StatusCode)
		}
		return nil, errors.Wrapf(errors.ErrRemote, "%s: status %d", fn, resp.StatusCode)
	}
	if env.Err != nil {
		return nil, &CallError{Fn: fn, Kind: env.Err.Kind, Message: env.Err.Message}
	}
	return env.Result, nil
}

// classifyTransport sorts a round-trip failure into the retriable
// sentinels: deadline hits become timeouts, the rest connection
// failures. Caller cancellation passes through untouched.
func classifyTransport(fn string, err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Wrapf(errors.ErrRemoteTimeout, "%s: %v", fn, err)
	case errors.As(err, &ne) && ne.Timeout():
		return errors.Wrapf(errors.ErrRemoteTimeout, "%s: %v", fn, err)
	default:
		return errors.Wrapf(errors.ErrConnectionFailed, "%s: %v", fn, err)
	}
}
