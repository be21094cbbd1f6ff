package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/model"
	"github.com/klauern/postsync/internal/retry"
)

// DefaultTimeout bounds a single HTTP call when none is configured.
const DefaultTimeout = 30 * time.Second

// maxBody caps how much of a response is read into memory.
const maxBody = 200 << 20

// ClientOptions configures a Client.
type ClientOptions struct {
	Timeout time.Duration
	Retry   retry.Policy
	// Transport is wrapped with tracing. Nil uses http.DefaultTransport.
	Transport http.RoundTripper
}

// Client sends JSON API requests for one platform. Every attempt gets its
// own deadline, transient failures are retried, and HTTP statuses are mapped
// to apperr kinds.
type Client struct {
	platform model.Platform
	http     *http.Client
	timeout  time.Duration
	retry    retry.Policy
}

// NewClient creates a Client for platform.
func NewClient(platform model.Platform, opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retry.MaxTries == 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &Client{
		platform: platform,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(base),
		},
		timeout: opts.Timeout,
		retry:   opts.Retry,
	}
}

// HTTP returns the underlying instrumented client.
func (c *Client) HTTP() *http.Client {
	return c.http
}

// RequestFunc builds a request bound to ctx. It is called once per attempt so
// request bodies can be replayed.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Response is a successful reply with its body fully read.
type Response struct {
	Header http.Header
	Body   []byte
}

// Do sends the request built by build, retrying transient failures.
func (c *Client) Do(ctx context.Context, op string, build RequestFunc) (*Response, error) {
	return retry.Do(ctx, op, c.retry, func() (*Response, error) {
		return c.once(ctx, op, build)
	})
}

// DoJSON is Do followed by decoding the body into out, when out is non-nil.
func (c *Client) DoJSON(ctx context.Context, op string, build RequestFunc, out any) (http.Header, error) {
	resp, err := c.Do(ctx, op, build)
	if err != nil {
		return nil, err
	}
	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return nil, fmt.Errorf("%s: unmarshal response: %w", op, err)
		}
	}
	return resp.Header, nil
}

func (c *Client) once(ctx context.Context, op string, build RequestFunc) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := build(callCtx)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// Credential failures surface from the transport wrapped in *url.Error.
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, ae
		}
		return nil, apperr.Transient(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Transient(op, fmt.Errorf("read response: %w", err))
	}
	if err := apperr.FromStatus(c.platform.String(), op, resp.StatusCode, string(body)); err != nil {
		return nil, err
	}
	return &Response{Header: resp.Header, Body: body}, nil
}

// JSONRequest returns a RequestFunc for a JSON body. A nil body sends none.
func JSONRequest(method, url string, body any, header http.Header) RequestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		var r io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("marshal request: %w", err)
			}
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, r)
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}

// Download fetches url without authentication and returns the body with its
// Content-Type.
func (c *Client) Download(ctx context.Context, op, url string) ([]byte, string, error) {
	resp, err := c.Do(ctx, op, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
	if err != nil {
		return nil, "", err
	}
	mime := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return resp.Body, strings.TrimSpace(mime), nil
}
