// Package pfcon is a compute.Client talking HTTP to pfcon-like compute resources.
package pfcon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	xe "github.com/fnndsc/plinst/pkg/errors"
	"github.com/fnndsc/plinst/pkg/workloads/compute"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

// tokens are refreshed this much before they expire.
const tokenLeeway = 30 * time.Second

// Config is connection settings for a compute resource.
type Config struct {
	// base url, like "http://pfcon:30005/api/v1/"
	URL      string
	User     string
	Password string

	// timeout of each request. Zero means no timeout.
	Timeout time.Duration

	// Zero means no limit.
	RequestsPerSecond float64

	// total attempts of a request, including the first one.
	MaxAttempts     uint64
	InitialInterval time.Duration
}

// HTTPError is an unexpected response.
type HTTPError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Transient is true for statuses worth retrying.
func (e *HTTPError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || 500 <= e.Code
}

type client struct {
	base    *url.URL
	config  Config
	http    *http.Client
	limiter *rate.Limiter

	tokenMux sync.Mutex
	token    string
	expiry   time.Time
	now      func() time.Time
}

type Option func(*client) *client

// WithHTTPClient replaces the underlying http client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *client) *client {
		c.http = h
		return c
	}
}

// WithClock replaces the clock to check token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *client) *client {
		c.now = now
		return c
	}
}

func New(config Config, options ...Option) (compute.Client, error) {
	base, err := url.Parse(config.URL)
	if err != nil {
		return nil, xe.WrapWithNote("bad compute resource url", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 1
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = 200 * time.Millisecond
	}

	limit := rate.Inf
	if 0 < config.RequestsPerSecond {
		limit = rate.Limit(config.RequestsPerSecond)
	}

	c := &client{
		base:    base,
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
	for _, o := range options {
		c = o(c)
	}
	return c, nil
}

func (c *client) endpoint(path string) string {
	return c.base.ResolveReference(&url.URL{Path: path}).String()
}

// retry runs op with exponential backoff while it fails transiently.
func retry[T any](ctx context.Context, c *client, op func() (T, error)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.config.InitialInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, c.config.MaxAttempts-1), ctx)

	return backoff.RetryWithData(func() (T, error) {
		v, err := op()
		if err == nil {
			return v, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return v, backoff.Permanent(err)
		}
		var herr *HTTPError
		if errors.As(err, &herr) && !herr.Transient() {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, b)
}

// do sends a request once.
//
// Responses with unexpected status are returned as *HTTPError.
func (c *client) do(
	ctx context.Context, method string, path string, body any, auth bool, expected ...int,
) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		reqBody = bytes.NewReader(b)
	}

	u := c.endpoint(path)
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if auth {
		tok, err := c.authToken(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	for _, e := range expected {
		if resp.StatusCode == e {
			return respBody, nil
		}
	}

	if auth && resp.StatusCode == http.StatusUnauthorized {
		// expired before its time, or revoked.
		c.forgetToken()
		return nil, &HTTPError{Method: method, URL: u, Code: http.StatusServiceUnavailable, Body: "token rejected"}
	}
	return nil, &HTTPError{Method: method, URL: u, Code: resp.StatusCode, Body: string(respBody)}
}

func (c *client) forgetToken() {
	c.tokenMux.Lock()
	defer c.tokenMux.Unlock()
	c.token = ""
}

// authToken returns a cached token, or gets a new one.
func (c *client) authToken(ctx context.Context) (string, error) {
	c.tokenMux.Lock()
	defer c.tokenMux.Unlock()

	if c.token != "" && (c.expiry.IsZero() || c.now().Before(c.expiry.Add(-tokenLeeway))) {
		return c.token, nil
	}

	respBody, err := c.do(
		ctx, http.MethodPost, "auth-token/",
		map[string]string{"pfcon_user": c.config.User, "pfcon_password": c.config.Password},
		false, http.StatusOK, http.StatusCreated,
	)
	if err != nil {
		return "", err
	}
	payload := struct {
		Token string `json:"token"`
	}{}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return "", backoff.Permanent(xe.WrapWithNote("malformed auth-token response", err))
	}

	expiry := time.Time{}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(payload.Token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			expiry = exp.Time
		}
	}

	c.token = payload.Token
	c.expiry = expiry
	return c.token, nil
}

func (c *client) Submit(ctx context.Context, spec compute.JobSpec) error {
	_, err := retry(ctx, c, func() ([]byte, error) {
		return c.do(ctx, http.MethodPost, "jobs/", spec, true, http.StatusOK, http.StatusCreated)
	})
	return err
}

func (c *client) Status(ctx context.Context, jobId string) (compute.StructuredStatus, error) {
	body, err := retry(ctx, c, func() ([]byte, error) {
		return c.do(ctx, http.MethodGet, "jobs/"+jobId+"/", nil, true, http.StatusOK)
	})
	if err != nil {
		var herr *HTTPError
		if errors.As(err, &herr) && herr.Code == http.StatusNotFound {
			return compute.StructuredStatus{}, fmt.Errorf("%w: %s", compute.ErrJobNotFound, jobId)
		}
		return compute.StructuredStatus{}, err
	}

	status := compute.StructuredStatus{}
	if err := json.Unmarshal(body, &status); err != nil {
		return compute.StructuredStatus{}, xe.WrapWithNote("malformed job status", err)
	}
	if status.JobId == "" {
		status.JobId = jobId
	}
	return status, nil
}

func (c *client) Delete(ctx context.Context, jobId string) error {
	_, err := retry(ctx, c, func() ([]byte, error) {
		return c.do(
			ctx, http.MethodDelete, "jobs/"+jobId+"/", nil, true,
			http.StatusOK, http.StatusNoContent, http.StatusNotFound,
		)
	})
	return err
}
