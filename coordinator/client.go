// Package coordinator is a client for the REST coordination service.
package coordinator

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
	"time"

	"github.com/micromdm/nanotenant/logkeys"
	"github.com/micromdm/nanotenant/payload"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
	"golang.org/x/time/rate"
)

// DefaultTimeout is the default HTTP client timeout.
const DefaultTimeout = 60 * time.Second

var (
	ErrNoTemplate  = errors.New("no input template")
	ErrNoRequestID = errors.New("no request id in response")
	ErrNoToken     = errors.New("no access token")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client talks to the coordination service.
// Credentials are exchanged for a bearer token before every call.
type Client struct {
	baseURL  *url.URL
	username string
	password string

	client  *http.Client
	logger  log.Logger
	limiter *rate.Limiter
	retry   RetryPolicy
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithLogger sets the client logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithPacing spaces out request submissions by at least d.
func WithPacing(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.limiter = rate.NewLimiter(rate.Every(d), 1)
		} else {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
		}
	}
}

// WithRetry sets the retry policy for failed calls.
func WithRetry(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retry = policy
	}
}

// New creates a new client for the service at baseURL.
func New(baseURL, username, password string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL: %q", baseURL)
	}
	c := &Client{
		baseURL:  u,
		username: username,
		password: password,
		client:   &http.Client{Timeout: DefaultTimeout},
		logger:   log.NopLogger,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		retry:    NoRetry{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) url(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// authenticate exchanges the credentials for an authorization header value.
func (c *Client) authenticate(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {""},
		"username":      {c.username},
		"password":      {c.password},
		"scope":         {""},
		"client_id":     {""},
		"client_secret": {""},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/user_management/authenticate", nil), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Method: req.Method, Path: req.URL.Path, Code: resp.StatusCode, Body: string(body)}
	}
	var token struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err = json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("decoding token: %w", err)
	}
	if token.AccessToken == "" {
		return "", ErrNoToken
	}
	tokenType := "Bearer"
	if token.TokenType != "" {
		tokenType = strings.ToUpper(token.TokenType[:1]) + strings.ToLower(token.TokenType[1:])
	}
	return tokenType + " " + token.AccessToken, nil
}

// doOnce authenticates then performs a single call.
func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, body []byte) (payload.Value, error) {
	auth, err := c.authenticate(ctx)
	if err != nil {
		return payload.Value{}, fmt.Errorf("authenticating: %w", err)
	}
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), reqBody)
	if err != nil {
		return payload.Value{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", auth)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return payload.Value{}, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return payload.Value{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return payload.Value{}, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(respBody)}
	}
	v, err := payload.Parse(respBody)
	if err != nil {
		return payload.Value{}, fmt.Errorf("decoding response: %w", err)
	}
	return v, nil
}

// do performs a call subject to the retry policy.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body *payload.Value) (payload.Value, error) {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = body.MarshalJSON(); err != nil {
			return payload.Value{}, fmt.Errorf("encoding body: %w", err)
		}
	}
	logger := ctxlog.Logger(ctx, c.logger)
	for attempt := 1; ; attempt++ {
		logger.Debug(logkeys.Message, "coordinator call", "method", method, "path", path, "attempt", attempt)
		v, err := c.doOnce(ctx, method, path, query, raw)
		if err == nil {
			return v, nil
		}
		delay, ok := c.retry.Next(attempt, err)
		if !ok {
			return v, err
		}
		logger.Info(logkeys.Message, "retrying coordinator call", "path", path, "delay", delay, logkeys.Error, err)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return v, ctx.Err()
		case <-t.C:
		}
	}
}

// PendingRequests lists the not-yet-claimed root requests.
// Each item carries the request document under "request".
func (c *Client) PendingRequests(ctx context.Context) ([]payload.Value, error) {
	v, err := c.do(ctx, http.MethodGet, "/pending_requests/", nil, nil)
	if err != nil {
		return nil, err
	}
	return v.Items(), nil
}

// SubmitRequest posts a step request and returns its assigned ID.
func (c *Client) SubmitRequest(ctx context.Context, request payload.Value) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	v, err := c.do(ctx, http.MethodPost, "/requests/", nil, &request)
	if err != nil {
		return "", err
	}
	if id, ok := v.Str(); ok && id != "" {
		return id, nil
	}
	return "", ErrNoRequestID
}

// Result fetches the result for request id.
// The second return value is false if the result is not yet available.
func (c *Client) Result(ctx context.Context, id string) (payload.Value, bool, error) {
	v, err := c.do(ctx, http.MethodGet, "/results_requested/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return v, false, err
	}
	return v, !v.IsEmpty(), nil
}

// ResultsFor lists the results requested for quantity and method.
func (c *Client) ResultsFor(ctx context.Context, quantity, method string) ([]payload.Value, error) {
	v, err := c.do(ctx, http.MethodGet, "/results_requested/", url.Values{
		"quantity": {quantity},
		"method":   {method},
	}, nil)
	if err != nil {
		return nil, err
	}
	return v.Items(), nil
}

// SubmitResult posts a result and returns the service's response.
func (c *Client) SubmitResult(ctx context.Context, result payload.Value) (string, error) {
	v, err := c.do(ctx, http.MethodPost, "/results/", nil, &result)
	if err != nil {
		return "", err
	}
	if id, ok := v.Str(); ok {
		return id, nil
	}
	return v.String(), nil
}

// Template fetches the input template for quantity and method.
func (c *Client) Template(ctx context.Context, quantity, method string) (payload.Value, error) {
	v, err := c.do(ctx, http.MethodGet, "/capabilities/templates", url.Values{
		"quantity": {quantity},
		"method":   {method},
	}, nil)
	if err != nil {
		return v, err
	}
	tmpl, ok := v.Path(quantity+"-"+method, "input_template")
	if !ok || !tmpl.IsObject() {
		return payload.Value{}, fmt.Errorf("%w: %s/%s", ErrNoTemplate, quantity, method)
	}
	return tmpl, nil
}

// UpdateStatus sets the status of request id, e.g. "reserved".
func (c *Client) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := c.do(ctx, http.MethodPost, "/requests/"+url.PathEscape(id)+"/update_status/", url.Values{
		"request_id": {id},
		"new_status": {status},
	}, nil)
	return err
}
