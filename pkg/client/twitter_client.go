package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff"
	"github.com/dghubble/oauth1"
	"github.com/sirupsen/logrus"
)

// Credentials are the OAuth 1.0a user-context keys of the account the
// worker acts as.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
}

// TwitterClient signs and sends requests to the Twitter REST API v1.1.
type TwitterClient struct {
	baseUrl    string
	httpClient *http.Client
	options    *Options
}

func NewTwitterClient(creds Credentials, opts ...Option) (*TwitterClient, error) {
	options, err := NewOptions(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create options: %w", err)
	}

	base := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxConnsPerHost:     options.MaxConnsPerHost,
			MaxIdleConns:        options.MaxIdleConns,
			MaxIdleConnsPerHost: options.MaxIdleConnsPerHost,
			IdleConnTimeout:     options.IdleConnTimeout,
		},
	}

	config := oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessSecret)
	httpClient := config.Client(context.WithValue(context.Background(), oauth1.HTTPClient, base), token)
	httpClient.Timeout = options.Timeout

	client := &TwitterClient{
		baseUrl:    strings.TrimRight(options.BaseURL, "/"),
		httpClient: httpClient,
		options:    options,
	}

	logrus.Info("TwitterClient instantiated successfully using base URL: ", client.baseUrl)
	return client, nil
}

// HTTPClient exposes the signing http client
func (c *TwitterClient) HTTPClient() *http.Client {
	return c.httpClient
}

// Get sends a signed GET request for endpoint with params in the query string.
// The caller closes the response body.
func (c *TwitterClient) Get(ctx context.Context, endpoint string, params url.Values) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, endpoint, params)
}

// Post sends a signed POST request for endpoint with params form encoded in
// the body. The caller closes the response body.
func (c *TwitterClient) Post(ctx context.Context, endpoint string, params url.Values) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, endpoint, params)
}

func (c *TwitterClient) newRequest(ctx context.Context, method, endpoint string, params url.Values) (*http.Request, error) {
	u := fmt.Sprintf("%s/%s", c.baseUrl, strings.TrimLeft(endpoint, "/"))

	if method == http.MethodGet {
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		return http.NewRequestWithContext(ctx, method, u, nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

type retryGateKey struct{}

// WithRetryGate returns a context whose requests call gate before every
// retry. When gate fails the request is not re-sent and its error is returned.
// Callers that meter requests use it to charge each attempt.
func WithRetryGate(ctx context.Context, gate func(context.Context) error) context.Context {
	return context.WithValue(ctx, retryGateKey{}, gate)
}

func retryGate(ctx context.Context) func(context.Context) error {
	gate, _ := ctx.Value(retryGateKey{}).(func(context.Context) error)
	return gate
}

// do sends the request, retrying transport errors and 5xx responses of GET
// requests with exponential backoff. POST requests are sent once, since a
// failed attempt may already have reached the server. Any other response is
// returned as is, including 4xx.
func (c *TwitterClient) do(ctx context.Context, method, endpoint string, params url.Values) (*http.Response, error) {
	var resp *http.Response
	gate := retryGate(ctx)
	attempt := 0

	operation := func() error {
		attempt++
		if attempt > 1 && gate != nil {
			if err := gate(ctx); err != nil {
				logrus.Debugf("Not retrying %s %s: %v", method, endpoint, err)
				return backoff.Permanent(err)
			}
		}

		req, err := c.newRequest(ctx, method, endpoint, params)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("error creating %s request: %w", method, err))
		}

		logrus.Debugf("%s request to: %s", method, req.URL.Path)
		r, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			logrus.Warnf("error making %s request to %s: %v", method, endpoint, err)
			return fmt.Errorf("error making %s request: %w", method, err)
		}

		if r.StatusCode >= http.StatusInternalServerError {
			body, _ := io.ReadAll(r.Body)
			r.Body.Close()
			logrus.Warnf("%s %s returned status %d", method, endpoint, r.StatusCode)
			return fmt.Errorf("unexpected status code %d: %s", r.StatusCode, string(body))
		}

		resp = r
		return nil
	}

	retries := c.options.MaxRetries
	if method != http.MethodGet {
		retries = 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.options.InitialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return resp, nil
}
