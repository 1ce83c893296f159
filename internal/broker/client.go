// Package broker provides the REST client for the Kite trading API.
// It handles the login/two-factor handshake, enctoken header injection,
// and the {data}/{message} response envelope shared by every endpoint.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultAPIBaseURL  = "https://api.kite.trade"
	defaultKiteBaseURL = "https://kite.zerodha.com"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
)

// ErrAuthFailed is returned when the login or two-factor step is rejected,
// or the enctoken cookie is absent from the two-factor response.
var ErrAuthFailed = errors.New("authentication failed")

// APIError represents an API error with status code and response body.
// The broker wraps non-200 envelopes in this type so callers can tell a
// structured rejection apart from a transport failure.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// envelope is the broker's uniform response wrapper: {data} on success,
// {message} on failure.
type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Client is the Kite REST client. It speaks to two hosts: the web login
// host (login + two-factor, no Authorization header) and the trading-API
// host (everything else, enctoken Authorization header).
type Client struct {
	client      *http.Client
	apiBaseURL  string
	kiteBaseURL string
	enctoken    string
	logger      *logrus.Logger
}

// NewClient creates a Kite client with default endpoints and timeout.
func NewClient(logger *logrus.Logger) *Client {
	return NewClientWithBaseURLs(defaultAPIBaseURL, defaultKiteBaseURL, 7*time.Second, logger)
}

// NewClientWithBaseURLs creates a Kite client against custom hosts.
// Empty URLs fall back to the production endpoints.
func NewClientWithBaseURLs(apiBaseURL, kiteBaseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}
	if kiteBaseURL == "" {
		kiteBaseURL = defaultKiteBaseURL
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		client:      &http.Client{Timeout: timeout},
		apiBaseURL:  strings.TrimRight(apiBaseURL, "/"),
		kiteBaseURL: strings.TrimRight(kiteBaseURL, "/"),
		logger:      logger,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.client = hc
	}
	return c
}

// SetToken installs the enctoken attached to trading-API requests.
func (c *Client) SetToken(enctoken string) {
	c.enctoken = enctoken
}

// Token returns the currently installed enctoken, empty if none.
func (c *Client) Token() string {
	return c.enctoken
}

// LoginRequest posts the user id and password to the login endpoint and
// returns the request_id needed for the two-factor step.
func (c *Client) LoginRequest(ctx context.Context, userID, password string) (string, error) {
	form := url.Values{}
	form.Set("user_id", userID)
	form.Set("password", password)

	data, err := c.requestCtx(ctx, http.MethodPost, c.kiteBaseURL+"/api/login", form)
	if err != nil {
		return "", err
	}

	var payload struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("decoding login response: %w", err)
	}
	if payload.RequestID == "" {
		return "", fmt.Errorf("%w: login response missing request_id", ErrAuthFailed)
	}
	return payload.RequestID, nil
}

// TwoFARequest posts the TOTP answer and extracts the enctoken cookie
// from the response. The token is returned but not installed; the session
// manager decides when to adopt it.
func (c *Client) TwoFARequest(ctx context.Context, userID, requestID, code string) (string, error) {
	form := url.Values{}
	form.Set("user_id", userID)
	form.Set("request_id", requestID)
	form.Set("twofa_value", code)

	endpoint := c.kiteBaseURL + "/api/twofa"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer c.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return "", fmt.Errorf("%w: twofa status %d: %s", ErrAuthFailed, resp.StatusCode, c.envelopeMessage(body))
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == "enctoken" && cookie.Value != "" {
			return cookie.Value, nil
		}
	}
	return "", fmt.Errorf("%w: enctoken cookie not found in twofa response", ErrAuthFailed)
}

// get issues an authenticated GET against the trading-API host and
// returns the envelope's inner data payload.
func (c *Client) get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	endpoint := c.apiBaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return c.requestCtx(ctx, http.MethodGet, endpoint, nil)
}

// requestCtx performs one HTTP round trip and normalizes the response:
// 200 yields the inner data payload, anything else logs the envelope
// message and returns an *APIError.
func (c *Client) requestCtx(ctx context.Context, method, endpoint string, form url.Values) (json.RawMessage, error) {
	var req *http.Request
	var err error

	if form != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
		if err != nil {
			return nil, err
		}
	}

	req.Header.Set("User-Agent", userAgent)

	// The enctoken header goes only to the trading-API host. Login and
	// two-factor calls target the web host and must stay anonymous.
	if c.enctoken != "" && strings.HasPrefix(endpoint, c.apiBaseURL) {
		req.Header.Set("Authorization", "enctoken "+c.enctoken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := c.envelopeMessage(body)
		c.logger.WithFields(logrus.Fields{
			"status":   resp.StatusCode,
			"endpoint": endpoint,
		}).Warnf("broker request rejected: %s", msg)
		return nil, &APIError{Status: resp.StatusCode, Body: msg}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding response envelope: %w", err)
	}
	return env.Data, nil
}

// envelopeMessage pulls the message field out of an error envelope,
// falling back to the raw body when it is not JSON.
func (c *Client) envelopeMessage(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
		return env.Message
	}
	return strings.TrimSpace(string(body))
}

func (c *Client) closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		c.logger.Warnf("failed to close response body: %v", err)
	}
}
