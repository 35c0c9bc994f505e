package kv

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/chathub/internal/errors"
)

// maxResponseSize caps how much of a backend reply is read.
const maxResponseSize = 1 << 20

// RESTClient talks to a KV backend that accepts one command per HTTP POST.
//
// The request body is a JSON array [COMMAND, arg...] and the reply is
// {"result": ...} on success or {"error": "..."} on failure. Every failure,
// including transport errors and non-2xx statuses, is returned as a
// KV-001 StoreUnavailable error.
type RESTClient struct {
	url        string
	token      string
	httpClient *http.Client
}

// RESTConfig holds REST backend configuration.
type RESTConfig struct {
	// URL is the command endpoint (required)
	// Example: "https://eu1-kv.example.io"
	URL string

	// Token is sent as "Authorization: Bearer <token>" (required)
	Token string

	// Timeout bounds each command. Defaults to 5 seconds.
	Timeout time.Duration

	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
}

type restReply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// NewRESTClient creates a client for the backend described by cfg.
func NewRESTClient(cfg RESTConfig) (*RESTClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("kv rest url is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("kv rest token is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &RESTClient{
		url:        strings.TrimRight(cfg.URL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
	}, nil
}

// URL returns the configured endpoint.
func (c *RESTClient) URL() string {
	return c.url
}

// Do sends one command and returns its raw result.
func (c *RESTClient) Do(ctx context.Context, args ...string) (json.RawMessage, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("kv rest: empty command")
	}
	command := args[0]

	body, err := json.Marshal(args)
	if err != nil {
		return nil, errors.NewStoreUnavailableError(command, fmt.Errorf("failed to marshal command: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewStoreUnavailableError(command, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewStoreUnavailableError(command, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.NewStoreUnavailableError(command, fmt.Errorf("failed to read response: %w", err))
	}

	var reply restReply
	decodeErr := json.Unmarshal(raw, &reply)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := strings.TrimSpace(string(raw))
		if decodeErr == nil && reply.Error != "" {
			detail = reply.Error
		}
		return nil, errors.NewStoreUnavailableError(command, fmt.Errorf("status %d: %s", resp.StatusCode, detail))
	}
	if decodeErr != nil {
		return nil, errors.NewStoreUnavailableError(command, fmt.Errorf("failed to decode response: %w", decodeErr))
	}
	if reply.Error != "" {
		return nil, errors.NewStoreUnavailableError(command, fmt.Errorf("backend error: %s", reply.Error))
	}
	return reply.Result, nil
}

func ttlArgs(args []string, ttl time.Duration) []string {
	if ttl <= 0 {
		return args
	}
	return append(args, "EX", strconv.FormatInt(ttlSeconds(ttl), 10))
}

// ttlSeconds rounds ttl up to whole seconds, the backend's resolution.
func ttlSeconds(ttl time.Duration) int64 {
	secs := int64(ttl / time.Second)
	if ttl%time.Second != 0 {
		secs++
	}
	return secs
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func decodeInt(command string, raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, errors.NewStoreUnavailableError(command, fmt.Errorf("unexpected result %s", string(raw)))
	}
	return n, nil
}

// Set runs SET key value [EX seconds].
func (c *RESTClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := c.Do(ctx, ttlArgs([]string{"SET", key, value}, ttl)...)
	return err
}

// SetNX runs SET key value NX [EX seconds].
func (c *RESTClient) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	raw, err := c.Do(ctx, ttlArgs([]string{"SET", key, value, "NX"}, ttl)...)
	if err != nil {
		return false, err
	}
	return !isNull(raw), nil
}

// Get runs GET key.
func (c *RESTClient) Get(ctx context.Context, key string) (string, bool, error) {
	raw, err := c.Do(ctx, "GET", key)
	if err != nil {
		return "", false, err
	}
	if isNull(raw) {
		return "", false, nil
	}

	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false, errors.NewStoreUnavailableError("GET", fmt.Errorf("unexpected result %s", string(raw)))
	}
	return value, true, nil
}

// Delete runs DEL key.
func (c *RESTClient) Delete(ctx context.Context, key string) error {
	_, err := c.Do(ctx, "DEL", key)
	return err
}

// Exists runs EXISTS key.
func (c *RESTClient) Exists(ctx context.Context, key string) (bool, error) {
	raw, err := c.Do(ctx, "EXISTS", key)
	if err != nil {
		return false, err
	}
	n, err := decodeInt("EXISTS", raw)
	return n > 0, err
}

// Expire runs EXPIRE key seconds, or DEL when ttl is not positive.
func (c *RESTClient) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		raw, err := c.Do(ctx, "DEL", key)
		if err != nil {
			return false, err
		}
		n, err := decodeInt("DEL", raw)
		return n > 0, err
	}

	raw, err := c.Do(ctx, "EXPIRE", key, strconv.FormatInt(ttlSeconds(ttl), 10))
	if err != nil {
		return false, err
	}
	n, err := decodeInt("EXPIRE", raw)
	return n == 1, err
}

// Ping runs PING.
func (c *RESTClient) Ping(ctx context.Context) error {
	_, err := c.Do(ctx, "PING")
	return err
}
