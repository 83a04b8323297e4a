package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ClientConfig holds transport settings for the HTTP client.
type ClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	UserAgent           string
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		UserAgent:           "chairdump/1.0",
	}
}

// Client issues the metadata probes and transfers against the dump host.
type Client struct {
	client    *http.Client
	transport *http.Transport
	config    ClientConfig
}

func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		MaxConnsPerHost:     config.MaxConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
		TLSHandshakeTimeout: config.TLSHandshakeTimeout,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &Client{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    *config,
	}
}

// Probe determines the byte size of a remote file without transferring its
// body. It prefers HEAD and falls back to a one-byte range GET for hosts that
// reject HEAD. A 404 is surfaced as ErrNotFound.
func (c *Client) Probe(ctx context.Context, url string) (int64, error) {
	size, headErr := c.headProbe(ctx, url)
	if headErr == nil {
		return size, nil
	}

	var fetchErr *Error
	if !errors.As(headErr, &fetchErr) {
		return 0, headErr
	}
	if fetchErr.Status == http.StatusNotFound {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	if fetchErr.Status != http.StatusMethodNotAllowed && fetchErr.Status != http.StatusForbidden {
		return 0, headErr
	}

	size, rangeErr := c.rangeProbe(ctx, url)
	if rangeErr != nil {
		return 0, fmt.Errorf("HEAD error: %w, fallback GET error: %v", headErr, rangeErr)
	}

	return size, nil
}

func (c *Client) headProbe(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create HEAD request: %w", err)
	}
	c.applyHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, newNetworkError("HEAD", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, newStatusError("HEAD", url, resp.StatusCode,
			fmt.Errorf("HEAD request returned status %d", resp.StatusCode))
	}

	if resp.ContentLength < 0 {
		return 0, newStatusError("HEAD", url, resp.StatusCode,
			fmt.Errorf("no Content-Length in HEAD response"))
	}

	return resp.ContentLength, nil
}

func (c *Client) rangeProbe(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create fallback GET request: %w", err)
	}
	c.applyHeaders(req)
	req.Header.Set("Range", "bytes=0-0")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, newNetworkError("fallbackGET", url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		if size, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
			return size, nil
		}
		return 0, newStatusError("fallbackGET", url, resp.StatusCode,
			fmt.Errorf("unparseable Content-Range %q", resp.Header.Get("Content-Range")))
	case http.StatusOK:
		if resp.ContentLength >= 0 {
			return resp.ContentLength, nil
		}
		return 0, newStatusError("fallbackGET", url, resp.StatusCode,
			fmt.Errorf("no Content-Length in response"))
	case http.StatusNotFound:
		return 0, fmt.Errorf("%w: %s", ErrNotFound, url)
	default:
		return 0, newStatusError("fallbackGET", url, resp.StatusCode,
			fmt.Errorf("unexpected status code"))
	}
}

func (c *Client) applyHeaders(req *http.Request) {
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
}

// Cleanup closes idle connections held by the transport.
func (c *Client) Cleanup() {
	c.transport.CloseIdleConnections()
}

// parseContentRangeTotal extracts the total size from a "bytes 0-0/1234"
// style Content-Range header.
func parseContentRangeTotal(header string) (int64, bool) {
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, false
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || size < 0 {
		return 0, false
	}
	return size, true
}
