// Package httpclient is the streaming HTTP transport used by the chat
// engine. It supports per-chunk body callbacks, connect/read/write timeout
// controls, TLS verification toggling and asynchronous interruption of
// in-flight requests.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	providererrors "github.com/convoforge/go-chat/pkg/provider/errors"
)

// ChunkFunc receives one raw body chunk. Returning false aborts the stream.
type ChunkFunc func(data []byte) bool

// Response is a fully buffered non-streaming response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Config contains the transport settings.
type Config struct {
	// BaseURL is prefixed to every request path.
	BaseURL string

	// Headers are sent with all requests.
	Headers map[string]string

	// ConnectTimeout bounds dialing. Zero means no limit.
	ConnectTimeout time.Duration

	// ReadTimeout bounds each socket read. Zero means no limit.
	ReadTimeout time.Duration

	// WriteTimeout bounds each socket write. Zero means no limit.
	WriteTimeout time.Duration

	// VerifyTLS controls server certificate verification. Only meaningful
	// for https endpoints.
	VerifyTLS bool

	// Limiter optionally throttles outbound requests.
	Limiter *rate.Limiter
}

// Client is a streaming-capable HTTP client bound to one base URL.
type Client struct {
	mu       sync.Mutex
	cfg      Config
	inflight map[uint64]context.CancelFunc
	nextID   uint64
}

// New creates a client with the given configuration.
func New(cfg Config) *Client {
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	return &Client{
		cfg:      cfg,
		inflight: make(map[uint64]context.CancelFunc),
	}
}

// SetBaseURL updates the base URL.
func (c *Client) SetBaseURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.BaseURL = url
}

// SetHeaders replaces the default header set.
func (c *Client) SetHeaders(headers map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if headers == nil {
		headers = make(map[string]string)
	}
	c.cfg.Headers = headers
}

// SetConnectTimeout bounds connection establishment.
func (c *Client) SetConnectTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.ConnectTimeout = d
}

// SetReadTimeout bounds each socket read.
func (c *Client) SetReadTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.ReadTimeout = d
}

// SetWriteTimeout bounds each socket write.
func (c *Client) SetWriteTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.WriteTimeout = d
}

// SetVerifyTLS toggles server certificate verification.
func (c *Client) SetVerifyTLS(verify bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.VerifyTLS = verify
}

// SetRateLimiter installs an optional request rate limiter.
func (c *Client) SetRateLimiter(l *rate.Limiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Limiter = l
}

// Interrupt aborts all in-flight requests. Their calls return
// ErrInterrupted.
func (c *Client) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cancel := range c.inflight {
		cancel()
	}
}

// deadlineConn applies per-operation read/write deadlines.
type deadlineConn struct {
	net.Conn
	read  time.Duration
	write time.Duration
}

func (dc *deadlineConn) Read(b []byte) (int, error) {
	if dc.read > 0 {
		_ = dc.Conn.SetReadDeadline(time.Now().Add(dc.read))
	}
	return dc.Conn.Read(b)
}

func (dc *deadlineConn) Write(b []byte) (int, error) {
	if dc.write > 0 {
		_ = dc.Conn.SetWriteDeadline(time.Now().Add(dc.write))
	}
	return dc.Conn.Write(b)
}

func (c *Client) snapshot() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *Client) httpClient(cfg Config) *http.Client {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{Conn: conn, read: cfg.ReadTimeout, write: cfg.WriteTimeout}, nil
		},
	}
	if strings.HasPrefix(cfg.BaseURL, "https://") && !cfg.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{Transport: transport}
}

// track registers an in-flight request context so Interrupt can abort it.
func (c *Client) track(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.inflight[id] = cancel
	c.mu.Unlock()
	return ctx, func() {
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
		cancel()
	}
}

func (c *Client) newRequest(ctx context.Context, cfg Config, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// Post sends body and streams the response through onChunk. It returns the
// HTTP status code. A callback returning false stops the stream without an
// error; an Interrupt while streaming yields ErrInterrupted.
func (c *Client) Post(ctx context.Context, path string, body []byte, contentType string, onChunk ChunkFunc) (int, error) {
	cfg := c.snapshot()
	if cfg.Limiter != nil {
		if err := cfg.Limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	ctx, done := c.track(ctx)
	defer done()

	req, err := c.newRequest(ctx, cfg, http.MethodPost, path, bytes.NewReader(body), contentType)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient(cfg).Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, providererrors.ErrInterrupted
		}
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server responded with an error: %s (%d)",
			strings.TrimSpace(string(errBody)), resp.StatusCode)
	}

	buf := make([]byte, 16*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !onChunk(chunk) {
				return resp.StatusCode, nil
			}
		}
		if readErr == io.EOF {
			return resp.StatusCode, nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return resp.StatusCode, providererrors.ErrInterrupted
			}
			return resp.StatusCode, fmt.Errorf("failed to read response body: %w", readErr)
		}
	}
}

// Get performs a buffered GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	cfg := c.snapshot()
	if cfg.Limiter != nil {
		if err := cfg.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ctx, done := c.track(ctx)
	defer done()

	req, err := c.newRequest(ctx, cfg, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient(cfg).Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, providererrors.ErrInterrupted
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}

// PostJSON marshals in, performs a buffered POST and decodes the JSON
// response into out (which may be nil).
func (c *Client) PostJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	var collected bytes.Buffer
	status, err := c.Post(ctx, path, body, "application/json", func(data []byte) bool {
		collected.Write(data)
		return true
	})
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("HTTP %d: %s", status, collected.String())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(collected.Bytes(), out); err != nil {
		return fmt.Errorf("failed to decode JSON response: %w", err)
	}
	return nil
}
