package uiautomator2

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Client communicates with UIAutomator2 server.
type Client struct {
	http       *http.Client
	baseURL    string
	sessionID  string
	socketPath string
	logger     *zap.Logger
}

// NewClient creates a client using Unix socket (Linux/Mac).
func NewClient(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		baseURL:    "http://localhost",
		socketPath: socketPath,
		logger:     zap.NewNop(),
	}
}

// NewClientTCP creates a client using TCP port (Windows, or adb forward).
func NewClientTCP(port int) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		logger:  zap.NewNop(),
	}
}

// SetLogger sets the logger for HTTP request timing. Nil disables logging.
func (c *Client) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c.logger = logger
}

// SessionID returns the current session ID.
func (c *Client) SessionID() string {
	return c.sessionID
}

// request makes an HTTP request to UIAutomator2.
func (c *Client) request(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	start := time.Now()

	var reqBody io.Reader
	var bodyStr string
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
		bodyStr = string(data)
		if len(bodyStr) > 100 {
			bodyStr = bodyStr[:100] + "..."
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.logger.Debug("uia2 request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("uia2 request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Duration("elapsed", elapsed),
		zap.Int("status", resp.StatusCode),
		zap.String("body", bodyStr))

	if resp.StatusCode >= 400 {
		if gjson.ValidBytes(respBody) {
			errVal := gjson.GetBytes(respBody, "value")
			if errVal.IsObject() {
				return nil, fmt.Errorf("%s: %s", errVal.Get("error").String(), errVal.Get("message").String())
			}
		}
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// sessionPath returns path with session ID prefix.
func (c *Client) sessionPath(path string) string {
	return fmt.Sprintf("/session/%s%s", c.sessionID, path)
}

// requireSession fails when no session is active.
func (c *Client) requireSession() error {
	if c.sessionID == "" {
		return fmt.Errorf("no active session")
	}
	return nil
}

// Status checks if the server is ready.
func (c *Client) Status(ctx context.Context) (bool, error) {
	data, err := c.request(ctx, "GET", "/status", nil)
	if err != nil {
		return false, err
	}
	if !gjson.ValidBytes(data) {
		return false, fmt.Errorf("parse status response: invalid JSON")
	}
	return gjson.GetBytes(data, "value.ready").Bool(), nil
}

// CreateSession starts a new automation session.
func (c *Client) CreateSession(ctx context.Context, caps Capabilities) error {
	req := SessionRequest{Capabilities: caps}
	data, err := c.request(ctx, "POST", "/session", req)
	if err != nil {
		return err
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("parse session response: invalid JSON")
	}

	// Older servers return the id at the top level, W3C ones under value.
	id := gjson.GetBytes(data, "sessionId").String()
	if id == "" {
		id = gjson.GetBytes(data, "value.sessionId").String()
	}
	if id == "" {
		return fmt.Errorf("no session ID in response")
	}

	c.sessionID = id
	return nil
}

// DeleteSession ends the current session.
func (c *Client) DeleteSession(ctx context.Context) error {
	if c.sessionID == "" {
		return nil
	}

	_, err := c.request(ctx, "DELETE", c.sessionPath(""), nil)
	c.sessionID = ""
	return err
}

// Close ends the session and cleans up.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.DeleteSession(ctx)
}
