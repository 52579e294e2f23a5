package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dexft/dexft/internal/api"
	"github.com/dexft/dexft/internal/config"
)

const (
	defaultHTTPTimeout        = 10 * time.Second
	websocketHandshakeTimeout = 10 * time.Second
	maxErrorBody              = 8 << 10

	// BaseURLEnv points the client at a TCP control listener instead of the
	// instance unix socket.
	BaseURLEnv = "DEXFT_BASE_URL"

	unixBaseURL = "http://dexft"
)

// ErrShutdownUnavailable indicates the daemon does not expose the shutdown endpoint.
var ErrShutdownUnavailable = errors.New("daemon shutdown endpoint unavailable")

// ErrDaemonUnreachable indicates nothing is listening on the control endpoint.
var ErrDaemonUnreachable = errors.New("daemon is not running")

// Client talks to the daemon control API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// New returns a client for the default instance, honouring DEXFT_BASE_URL.
func New() (*Client, error) {
	if base := strings.TrimSpace(os.Getenv(BaseURLEnv)); base != "" {
		return newFromExplicit(base)
	}
	return NewUnix(config.GetInstancePaths(config.DefaultInstance).Socket), nil
}

// NewUnix returns a client bound to the control socket at socketPath.
func NewUnix(socketPath string) *Client {
	dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socketPath)
	}
	transport := &http.Transport{DialContext: dial}
	return &Client{
		baseURL:    unixBaseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout, Transport: transport},
		dialer: &websocket.Dialer{
			NetDialContext:   dial,
			HandshakeTimeout: websocketHandshakeTimeout,
		},
	}
}

// NewInitialisedClient constructs a client for an explicit HTTP base URL.
func NewInitialisedClient(baseURL string, transport http.RoundTripper) *Client {
	httpClient := &http.Client{Timeout: defaultHTTPTimeout}
	if transport != nil {
		httpClient.Transport = transport
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: websocketHandshakeTimeout,
		},
	}
}

func newFromExplicit(raw string) (*Client, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("client: parse %s: %w", BaseURLEnv, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("client: %s missing host", BaseURLEnv)
	}
	return NewInitialisedClient(u.String(), nil), nil
}

// BaseURL returns the base HTTP URL the client is configured to use.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Status fetches the lifecycle and daemon status.
func (c *Client) Status(ctx context.Context) (api.StatusDTO, error) {
	var out api.StatusDTO
	if err := c.getJSON(ctx, "/status", &out); err != nil {
		return api.StatusDTO{}, fmt.Errorf("daemon status: %w", err)
	}
	return out, nil
}

// Toggle requests the server on or off and returns the resulting view.
func (c *Client) Toggle(ctx context.Context, enabled bool) (api.ToggleDTO, error) {
	body, err := json.Marshal(api.ToggleRequest{Enabled: &enabled})
	if err != nil {
		return api.ToggleDTO{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/toggle", bytes.NewReader(body))
	if err != nil {
		return api.ToggleDTO{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out api.ToggleDTO
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return api.ToggleDTO{}, fmt.Errorf("toggle: %w", err)
	}
	return out, nil
}

// Address fetches the advertised transfer server address.
func (c *Client) Address(ctx context.Context) (api.AddressDTO, error) {
	var out api.AddressDTO
	if err := c.getJSON(ctx, "/address", &out); err != nil {
		return api.AddressDTO{}, fmt.Errorf("address: %w", err)
	}
	return out, nil
}

// Media lists indexed shared files.
func (c *Client) Media(ctx context.Context) ([]api.MediaFileDTO, error) {
	var out api.MediaListDTO
	if err := c.getJSON(ctx, "/media", &out); err != nil {
		return nil, fmt.Errorf("media: %w", err)
	}
	return out.Files, nil
}

// ShutdownDaemon requests a graceful daemon shutdown.
func (c *Client) ShutdownDaemon(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/daemon/shutdown", http.NoBody)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("shutdown daemon: %w", wrapDialError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		return nil
	}

	errResp := readAPIError(resp)
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNotImplemented {
		return fmt.Errorf("shutdown daemon: %w: %w", ErrShutdownUnavailable, errResp)
	}
	return fmt.Errorf("shutdown daemon: %w", errResp)
}

// Watch streams toggle views until ctx is cancelled or the daemon closes the
// stream. The first frame is the current view.
func (c *Client) Watch(ctx context.Context, fn func(api.StreamMessage)) error {
	wsURL, err := makeWebsocketURL(c.baseURL)
	if err != nil {
		return err
	}
	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("watch: %w", wrapDialError(err))
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		var msg api.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || isNormalClose(err) {
				return nil
			}
			return fmt.Errorf("watch: %w", err)
		}
		fn(msg)
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusOK, out)
}

func (c *Client) do(req *http.Request, want int, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapDialError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func wrapDialError(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %w", ErrDaemonUnreachable, err)
	}
	return err
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if len(body) == 0 {
		return errors.New(resp.Status)
	}
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
			if msg := strings.TrimSpace(payload.Error); msg != "" {
				return errors.New(msg)
			}
		}
		// Fall back to the raw payload when the "error" field is missing.
	}
	return errors.New(trimmed)
}

func isNormalClose(err error) bool {
	if err == nil {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, io.EOF)
}

func makeWebsocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("client: parse base URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}
