package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"
)

const (
	defaultExpoURL  = "https://exp.host/--/api/v2/push/send"
	maxBatchSize    = 100
	maxResponseSize = 1 << 20
	expoHTTPTimeout = 10 * time.Second
)

// ExpoMessage is one push notification in Expo Push API form.
type ExpoMessage struct {
	To        string            `json:"to"`
	Title     string            `json:"title,omitempty"`
	Body      string            `json:"body,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Priority  string            `json:"priority,omitempty"`
	ChannelID string            `json:"channelId,omitempty"`
}

// ExpoTicket is Expo's per-message delivery receipt.
type ExpoTicket struct {
	Status  string          `json:"status"`
	ID      string          `json:"id,omitempty"`
	Message string          `json:"message,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

// deviceGone reports a ticket rejected because the token was unregistered.
func (t ExpoTicket) deviceGone() bool {
	if t.Status != "error" {
		return false
	}
	var d struct {
		Error string `json:"error"`
	}
	return json.Unmarshal(t.Details, &d) == nil && d.Error == "DeviceNotRegistered"
}

type expoResponse struct {
	Data   []ExpoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

// transientError marks a failure worth retrying: transport errors and 5xx.
type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te transientError
	return errors.As(err, &te)
}

// ExpoClient mirrors the persistent notification to paired phones.
type ExpoClient struct {
	url      string
	token    string
	http     *http.Client
	backoffs []time.Duration
}

// ExpoClientOption configures an ExpoClient.
type ExpoClientOption func(*ExpoClient)

// WithExpoURL points the client at another push endpoint.
func WithExpoURL(url string) ExpoClientOption {
	return func(c *ExpoClient) { c.url = url }
}

// WithAccessToken sends token as a bearer credential.
func WithAccessToken(token string) ExpoClientOption {
	return func(c *ExpoClient) { c.token = token }
}

func withRetryBackoffs(backoffs []time.Duration) ExpoClientOption {
	return func(c *ExpoClient) { c.backoffs = backoffs }
}

// NewExpoClient returns a client for the public Expo endpoint unless
// overridden by opts.
func NewExpoClient(opts ...ExpoClientOption) *ExpoClient {
	c := &ExpoClient{
		url:      defaultExpoURL,
		http:     &http.Client{Timeout: expoHTTPTimeout},
		backoffs: []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send pushes messages in batches of at most 100 and returns the tokens
// Expo reported as no longer registered.
func (c *ExpoClient) Send(ctx context.Context, messages []ExpoMessage) ([]string, error) {
	var stale []string
	offset := 0
	for batch := range slices.Chunk(messages, maxBatchSize) {
		tickets, err := c.deliver(ctx, batch)
		if err != nil {
			return stale, fmt.Errorf("notification: push batch at %d: %w", offset, err)
		}
		for i, ticket := range tickets[:min(len(tickets), len(batch))] {
			if ticket.deviceGone() {
				stale = append(stale, batch[i].To)
			}
		}
		offset += len(batch)
	}
	return stale, nil
}

// deliver posts one batch, retrying transient failures after each backoff.
func (c *ExpoClient) deliver(ctx context.Context, batch []ExpoMessage) ([]ExpoTicket, error) {
	payload, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("marshal messages: %w", err)
	}

	tickets, err := c.post(ctx, payload)
	for _, wait := range c.backoffs {
		if err == nil || !isTransient(err) {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		tickets, err = c.post(ctx, payload)
	}
	return tickets, err
}

func (c *ExpoClient) post(ctx context.Context, payload []byte) ([]ExpoTicket, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transientError{fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	switch {
	case err != nil:
		return nil, fmt.Errorf("read response: %w", err)
	case len(body) > maxResponseSize:
		return nil, fmt.Errorf("expo response exceeds %d bytes", maxResponseSize)
	case resp.StatusCode >= 500:
		return nil, transientError{fmt.Errorf("expo returned status %d: %s", resp.StatusCode, body)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("expo returned status %d: %s", resp.StatusCode, body)
	}

	var decoded expoResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		msgs := make([]string, 0, len(decoded.Errors))
		for _, e := range decoded.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("expo errors: %s", strings.Join(msgs, "; "))
	}
	return decoded.Data, nil
}
