package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dexft/dexft/internal/eventbus"
)

func TestCenterPostCancelActive(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	sub := eventbus.SubscribeTo(bus, eventbus.Daemon.Notification, eventbus.WithSubscriptionBuffer(4))
	defer sub.Close()

	c := NewCenter(bus)
	ctx := context.Background()

	h, err := c.Post(ctx, Notification{ChannelID: "ForegroundServiceChannel", Title: "Foreground Service", Text: "Service is running..."})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if h == "" {
		t.Fatal("expected non-empty handle")
	}

	active := c.Active()
	if len(active) != 1 || active[0].ID != h || active[0].PostedAt.IsZero() {
		t.Fatalf("unexpected active set %+v", active)
	}

	if err := c.Cancel(ctx, h); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(c.Active()) != 0 {
		t.Fatal("expected no active notifications after cancel")
	}
	if err := c.Cancel(ctx, h); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("expected ErrUnknownHandle on double cancel, got %v", err)
	}

	for _, want := range []eventbus.NotificationAction{eventbus.NotificationPosted, eventbus.NotificationCancelled} {
		select {
		case env := <-sub.C():
			if env.Payload.Action != want || env.Payload.ID != string(h) {
				t.Fatalf("unexpected event %+v, want action %s", env.Payload, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestCenterRequiresChannel(t *testing.T) {
	t.Parallel()

	if _, err := NewCenter(nil).Post(context.Background(), Notification{Title: "x"}); err == nil {
		t.Fatal("expected error without channel id")
	}
}

func TestCenterForwardsToPushTokensAndDropsStale(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		received []ExpoMessage
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []ExpoMessage
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		received = append(received, batch...)
		mu.Unlock()

		tickets := make([]ExpoTicket, len(batch))
		for i, msg := range batch {
			tickets[i] = ExpoTicket{Status: "ok"}
			if msg.To == "ExponentPushToken[gone]" {
				tickets[i] = ExpoTicket{Status: "error", Details: json.RawMessage(`{"error":"DeviceNotRegistered"}`)}
			}
		}
		json.NewEncoder(w).Encode(expoResponse{Data: tickets})
	}))
	defer srv.Close()

	c := NewCenter(nil, WithExpoURL(srv.URL), withRetryBackoffs(nil))
	c.SetPushTokens([]string{"ExponentPushToken[phone]", "ExponentPushToken[gone]"})

	if _, err := c.Post(context.Background(), Notification{ChannelID: "ForegroundServiceChannel", Text: "Service is running..."}); err != nil {
		t.Fatalf("post: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	mu.Lock()
	got := len(received)
	mu.Unlock()
	if got != 2 {
		t.Fatalf("expected 2 push messages, got %d", got)
	}

	c.mu.Lock()
	tokens := c.tokens
	c.mu.Unlock()
	if len(tokens) != 1 || tokens[0] != "ExponentPushToken[phone]" {
		t.Fatalf("expected stale token removed, got %v", tokens)
	}
}

func TestExpoClientRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(expoResponse{Data: []ExpoTicket{{Status: "ok"}}})
	}))
	defer srv.Close()

	client := NewExpoClient(WithExpoURL(srv.URL), withRetryBackoffs([]time.Duration{time.Millisecond}))
	if _, err := client.Send(context.Background(), []ExpoMessage{{To: "ExponentPushToken[a]"}}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("expected one retry, got %d calls", n)
	}
}

func TestExpoClientDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewExpoClient(WithExpoURL(srv.URL), withRetryBackoffs([]time.Duration{time.Millisecond, time.Millisecond}))
	if _, err := client.Send(context.Background(), []ExpoMessage{{To: "ExponentPushToken[a]"}}); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected a single attempt, got %d", n)
	}
}

func TestExpoClientBatches(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		sizes []int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []ExpoMessage
		json.NewDecoder(r.Body).Decode(&batch)
		mu.Lock()
		sizes = append(sizes, len(batch))
		mu.Unlock()
		json.NewEncoder(w).Encode(expoResponse{Data: make([]ExpoTicket, len(batch))})
	}))
	defer srv.Close()

	msgs := make([]ExpoMessage, maxBatchSize+5)
	if _, err := NewExpoClient(WithExpoURL(srv.URL)).Send(context.Background(), msgs); err != nil {
		t.Fatalf("send: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sizes) != 2 || sizes[0] != maxBatchSize || sizes[1] != 5 {
		t.Fatalf("unexpected batch sizes %v", sizes)
	}
}

func TestExpoClientGivesUpAfterBackoffs(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewExpoClient(WithExpoURL(srv.URL), withRetryBackoffs([]time.Duration{time.Millisecond, time.Millisecond}))
	_, err := client.Send(context.Background(), []ExpoMessage{{To: "ExponentPushToken[a]"}})
	if err == nil || !isTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}
