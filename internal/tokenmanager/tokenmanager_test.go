package tokenmanager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/darktower/control-plane/internal/secret"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// tokenServer serves /oauth/token and counts how many times it's hit,
// always granting a token that expires after ttl; a short ttl makes the
// refresh loop fire quickly in tests.
func tokenServer(t *testing.T, ttl time.Duration) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"token-%d","token_type":"Bearer","expires_in":%d}`, n, int(ttl.Seconds()))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestManagerAcquiresInitialToken(t *testing.T) {
	srv, _ := tokenServer(t, time.Hour)

	m := NewManager(Config{
		TokenURL:     srv.URL,
		ClientID:     "gc-1",
		ClientSecret: secret.New("s3cret"),
		Scopes:       []string{"mc:register"},
	}, noopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("starting manager: %v", err)
	}

	tok, err := m.Receiver().Token(context.Background())
	if err != nil {
		t.Fatalf("reading token: %v", err)
	}
	if tok.Expose() != "token-1" {
		t.Fatalf("expected token-1, got %s", tok.Expose())
	}
}

func TestManagerRefreshesAheadOfExpiry(t *testing.T) {
	srv, calls := tokenServer(t, 2*time.Second)

	m := NewManager(Config{
		TokenURL:     srv.URL,
		ClientID:     "gc-1",
		ClientSecret: secret.New("s3cret"),
		RefreshSkew:  2 * time.Second, // refresh almost immediately
		MaxBackoff:   100 * time.Millisecond,
	}, noopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("starting manager: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(calls) >= 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if got := atomic.LoadInt32(calls); got < 2 {
		t.Fatalf("expected at least 2 token acquisitions, got %d", got)
	}
}

func TestManagerStartFailsOnUnreachableAC(t *testing.T) {
	m := NewManager(Config{
		TokenURL:       "http://127.0.0.1:0/oauth/token",
		ClientID:       "gc-1",
		ClientSecret:   secret.New("s3cret"),
		StartupTimeout: 150 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	}, noopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err == nil {
		t.Fatal("expected Start to fail when AC is unreachable within the startup timeout")
	}
}

func TestTokenReceiverNotReadyBeforeAcquisition(t *testing.T) {
	r := &TokenReceiver{}
	if _, err := r.Token(context.Background()); err != ErrNotReady {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestTestTokenReceiverServesFromChannel(t *testing.T) {
	ch := make(chan string, 1)
	ch <- "fixed-test-token"

	r := NewTestTokenReceiver(ch)
	tok, err := r.Token(context.Background())
	if err != nil {
		t.Fatalf("reading token: %v", err)
	}
	if tok.Expose() != "fixed-test-token" {
		t.Fatalf("expected fixed-test-token, got %s", tok.Expose())
	}
}

func TestTestTokenReceiverReturnsNotReadyWhenChannelClosed(t *testing.T) {
	ch := make(chan string)
	close(ch)

	r := NewTestTokenReceiver(ch)
	if _, err := r.Token(context.Background()); err != ErrNotReady {
		t.Fatalf("expected ErrNotReady on closed channel, got %v", err)
	}
}
