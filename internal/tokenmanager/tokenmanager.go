// Package tokenmanager maintains a freshly-valid OAuth2 client-credentials
// bearer token on behalf of a calling service (GC or MC, each an AC client),
// refreshing it in the background ahead of expiry.
package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/darktower/control-plane/internal/secret"
)

const (
	defaultRefreshSkew    = 60 * time.Second
	defaultStartupTimeout = 30 * time.Second
	defaultMaxBackoff     = 30 * time.Second
	initialBackoff        = 500 * time.Millisecond
)

// ErrNotReady is returned by TokenReceiver.Token when no token has ever
// been acquired.
var ErrNotReady = errors.New("tokenmanager: no token acquired yet")

// Config configures a Manager. ClientID/ClientSecret are the caller's
// AC-issued service-client credentials; TokenURL is AC's /oauth/token
// endpoint.
type Config struct {
	TokenURL       string
	ClientID       string
	ClientSecret   secret.Value[string]
	Scopes         []string
	RefreshSkew    time.Duration
	StartupTimeout time.Duration
	MaxBackoff     time.Duration
	// OnRefresh, if set, is invoked after every refresh attempt (success or
	// failure) so the caller can record per-service metrics.
	OnRefresh func(ok bool)
}

func (c Config) withDefaults() Config {
	if c.RefreshSkew <= 0 {
		c.RefreshSkew = defaultRefreshSkew
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = defaultStartupTimeout
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	return c
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// Manager acquires and refreshes a client-credentials bearer token.
type Manager struct {
	cfg    Config
	oauth  *clientcredentials.Config
	logger *slog.Logger
	cur    atomic.Pointer[cachedToken]
}

// NewManager constructs a Manager. Call Start to acquire the initial token
// and begin the background refresh loop.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg: cfg,
		oauth: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret.Expose(),
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		logger: logger,
	}
}

// Start acquires the initial token, bounded by Config.StartupTimeout, then
// spawns the background refresh loop. It returns once the initial token is
// acquired (or the startup timeout elapses); the loop continues under ctx
// until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	startupCtx, cancel := context.WithTimeout(ctx, m.cfg.StartupTimeout)
	defer cancel()

	tok, err := m.acquireWithRetry(startupCtx)
	if err != nil {
		return fmt.Errorf("acquiring initial token within startup timeout: %w", err)
	}
	m.store(tok)

	go m.refreshLoop(ctx)
	return nil
}

// Receiver returns a cheaply-clonable handle to this Manager's current
// token. Multiple Receivers share the same underlying cache.
func (m *Manager) Receiver() *TokenReceiver {
	return &TokenReceiver{cur: &m.cur}
}

func (m *Manager) refreshLoop(ctx context.Context) {
	for {
		cur := m.cur.Load()
		wait := time.Until(cur.expiresAt.Add(-m.cfg.RefreshSkew))
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		refreshCtx, cancel := context.WithTimeout(ctx, m.cfg.StartupTimeout)
		tok, err := m.acquireWithRetry(refreshCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("refreshing token failed, retaining last token until expiry", "error", err)
			if m.cfg.OnRefresh != nil {
				m.cfg.OnRefresh(false)
			}
			// Back off before trying again rather than hot-looping; the
			// stale token in the cache remains usable until it expires.
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.cfg.MaxBackoff):
			}
			continue
		}
		m.store(tok)
		if m.cfg.OnRefresh != nil {
			m.cfg.OnRefresh(true)
		}
	}
}

// acquireWithRetry fetches a token, retrying with jittered exponential
// backoff capped at MaxBackoff until ctx is done.
func (m *Manager) acquireWithRetry(ctx context.Context) (*oauth2.Token, error) {
	backoff := initialBackoff
	for {
		tok, err := m.oauth.Token(ctx)
		if err == nil {
			return tok, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		m.logger.Warn("acquiring token failed, retrying", "error", err, "backoff", backoff)
		jittered := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jittered):
		}

		backoff *= 2
		if backoff > m.cfg.MaxBackoff {
			backoff = m.cfg.MaxBackoff
		}
	}
}

func (m *Manager) store(tok *oauth2.Token) {
	m.cur.Store(&cachedToken{value: tok.AccessToken, expiresAt: tok.Expiry})
}

// TokenReceiver is a cheaply-clonable handle to a Manager's current token.
// Its zero value is not usable; construct one via Manager.Receiver or
// NewTestTokenReceiver.
type TokenReceiver struct {
	cur    *atomic.Pointer[cachedToken]
	testCh <-chan string
}

// NewTestTokenReceiver builds a TokenReceiver backed by a pre-filled
// channel, so unit tests exercising a token-consuming component don't need
// to spawn a real Manager. Each receive yields one Token() call's worth of
// value; the channel may be closed to simulate permanent unavailability.
func NewTestTokenReceiver(ch <-chan string) *TokenReceiver {
	return &TokenReceiver{testCh: ch}
}

// Token returns the current token, waiting on ctx if this is a
// channel-backed test receiver. It returns ErrNotReady if no token has
// ever been acquired yet.
func (r *TokenReceiver) Token(ctx context.Context) (secret.Value[string], error) {
	if r.testCh != nil {
		select {
		case tok, ok := <-r.testCh:
			if !ok {
				return secret.Value[string]{}, ErrNotReady
			}
			return secret.New(tok), nil
		case <-ctx.Done():
			return secret.Value[string]{}, ctx.Err()
		}
	}

	c := r.cur.Load()
	if c == nil {
		return secret.Value[string]{}, ErrNotReady
	}
	return secret.New(c.value), nil
}
