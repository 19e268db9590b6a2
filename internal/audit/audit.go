// Package audit implements the async, buffered writer that persists every
// AC auth decision to auth_events, per spec §4.3: "Every auth decision
// emits an audit event (client_id, outcome, reason-class; never secret
// values)."
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is a single auth_events row to be written. Detail must never
// contain client_secret, master_key, private_key, or any raw Secret<...>
// value — callers build it from already-sanitized fields.
type Entry struct {
	ClientID  string
	Action    string // e.g. "token_issue", "client_register", "key_rotate"
	Outcome   string // "success" | "failure"
	Reason    string // reason-class; empty on success
	Detail    json.RawMessage
	IPAddress *netip.Addr
	UserAgent *string
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// Writer is an async, buffered audit log writer. Entries are sent to an
// internal channel and flushed by a background goroutine so that a slow or
// unreachable database never adds latency to the auth hot path.
type Writer struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

// NewWriter creates an audit Writer. Call Start to begin processing entries.
func NewWriter(pool *pgxpool.Pool, logger *slog.Logger) *Writer {
	return &Writer{
		pool:    pool,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start begins the background goroutine that flushes audit entries to the
// database and returns immediately. The goroutine exits once ctx is
// cancelled and the pending entries are flushed.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an audit entry for async writing. It never blocks the
// caller; if the buffer is full the entry is dropped and a warning is
// logged, per spec §7's "background tasks... never take the process down".
func (w *Writer) Log(entry Entry) {
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit log buffer full, dropping entry",
			"action", entry.Action, "client_id", entry.ClientID)
	}
}

// LogFromRequest is a convenience method that extracts the client IP and
// user agent from the request, then enqueues the entry.
func (w *Writer) LogFromRequest(r *http.Request, clientID, action, outcome, reason string, detail json.RawMessage) {
	entry := Entry{
		ClientID: clientID,
		Action:   action,
		Outcome:  outcome,
		Reason:   reason,
		Detail:   detail,
	}

	ip := clientIP(r)
	if ip.IsValid() {
		entry.IPAddress = &ip
	}
	if ua := r.Header.Get("User-Agent"); ua != "" {
		entry.UserAgent = &ua
	}

	w.Log(entry)
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, e := range entries {
		_, err := w.pool.Exec(ctx, `
			INSERT INTO auth_events (client_id, action, outcome, reason, detail, ip_address, user_agent, occurred_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, now())`,
			e.ClientID, e.Action, e.Outcome, e.Reason, e.Detail, e.IPAddress, e.UserAgent,
		)
		if err != nil {
			w.logger.Error("writing audit event", "error", err, "action", e.Action, "client_id", e.ClientID)
		}
	}
}

// clientIP extracts the client IP address from the request, preferring
// X-Forwarded-For and X-Real-IP headers over RemoteAddr.
func clientIP(r *http.Request) netip.Addr {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if addr, err := netip.ParseAddr(strings.TrimSpace(parts[0])); err == nil {
			return addr
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, _ := netip.ParseAddr(host)
	return addr
}
