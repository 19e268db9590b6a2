package gc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PlacementEvent is a single placement_events row: one per AssignMeeting
// decision, per SPEC_FULL.md's supplemented audit-persistence feature.
type PlacementEvent struct {
	MeetingID string
	MCID      string // empty when no MC was assigned
	Outcome   string // "assigned" | "reused" | "rejected" | "error"
	Reason    string // empty on success
}

const (
	placementBufferSize    = 256
	placementFlushInterval = 2 * time.Second
	placementFlushBatch    = 32
)

// PlacementWriter is an async, buffered writer for placement decisions,
// grounded on internal/audit.Writer's same bounded-channel-plus-ticker
// shape so GC's placement trail never adds latency to the assignment path.
type PlacementWriter struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	entries chan PlacementEvent
	wg      sync.WaitGroup
}

// NewPlacementWriter creates a PlacementWriter. Call Start to begin
// processing entries.
func NewPlacementWriter(pool *pgxpool.Pool, logger *slog.Logger) *PlacementWriter {
	return &PlacementWriter{
		pool:    pool,
		logger:  logger,
		entries: make(chan PlacementEvent, placementBufferSize),
	}
}

// Start begins the background goroutine that flushes placement events to
// the database and returns immediately. The goroutine exits once ctx is
// cancelled and the pending entries are flushed.
func (w *PlacementWriter) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *PlacementWriter) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues a placement event for async writing. It never blocks the
// caller; if the buffer is full the entry is dropped and a warning logged.
func (w *PlacementWriter) Log(event PlacementEvent) {
	select {
	case w.entries <- event:
	default:
		w.logger.Warn("placement audit buffer full, dropping entry",
			"meeting_id", event.MeetingID, "outcome", event.Outcome)
	}
}

func (w *PlacementWriter) run(ctx context.Context) {
	ticker := time.NewTicker(placementFlushInterval)
	defer ticker.Stop()

	batch := make([]PlacementEvent, 0, placementFlushBatch)

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
			if len(batch) >= placementFlushBatch {
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

func (w *PlacementWriter) flush(entries []PlacementEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, e := range entries {
		var mcID *string
		if e.MCID != "" {
			mcID = &e.MCID
		}
		_, err := w.pool.Exec(ctx, `
			INSERT INTO placement_events (id, meeting_id, mc_id, outcome, reason, occurred_at)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), now())`,
			uuid.New(), e.MeetingID, mcID, e.Outcome, e.Reason,
		)
		if err != nil {
			w.logger.Error("writing placement event", "error", err, "meeting_id", e.MeetingID)
		}
	}
}
