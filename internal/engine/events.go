package engine

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/qliqsoft/adbridge/internal/store"
)

// Origin is the triggering subsystem of an event, per spec §4.H
// ("type ∈ {Sync, WebPush, Auth}"). Named Origin rather than Type to avoid
// shadowing the builtin.
type Origin string

const (
	OriginSync    Origin = "Sync"
	OriginWebPush Origin = "WebPush"
	OriginAuth    Origin = "Auth"
)

// Category is the severity of an event.
type Category string

const (
	CategoryInfo  Category = "Info"
	CategoryWarn  Category = "Warn"
	CategoryError Category = "Error"
)

// recordEvent appends one event and mirrors it to the structured logger.
// It is always invoked directly at the point an event occurs (never
// queued or batched), so the logger's call-site attribution matches the
// event's true origin — the Go analogue of the source's macro-embedded
// logging (spec §9 design notes). callerLocation captures the call site
// one frame above this function, i.e. the caller that raised the event,
// so the persisted row keeps file/line provenance.
func recordEvent(ctx context.Context, s Store, logger *slog.Logger, origin Origin, category Category, message string, dur time.Duration) {
	file, line := callerLocation()

	e := store.EventRow{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		Origin:     string(origin),
		Category:   string(category),
		Message:    message,
		DurationMS: dur.Milliseconds(),
		File:       file,
		Line:       line,
	}

	if err := s.InsertEvent(ctx, e); err != nil {
		logger.Error("engine: failed to persist event", "error", err, "message", message)
	}

	attrs := []any{slog.String("origin", string(origin)), slog.String("file", file), slog.Int("line", line)}

	switch category {
	case CategoryError:
		logger.Error(message, attrs...)
	case CategoryWarn:
		logger.Warn(message, attrs...)
	default:
		logger.Info(message, attrs...)
	}
}

// callerLocation returns the file/line of recordEvent's caller. Skip 2:
// skip 0 is callerLocation itself, skip 1 is recordEvent.
func callerLocation() (string, int) {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "", 0
	}

	return file, line
}

// pruneOldEvents deletes events older than retentionDays — "events older
// than N days (default 30) are pruned at the start of each sync" (spec §3).
func pruneOldEvents(ctx context.Context, s Store, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	return s.PruneEventsOlderThan(ctx, cutoff)
}
