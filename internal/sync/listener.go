package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marcus/riff/internal/models"
	"github.com/marcus/riff/internal/remote"
)

// ChangeListener subscribes to the remote change feed of every record type.
// It never touches the local store: each notification batch only raises a
// signal, and the coordinator answers it with an incremental sync.
type ChangeListener struct {
	remote remote.Store
	userID string
	signal func(changes int)
	log    *slog.Logger

	// OnAuthError is called when a subscription is rejected for credentials;
	// that type's subscription then stops.
	OnAuthError func(error)

	// Backoff bounds between resubscribe attempts.
	RetryMin, RetryMax time.Duration
}

// NewChangeListener builds a listener that calls signal once per batch.
func NewChangeListener(r remote.Store, userID string, signal func(changes int), logger *slog.Logger) *ChangeListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeListener{
		remote:   r,
		userID:   userID,
		signal:   signal,
		log:      logger,
		RetryMin: time.Second,
		RetryMax: 5 * time.Minute,
	}
}

// Run subscribes to every record type and blocks until ctx is done.
func (l *ChangeListener) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range models.AllRecordTypes() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.follow(ctx, t)
		}()
	}
	wg.Wait()
}

// follow keeps one subscription alive, resubscribing with backoff.
func (l *ChangeListener) follow(ctx context.Context, t models.RecordType) {
	backoff := NewBackoff(l.RetryMin, l.RetryMax)
	for {
		ch, stop, err := l.remote.Subscribe(ctx, l.userID, t)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if remote.IsAuth(err) {
				l.log.Warn("change feed rejected", "type", t, "err", err)
				if l.OnAuthError != nil {
					l.OnAuthError(err)
				}
				return
			}
			l.log.Debug("change feed unavailable", "type", t, "err", err)
		} else {
			l.log.Debug("change feed open", "type", t)
			if l.consume(ctx, ch) {
				backoff.Reset()
			}
			stop()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff.Next()):
		}
	}
}

// consume forwards batches until the stream ends. It reports whether any
// batch arrived.
func (l *ChangeListener) consume(ctx context.Context, ch <-chan []remote.ChangeEvent) bool {
	got := false
	for {
		select {
		case <-ctx.Done():
			return got
		case batch, ok := <-ch:
			if !ok {
				return got
			}
			got = true
			if len(batch) > 0 {
				l.signal(len(batch))
			}
		}
	}
}
