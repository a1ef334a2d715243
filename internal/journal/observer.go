package journal

import (
	"context"
	"sync"
	"time"

	"github.com/park285/Cheese-LiveMatch/internal/livematch"
	"github.com/park285/Cheese-LiveMatch/internal/obslog"
	"go.uber.org/zap"
)

const defaultRecorderBuffer = 64

type record struct {
	change livematch.Change
	view   livematch.View
}

// Recorder writes snapshot and outcome changes of a live match client from
// its own goroutine. Observe never waits on Redis; when the buffer is full the
// change is dropped and logged.
type Recorder struct {
	logger *zap.Logger
	write  func(ctx context.Context, r record) error

	mu     sync.Mutex
	closed bool
	queue  chan record
	done   chan struct{}
}

// Recorder starts a writer with room for buffer pending changes (<=0 uses the default).
func (s *Store) Recorder(logger *zap.Logger, buffer int) *Recorder {
	return newRecorder(obslog.Or(logger).With(zap.String("component", "journal")), buffer, s.record)
}

func newRecorder(logger *zap.Logger, buffer int, write func(context.Context, record) error) *Recorder {
	if buffer <= 0 {
		buffer = defaultRecorderBuffer
	}
	r := &Recorder{
		logger: logger,
		write:  write,
		queue:  make(chan record, buffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Observe is a livematch.Observer.
func (r *Recorder) Observe(change livematch.Change, v livematch.View) {
	if change != livematch.ChangeSnapshot && change != livematch.ChangeOutcome {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- record{change: change, view: v}:
	default:
		r.logger.Warn("journal_drop", zap.String("match_id", v.MatchID), zap.String("change", string(change)))
	}
}

// Close stops accepting changes and waits for queued writes to finish.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := r.write(ctx, rec); err != nil {
			r.logger.Warn("journal_write_error",
				zap.String("match_id", rec.view.MatchID),
				zap.String("change", string(rec.change)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (s *Store) record(ctx context.Context, r record) error {
	v := r.view
	switch r.change {
	case livematch.ChangeSnapshot:
		return s.Append(ctx, Entry{
			MatchID:          v.MatchID,
			FEN:              v.Session.FEN,
			Status:           string(v.Session.Status),
			SideToMove:       string(v.Session.SideToMove),
			Moves:            v.Session.Moves,
			WhiteRemainingMs: v.Clock.WhiteRemainingMs,
			BlackRemainingMs: v.Clock.BlackRemainingMs,
			RecordedAt:       time.Now().UTC(),
		})
	case livematch.ChangeOutcome:
		if v.Outcome == nil {
			return nil
		}
		return s.SaveOutcome(ctx, OutcomeRecord{
			MatchID:  v.MatchID,
			PlayerID: v.LocalPlayerID,
			Result:   string(v.Outcome.Result),
			WinnerID: v.Outcome.WinnerID,
			Reason:   v.Outcome.Reason,
			At:       v.Outcome.At.UTC(),
		})
	}
	return nil
}
