package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/voicestage/internal/core"
	"github.com/dkeye/voicestage/internal/domain"
	"github.com/rs/zerolog/log"
)

// Writer is where recorded transitions end up.
type Writer interface {
	Save(ctx context.Context, r domain.MicRequest) error
}

// LogWriter only logs; it stands in when no database is configured.
type LogWriter struct{}

func (LogWriter) Save(_ context.Context, r domain.MicRequest) error {
	log.Debug().Str("module", "history").Uint64("request", uint64(r.ID)).Str("room", string(r.RoomID)).
		Str("user", string(r.UserID)).Str("status", string(r.Status)).Msg("mic request")
	return nil
}

const DefaultRecorderBuffer = 1024

// Recorder is a non-blocking History: transitions are queued and written
// by one goroutine in order. A full queue drops the record and logs it.
type Recorder struct {
	w       Writer
	queue   chan domain.MicRequest
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

func NewRecorder(w Writer, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = DefaultRecorderBuffer
	}
	return &Recorder{
		w:       w,
		queue:   make(chan domain.MicRequest, buffer),
		timeout: 3 * time.Second,
		done:    make(chan struct{}),
	}
}

var _ core.History = (*Recorder)(nil)

func (r *Recorder) Record(req domain.MicRequest) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- req:
	default:
		r.dropped.Add(1)
		log.Warn().Str("module", "history").Uint64("request", uint64(req.ID)).Str("status", string(req.Status)).Msg("history queue full, record dropped")
	}
}

// Run drains the queue until Close; it is meant to run in its own goroutine.
func (r *Recorder) Run() {
	defer close(r.done)
	for req := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.w.Save(ctx, req); err != nil {
			log.Error().Err(err).Str("module", "history").Uint64("request", uint64(req.ID)).Msg("history write failed")
		}
		cancel()
	}
}

// Close stops accepting records and waits until queued ones are written
// or ctx expires.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) Dropped() int64 { return r.dropped.Load() }
