package db

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/banshee-data/motiongen/internal/dispatch"
)

// RecorderConfig tunes how commands reach the run log.
type RecorderConfig struct {
	// Every keeps one command in Every, starting with the first. Zero
	// disables recording.
	Every int
	// Buffer is the queue between the control loop and the writer.
	Buffer int
	// Batch is the most commands written per transaction.
	Batch int
	// FlushInterval bounds how long a partial batch waits.
	FlushInterval time.Duration
	Logger        zerolog.Logger
}

// RecorderStats counts recorder traffic.
type RecorderStats struct {
	Written uint64 `json:"written"`
	Skipped uint64 `json:"skipped"`
	Dropped uint64 `json:"dropped"`
	Errors  uint64 `json:"errors"`
}

// Recorder is a dispatch.Sink that writes commands to the run log on its
// own goroutine. A full queue drops commands rather than stall the loop.
type Recorder struct {
	db    *DB
	runID string
	cfg   RecorderConfig
	log   zerolog.Logger

	ch        chan *dispatch.Command
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}

	seen    atomic.Uint64
	written atomic.Uint64
	skipped atomic.Uint64
	dropped atomic.Uint64
	errors  atomic.Uint64
}

func NewRecorder(db *DB, runID string, cfg RecorderConfig) *Recorder {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 250 * time.Millisecond
	}
	r := &Recorder{
		db:    db,
		runID: runID,
		cfg:   cfg,
		log:   cfg.Logger.With().Str("component", "recorder").Str("run", runID).Logger(),
		ch:    make(chan *dispatch.Command, cfg.Buffer),
		done:  make(chan struct{}),
	}
	go r.writer()
	return r
}

// Publish queues cmd if it falls on the recording cadence.
func (r *Recorder) Publish(cmd *dispatch.Command) {
	n := r.seen.Add(1)
	if r.cfg.Every <= 0 || (n-1)%uint64(r.cfg.Every) != 0 {
		r.skipped.Add(1)
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.ch <- cmd.Clone():
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) writer() {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*dispatch.Command, 0, r.cfg.Batch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.db.InsertCommands(context.Background(), r.runID, batch); err != nil {
			r.errors.Add(1)
			r.log.Error().Err(err).Int("commands", len(batch)).Msg("failed to record commands")
		} else {
			r.written.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case cmd, ok := <-r.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, cmd)
			if len(batch) >= r.cfg.Batch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close flushes queued commands and stops the writer. Later Publish calls
// are dropped.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.ch)
		r.mu.Unlock()
	})
	<-r.done
	return nil
}

func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Written: r.written.Load(),
		Skipped: r.skipped.Load(),
		Dropped: r.dropped.Load(),
		Errors:  r.errors.Load(),
	}
}
