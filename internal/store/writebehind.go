package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// writeBehindDepth bounds queued updates before Enqueue blocks.
const writeBehindDepth = 1024

// VitalsUpdate is the coalesced per-agent snapshot the write-behind
// queue persists: vitals, mood and the interaction stamp.
type VitalsUpdate struct {
	AgentID           string
	Hunger            float64
	Fatigue           float64
	MoodLabel         string
	Arousal           float64
	Valence           float64
	LastInteractionAt int64
}

// WriteBehind coalesces high-churn vitals/mood writes per agent and
// flushes them on a fixed window. Later updates for the same agent
// replace earlier ones, so the store sees at most one write per agent
// per window. Enqueue blocks once the queue is full.
type WriteBehind struct {
	store  *Store
	window time.Duration

	mu      sync.Mutex
	pending map[string]VitalsUpdate

	updates chan VitalsUpdate
	stop    chan struct{}
	done    chan struct{}
}

// NewWriteBehind starts the flush loop. window must be positive; the
// contract caps it at 2 s.
func NewWriteBehind(s *Store, window time.Duration) *WriteBehind {
	if window <= 0 || window > 2*time.Second {
		window = 2 * time.Second
	}
	w := &WriteBehind{
		store:   s,
		window:  window,
		pending: make(map[string]VitalsUpdate),
		updates: make(chan VitalsUpdate, writeBehindDepth),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

// Enqueue queues an update for the next flush. Blocks when the queue is
// full until the flusher catches up or ctx is canceled.
func (w *WriteBehind) Enqueue(ctx context.Context, u VitalsUpdate) error {
	select {
	case w.updates <- u:
		return nil
	case <-w.stop:
		return fmt.Errorf("store: write-behind closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of agents with unflushed updates.
func (w *WriteBehind) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending) + len(w.updates)
}

// Flush writes every pending update now. Safe to call concurrently with
// the loop.
func (w *WriteBehind) Flush(ctx context.Context) error {
	w.drain()
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]VitalsUpdate)
	w.mu.Unlock()

	for id, u := range batch {
		if err := w.store.UpdateAgentVitals(ctx, u); err != nil {
			// Put the failed update back so the next flush retries it.
			w.mu.Lock()
			if _, exists := w.pending[id]; !exists {
				w.pending[id] = u
			}
			w.mu.Unlock()
			return err
		}
	}
	return nil
}

// Close stops the loop and flushes whatever is left.
func (w *WriteBehind) Close() error {
	close(w.stop)
	<-w.done
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return w.Flush(ctx)
}

func (w *WriteBehind) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.window)
	defer ticker.Stop()

	for {
		select {
		case u := <-w.updates:
			w.coalesce(u)
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), w.window)
			_ = w.Flush(ctx)
			cancel()
		case <-w.stop:
			return
		}
	}
}

// drain moves everything queued on the channel into the pending map.
func (w *WriteBehind) drain() {
	for {
		select {
		case u := <-w.updates:
			w.coalesce(u)
		default:
			return
		}
	}
}

func (w *WriteBehind) coalesce(u VitalsUpdate) {
	w.mu.Lock()
	w.pending[u.AgentID] = u
	w.mu.Unlock()
}
