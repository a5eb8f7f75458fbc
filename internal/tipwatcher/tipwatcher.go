// Package tipwatcher implements the Communitas core's tip watcher
// (C9): a single background goroutine per container that polls the
// local op-log tip at a configurable interval, emits TipChanged events
// when it advances, and on each tick also nudges every known peer for
// deltas via C8 — backing off a peer exponentially (up to 12h) after
// repeated fetch failures against it. Cancellation follows a
// ticker-driven Run(ctx) shape; the handle/respawn/one-shot-cancel
// lifecycle mirrors sync.rs's TipWatcherState.
package tipwatcher

import (
	"context"
	"sync"
	"time"

	"github.com/saorsalabs/communitas/internal/hlc"
	"github.com/saorsalabs/communitas/internal/metrics"
	"github.com/saorsalabs/communitas/internal/oplog"
)

const (
	DefaultPollInterval = time.Second
	DefaultMaxBackoff   = 12 * time.Hour
	DefaultMaxRetries   = 8
)

// TipChanged is emitted whenever CurrentTip() advances.
type TipChanged struct {
	Root  [32]byte
	Count uint64
	At    hlc.Timestamp
}

// TipSource is the subset of the engine the watcher polls.
type TipSource interface {
	CurrentTip() oplog.Tip
}

// PeerSyncer fetches deltas from one peer and applies them to the
// local log, returning an error (of any of the C8 failure kinds) on
// failure.
type PeerSyncer interface {
	SyncPeer(ctx context.Context, peerAddr string) error
}

type peerState struct {
	failures int
	nextTry  time.Time
}

// Watcher owns exactly one background polling goroutine; Start/Stop
// may be called repeatedly (stopping a stopped watcher is a no-op),
// matching sync_start_tip_watcher's "stop any existing watcher first"
// idiom.
type Watcher struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	events chan TipChanged
	clock  *hlc.Clock

	poll       time.Duration
	maxBackoff time.Duration
	maxRetries int

	peers      map[string]*peerState

	metrics *metrics.Registry
}

// SetMetrics attaches a metrics.Registry the watcher records sync
// attempts and tip advances against. Nil (the default) disables
// recording without any extra branching at call sites.
func (w *Watcher) SetMetrics(m *metrics.Registry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.metrics = m
}

func (w *Watcher) currentMetrics() *metrics.Registry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

func New(clock *hlc.Clock, pollInterval time.Duration) *Watcher {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Watcher{
		clock:      clock,
		poll:       pollInterval,
		maxBackoff: DefaultMaxBackoff,
		maxRetries: DefaultMaxRetries,
		events:     make(chan TipChanged, 16),
		peers:      make(map[string]*peerState),
	}
}

// Events returns the channel TipChanged notifications are delivered
// on. The channel is shared across Start/Stop cycles.
func (w *Watcher) Events() <-chan TipChanged { return w.events }

// AddPeer registers a peer address to nudge for deltas on every poll.
func (w *Watcher) AddPeer(addr string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.peers[addr]; !ok {
		w.peers[addr] = &peerState{}
	}
}

// RemovePeer stops nudging addr.
func (w *Watcher) RemovePeer(addr string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.peers, addr)
}

// Start begins polling source, stopping any watcher already running.
// syncer may be nil to disable peer delta pulls (local-only mode).
func (w *Watcher) Start(ctx context.Context, source TipSource, syncer PeerSyncer) {
	w.Stop()

	w.mu.Lock()
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	go w.run(runCtx, done, source, syncer)
}

// Stop cancels the running watcher, if any, and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *Watcher) run(ctx context.Context, done chan struct{}, source TipSource, syncer PeerSyncer) {
	defer close(done)

	var lastTip *oplog.Tip
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if source != nil {
			tip := source.CurrentTip()
			if lastTip == nil || tip.Root != lastTip.Root || tip.Count != lastTip.Count {
				t := tip
				lastTip = &t
				w.currentMetrics().ObserveTipAdvance()
				w.emit(TipChanged{Root: tip.Root, Count: tip.Count, At: w.clock.Tick()})
			}
		}

		if syncer != nil {
			w.syncDuePeers(ctx, syncer)
		}
	}
}

func (w *Watcher) syncDuePeers(ctx context.Context, syncer PeerSyncer) {
	now := time.Now()
	w.mu.Lock()
	due := make([]string, 0, len(w.peers))
	for addr, st := range w.peers {
		if now.After(st.nextTry) || now.Equal(st.nextTry) {
			due = append(due, addr)
		}
	}
	w.mu.Unlock()

	for _, addr := range due {
		err := syncer.SyncPeer(ctx, addr)
		w.currentMetrics().ObserveDeltaFetch(addr, err)
		w.mu.Lock()
		st, ok := w.peers[addr]
		if ok {
			if err != nil {
				st.failures++
				st.nextTry = now.Add(backoff(w.poll, w.maxBackoff, st.failures, w.maxRetries))
			} else {
				st.failures = 0
				st.nextTry = time.Time{}
			}
		}
		w.mu.Unlock()
	}
}

func (w *Watcher) emit(ev TipChanged) {
	select {
	case w.events <- ev:
	default:
		// Drop the oldest pending event rather than block the poll
		// loop; CurrentTip() always reflects the latest state, so a
		// slow consumer catches up on its next read regardless.
		select {
		case <-w.events:
		default:
		}
		select {
		case w.events <- ev:
		default:
		}
	}
}

// backoff doubles interval per consecutive failure up to maxRetries,
// capped at maxBackoff; beyond maxRetries it stays at the cap.
func backoff(base, maxBackoff time.Duration, failures, maxRetries int) time.Duration {
	if failures <= 0 {
		return base
	}
	if failures > maxRetries {
		failures = maxRetries
	}
	d := base
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
