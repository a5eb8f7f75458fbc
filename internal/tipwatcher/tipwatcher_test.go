package tipwatcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saorsalabs/communitas/internal/hlc"
	"github.com/saorsalabs/communitas/internal/oplog"
)

type fakeSource struct {
	tip atomic.Value
}

func newFakeSource(t oplog.Tip) *fakeSource {
	f := &fakeSource{}
	f.tip.Store(t)
	return f
}

func (f *fakeSource) CurrentTip() oplog.Tip { return f.tip.Load().(oplog.Tip) }
func (f *fakeSource) set(t oplog.Tip)       { f.tip.Store(t) }

func TestEmitsOnTipChange(t *testing.T) {
	source := newFakeSource(oplog.Tip{Count: 0})
	w := New(hlc.New(), 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx, source, nil)
	defer w.Stop()

	source.set(oplog.Tip{Count: 1, Root: [32]byte{1}})

	select {
	case ev := <-w.Events():
		require.EqualValues(t, 1, ev.Count)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for TipChanged event")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	w := New(hlc.New(), 20*time.Millisecond)
	w.Stop()
	w.Stop()
}

type failingSyncer struct {
	calls int32
}

func (f *failingSyncer) SyncPeer(_ context.Context, _ string) error {
	atomic.AddInt32(&f.calls, 1)
	return errAlways
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

const errAlways = simpleErr("always fails")

func TestPeerBackoffReducesRetryFrequency(t *testing.T) {
	source := newFakeSource(oplog.Tip{})
	syncer := &failingSyncer{}
	w := New(hlc.New(), 10*time.Millisecond)
	w.AddPeer("peer1:4433")

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx, source, syncer)
	time.Sleep(150 * time.Millisecond)
	cancel()
	w.Stop()

	calls := atomic.LoadInt32(&syncer.calls)
	require.Greater(t, calls, int32(0))
	// With exponential backoff the peer should NOT be retried on every
	// 10ms tick across 150ms (15 ticks) once failures accumulate.
	require.Less(t, calls, int32(15))
}
