package sync

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcus/riff/internal/models"
	"github.com/marcus/riff/internal/remote"
	"github.com/marcus/riff/internal/remote/remotetest"
)

func TestChangeListenerSignals(t *testing.T) {
	mem := remotetest.NewMemStore()
	signals := make(chan int, 8)
	l := NewChangeListener(mem, testUser, func(n int) { signals <- n }, nil)
	l.RetryMin, l.RetryMax = 5*time.Millisecond, 20*time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	types := len(models.AllRecordTypes())
	waitFor(t, "subscriptions", func() bool { return mem.Subscribers() == types })

	mem.Seed(testUser, goalRec("g1", "x", at(1)), goalRec("g2", "y", at(1)))
	select {
	case n := <-signals:
		if n != 2 {
			t.Errorf("signal carried %d changes, want 2", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no signal for remote change")
	}

	// A dropped stream is re-established.
	mem.DropSubscribers()
	waitFor(t, "resubscribe", func() bool { return mem.Calls("Subscribe") >= 2*types && mem.Subscribers() == types })
	mem.Seed(testUser, goalRec("g3", "z", at(2)))
	select {
	case <-signals:
	case <-time.After(2 * time.Second):
		t.Fatal("no signal after resubscribe")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestChangeListenerStopsOnAuthError(t *testing.T) {
	mem := remotetest.NewMemStore()
	mem.Fail = func(string) error { return remote.ErrForbidden }

	var authErrors atomic.Int32
	l := NewChangeListener(mem, testUser, func(int) { t.Error("unexpected signal") }, nil)
	l.OnAuthError = func(error) { authErrors.Add(1) }

	done := make(chan struct{})
	go func() {
		l.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener kept retrying after an auth failure")
	}
	if got := int(authErrors.Load()); got != len(models.AllRecordTypes()) {
		t.Errorf("auth errors = %d, want one per type", got)
	}
}

func TestAutoSyncFollowsRemoteChanges(t *testing.T) {
	mem := remotetest.NewMemStore()
	d := newDevice(t, mem, newTickClock(), StrategyLatest)

	if err := d.c.StartAutoSync(time.Hour); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !d.c.AutoSyncRunning() {
		t.Fatal("auto-sync not running")
	}
	waitFor(t, "initial sync", func() bool {
		st, _ := d.c.Status()
		return !st.LastSyncTime.IsZero()
	})
	waitFor(t, "subscriptions", func() bool { return mem.Subscribers() == len(models.AllRecordTypes()) })

	mem.Seed(testUser, goalRec("pushed", "from another device", at(1)))
	waitFor(t, "remote change applied", func() bool {
		rec, _ := d.local.Get(models.TypeGoal, "pushed")
		return rec != nil
	})

	d.c.StopAutoSync()
	if d.c.AutoSyncRunning() {
		t.Error("auto-sync still running after stop")
	}
}

func TestAutoSyncRecoversFromOffline(t *testing.T) {
	mem := remotetest.NewMemStore()
	d := newDevice(t, mem, newTickClock(), StrategyLatest)

	mem.SetOffline(true)
	rec := d.write(t, "", "queued while offline")
	if d.c.State() != StateOffline {
		t.Fatalf("state = %s", d.c.State())
	}
	if err := d.c.StartAutoSync(time.Hour); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "probing", func() bool { return mem.Calls("Ping") > 0 })

	mem.SetOffline(false)
	waitFor(t, "back online", func() bool {
		_, ok := mem.Get(testUser, models.TypeGoal, rec.ID)
		return ok && d.c.State() == StateIdle
	})
	if n, _ := d.local.QueueLen(); n != 0 {
		t.Errorf("queue len = %d after recovery", n)
	}
}

func TestNotifyConnectivityLost(t *testing.T) {
	d := newDevice(t, remotetest.NewMemStore(), newTickClock(), StrategyLatest)
	notes, cancel := d.c.Subscribe(4)
	defer cancel()

	d.c.NotifyConnectivity(false)
	if d.c.State() != StateOffline {
		t.Fatalf("state = %s", d.c.State())
	}
	n := <-notes
	if n.Kind != NoteStateChanged || n.State != StateOffline {
		t.Errorf("notification = %+v", n)
	}
}
