package sync

import (
	"context"
	"time"
)

// Trigger reasons
const (
	triggerTimer        = "timer"
	triggerVisible      = "visible"
	triggerConnectivity = "connectivity"
	triggerReauth       = "reauth"
	triggerRemote       = "remote-change"
)

// StartAutoSync runs the background loop: a periodic incremental sync, the
// change listener, the connectivity prober and the Notify* triggers. Calling
// it again restarts the loop with the new interval.
func (c *Coordinator) StartAutoSync(interval time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	c.StopAutoSync()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.autoMu.Lock()
	c.autoCancel = cancel
	c.autoDone = done
	c.autoMu.Unlock()

	listener := NewChangeListener(c.remote, c.userID, c.NotifyRemoteChange, c.log)
	listener.OnAuthError = c.noteRemoteError

	go func() {
		defer close(done)
		lctx, lcancel := context.WithCancel(ctx)
		ldone := make(chan struct{})
		go func() {
			defer close(ldone)
			listener.Run(lctx)
		}()
		c.loop(ctx, interval)
		lcancel()
		<-ldone
	}()

	c.log.Info("auto-sync started", "interval", interval)
	c.requestSync(triggerTimer)
	return nil
}

// StopAutoSync stops the background loop and waits for it to exit.
func (c *Coordinator) StopAutoSync() {
	c.autoMu.Lock()
	cancel, done := c.autoCancel, c.autoDone
	c.autoCancel, c.autoDone = nil, nil
	c.autoMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.log.Info("auto-sync stopped")
}

// AutoSyncRunning reports whether the background loop is active.
func (c *Coordinator) AutoSyncRunning() bool {
	c.autoMu.Lock()
	defer c.autoMu.Unlock()
	return c.autoCancel != nil
}

// NotifyConnectivity reports a connectivity change from the host.
func (c *Coordinator) NotifyConnectivity(online bool) {
	if !online {
		c.setState(StateOffline)
		return
	}
	c.requestSync(triggerConnectivity)
}

// NotifyVisible reports that the app came back to the foreground.
func (c *Coordinator) NotifyVisible() {
	c.requestSync(triggerVisible)
}

// NotifyReauthenticated clears the auth block after new credentials were saved.
func (c *Coordinator) NotifyReauthenticated() error {
	if err := c.local.SetAuthRequired(false); err != nil {
		return err
	}
	c.requestSync(triggerReauth)
	return nil
}

// NotifyRemoteChange is the change listener's signal. The batch itself is not
// applied; it only schedules an incremental sync, which reads the remote afresh.
func (c *Coordinator) NotifyRemoteChange(n int) {
	c.log.Debug("remote change signalled", "changes", n)
	c.requestSync(triggerRemote)
}

// requestSync schedules a cycle on the background loop. Requests made while
// one is pending collapse into it.
func (c *Coordinator) requestSync(reason string) {
	select {
	case c.trigger <- reason:
	default:
	}
}

func (c *Coordinator) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	backoff := NewBackoff(c.opts.ProbeMin, c.opts.ProbeMax)
	var probe *time.Timer
	stopProbe := func() {
		if probe != nil {
			probe.Stop()
			probe = nil
		}
	}
	defer stopProbe()

	for {
		if c.State() == StateOffline && probe == nil {
			probe = time.NewTimer(backoff.Next())
		}
		var probeC <-chan time.Time
		if probe != nil {
			probeC = probe.C
		}

		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if c.State() != StateOffline {
				c.autoCycle(ctx, triggerTimer)
			}

		case <-c.wake:
			// went offline; the prober starts at the top of the loop

		case reason := <-c.trigger:
			if c.State() == StateOffline && reason != triggerConnectivity && reason != triggerReauth {
				// Only connectivity leaves Offline; anything else probes early.
				stopProbe()
				backoff.Reset()
				continue
			}
			stopProbe()
			backoff.Reset()
			c.autoCycle(ctx, reason)

		case <-probeC:
			probe = nil
			if c.probe(ctx) {
				backoff.Reset()
				c.autoCycle(ctx, triggerConnectivity)
			}
		}
	}
}

// probe checks reachability while offline.
func (c *Coordinator) probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	if err := c.remote.Ping(pctx); err != nil {
		c.log.Debug("connectivity probe failed", "err", err)
		return false
	}
	c.log.Info("remote reachable again")
	return true
}

func (c *Coordinator) autoCycle(ctx context.Context, reason string) {
	c.log.Debug("sync triggered", "reason", reason)
	if _, err := c.run(ctx, ""); err != nil && ctx.Err() == nil {
		c.log.Debug("triggered sync did not complete", "reason", reason, "err", err)
	}
}
