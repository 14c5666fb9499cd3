package rtsp

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IdleReaper runs a single reaper loop: a 1-second tick that tears
// down any tracked session whose last activity is older than timeout
// (cmd/wfdsource passes 30 s). One IdleReaper serves every session in a process,
// matching the "one reaper per source" shape of WifiDisplaySource.
type IdleReaper struct {
	mu       sync.Mutex
	sessions map[int32]func() time.Time
	timeout  time.Duration
	onIdle   func(sessionID int32)
}

// NewIdleReaper returns a reaper that calls onIdle once per session
// the first tick after it has been idle for longer than timeout.
func NewIdleReaper(timeout time.Duration, onIdle func(sessionID int32)) *IdleReaper {
	return &IdleReaper{
		sessions: make(map[int32]func() time.Time),
		timeout:  timeout,
		onIdle:   onIdle,
	}
}

// Track registers a session for idle monitoring. lastActivity is
// polled on each tick rather than snapshotted, so it should read live
// session state (e.g. (*SourceSession).LastActivity).
func (r *IdleReaper) Track(sessionID int32, lastActivity func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = lastActivity
}

// Untrack stops monitoring a session, called once it has been torn
// down through any path (normal TEARDOWN or reaper-forced).
func (r *IdleReaper) Untrack(sessionID int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Run ticks once a second until ctx is cancelled, reaping any session
// past its idle timeout.
func (r *IdleReaper) Run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.tick(now)
		}
	}
}

func (r *IdleReaper) tick(now time.Time) {
	r.mu.Lock()
	var dead []int32
	for id, lastActivity := range r.sessions {
		if now.Sub(lastActivity()) > r.timeout {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, id := range dead {
		r.onIdle(id)
	}
}

// KeepAliveScheduler sends M16 at half the negotiated session timeout
// for as long as the session remains playing, stopping cleanly on
// Stop or on a send error (the connection is presumed dead).
type KeepAliveScheduler struct {
	cancel context.CancelFunc
}

// StartKeepAlive schedules periodic SendKeepAlive calls at
// sessionTimeoutSecs/2 until the returned scheduler is stopped.
// limiter, when non-nil, is consulted before every send; a single
// limiter shared across every session on a process bounds the
// aggregate M16 rate when many sessions reach StatePlaying around the
// same time (a reconnect storm after a network blip, say).
func StartKeepAlive(ctx context.Context, sess *SourceSession, limiter *rate.Limiter) *KeepAliveScheduler {
	interval := time.Duration(sess.SessionTimeoutSecs) * time.Second / 2
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	sched := &KeepAliveScheduler{cancel: cancel}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if limiter != nil {
					if err := limiter.Wait(ctx); err != nil {
						return
					}
				}
				if err := sess.SendKeepAlive(); err != nil {
					return
				}
			}
		}
	}()

	return sched
}

// Stop cancels the keep-alive goroutine.
func (k *KeepAliveScheduler) Stop() {
	if k != nil && k.cancel != nil {
		k.cancel()
	}
}

// TeardownGrace waits graceSecs for the peer to complete an orderly
// TEARDOWN after RequestTeardown, then calls onTimeout — typically a
// forced disconnect. It does not check whether the session is still
// tracked; the caller stops the returned timer once the TEARDOWN
// completes.
func TeardownGrace(graceSecs int64, onTimeout func()) *time.Timer {
	return time.AfterFunc(time.Duration(graceSecs)*time.Second, onTimeout)
}
