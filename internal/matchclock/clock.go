// Package matchclock keeps the two per-side countdowns of a live match.
//
// Local ticks only interpolate between authoritative readings; every snapshot
// overwrites both sides. A Clock is not safe for concurrent use; its owner
// serialises access.
package matchclock

import (
	"time"

	"github.com/park285/Cheese-LiveMatch/pkg/matchdto"
)

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateExpired State = "expired"
	StateStopped State = "stopped"
)

// Reading is a copy of the clock for observers.
type Reading struct {
	WhiteRemainingMs int64
	BlackRemainingMs int64
	Owner            matchdto.Side
	State            State
	LastSyncedAt     time.Time
}

type Clock struct {
	whiteMs int64
	blackMs int64
	owner   matchdto.Side

	active       bool
	moveOccurred bool
	stopped      bool

	// one-shot timeout request guard, per zero-crossing of expiredSide
	timeoutSent bool
	expiredSide matchdto.Side

	lastSyncedAt time.Time
}

func New() *Clock {
	return &Clock{owner: matchdto.White}
}

// Sync overwrites both readings from an authoritative snapshot.
// A completed snapshot stops the clock for good. The sync time is the
// server's when the snapshot carries one; otherwise at, recorded only when a
// reading actually moved so a repeated snapshot leaves the clock untouched.
func (c *Clock) Sync(snap *matchdto.Snapshot, at time.Time) {
	if snap == nil || c.stopped {
		return
	}
	prev := c.Reading()
	c.whiteMs = clampMs(snap.WhiteRemainingMs)
	c.blackMs = clampMs(snap.BlackRemainingMs)
	if snap.SideToMove.Valid() {
		c.owner = snap.SideToMove
	}
	c.active = snap.Status == matchdto.StatusActive
	c.moveOccurred = snap.MoveOccurred()
	c.markSynced(prev, snap.ServerTime, at)

	if snap.Status == matchdto.StatusCompleted {
		c.stopped = true
		return
	}
	// re-arm only when the authority still reports the expired side with time left
	if c.timeoutSent && c.active && c.remaining(c.expiredSide) > 0 {
		c.timeoutSent = false
		c.expiredSide = ""
	}
}

// SyncTimes applies an informational clockTick push. It corrects drift but
// never re-arms the timeout guard.
func (c *Clock) SyncTimes(whiteMs, blackMs int64, at time.Time) {
	if c.stopped {
		return
	}
	prev := c.Reading()
	c.whiteMs = clampMs(whiteMs)
	c.blackMs = clampMs(blackMs)
	c.markSynced(prev, 0, at)
}

func (c *Clock) markSynced(prev Reading, serverMs int64, at time.Time) {
	if serverMs > 0 {
		c.lastSyncedAt = time.UnixMilli(serverMs).UTC()
		return
	}
	cur := c.Reading()
	cur.LastSyncedAt = prev.LastSyncedAt
	if cur != prev || c.lastSyncedAt.IsZero() {
		c.lastSyncedAt = at
	}
}

// Tick advances the running side by elapsed, floored at zero. It reports true
// exactly once per zero-crossing; the caller then sends one timeout check.
func (c *Clock) Tick(elapsed time.Duration) (timedOut bool) {
	if !c.running() {
		return false
	}
	ms := elapsed.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	switch c.owner {
	case matchdto.White:
		c.whiteMs = clampMs(c.whiteMs - ms)
	case matchdto.Black:
		c.blackMs = clampMs(c.blackMs - ms)
	}
	if c.remaining(c.owner) > 0 || c.timeoutSent {
		return false
	}
	c.timeoutSent = true
	c.expiredSide = c.owner
	return true
}

func (c *Clock) Stop() { c.stopped = true }

func (c *Clock) State() State {
	switch {
	case c.stopped:
		return StateStopped
	case !c.active || !c.moveOccurred:
		return StateIdle
	case c.remaining(c.owner) == 0:
		return StateExpired
	default:
		return StateRunning
	}
}

func (c *Clock) Reading() Reading {
	return Reading{
		WhiteRemainingMs: c.whiteMs,
		BlackRemainingMs: c.blackMs,
		Owner:            c.owner,
		State:            c.State(),
		LastSyncedAt:     c.lastSyncedAt,
	}
}

func (c *Clock) running() bool {
	return !c.stopped && c.active && c.moveOccurred
}

func (c *Clock) remaining(side matchdto.Side) int64 {
	if side == matchdto.Black {
		return c.blackMs
	}
	return c.whiteMs
}

func clampMs(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
