package raft

import (
	"math/rand"
	"time"
)

// electionTimer wraps a time.Timer whose duration is re-randomized on every
// reset, avoiding the split-vote pathology of a fixed global timeout shared
// by every server.
type electionTimer struct {
	timer *time.Timer
	min   time.Duration
	max   time.Duration
}

func newElectionTimer(min, max time.Duration, onFire func()) *electionTimer {
	t := &electionTimer{min: min, max: max}
	t.timer = time.AfterFunc(t.randomDuration(), onFire)
	t.timer.Stop()
	return t
}

func (t *electionTimer) randomDuration() time.Duration {
	if t.max <= t.min {
		return t.min
	}
	return t.min + time.Duration(rand.Int63n(int64(t.max-t.min)))
}

func (t *electionTimer) reset() {
	t.timer.Stop()
	t.timer.Reset(t.randomDuration())
}

func (t *electionTimer) stop() {
	t.timer.Stop()
}

// resetElectionTimer restarts the server's election timeout with a fresh
// random duration, called whenever valid leader traffic is observed.
func (ctx *ServerContext) resetElectionTimer() {
	if ctx.electionTimer != nil {
		ctx.electionTimer.reset()
	}
}

// stopElectionTimer disables the election timeout, used while Leader.
func (ctx *ServerContext) stopElectionTimer() {
	if ctx.electionTimer != nil {
		ctx.electionTimer.stop()
	}
}
