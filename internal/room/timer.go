package room

import (
	"context"
	"time"
)

// phaseTimer is the room's single-shot phase-expiry timer. Arm replaces any
// pending fire and bumps the generation; a fire carries its generation back
// through the room inbox, and stale generations are dropped before the host
// ever sees a Tick. Everything except the AfterFunc callback runs on the
// actor goroutine.
type phaseTimer struct {
	inbox chan<- Msg
	ctx   context.Context

	gen     uint64
	t       *time.Timer
	running bool
}

func (pt *phaseTimer) Arm(d time.Duration) {
	pt.gen++
	if pt.t != nil {
		pt.t.Stop()
	}
	gen := pt.gen
	pt.running = true
	pt.t = time.AfterFunc(d, func() {
		select {
		case pt.inbox <- timerFired{gen: gen}:
		case <-pt.ctx.Done():
		}
	})
}

func (pt *phaseTimer) Stop() {
	pt.gen++
	if pt.t != nil {
		pt.t.Stop()
	}
	pt.running = false
}

func (pt *phaseTimer) Running() bool { return pt.running }

// acknowledge reports whether a fire is current; a current fire also marks
// the timer as no longer running.
func (pt *phaseTimer) acknowledge(gen uint64) bool {
	if gen != pt.gen {
		return false
	}
	pt.running = false
	return true
}
