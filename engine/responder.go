package engine

import (
	"time"

	"github.com/samaelod/devsim/types"
)

// responder is the request-response controller of one ResponderSet. Its
// state is owned by the scheduler goroutine.
type responder struct {
	set       *ResponderSet
	state     types.ResponderState
	remaining int
	rounds    int
	deadline  time.Time // zero when the wait has no timeout
}

func newResponder(set *ResponderSet) *responder {
	return &responder{set: set, state: types.ResponderSleeping}
}

// awaiting moves the controller into a fresh wait after a round was written.
func (r *responder) awaiting(now time.Time, timeout time.Duration) {
	r.rounds++
	r.state = types.ResponderAwaiting
	r.remaining = r.set.Every
	r.touch(now, timeout)
}

func (r *responder) touch(now time.Time, timeout time.Duration) {
	if timeout > 0 {
		r.deadline = now.Add(timeout)
	} else {
		r.deadline = time.Time{}
	}
}

// credit consumes one inbound message and reports whether the round is complete.
func (r *responder) credit(now time.Time, timeout time.Duration) bool {
	r.remaining--
	if r.remaining <= 0 {
		r.remaining = 0
		r.state = types.ResponderSleeping
		r.deadline = time.Time{}
		return true
	}
	r.touch(now, timeout)
	return false
}

func (r *responder) expired(now time.Time) bool {
	return r.state == types.ResponderAwaiting && !r.deadline.IsZero() && !now.Before(r.deadline)
}

func (r *responder) stat() types.ResponderStat {
	return types.ResponderStat{
		Trigger:   r.set.Trigger,
		Every:     r.set.Every,
		Remaining: r.remaining,
		Rounds:    r.rounds,
		State:     r.state,
	}
}
