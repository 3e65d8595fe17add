package engine

import (
	"container/heap"
	"context"
	"time"

	"github.com/rs/zerolog"
)

type rotationEntry struct {
	set    *RotationSet
	next   time.Time
	cursor int
	seq    uint64
}

// rotationQueue is a min-heap on next fire time, FIFO among equal times.
type rotationQueue []*rotationEntry

func (q rotationQueue) Len() int { return len(q) }

func (q rotationQueue) Less(i, j int) bool {
	if q[i].next.Equal(q[j].next) {
		return q[i].seq < q[j].seq
	}
	return q[i].next.Before(q[j].next)
}

func (q rotationQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *rotationQueue) Push(x any) { *q = append(*q, x.(*rotationEntry)) }

func (q *rotationQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

type rotationStart struct {
	set *RotationSet
	at  time.Time
}

// rotationTimer drives every active rotation set from one goroutine.
type rotationTimer struct {
	add  chan rotationStart
	send func(ctx context.Context, m *Message) error
	log  zerolog.Logger
}

func newRotationTimer(capacity int, send func(context.Context, *Message) error, log zerolog.Logger) *rotationTimer {
	return &rotationTimer{
		add:  make(chan rotationStart, capacity),
		send: send,
		log:  log,
	}
}

// start schedules set to fire first at activation + delay. It never blocks
// while the channel capacity covers every set of the plan.
func (rt *rotationTimer) start(set *RotationSet, activation time.Time) {
	rt.add <- rotationStart{set: set, at: activation}
}

func (rt *rotationTimer) run(ctx context.Context) error {
	var (
		q   rotationQueue
		seq uint64
	)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		var fire <-chan time.Time
		if len(q) > 0 {
			timer.Reset(time.Until(q[0].next))
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			return nil

		case s := <-rt.add:
			heap.Push(&q, &rotationEntry{set: s.set, next: s.at.Add(s.set.Delay), seq: seq})
			seq++
			rt.log.Debug().
				Int("trigger", s.set.Trigger).
				Dur("every", s.set.Delay).
				Int("payloads", len(s.set.Messages)).
				Msg("rotation started")

		case <-fire:
			now := time.Now()
			for len(q) > 0 && !q[0].next.After(now) {
				e := q[0]
				if err := rt.send(ctx, e.set.Messages[e.cursor]); err != nil {
					return err
				}
				e.cursor = (e.cursor + 1) % len(e.set.Messages)
				e.next = e.next.Add(e.set.Delay)
				e.seq = seq
				seq++
				heap.Fix(&q, 0)
			}
		}
	}
}
