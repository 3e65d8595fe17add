// Package engine schedules rule payloads over a single peer connection.
//
// A run resolves the rule set into trigger groups, sends the immediate group
// and then counts inbound messages. Every inbound message is attributed to
// exactly one counter by a single scheduler goroutine: the first registered
// request-response controller that is awaiting peer input claims it,
// otherwise it advances the main received counter, which may fire the group
// waiting for that value. Fired groups are dispatched in trigger order by one
// burst worker: a group's single and finite sends complete before its
// rotations and controllers start, and before the next group begins.
// Continuous groups are driven by one rotation timer. All writes go through a
// shared lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/samaelod/devsim/metrics"
	"github.com/samaelod/devsim/types"
)

const DefaultReceiveTimeout = 30 * time.Second

// Transport is the engine's view of the peer connection.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
	// Receive returns types.ErrTimeout when nothing arrived within timeout
	// and io.EOF or types.ErrPeerClosed once the peer has gone.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
}

type Options struct {
	ReceiveTimeout  time.Duration // 0 selects DefaultReceiveTimeout
	ResponseTimeout time.Duration // per-wait limit of a request-response controller, 0 disables
	Logger          zerolog.Logger
	Metrics         *metrics.Recorder
}

// Engine runs one rule set against one connection. It is not reusable.
type Engine struct {
	rules   types.RuleSet
	res     Resolver
	opts    Options
	log     zerolog.Logger
	metrics *metrics.Recorder

	sendMu sync.Mutex

	mu   sync.Mutex
	plan *Plan
	view types.Snapshot
}

func New(rs types.RuleSet, res Resolver, opts Options) *Engine {
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = DefaultReceiveTimeout
	}
	if opts.ResponseTimeout < 0 {
		opts.ResponseTimeout = 0
	}
	return &Engine{
		rules:   rs,
		res:     res,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "engine").Logger(),
		metrics: opts.Metrics,
	}
}

// Plan returns the schedule of the current run, nil before Run.
func (e *Engine) Plan() *Plan {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plan
}

// Snapshot copies the live session state. Safe for concurrent use.
func (e *Engine) Snapshot() types.Snapshot {
	e.mu.Lock()
	snap := e.view
	plan := e.plan
	e.mu.Unlock()

	if plan != nil {
		snap.Messages = make([]types.MessageStat, 0, len(plan.Messages))
		for _, m := range plan.Messages {
			snap.Messages = append(snap.Messages, types.MessageStat{
				Name:    m.Name,
				Rule:    m.Rule,
				Kind:    m.Kind,
				Trigger: m.Trigger,
				Sent:    m.Sent(),
			})
		}
	}
	return snap
}

// Run executes the rule set until the peer closes the connection, a send or
// receive fails, or ctx is cancelled. Peer close and cancellation return nil.
func (e *Engine) Run(ctx context.Context, t Transport) error {
	plan := BuildPlan(e.rules, e.res, e.log)
	e.mu.Lock()
	e.plan = plan
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	s := newScheduler(e, plan, t, g)
	g.Go(func() error {
		defer cancel()
		return s.run(gctx)
	})

	err := g.Wait()
	s.release()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}

	snap := e.Snapshot()
	level := zerolog.InfoLevel
	if err != nil {
		level = zerolog.ErrorLevel
	}
	e.log.WithLevel(level).
		Err(err).
		Int("received", snap.Received).
		Int("claimed", snap.Claimed).
		Int("pending", len(snap.PendingTriggers)).
		Msg("session ended")
	return err
}

// send writes one payload. Writes from every dispatch mode are serialized.
func (e *Engine) send(ctx context.Context, t Transport, m *Message) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.Send(ctx, m.Payload); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.metrics.ObserveSendError()
		return fmt.Errorf("send %s: %w", m.Name, err)
	}

	n := m.sent.Add(1)
	e.metrics.ObserveSend(m.Kind.String(), len(m.Payload))
	e.log.Debug().
		Str("payload", m.Name).
		Str("kind", m.Kind.String()).
		Int64("sent", n).
		Msg("sent")
	return nil
}

type inbound struct {
	data []byte
	err  error // nil, types.ErrTimeout or io.EOF
}

// activation asks the scheduler to start the rotations and controllers of a
// group whose bursts are done. done is closed once they are started.
type activation struct {
	grp  *Group
	done chan struct{}
}

// scheduler owns the counters, the pending groups and the controllers.
type scheduler struct {
	e   *Engine
	t   Transport
	g   *errgroup.Group
	log zerolog.Logger

	plan      *Plan
	rotations *rotationTimer
	bursts      chan *Group
	activations chan activation
	inbound     chan inbound
	ready       chan *responder

	received    int
	claimed     int
	timeouts    int
	pending     map[int]*Group
	responders  []*responder // registration order
	rotating    int
	lastInbound time.Time
}

func newScheduler(e *Engine, plan *Plan, t Transport, g *errgroup.Group) *scheduler {
	s := &scheduler{
		e:       e,
		t:       t,
		g:       g,
		log:     e.log,
		plan:    plan,
		bursts:      make(chan *Group, len(plan.Triggered)),
		activations: make(chan activation),
		inbound:     make(chan inbound),
		ready:       make(chan *responder),
		pending:     make(map[int]*Group, len(plan.Triggered)),
	}
	for _, grp := range plan.Triggered {
		s.pending[grp.Trigger] = grp
	}
	s.rotations = newRotationTimer(plan.rotationSets(), func(ctx context.Context, m *Message) error {
		return e.send(ctx, t, m)
	}, e.log)
	return s
}

func (s *scheduler) run(ctx context.Context) error {
	s.publish()

	if s.e.rules.WaitToStart {
		started, err := s.waitForStart(ctx)
		if err != nil || !started {
			return err
		}
	}

	if err := s.runBursts(ctx, s.plan.Immediate); err != nil {
		return err
	}

	s.g.Go(func() error { return s.rotations.run(ctx) })
	s.g.Go(func() error { return s.burstWorker(ctx) })

	if err := s.activate(ctx, s.plan.Immediate); err != nil {
		return err
	}
	s.publish()

	s.g.Go(func() error { return s.receive(ctx) })

	expiry := time.NewTimer(time.Hour)
	expiry.Stop()
	defer expiry.Stop()

	for {
		var expire <-chan time.Time
		if d, ok := s.nextDeadline(); ok {
			expiry.Reset(time.Until(d))
			expire = expiry.C
		} else {
			expiry.Stop()
		}

		select {
		case <-ctx.Done():
			return nil

		case in := <-s.inbound:
			done, err := s.handle(ctx, in)
			if err != nil || done {
				s.publish()
				return err
			}

		case r := <-s.ready:
			if err := s.write(ctx, r); err != nil {
				return err
			}

		case a := <-s.activations:
			err := s.activate(ctx, a.grp)
			close(a.done)
			if err != nil {
				return err
			}

		case now := <-expire:
			s.expire(now)
		}
		s.publish()
	}
}

func (s *scheduler) waitForStart(ctx context.Context) (bool, error) {
	s.log.Info().Dur("timeout", s.e.opts.ReceiveTimeout).Msg("waiting for start message")

	_, err := s.t.Receive(ctx, s.e.opts.ReceiveTimeout)
	switch {
	case err == nil:
		s.log.Info().Msg("start message received")
		return true, nil
	case ctx.Err() != nil:
		return false, nil
	case errors.Is(err, types.ErrTimeout):
		return false, types.ErrNoStartMessage
	case errors.Is(err, io.EOF), errors.Is(err, types.ErrPeerClosed):
		s.log.Info().Msg("peer closed connection before start")
		return false, nil
	default:
		return false, fmt.Errorf("receive start message: %w", err)
	}
}

// receive forwards inbound messages, timeouts and the close to the scheduler.
func (s *scheduler) receive(ctx context.Context) error {
	for {
		data, err := s.t.Receive(ctx, s.e.opts.ReceiveTimeout)
		if err != nil && ctx.Err() != nil {
			return nil
		}
		switch {
		case err == nil, errors.Is(err, types.ErrTimeout):
		case errors.Is(err, io.EOF), errors.Is(err, types.ErrPeerClosed):
			err = io.EOF
		default:
			return fmt.Errorf("receive: %w", err)
		}

		select {
		case s.inbound <- inbound{data: data, err: err}:
		case <-ctx.Done():
			return nil
		}
		if err == io.EOF {
			return nil
		}
	}
}

// handle attributes one receive result. It reports true once the peer closed.
func (s *scheduler) handle(ctx context.Context, in inbound) (bool, error) {
	switch {
	case errors.Is(in.err, types.ErrTimeout):
		s.timeouts++
		s.e.metrics.ObserveTimeout()
		s.log.Info().
			Dur("timeout", s.e.opts.ReceiveTimeout).
			Int("received", s.received).
			Msg("no peer message, still waiting")
		return false, nil
	case in.err != nil:
		s.log.Info().Int("received", s.received).Msg("peer closed connection")
		return true, nil
	}

	now := time.Now()
	s.lastInbound = now

	if r := s.claimant(); r != nil {
		s.claimed++
		s.e.metrics.ObserveReceive("responder", s.received)
		s.log.Debug().
			Int("trigger", r.set.Trigger).
			Int("bytes", len(in.data)).
			Int("remaining", r.remaining-1).
			Msg("peer message claimed")
		if r.credit(now, s.e.opts.ResponseTimeout) {
			return false, s.wake(ctx, r)
		}
		return false, nil
	}

	s.received++
	s.e.metrics.ObserveReceive("main", s.received)
	s.log.Debug().Int("received", s.received).Int("bytes", len(in.data)).Msg("peer message")

	grp, ok := s.pending[s.received]
	if !ok {
		return false, nil
	}
	delete(s.pending, s.received)
	s.e.metrics.ObserveTrigger()
	s.log.Info().
		Int("trigger", grp.Trigger).
		Int("bursts", len(grp.Bursts)).
		Int("rotations", len(grp.Rotations)).
		Int("responders", len(grp.Responders)).
		Msg("trigger reached")

	// Buffered for every triggered group, so this never blocks.
	s.bursts <- grp
	return false, nil
}

// claimant is the first registered controller awaiting peer input.
func (s *scheduler) claimant() *responder {
	for _, r := range s.responders {
		if r.state == types.ResponderAwaiting {
			return r
		}
	}
	return nil
}

// activate starts the rotation sets and controllers of a group.
func (s *scheduler) activate(ctx context.Context, grp *Group) error {
	now := time.Now()
	for _, set := range grp.Rotations {
		s.rotations.start(set, now)
	}
	s.rotating += len(grp.Rotations)
	s.e.metrics.AddRotationSets(len(grp.Rotations))

	for _, set := range grp.Responders {
		r := newResponder(set)
		s.responders = append(s.responders, r)
		s.e.metrics.AddResponders(1)
		if err := s.wake(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// wake writes the next round of r, after its delay when it has one.
func (s *scheduler) wake(ctx context.Context, r *responder) error {
	if r.set.Delay <= 0 {
		return s.write(ctx, r)
	}
	r.state = types.ResponderSleeping
	delay := r.set.Delay
	s.g.Go(func() error {
		if err := sleep(ctx, delay); err != nil {
			return nil
		}
		select {
		case s.ready <- r:
		case <-ctx.Done():
		}
		return nil
	})
	return nil
}

// write sends one round. Only messages processed after it returns are credited.
func (s *scheduler) write(ctx context.Context, r *responder) error {
	for _, m := range r.set.Messages {
		if err := s.e.send(ctx, s.t, m); err != nil {
			return err
		}
	}
	r.awaiting(time.Now(), s.e.opts.ResponseTimeout)
	s.log.Debug().
		Int("trigger", r.set.Trigger).
		Int("round", r.rounds).
		Int("every", r.set.Every).
		Msg("awaiting peer")
	return nil
}

func (s *scheduler) nextDeadline() (time.Time, bool) {
	var (
		next time.Time
		ok   bool
	)
	for _, r := range s.responders {
		if r.state != types.ResponderAwaiting || r.deadline.IsZero() {
			continue
		}
		if !ok || r.deadline.Before(next) {
			next, ok = r.deadline, true
		}
	}
	return next, ok
}

func (s *scheduler) expire(now time.Time) {
	for _, r := range s.responders {
		if !r.expired(now) {
			continue
		}
		r.state = types.ResponderStopped
		r.deadline = time.Time{}
		s.e.metrics.ObserveResponderExpired()
		s.log.Warn().
			Int("trigger", r.set.Trigger).
			Int("rounds", r.rounds).
			Int("remaining", r.remaining).
			Dur("timeout", s.e.opts.ResponseTimeout).
			Msg("request-response stopped, no peer reply")
	}
}

// burstWorker dispatches fired groups in trigger order. It sends a group's
// bursts, then waits for the scheduler to activate the rest of it.
func (s *scheduler) burstWorker(ctx context.Context) error {
	for {
		var grp *Group
		select {
		case <-ctx.Done():
			return nil
		case grp = <-s.bursts:
		}

		if err := s.runBursts(ctx, grp); err != nil {
			return err
		}
		if len(grp.Rotations) == 0 && len(grp.Responders) == 0 {
			continue
		}

		a := activation{grp: grp, done: make(chan struct{})}
		select {
		case s.activations <- a:
		case <-ctx.Done():
			return nil
		}
		select {
		case <-a.done:
		case <-ctx.Done():
			return nil
		}
	}
}

// runBursts sends the single and finite messages of a group one after the
// other, sleeping the rule delay between repeats.
func (s *scheduler) runBursts(ctx context.Context, grp *Group) error {
	for _, m := range grp.Bursts {
		for i := 0; i < m.times(); i++ {
			if i > 0 {
				if err := sleep(ctx, m.Delay); err != nil {
					return err
				}
			}
			if err := s.e.send(ctx, s.t, m); err != nil {
				return err
			}
		}
	}
	return nil
}

// release takes the session's rotation sets and live controllers off the
// active gauges. Call it only after every goroutine of the run has returned.
func (s *scheduler) release() {
	live := 0
	for _, r := range s.responders {
		if r.state != types.ResponderStopped {
			live++
		}
	}
	s.e.metrics.AddRotationSets(-s.rotating)
	s.e.metrics.AddResponders(-live)
}

func (s *scheduler) publish() {
	pending := make([]int, 0, len(s.pending))
	for trigger := range s.pending {
		pending = append(pending, trigger)
	}
	sort.Ints(pending)

	responders := make([]types.ResponderStat, 0, len(s.responders))
	for _, r := range s.responders {
		responders = append(responders, r.stat())
	}

	s.e.mu.Lock()
	s.e.view = types.Snapshot{
		Received:        s.received,
		Claimed:         s.claimed,
		Timeouts:        s.timeouts,
		PendingTriggers: pending,
		Rotations:       s.rotating,
		Responders:      responders,
		LastInbound:     s.lastInbound,
	}
	s.e.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
