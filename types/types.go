package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned by a transport when no data arrived within the receive timeout.
	ErrTimeout = errors.New("receive timeout")
	// ErrPeerClosed is returned once the peer has closed its side of the connection.
	ErrPeerClosed = errors.New("peer closed connection")
	// ErrNoStartMessage ends a run configured with WaitToStart when no start message arrives.
	ErrNoStartMessage = errors.New("no start message received")
)

// Rule is one normalized entry of a rule document.
type Rule struct {
	Pattern   string // regular expression matched against payload file names
	DelayMs   int    // ms
	Repeat    int    // >0 finite, 0 continuous (or single when DelayMs == 0), <0 request-response
	WaitCount int    // inbound messages required before the rule becomes eligible
}

// Delay returns the rule delay as a duration.
func (r Rule) Delay() time.Duration {
	return time.Duration(r.DelayMs) * time.Millisecond
}

// Kind returns the execution mode selected by the repeat sign and delay.
func (r Rule) Kind() Kind {
	switch {
	case r.Repeat < 0:
		return KindRequestResponse
	case r.Repeat > 0:
		return KindFinite
	case r.DelayMs > 0:
		return KindContinuous
	default:
		return KindSingle
	}
}

// Every returns how many inbound messages a request-response rule needs per round.
func (r Rule) Every() int {
	if r.Repeat < 0 {
		return -r.Repeat
	}
	return 0
}

// Describe renders the rule behaviour the way the flow analyzer prints it.
func (r Rule) Describe() string {
	switch r.Kind() {
	case KindFinite:
		return fmt.Sprintf("send %d times then stop", r.Repeat)
	case KindContinuous:
		return fmt.Sprintf("send continuously every %dms", r.DelayMs)
	case KindRequestResponse:
		return fmt.Sprintf("request-response (wait for %d peer msg(s))", r.Every())
	default:
		return "send once"
	}
}

// Trigger renders when the rule becomes eligible.
func (r Rule) Trigger() string {
	if r.WaitCount == 0 {
		return "immediately"
	}
	return fmt.Sprintf("after %d peer message(s)", r.WaitCount)
}

// RuleSet is the immutable input of one simulation run.
type RuleSet struct {
	WaitToStart bool
	Rules       []Rule
}

type Kind int

const (
	KindSingle Kind = iota
	KindFinite
	KindContinuous
	KindRequestResponse
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindFinite:
		return "finite"
	case KindContinuous:
		return "continuous"
	case KindRequestResponse:
		return "request-response"
	default:
		return "unknown"
	}
}

type ResponderState int

const (
	ResponderSleeping ResponderState = iota
	ResponderAwaiting
	ResponderStopped
)

func (s ResponderState) String() string {
	switch s {
	case ResponderSleeping:
		return "sleeping"
	case ResponderAwaiting:
		return "awaiting"
	case ResponderStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MessageStat is the observable state of one resolved message.
type MessageStat struct {
	Name    string
	Rule    int
	Kind    Kind
	Trigger int
	Sent    int64
}

// ResponderStat is the observable state of one request-response controller.
type ResponderStat struct {
	Trigger   int
	Every     int
	Remaining int
	Rounds    int
	State     ResponderState
}

// Snapshot is a point-in-time copy of a session, safe to hand to other goroutines.
type Snapshot struct {
	Received        int   // inbound messages attributed to the main counter
	Claimed         int   // inbound messages credited to responders
	Timeouts        int   // soft receive timeouts in the main loop
	PendingTriggers []int // trigger values not fired yet, ascending
	Rotations       int
	Responders      []ResponderStat
	Messages        []MessageStat
	LastInbound     time.Time
}

type SessionState int

const (
	StateIdle SessionState = iota
	StateListening
	StateConnected
	StateFinished
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
