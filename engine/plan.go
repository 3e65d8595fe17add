package engine

import (
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/samaelod/devsim/types"
)

// Resolver maps a rule pattern to payload identifiers and loads their bytes.
type Resolver interface {
	Resolve(pattern string) ([]string, error)
	Load(id string) ([]byte, error)
}

// Message is one rule applied to one resolved payload.
type Message struct {
	ID      string
	Name    string
	Payload []byte
	Rule    int
	Kind    types.Kind
	Delay   time.Duration
	Repeat  int
	Trigger int

	sent atomic.Int64
}

// Sent reports how many times the payload was written.
func (m *Message) Sent() int64 {
	return m.sent.Load()
}

// times is the number of sends of a single or finite message.
func (m *Message) times() int {
	if m.Repeat > 0 {
		return m.Repeat
	}
	return 1
}

// RotationSet holds the continuous messages of a group sharing one period.
type RotationSet struct {
	Trigger  int
	Delay    time.Duration
	Messages []*Message
}

// ResponderSet holds the request-response messages of a group sharing one
// (every, delay) pair. Each round writes all of them in order.
type ResponderSet struct {
	Trigger  int
	Delay    time.Duration
	Every    int
	Messages []*Message
}

// Group is everything that becomes eligible at one trigger value.
type Group struct {
	Trigger    int
	Bursts     []*Message
	Rotations  []*RotationSet
	Responders []*ResponderSet
}

func (g *Group) empty() bool {
	return len(g.Bursts) == 0 && len(g.Rotations) == 0 && len(g.Responders) == 0
}

// ResolvedRule records which payloads a rule matched.
type ResolvedRule struct {
	Index int
	Rule  types.Rule
	Files []string
}

// Plan is the static schedule derived from a rule set.
type Plan struct {
	Immediate *Group
	Triggered []*Group // ascending trigger
	Rules     []ResolvedRule
	Messages  []*Message // rule order, then resolution order
}

// Groups returns the immediate group followed by the triggered ones.
func (p *Plan) Groups() []*Group {
	return append([]*Group{p.Immediate}, p.Triggered...)
}

func (p *Plan) rotationSets() int {
	n := 0
	for _, g := range p.Groups() {
		n += len(g.Rotations)
	}
	return n
}

// BuildPlan resolves every rule and partitions the messages into trigger
// groups. Patterns without matches and unreadable payloads are logged and
// skipped.
func BuildPlan(rs types.RuleSet, res Resolver, log zerolog.Logger) *Plan {
	p := &Plan{Immediate: &Group{}}
	byTrigger := map[int]*Group{0: p.Immediate}

	for i, rule := range rs.Rules {
		rr := ResolvedRule{Index: i, Rule: rule}

		ids, err := res.Resolve(rule.Pattern)
		if err != nil {
			log.Warn().Err(err).Int("rule", i).Str("pattern", rule.Pattern).Msg("cannot resolve pattern")
		} else if len(ids) == 0 {
			log.Warn().Int("rule", i).Str("pattern", rule.Pattern).Msg("pattern matches no files")
		}

		var msgs []*Message
		for _, id := range ids {
			payload, err := res.Load(id)
			if err != nil {
				log.Warn().Err(err).Int("rule", i).Str("payload", id).Msg("cannot read payload")
				continue
			}
			m := &Message{
				ID:      id,
				Name:    filepath.Base(id),
				Payload: payload,
				Rule:    i,
				Kind:    rule.Kind(),
				Delay:   rule.Delay(),
				Repeat:  rule.Repeat,
				Trigger: rule.WaitCount,
			}
			msgs = append(msgs, m)
			rr.Files = append(rr.Files, m.Name)
		}
		p.Rules = append(p.Rules, rr)
		if len(msgs) == 0 {
			continue
		}
		p.Messages = append(p.Messages, msgs...)

		g, ok := byTrigger[rule.WaitCount]
		if !ok {
			g = &Group{Trigger: rule.WaitCount}
			byTrigger[rule.WaitCount] = g
		}
		g.add(rule, msgs)
	}

	for trigger, g := range byTrigger {
		if trigger == 0 || g.empty() {
			continue
		}
		p.Triggered = append(p.Triggered, g)
	}
	sort.Slice(p.Triggered, func(i, j int) bool {
		return p.Triggered[i].Trigger < p.Triggered[j].Trigger
	})

	log.Debug().
		Int("rules", len(rs.Rules)).
		Int("messages", len(p.Messages)).
		Int("groups", len(p.Triggered)+1).
		Msg("plan built")
	return p
}

func (g *Group) add(rule types.Rule, msgs []*Message) {
	switch rule.Kind() {
	case types.KindContinuous:
		for _, set := range g.Rotations {
			if set.Delay == rule.Delay() {
				set.Messages = append(set.Messages, msgs...)
				return
			}
		}
		g.Rotations = append(g.Rotations, &RotationSet{
			Trigger:  g.Trigger,
			Delay:    rule.Delay(),
			Messages: msgs,
		})
	case types.KindRequestResponse:
		for _, set := range g.Responders {
			if set.Delay == rule.Delay() && set.Every == rule.Every() {
				set.Messages = append(set.Messages, msgs...)
				return
			}
		}
		g.Responders = append(g.Responders, &ResponderSet{
			Trigger:  g.Trigger,
			Delay:    rule.Delay(),
			Every:    rule.Every(),
			Messages: msgs,
		})
	default:
		g.Bursts = append(g.Bursts, msgs...)
	}
}
