// Package simulator binds the device endpoint, serves exactly one peer with
// the schedule engine and cleans the endpoint up afterwards.
package simulator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/samaelod/devsim/engine"
	"github.com/samaelod/devsim/transport"
	"github.com/samaelod/devsim/types"
)

type Config struct {
	Network    string // unix (default) or tcp
	Address    string
	ReadBuffer int
	Engine     engine.Options

	// Observer, when set, is called on every state change with a detail
	// such as the bound address or the peer.
	Observer func(state types.SessionState, detail string)
}

// Session is one simulator run.
type Session struct {
	id     string
	cfg    Config
	engine *engine.Engine
	log    zerolog.Logger

	mu     sync.Mutex
	state  types.SessionState
	detail string
	err    error
}

func New(rs types.RuleSet, res engine.Resolver, cfg Config) *Session {
	if cfg.Network == "" {
		cfg.Network = "unix"
	}
	// Every line of one run carries its session id, so runs appended to a
	// shared log file stay apart.
	id := uuid.Must(uuid.NewV7()).String()
	cfg.Engine.Logger = cfg.Engine.Logger.With().Str("session", id).Logger()
	return &Session{
		id:     id,
		cfg:    cfg,
		engine: engine.New(rs, res, cfg.Engine),
		log:    cfg.Engine.Logger.With().Str("component", "simulator").Logger(),
	}
}

// ID is the time-ordered identifier attached to the session's log lines.
func (s *Session) ID() string {
	return s.id
}

// Run is New followed by Session.Run.
func Run(ctx context.Context, rs types.RuleSet, res engine.Resolver, cfg Config) error {
	return New(rs, res, cfg).Run(ctx)
}

// Run listens, waits for the peer and drives the engine until the peer
// leaves, a write fails or ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	ln, err := transport.Listen(s.cfg.Network, s.cfg.Address)
	if err != nil {
		return s.fail(err)
	}
	defer func() {
		if err := ln.Close(); err != nil {
			s.log.Warn().Err(err).Msg("closing listener")
		}
	}()

	addr := ln.Addr().String()
	s.setState(types.StateListening, addr)
	s.log.Info().Str("network", s.cfg.Network).Str("address", addr).Msg("waiting for peer")

	conn, err := ln.Accept(ctx, s.cfg.ReadBuffer)
	if err != nil {
		if ctx.Err() != nil {
			s.setState(types.StateFinished, "cancelled before a peer connected")
			return nil
		}
		return s.fail(err)
	}
	defer conn.Close()

	peer := conn.RemoteAddr()
	s.setState(types.StateConnected, peer)
	s.log.Info().Str("peer", peer).Msg("peer connected")

	if err := s.engine.Run(ctx, conn); err != nil {
		return s.fail(err)
	}
	s.setState(types.StateFinished, peer)
	return nil
}

// State reports the current state, its detail and the error of a failed run.
func (s *Session) State() (types.SessionState, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.detail, s.err
}

func (s *Session) Snapshot() types.Snapshot {
	return s.engine.Snapshot()
}

func (s *Session) Plan() *engine.Plan {
	return s.engine.Plan()
}

func (s *Session) fail(err error) error {
	err = fmt.Errorf("simulator: %w", err)
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.setState(types.StateFailed, err.Error())
	return err
}

func (s *Session) setState(state types.SessionState, detail string) {
	s.mu.Lock()
	s.state = state
	s.detail = detail
	s.mu.Unlock()

	if s.cfg.Observer != nil {
		s.cfg.Observer(state, detail)
	}
}
