package simulator

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samaelod/devsim/engine"
	"github.com/samaelod/devsim/resolver"
	"github.com/samaelod/devsim/transport"
	"github.com/samaelod/devsim/types"
)

type stateLog struct {
	mu     sync.Mutex
	states []types.SessionState
}

func (l *stateLog) observe(s types.SessionState, _ string) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) all() []types.SessionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.SessionState(nil), l.states...)
}

func payloadDir(t *testing.T, files map[string]string) *resolver.Dir {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	return resolver.NewDir(dir)
}

func shortSocket(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "devsim")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "dev.sock")
}

func readN(t *testing.T, c net.Conn, n int) string {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, n)
	_, err := io.ReadFull(c, buf)
	require.NoError(t, err)
	return string(buf)
}

func TestSessionServesOnePeerOverUnixSocket(t *testing.T) {
	path := shortSocket(t)
	res := payloadDir(t, map[string]string{"hello.bin": "HELLO", "reply.bin": "REPLY"})
	rs := types.RuleSet{Rules: []types.Rule{
		{Pattern: `hello\.bin`, Repeat: 1},
		{Pattern: `reply\.bin`, Repeat: 1, WaitCount: 1},
	}}

	states := &stateLog{}
	s := New(rs, res, Config{
		Address:  path,
		Engine:   engine.Options{Logger: zerolog.Nop()},
		Observer: states.observe,
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		st, _, _ := s.State()
		return st == types.StateListening
	}, 2*time.Second, time.Millisecond)

	c, err := net.Dial("unix", path)
	require.NoError(t, err)

	assert.Equal(t, "HELLO", readN(t, c, 5))
	_, err = c.Write([]byte("go"))
	require.NoError(t, err)
	assert.Equal(t, "REPLY", readN(t, c, 5))
	require.NoError(t, c.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end after peer closed")
	}

	assert.Equal(t, []types.SessionState{
		types.StateListening, types.StateConnected, types.StateFinished,
	}, states.all())
	assert.Equal(t, 1, s.Snapshot().Received)
	require.NotNil(t, s.Plan())

	_, err = os.Lstat(path)
	assert.True(t, os.IsNotExist(err), "socket endpoint is removed")
}

func TestSessionOverTCP(t *testing.T) {
	res := payloadDir(t, map[string]string{"a.bin": "A"})
	rs := types.RuleSet{Rules: []types.Rule{{Pattern: `a\.bin`, Repeat: 1}}}

	var (
		mu   sync.Mutex
		addr string
	)
	s := New(rs, res, Config{
		Network: "tcp",
		Address: "127.0.0.1:0",
		Engine:  engine.Options{Logger: zerolog.Nop()},
		Observer: func(st types.SessionState, detail string) {
			if st == types.StateListening {
				mu.Lock()
				addr = detail
				mu.Unlock()
			}
		},
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return addr != ""
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	c, err := net.Dial("tcp", addr)
	mu.Unlock()
	require.NoError(t, err)
	assert.Equal(t, "A", readN(t, c, 1))
	require.NoError(t, c.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestSessionCancelledWhileListening(t *testing.T) {
	s := New(types.RuleSet{}, payloadDir(t, nil), Config{
		Address: shortSocket(t),
		Engine:  engine.Options{Logger: zerolog.Nop()},
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	require.NoError(t, s.Run(ctx))
	st, _, err := s.State()
	assert.Equal(t, types.StateFinished, st)
	assert.NoError(t, err)
}

func TestSessionListenFailure(t *testing.T) {
	path := shortSocket(t)
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	err := Run(context.Background(), types.RuleSet{}, payloadDir(t, nil), Config{
		Address: path,
		Engine:  engine.Options{Logger: zerolog.Nop()},
	})
	assert.ErrorIs(t, err, transport.ErrPathNotSocket)
}

func TestSessionIDTagsLogLines(t *testing.T) {
	var logs bytes.Buffer
	s := New(types.RuleSet{}, payloadDir(t, nil), Config{
		Address: shortSocket(t),
		Engine:  engine.Options{Logger: zerolog.New(&logs)},
	})
	other := New(types.RuleSet{}, payloadDir(t, nil), Config{})

	_, err := uuid.Parse(s.ID())
	require.NoError(t, err)
	assert.NotEqual(t, s.ID(), other.ID())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	require.NoError(t, s.Run(ctx))

	assert.Contains(t, logs.String(), `"session":"`+s.ID()+`"`)
	assert.Contains(t, logs.String(), "waiting for peer")
}
