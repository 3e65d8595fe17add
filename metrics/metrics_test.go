package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.ObserveSend("finite", 10)
	r.ObserveSend("finite", 5)
	r.ObserveSend("continuous", 1)
	r.ObserveReceive("main", 1)
	r.ObserveReceive("responder", 1)
	r.ObserveTimeout()
	r.ObserveTrigger()
	r.AddRotationSets(2)
	r.AddResponders(2)
	r.ObserveResponderExpired()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Sent.WithLabelValues("finite")))
	assert.Equal(t, 16.0, testutil.ToFloat64(r.SentBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Received.WithLabelValues("responder")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ReceivedCount))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ReceiveTimeouts))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.TriggersFired))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.RotationSets))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Responders))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RespondersExpired))
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveSend("single", 1)
		r.ObserveSendError()
		r.ObserveReceive("main", 1)
		r.ObserveTimeout()
		r.ObserveTrigger()
		r.AddRotationSets(1)
		r.AddResponders(1)
		r.ObserveResponderExpired()
	})
}

func TestServeListener(t *testing.T) {
	r := New()
	r.ObserveSend("single", 3)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.ServeListener(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `devsim_sent_total{kind="single"} 1`), string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
