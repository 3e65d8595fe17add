package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devsim"

// Recorder groups the simulator collectors. A nil *Recorder is a no-op so
// components can record unconditionally.
type Recorder struct {
	Registry *prometheus.Registry

	Sent              *prometheus.CounterVec
	SentBytes         prometheus.Counter
	SendErrors        prometheus.Counter
	Received          *prometheus.CounterVec
	ReceiveTimeouts   prometheus.Counter
	TriggersFired     prometheus.Counter
	RespondersExpired prometheus.Counter
	RotationSets      prometheus.Gauge
	Responders        prometheus.Gauge
	ReceivedCount     prometheus.Gauge
}

// New creates the collectors and registers them on a private registry.
func New() *Recorder {
	r := &Recorder{
		Registry: prometheus.NewRegistry(),
		Sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sent_total",
			Help:      "Payloads written to the peer by dispatch mode",
		}, []string{"kind"}),
		SentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sent_bytes_total",
			Help:      "Payload bytes written to the peer",
		}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Failed payload writes",
		}),
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_total",
			Help:      "Inbound peer messages by the counter they were attributed to",
		}, []string{"counter"}),
		ReceiveTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_timeouts_total",
			Help:      "Soft receive timeouts in the main loop",
		}),
		TriggersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_fired_total",
			Help:      "Trigger groups dispatched",
		}),
		RespondersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responders_expired_total",
			Help:      "Request-response controllers stopped by their wait timeout",
		}),
		RotationSets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rotation_sets_active",
			Help:      "Continuous rotation sets currently scheduled",
		}),
		Responders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "responders_active",
			Help:      "Request-response controllers not yet stopped",
		}),
		ReceivedCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "received_count",
			Help:      "Current value of the main received-message counter",
		}),
	}
	r.Registry.MustRegister(
		r.Sent, r.SentBytes, r.SendErrors, r.Received, r.ReceiveTimeouts,
		r.TriggersFired, r.RespondersExpired, r.RotationSets, r.Responders, r.ReceivedCount,
	)
	return r
}

func (r *Recorder) ObserveSend(kind string, n int) {
	if r == nil {
		return
	}
	r.Sent.WithLabelValues(kind).Inc()
	r.SentBytes.Add(float64(n))
}

func (r *Recorder) ObserveSendError() {
	if r == nil {
		return
	}
	r.SendErrors.Inc()
}

// ObserveReceive records an inbound message; counter is "main" or "responder".
func (r *Recorder) ObserveReceive(counter string, mainCount int) {
	if r == nil {
		return
	}
	r.Received.WithLabelValues(counter).Inc()
	r.ReceivedCount.Set(float64(mainCount))
}

func (r *Recorder) ObserveTimeout() {
	if r == nil {
		return
	}
	r.ReceiveTimeouts.Inc()
}

func (r *Recorder) ObserveTrigger() {
	if r == nil {
		return
	}
	r.TriggersFired.Inc()
}

func (r *Recorder) AddRotationSets(n int) {
	if r == nil {
		return
	}
	r.RotationSets.Add(float64(n))
}

func (r *Recorder) AddResponders(n int) {
	if r == nil {
		return
	}
	r.Responders.Add(float64(n))
}

func (r *Recorder) ObserveResponderExpired() {
	if r == nil {
		return
	}
	r.RespondersExpired.Inc()
	r.Responders.Dec()
}

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return r.ServeListener(ctx, ln)
}

func (r *Recorder) ServeListener(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
