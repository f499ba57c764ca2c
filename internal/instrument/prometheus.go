// Package instrument counts orchestration activity for prometheus.
package instrument

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"otrkit/internal/domain"
	"otrkit/internal/domain/types"
)

// Prometheus implements domain.Metrics with counters on its own registry, so
// several kits in one process do not collide.
type Prometheus struct {
	registry *prometheus.Registry

	encoded       *prometheus.CounterVec
	decoded       *prometheus.CounterVec
	fragmentsSent *prometheus.CounterVec
	reassembled   *prometheus.CounterVec
	smpOutcomes   *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

var _ domain.Metrics = (*Prometheus)(nil)

// New registers the counters.
func New() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		encoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otrkit_messages_encoded_total",
				Help: "Number of outgoing messages encoded",
			},
			[]string{"protocol", "encrypted"},
		),
		decoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otrkit_messages_decoded_total",
				Help: "Number of incoming messages decoded",
			},
			[]string{"protocol", "encrypted"},
		),
		fragmentsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otrkit_fragments_sent_total",
				Help: "Number of fragments injected",
			},
			[]string{"protocol"},
		),
		reassembled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otrkit_messages_reassembled_total",
				Help: "Number of fragmented messages put back together",
			},
			[]string{"protocol"},
		),
		smpOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otrkit_smp_outcomes_total",
				Help: "Number of finished SMP negotiations by outcome",
			},
			[]string{"outcome"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otrkit_notifications_delivered_total",
				Help: "Number of notifications delivered to the host",
			},
			[]string{"kind"},
		),
	}
	p.registry.MustRegister(p.encoded, p.decoded, p.fragmentsSent, p.reassembled, p.smpOutcomes, p.notifications)
	return p
}

// Registry exposes the underlying registry, mostly for tests.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

func (p *Prometheus) MessageEncoded(protocol string, encrypted bool) {
	p.encoded.WithLabelValues(protocol, strconv.FormatBool(encrypted)).Inc()
}

func (p *Prometheus) MessageDecoded(protocol string, encrypted bool) {
	p.decoded.WithLabelValues(protocol, strconv.FormatBool(encrypted)).Inc()
}

func (p *Prometheus) FragmentsSent(protocol string, n int) {
	p.fragmentsSent.WithLabelValues(protocol).Add(float64(n))
}

func (p *Prometheus) FragmentsReassembled(protocol string) {
	p.reassembled.WithLabelValues(protocol).Inc()
}

func (p *Prometheus) SMPOutcome(ev types.SMPEvent) {
	p.smpOutcomes.WithLabelValues(ev.String()).Inc()
}

func (p *Prometheus) NotificationDelivered(kind string) {
	p.notifications.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (p *Prometheus) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Nop discards everything.
type Nop struct{}

var _ domain.Metrics = Nop{}

func (Nop) MessageEncoded(string, bool)  {}
func (Nop) MessageDecoded(string, bool)  {}
func (Nop) FragmentsSent(string, int)    {}
func (Nop) FragmentsReassembled(string)  {}
func (Nop) SMPOutcome(types.SMPEvent)    {}
func (Nop) NotificationDelivered(string) {}
