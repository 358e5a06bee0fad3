// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the domain counters and the HTTP histogram.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	InvitationsCreated   prometheus.Counter
	InvitationEmails     *prometheus.CounterVec
	InvitationsRedeemed  prometheus.Counter
	ConnectionsCreated   prometheus.Counter
	ConnectionsEnded     prometheus.Counter
	StageToggles         *prometheus.CounterVec
	PointsAwarded        prometheus.Counter
	HTTPRequestDurations *prometheus.HistogramVec
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		InvitationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "underneath",
			Name:      "invitations_created_total",
			Help:      "Invitations created.",
		}),
		InvitationEmails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "underneath",
			Name:      "invitation_emails_total",
			Help:      "Invitation email attempts by result.",
		}, []string{"result"}),
		InvitationsRedeemed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "underneath",
			Name:      "invitations_redeemed_total",
			Help:      "Invitations consumed by a SUB.",
		}),
		ConnectionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "underneath",
			Name:      "connections_created_total",
			Help:      "Connections created.",
		}),
		ConnectionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "underneath",
			Name:      "connections_terminated_total",
			Help:      "Connections terminated.",
		}),
		StageToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "underneath",
			Name:      "stage_toggles_total",
			Help:      "Stage flag toggles by flag.",
		}, []string{"flag"}),
		PointsAwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "underneath",
			Name:      "point_awards_total",
			Help:      "Point awards and deductions applied.",
		}),
		HTTPRequestDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "underneath",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.InvitationsCreated,
		m.InvitationEmails,
		m.InvitationsRedeemed,
		m.ConnectionsCreated,
		m.ConnectionsEnded,
		m.StageToggles,
		m.PointsAwarded,
		m.HTTPRequestDurations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) IncInvitationCreated() {
	if m != nil {
		m.InvitationsCreated.Inc()
	}
}

// ObserveInvitationEmail counts an email attempt as sent, failed or skipped.
func (m *Metrics) ObserveInvitationEmail(result string) {
	if m != nil {
		m.InvitationEmails.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncConnectionCreated() {
	if m != nil {
		m.InvitationsRedeemed.Inc()
		m.ConnectionsCreated.Inc()
	}
}

func (m *Metrics) IncConnectionTerminated() {
	if m != nil {
		m.ConnectionsEnded.Inc()
	}
}

func (m *Metrics) IncStageToggle(flag string) {
	if m != nil {
		m.StageToggles.WithLabelValues(flag).Inc()
	}
}

func (m *Metrics) IncPointsAwarded() {
	if m != nil {
		m.PointsAwarded.Inc()
	}
}

// Middleware records request durations labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestDurations.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
