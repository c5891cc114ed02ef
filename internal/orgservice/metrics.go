package orgservice

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orgbridge_dispatch_total",
		Help: "Operations dispatched against an organization, by outcome.",
	}, []string{"organization", "operation", "outcome"})

	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orgbridge_dispatch_duration_seconds",
		Help:    "Latency of dispatched operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	organizationReady = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orgbridge_organization_ready",
		Help: "1 when the organization has a ready client, 0 otherwise.",
	}, []string{"organization"})
)

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	default:
		return "error"
	}
}

func (s *Service) observe(operation string, start time.Time, err error) {
	dispatchTotal.WithLabelValues(s.org.ID.String(), operation, outcome(err)).Inc()
	dispatchDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
