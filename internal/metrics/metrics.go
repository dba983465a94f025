// Package metrics instruments providers with Prometheus collectors and
// serves them over HTTP.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shineum/mailer-lite/internal/email"
	"github.com/shineum/mailer-lite/internal/provider"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

type collectors struct {
	sends    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newCollectors() *collectors {
	return &collectors{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailer_sends_total",
			Help: "Total number of messages handed to a provider, by result.",
		}, []string{"provider", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mailer_send_duration_seconds",
			Help:    "Time spent in a provider send call.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}
}

// register adds the collectors to reg, reusing ones already registered by
// an earlier Instrument call on the same registry.
func (c *collectors) register(reg prometheus.Registerer) error {
	if err := reg.Register(c.sends); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return err
		}
		c.sends = are.ExistingCollector.(*prometheus.CounterVec)
	}
	if err := reg.Register(c.duration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return err
		}
		c.duration = are.ExistingCollector.(*prometheus.HistogramVec)
	}
	return nil
}

// Instrument returns a Provider that records every Send of p in reg before
// returning p's result unchanged.
func Instrument(p provider.Provider, reg prometheus.Registerer) (provider.Provider, error) {
	c := newCollectors()
	if err := c.register(reg); err != nil {
		return nil, err
	}
	return &instrumented{
		Provider: p,
		sends:    c.sends,
		duration: c.duration.WithLabelValues(p.Name()),
	}, nil
}

type instrumented struct {
	provider.Provider
	sends    *prometheus.CounterVec
	duration prometheus.Observer
}

func (i *instrumented) Send(ctx context.Context, msg *email.Message) error {
	start := time.Now()
	err := i.Provider.Send(ctx, msg)
	i.duration.Observe(time.Since(start).Seconds())

	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	i.sends.WithLabelValues(i.Provider.Name(), result).Inc()
	return err
}
