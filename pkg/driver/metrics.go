package driver

import (
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// Metrics exports session counters to Prometheus. A nil *Metrics records
// nothing.
type Metrics struct {
	schedules  *prom.CounterVec
	delays     *prom.CounterVec
	violations *prom.CounterVec
	sequential *prom.GaugeVec
	duration   *prom.HistogramVec
}

// NewMetrics creates the session collectors and registers them with reg.
// Collectors already registered by another session are reused.
func NewMetrics(reg prom.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	schedules := prom.NewCounterVec(prom.CounterOpts{
		Namespace: "lincheck",
		Name:      "schedules_total",
		Help:      "Schedules executed.",
	}, []string{"object"})
	delays := prom.NewCounterVec(prom.CounterOpts{
		Namespace: "lincheck",
		Name:      "delays_total",
		Help:      "Delays applied across all schedules.",
	}, []string{"object"})
	violations := prom.NewCounterVec(prom.CounterOpts{
		Namespace: "lincheck",
		Name:      "violations_total",
		Help:      "Schedules flagged, per detector.",
	}, []string{"object", "detector"})
	sequential := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "lincheck",
		Name:      "sequential_histories",
		Help:      "Distinct sequential histories of the reference object.",
	}, []string{"object"})
	duration := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: "lincheck",
		Name:      "enumeration_duration_seconds",
		Help:      "Wall time of one enumeration.",
		Buckets:   prom.ExponentialBuckets(0.01, 4, 8),
	}, []string{"object"})

	var err error
	if schedules, err = registerCollector(reg, schedules); err != nil {
		return nil, err
	}
	if delays, err = registerCollector(reg, delays); err != nil {
		return nil, err
	}
	if violations, err = registerCollector(reg, violations); err != nil {
		return nil, err
	}
	if sequential, err = registerCollector(reg, sequential); err != nil {
		return nil, err
	}
	if duration, err = registerCollector(reg, duration); err != nil {
		return nil, err
	}

	return &Metrics{
		schedules:  schedules,
		delays:     delays,
		violations: violations,
		sequential: sequential,
		duration:   duration,
	}, nil
}

func (m *Metrics) schedule(object string) {
	if m == nil {
		return
	}
	m.schedules.WithLabelValues(object).Inc()
}

func (m *Metrics) delay(object string) {
	if m == nil {
		return
	}
	m.delays.WithLabelValues(object).Inc()
}

func (m *Metrics) violation(object, detector string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(object, detector).Inc()
}

func (m *Metrics) histories(object string, n int) {
	if m == nil {
		return
	}
	m.sequential.WithLabelValues(object).Set(float64(n))
}

func (m *Metrics) elapsed(object string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(object).Observe(d.Seconds())
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}

// WriteTextfile writes everything gathered by g to filename in the text
// exposition format.
func WriteTextfile(filename string, g prom.Gatherer) error {
	if err := prom.WriteToTextfile(filename, g); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
