package interceptors

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Metrics holds Prometheus collectors for gRPC instrumentation.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight *prometheus.GaugeVec
}

// NewMetrics creates gRPC metrics and registers them with the given
// registerer. Collectors already registered are reused.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "npcforge",
				Subsystem: "grpc",
				Name:      "requests_total",
				Help:      "Total number of gRPC requests.",
			},
			[]string{"method", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "npcforge",
				Subsystem: "grpc",
				Name:      "request_duration_seconds",
				Help:      "Duration of gRPC requests.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		inflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "npcforge",
				Subsystem: "grpc",
				Name:      "in_flight",
				Help:      "In-flight gRPC requests.",
			},
			[]string{"method"},
		),
	}

	m.requests = register(registerer, m.requests)
	m.duration = register(registerer, m.duration)
	m.inflight = register(registerer, m.inflight)
	return m
}

// MetricsUnaryInterceptor collects metrics for unary RPCs.
func MetricsUnaryInterceptor(m *Metrics) grpc.UnaryServerInterceptor {
	if m == nil {
		m = NewMetrics(nil)
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		done := m.begin(info.FullMethod)
		resp, err := handler(ctx, req)
		done(err)
		return resp, err
	}
}

// MetricsStreamInterceptor collects metrics for streaming RPCs.
func MetricsStreamInterceptor(m *Metrics) grpc.StreamServerInterceptor {
	if m == nil {
		m = NewMetrics(nil)
	}
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		done := m.begin(info.FullMethod)
		err := handler(srv, ss)
		done(err)
		return err
	}
}

func (m *Metrics) begin(method string) func(error) {
	start := time.Now()
	m.inflight.WithLabelValues(method).Inc()
	return func(err error) {
		m.inflight.WithLabelValues(method).Dec()
		m.requests.WithLabelValues(method, status.Code(err).String()).Inc()
		m.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}
}

func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	if err := registerer.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return collector
}
