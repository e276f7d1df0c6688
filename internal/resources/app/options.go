package app

import (
	"log/slog"
	"time"

	"github.com/dejobratic/fetchstate/internal/resources/metrics"
)

const (
	// DefaultMinLatency is the floor applied before a cache-miss result is
	// surfaced, so a loading phase is always visible for at least this long.
	DefaultMinLatency = time.Second

	// DefaultTimeout bounds a single upstream round trip.
	DefaultTimeout = 30 * time.Second
)

type settings struct {
	minLatency time.Duration
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func defaultSettings() settings {
	return settings{
		minLatency: DefaultMinLatency,
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
	}
}

// Option configures a Manager or every Manager created by a Service.
type Option func(*settings)

// WithMinLatency sets the latency floor for cache misses. Zero disables it.
func WithMinLatency(d time.Duration) Option {
	return func(s *settings) {
		if d >= 0 {
			s.minLatency = d
		}
	}
}

// WithTimeout bounds each upstream request. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}
