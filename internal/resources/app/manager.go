package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dejobratic/fetchstate/internal/resources/domain"
	"github.com/dejobratic/fetchstate/internal/resources/metrics"
	"github.com/dejobratic/fetchstate/internal/resources/ports"
	"github.com/dejobratic/fetchstate/internal/telemetry"
)

// Manager tracks the request lifecycle of one observer. Each call to Observe
// with a new key restarts the sequence for that key: a cache hit resolves
// synchronously, a miss shows loading and fetches in the background.
//
// Results are tagged with the generation that issued them and dropped if the
// observed key changed before they resolved.
type Manager[T any] struct {
	cache     ports.Cache[T]
	transport ports.Transport
	settings

	mu         sync.Mutex
	key        string
	observed   bool
	generation uint64
	version    uint64
	state      domain.RequestState[T]
	cancel     context.CancelFunc
	closed     bool
	done       chan struct{}
	inflight   sync.WaitGroup

	// notifyMu serialises delivery so subscribers never see an older state
	// after a newer one.
	notifyMu  sync.Mutex
	delivered uint64

	subMu       sync.Mutex
	nextSubID   uint64
	subscribers []subscriber[T]
}

type subscriber[T any] struct {
	id uint64
	fn func(domain.RequestState[T])
	// seen is the version the subscriber already holds; older or equal
	// versions are not delivered to it.
	seen uint64
}

// NewManager creates a Manager that reads and fills cache and issues requests
// through transport. Payloads are decoded from JSON into T.
func NewManager[T any](cache ports.Cache[T], transport ports.Transport, opts ...Option) *Manager[T] {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}

	return &Manager[T]{
		cache:     cache,
		transport: transport,
		settings:  s,
		state:     domain.Loading[T](""),
		done:      make(chan struct{}),
	}
}

// Observe points the manager at key and returns the state right after the
// synchronous part of the sequence: success for a cache hit, loading for a
// miss. Re-observing the current key is a no-op unless its last attempt
// failed, in which case the request is retried.
//
// ctx only carries values such as the trace; the background fetch outlives
// it and is cancelled by the next key change or Close.
func (m *Manager[T]) Observe(ctx context.Context, key string) domain.RequestState[T] {
	m.mu.Lock()
	if m.closed || (m.observed && key == m.key && !m.state.HasError) {
		state := m.state
		m.mu.Unlock()
		return state
	}

	m.observed = true
	m.key = key
	m.generation++
	generation := m.generation
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	if key == "" {
		state := domain.Failed[T](key, domain.NewTransportError(ports.ErrEmptyKey))
		version := m.applyLocked(state)
		m.mu.Unlock()
		m.deliver(state, version)
		return state
	}

	if data, ok := m.cache.Get(key); ok {
		m.metrics.RecordCacheLookup(ctx, true)
		state := domain.Succeeded(key, data)
		version := m.applyLocked(state)
		m.mu.Unlock()

		m.logger.DebugContext(ctx, "serving resource from cache", "key", key)
		m.deliver(state, version)
		return state
	}

	m.metrics.RecordCacheLookup(ctx, false)
	state := domain.Loading[T](key)
	version := m.applyLocked(state)

	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.inflight.Add(1)
	m.mu.Unlock()

	m.deliver(state, version)
	go m.fetch(fetchCtx, cancel, generation, key)

	return state
}

// State returns the current state without triggering any work.
func (m *Manager[T]) State() domain.RequestState[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Key returns the key most recently passed to Observe.
func (m *Manager[T]) Key() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.key
}

// Subscribe registers fn to receive every state the manager applies from now
// on. fn runs on the goroutine that applied the state and must not call back
// into the Manager. The returned function removes the subscription.
func (m *Manager[T]) Subscribe(fn func(domain.RequestState[T])) func() {
	return m.addSubscriber(fn, 0)
}

// Watch is Subscribe plus the current state, taken atomically: fn only
// receives states applied after the returned one.
func (m *Manager[T]) Watch(fn func(domain.RequestState[T])) (domain.RequestState[T], func()) {
	// holding notifyMu keeps any pending delivery from slipping in between
	// the snapshot and the registration
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	current, version := m.state, m.version
	m.mu.Unlock()

	return current, m.addSubscriber(fn, version)
}

// Done is closed once Close has finished.
func (m *Manager[T]) Done() <-chan struct{} {
	return m.done
}

func (m *Manager[T]) addSubscriber(fn func(domain.RequestState[T]), seen uint64) func() {
	m.subMu.Lock()
	m.nextSubID++
	id := m.nextSubID
	m.subscribers = append(m.subscribers, subscriber[T]{id: id, fn: fn, seen: seen})
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			for i, sub := range m.subscribers {
				if sub.id == id {
					m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

// Close cancels any in-flight request, waits for it to unwind and drops all
// subscribers, then closes Done. Observe becomes a no-op afterwards.
func (m *Manager[T]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()

	m.inflight.Wait()

	m.subMu.Lock()
	m.subscribers = nil
	m.subMu.Unlock()

	close(m.done)
}

func (m *Manager[T]) fetch(ctx context.Context, cancel context.CancelFunc, generation uint64, key string) {
	defer m.inflight.Done()
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "ResourceManager.Fetch",
		attribute.String("resource.key", key),
		attribute.Int64("resource.generation", int64(generation)),
	)
	defer span.End()

	start := time.Now()
	data, err := m.resolve(ctx, key)
	if err == nil {
		m.cache.Set(key, data)
	}

	m.waitForFloor(ctx, start)

	m.mu.Lock()
	if m.closed || generation != m.generation {
		m.mu.Unlock()

		m.metrics.RecordStaleResult(ctx)
		m.metrics.RecordFetch(ctx, metrics.OutcomeStale, time.Since(start).Seconds())
		telemetry.AddSpanEvent(span, "stale_result_discarded")
		m.logger.DebugContext(ctx, "discarding stale resource result",
			"key", key,
			"generation", generation,
		)
		return
	}

	var state domain.RequestState[T]
	if err != nil {
		state = domain.Failed[T](key, err)
	} else {
		state = domain.Succeeded(key, data)
	}
	version := m.applyLocked(state)
	m.cancel = nil
	m.mu.Unlock()

	duration := time.Since(start).Seconds()
	if err != nil {
		telemetry.RecordSpanError(span, err)
		m.metrics.RecordFetch(ctx, outcomeOf(err), duration)
		m.logger.WarnContext(ctx, "resource request failed",
			"key", key,
			"error", err,
		)
	} else {
		telemetry.SetSpanSuccess(span)
		m.metrics.RecordFetch(ctx, metrics.OutcomeSuccess, duration)
		m.logger.InfoContext(ctx, "resource loaded",
			"key", key,
			"duration", time.Since(start),
		)
	}

	m.deliver(state, version)
}

func (m *Manager[T]) resolve(ctx context.Context, key string) (T, error) {
	var zero T

	reqCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resp, err := m.transport.Do(reqCtx, key)
	if err != nil {
		return zero, domain.NewTransportError(err)
	}

	if !resp.OK() {
		message := resp.Status
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return zero, &domain.HTTPStatusError{Code: resp.StatusCode, Message: message}
	}

	var data T
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return zero, domain.NewTransportError(fmt.Errorf("decode response body: %w", err))
	}

	return data, nil
}

// waitForFloor blocks until minLatency has passed since start or ctx ends.
func (m *Manager[T]) waitForFloor(ctx context.Context, start time.Time) {
	remaining := m.minLatency - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// applyLocked stores state and returns its version. m.mu must be held.
func (m *Manager[T]) applyLocked(state domain.RequestState[T]) uint64 {
	m.version++
	m.state = state
	return m.version
}

func (m *Manager[T]) deliver(state domain.RequestState[T], version uint64) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	if version <= m.delivered {
		return
	}
	m.delivered = version

	m.subMu.Lock()
	subs := make([]subscriber[T], len(m.subscribers))
	copy(subs, m.subscribers)
	m.subMu.Unlock()

	for _, sub := range subs {
		if version > sub.seen {
			sub.fn(state)
		}
	}
}

func outcomeOf(err error) string {
	if domain.DetailFromError(err).Code != 0 {
		return metrics.OutcomeStatusError
	}
	return metrics.OutcomeTransport
}
