package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/dejobratic/fetchstate/internal/resources/adapters/memory"
	"github.com/dejobratic/fetchstate/internal/resources/app"
	"github.com/dejobratic/fetchstate/internal/resources/domain"
	"github.com/dejobratic/fetchstate/internal/resources/ports"
)

type item struct {
	ID int `json:"id"`
}

type fakeResult struct {
	resp *ports.Response
	err  error
	// block holds the response until closed. The wait ignores ctx so a
	// superseded request can still deliver a late result.
	block chan struct{}
}

type fakeTransport struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string]fakeResult
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		calls:   make(map[string]int),
		results: make(map[string]fakeResult),
	}
}

func (f *fakeTransport) respond(key string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[key] = fakeResult{resp: &ports.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       []byte(body),
	}}
}

func (f *fakeTransport) set(key string, result fakeResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[key] = result
}

func (f *fakeTransport) Do(_ context.Context, key string) (*ports.Response, error) {
	f.mu.Lock()
	f.calls[key]++
	result, ok := f.results[key]
	f.mu.Unlock()

	if !ok {
		return &ports.Response{StatusCode: http.StatusNotFound, Status: "Not Found"}, nil
	}
	if result.block != nil {
		<-result.block
	}
	return result.resp, result.err
}

func (f *fakeTransport) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

type recorder[T any] struct {
	mu     sync.Mutex
	states []domain.RequestState[T]
}

func (r *recorder[T]) record(state domain.RequestState[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recorder[T]) snapshot() []domain.RequestState[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RequestState[T], len(r.states))
	copy(out, r.states)
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager(cache ports.Cache[item], transport ports.Transport, opts ...app.Option) *app.Manager[item] {
	opts = append([]app.Option{app.WithLogger(quietLogger()), app.WithMinLatency(20 * time.Millisecond)}, opts...)
	return app.NewManager(cache, transport, opts...)
}

func waitForTerminal[T any](t *testing.T, m *app.Manager[T]) domain.RequestState[T] {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if state := m.State(); state.IsTerminal() {
			return state
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("manager did not reach a terminal phase, state: %+v", m.State())
	return domain.RequestState[T]{}
}

func TestManagerCacheMiss(t *testing.T) {
	t.Run("shows loading then success and fills the cache", func(t *testing.T) {
		cache := memory.NewCache[item](0)
		transport := newFakeTransport()
		transport.respond("/api/items/1", http.StatusOK, `{"id":1}`)

		manager := app.NewManager[item](cache, transport, app.WithLogger(quietLogger()))
		defer manager.Close()

		start := time.Now()
		state := manager.Observe(context.Background(), "/api/items/1")
		if state.Phase() != domain.PhaseLoading {
			t.Fatalf("expected loading phase, got %s", state.Phase())
		}

		state = waitForTerminal(t, manager)
		elapsed := time.Since(start)

		if state.Phase() != domain.PhaseSuccess {
			t.Fatalf("expected success phase, got %s (%+v)", state.Phase(), state.Error)
		}
		if state.Data.ID != 1 {
			t.Errorf("expected data id 1, got %d", state.Data.ID)
		}
		if elapsed < app.DefaultMinLatency {
			t.Errorf("expected terminal phase no sooner than %s, got %s", app.DefaultMinLatency, elapsed)
		}

		cached, ok := cache.Get("/api/items/1")
		if !ok || cached.ID != 1 {
			t.Errorf("expected cache to hold id 1, got %+v (ok=%v)", cached, ok)
		}
	})

	t.Run("non-2xx status yields error phase without caching", func(t *testing.T) {
		cache := memory.NewCache[item](0)
		transport := newFakeTransport()

		manager := newManager(cache, transport)
		defer manager.Close()

		start := time.Now()
		manager.Observe(context.Background(), "/api/items/2")
		state := waitForTerminal(t, manager)

		if time.Since(start) < 20*time.Millisecond {
			t.Error("expected latency floor to apply to error outcomes")
		}
		if state.Phase() != domain.PhaseError {
			t.Fatalf("expected error phase, got %s", state.Phase())
		}
		if state.Error == nil || state.Error.Code != http.StatusNotFound || state.Error.Message != "Not Found" {
			t.Errorf("expected 404 Not Found detail, got %+v", state.Error)
		}
		if _, ok := cache.Get("/api/items/2"); ok {
			t.Error("expected failed request to leave the cache untouched")
		}
	})

	t.Run("re-observing a failed key retries the request", func(t *testing.T) {
		cache := memory.NewCache[item](0)
		transport := newFakeTransport()

		manager := newManager(cache, transport)
		defer manager.Close()

		manager.Observe(context.Background(), "/api/items/2")
		waitForTerminal(t, manager)

		transport.respond("/api/items/2", http.StatusOK, `{"id":2}`)
		state := manager.Observe(context.Background(), "/api/items/2")
		if state.Phase() != domain.PhaseLoading {
			t.Fatalf("expected retry to show loading, got %s", state.Phase())
		}

		state = waitForTerminal(t, manager)
		if state.Phase() != domain.PhaseSuccess || state.Data.ID != 2 {
			t.Errorf("expected success with id 2, got %+v", state)
		}
		if calls := transport.callCount("/api/items/2"); calls != 2 {
			t.Errorf("expected 2 upstream calls, got %d", calls)
		}
	})

	t.Run("transport fault yields error phase without code", func(t *testing.T) {
		transport := newFakeTransport()
		transport.set("/api/items/5", fakeResult{err: errors.New("connection refused")})

		manager := newManager(memory.NewCache[item](0), transport)
		defer manager.Close()

		manager.Observe(context.Background(), "/api/items/5")
		state := waitForTerminal(t, manager)

		if !state.HasError || state.Error == nil {
			t.Fatalf("expected error phase, got %+v", state)
		}
		if state.Error.Code != 0 {
			t.Errorf("expected no status code, got %d", state.Error.Code)
		}
		if state.Error.Message != "connection refused" {
			t.Errorf("expected message connection refused, got %q", state.Error.Message)
		}
	})

	t.Run("undecodable body yields error phase without caching", func(t *testing.T) {
		cache := memory.NewCache[item](0)
		transport := newFakeTransport()
		transport.respond("/api/items/6", http.StatusOK, `<html>`)

		manager := newManager(cache, transport)
		defer manager.Close()

		manager.Observe(context.Background(), "/api/items/6")
		state := waitForTerminal(t, manager)

		if !state.HasError || state.Error.Code != 0 {
			t.Fatalf("expected decode failure without code, got %+v", state)
		}
		if _, ok := cache.Get("/api/items/6"); ok {
			t.Error("expected undecodable body to leave the cache untouched")
		}
	})

	t.Run("request exceeding the timeout yields error phase", func(t *testing.T) {
		transport := &slowTransport{delay: time.Second}

		manager := newManager(memory.NewCache[item](0), transport, app.WithTimeout(30*time.Millisecond))
		defer manager.Close()

		manager.Observe(context.Background(), "/api/items/7")
		state := waitForTerminal(t, manager)

		if !state.HasError {
			t.Fatalf("expected error phase, got %+v", state)
		}
		if !errors.Is(transport.lastErr(), context.DeadlineExceeded) {
			t.Errorf("expected transport to observe deadline, got %v", transport.lastErr())
		}
	})

	t.Run("empty key yields error phase without a request", func(t *testing.T) {
		transport := newFakeTransport()
		manager := newManager(memory.NewCache[item](0), transport)
		defer manager.Close()

		state := manager.Observe(context.Background(), "")
		if !state.HasError || state.Error.Message != ports.ErrEmptyKey.Error() {
			t.Errorf("expected empty key error, got %+v", state)
		}
		if calls := transport.callCount(""); calls != 0 {
			t.Errorf("expected no upstream call, got %d", calls)
		}
	})
}

type slowTransport struct {
	delay time.Duration
	mu    sync.Mutex
	err   error
}

func (s *slowTransport) Do(ctx context.Context, _ string) (*ports.Response, error) {
	select {
	case <-time.After(s.delay):
		return &ports.Response{StatusCode: http.StatusOK, Body: []byte(`{}`)}, nil
	case <-ctx.Done():
		s.mu.Lock()
		s.err = ctx.Err()
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (s *slowTransport) lastErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func TestManagerCacheHit(t *testing.T) {
	t.Run("cached key resolves synchronously without a request", func(t *testing.T) {
		cache := memory.NewCache[item](0)
		transport := newFakeTransport()
		transport.respond("/api/items/1", http.StatusOK, `{"id":1}`)

		first := newManager(cache, transport)
		defer first.Close()
		first.Observe(context.Background(), "/api/items/1")
		waitForTerminal(t, first)

		second := newManager(cache, transport)
		defer second.Close()

		rec := &recorder[item]{}
		second.Subscribe(rec.record)

		state := second.Observe(context.Background(), "/api/items/1")
		if state.Phase() != domain.PhaseSuccess {
			t.Fatalf("expected immediate success, got %s", state.Phase())
		}
		if state.Data.ID != 1 {
			t.Errorf("expected cached id 1, got %d", state.Data.ID)
		}
		if calls := transport.callCount("/api/items/1"); calls != 1 {
			t.Errorf("expected a single upstream call, got %d", calls)
		}

		states := rec.snapshot()
		if len(states) != 1 || states[0].Phase() != domain.PhaseSuccess {
			t.Errorf("expected exactly one success notification and no loading flash, got %+v", states)
		}
	})

	t.Run("switching back to a resolved key serves it from cache", func(t *testing.T) {
		cache := memory.NewCache[item](0)
		transport := newFakeTransport()
		transport.respond("/api/items/1", http.StatusOK, `{"id":1}`)
		transport.respond("/api/items/8", http.StatusOK, `{"id":8}`)

		manager := newManager(cache, transport)
		defer manager.Close()

		manager.Observe(context.Background(), "/api/items/1")
		waitForTerminal(t, manager)
		manager.Observe(context.Background(), "/api/items/8")
		waitForTerminal(t, manager)

		state := manager.Observe(context.Background(), "/api/items/1")
		if state.Phase() != domain.PhaseSuccess || state.Data.ID != 1 {
			t.Errorf("expected cached success for id 1, got %+v", state)
		}
		if calls := transport.callCount("/api/items/1"); calls != 1 {
			t.Errorf("expected a single upstream call, got %d", calls)
		}
	})

	t.Run("re-observing the current key does not issue a request", func(t *testing.T) {
		transport := newFakeTransport()
		block := make(chan struct{})
		transport.set("/api/items/9", fakeResult{
			resp:  &ports.Response{StatusCode: http.StatusOK, Body: []byte(`{"id":9}`)},
			block: block,
		})

		manager := newManager(memory.NewCache[item](0), transport)
		defer manager.Close()

		manager.Observe(context.Background(), "/api/items/9")
		state := manager.Observe(context.Background(), "/api/items/9")
		if state.Phase() != domain.PhaseLoading {
			t.Errorf("expected loading phase, got %s", state.Phase())
		}

		close(block)
		waitForTerminal(t, manager)

		if calls := transport.callCount("/api/items/9"); calls != 1 {
			t.Errorf("expected a single upstream call, got %d", calls)
		}
	})
}

func TestManagerStaleResults(t *testing.T) {
	t.Run("late result for a superseded key does not overwrite the new key", func(t *testing.T) {
		cache := memory.NewCache[item](0)
		transport := newFakeTransport()
		slow := make(chan struct{})
		transport.set("/api/items/3", fakeResult{
			resp:  &ports.Response{StatusCode: http.StatusOK, Body: []byte(`{"id":3}`)},
			block: slow,
		})
		transport.respond("/api/items/4", http.StatusOK, `{"id":4}`)

		manager := newManager(cache, transport)

		rec := &recorder[item]{}
		manager.Subscribe(rec.record)

		manager.Observe(context.Background(), "/api/items/3")
		manager.Observe(context.Background(), "/api/items/4")

		state := waitForTerminal(t, manager)
		if state.Key != "/api/items/4" || state.Data.ID != 4 {
			t.Fatalf("expected success for /api/items/4, got %+v", state)
		}

		close(slow)
		manager.Close()

		final := manager.State()
		if final.Key != "/api/items/4" || final.Data.ID != 4 {
			t.Errorf("expected state to stay on /api/items/4, got %+v", final)
		}

		for _, s := range rec.snapshot() {
			if s.Key == "/api/items/3" && s.IsTerminal() {
				t.Errorf("subscriber received stale terminal state %+v", s)
			}
		}

		// the payload itself is valid for its key
		if cached, ok := cache.Get("/api/items/3"); !ok || cached.ID != 3 {
			t.Errorf("expected decoded stale payload to be cached, got %+v (ok=%v)", cached, ok)
		}
	})
}

func TestManagerSubscribe(t *testing.T) {
	t.Run("delivers loading then success in order", func(t *testing.T) {
		transport := newFakeTransport()
		transport.respond("/api/items/1", http.StatusOK, `{"id":1}`)

		manager := newManager(memory.NewCache[item](0), transport)
		defer manager.Close()

		rec := &recorder[item]{}
		manager.Subscribe(rec.record)

		manager.Observe(context.Background(), "/api/items/1")
		waitForTerminal(t, manager)

		states := rec.snapshot()
		if len(states) != 2 {
			t.Fatalf("expected 2 notifications, got %d: %+v", len(states), states)
		}
		if states[0].Phase() != domain.PhaseLoading || states[1].Phase() != domain.PhaseSuccess {
			t.Errorf("expected loading then success, got %s then %s", states[0].Phase(), states[1].Phase())
		}
	})

	t.Run("unsubscribe stops notifications", func(t *testing.T) {
		transport := newFakeTransport()
		transport.respond("/api/items/1", http.StatusOK, `{"id":1}`)

		manager := newManager(memory.NewCache[item](0), transport)
		defer manager.Close()

		rec := &recorder[item]{}
		unsubscribe := manager.Subscribe(rec.record)
		unsubscribe()
		unsubscribe()

		manager.Observe(context.Background(), "/api/items/1")
		waitForTerminal(t, manager)

		if n := len(rec.snapshot()); n != 0 {
			t.Errorf("expected no notifications, got %d", n)
		}
	})
}

func TestManagerWatch(t *testing.T) {
	t.Run("never replays states older than the returned one", func(t *testing.T) {
		cache := memory.NewCache[item](0)
		cache.Set("/api/items/2", item{ID: 2})
		transport := newFakeTransport()
		transport.respond("/api/items/1", http.StatusOK, `{"id":1}`)

		manager := newManager(cache, transport, app.WithMinLatency(0))
		defer manager.Close()

		// a slow subscriber holds up delivery of the first success while a
		// cache hit for another key is applied behind it
		entered := make(chan struct{})
		release := make(chan struct{})
		slow := &recorder[item]{}
		var once sync.Once
		manager.Subscribe(func(s domain.RequestState[item]) {
			if s.IsTerminal() {
				once.Do(func() {
					close(entered)
					<-release
				})
			}
			slow.record(s)
		})

		manager.Observe(context.Background(), "/api/items/1")
		<-entered

		go manager.Observe(context.Background(), "/api/items/2")
		deadline := time.Now().Add(3 * time.Second)
		for manager.State().Key != "/api/items/2" && time.Now().Before(deadline) {
			time.Sleep(2 * time.Millisecond)
		}

		type watched struct {
			current domain.RequestState[item]
			cancel  func()
		}
		watchedCh := make(chan watched, 1)
		late := &recorder[item]{}
		go func() {
			current, cancel := manager.Watch(late.record)
			watchedCh <- watched{current, cancel}
		}()

		close(release)
		w := <-watchedCh
		defer w.cancel()

		for len(slow.snapshot()) < 3 && time.Now().Before(deadline) {
			time.Sleep(2 * time.Millisecond)
		}

		if w.current.Key != "/api/items/2" || w.current.Data.ID != 2 {
			t.Fatalf("expected current state for /api/items/2, got %+v", w.current)
		}
		if got := late.snapshot(); len(got) != 0 {
			t.Errorf("expected no replayed states after Watch, got %+v", got)
		}
		if got := slow.snapshot(); len(got) != 3 || got[2].Key != "/api/items/2" {
			t.Errorf("expected existing subscriber to see all three states, got %+v", got)
		}
	})

	t.Run("receives states applied afterwards", func(t *testing.T) {
		transport := newFakeTransport()
		transport.respond("/api/items/2", http.StatusOK, `{"id":2}`)

		manager := newManager(memory.NewCache[item](0), transport)
		defer manager.Close()

		rec := &recorder[item]{}
		current, cancel := manager.Watch(rec.record)
		defer cancel()
		if current.Key != "" || !current.IsLoading {
			t.Errorf("expected initial loading state, got %+v", current)
		}

		manager.Observe(context.Background(), "/api/items/2")
		waitForTerminal(t, manager)

		if states := rec.snapshot(); len(states) != 2 || states[1].Data.ID != 2 {
			t.Errorf("expected loading then success for /api/items/2, got %+v", states)
		}
	})
}

func TestManagerDone(t *testing.T) {
	manager := newManager(memory.NewCache[item](0), newFakeTransport())

	select {
	case <-manager.Done():
		t.Fatal("Done closed before Close")
	default:
	}

	manager.Close()
	manager.Close()

	select {
	case <-manager.Done():
	default:
		t.Error("expected Done to be closed after Close")
	}
}

func TestManagerClose(t *testing.T) {
	t.Run("cancels in-flight request and ignores later observations", func(t *testing.T) {
		transport := &slowTransport{delay: 5 * time.Second}

		manager := newManager(memory.NewCache[item](0), transport)
		manager.Observe(context.Background(), "/api/items/1")

		done := make(chan struct{})
		go func() {
			manager.Close()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Close did not return after cancelling the in-flight request")
		}

		if !errors.Is(transport.lastErr(), context.Canceled) {
			t.Errorf("expected in-flight request to be cancelled, got %v", transport.lastErr())
		}

		state := manager.Observe(context.Background(), "/api/items/2")
		if state.Key != "/api/items/1" {
			t.Errorf("expected closed manager to ignore new keys, got %+v", state)
		}
	})
}

func TestManagerInitialState(t *testing.T) {
	manager := newManager(memory.NewCache[item](0), newFakeTransport())
	defer manager.Close()

	state := manager.State()
	if !state.IsLoading || state.HasError {
		t.Errorf("expected initial loading state, got %+v", state)
	}
}
