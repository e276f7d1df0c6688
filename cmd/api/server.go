package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/dejobratic/fetchstate/internal/config"
	"github.com/dejobratic/fetchstate/internal/counter"
	"github.com/dejobratic/fetchstate/internal/database"
	"github.com/dejobratic/fetchstate/internal/events"
	"github.com/dejobratic/fetchstate/internal/httpapi"
	idemmemory "github.com/dejobratic/fetchstate/internal/idempotency/memory"
	idempostgres "github.com/dejobratic/fetchstate/internal/idempotency/postgres"
	resourceadapters "github.com/dejobratic/fetchstate/internal/resources/adapters"
	resourcehttp "github.com/dejobratic/fetchstate/internal/resources/adapters/http"
	"github.com/dejobratic/fetchstate/internal/resources/adapters/httpclient"
	resourcememory "github.com/dejobratic/fetchstate/internal/resources/adapters/memory"
	resourcesapp "github.com/dejobratic/fetchstate/internal/resources/app"
	resourcemetrics "github.com/dejobratic/fetchstate/internal/resources/metrics"
	resourceports "github.com/dejobratic/fetchstate/internal/resources/ports"
	todoadapters "github.com/dejobratic/fetchstate/internal/todos/adapters"
	todofile "github.com/dejobratic/fetchstate/internal/todos/adapters/file"
	todohttp "github.com/dejobratic/fetchstate/internal/todos/adapters/http"
	todomemory "github.com/dejobratic/fetchstate/internal/todos/adapters/memory"
	todopostgres "github.com/dejobratic/fetchstate/internal/todos/adapters/postgres"
	todosapp "github.com/dejobratic/fetchstate/internal/todos/app"
	todometrics "github.com/dejobratic/fetchstate/internal/todos/metrics"
	todoports "github.com/dejobratic/fetchstate/internal/todos/ports"
)

// healthServices are reported by the gRPC health endpoint.
var healthServices = []string{
	"fetchstate.v1.Sessions",
	"fetchstate.v1.Todos",
	"fetchstate.v1.Counter",
}

// application holds everything main needs to serve and shut down.
type application struct {
	handler   http.Handler
	sessions  *resourcesapp.Service
	streams   *resourcehttp.Handler
	checker   *grpchealth.StaticChecker
	pool      *pgxpool.Pool
	dedup     *resourceadapters.DedupTransport
	closeFunc []func()
}

func (a *application) Close() {
	a.checker.SetStatus("", grpchealth.StatusNotServing)
	a.streams.Close()
	a.sessions.Close()
	for i := len(a.closeFunc) - 1; i >= 0; i-- {
		a.closeFunc[i]()
	}
}

// newApplication wires every component from cfg. Postgres is only dialed
// when a postgres store is configured.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, meter metric.Meter) (*application, error) {
	app := &application{}
	ok := false
	defer func() {
		if !ok {
			for _, fn := range app.closeFunc {
				fn()
			}
		}
	}()

	httpMetrics, err := httpapi.NewMetrics(meter)
	if err != nil {
		return nil, err
	}
	dbMetrics, err := database.NewMetrics(meter)
	if err != nil {
		return nil, err
	}

	if cfg.UsesPostgres() {
		if cfg.Database.AutoMigrate {
			version, err := database.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath)
			if err != nil {
				return nil, fmt.Errorf("run migrations: %w", err)
			}
			logger.InfoContext(ctx, "database schema ready", "version", version, "source", migrationSource(cfg.Database.MigrationsPath))
		}

		app.pool, err = database.NewPool(ctx, cfg.Database.URL, dbMetrics)
		if err != nil {
			return nil, fmt.Errorf("create database pool: %w", err)
		}
		app.closeFunc = append(app.closeFunc, app.pool.Close)
	}

	cache, err := app.buildSessions(cfg, logger, meter)
	if err != nil {
		return nil, err
	}

	todosHandler, err := app.buildTodos(ctx, cfg, logger, meter, dbMetrics)
	if err != nil {
		return nil, err
	}

	app.checker = grpchealth.NewStaticChecker(healthServices...)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/readyz", app.handleReady)
	mux.Handle(grpchealth.NewHandler(app.checker, connect.WithReadMaxBytes(1<<20)))

	app.streams = resourcehttp.NewHandler(app.sessions, cache, httpMetrics)
	app.streams.Register(mux)
	todosHandler.Register(mux)
	counter.NewHandler(counter.New(cfg.Counter.Initial), logger).Register(mux)

	var handler http.Handler = mux
	handler = httpapi.WithMetrics(handler, httpMetrics)
	handler = httpapi.WithLogging(handler, logger)
	handler = httpapi.WithRecovery(handler, logger)
	handler = otelhttp.NewHandler(handler, cfg.Service.Name,
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !strings.HasSuffix(r.URL.Path, "/events")
		}),
	)

	app.handler = h2c.NewHandler(handler, &http2.Server{})

	ok = true
	return app, nil
}

func (a *application) buildSessions(cfg *config.Config, logger *slog.Logger, meter metric.Meter) (*resourcememory.Cache[resourcesapp.Payload], error) {
	resMetrics, err := resourcemetrics.NewMetrics(meter)
	if err != nil {
		return nil, err
	}

	client, err := httpclient.New(cfg.Fetch.BaseURL, httpclient.WithMaxBodyBytes(cfg.Fetch.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create fetch transport: %w", err)
	}

	var transport resourceports.Transport = resourceadapters.NewObservableTransport(client, resMetrics)
	if cfg.Fetch.Dedup {
		a.dedup = resourceadapters.NewDedupTransport(transport, cfg.Fetch.Timeout, logger)
		transport = a.dedup
	}

	cache := resourcememory.NewCache[resourcesapp.Payload](cfg.Fetch.CacheCapacity)
	a.sessions = resourcesapp.NewService(cache, transport, logger,
		resourcesapp.WithMinLatency(cfg.Fetch.MinLatency),
		resourcesapp.WithTimeout(cfg.Fetch.Timeout),
		resourcesapp.WithMetrics(resMetrics),
	)

	return cache, nil
}

func (a *application) buildTodos(ctx context.Context, cfg *config.Config, logger *slog.Logger, meter metric.Meter, dbMetrics *database.Metrics) (*todohttp.Handler, error) {
	var slot todoports.Slot
	switch cfg.Todos.Store {
	case config.StorePostgres:
		slot = todopostgres.NewSlot(a.pool)
	case config.StoreFile:
		fileSlot, err := todofile.NewSlot(cfg.Todos.Dir)
		if err != nil {
			return nil, err
		}
		slot = fileSlot
	default:
		slot = todomemory.NewSlot()
	}
	slot = todoadapters.NewObservableSlot(slot, cfg.Todos.Store, dbMetrics)

	var idem todoports.IdempotencyStore = idemmemory.NewStore()
	if cfg.Todos.IdempotencyStore == config.StorePostgres {
		idem = idempostgres.NewStore(a.pool)
	}

	eventMetrics, err := events.NewMetrics(meter)
	if err != nil {
		return nil, err
	}
	bus := todoadapters.NewObservableEventBus(events.NewLogEventBus(logger), eventMetrics)

	tMetrics, err := todometrics.NewMetrics(meter)
	if err != nil {
		return nil, err
	}

	service, err := todosapp.NewService(ctx, slot, cfg.Todos.SlotKey, bus, idem, logger, tMetrics)
	if err != nil {
		return nil, err
	}

	return todohttp.NewHandler(service), nil
}

func (a *application) handleReady(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":   "ready",
		"sessions": a.sessions.SessionCount(),
		"cached":   a.sessions.CacheSize(),
	}

	if a.pool != nil {
		health, err := database.CheckHealth(r.Context(), a.pool)
		if err != nil {
			httpapi.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
		body["database"] = health
	}
	if a.dedup != nil {
		body["sharedFetches"] = a.dedup.Shared()
	}
	httpapi.WriteJSON(w, http.StatusOK, body)
}

func newServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func migrationSource(dir string) string {
	if dir == "" {
		return "embedded"
	}
	return dir
}
