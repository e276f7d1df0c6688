package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-isatty"

	"github.com/dejobratic/fetchstate/internal/config"
	"github.com/dejobratic/fetchstate/internal/counter"
	"github.com/dejobratic/fetchstate/internal/events"
	"github.com/dejobratic/fetchstate/internal/resources/adapters/httpclient"
	resourcesmemory "github.com/dejobratic/fetchstate/internal/resources/adapters/memory"
	resourcesapp "github.com/dejobratic/fetchstate/internal/resources/app"
	"github.com/dejobratic/fetchstate/internal/resources/domain"
	"github.com/dejobratic/fetchstate/internal/telemetry"
	"github.com/dejobratic/fetchstate/internal/todos/adapters/file"
	todosapp "github.com/dejobratic/fetchstate/internal/todos/app"
	tododomain "github.com/dejobratic/fetchstate/internal/todos/domain"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// CLI is the top-level command structure for fetchctl.
type CLI struct {
	Version  kong.VersionFlag `help:"Show version." short:"V"`
	Config   string           `help:"YAML configuration file." type:"path" env:"CONFIG_FILE"`
	LogLevel string           `help:"Log level for diagnostics on stderr." default:"warn"`
	JSON     bool             `help:"Force JSON lines output even if stdout is a TTY."`

	Get     GetCmd     `cmd:"" help:"Fetch resource keys and print every lifecycle phase."`
	Todos   TodosCmd   `cmd:"" help:"Manage the persisted todo list."`
	Counter CounterCmd `cmd:"" help:"Apply counter operations and print the value after each."`
}

// runEnv is bound into every command's Run method.
type runEnv struct {
	out    io.Writer
	json   bool
	cfg    *config.Config
	logger *slog.Logger
}

var (
	errRequestFailed = errors.New("one or more requests failed")
	errUnknownOp     = errors.New("unknown counter operation")
)

func (e *runEnv) emit(v any, text string) error {
	if e.json {
		return json.NewEncoder(e.out).Encode(v)
	}
	_, err := fmt.Fprintln(e.out, text)
	return err
}

// GetCmd observes each key in turn through a single request manager, so a
// repeated key is served from the cache.
type GetCmd struct {
	Keys       []string      `arg:"" help:"Resource keys, absolute URLs or paths relative to --base-url."`
	BaseURL    string        `help:"Base URL for relative keys."`
	MinLatency time.Duration `help:"Minimum time a cache miss stays in the loading phase." default:"${min_latency}"`
	Timeout    time.Duration `help:"Upstream request timeout." default:"${timeout}"`
}

func (c *GetCmd) Run(env *runEnv) error {
	fetch := env.cfg.Fetch
	if c.BaseURL != "" {
		fetch.BaseURL = c.BaseURL
	}
	fetch.MinLatency = c.MinLatency
	if c.Timeout > 0 {
		fetch.Timeout = c.Timeout
	}

	transport, err := httpclient.New(fetch.BaseURL, httpclient.WithMaxBodyBytes(fetch.MaxBodyBytes))
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}

	manager := resourcesapp.NewManager(
		resourcesmemory.NewCache[resourcesapp.Payload](fetch.CacheCapacity),
		transport,
		resourcesapp.WithMinLatency(fetch.MinLatency),
		resourcesapp.WithTimeout(fetch.Timeout),
		resourcesapp.WithLogger(env.logger),
	)
	defer manager.Close()

	states := make(chan domain.RequestState[resourcesapp.Payload], 8)
	unsubscribe := manager.Subscribe(func(s domain.RequestState[resourcesapp.Payload]) {
		states <- s
	})
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var (
		failed   bool
		prevKey  string
		prevFail bool
	)
	for i, key := range c.Keys {
		// Re-observing a key that last succeeded applies no new state.
		if i > 0 && key == prevKey && !prevFail {
			s := manager.State()
			if err := env.emit(s, formatState(s)); err != nil {
				return err
			}
			continue
		}
		prevKey = key

		manager.Observe(ctx, key)

		for done := false; !done; {
			select {
			case s := <-states:
				if err := env.emit(s, formatState(s)); err != nil {
					return err
				}
				if s.IsTerminal() {
					done = true
					prevFail = s.HasError
					failed = failed || s.HasError
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if failed {
		return errRequestFailed
	}
	return nil
}

func formatState(s domain.RequestState[resourcesapp.Payload]) string {
	switch s.Phase() {
	case domain.PhaseLoading:
		return fmt.Sprintf("%-8s %s", s.Phase(), s.Key)
	case domain.PhaseError:
		if s.Error.Code != 0 {
			return fmt.Sprintf("%-8s %s %d %s", s.Phase(), s.Key, s.Error.Code, s.Error.Message)
		}
		return fmt.Sprintf("%-8s %s %s", s.Phase(), s.Key, s.Error.Message)
	default:
		return fmt.Sprintf("%-8s %s %s", s.Phase(), s.Key, s.Data)
	}
}

// TodosCmd groups the todo subcommands. They share the file slot configured
// under todos.dir.
type TodosCmd struct {
	Dir string `help:"Directory holding the todo slot file."`

	List   TodosListCmd   `cmd:"" default:"1" help:"List todos."`
	Add    TodosAddCmd    `cmd:"" help:"Add a todo."`
	Toggle TodosToggleCmd `cmd:"" help:"Toggle a todo's done flag."`
	Remove TodosRemoveCmd `cmd:"" help:"Remove a todo."`
}

type TodosListCmd struct{}

type TodosAddCmd struct {
	Description string `arg:"" help:"What needs doing."`
}

type TodosToggleCmd struct {
	ID string `arg:"" help:"Todo ID."`
}

type TodosRemoveCmd struct {
	ID string `arg:"" help:"Todo ID."`
}

func todoService(ctx context.Context, env *runEnv) (*todosapp.Service, error) {
	slot, err := file.NewSlot(env.cfg.Todos.Dir)
	if err != nil {
		return nil, fmt.Errorf("todos: %w", err)
	}
	return todosapp.NewService(ctx, slot, env.cfg.Todos.SlotKey, events.NewLogEventBus(env.logger), nil, env.logger, nil)
}

func (c *TodosListCmd) Run(env *runEnv) error {
	ctx := context.Background()
	svc, err := todoService(ctx, env)
	if err != nil {
		return err
	}
	for _, todo := range svc.List(ctx) {
		if err := env.emit(todo, formatTodo(todo)); err != nil {
			return err
		}
	}
	if !env.json {
		_, err = fmt.Fprintf(env.out, "%d todos, %d pending\n", svc.Count(), svc.PendingCount())
	}
	return err
}

func (c *TodosAddCmd) Run(env *runEnv) error {
	ctx := context.Background()
	svc, err := todoService(ctx, env)
	if err != nil {
		return err
	}
	todo, err := svc.Add(ctx, c.Description)
	if err != nil {
		return fmt.Errorf("todos add: %w", err)
	}
	return env.emit(todo, formatTodo(todo))
}

func (c *TodosToggleCmd) Run(env *runEnv) error {
	ctx := context.Background()
	svc, err := todoService(ctx, env)
	if err != nil {
		return err
	}
	todo, err := svc.Toggle(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("todos toggle: %w", err)
	}
	return env.emit(todo, formatTodo(todo))
}

func (c *TodosRemoveCmd) Run(env *runEnv) error {
	ctx := context.Background()
	svc, err := todoService(ctx, env)
	if err != nil {
		return err
	}
	if err := svc.Remove(ctx, c.ID); err != nil {
		return fmt.Errorf("todos remove: %w", err)
	}
	return env.emit(map[string]string{"removed": c.ID}, "removed "+c.ID)
}

func formatTodo(todo tododomain.Todo) string {
	mark := " "
	if todo.Done {
		mark = "x"
	}
	return fmt.Sprintf("[%s] %s  %s", mark, todo.ID, todo.Description)
}

// CounterCmd replays operations against a fresh counter. The value is not
// persisted between invocations.
type CounterCmd struct {
	Ops     []string `arg:"" optional:"" help:"Operations to apply in order (increment, decrement, reset)."`
	By      int      `help:"Step for increment and decrement." default:"1"`
	Initial int      `help:"Starting and reset value." default:"${counter_initial}"`
}

type counterValue struct {
	Op    string `json:"op"`
	Value int    `json:"value"`
	Error string `json:"error,omitempty"`
}

func (c *CounterCmd) Run(env *runEnv) error {
	ctr := counter.New(c.Initial)

	if err := env.emit(counterValue{Op: "initial", Value: ctr.Value()}, fmt.Sprintf("initial    %d", ctr.Value())); err != nil {
		return err
	}

	for _, op := range c.Ops {
		result := counterValue{Op: op}
		switch op {
		case "increment":
			result.Value = ctr.Increment(c.By)
		case "decrement":
			value, err := ctr.Decrement(c.By)
			result.Value = value
			if errors.Is(err, counter.ErrAtZero) {
				result.Error = err.Error()
			}
		case "reset":
			result.Value = ctr.Reset()
		default:
			return fmt.Errorf("%w: %q", errUnknownOp, op)
		}

		text := fmt.Sprintf("%-10s %d", op, result.Value)
		if result.Error != "" {
			text += " (" + result.Error + ")"
		}
		if err := env.emit(result, text); err != nil {
			return err
		}
	}
	return nil
}

func (cli *CLI) env(out io.Writer, tty bool) (*runEnv, error) {
	cfg, err := config.LoadFile(cli.Config)
	if err != nil {
		return nil, err
	}
	if cli.Todos.Dir != "" {
		cfg.Todos.Dir = cli.Todos.Dir
	}

	level, err := telemetry.ParseLevel(cli.LogLevel)
	if err != nil {
		return nil, err
	}

	return &runEnv{
		out:    out,
		json:   cli.JSON || !tty,
		cfg:    cfg,
		logger: telemetry.NewLogger(os.Stderr, level, "text"),
	}, nil
}

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func vars() kong.Vars {
	return kong.Vars{
		"version":         version + " " + commit + " " + date,
		"min_latency":     resourcesapp.DefaultMinLatency.String(),
		"timeout":         resourcesapp.DefaultTimeout.String(),
		"counter_initial": strconv.Itoa(counter.DefaultInitial),
	}
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Description("Inspect the fetch cache lifecycle and the local todo list."),
		vars(),
	)

	env, err := cli.env(os.Stdout, stdoutIsTerminal())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}

	if err := ctx.Run(env); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
