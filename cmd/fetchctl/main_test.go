package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alecthomas/kong"

	"github.com/dejobratic/fetchstate/internal/config"
	"github.com/dejobratic/fetchstate/internal/todos/ports"
)

// errExitCalled is a sentinel used to catch kong's os.Exit calls in tests.
var errExitCalled = errors.New("exit called")

func newTestEnv(t *testing.T) (*runEnv, *bytes.Buffer) {
	t.Helper()

	cfg := config.Default()
	cfg.Todos.Dir = t.TempDir()

	var out bytes.Buffer
	return &runEnv{
		out:    &out,
		json:   true,
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, &out
}

func run(t *testing.T, env *runEnv, args ...string) error {
	t.Helper()

	var cli CLI
	k, err := kong.New(&cli, vars())
	if err != nil {
		t.Fatal(err)
	}
	kctx, err := k.Parse(args)
	if err != nil {
		t.Fatalf("Parse(%v) failed: %v", args, err)
	}
	return kctx.Run(env)
}

func decodeLines[T any](t *testing.T, out *bytes.Buffer) []T {
	t.Helper()

	var values []T
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		var v T
		if err := json.Unmarshal(scanner.Bytes(), &v); err != nil {
			t.Fatalf("invalid JSON line %q: %v", scanner.Text(), err)
		}
		values = append(values, v)
	}
	out.Reset()
	return values
}

func TestCLIParsing(t *testing.T) {
	t.Run("version flag prints version", func(t *testing.T) {
		var cli CLI
		var buf bytes.Buffer
		k, err := kong.New(&cli,
			kong.Vars{"version": "v1.0.0 abc1234 2026-01-01", "min_latency": "1s", "timeout": "30s", "counter_initial": "10"},
			kong.Writers(&buf, &buf),
			kong.Exit(func(int) { panic(errExitCalled) }),
		)
		if err != nil {
			t.Fatal(err)
		}

		defer func() {
			r := recover()
			if r == nil {
				t.Fatal("expected panic from --version flag")
			}
			err, ok := r.(error)
			if !ok || !errors.Is(err, errExitCalled) {
				panic(r)
			}
			if !strings.Contains(buf.String(), "v1.0.0 abc1234") {
				t.Errorf("version output = %q, want to contain version and commit", buf.String())
			}
		}()

		k.Parse([]string{"--version"}) //nolint:errcheck // --version triggers panic via Exit hook
	})

	t.Run("no args errors", func(t *testing.T) {
		var cli CLI
		k, err := kong.New(&cli, vars())
		if err != nil {
			t.Fatal(err)
		}
		if _, err := k.Parse([]string{}); err == nil {
			t.Fatal("expected error when no command provided")
		}
	})

	t.Run("get applies flag defaults", func(t *testing.T) {
		var cli CLI
		k, err := kong.New(&cli, vars())
		if err != nil {
			t.Fatal(err)
		}

		kctx, err := k.Parse([]string{"get", "/a", "/b"})
		if err != nil {
			t.Fatal(err)
		}
		if kctx.Command() != "get <keys>" {
			t.Errorf("got command %q, want %q", kctx.Command(), "get <keys>")
		}
		if len(cli.Get.Keys) != 2 {
			t.Errorf("expected 2 keys, got %v", cli.Get.Keys)
		}
		if cli.Get.MinLatency.String() != "1s" {
			t.Errorf("expected default min latency 1s, got %s", cli.Get.MinLatency)
		}
	})
}

func TestGetCommand(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/items/1" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer upstream.Close()

	type state struct {
		Key       string          `json:"key"`
		Data      json.RawMessage `json:"data"`
		IsLoading bool            `json:"isLoading"`
		HasError  bool            `json:"hasError"`
		Error     *struct {
			Code int `json:"code"`
		} `json:"error"`
	}

	t.Run("prints loading then success and reuses the cache", func(t *testing.T) {
		env, out := newTestEnv(t)

		err := run(t, env, "get", "--base-url", upstream.URL, "--min-latency", "0s",
			"/api/items/1", "/api/items/1", "/api/items/missing", "/api/items/1")
		if !errors.Is(err, errRequestFailed) {
			t.Fatalf("expected errRequestFailed, got %v", err)
		}

		states := decodeLines[state](t, out)
		var phases []string
		for _, s := range states {
			switch {
			case s.IsLoading:
				phases = append(phases, "loading")
			case s.HasError:
				phases = append(phases, "error")
			default:
				phases = append(phases, "success")
			}
		}

		want := []string{"loading", "success", "success", "loading", "error", "success"}
		if strings.Join(phases, ",") != strings.Join(want, ",") {
			t.Fatalf("phases = %v, want %v", phases, want)
		}
		if states[4].Error == nil || states[4].Error.Code != http.StatusNotFound {
			t.Errorf("expected 404 error detail, got %+v", states[4].Error)
		}
		if string(states[5].Data) != `{"id":1}` {
			t.Errorf("expected cached payload, got %s", states[5].Data)
		}
		if n := calls.Load(); n != 1 {
			t.Errorf("expected one upstream call, got %d", n)
		}
	})

	t.Run("text output names phase and key", func(t *testing.T) {
		env, out := newTestEnv(t)
		env.json = false

		if err := run(t, env, "get", "--base-url", upstream.URL, "--min-latency", "0s", "/api/items/1"); err != nil {
			t.Fatalf("get failed: %v", err)
		}

		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		if len(lines) != 2 {
			t.Fatalf("expected 2 lines, got %q", out.String())
		}
		if !strings.HasPrefix(lines[0], "loading") || !strings.Contains(lines[1], `{"id":1}`) {
			t.Errorf("unexpected output %q", out.String())
		}
	})
}

func TestTodosCommand(t *testing.T) {
	type todo struct {
		ID          string `json:"id"`
		Description string `json:"description"`
		Done        bool   `json:"done"`
	}

	env, out := newTestEnv(t)

	if err := run(t, env, "todos", "add", "buy milk"); err != nil {
		t.Fatalf("todos add failed: %v", err)
	}
	added := decodeLines[todo](t, out)
	if len(added) != 1 || added[0].Description != "buy milk" || added[0].Done {
		t.Fatalf("unexpected added todo %+v", added)
	}
	id := added[0].ID

	if err := run(t, env, "todos", "toggle", id); err != nil {
		t.Fatalf("todos toggle failed: %v", err)
	}
	if toggled := decodeLines[todo](t, out); len(toggled) != 1 || !toggled[0].Done {
		t.Fatalf("expected toggled todo to be done, got %+v", toggled)
	}

	// each invocation reloads the list from disk; list is the default subcommand
	if err := run(t, env, "todos"); err != nil {
		t.Fatalf("todos list failed: %v", err)
	}
	listed := decodeLines[todo](t, out)
	if len(listed) != 1 || listed[0].ID != id || !listed[0].Done {
		t.Fatalf("unexpected list %+v", listed)
	}

	if err := run(t, env, "todos", "remove", id); err != nil {
		t.Fatalf("todos remove failed: %v", err)
	}
	out.Reset()

	if err := run(t, env, "todos", "toggle", id); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("expected ErrNotFound for removed todo, got %v", err)
	}
	if err := run(t, env, "todos", "add", "   "); err == nil {
		t.Error("expected error for blank description")
	}
}

func TestCounterCommand(t *testing.T) {
	t.Run("applies operations in order", func(t *testing.T) {
		env, out := newTestEnv(t)

		if err := run(t, env, "counter", "--initial", "1", "increment", "decrement", "decrement", "decrement", "reset"); err != nil {
			t.Fatalf("counter failed: %v", err)
		}

		values := decodeLines[counterValue](t, out)
		want := []int{1, 2, 1, 0, 0, 1}
		if len(values) != len(want) {
			t.Fatalf("expected %d values, got %+v", len(want), values)
		}
		for i, v := range values {
			if v.Value != want[i] {
				t.Errorf("step %d (%s): value = %d, want %d", i, v.Op, v.Value, want[i])
			}
		}
		if values[4].Error == "" {
			t.Error("expected decrement at zero to report an error")
		}
	})

	t.Run("starts at the default initial value", func(t *testing.T) {
		env, out := newTestEnv(t)

		if err := run(t, env, "counter"); err != nil {
			t.Fatalf("counter failed: %v", err)
		}
		values := decodeLines[counterValue](t, out)
		if len(values) != 1 || values[0].Value != 10 {
			t.Errorf("expected initial value 10, got %+v", values)
		}
	})

	t.Run("rejects unknown operations", func(t *testing.T) {
		env, _ := newTestEnv(t)

		if err := run(t, env, "counter", "double"); !errors.Is(err, errUnknownOp) {
			t.Errorf("expected errUnknownOp, got %v", err)
		}
	})
}
