package httpclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dejobratic/fetchstate/internal/resources/adapters/httpclient"
)

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/items/1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":1}`))
	})
	mux.HandleFunc("/api/items/big", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	})
	mux.HandleFunc("/api/items/teapot", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestTransportDo(t *testing.T) {
	srv := newUpstream(t)

	t.Run("reads body of successful response", func(t *testing.T) {
		transport, err := httpclient.New("", httpclient.WithHTTPClient(srv.Client()))
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}

		resp, err := transport.Do(context.Background(), srv.URL+"/api/items/1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected status 200, got %d", resp.StatusCode)
		}
		if string(resp.Body) != `{"id":1}` {
			t.Errorf("expected body {\"id\":1}, got %s", resp.Body)
		}
	})

	t.Run("resolves relative keys against base URL", func(t *testing.T) {
		transport, err := httpclient.New(srv.URL, httpclient.WithHTTPClient(srv.Client()))
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}

		resp, err := transport.Do(context.Background(), "/api/items/1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !resp.OK() {
			t.Errorf("expected OK response, got %d", resp.StatusCode)
		}
	})

	t.Run("returns status and reason phrase for non-2xx", func(t *testing.T) {
		transport, err := httpclient.New(srv.URL)
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}

		resp, err := transport.Do(context.Background(), "/api/items/missing")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", resp.StatusCode)
		}
		if resp.Status != "Not Found" {
			t.Errorf("expected reason Not Found, got %q", resp.Status)
		}
		if resp.Body != nil {
			t.Errorf("expected no body for failed response, got %s", resp.Body)
		}

		resp, err = transport.Do(context.Background(), "/api/items/teapot")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if resp.Status != "I'm a teapot" {
			t.Errorf("expected reason I'm a teapot, got %q", resp.Status)
		}
	})

	t.Run("rejects relative key without base URL", func(t *testing.T) {
		transport, err := httpclient.New("")
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}

		_, err = transport.Do(context.Background(), "/api/items/1")
		if !errors.Is(err, httpclient.ErrRelativeKey) {
			t.Errorf("expected ErrRelativeKey, got %v", err)
		}
	})

	t.Run("enforces body size cap", func(t *testing.T) {
		transport, err := httpclient.New(srv.URL, httpclient.WithMaxBodyBytes(16))
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}

		_, err = transport.Do(context.Background(), "/api/items/big")
		if !errors.Is(err, httpclient.ErrBodyTooLarge) {
			t.Errorf("expected ErrBodyTooLarge, got %v", err)
		}
	})

	t.Run("reports connection failures as errors", func(t *testing.T) {
		closed := httptest.NewServer(http.NotFoundHandler())
		closed.Close()

		transport, err := httpclient.New(closed.URL)
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}

		if _, err := transport.Do(context.Background(), "/api/items/1"); err == nil {
			t.Error("expected error for unreachable upstream")
		}
	})
}

func TestNewRejectsRelativeBaseURL(t *testing.T) {
	if _, err := httpclient.New("api/v1"); err == nil {
		t.Error("expected error for relative base URL")
	}
}
