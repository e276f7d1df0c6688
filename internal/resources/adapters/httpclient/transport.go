package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dejobratic/fetchstate/internal/resources/ports"
)

// DefaultMaxBodyBytes caps how much of a response body is read.
const DefaultMaxBodyBytes int64 = 10 << 20

var (
	// ErrBodyTooLarge is returned when a response body exceeds the configured cap.
	ErrBodyTooLarge = errors.New("response body too large")

	// ErrRelativeKey is returned for a relative key when no base URL is configured.
	ErrRelativeKey = errors.New("relative resource key requires a base URL")
)

// Transport issues GET requests for resource keys over HTTP.
type Transport struct {
	client       *http.Client
	baseURL      *url.URL
	maxBodyBytes int64
}

type Option func(*Transport)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) {
		if client != nil {
			t.client = client
		}
	}
}

// WithMaxBodyBytes sets the body size cap. Non-positive values are ignored.
func WithMaxBodyBytes(n int64) Option {
	return func(t *Transport) {
		if n > 0 {
			t.maxBodyBytes = n
		}
	}
}

// New constructs a Transport. Relative keys are resolved against baseURL;
// an empty baseURL only accepts absolute keys.
func New(baseURL string, opts ...Option) (*Transport, error) {
	t := &Transport{
		client:       &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		maxBodyBytes: DefaultMaxBodyBytes,
	}

	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base URL: %w", err)
		}
		if !parsed.IsAbs() {
			return nil, fmt.Errorf("base URL %q must be absolute", baseURL)
		}
		t.baseURL = parsed
	}

	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

// Do performs the request and reads the body of successful responses.
func (t *Transport) Do(ctx context.Context, key string) (*ports.Response, error) {
	target, err := t.resolve(key)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	result := &ports.Response{
		StatusCode: resp.StatusCode,
		Status:     reasonPhrase(resp),
	}

	if !result.OK() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, t.maxBodyBytes))
		return result, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(body)) > t.maxBodyBytes {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, t.maxBodyBytes)
	}
	result.Body = body

	return result, nil
}

func (t *Transport) resolve(key string) (string, error) {
	parsed, err := url.Parse(key)
	if err != nil {
		return "", fmt.Errorf("parse resource key: %w", err)
	}
	if parsed.IsAbs() {
		return parsed.String(), nil
	}
	if t.baseURL == nil {
		return "", fmt.Errorf("%w: %q", ErrRelativeKey, key)
	}
	return t.baseURL.ResolveReference(parsed).String(), nil
}

// reasonPhrase extracts "Not Found" from a "404 Not Found" status line.
func reasonPhrase(resp *http.Response) string {
	phrase := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if phrase == "" {
		phrase = http.StatusText(resp.StatusCode)
	}
	return phrase
}
