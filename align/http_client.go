package align

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for mesh fetches.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3

	// defaultBaseBackoff is the base delay for exponential backoff.
	defaultBaseBackoff = 500 * time.Millisecond

	// DefaultMaxMeshBytes limits a mesh download to 200 MB.
	DefaultMaxMeshBytes = 200 << 20
)

// ErrMeshTooLarge is returned when a mesh download exceeds its size limit.
var ErrMeshTooLarge = errors.New("mesh too large")

// FetchOption configures FetchMesh behavior.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	maxBytes    int64
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
		maxBytes:    DefaultMaxMeshBytes,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of attempts.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithMaxBytes sets the largest mesh body FetchMesh accepts.
func WithMaxBytes(n int64) FetchOption {
	return func(c *fetchConfig) {
		c.maxBytes = n
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// statusError is a non-200 response.
type statusError struct {
	url    string
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.url, e.status)
}

// permanentError marks a failure that another attempt cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// retryable reports whether a fetch error is worth another attempt: transport
// failures, 5xx, 408 and 429. Other 4xx responses and parse errors are final.
func retryable(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= 500 || se.status == http.StatusRequestTimeout || se.status == http.StatusTooManyRequests
	}
	return true
}

// FetchMesh downloads an OBJ mesh and returns its vertex positions, retrying
// transient failures with exponential backoff.
func FetchMesh(ctx context.Context, meshURL string, opts ...FetchOption) (MeshGeometry, error) {
	if meshURL == "" {
		return MeshGeometry{}, errors.New("fetch mesh: URL is empty")
	}

	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	attempts := max(cfg.maxRetries, 1)
	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			backoff := cfg.baseBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return MeshGeometry{}, fmt.Errorf("fetch mesh: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		g, err := getOBJ(ctx, client, meshURL, cfg.maxBytes)
		if err == nil {
			if g.Name == "" {
				g.Name = path.Base(meshURL)
			}
			return g, nil
		}
		if !retryable(err) {
			return MeshGeometry{}, fmt.Errorf("fetch mesh: %w", err)
		}
		lastErr = err
	}
	return MeshGeometry{}, fmt.Errorf("fetch mesh: all %d attempts failed: %w", attempts, lastErr)
}

// getOBJ performs one GET and parses the body as it streams in.
func getOBJ(ctx context.Context, client *http.Client, url string, maxBytes int64) (MeshGeometry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return MeshGeometry{}, &permanentError{err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "model/obj, text/plain")

	resp, err := client.Do(req)
	if err != nil {
		return MeshGeometry{}, fmt.Errorf("GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return MeshGeometry{}, &statusError{url: url, status: resp.StatusCode}
	}

	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return MeshGeometry{}, &permanentError{err: fmt.Errorf("GET %s: %w: %d bytes (limit %d)", url, ErrMeshTooLarge, resp.ContentLength, maxBytes)}
	}

	body := &cappedReader{r: resp.Body, n: maxBytes}
	if maxBytes <= 0 {
		body.n = -1
	}
	g, err := ParseOBJ(body)
	if body.exceeded {
		// The last line the parser saw may be cut short; report the size.
		return MeshGeometry{}, &permanentError{err: fmt.Errorf("GET %s: %w (limit %d bytes)", url, ErrMeshTooLarge, maxBytes)}
	}
	if err != nil {
		return MeshGeometry{}, &permanentError{err: err}
	}
	return g, nil
}

// cappedReader reads at most n bytes from r and fails with ErrMeshTooLarge if
// r has more. A negative n disables the cap.
type cappedReader struct {
	r        io.Reader
	n        int64
	exceeded bool
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.n < 0 {
		return c.r.Read(p)
	}
	if c.n == 0 {
		var one [1]byte
		k, err := c.r.Read(one[:])
		if k > 0 {
			c.exceeded = true
			return 0, ErrMeshTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > c.n {
		p = p[:c.n]
	}
	k, err := c.r.Read(p)
	c.n -= int64(k)
	return k, err
}
