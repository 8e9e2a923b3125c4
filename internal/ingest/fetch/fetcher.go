// Package fetch provides the shared HTTP client used by every network-facing
// component: feed polling, article downloads and read-more resolution. A
// single pooled transport is bounded by a global semaphore plus a per-host
// semaphore so one slow site cannot monopolize the connection budget. The
// package also hosts the headless renderer for JavaScript-heavy pages.
package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/newspipe/internal/platform/observability"
)

const (
	defaultTimeout            = 30 * time.Second
	defaultMaxRetries         = 3
	defaultGlobalConcurrency  = 16
	defaultPerHostConcurrency = 4
	defaultUserAgent          = "Mozilla/5.0 (compatible; newspipe/1.0)"

	maxRedirects = 5
	maxBodyBytes = 5 * 1024 * 1024

	retryBackoffBase = 500 * time.Millisecond
	retryBackoffCap  = 10 * time.Second

	maxIdleConns        = 64
	maxIdleConnsPerHost = 8
	idleConnTimeout     = 90 * time.Second

	headerUserAgent      = "User-Agent"
	headerAccept         = "Accept"
	headerAcceptLanguage = "Accept-Language"
	headerAcceptEncoding = "Accept-Encoding"
	headerContentEnc     = "Content-Encoding"

	acceptHTML     = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptLanguage = "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7"

	statusOK        = "ok"
	statusTransient = "transient"
	statusPermanent = "permanent"
	statusCancelled = "cancelled"
)

// Fetcher errors.
var (
	// ErrTransient marks failures worth retrying: connect errors, timeouts,
	// 5xx responses and 429.
	ErrTransient = errors.New("transient fetch error")

	errTooManyRedirects = errors.New("too many redirects")
)

// PermanentError is a non-retryable HTTP failure, typically a 4xx other
// than 429. Callers match it with errors.As.
type PermanentError struct {
	Status int
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Status)
}

// Options tune a single Fetch call. The zero value requests a plain GET
// with the fetcher defaults.
type Options struct {
	Method     string
	Headers    map[string]string
	Body       []byte
	Timeout    time.Duration
	MaxRetries int
	AcceptGzip bool
}

// Result is a completed HTTP response with the body fully read.
type Result struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Config holds fetcher-wide limits.
type Config struct {
	Timeout            time.Duration
	MaxRetries         int
	GlobalConcurrency  int
	PerHostConcurrency int
	UserAgent          string
}

// Fetcher is a bounded-concurrency HTTP client with retry and error
// classification. Safe for concurrent use.
type Fetcher struct {
	client *http.Client
	cfg    Config
	logger *zerolog.Logger

	global chan struct{}

	hostMu sync.Mutex
	hosts  map[string]chan struct{}
}

// NewFetcher creates a Fetcher with a pooled transport. Zero config fields
// fall back to package defaults.
func NewFetcher(cfg Config, logger *zerolog.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	if cfg.GlobalConcurrency <= 0 {
		cfg.GlobalConcurrency = defaultGlobalConcurrency
	}

	if cfg.PerHostConcurrency <= 0 {
		cfg.PerHostConcurrency = defaultPerHostConcurrency
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errTooManyRedirects
				}

				return nil
			},
		},
		cfg:    cfg,
		logger: logger,
		global: make(chan struct{}, cfg.GlobalConcurrency),
		hosts:  make(map[string]chan struct{}),
	}
}

// Fetch performs an HTTP request with bounded concurrency and retries.
// Transient failures are retried with exponential backoff and jitter;
// permanent failures return a *PermanentError immediately. Context
// cancellation is passed through untouched.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}

	if parsed.Host == "" {
		return nil, fmt.Errorf("parse URL %q: missing host", rawURL)
	}

	release, err := f.acquire(ctx, parsed.Host)
	if err != nil {
		return nil, err
	}
	defer release()

	retries := opts.MaxRetries
	if retries <= 0 {
		retries = f.cfg.MaxRetries
	}

	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				observability.FetchRequests.WithLabelValues(statusCancelled).Inc()
				return nil, err
			}

			f.logger.Debug().
				Str("url", rawURL).
				Int("attempt", attempt).
				Err(lastErr).
				Msg("Retrying fetch")
		}

		res, err := f.doOnce(ctx, rawURL, opts)
		if err == nil {
			observability.FetchRequests.WithLabelValues(statusOK).Inc()
			return res, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			observability.FetchRequests.WithLabelValues(statusCancelled).Inc()
			return nil, ctx.Err()
		}

		if !errors.Is(err, ErrTransient) {
			observability.FetchRequests.WithLabelValues(statusPermanent).Inc()
			return nil, err
		}
	}

	observability.FetchRequests.WithLabelValues(statusTransient).Inc()

	return nil, fmt.Errorf("fetch %s after %d attempts: %w", rawURL, retries+1, lastErr)
}

// doOnce performs a single attempt with its own timeout derived from the
// caller context.
func (f *Fetcher) doOnce(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if len(opts.Body) > 0 {
		bodyReader = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set(headerUserAgent, f.cfg.UserAgent)
	req.Header.Set(headerAccept, acceptHTML)
	req.Header.Set(headerAcceptLanguage, acceptLanguage)

	if opts.AcceptGzip {
		req.Header.Set(headerAcceptEncoding, "gzip")
	}

	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()

	resp, err := f.client.Do(req)

	observability.FetchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close() //nolint:errcheck // response body close error is not actionable

	body, err := readBody(resp, opts.AcceptGzip)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		return &Result{Status: resp.StatusCode, Headers: resp.Header, Body: body}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: HTTP %d", ErrTransient, resp.StatusCode)
	default:
		return nil, &PermanentError{Status: resp.StatusCode}
	}
}

// readBody drains the response through a size cap, decompressing gzip when
// the caller asked for it explicitly.
func readBody(resp *http.Response, acceptGzip bool) ([]byte, error) {
	var reader io.Reader = resp.Body

	if acceptGzip && strings.EqualFold(resp.Header.Get(headerContentEnc), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close() //nolint:errcheck // close error after full read is not actionable

		reader = gz
	}

	return io.ReadAll(io.LimitReader(reader, maxBodyBytes))
}

// acquire takes the global slot first, then the per-host slot. Both are
// released together by the returned func.
func (f *Fetcher) acquire(ctx context.Context, host string) (func(), error) {
	select {
	case f.global <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	hostSem := f.hostSem(host)

	select {
	case hostSem <- struct{}{}:
	case <-ctx.Done():
		<-f.global
		return nil, ctx.Err()
	}

	return func() {
		<-hostSem
		<-f.global
	}, nil
}

func (f *Fetcher) hostSem(host string) chan struct{} {
	host = strings.ToLower(host)

	f.hostMu.Lock()
	defer f.hostMu.Unlock()

	sem, ok := f.hosts[host]
	if !ok {
		sem = make(chan struct{}, f.cfg.PerHostConcurrency)
		f.hosts[host] = sem
	}

	return sem
}

// sleepBackoff waits for the exponential backoff of the given attempt,
// with jitter in the upper half of the window.
func sleepBackoff(ctx context.Context, attempt int) error {
	delay := retryBackoffBase << (attempt - 1)
	if delay > retryBackoffCap {
		delay = retryBackoffCap
	}

	delay = delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1)) //nolint:gosec // jitter does not need crypto randomness

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
