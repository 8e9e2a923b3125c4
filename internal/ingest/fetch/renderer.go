package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	cdpfetch "github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/lueurxax/newspipe/internal/platform/observability"
)

const (
	defaultBrowserConcurrency = 2
	defaultRenderFirst        = 10 * time.Second
	defaultRenderBudget       = 45 * time.Second

	janitorInterval = 15 * time.Second
	janitorGrace    = 5 * time.Second

	// Short settle window after load so late XHR-driven content lands in the DOM.
	settleDelay = 1500 * time.Millisecond

	minRetryWindow = time.Second

	statusError = "error"
)

// ErrRendererClosed is returned by Render after Close.
var ErrRendererClosed = errors.New("renderer closed")

// RenderConfig bounds the headless browser pool.
type RenderConfig struct {
	Concurrency  int
	FirstTimeout time.Duration
	Budget       time.Duration
}

// Renderer drives a shared headless Chrome for pages that only produce
// content after JavaScript runs. The browser starts lazily on the first
// Render call; a fixed pool of tab slots caps concurrency and a janitor
// cancels tabs that outlive the render budget.
type Renderer struct {
	cfg    RenderConfig
	logger *zerolog.Logger

	slots chan struct{}

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	sessions    map[uint64]renderSession
	nextID      uint64
	closed      bool

	janitorStop chan struct{}
}

type renderSession struct {
	cancel  context.CancelFunc
	started time.Time
	url     string
}

// NewRenderer creates a Renderer. Zero config fields fall back to defaults.
func NewRenderer(cfg RenderConfig, logger *zerolog.Logger) *Renderer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultBrowserConcurrency
	}

	if cfg.FirstTimeout <= 0 {
		cfg.FirstTimeout = defaultRenderFirst
	}

	if cfg.Budget <= 0 {
		cfg.Budget = defaultRenderBudget
	}

	return &Renderer{
		cfg:         cfg,
		logger:      logger,
		slots:       make(chan struct{}, cfg.Concurrency),
		sessions:    make(map[uint64]renderSession),
		janitorStop: make(chan struct{}),
	}
}

// Render navigates to a URL in a headless tab and returns the rendered HTML.
// The first attempt gets min(first-attempt timeout, remaining budget); if it
// fails and budget remains, one retry runs with the full remaining window.
// waitSelector, when non-empty, is a CSS selector the page must show before
// the DOM is captured.
func (r *Renderer) Render(ctx context.Context, rawURL, waitSelector string) (string, error) {
	deadline := time.Now().Add(r.cfg.Budget)

	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-r.slots }()

	allocCtx, err := r.ensureBrowser()
	if err != nil {
		return "", err
	}

	start := time.Now()

	first := r.cfg.FirstTimeout
	if remaining := time.Until(deadline); remaining < first {
		first = remaining
	}

	html, err := r.renderOnce(ctx, allocCtx, rawURL, waitSelector, first)
	if err == nil {
		observability.RenderRequests.WithLabelValues(statusOK).Inc()
		observability.RenderDuration.Observe(time.Since(start).Seconds())

		return html, nil
	}

	if remaining := time.Until(deadline); ctx.Err() == nil && remaining > minRetryWindow {
		r.logger.Debug().
			Str("url", rawURL).
			Dur("remaining", remaining).
			Err(err).
			Msg("Retrying render with remaining budget")

		html, err = r.renderOnce(ctx, allocCtx, rawURL, waitSelector, remaining)
		if err == nil {
			observability.RenderRequests.WithLabelValues(statusOK).Inc()
			observability.RenderDuration.Observe(time.Since(start).Seconds())

			return html, nil
		}
	}

	observability.RenderDuration.Observe(time.Since(start).Seconds())

	if ctx.Err() != nil {
		observability.RenderRequests.WithLabelValues(statusCancelled).Inc()
		return "", ctx.Err()
	}

	observability.RenderRequests.WithLabelValues(statusError).Inc()

	return "", fmt.Errorf("render %s: %w", rawURL, err)
}

// renderOnce runs a single navigation in a fresh tab with its own timeout.
// Heavy resources (images, stylesheets, media, fonts) are blocked through
// CDP fetch interception to keep renders light.
func (r *Renderer) renderOnce(ctx, allocCtx context.Context, rawURL, waitSelector string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		return "", context.DeadlineExceeded
	}

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	defer tabCancel()

	pageCtx, cancelPage := context.WithTimeout(tabCtx, timeout)
	defer cancelPage()

	id := r.track(cancelPage, rawURL)
	defer r.untrack(id)

	// Caller cancellation must tear the tab down even though the tab context
	// descends from the allocator, not from ctx.
	stop := context.AfterFunc(ctx, cancelPage)
	defer stop()

	chromedp.ListenTarget(pageCtx, func(ev interface{}) {
		e, ok := ev.(*cdpfetch.EventRequestPaused)
		if !ok {
			return
		}

		go func() {
			c := chromedp.FromContext(pageCtx)
			execCtx := cdp.WithExecutor(pageCtx, c.Target)

			switch e.ResourceType {
			case network.ResourceTypeImage,
				network.ResourceTypeStylesheet,
				network.ResourceTypeMedia,
				network.ResourceTypeFont:
				_ = cdpfetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx) //nolint:errcheck // best-effort block
			default:
				_ = cdpfetch.ContinueRequest(e.RequestID).Do(execCtx) //nolint:errcheck // best-effort continue
			}
		}()
	})

	actions := []chromedp.Action{
		network.Enable(),
		cdpfetch.Enable().WithPatterns([]*cdpfetch.RequestPattern{{URLPattern: "*"}}),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}

	if waitSelector != "" {
		actions = append(actions, chromedp.WaitVisible(waitSelector, chromedp.ByQuery))
	}

	var html string

	actions = append(actions,
		chromedp.Sleep(settleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(pageCtx, actions...); err != nil {
		return "", err
	}

	return html, nil
}

// ensureBrowser lazily creates the exec allocator and starts the janitor.
func (r *Renderer) ensureBrowser() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRendererClosed
	}

	if r.allocCtx != nil {
		return r.allocCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	r.allocCtx, r.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)

	go r.janitor()

	return r.allocCtx, nil
}

func (r *Renderer) track(cancel context.CancelFunc, url string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.sessions[r.nextID] = renderSession{cancel: cancel, started: time.Now(), url: url}

	return r.nextID
}

func (r *Renderer) untrack(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
}

// janitor cancels page contexts that outlive the render budget, so a hung
// tab cannot pin a pool slot forever.
func (r *Renderer) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.janitorStop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Renderer) sweep() {
	cutoff := time.Now().Add(-(r.cfg.Budget + janitorGrace))

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.sessions {
		if s.started.Before(cutoff) {
			r.logger.Warn().
				Str("url", s.url).
				Dur("age", time.Since(s.started)).
				Msg("Cancelling stale render context")

			s.cancel()
			delete(r.sessions, id)
		}
	}
}

// Close tears down the browser. In-flight renders are cancelled.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.closed = true
	close(r.janitorStop)

	for id, s := range r.sessions {
		s.cancel()
		delete(r.sessions, id)
	}

	if r.allocCancel != nil {
		r.allocCancel()
	}
}
