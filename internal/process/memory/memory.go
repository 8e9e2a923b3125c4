// Package memory keeps per-domain extraction knowledge: remembered
// selector patterns, domain stability state, adaptive render budgets and
// the gate that decides when AI selector discovery is worth its cost.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/newspipe/internal/core/domain"
	"github.com/lueurxax/newspipe/internal/platform/config"
	"github.com/lueurxax/newspipe/internal/platform/observability"
	db "github.com/lueurxax/newspipe/internal/storage"
)

const (
	patternCacheTTL = 5 * time.Minute

	stableRate7d     = 0.8
	stableStreak     = 5
	regressionStreak = 2

	aiFailureStreak = 3
	aiLowRate7d     = 0.5
	aiMinAttempts   = 5
	aiCooldown      = 7 * 24 * time.Hour

	renderBackoffBase = 10 * time.Minute
	renderBackoffMax  = 6 * time.Hour
	renderBackoffCap  = 8
)

// Store is the persistence surface the memory service relies on. Writes are
// serialized per domain by the storage queue.
type Store interface {
	GetPatternsForDomain(ctx context.Context, dom string) ([]domain.ExtractionPattern, error)
	SavePattern(ctx context.Context, p *domain.ExtractionPattern) error
	RecordExtractionOutcome(ctx context.Context, attempt *domain.ExtractionAttempt) error
	GetDomainStability(ctx context.Context, dom string) (*domain.DomainStability, error)
	SetDomainStable(ctx context.Context, dom string, stable bool, trigger string) error
	TouchAIAnalysis(ctx context.Context, dom string, at time.Time) error
	AddAICreditsSaved(ctx context.Context, dom string, n int) error
	RecordAIUsage(ctx context.Context, usage *domain.AIUsage) error
	CountAIAnalysesSince(ctx context.Context, since time.Time) (int, error)
}

type cachedPatterns struct {
	patterns  []domain.ExtractionPattern
	fetchedAt time.Time
}

type renderState struct {
	timeout       time.Duration
	failures      int
	lastFailureAt time.Time
}

// Memory is the extraction memory service.
type Memory struct {
	cfg    *config.Config
	store  Store
	logger *zerolog.Logger

	mu       sync.Mutex
	patterns map[string]cachedPatterns
	render   map[string]*renderState
}

func New(cfg *config.Config, store Store, logger *zerolog.Logger) *Memory {
	return &Memory{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		patterns: make(map[string]cachedPatterns),
		render:   make(map[string]*renderState),
	}
}

// Lookup returns remembered patterns for a domain, stable and most
// successful first. Results are served from an in-process cache for up to
// five minutes; writes for the domain invalidate it earlier.
func (m *Memory) Lookup(ctx context.Context, dom string) ([]domain.ExtractionPattern, error) {
	m.mu.Lock()
	cached, ok := m.patterns[dom]
	m.mu.Unlock()

	if ok && time.Since(cached.fetchedAt) < patternCacheTTL {
		return cached.patterns, nil
	}

	patterns, err := m.store.GetPatternsForDomain(ctx, dom)
	if err != nil {
		return nil, fmt.Errorf("lookup patterns: %w", err)
	}

	m.mu.Lock()
	m.patterns[dom] = cachedPatterns{patterns: patterns, fetchedAt: time.Now()}
	m.mu.Unlock()

	return patterns, nil
}

// RecordAttempt persists one strategy run and folds it into pattern and
// stability counters. Stability transitions are evaluated on the fresh
// counters: five consecutive successes with a 7d rate of 0.8 promote the
// domain, two consecutive failures on a stable domain demote it and flag
// it for reanalysis.
func (m *Memory) RecordAttempt(ctx context.Context, attempt *domain.ExtractionAttempt) error {
	if err := m.store.RecordExtractionOutcome(ctx, attempt); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}

	m.invalidate(attempt.Domain)

	if attempt.Strategy == domain.StrategyLearnedSelector {
		observability.MemoryPatternHits.WithLabelValues(outcomeLabel(attempt.Success)).Inc()
	}

	if attempt.Success {
		m.recordDomainSuccess(attempt.Domain)

		if _, err := m.MarkStable(ctx, attempt.Domain); err != nil {
			m.logger.Warn().Err(err).Str("domain", attempt.Domain).Msg("Stability promotion check failed")
		}

		return nil
	}

	stability, err := m.store.GetDomainStability(ctx, attempt.Domain)
	if err != nil {
		if !errors.Is(err, db.ErrStabilityNotFound) {
			m.logger.Warn().Err(err).Str("domain", attempt.Domain).Msg("Stability regression check failed")
		}

		return nil
	}

	if stability.IsStable && stability.ConsecutiveFailures >= regressionStreak {
		trigger := fmt.Sprintf("%d consecutive failures after stability", stability.ConsecutiveFailures)
		if err := m.store.SetDomainStable(ctx, attempt.Domain, false, trigger); err != nil {
			m.logger.Warn().Err(err).Str("domain", attempt.Domain).Msg("Stability demotion failed")
			return nil
		}

		m.logger.Warn().
			Str("domain", attempt.Domain).
			Int("consecutive_failures", stability.ConsecutiveFailures).
			Msg("Stable domain regressed, queued for reanalysis")
	}

	return nil
}

// MarkStable promotes the domain when its 7d success rate and success
// streak clear the thresholds. Reports whether the promotion happened.
func (m *Memory) MarkStable(ctx context.Context, dom string) (bool, error) {
	stability, err := m.store.GetDomainStability(ctx, dom)
	if err != nil {
		if errors.Is(err, db.ErrStabilityNotFound) {
			return false, nil
		}

		return false, fmt.Errorf("mark stable: %w", err)
	}

	if stability.IsStable {
		return false, nil
	}

	if stability.SuccessRate7d < stableRate7d || stability.ConsecutiveSuccesses < stableStreak {
		return false, nil
	}

	if err := m.store.SetDomainStable(ctx, dom, true, ""); err != nil {
		return false, fmt.Errorf("mark stable: %w", err)
	}

	m.logger.Info().
		Str("domain", dom).
		Float32("success_rate_7d", stability.SuccessRate7d).
		Int("consecutive_successes", stability.ConsecutiveSuccesses).
		Msg("Domain marked stable")

	return true, nil
}

// ShouldInvokeAI decides whether AI selector discovery is justified for the
// domain right now. Stable domains never qualify and bank a saved credit;
// struggling or unknown domains qualify once per cooldown while the daily
// budget lasts.
func (m *Memory) ShouldInvokeAI(ctx context.Context, dom string) (bool, error) {
	stability, err := m.store.GetDomainStability(ctx, dom)
	if err != nil && !errors.Is(err, db.ErrStabilityNotFound) {
		return false, fmt.Errorf("should invoke ai: %w", err)
	}

	if stability != nil {
		if stability.IsStable {
			if err := m.store.AddAICreditsSaved(ctx, dom, 1); err != nil {
				m.logger.Warn().Err(err).Str("domain", dom).Msg("Credits-saved bump failed")
			}

			observability.MemoryAISkipped.Inc()

			return false, nil
		}

		needy := stability.NeedsReanalysis ||
			stability.ConsecutiveFailures >= aiFailureStreak ||
			(stability.SuccessRate7d < aiLowRate7d && stability.TotalAttempts >= aiMinAttempts) ||
			stability.LastAIAnalysis == nil
		if !needy {
			return false, nil
		}

		if stability.LastAIAnalysis != nil && time.Since(*stability.LastAIAnalysis) < aiCooldown {
			observability.MemoryAISkipped.Inc()

			return false, nil
		}
	}

	startOfDay := time.Now().UTC().Truncate(24 * time.Hour)

	spent, err := m.store.CountAIAnalysesSince(ctx, startOfDay)
	if err != nil {
		return false, fmt.Errorf("should invoke ai: %w", err)
	}

	if spent >= m.cfg.AIDiscoveryDailyLimit {
		m.logger.Debug().
			Str("domain", dom).
			Int("spent", spent).
			Int("limit", m.cfg.AIDiscoveryDailyLimit).
			Msg("AI discovery budget exhausted for today")
		observability.MemoryAISkipped.Inc()

		return false, nil
	}

	return true, nil
}

// RecordAIDiscovery stores validated AI-discovered selectors as learned
// patterns, books the spend and stamps the cooldown clock.
func (m *Memory) RecordAIDiscovery(ctx context.Context, dom string, selectors []string, tokensUsed int) error {
	for _, selector := range selectors {
		pattern := &domain.ExtractionPattern{
			Domain:       dom,
			Selector:     selector,
			Strategy:     domain.StrategyLearnedSelector,
			DiscoveredBy: domain.DiscoveredByAI,
		}
		if err := m.store.SavePattern(ctx, pattern); err != nil {
			return fmt.Errorf("record ai discovery: %w", err)
		}
	}

	usage := &domain.AIUsage{
		Domain:             dom,
		AnalysisType:       "selector_discovery",
		TokensUsed:         tokensUsed,
		PatternsDiscovered: len(selectors),
	}
	if err := m.store.RecordAIUsage(ctx, usage); err != nil {
		return fmt.Errorf("record ai discovery: %w", err)
	}

	if err := m.store.TouchAIAnalysis(ctx, dom, time.Now()); err != nil {
		return fmt.Errorf("record ai discovery: %w", err)
	}

	m.invalidate(dom)

	return nil
}

// NeedsRender reports whether remembered patterns say the domain only
// yields content through the headless browser.
func (m *Memory) NeedsRender(ctx context.Context, dom string) (bool, error) {
	patterns, err := m.Lookup(ctx, dom)
	if err != nil {
		return false, err
	}

	for _, p := range patterns {
		if p.Strategy == domain.StrategyHeadless && p.SuccessCount > 0 && p.SuccessCount >= p.FailureCount {
			return true, nil
		}
	}

	return false, nil
}

// RenderTimeout returns the adaptive per-domain render timeout. It starts
// at the configured first-attempt timeout, grows by half per failed render
// up to the total budget and gives back half the excess per success.
func (m *Memory) RenderTimeout(dom string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.render[dom]
	if !ok || state.timeout == 0 {
		return m.cfg.RenderFirstTimeout()
	}

	return state.timeout
}

// RecordRenderOutcome adapts the domain's render timeout after one render.
func (m *Memory) RecordRenderOutcome(dom string, ok bool) {
	base := m.cfg.RenderFirstTimeout()
	budget := m.cfg.RenderBudget()

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.renderStateLocked(dom)
	if state.timeout == 0 {
		state.timeout = base
	}

	if ok {
		state.timeout = base + (state.timeout-base)/2

		return
	}

	state.timeout = state.timeout * 3 / 2
	if state.timeout > budget {
		state.timeout = budget
	}
}

// RecordAllStrategiesFailed starts or extends the render backoff window
// after a run where no strategy produced content.
func (m *Memory) RecordAllStrategiesFailed(dom string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.renderStateLocked(dom)
	state.failures++
	state.lastFailureAt = time.Now()

	m.logger.Debug().
		Str("domain", dom).
		Int("consecutive_failures", state.failures).
		Dur("backoff", backoffDelay(state.failures)).
		Msg("All extraction strategies failed")
}

// InRenderBackoff reports whether the domain's render budget is in backoff
// and how long remains.
func (m *Memory) InRenderBackoff(dom string) (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.render[dom]
	if !ok || state.failures == 0 {
		return false, 0
	}

	remaining := backoffDelay(state.failures) - time.Since(state.lastFailureAt)
	if remaining <= 0 {
		return false, 0
	}

	return true, remaining
}

func (m *Memory) recordDomainSuccess(dom string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.render[dom]
	if !ok {
		return
	}

	if state.failures > 0 {
		m.logger.Debug().
			Str("domain", dom).
			Int("cleared_failures", state.failures).
			Msg("Render backoff cleared by success")
	}

	state.failures = 0
	state.lastFailureAt = time.Time{}
}

func (m *Memory) renderStateLocked(dom string) *renderState {
	state, ok := m.render[dom]
	if !ok {
		state = &renderState{}
		m.render[dom] = state
	}

	return state
}

func (m *Memory) invalidate(dom string) {
	m.mu.Lock()
	delete(m.patterns, dom)
	m.mu.Unlock()
}

// backoffDelay grows 10m, 15m, 22.5m, ... capped at six hours.
func backoffDelay(failures int) time.Duration {
	if failures > renderBackoffCap {
		failures = renderBackoffCap
	}

	delay := time.Duration(float64(renderBackoffBase) * math.Pow(1.5, float64(failures-1)))
	if delay > renderBackoffMax {
		return renderBackoffMax
	}

	return delay
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}

	return "failure"
}
