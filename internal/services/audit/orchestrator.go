package audit

import (
	"context"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/beacon/internal/models"
	"github.com/ternarybob/beacon/internal/services/breaker"
	"github.com/ternarybob/beacon/internal/services/llm"
	"github.com/ternarybob/beacon/internal/storage/sqlite"
)

// StageCallbacks notifies job tracking when pipeline stages start and finish.
type StageCallbacks struct {
	OnStageStart    func(models.AuditStage)
	OnStageComplete func(models.AuditStage)
}

func (c StageCallbacks) start(stage models.AuditStage) {
	if c.OnStageStart != nil {
		c.OnStageStart(stage)
	}
}

func (c StageCallbacks) complete(stage models.AuditStage) {
	if c.OnStageComplete != nil {
		c.OnStageComplete(stage)
	}
}

// Orchestrator runs the full audit pipeline: cache probe, URL lock,
// Lighthouse, CrUX field data, AI narrative, merge, cache write.
type Orchestrator struct {
	logger     arbor.ILogger
	cache      *sqlite.CacheStorage
	locks      *URLLockManager
	lighthouse *LighthouseRunner
	crux       *CrUXClient
	ai         llm.Service
	aiBreaker  *breaker.CircuitBreaker
}

// NewOrchestrator wires the audit pipeline. The ai service may be nil when
// no provider is configured; the AI stage then degrades gracefully.
func NewOrchestrator(
	logger arbor.ILogger,
	cache *sqlite.CacheStorage,
	locks *URLLockManager,
	lighthouse *LighthouseRunner,
	crux *CrUXClient,
	ai llm.Service,
	aiBreaker *breaker.CircuitBreaker,
) *Orchestrator {
	return &Orchestrator{
		logger:     logger,
		cache:      cache,
		locks:      locks,
		lighthouse: lighthouse,
		crux:       crux,
		ai:         ai,
		aiBreaker:  aiBreaker,
	}
}

// Run executes one audit. Lighthouse is the critical stage: if both form
// factors fail the audit is failed. CrUX and AI degrade to a partial result.
// Identical concurrent URLs are serialized; the waiter re-probes the cache.
func (o *Orchestrator) Run(ctx context.Context, url string, options models.AuditOptions, callbacks StageCallbacks) *models.AuditResponse {
	timeout := time.Duration(options.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 600 * time.Second
	}

	if !options.NoCache {
		if cached := o.cache.Get(url); cached != nil {
			o.logger.Info().Str("url", url).Msg("Audit served from cache")
			return cached
		}
	}

	wasFirst, err := o.locks.Acquire(ctx, url)
	if err != nil {
		return failedResponse(url, "audit cancelled while waiting for url lock")
	}
	defer o.locks.Release(url)

	if !wasFirst && !options.NoCache {
		// Another audit for this URL just finished; use its result
		if cached := o.cache.Get(url); cached != nil {
			return cached
		}
	}

	var (
		errorMessages []string
		timing        = make(map[string]float64)
	)

	lighthouseStart := time.Now()
	lighthouse, mobileErr, desktopErr := o.lighthouse.RunParallel(ctx, url, timeout, callbacks.start, callbacks.complete)
	timing["lighthouse"] = time.Since(lighthouseStart).Seconds()
	if lighthouse == nil {
		msg := "lighthouse audits failed for both mobile and desktop: " + joinSideErrors(mobileErr, desktopErr)
		o.logger.Error().Str("url", url).Str("error", msg).Msg("Lighthouse stage failed")
		return failedResponse(url, msg)
	}
	if mobileErr != nil {
		errorMessages = append(errorMessages, "Mobile: "+mobileErr.Error())
	}
	if desktopErr != nil {
		errorMessages = append(errorMessages, "Desktop: "+desktopErr.Error())
	}

	callbacks.start(models.StageCrUX)
	cruxStart := time.Now()
	crux, err := o.crux.Fetch(ctx, url, timeout)
	timing["crux"] = time.Since(cruxStart).Seconds()
	if err != nil {
		o.logger.Warn().Err(err).Str("url", url).Msg("CrUX stage failed")
		errorMessages = append(errorMessages, "CrUX: "+err.Error())
	} else {
		callbacks.complete(models.StageCrUX)
	}

	callbacks.start(models.StageAIAnalysis)
	aiStart := time.Now()
	aiReport := o.runAIStage(ctx, url, lighthouse, crux, &errorMessages)
	timing["ai"] = time.Since(aiStart).Seconds()
	if aiReport != nil {
		callbacks.complete(models.StageAIAnalysis)
	}

	status := models.AuditStatusPartial
	if lighthouse.Mobile != nil && lighthouse.Desktop != nil && crux != nil && aiReport != nil {
		status = models.AuditStatusSuccess
	}

	result := &models.AuditResponse{
		Status:     status,
		URL:        url,
		Lighthouse: *lighthouse,
		CrUX:       crux,
		Insights: models.Insights{
			Metrics:  *lighthouse,
			AIReport: aiReport,
		},
		Error:  strings.Join(errorMessages, "; "),
		Timing: timing,
	}

	if !options.NoCache {
		// Cache write failures never fail the audit
		o.cache.Put(url, result)
	}

	o.logger.Info().
		Str("url", url).
		Str("status", string(status)).
		Msg("Audit completed")
	return result
}

// runAIStage generates the narrative report behind the AI circuit breaker.
// Absence of a report is degradation, not failure.
func (o *Orchestrator) runAIStage(ctx context.Context, url string, lighthouse *models.LighthouseReport, crux *models.CrUXData, errorMessages *[]string) *models.AIReport {
	if o.ai == nil {
		return nil
	}
	if !o.aiBreaker.CanExecute() {
		o.logger.Warn().Str("url", url).Msg("AI circuit open, skipping analysis")
		return nil
	}

	report, err := o.ai.GenerateReport(ctx, url, lighthouse, crux)
	if err != nil {
		o.aiBreaker.RecordFailure()
		o.logger.Warn().Err(err).Str("url", url).Msg("AI stage failed")
		*errorMessages = append(*errorMessages, "AI: "+err.Error())
		return nil
	}
	o.aiBreaker.RecordSuccess()
	return report
}

func joinSideErrors(mobileErr, desktopErr error) string {
	var parts []string
	if mobileErr != nil {
		parts = append(parts, "Mobile: "+mobileErr.Error())
	}
	if desktopErr != nil {
		parts = append(parts, "Desktop: "+desktopErr.Error())
	}
	return strings.Join(parts, "; ")
}

func failedResponse(url, errMsg string) *models.AuditResponse {
	return &models.AuditResponse{
		Status:     models.AuditStatusFailed,
		URL:        url,
		Lighthouse: models.LighthouseReport{},
		Insights:   models.Insights{Metrics: models.LighthouseReport{}},
		Error:      errMsg,
	}
}
