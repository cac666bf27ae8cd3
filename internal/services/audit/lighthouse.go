package audit

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/beacon/internal/models"
	"github.com/ternarybob/beacon/internal/services/pool"
	"github.com/tidwall/gjson"
)

// Form factors for Lighthouse runs.
const (
	FormFactorMobile  = "mobile"
	FormFactorDesktop = "desktop"
)

// CheckLighthouse verifies the Lighthouse CLI is on PATH.
func CheckLighthouse() error {
	if _, err := exec.LookPath("lighthouse"); err != nil {
		return fmt.Errorf("lighthouse CLI not found in PATH, install with: npm install -g lighthouse")
	}
	return nil
}

// LighthouseRunner executes the Lighthouse CLI against pooled browsers.
type LighthouseRunner struct {
	logger arbor.ILogger
	pool   *pool.BrowserPool
}

// NewLighthouseRunner creates a runner bound to a browser pool.
func NewLighthouseRunner(logger arbor.ILogger, browserPool *pool.BrowserPool) *LighthouseRunner {
	return &LighthouseRunner{
		logger: logger,
		pool:   browserPool,
	}
}

// buildCommand assembles the Lighthouse CLI arguments. When cdpPort is set
// Lighthouse attaches to the pooled browser instead of launching its own.
func buildCommand(url, formFactor, outputPath string, cdpPort int) []string {
	args := []string{url}
	if formFactor == FormFactorMobile {
		args = append(args, "--form-factor=mobile")
	} else {
		args = append(args, "--preset=desktop")
	}
	args = append(args,
		"--output=json",
		fmt.Sprintf("--output-path=%s", outputPath),
		"--quiet",
	)
	if cdpPort > 0 {
		args = append(args, fmt.Sprintf("--port=%d", cdpPort))
	} else {
		args = append(args, "--chrome-flags=--headless")
	}
	return args
}

// runSingle executes one Lighthouse run and extracts its metrics.
func (r *LighthouseRunner) runSingle(ctx context.Context, url, formFactor string, timeout time.Duration, cdpPort int) (*models.LighthouseMetrics, error) {
	tmpDir, err := os.MkdirTemp("", "lighthouse-"+formFactor+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)
	outputPath := filepath.Join(tmpDir, "lighthouse-"+formFactor+".json")

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "lighthouse", buildCommand(url, formFactor, outputPath, cdpPort)...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%s audit timed out after %.0fs", formFactor, timeout.Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("lighthouse process failed (%s): %s", formFactor, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("lighthouse output file not found (%s)", formFactor)
	}

	metrics, err := extractMetrics(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse lighthouse output (%s): %w", formFactor, err)
	}

	r.logger.Debug().
		Str("url", url).
		Str("form_factor", formFactor).
		Dur("duration", time.Since(start)).
		Msg("Lighthouse run completed")
	return metrics, nil
}

// extractMetrics pulls category scores, vitals, and opportunities out of raw
// Lighthouse JSON.
func extractMetrics(data []byte) (*models.LighthouseMetrics, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON")
	}
	root := gjson.ParseBytes(data)

	categories := root.Get("categories")
	if !categories.Exists() {
		return nil, fmt.Errorf("missing categories")
	}
	for _, key := range []string{"performance", "accessibility", "best-practices", "seo"} {
		if !categories.Get(key + ".score").Exists() {
			return nil, fmt.Errorf("missing category score: %s", key)
		}
	}

	metrics := &models.LighthouseMetrics{
		Categories: models.CategoryScores{
			Performance:   categories.Get("performance.score").Float(),
			Accessibility: categories.Get("accessibility.score").Float(),
			BestPractices: categories.Get("best-practices.score").Float(),
			SEO:           categories.Get("seo.score").Float(),
		},
		Opportunities: []models.Opportunity{},
	}

	audits := root.Get("audits")
	metrics.Vitals = models.CoreWebVitals{
		LCPMs: auditValue(audits, "largest-contentful-paint"),
		CLS:   auditValue(audits, "cumulative-layout-shift"),
		INPMs: auditValue(audits, "interaction-to-next-paint"),
		TBTMs: auditValue(audits, "total-blocking-time"),
	}

	audits.ForEach(func(key, audit gjson.Result) bool {
		details := audit.Get("details")
		if details.Get("type").String() != "opportunity" {
			return true
		}
		opportunity := models.Opportunity{
			ID:          key.String(),
			Title:       audit.Get("title").String(),
			Description: audit.Get("description").String(),
		}
		if savings := details.Get("overallSavingsMs"); savings.Exists() {
			v := savings.Float()
			opportunity.EstimatedSavingsMs = &v
		}
		metrics.Opportunities = append(metrics.Opportunities, opportunity)
		return true
	})

	return metrics, nil
}

// auditValue extracts a numericValue from one audit entry, nil when absent.
func auditValue(audits gjson.Result, auditID string) *float64 {
	value := audits.Get(auditID + ".numericValue")
	if !value.Exists() || (value.Type != gjson.Number) {
		return nil
	}
	v := value.Float()
	return &v
}

// RunParallel runs the mobile and desktop audits concurrently against two
// pooled browsers, each with half the total timeout. A nil report means both
// sides failed; per-side errors are returned so callers can record the real
// failure messages.
func (r *LighthouseRunner) RunParallel(
	ctx context.Context,
	url string,
	timeout time.Duration,
	onStart func(models.AuditStage),
	onComplete func(models.AuditStage),
) (report *models.LighthouseReport, mobileErr, desktopErr error) {
	if err := CheckLighthouse(); err != nil {
		return nil, err, err
	}

	sideTimeout := timeout / 2

	mobileBrowser, releaseMobile, err := r.pool.Acquire(ctx)
	if err != nil {
		err = fmt.Errorf("failed to acquire browser: %w", err)
		return nil, err, err
	}
	defer releaseMobile()

	desktopBrowser, releaseDesktop, err := r.pool.Acquire(ctx)
	if err != nil {
		err = fmt.Errorf("failed to acquire browser: %w", err)
		return nil, err, err
	}
	defer releaseDesktop()

	var (
		wg      sync.WaitGroup
		mobile  *models.LighthouseMetrics
		desktop *models.LighthouseMetrics
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if onStart != nil {
			onStart(models.StageLighthouseMobile)
		}
		mobile, mobileErr = r.runSingle(ctx, url, FormFactorMobile, sideTimeout, mobileBrowser.Port)
		if mobileErr == nil && onComplete != nil {
			onComplete(models.StageLighthouseMobile)
		}
	}()
	go func() {
		defer wg.Done()
		if onStart != nil {
			onStart(models.StageLighthouseDesktop)
		}
		desktop, desktopErr = r.runSingle(ctx, url, FormFactorDesktop, sideTimeout, desktopBrowser.Port)
		if desktopErr == nil && onComplete != nil {
			onComplete(models.StageLighthouseDesktop)
		}
	}()
	wg.Wait()

	if mobile == nil && desktop == nil {
		return nil, mobileErr, desktopErr
	}

	if mobileErr != nil {
		r.logger.Warn().Err(mobileErr).Str("url", url).Msg("Mobile lighthouse run failed")
	}
	if desktopErr != nil {
		r.logger.Warn().Err(desktopErr).Str("url", url).Msg("Desktop lighthouse run failed")
	}

	return &models.LighthouseReport{Mobile: mobile, Desktop: desktop}, mobileErr, desktopErr
}
