package audit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/beacon/internal/models"
	"github.com/ternarybob/beacon/internal/services/breaker"
	"github.com/tidwall/gjson"
)

// PSIAPIURL is the PageSpeed Insights endpoint serving CrUX field data.
const PSIAPIURL = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"

const (
	cruxMaxAttempts = 3
	cruxBackoffMin  = 4 * time.Second
	cruxBackoffMax  = 10 * time.Second
)

// RateLCP buckets a p75 LCP value in milliseconds.
func RateLCP(ms float64) models.Rating {
	switch {
	case ms <= 2500:
		return models.RatingGood
	case ms <= 4000:
		return models.RatingNeedsImprovement
	default:
		return models.RatingPoor
	}
}

// RateCLS buckets a p75 CLS value.
func RateCLS(cls float64) models.Rating {
	switch {
	case cls <= 0.1:
		return models.RatingGood
	case cls <= 0.25:
		return models.RatingNeedsImprovement
	default:
		return models.RatingPoor
	}
}

// RateINP buckets a p75 INP value in milliseconds.
func RateINP(ms float64) models.Rating {
	switch {
	case ms <= 200:
		return models.RatingGood
	case ms <= 500:
		return models.RatingNeedsImprovement
	default:
		return models.RatingPoor
	}
}

// CrUXClient fetches Chrome UX Report field data through the PageSpeed
// Insights API, guarded by a circuit breaker.
type CrUXClient struct {
	apiKey     string
	apiURL     string
	client     *http.Client
	breaker    *breaker.CircuitBreaker
	logger     arbor.ILogger
	backoffMin time.Duration
	backoffMax time.Duration
}

// NewCrUXClient creates a CrUX client.
func NewCrUXClient(logger arbor.ILogger, apiKey string, cb *breaker.CircuitBreaker) *CrUXClient {
	return &CrUXClient{
		apiKey:     apiKey,
		apiURL:     PSIAPIURL,
		client:     &http.Client{},
		breaker:    cb,
		logger:     logger,
		backoffMin: cruxBackoffMin,
		backoffMax: cruxBackoffMax,
	}
}

// Fetch returns field data for a URL, retrying transient API failures with
// exponential backoff. A nil result with nil error means no field data is
// available or the circuit is open; neither is an audit failure.
func (c *CrUXClient) Fetch(ctx context.Context, targetURL string, timeout time.Duration) (*models.CrUXData, error) {
	var lastErr error
	backoff := c.backoffMin

	for attempt := 1; attempt <= cruxMaxAttempts; attempt++ {
		if !c.breaker.CanExecute() {
			c.logger.Warn().Str("url", targetURL).Msg("PSI circuit open, skipping CrUX fetch")
			return nil, nil
		}

		data, err := c.fetchOnce(ctx, targetURL, timeout)
		if err == nil {
			c.breaker.RecordSuccess()
			return parseCrUX(data), nil
		}

		c.breaker.RecordFailure()
		lastErr = err
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("url", targetURL).
			Msg("CrUX fetch failed")

		if attempt == cruxMaxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
		if backoff > c.backoffMax {
			backoff = c.backoffMax
		}
	}

	return nil, fmt.Errorf("PSI API failed after %d attempts: %w", cruxMaxAttempts, lastErr)
}

func (c *CrUXClient) fetchOnce(ctx context.Context, targetURL string, timeout time.Duration) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := url.Values{}
	params.Set("url", targetURL)
	params.Set("key", c.apiKey)
	params.Set("strategy", "mobile")
	params.Set("category", "performance")

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PSI API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("PSI API returned error status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read PSI response: %w", err)
	}
	return body, nil
}

// parseCrUX extracts field data from a PSI response, preferring URL-level
// data and falling back to origin-level. Returns nil when no field data
// exists for either.
func parseCrUX(data []byte) *models.CrUXData {
	root := gjson.ParseBytes(data)

	experience := root.Get("loadingExperience")
	originFallback := false
	if len(experience.Get("metrics").Map()) == 0 {
		experience = root.Get("originLoadingExperience")
		originFallback = true
	}

	metrics := experience.Get("metrics")
	if !metrics.Exists() || len(metrics.Map()) == 0 {
		return nil
	}

	return &models.CrUXData{
		LCP:            parseMetric(metrics, "LARGEST_CONTENTFUL_PAINT_MS", RateLCP),
		CLS:            parseMetric(metrics, "CUMULATIVE_LAYOUT_SHIFT_SCORE", RateCLS),
		INP:            parseMetric(metrics, "INTERACTION_TO_NEXT_PAINT", RateINP),
		FCP:            parseMetric(metrics, "FIRST_CONTENTFUL_PAINT_MS", nil),
		TTFB:           parseMetric(metrics, "EXPERIMENTAL_TIME_TO_FIRST_BYTE", nil),
		OriginFallback: originFallback,
		OverallRating:  parseOverallRating(experience.Get("overall_category").String()),
	}
}

func parseMetric(metrics gjson.Result, key string, rate func(float64) models.Rating) *models.CrUXMetric {
	data := metrics.Get(key)
	if !data.Exists() {
		return nil
	}

	metric := &models.CrUXMetric{}
	if p75 := data.Get("percentile"); p75.Exists() && p75.Type == gjson.Number {
		v := p75.Float()
		metric.P75 = &v
		if rate != nil {
			metric.Rating = rate(v)
		}
	}

	distributions := data.Get("distributions").Array()
	if len(distributions) >= 3 {
		metric.Distribution = &models.MetricDistribution{
			Good:             distributions[0].Get("proportion").Float(),
			NeedsImprovement: distributions[1].Get("proportion").Float(),
			Poor:             distributions[2].Get("proportion").Float(),
		}
	}
	return metric
}

func parseOverallRating(category string) models.Rating {
	switch category {
	case "FAST":
		return models.RatingGood
	case "AVERAGE":
		return models.RatingNeedsImprovement
	case "SLOW":
		return models.RatingPoor
	default:
		return ""
	}
}
