package models

// AuditStatus is the overall outcome of an audit.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusPartial AuditStatus = "partial"
	AuditStatusFailed  AuditStatus = "failed"
)

// Rating buckets a metric value against the Core Web Vitals thresholds.
type Rating string

const (
	RatingGood             Rating = "good"
	RatingNeedsImprovement Rating = "needs_improvement"
	RatingPoor             Rating = "poor"
)

// CategoryScores holds Lighthouse category scores on a 0-1 scale.
type CategoryScores struct {
	Performance   float64 `json:"performance"`
	Accessibility float64 `json:"accessibility"`
	BestPractices float64 `json:"best_practices"`
	SEO           float64 `json:"seo"`
}

// CoreWebVitals holds lab-measured vitals from Lighthouse.
type CoreWebVitals struct {
	LCPMs *float64 `json:"lcp_ms,omitempty"`
	CLS   *float64 `json:"cls,omitempty"`
	INPMs *float64 `json:"inp_ms,omitempty"`
	TBTMs *float64 `json:"tbt_ms,omitempty"`
}

// Opportunity is a Lighthouse optimization opportunity.
type Opportunity struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	EstimatedSavingsMs *float64 `json:"estimated_savings_ms,omitempty"`
}

// LighthouseMetrics is the extracted result of a single Lighthouse run.
type LighthouseMetrics struct {
	Categories    CategoryScores `json:"categories"`
	Vitals        CoreWebVitals  `json:"vitals"`
	Opportunities []Opportunity  `json:"opportunities"`
}

// LighthouseReport pairs the mobile and desktop runs. Either side may be nil
// when that run failed.
type LighthouseReport struct {
	Mobile  *LighthouseMetrics `json:"mobile,omitempty"`
	Desktop *LighthouseMetrics `json:"desktop,omitempty"`
}

// MetricDistribution is the share of page loads in each rating bucket.
type MetricDistribution struct {
	Good             float64 `json:"good"`
	NeedsImprovement float64 `json:"needs_improvement"`
	Poor             float64 `json:"poor"`
}

// CrUXMetric is one field-data metric from the Chrome UX Report.
type CrUXMetric struct {
	P75          *float64            `json:"p75,omitempty"`
	Distribution *MetricDistribution `json:"distribution,omitempty"`
	Rating       Rating              `json:"rating,omitempty"`
}

// CrUXData is the field data block of an audit report.
type CrUXData struct {
	LCP            *CrUXMetric `json:"lcp,omitempty"`
	CLS            *CrUXMetric `json:"cls,omitempty"`
	INP            *CrUXMetric `json:"inp,omitempty"`
	FCP            *CrUXMetric `json:"fcp,omitempty"`
	TTFB           *CrUXMetric `json:"ttfb,omitempty"`
	OriginFallback bool        `json:"origin_fallback"`
	OverallRating  Rating      `json:"overall_rating,omitempty"`
}

// PerformanceAnalysis is the narrative comparison of the two form factors.
type PerformanceAnalysis struct {
	MobileSummary   string `json:"mobile_summary"`
	DesktopSummary  string `json:"desktop_summary"`
	MobileVsDesktop string `json:"mobile_vs_desktop"`
}

// CoreWebVitalsAnalysis is the narrative breakdown of the vitals.
type CoreWebVitalsAnalysis struct {
	LCPAnalysis    string `json:"lcp_analysis"`
	CLSAnalysis    string `json:"cls_analysis"`
	INPTBTAnalysis string `json:"inp_tbt_analysis"`
}

// CategoryInsights is the narrative take on each Lighthouse category.
type CategoryInsights struct {
	Performance   string `json:"performance"`
	Accessibility string `json:"accessibility"`
	BestPractices string `json:"best_practices"`
	SEO           string `json:"seo"`
}

// AIOpportunity is an opportunity enriched with effort and impact estimates.
type AIOpportunity struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	EstimatedSavings string `json:"estimated_savings"`
	Priority         string `json:"priority"`
	Effort           string `json:"effort"`
	BusinessImpact   string `json:"business_impact"`
}

// AIRecommendation is a prioritized action item.
type AIRecommendation struct {
	Priority                 int    `json:"priority"`
	Title                    string `json:"title"`
	Description              string `json:"description"`
	Rationale                string `json:"rationale"`
	ExpectedImpact           string `json:"expected_impact"`
	ImplementationComplexity string `json:"implementation_complexity"`
	QuickWin                 bool   `json:"quick_win"`
}

// AIReport is the full generated analysis.
type AIReport struct {
	ExecutiveSummary      string                `json:"executive_summary"`
	PerformanceAnalysis   PerformanceAnalysis   `json:"performance_analysis"`
	CoreWebVitalsAnalysis CoreWebVitalsAnalysis `json:"core_web_vitals_analysis"`
	CategoryInsights      CategoryInsights      `json:"category_insights"`
	Strengths             []string              `json:"strengths"`
	Weaknesses            []string              `json:"weaknesses"`
	Opportunities         []AIOpportunity       `json:"opportunities"`
	Recommendations       []AIRecommendation    `json:"recommendations"`
	BusinessImpactSummary string                `json:"business_impact_summary"`
	NextSteps             []string              `json:"next_steps"`
}

// Insights combines the raw metrics with the generated report.
type Insights struct {
	Metrics  LighthouseReport `json:"metrics"`
	AIReport *AIReport        `json:"ai_report,omitempty"`
}

// AuditResponse is the merged report returned to clients.
type AuditResponse struct {
	Status     AuditStatus        `json:"status"`
	URL        string             `json:"url"`
	Lighthouse LighthouseReport   `json:"lighthouse"`
	CrUX       *CrUXData          `json:"crux,omitempty"`
	Insights   Insights           `json:"insights"`
	Error      string             `json:"error,omitempty"`
	Timing     map[string]float64 `json:"timing,omitempty"`
}

// AuditRequest is the submission body for a new audit.
type AuditRequest struct {
	URL     string `json:"url" validate:"required"`
	Timeout int    `json:"timeout,omitempty" validate:"omitempty,min=30,max=1800"`
	NoCache bool   `json:"no_cache,omitempty"`
}

// AuditOptions carries per-audit settings through the pipeline.
type AuditOptions struct {
	TimeoutSeconds int  `json:"timeout_seconds"`
	NoCache        bool `json:"no_cache"`
}
