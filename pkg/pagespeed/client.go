// Package pagespeed provides a client for the PageSpeed Insights API (v5).
package pagespeed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://www.googleapis.com"

const runEndpoint = "/pagespeedonline/v5/runPagespeed"

// Client runs PageSpeed audits for a URL.
type Client interface {
	Run(ctx context.Context, pageURL string) (*Report, error)
}

// Report is a lighthouse-style audit result. Raw keeps the full vendor
// payload for later report rendering; the typed fields cover what scoring
// reads.
type Report struct {
	LighthouseResult LighthouseResult `json:"lighthouseResult"`
	Raw              json.RawMessage  `json:"-"`
}

// LighthouseResult holds the audit categories.
type LighthouseResult struct {
	Categories Categories `json:"categories"`
}

// Categories holds per-category results.
type Categories struct {
	Performance *Category `json:"performance,omitempty"`
}

// Category is one audit category with a normalized 0-1 score.
type Category struct {
	Score *float64 `json:"score,omitempty"`
}

// PerformanceScore returns the normalized 0-1 performance score, or nil when
// the report carries none.
func (r *Report) PerformanceScore() *float64 {
	if r == nil || r.LighthouseResult.Categories.Performance == nil {
		return nil
	}
	return r.LighthouseResult.Categories.Performance.Score
}

// Option configures the client.
type Option func(*restyClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *restyClient) {
		c.http.SetBaseURL(url)
	}
}

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *restyClient) {
		c.http.SetTimeout(d)
	}
}

// WithStrategy selects the audit strategy, "mobile" or "desktop".
func WithStrategy(strategy string) Option {
	return func(c *restyClient) {
		if strategy != "" {
			c.strategy = strategy
		}
	}
}

type restyClient struct {
	apiKey   string
	strategy string
	http     *resty.Client
}

// NewClient creates a PageSpeed Insights client. Audits run against the
// mobile strategy, matching what the grading report presents.
func NewClient(apiKey string, opts ...Option) Client {
	c := &restyClient{
		apiKey:   apiKey,
		strategy: "mobile",
		http: resty.New().
			SetBaseURL(defaultBaseURL).
			SetTimeout(30 * time.Second).
			SetHeader("Accept", "application/json"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *restyClient) Run(ctx context.Context, pageURL string) (*Report, error) {
	if pageURL == "" {
		return nil, eris.New("pagespeed: empty url")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"strategy": c.strategy,
			"url":      pageURL,
			"key":      c.apiKey,
		}).
		Get(runEndpoint)
	if err != nil {
		return nil, eris.Wrap(err, "pagespeed: send request")
	}
	if resp.IsError() {
		return nil, eris.Errorf("pagespeed: unexpected status %d", resp.StatusCode())
	}

	var report Report
	if err := json.Unmarshal(resp.Body(), &report); err != nil {
		return nil, eris.Wrap(err, "pagespeed: unmarshal response")
	}
	report.Raw = json.RawMessage(resp.Body())
	return &report, nil
}
