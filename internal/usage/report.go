package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/tutor/pkg/models"
)

// PeriodReport summarizes one daily or monthly bucket.
type PeriodReport struct {
	Date           string           `json:"date,omitempty"`
	Month          string           `json:"month,omitempty"`
	Requests       int64            `json:"requests"`
	InputTokens    int64            `json:"input_tokens"`
	OutputTokens   int64            `json:"output_tokens"`
	EstimatedCost  float64          `json:"estimated_cost"`
	Limit          float64          `json:"limit"`
	PercentageUsed float64          `json:"percentage_used"`
	Warning        bool             `json:"warning"`
	LimitReached   bool             `json:"limit_reached"`
	ModelRequests  map[string]int64 `json:"model_requests"`
}

// WindowReport sums the daily buckets of a trailing window of at most
// MaxWindowDays.
type WindowReport struct {
	Days          int     `json:"days"`
	Requests      int64   `json:"requests"`
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// PricingReport lists the rates used for cost estimates.
type PricingReport struct {
	Models         map[string]PriceReport `json:"models"`
	CostComparison map[string]string      `json:"cost_comparison"`
}

// PriceReport is one model's rate.
type PriceReport struct {
	InputCostPerMTokens  float64 `json:"input_cost_per_m_tokens"`
	OutputCostPerMTokens float64 `json:"output_cost_per_m_tokens"`
}

// Alerts flags the warning and limit states.
type Alerts struct {
	DailyWarning        bool      `json:"daily_warning"`
	MonthlyWarning      bool      `json:"monthly_warning"`
	DailyLimitReached   bool      `json:"daily_limit_reached"`
	MonthlyLimitReached bool      `json:"monthly_limit_reached"`
	NextReset           NextReset `json:"next_reset"`
}

// NextReset names when the daily and monthly buckets roll over.
type NextReset struct {
	Daily   string `json:"daily"`
	Monthly string `json:"monthly"`
}

// Report is the response of the usage endpoint.
type Report struct {
	Daily   PeriodReport  `json:"daily"`
	Monthly PeriodReport  `json:"monthly"`
	Window  WindowReport  `json:"window"`
	Pricing PricingReport `json:"pricing"`
	Alerts  Alerts        `json:"alerts"`
}

// Report aggregates the current day, the current month and the trailing
// window of days into cost estimates with alert flags. days is clamped to
// [1, MaxWindowDays].
func (m *Meter) Report(ctx context.Context, days int) (*Report, error) {
	days = min(max(days, 1), MaxWindowDays)
	now := m.now().UTC()

	daily, err := m.load(ctx, dayKey(now))
	if err != nil {
		return nil, err
	}
	monthly, err := m.load(ctx, monthKey(now))
	if err != nil {
		return nil, err
	}

	r := &Report{
		Daily:   m.period(daily, DailyCostLimit),
		Monthly: m.period(monthly, MonthlyCostLimit),
		Window:  WindowReport{Days: days},
	}
	r.Daily.Date = dayKey(now)
	r.Monthly.Month = monthKey(now)

	for i := 0; i < days; i++ {
		c, err := m.load(ctx, dayKey(now.AddDate(0, 0, -i)))
		if err != nil {
			return nil, err
		}
		r.Window.Requests += c.TotalRequests
		r.Window.InputTokens += c.TotalInputTokens
		r.Window.OutputTokens += c.TotalOutputTokens
		r.Window.EstimatedCost += m.Cost(c)
	}

	r.Pricing = PricingReport{
		Models:         make(map[string]PriceReport, len(m.prices)),
		CostComparison: make(map[string]string, len(m.prices)),
	}
	for name, p := range m.prices {
		r.Pricing.Models[name] = PriceReport{InputCostPerMTokens: p.InputPerM, OutputCostPerMTokens: p.OutputPerM}
		r.Pricing.CostComparison[name] = fmt.Sprintf("$%.2f/$%.2f", p.InputPerM, p.OutputPerM)
	}

	tomorrow := now.AddDate(0, 0, 1)
	nextMonth := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	r.Alerts = Alerts{
		DailyWarning:        r.Daily.Warning,
		MonthlyWarning:      r.Monthly.Warning,
		DailyLimitReached:   r.Daily.LimitReached,
		MonthlyLimitReached: r.Monthly.LimitReached,
		NextReset: NextReset{
			Daily:   fmt.Sprintf("Tomorrow (%s)", dayKey(tomorrow)),
			Monthly: fmt.Sprintf("Next month (%s)", dayKey(nextMonth)),
		},
	}
	return r, nil
}

func (m *Meter) period(c *models.UsageCounters, limit float64) PeriodReport {
	cost := m.Cost(c)
	perModel := make(map[string]int64, len(c.ModelRequests))
	for name, mc := range c.ModelRequests {
		perModel[name] = mc.Requests
	}
	return PeriodReport{
		Requests:       c.TotalRequests,
		InputTokens:    c.TotalInputTokens,
		OutputTokens:   c.TotalOutputTokens,
		EstimatedCost:  cost,
		Limit:          limit,
		PercentageUsed: cost / limit * 100,
		Warning:        cost >= limit*WarningThreshold,
		LimitReached:   cost >= limit,
		ModelRequests:  perModel,
	}
}
