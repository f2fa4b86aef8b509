// Package analytics aggregates the quota ledger into the operator monitoring
// report: per-day platform spend, per-IP activity and today's status against
// the global budget.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/pkg/models"
)

// Status of today's global spend.
type Status string

const (
	StatusNormal       Status = "NORMAL"
	StatusWarning      Status = "WARNING"
	StatusLimitReached Status = "LIMIT_REACHED"
)

const (
	// DefaultDays is the report window when none is requested.
	DefaultDays = 7
	// WarningThreshold is the global spend at which today turns WARNING.
	WarningThreshold = 8.00
	// EstimatedCacheHitPercent is applied to the question count; hits are not
	// tracked individually.
	EstimatedCacheHitPercent = 30
)

// Source lists ledger records for a date range, newest first.
type Source interface {
	ListGlobalUsage(ctx context.Context, from, to string) ([]models.GlobalUsage, error)
	ListIdentityUsage(ctx context.Context, from, to string) ([]models.IdentityUsage, error)
}

// IPDetail is one identity's activity on a day.
type IPDetail struct {
	IP        string  `json:"ip"`
	Questions int64   `json:"questions"`
	Cost      float64 `json:"cost"`
}

// Day is the aggregate of one calendar day.
type Day struct {
	Date             string     `json:"date"`
	GlobalCost       float64    `json:"global_cost"`
	GlobalQuestions  int64      `json:"global_questions"`
	UniqueIPs        int64      `json:"unique_ips"`
	TotalIPQuestions int64      `json:"total_ip_questions"`
	TotalIPCosts     float64    `json:"total_ip_costs"`
	IPDetails        []IPDetail `json:"ip_details"`
}

// Summary totals the window. Money is rendered with four decimals.
type Summary struct {
	PeriodDays       int    `json:"period_days"`
	TotalGlobalCost  string `json:"total_global_cost"`
	TotalQuestions   int64  `json:"total_questions"`
	TotalUniqueIPs   int64  `json:"total_unique_ips"`
	AverageDailyCost string `json:"average_daily_cost"`
	TodayStatus      Status `json:"today_status"`
	TodayCost        string `json:"today_cost"`
	TodayQuestions   int64  `json:"today_questions"`
	TodayUniqueIPs   int64  `json:"today_unique_ips"`
}

// CacheStats is a rough estimate of what the response cache saved.
type CacheStats struct {
	EstimatedHits    int64  `json:"estimated_hits"`
	EstimatedSavings int64  `json:"estimated_savings"`
	Note             string `json:"note"`
}

// Limits echoes the fixed budgets the report is measured against.
type Limits struct {
	DailyGlobalLimit float64 `json:"daily_global_limit"`
	DailyIPLimit     float64 `json:"daily_ip_limit"`
	WarningThreshold float64 `json:"warning_threshold"`
}

// Report is the monitoring document.
type Report struct {
	Summary        Summary     `json:"summary"`
	DailyBreakdown []Day       `json:"daily_breakdown"`
	CacheStats     *CacheStats `json:"cache_stats"`
	Limits         Limits      `json:"limits"`
}

// Options select the report window.
type Options struct {
	Days     int
	Detailed bool // include per-IP rows
	// CacheEnabled adds the estimated cache block.
	CacheEnabled bool
}

// Monitor builds reports from a ledger source.
type Monitor struct {
	source Source
	now    func() time.Time
}

// NewMonitor creates a Monitor. A nil clock defaults to time.Now.
func NewMonitor(source Source, now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	return &Monitor{source: source, now: now}
}

// GenerateReport aggregates the trailing window of opts.Days days ending today.
func (m *Monitor) GenerateReport(ctx context.Context, opts Options) (*Report, error) {
	if opts.Days <= 0 {
		opts.Days = DefaultDays
	}
	now := m.now().UTC()
	today := budget.DayKey(now)
	from := budget.DayKey(now.AddDate(0, 0, -opts.Days))

	globals, err := m.source.ListGlobalUsage(ctx, from, today)
	if err != nil {
		return nil, fmt.Errorf("analytics: list global usage: %w", err)
	}
	idents, err := m.source.ListIdentityUsage(ctx, from, today)
	if err != nil {
		return nil, fmt.Errorf("analytics: list ip usage: %w", err)
	}

	days := make(map[string]*Day)
	day := func(date string) *Day {
		d, ok := days[date]
		if !ok {
			d = &Day{Date: date, IPDetails: []IPDetail{}}
			days[date] = d
		}
		return d
	}

	for _, g := range globals {
		d := day(g.Date)
		d.GlobalCost = g.TotalCost
		d.GlobalQuestions = g.QuestionCount
	}
	for _, u := range idents {
		d := day(u.Date)
		d.UniqueIPs++
		d.TotalIPQuestions += u.QuestionCount
		d.TotalIPCosts += u.TotalCost
		if opts.Detailed {
			d.IPDetails = append(d.IPDetails, IPDetail{IP: u.IPAddress, Questions: u.QuestionCount, Cost: u.TotalCost})
		}
	}

	breakdown := make([]Day, 0, len(days))
	for _, d := range days {
		breakdown = append(breakdown, *d)
	}
	sort.Slice(breakdown, func(i, j int) bool { return breakdown[i].Date > breakdown[j].Date })

	var totalCost float64
	var totalQuestions, totalIPs int64
	todayDay := Day{}
	for _, d := range breakdown {
		totalCost += d.GlobalCost
		totalQuestions += d.GlobalQuestions
		totalIPs += d.UniqueIPs
		if d.Date == today {
			todayDay = d
		}
	}
	avg := 0.0
	if len(breakdown) > 0 {
		avg = totalCost / float64(len(breakdown))
	}

	report := &Report{
		Summary: Summary{
			PeriodDays:       opts.Days,
			TotalGlobalCost:  fixed4(totalCost),
			TotalQuestions:   totalQuestions,
			TotalUniqueIPs:   totalIPs,
			AverageDailyCost: fixed4(avg),
			TodayStatus:      StatusFor(todayDay.GlobalCost),
			TodayCost:        fixed4(todayDay.GlobalCost),
			TodayQuestions:   todayDay.GlobalQuestions,
			TodayUniqueIPs:   todayDay.UniqueIPs,
		},
		DailyBreakdown: breakdown,
		Limits: Limits{
			DailyGlobalLimit: budget.DailyGlobalLimit,
			DailyIPLimit:     budget.DailyIdentityBudget,
			WarningThreshold: WarningThreshold,
		},
	}
	if opts.CacheEnabled {
		hits := totalQuestions * EstimatedCacheHitPercent / 100
		report.CacheStats = &CacheStats{
			EstimatedHits:    hits,
			EstimatedSavings: int64(float64(hits) * budget.DefaultCostEstimate),
			Note:             "Cache statistics are estimated",
		}
	}
	return report, nil
}

// StatusFor classifies a day's global spend.
func StatusFor(cost float64) Status {
	switch {
	case cost >= budget.DailyGlobalLimit:
		return StatusLimitReached
	case cost >= WarningThreshold:
		return StatusWarning
	default:
		return StatusNormal
	}
}

func fixed4(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
