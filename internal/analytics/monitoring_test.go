package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/tutor/pkg/models"
)

type memSource struct {
	globals []models.GlobalUsage
	idents  []models.IdentityUsage
	err     error
	from    string
	to      string
}

func (s *memSource) ListGlobalUsage(_ context.Context, from, to string) ([]models.GlobalUsage, error) {
	s.from, s.to = from, to
	return s.globals, s.err
}

func (s *memSource) ListIdentityUsage(_ context.Context, _, _ string) ([]models.IdentityUsage, error) {
	return s.idents, nil
}

var now = time.Date(2025, 3, 14, 18, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return now }

func TestStatusFor(t *testing.T) {
	tests := []struct {
		cost     float64
		expected Status
	}{
		{0, StatusNormal},
		{7.99, StatusNormal},
		{8.00, StatusWarning},
		{9.975, StatusWarning},
		{10.00, StatusLimitReached},
		{12.5, StatusLimitReached},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.cost); got != tt.expected {
			t.Errorf("cost %.3f: expected %s, got %s", tt.cost, tt.expected, got)
		}
	}
}

func TestGenerateReport(t *testing.T) {
	src := &memSource{
		globals: []models.GlobalUsage{
			{Date: "2025-03-14", TotalCost: 8.5, QuestionCount: 340},
			{Date: "2025-03-12", TotalCost: 1.5, QuestionCount: 60},
		},
		idents: []models.IdentityUsage{
			{IPAddress: "198.51.100.1", Date: "2025-03-14", QuestionCount: 4, TotalCost: 0.1},
			{IPAddress: "198.51.100.2", Date: "2025-03-14", QuestionCount: 2, TotalCost: 0.05},
			{IPAddress: "198.51.100.1", Date: "2025-03-13", QuestionCount: 1, TotalCost: 0.025},
		},
	}
	m := NewMonitor(src, fixedClock)

	report, err := m.GenerateReport(context.Background(), Options{Detailed: true, CacheEnabled: true})
	if err != nil {
		t.Fatalf("GenerateReport: %v", err)
	}

	if src.from != "2025-03-07" || src.to != "2025-03-14" {
		t.Errorf("expected default 7-day window, got %s..%s", src.from, src.to)
	}

	s := report.Summary
	if s.PeriodDays != DefaultDays {
		t.Errorf("expected period %d, got %d", DefaultDays, s.PeriodDays)
	}
	if s.TotalGlobalCost != "10.0000" || s.TotalQuestions != 400 {
		t.Errorf("unexpected totals %s/%d", s.TotalGlobalCost, s.TotalQuestions)
	}
	if s.TotalUniqueIPs != 3 {
		t.Errorf("expected 3 ip-days, got %d", s.TotalUniqueIPs)
	}
	// Three days appear in the breakdown (one only from ip rows).
	if s.AverageDailyCost != "3.3333" {
		t.Errorf("expected average 3.3333, got %s", s.AverageDailyCost)
	}
	if s.TodayStatus != StatusWarning || s.TodayCost != "8.5000" || s.TodayUniqueIPs != 2 {
		t.Errorf("unexpected today summary %+v", s)
	}

	if len(report.DailyBreakdown) != 3 {
		t.Fatalf("expected 3 days, got %d", len(report.DailyBreakdown))
	}
	order := []string{"2025-03-14", "2025-03-13", "2025-03-12"}
	for i, date := range order {
		if report.DailyBreakdown[i].Date != date {
			t.Errorf("position %d: expected %s, got %s", i, date, report.DailyBreakdown[i].Date)
		}
	}
	first := report.DailyBreakdown[0]
	if first.TotalIPQuestions != 6 || len(first.IPDetails) != 2 {
		t.Errorf("unexpected today breakdown %+v", first)
	}

	if report.CacheStats == nil || report.CacheStats.EstimatedHits != 120 || report.CacheStats.EstimatedSavings != 3 {
		t.Errorf("unexpected cache stats %+v", report.CacheStats)
	}
	if report.Limits.DailyGlobalLimit != 10 || report.Limits.DailyIPLimit != 0.10 {
		t.Errorf("unexpected limits %+v", report.Limits)
	}
}

func TestGenerateReport_NotDetailedAndEmpty(t *testing.T) {
	src := &memSource{
		idents: []models.IdentityUsage{{IPAddress: "198.51.100.1", Date: "2025-03-14", QuestionCount: 1, TotalCost: 0.025}},
	}
	report, err := NewMonitor(src, fixedClock).GenerateReport(context.Background(), Options{Days: 2})
	if err != nil {
		t.Fatalf("GenerateReport: %v", err)
	}
	if src.from != "2025-03-12" {
		t.Errorf("expected window start 2025-03-12, got %s", src.from)
	}
	if len(report.DailyBreakdown[0].IPDetails) != 0 {
		t.Error("expected no per-ip rows without detailed")
	}
	if report.CacheStats != nil {
		t.Error("expected no cache stats when cache is disabled")
	}
	if report.Summary.TodayStatus != StatusNormal {
		t.Errorf("expected NORMAL, got %s", report.Summary.TodayStatus)
	}
}

func TestGenerateReport_SourceError(t *testing.T) {
	src := &memSource{err: errors.New("connection refused")}
	if _, err := NewMonitor(src, fixedClock).GenerateReport(context.Background(), Options{}); err == nil {
		t.Error("expected source error to propagate")
	}
}
