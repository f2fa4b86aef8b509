// Package budget implements the daily spend controls for tutor questions.
//
// Two nested budgets are enforced: a platform-wide daily spend cap, checked
// first, and a per-identity daily cap. Checks read the day's record, compare
// against the fixed ceiling and then commit the incremented totals. The read
// and the write are separate statements, so concurrent requests may overshoot
// a ceiling by the number of requests racing inside one read-modify-write.
package budget

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/tutor/pkg/models"
)

// Fixed policy.
const (
	DailyGlobalLimit    = 10.00
	DailyIdentityBudget = 0.10
	DefaultCostEstimate = 0.025
)

// PlanLimits maps subscription plans to daily question limits.
// A negative limit means unlimited.
var PlanLimits = map[string]int64{
	models.PlanFree:    10,
	models.PlanStudent: 100,
	models.PlanPremium: -1,
}

// Store is the persistence collaborator of the ledger. Lookups return a nil
// record and a nil error when nothing has been recorded yet.
type Store interface {
	GetGlobalUsage(ctx context.Context, date string) (*models.GlobalUsage, error)
	SaveGlobalUsage(ctx context.Context, g *models.GlobalUsage) error
	GetIdentityUsage(ctx context.Context, ip, date string) (*models.IdentityUsage, error)
	SaveIdentityUsage(ctx context.Context, u *models.IdentityUsage) error
	GetUserUsage(ctx context.Context, userID, date string) (*models.UserUsage, error)
	SaveUserUsage(ctx context.Context, u *models.UserUsage) error
	GetUserPlan(ctx context.Context, userID string) (string, error)
	ListGlobalUsage(ctx context.Context, from, to string) ([]models.GlobalUsage, error)
	ListIdentityUsage(ctx context.Context, from, to string) ([]models.IdentityUsage, error)
}

// GlobalDecision is the outcome of a platform-wide budget check.
type GlobalDecision struct {
	Allowed         bool
	CurrentCost     float64 // after the increment when allowed
	RemainingBudget float64
	Limit           float64
	QuestionsServed int64
}

// IdentityDecision is the outcome of a per-IP budget check.
type IdentityDecision struct {
	Allowed         bool
	Remaining       int64
	Limit           int64
	CurrentCost     float64
	RemainingBudget float64
	DailyBudget     float64
}

// PlanDecision is the outcome of a per-user plan check.
type PlanDecision struct {
	Allowed   bool
	Remaining int64 // -1 when unlimited
	Limit     int64 // -1 when unlimited
	Plan      string
}

// Ledger enforces the global and per-identity daily budgets.
type Ledger struct {
	store Store
	now   func() time.Time
}

// NewLedger creates a Ledger over store. A nil clock defaults to time.Now.
func NewLedger(store Store, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, now: now}
}

// Store returns the underlying persistence collaborator.
func (l *Ledger) Store() Store {
	return l.store
}

// Today returns the current UTC ISO day.
func (l *Ledger) Today() string {
	return DayKey(l.now())
}

// DayKey formats t as a UTC ISO day.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// micros converts a dollar amount to integer micro-dollars so that repeated
// additions of the estimate compare exactly against the ceilings.
func micros(usd float64) int64 {
	return int64(math.Round(usd * 1e6))
}

func dollars(m int64) float64 {
	return float64(m) / 1e6
}

// CheckAndReserveGlobal denies the question when the day's platform spend plus
// estimate would exceed DailyGlobalLimit, and commits the increment otherwise.
func (l *Ledger) CheckAndReserveGlobal(ctx context.Context, estimate float64) (*GlobalDecision, error) {
	estimate = effectiveEstimate(estimate)
	today := l.Today()

	current, err := l.store.GetGlobalUsage(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("budget: reading global usage: %w", err)
	}
	if current == nil {
		current = &models.GlobalUsage{Date: today}
	}

	costM := micros(current.TotalCost)
	if costM+micros(estimate) > micros(DailyGlobalLimit) {
		return &GlobalDecision{
			Allowed:         false,
			CurrentCost:     current.TotalCost,
			RemainingBudget: dollars(max(micros(DailyGlobalLimit)-costM, 0)),
			Limit:           DailyGlobalLimit,
			QuestionsServed: current.QuestionCount,
		}, nil
	}

	next := &models.GlobalUsage{
		Date:          today,
		TotalCost:     dollars(costM + micros(estimate)),
		QuestionCount: current.QuestionCount + 1,
	}
	if err := l.store.SaveGlobalUsage(ctx, next); err != nil {
		return nil, fmt.Errorf("budget: saving global usage: %w", err)
	}

	return &GlobalDecision{
		Allowed:         true,
		CurrentCost:     next.TotalCost,
		RemainingBudget: dollars(micros(DailyGlobalLimit) - micros(next.TotalCost)),
		Limit:           DailyGlobalLimit,
		QuestionsServed: next.QuestionCount,
	}, nil
}

// IdentityLimit returns the number of questions an identity may ask per day
// at the given per-question estimate.
func IdentityLimit(estimate float64) int64 {
	return micros(DailyIdentityBudget) / micros(effectiveEstimate(estimate))
}

// effectiveEstimate substitutes DefaultCostEstimate for estimates that round to
// zero micro-dollars.
func effectiveEstimate(estimate float64) float64 {
	if micros(estimate) <= 0 {
		return DefaultCostEstimate
	}
	return estimate
}

// CheckAndReserveIdentity denies the question when the IP has used up its daily
// question limit or when its spend plus estimate would exceed
// DailyIdentityBudget, and commits the increment otherwise.
func (l *Ledger) CheckAndReserveIdentity(ctx context.Context, ip string, estimate float64) (*IdentityDecision, error) {
	estimate = effectiveEstimate(estimate)
	today := l.Today()
	limit := IdentityLimit(estimate)

	current, err := l.store.GetIdentityUsage(ctx, ip, today)
	if err != nil {
		return nil, fmt.Errorf("budget: reading identity usage: %w", err)
	}
	if current == nil {
		current = &models.IdentityUsage{IPAddress: ip, Date: today}
	}

	nextCostM := micros(current.TotalCost) + micros(estimate)
	if current.QuestionCount >= limit || nextCostM > micros(DailyIdentityBudget) {
		return &IdentityDecision{
			Allowed:     false,
			Remaining:   0,
			Limit:       limit,
			CurrentCost: current.TotalCost,
			DailyBudget: DailyIdentityBudget,
		}, nil
	}

	next := &models.IdentityUsage{
		IPAddress:     ip,
		Date:          today,
		QuestionCount: current.QuestionCount + 1,
		TotalCost:     dollars(nextCostM),
	}
	if err := l.store.SaveIdentityUsage(ctx, next); err != nil {
		return nil, fmt.Errorf("budget: saving identity usage: %w", err)
	}

	return &IdentityDecision{
		Allowed:         true,
		Remaining:       limit - next.QuestionCount,
		Limit:           limit,
		CurrentCost:     next.TotalCost,
		RemainingBudget: dollars(micros(DailyIdentityBudget) - nextCostM),
		DailyBudget:     DailyIdentityBudget,
	}, nil
}

// CheckAndReserveUser enforces the plan-based question count for an
// authenticated user. Users without a profile or with an unknown plan are
// treated as free. Cost is not tracked.
func (l *Ledger) CheckAndReserveUser(ctx context.Context, userID string) (*PlanDecision, error) {
	plan, err := l.store.GetUserPlan(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("budget: reading user plan: %w", err)
	}
	limit, ok := PlanLimits[plan]
	if !ok {
		plan = models.PlanFree
		limit = PlanLimits[models.PlanFree]
	}

	today := l.Today()
	current, err := l.store.GetUserUsage(ctx, userID, today)
	if err != nil {
		return nil, fmt.Errorf("budget: reading user usage: %w", err)
	}
	if current == nil {
		current = &models.UserUsage{UserID: userID, Date: today}
	}

	if limit >= 0 && current.Count >= limit {
		return &PlanDecision{Allowed: false, Remaining: 0, Limit: limit, Plan: plan}, nil
	}

	next := &models.UserUsage{UserID: userID, Date: today, Count: current.Count + 1}
	if err := l.store.SaveUserUsage(ctx, next); err != nil {
		return nil, fmt.Errorf("budget: saving user usage: %w", err)
	}

	remaining := int64(-1)
	if limit >= 0 {
		remaining = limit - next.Count
	}
	return &PlanDecision{Allowed: true, Remaining: remaining, Limit: limit, Plan: plan}, nil
}
