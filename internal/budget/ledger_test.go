package budget

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/tutor/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var day = time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)

func TestCheckAndReserveIdentity_FourQuestionsThenDenied(t *testing.T) {
	ledger := NewLedger(newTestStore(t), fixedClock(day))
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		d, err := ledger.CheckAndReserveIdentity(ctx, "203.0.113.7", 0.025)
		if err != nil {
			t.Fatalf("question %d: unexpected error: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("question %d: expected allowed", i)
		}
		if d.Limit != 4 {
			t.Errorf("question %d: expected limit 4, got %d", i, d.Limit)
		}
		if d.Remaining != int64(4-i) {
			t.Errorf("question %d: expected remaining %d, got %d", i, 4-i, d.Remaining)
		}
	}

	usage, err := ledger.Store().GetIdentityUsage(ctx, "203.0.113.7", "2025-03-14")
	if err != nil {
		t.Fatalf("GetIdentityUsage: %v", err)
	}
	if usage.TotalCost != 0.10 {
		t.Errorf("expected total cost 0.10 after 4 questions, got %v", usage.TotalCost)
	}

	d, err := ledger.CheckAndReserveIdentity(ctx, "203.0.113.7", 0.025)
	if err != nil {
		t.Fatalf("5th question: unexpected error: %v", err)
	}
	if d.Allowed {
		t.Error("expected 5th question to be denied")
	}
	if d.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", d.Remaining)
	}
}

func TestCheckAndReserveIdentity_CostCeilingWithoutCountLimit(t *testing.T) {
	store := newTestStore(t)
	ledger := NewLedger(store, fixedClock(day))
	ctx := context.Background()

	if err := store.SaveIdentityUsage(ctx, &models.IdentityUsage{
		IPAddress: "198.51.100.1", Date: "2025-03-14", QuestionCount: 1, TotalCost: 0.09,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	d, err := ledger.CheckAndReserveIdentity(ctx, "198.51.100.1", 0.025)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Error("expected denial when cost would exceed the daily budget")
	}
	if d.CurrentCost != 0.09 {
		t.Errorf("expected current cost 0.09, got %v", d.CurrentCost)
	}
}

func TestCheckAndReserveIdentity_NewDayStartsAtZero(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveIdentityUsage(ctx, &models.IdentityUsage{
		IPAddress: "203.0.113.7", Date: "2025-03-14", QuestionCount: 4, TotalCost: 0.10,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ledger := NewLedger(store, fixedClock(day.Add(24*time.Hour)))
	d, err := ledger.CheckAndReserveIdentity(ctx, "203.0.113.7", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed || d.Remaining != 3 {
		t.Errorf("expected fresh allowance with 3 remaining, got allowed=%v remaining=%d", d.Allowed, d.Remaining)
	}
}

func TestCheckAndReserveGlobal(t *testing.T) {
	tests := []struct {
		name        string
		seed        *models.GlobalUsage
		wantAllowed bool
		wantCost    float64
		wantServed  int64
	}{
		{"first question of the day", nil, true, 0.025, 1},
		{"below limit", &models.GlobalUsage{Date: "2025-03-14", TotalCost: 5, QuestionCount: 200}, true, 5.025, 201},
		{"lands exactly on limit", &models.GlobalUsage{Date: "2025-03-14", TotalCost: 9.975, QuestionCount: 399}, true, 10, 400},
		{"exhausted", &models.GlobalUsage{Date: "2025-03-14", TotalCost: 10, QuestionCount: 400}, false, 10, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			ctx := context.Background()
			if tt.seed != nil {
				if err := store.SaveGlobalUsage(ctx, tt.seed); err != nil {
					t.Fatalf("seed: %v", err)
				}
			}

			d, err := NewLedger(store, fixedClock(day)).CheckAndReserveGlobal(ctx, DefaultCostEstimate)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Allowed != tt.wantAllowed {
				t.Errorf("expected allowed=%v, got %v", tt.wantAllowed, d.Allowed)
			}
			if d.CurrentCost != tt.wantCost {
				t.Errorf("expected current cost %v, got %v", tt.wantCost, d.CurrentCost)
			}
			if d.QuestionsServed != tt.wantServed {
				t.Errorf("expected %d questions served, got %d", tt.wantServed, d.QuestionsServed)
			}
			if d.Limit != DailyGlobalLimit {
				t.Errorf("expected limit %v, got %v", DailyGlobalLimit, d.Limit)
			}
		})
	}
}

func TestCheckAndReserveUser_PlanLimits(t *testing.T) {
	tests := []struct {
		plan      string
		used      int64
		wantAllow bool
		wantPlan  string
		wantLimit int64
	}{
		{"", 9, true, models.PlanFree, 10},
		{"", 10, false, models.PlanFree, 10},
		{"enterprise", 10, false, models.PlanFree, 10},
		{models.PlanStudent, 99, true, models.PlanStudent, 100},
		{models.PlanStudent, 100, false, models.PlanStudent, 100},
		{models.PlanPremium, 5000, true, models.PlanPremium, -1},
	}

	for _, tt := range tests {
		t.Run(tt.wantPlan+"/"+tt.plan, func(t *testing.T) {
			store := newTestStore(t)
			ctx := context.Background()
			if tt.plan != "" {
				if err := store.SaveUserProfile(ctx, &models.UserProfile{UserID: "u1", SubscriptionPlan: tt.plan}); err != nil {
					t.Fatalf("seed profile: %v", err)
				}
			}
			if err := store.SaveUserUsage(ctx, &models.UserUsage{UserID: "u1", Date: "2025-03-14", Count: tt.used}); err != nil {
				t.Fatalf("seed usage: %v", err)
			}

			d, err := NewLedger(store, fixedClock(day)).CheckAndReserveUser(ctx, "u1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Allowed != tt.wantAllow {
				t.Errorf("expected allowed=%v, got %v", tt.wantAllow, d.Allowed)
			}
			if d.Plan != tt.wantPlan {
				t.Errorf("expected plan %s, got %s", tt.wantPlan, d.Plan)
			}
			if d.Limit != tt.wantLimit {
				t.Errorf("expected limit %d, got %d", tt.wantLimit, d.Limit)
			}
		})
	}
}

type failingStore struct{ Store }

func (failingStore) GetGlobalUsage(context.Context, string) (*models.GlobalUsage, error) {
	return nil, errors.New("connection refused")
}

func TestCheckAndReserveGlobal_StoreErrorPropagates(t *testing.T) {
	_, err := NewLedger(failingStore{}, fixedClock(day)).CheckAndReserveGlobal(context.Background(), 0.025)
	if err == nil {
		t.Fatal("expected store error to propagate")
	}
}

func TestSQLiteStore_ListUsageRange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, g := range []models.GlobalUsage{
		{Date: "2025-03-10", TotalCost: 1, QuestionCount: 40},
		{Date: "2025-03-12", TotalCost: 2, QuestionCount: 80},
		{Date: "2025-03-14", TotalCost: 3, QuestionCount: 120},
	} {
		g := g
		if err := store.SaveGlobalUsage(ctx, &g); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	rows, err := store.ListGlobalUsage(ctx, "2025-03-11", "2025-03-14")
	if err != nil {
		t.Fatalf("ListGlobalUsage: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Date != "2025-03-14" {
		t.Errorf("expected newest first, got %s", rows[0].Date)
	}
}

func TestIdentityLimit(t *testing.T) {
	tests := []struct {
		estimate float64
		want     int64
	}{
		{0.025, 4},
		{0, 4},
		{-1, 4},
		{0.0000001, 4},
		{0.03, 3},
		{0.10, 1},
		{0.2, 0},
	}
	for _, tt := range tests {
		if got := IdentityLimit(tt.estimate); got != tt.want {
			t.Errorf("IdentityLimit(%v) = %d, want %d", tt.estimate, got, tt.want)
		}
	}
}

func TestCheckAndReserveIdentity_SubMicroEstimate(t *testing.T) {
	ledger := NewLedger(newTestStore(t), fixedClock(day))

	d, err := ledger.CheckAndReserveIdentity(context.Background(), "198.51.100.1", 0.0000001)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Fatal("expected allowed")
	}
	if d.Limit != 4 {
		t.Errorf("expected default limit 4, got %d", d.Limit)
	}
	if d.CurrentCost != DefaultCostEstimate {
		t.Errorf("expected default estimate charged, got %v", d.CurrentCost)
	}
}
