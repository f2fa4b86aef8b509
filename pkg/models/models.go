// Package models defines the core data structures shared across the tutor gateway.
package models

import "time"

// IdentityKind names the rate-limiting subject of a request.
type IdentityKind string

const (
	IdentityIP   IdentityKind = "ip"
	IdentityUser IdentityKind = "user"
)

// Identity is the subject whose daily budget a question is charged to.
type Identity struct {
	Kind IdentityKind
	Key  string // IP address or user id
}

// Subscription plans recognised by the per-user ledger.
const (
	PlanFree    = "free"
	PlanStudent = "student"
	PlanPremium = "premium"
)

// CacheEntry is a previously generated answer stored under "response:<hash>".
type CacheEntry struct {
	Response        string `json:"response"`
	OriginalQuery   string `json:"originalQuery"`
	NormalizedQuery string `json:"normalizedQuery"`
	Timestamp       int64  `json:"timestamp"` // Unix milliseconds
	HitCount        int64  `json:"hitCount"`
}

// CreatedAt returns the entry creation time.
func (e *CacheEntry) CreatedAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// GlobalUsage is the platform-wide spend for one day.
type GlobalUsage struct {
	Date          string  `json:"date" db:"date"`
	TotalCost     float64 `json:"total_cost" db:"total_cost"`
	QuestionCount int64   `json:"question_count" db:"question_count"`
}

// IdentityUsage is the spend of one IP address for one day.
type IdentityUsage struct {
	IPAddress     string  `json:"ip_address" db:"ip_address"`
	Date          string  `json:"date" db:"date"`
	QuestionCount int64   `json:"question_count" db:"question_count"`
	TotalCost     float64 `json:"total_cost" db:"total_cost"`
}

// UserUsage is the raw question count of one authenticated user for one day.
type UserUsage struct {
	UserID string `json:"user_id" db:"user_id"`
	Date   string `json:"date" db:"date"`
	Count  int64  `json:"count" db:"count"`
}

// UserProfile carries the subscription plan of an authenticated user.
type UserProfile struct {
	UserID           string `json:"user_id" db:"user_id"`
	SubscriptionPlan string `json:"subscription_plan" db:"subscription_plan"`
}

// ModelCounters accumulates token usage for a single model within a period.
type ModelCounters struct {
	Requests     int64 `json:"requests"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// UsageCounters is a daily or monthly usage bucket stored under
// "workers-ai-usage-<period>".
type UsageCounters struct {
	Period            string                   `json:"period"`
	TotalRequests     int64                    `json:"total_requests"`
	TotalInputTokens  int64                    `json:"total_input_tokens"`
	TotalOutputTokens int64                    `json:"total_output_tokens"`
	ModelRequests     map[string]ModelCounters `json:"model_requests"`
}

// Conversation is one stored exchange for a device fingerprint.
type Conversation struct {
	ID            string `json:"id"`
	Timestamp     string `json:"timestamp"`
	Date          string `json:"date"`
	UserMessage   string `json:"userMessage"`
	AIResponse    string `json:"aiResponse"`
	FingerprintID string `json:"fingerprintId"`
}
