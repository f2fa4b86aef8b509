// Package usage meters model token consumption into daily and monthly buckets
// and reports estimated spend against fixed ceilings.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bigdegenenergy/open-cloud-ops/tutor/pkg/models"
)

const (
	keyPrefix = "workers-ai-usage-"

	DailyRetention   = 2 * 24 * time.Hour
	MonthlyRetention = 32 * 24 * time.Hour

	// MaxWindowDays is the longest trailing window a report reads; older daily
	// buckets have expired.
	MaxWindowDays = int(DailyRetention / (24 * time.Hour))

	DailyCostLimit   = 5.00
	MonthlyCostLimit = 50.00
	WarningThreshold = 0.8
)

// Price is a per-million-token rate in USD.
type Price struct {
	InputPerM  float64
	OutputPerM float64
}

// DefaultPrices holds the known model rates. Models missing from the table
// are billed at FallbackPrice.
var DefaultPrices = map[string]Price{
	"gpt-oss-120b":      {InputPerM: 0.35, OutputPerM: 0.75},
	"claude-3-5-sonnet": {InputPerM: 3.00, OutputPerM: 15.00},
}

// FallbackPrice is the rate for models without a price entry.
var FallbackPrice = Price{InputPerM: 3.00, OutputPerM: 15.00}

// KV is the key-value collaborator holding the counters.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Meter accumulates token usage.
type Meter struct {
	kv     KV
	prices map[string]Price
	now    func() time.Time
}

// NewMeter creates a Meter. A nil prices map uses DefaultPrices and a nil clock
// uses time.Now.
func NewMeter(kv KV, prices map[string]Price, now func() time.Time) *Meter {
	if prices == nil {
		prices = DefaultPrices
	}
	if now == nil {
		now = time.Now
	}
	return &Meter{kv: kv, prices: prices, now: now}
}

func dayKey(t time.Time) string   { return t.UTC().Format("2006-01-02") }
func monthKey(t time.Time) string { return t.UTC().Format("2006-01") }

// Record adds one request with the given token estimates to today's and this
// month's buckets. Failures are logged and dropped.
func (m *Meter) Record(ctx context.Context, model string, inputTokens, outputTokens int64) {
	now := m.now()
	buckets := []struct {
		period string
		ttl    time.Duration
	}{
		{dayKey(now), DailyRetention},
		{monthKey(now), MonthlyRetention},
	}

	for _, b := range buckets {
		counters, err := m.load(ctx, b.period)
		if err != nil {
			log.WithError(err).WithField("period", b.period).Warn("usage: reading counters failed")
			continue
		}
		counters.TotalRequests++
		counters.TotalInputTokens += inputTokens
		counters.TotalOutputTokens += outputTokens
		mc := counters.ModelRequests[model]
		mc.Requests++
		mc.InputTokens += inputTokens
		mc.OutputTokens += outputTokens
		counters.ModelRequests[model] = mc

		data, err := json.Marshal(counters)
		if err != nil {
			log.WithError(err).Warn("usage: encoding counters failed")
			continue
		}
		if err := m.kv.Set(ctx, keyPrefix+b.period, string(data), b.ttl); err != nil {
			log.WithError(err).WithField("period", b.period).Warn("usage: writing counters failed")
		}
	}
}

// load returns the counters for period, or an empty bucket when none exist.
func (m *Meter) load(ctx context.Context, period string) (*models.UsageCounters, error) {
	raw, err := m.kv.Get(ctx, keyPrefix+period)
	if err != nil {
		return nil, fmt.Errorf("usage: get %s: %w", period, err)
	}
	counters := &models.UsageCounters{Period: period}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), counters); err != nil {
			return nil, fmt.Errorf("usage: decode %s: %w", period, err)
		}
	}
	if counters.ModelRequests == nil {
		counters.ModelRequests = make(map[string]models.ModelCounters)
	}
	return counters, nil
}

// Cost prices a bucket using per-model rates.
func (m *Meter) Cost(c *models.UsageCounters) float64 {
	var total float64
	for name, mc := range c.ModelRequests {
		p, ok := m.prices[name]
		if !ok {
			p = FallbackPrice
		}
		total += float64(mc.InputTokens)/1e6*p.InputPerM + float64(mc.OutputTokens)/1e6*p.OutputPerM
	}
	return total
}
