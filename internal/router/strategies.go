package router

import (
	"context"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/llm"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/pkg/models"
)

// cacheStrategy serves answers whose cached question is similar enough.
type cacheStrategy struct {
	cache ResponseCache
	bg    *background
}

func (s *cacheStrategy) Name() string { return "cache" }

func (s *cacheStrategy) Attempt(ctx context.Context, q *Query) (*Result, error) {
	if s.cache == nil {
		return nil, nil
	}
	lookupCtx, cancel := context.WithTimeout(ctx, s.bg.timeout)
	defer cancel()

	lookup, err := s.cache.Get(lookupCtx, q.Message)
	if err != nil {
		log.WithError(err).Warn("router: cache lookup failed, treating as miss")
		return nil, nil
	}
	if !lookup.Acceptable() {
		return nil, nil
	}

	s.bg.run("cache increment", func(ctx context.Context) {
		s.cache.Increment(ctx, q.Message)
	})
	return &Result{
		Status: http.StatusOK,
		Body: map[string]any{
			"response":   lookup.Response,
			"cached":     true,
			"cost_saved": true,
		},
	}, nil
}

// keywordStrategy answers arithmetic, FAQ and courtesy questions.
type keywordStrategy struct {
	keywords Classifier
	cache    ResponseCache
	bg       *background
}

func (s *keywordStrategy) Name() string { return "keyword" }

func (s *keywordStrategy) Attempt(_ context.Context, q *Query) (res *Result, err error) {
	if s.keywords == nil {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("router: keyword check failed, treating as model question: %v", r)
			res, err = nil, nil
		}
	}()

	match := s.keywords.Classify(q.Message)
	if match == nil || match.UseModel {
		return nil, nil
	}

	cacheAnswer(s.bg, s.cache, q.Message, match.Response)

	body := map[string]any{
		"response":      match.Response,
		"keyword_match": true,
		"type":          match.MatchType,
		"cost_saved":    true,
	}
	if match.Confidence != nil {
		body["confidence"] = *match.Confidence
	}
	return &Result{Status: http.StatusOK, Body: body}, nil
}

// quotaStrategy charges the question to the global budget, then to the
// identity's budget. It never answers a question itself: it either denies or
// falls through.
type quotaStrategy struct {
	ledger Ledger
}

func (s *quotaStrategy) Name() string { return "quota" }

func (s *quotaStrategy) Attempt(ctx context.Context, q *Query) (*Result, error) {
	if s.ledger == nil {
		return nil, fmt.Errorf("router: no quota ledger configured")
	}

	global, err := s.ledger.CheckAndReserveGlobal(ctx, budget.DefaultCostEstimate)
	if err != nil {
		return nil, err
	}
	if !global.Allowed {
		log.WithField("current_global_cost", global.CurrentCost).Warn("router: global daily budget exhausted")
		return &Result{
			Status: http.StatusTooManyRequests,
			Body: map[string]any{
				"error":               "Daily platform limit reached",
				"message":             fmt.Sprintf("Daily platform limit reached ($%.0f). Service will resume tomorrow.", global.Limit),
				"global_limit":        true,
				"current_global_cost": global.CurrentCost,
				"global_limit_usd":    global.Limit,
				"reset_time":          "tomorrow",
			},
		}, nil
	}

	switch q.Identity.Kind {
	case models.IdentityUser:
		d, err := s.ledger.CheckAndReserveUser(ctx, q.Identity.Key)
		if err != nil {
			return nil, err
		}
		if !d.Allowed {
			return &Result{
				Status: http.StatusTooManyRequests,
				Body: map[string]any{
					"error":      "Daily limit reached",
					"message":    fmt.Sprintf("You've used all %d questions on the %s plan today. Come back tomorrow!", d.Limit, d.Plan),
					"limit":      d.Limit,
					"remaining":  0,
					"plan":       d.Plan,
					"reset_time": "tomorrow",
				},
			}, nil
		}
	default:
		d, err := s.ledger.CheckAndReserveIdentity(ctx, q.Identity.Key, budget.DefaultCostEstimate)
		if err != nil {
			return nil, err
		}
		if !d.Allowed {
			return &Result{
				Status: http.StatusTooManyRequests,
				Body: map[string]any{
					"error":        "Daily limit reached",
					"message":      fmt.Sprintf("You've reached your 10¢ daily budget (≈%d questions). Come back tomorrow for more free tutoring!", d.Limit),
					"limit":        d.Limit,
					"remaining":    0,
					"current_cost": d.CurrentCost,
					"daily_budget": d.DailyBudget,
					"reset_time":   "tomorrow",
				},
			}, nil
		}
	}
	return nil, nil
}

// cheapModelStrategy asks the low-cost model and keeps the answer only when it
// passes the quality gate.
type cheapModelStrategy struct {
	model Model
	cache ResponseCache
	usage UsageRecorder
	bg    *background
}

func (s *cheapModelStrategy) Name() string { return "cheap_model" }

func (s *cheapModelStrategy) Attempt(ctx context.Context, q *Query) (*Result, error) {
	if s.model == nil {
		return nil, nil
	}
	answer, err := s.model.Complete(ctx, q.Message)
	if err != nil {
		log.WithError(err).WithField("model", s.model.Name()).Warn("router: cheap model call failed")
		return nil, nil
	}
	// Rejected answers were still billed.
	recordUsage(s.bg, s.usage, s.model.Name(), q.Message, answer)
	if !llm.Acceptable(answer) {
		log.WithField("model", s.model.Name()).Info("router: cheap model answer rejected by quality gate")
		return nil, nil
	}

	cacheAnswer(s.bg, s.cache, q.Message, answer)

	return &Result{
		Status: http.StatusOK,
		Body: map[string]any{
			"response":   answer,
			"workers_ai": true,
			"model":      s.model.Name(),
			"cost_saved": true,
			"quality":    "high",
		},
	}, nil
}

// expensiveModelStrategy is the last tier; its failure ends the request.
type expensiveModelStrategy struct {
	model Model
	cache ResponseCache
	usage UsageRecorder
	bg    *background
}

func (s *expensiveModelStrategy) Name() string { return "expensive_model" }

func (s *expensiveModelStrategy) Attempt(ctx context.Context, q *Query) (*Result, error) {
	answer, err := s.model.Complete(ctx, q.Message)
	if err != nil {
		log.WithError(err).WithField("model", s.model.Name()).Error("router: expensive model call failed")
		return Unavailable(s.model.Name()), nil
	}

	cacheAnswer(s.bg, s.cache, q.Message, answer)
	recordUsage(s.bg, s.usage, s.model.Name(), q.Message, answer)

	return &Result{
		Status: http.StatusOK,
		Body: map[string]any{
			"response":   answer,
			"model":      s.model.Name(),
			"cost_saved": false,
		},
	}, nil
}

func cacheAnswer(bg *background, cache ResponseCache, question, answer string) {
	if cache == nil {
		return
	}
	bg.run("cache write", func(ctx context.Context) {
		if err := cache.Set(ctx, question, answer); err != nil {
			log.WithError(err).Warn("router: cache write failed")
		}
	})
}

func recordUsage(bg *background, usage UsageRecorder, model, question, answer string) {
	if usage == nil {
		return
	}
	bg.run("usage record", func(ctx context.Context) {
		usage.Record(ctx, model, llm.EstimateTokens(question), llm.EstimateTokens(answer))
	})
}
