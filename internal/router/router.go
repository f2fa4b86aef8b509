// Package router decides how each chat question is answered.
//
// A question passes through an ordered list of strategies: response cache,
// keyword table, quota check, cheap model, expensive model. Each strategy
// either handles the question, producing the HTTP status and body, or falls
// through to the next one. When every strategy falls through the question is
// answered with a service-unavailable body naming the cheap model.
package router

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/keywords"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/responsecache"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/pkg/models"
)

// Input limits.
const (
	MaxInputChars    = 2000
	TruncationMarker = "... [message truncated for length]"
)

// Query is one question moving through the strategies.
type Query struct {
	Message  string // after truncation
	Identity models.Identity
}

// Result is a terminal answer: an HTTP status and a JSON body.
type Result struct {
	Status int
	Body   map[string]any
}

// Strategy handles a question or falls through by returning a nil Result.
// A non-nil error aborts the request.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, q *Query) (*Result, error)
}

// ResponseCache is the cache collaborator.
type ResponseCache interface {
	Get(ctx context.Context, q string) (*responsecache.Lookup, error)
	Set(ctx context.Context, q, response string) error
	Increment(ctx context.Context, q string)
}

// Classifier is the keyword collaborator.
type Classifier interface {
	Classify(q string) *keywords.Result
}

// Ledger is the quota collaborator.
type Ledger interface {
	CheckAndReserveGlobal(ctx context.Context, estimate float64) (*budget.GlobalDecision, error)
	CheckAndReserveIdentity(ctx context.Context, ip string, estimate float64) (*budget.IdentityDecision, error)
	CheckAndReserveUser(ctx context.Context, userID string) (*budget.PlanDecision, error)
}

// Model is a text-generation collaborator.
type Model interface {
	Name() string
	Complete(ctx context.Context, question string) (string, error)
}

// UsageRecorder is the usage meter collaborator.
type UsageRecorder interface {
	Record(ctx context.Context, model string, inputTokens, outputTokens int64)
}

// Deps wires the default strategy chain.
type Deps struct {
	Cache     ResponseCache
	Keywords  Classifier
	Ledger    Ledger
	Cheap     Model
	Expensive Model // optional
	Usage     UsageRecorder

	// Async runs fire-and-forget work. Defaults to starting a goroutine.
	Async func(func())
	// Timeout bounds each call to a non-essential collaborator. Defaults to 2s.
	Timeout time.Duration
}

// Router runs the strategies in order.
type Router struct {
	strategies []Strategy
	fallback   string
}

// New builds the default chain: cache, keywords, quota, cheap model and, when
// configured, expensive model.
func New(d Deps) *Router {
	if d.Async == nil {
		d.Async = func(f func()) { go f() }
	}
	if d.Timeout <= 0 {
		d.Timeout = 2 * time.Second
	}
	bg := &background{async: d.Async, timeout: d.Timeout}

	strategies := []Strategy{
		&cacheStrategy{cache: d.Cache, bg: bg},
		&keywordStrategy{keywords: d.Keywords, cache: d.Cache, bg: bg},
		&quotaStrategy{ledger: d.Ledger},
		&cheapModelStrategy{model: d.Cheap, cache: d.Cache, usage: d.Usage, bg: bg},
	}
	if d.Expensive != nil {
		strategies = append(strategies, &expensiveModelStrategy{model: d.Expensive, cache: d.Cache, usage: d.Usage, bg: bg})
	}

	fallback := "gpt-oss-120b"
	if d.Cheap != nil {
		fallback = d.Cheap.Name()
	}
	return NewWithStrategies(fallback, strategies...)
}

// NewWithStrategies builds a Router over an explicit chain. unavailableModel is
// named in the response when every strategy falls through.
func NewWithStrategies(unavailableModel string, strategies ...Strategy) *Router {
	return &Router{strategies: strategies, fallback: unavailableModel}
}

// Route answers message for identity.
func (r *Router) Route(ctx context.Context, message string, identity models.Identity) (*Result, error) {
	q := &Query{Message: Truncate(message), Identity: identity}

	for _, s := range r.strategies {
		res, err := s.Attempt(ctx, q)
		if err != nil {
			return nil, err
		}
		if res != nil {
			log.WithFields(log.Fields{
				"strategy": s.Name(),
				"status":   res.Status,
				"identity": identity.Kind,
			}).Debug("router: question handled")
			return res, nil
		}
	}

	return Unavailable(r.fallback), nil
}

// Truncate caps message at MaxInputChars characters, appending TruncationMarker
// when anything was cut.
func Truncate(message string) string {
	runes := []rune(message)
	if len(runes) <= MaxInputChars {
		return message
	}
	return string(runes[:MaxInputChars]) + TruncationMarker
}

// Unavailable is the 503 answer naming the model that could not respond.
func Unavailable(model string) *Result {
	return &Result{
		Status: http.StatusServiceUnavailable,
		Body: map[string]any{
			"error":             "AI service temporarily unavailable",
			"message":           model + " is currently unavailable. Please try again in a few minutes.",
			"suggestion":        "Try rephrasing your question or check back shortly.",
			"model_unavailable": model,
		},
	}
}

// background runs best-effort side effects detached from the request.
type background struct {
	async   func(func())
	timeout time.Duration
}

func (b *background) run(name string, f func(ctx context.Context)) {
	b.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				log.WithField("task", name).Errorf("router: background task panicked: %v", r)
			}
		}()
		f(ctx)
	})
}
