// Package api implements the HTTP endpoints of the tutor gateway.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/analytics"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/config"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/conversations"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/keywords"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/middleware"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/responsecache"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/router"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/usage"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/pkg/models"
)

const version = "0.1.0"

// ChatRouter answers chat messages.
type ChatRouter interface {
	Route(ctx context.Context, message string, identity models.Identity) (*router.Result, error)
}

// CacheService is the response cache as exposed over HTTP.
type CacheService interface {
	Get(ctx context.Context, q string) (*responsecache.Lookup, error)
	Set(ctx context.Context, q, response string) error
	Increment(ctx context.Context, q string)
}

// Options are the identity and client settings of the handlers.
type Options struct {
	IdentityMode    string // config.IdentityModeIP or config.IdentityModeUser
	LoginURL        string
	SupabaseURL     string
	SupabaseAnonKey string
	// TrustBodyUserID accepts user_id from request bodies. Only set when no JWT
	// secret is configured.
	TrustBodyUserID bool
}

// Deps are the collaborators behind the endpoints. Nil collaborators make the
// corresponding endpoints answer 500.
type Deps struct {
	Router        ChatRouter
	Cache         CacheService
	Keywords      router.Classifier
	Ledger        router.Ledger
	Monitor       *analytics.Monitor
	Usage         *usage.Meter
	Conversations *conversations.Log
}

// Handlers provides the endpoint handlers.
type Handlers struct {
	d    Deps
	opts Options
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(d Deps, opts Options) *Handlers {
	if opts.IdentityMode == "" {
		opts.IdentityMode = config.IdentityModeIP
	}
	return &Handlers{d: d, opts: opts}
}

// Register mounts every endpoint on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)
	r.GET("/config", h.Config)

	r.POST("/chat", h.Chat)
	r.POST("/cache", h.Cache)
	r.POST("/keywords", h.Keywords)
	r.POST("/usage", h.Usage)
	r.POST("/global-usage", h.GlobalUsage)
	r.GET("/monitoring", h.Monitoring)
	r.GET("/workers-ai-usage", h.WorkersAIUsage)
	r.POST("/workers-ai-usage", h.WorkersAIUsage)
	r.POST("/conversations", h.StoreConversation)
	r.GET("/conversations", h.ListConversations)
}

// HealthCheck returns the service health status.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"service":       "tutor",
		"version":       version,
		"identity_mode": h.opts.IdentityMode,
	})
}

func internalError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "Internal server error",
		"details": err.Error(),
	})
}

// resolveUser returns the caller's user id from a verified session or, when
// trusted, from the request body.
func (h *Handlers) resolveUser(c *gin.Context, bodyUserID string) (string, bool) {
	if id, ok := middleware.UserID(c); ok {
		return id, true
	}
	if h.opts.TrustBodyUserID && bodyUserID != "" {
		return bodyUserID, true
	}
	return "", false
}

type chatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

// Chat answers a tutoring question.
func (h *Handlers) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is required"})
		return
	}
	if h.d.Router == nil {
		internalError(c, errors.New("chat router not configured"))
		return
	}

	identity := models.Identity{Kind: models.IdentityIP, Key: c.ClientIP()}
	if h.opts.IdentityMode == config.IdentityModeUser {
		userID, ok := h.resolveUser(c, req.UserID)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":     "Authentication required",
				"message":   "Please sign in to keep asking questions.",
				"login_url": h.opts.LoginURL,
			})
			return
		}
		identity = models.Identity{Kind: models.IdentityUser, Key: userID}
	}

	res, err := h.d.Router.Route(c.Request.Context(), req.Message, identity)
	if err != nil {
		log.WithError(err).WithField("identity", identity.Kind).Error("api: chat failed")
		internalError(c, err)
		return
	}
	c.JSON(res.Status, res.Body)
}

type cacheRequest struct {
	Action   string `json:"action"`
	Query    string `json:"query"`
	Response string `json:"response"`
}

// Cache exposes get, set and increment on the response cache.
func (h *Handlers) Cache(c *gin.Context) {
	var req cacheRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if h.d.Cache == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cache not configured"})
		return
	}
	ctx := c.Request.Context()

	switch req.Action {
	case "get":
		lookup, err := h.d.Cache.Get(ctx, req.Query)
		if err != nil {
			log.WithError(err).Warn("api: cache get failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Cache operation failed"})
			return
		}
		if !lookup.Hit {
			c.JSON(http.StatusOK, gin.H{"cached": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"cached":     true,
			"response":   lookup.Response,
			"similarity": lookup.Similarity,
		})
	case "set":
		if req.Response == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Response required for caching"})
			return
		}
		if err := h.d.Cache.Set(ctx, req.Query, req.Response); err != nil {
			log.WithError(err).Warn("api: cache set failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Cache operation failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cached": true})
	case "increment":
		h.d.Cache.Increment(ctx, req.Query)
		c.JSON(http.StatusOK, gin.H{"incremented": true})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid action"})
	}
}

// Keywords classifies a query without answering it through a model.
func (h *Handlers) Keywords(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		internalError(c, err)
		return
	}
	query := gjson.GetBytes(raw, "query")
	if query.Type != gjson.String || query.Str == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query required"})
		return
	}
	if h.d.Keywords == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"useAI": true, "error": "Keyword processing failed"})
		return
	}

	res := h.d.Keywords.Classify(query.Str)
	body := gin.H{"useAI": res.UseModel}
	if res.UseModel {
		body["reason"] = res.Reason
		if res.Reason == keywords.ReasonNoMatch {
			body["queryLength"] = res.QueryLength
		}
	} else {
		body["response"] = res.Response
		body["type"] = res.MatchType
		if res.Confidence != nil {
			body["confidence"] = *res.Confidence
		}
	}
	c.JSON(http.StatusOK, body)
}

type usageRequest struct {
	IPAddress    string  `json:"ip_address"`
	CostEstimate float64 `json:"cost_estimate"`
	UserID       string  `json:"user_id"`
}

// Usage checks and reserves one question against the caller's daily budget:
// by IP address in ip mode, by plan in user mode.
func (h *Handlers) Usage(c *gin.Context) {
	var req usageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if h.d.Ledger == nil {
		internalError(c, errors.New("quota ledger not configured"))
		return
	}
	ctx := c.Request.Context()

	if h.opts.IdentityMode == config.IdentityModeUser {
		userID, ok := h.resolveUser(c, req.UserID)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "User ID required"})
			return
		}
		d, err := h.d.Ledger.CheckAndReserveUser(ctx, userID)
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"allowed":   d.Allowed,
			"remaining": d.Remaining,
			"limit":     d.Limit,
			"plan":      d.Plan,
			"resetTime": "tomorrow",
		})
		return
	}

	if req.IPAddress == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "IP address required"})
		return
	}
	d, err := h.d.Ledger.CheckAndReserveIdentity(ctx, req.IPAddress, req.CostEstimate)
	if err != nil {
		internalError(c, err)
		return
	}
	body := gin.H{
		"allowed":      d.Allowed,
		"remaining":    d.Remaining,
		"limit":        d.Limit,
		"current_cost": d.CurrentCost,
		"daily_budget": d.DailyBudget,
		"resetTime":    "tomorrow",
	}
	if d.Allowed {
		body["remaining_budget"] = d.RemainingBudget
	}
	c.JSON(http.StatusOK, body)
}

// GlobalUsage checks and reserves one question against the platform budget.
func (h *Handlers) GlobalUsage(c *gin.Context) {
	if h.d.Ledger == nil {
		internalError(c, errors.New("quota ledger not configured"))
		return
	}
	d, err := h.d.Ledger.CheckAndReserveGlobal(c.Request.Context(), budget.DefaultCostEstimate)
	if err != nil {
		internalError(c, err)
		return
	}
	if !d.Allowed {
		c.JSON(http.StatusOK, gin.H{
			"allowed":             false,
			"reason":              "global_limit_reached",
			"message":             "Daily platform limit reached ($10). Service will resume tomorrow.",
			"current_global_cost": d.CurrentCost,
			"global_limit":        d.Limit,
			"reset_time":          "tomorrow",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"allowed":                 true,
		"current_global_cost":     d.CurrentCost,
		"remaining_global_budget": d.RemainingBudget,
		"global_limit":            d.Limit,
		"questions_served_today":  d.QuestionsServed,
	})
}

// Monitoring reports platform spend over the last days (default 7).
// Query params: days, detailed (true|false)
func (h *Handlers) Monitoring(c *gin.Context) {
	if h.d.Monitor == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Database configuration missing",
			"message": "Monitoring requires database access",
		})
		return
	}
	days, err := strconv.Atoi(c.Query("days"))
	if err != nil || days == 0 {
		days = analytics.DefaultDays
	}

	report, err := h.d.Monitor.GenerateReport(c.Request.Context(), analytics.Options{
		Days:         days,
		Detailed:     c.Query("detailed") == "true",
		CacheEnabled: h.d.Cache != nil,
	})
	if err != nil {
		log.WithError(err).Error("api: monitoring report failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Monitoring data unavailable",
			"details": err.Error(),
		})
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.JSON(http.StatusOK, report)
}

// WorkersAIUsage reports model token usage and cost against the daily and
// monthly ceilings. Query param: days (default 1)
func (h *Handlers) WorkersAIUsage(c *gin.Context) {
	if h.d.Usage == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Usage monitoring failed",
			"details": "usage meter not configured",
		})
		return
	}
	days, _ := strconv.Atoi(c.DefaultQuery("days", "1"))

	report, err := h.d.Usage.Report(c.Request.Context(), days)
	if err != nil {
		log.WithError(err).Error("api: usage report failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Usage monitoring failed",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, report)
}

// Config serves the public Supabase client settings.
func (h *Handlers) Config(c *gin.Context) {
	if h.opts.SupabaseURL == "" || h.opts.SupabaseAnonKey == "" {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "Supabase configuration not found",
			"message":    "Please set SUPABASE_URL and SUPABASE_ANON_KEY environment variables",
			"configured": false,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"supabaseUrl":     h.opts.SupabaseURL,
		"supabaseAnonKey": h.opts.SupabaseAnonKey,
		"configured":      true,
	})
}

type conversationRequest struct {
	Action         string `json:"action"`
	FingerprintID  string `json:"fingerprintId"`
	UserMessage    string `json:"userMessage"`
	AIResponse     string `json:"aiResponse"`
	ConversationID string `json:"conversationId"`
}

// StoreConversation handles the store and getDailyCount actions.
func (h *Handlers) StoreConversation(c *gin.Context) {
	var req conversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if h.d.Conversations == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	ctx := c.Request.Context()

	switch req.Action {
	case "store":
		stored, err := h.d.Conversations.Store(ctx, conversations.Exchange{
			FingerprintID:  req.FingerprintID,
			ConversationID: req.ConversationID,
			UserMessage:    req.UserMessage,
			AIResponse:     req.AIResponse,
		})
		if err != nil {
			conversationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":        true,
			"conversationId": stored.ConversationID,
			"dailyCount":     stored.DailyCount,
		})
	case "getDailyCount":
		count, remaining, err := h.d.Conversations.DailyCount(ctx, req.FingerprintID)
		if err != nil {
			conversationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": count, "remaining": remaining})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid action"})
	}
}

// ListConversations returns every conversation (action=list) or one
// fingerprint's history (fingerprintId=...).
func (h *Handlers) ListConversations(c *gin.Context) {
	if h.d.Conversations == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	ctx := c.Request.Context()

	if c.Query("action") == "list" {
		all, err := h.d.Conversations.ListAll(ctx)
		if err != nil {
			conversationError(c, err)
			return
		}
		c.JSON(http.StatusOK, all)
		return
	}
	if fp := c.Query("fingerprintId"); fp != "" {
		convs, err := h.d.Conversations.List(ctx, fp)
		if err != nil {
			conversationError(c, err)
			return
		}
		c.JSON(http.StatusOK, convs)
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "Missing parameters"})
}

func conversationError(c *gin.Context, err error) {
	if errors.Is(err, conversations.ErrMissingFingerprint) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing parameters"})
		return
	}
	log.WithError(err).Error("api: conversations request failed")
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
