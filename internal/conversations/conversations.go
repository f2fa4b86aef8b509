// Package conversations keeps a per-device log of chat exchanges and a daily
// exchange counter, both keyed by a browser fingerprint.
package conversations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/bigdegenenergy/open-cloud-ops/tutor/pkg/models"
)

const (
	// DailyLimit is the number of exchanges a fingerprint may store per day.
	DailyLimit = 25

	logPrefix   = "conversations_"
	countPrefix = "daily_count_"

	// Counters outlive their day so that late reads around midnight still see them.
	countTTL = 48 * time.Hour

	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// ErrMissingFingerprint is returned when no fingerprint id was supplied.
var ErrMissingFingerprint = errors.New("conversations: fingerprintId is required")

// KV is the key-value collaborator holding logs and counters.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Exchange is one question and answer to append to a fingerprint's log.
type Exchange struct {
	FingerprintID  string
	ConversationID string
	UserMessage    string
	AIResponse     string
}

// Stored is the acknowledgment of Store.
type Stored struct {
	ConversationID string `json:"conversationId"`
	DailyCount     int64  `json:"dailyCount"`
}

// Log stores conversations.
type Log struct {
	kv  KV
	now func() time.Time
}

// New creates a Log over kv. A nil clock defaults to time.Now.
func New(kv KV, now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{kv: kv, now: now}
}

func countKey(fingerprint, date string) string {
	return countPrefix + fingerprint + "_" + date
}

// Store appends the exchange to the fingerprint's log and bumps today's counter.
// A missing conversation id is replaced by a new UUID.
func (l *Log) Store(ctx context.Context, ex Exchange) (*Stored, error) {
	if ex.FingerprintID == "" {
		return nil, ErrMissingFingerprint
	}
	now := l.now().UTC()
	today := now.Format("2006-01-02")

	conv := models.Conversation{
		ID:            ex.ConversationID,
		Timestamp:     now.Format(timestampLayout),
		Date:          today,
		UserMessage:   ex.UserMessage,
		AIResponse:    ex.AIResponse,
		FingerprintID: ex.FingerprintID,
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}

	key := logPrefix + ex.FingerprintID
	existing, err := l.read(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(append(existing, conv))
	if err != nil {
		return nil, fmt.Errorf("conversations: encode: %w", err)
	}
	if err := l.kv.Set(ctx, key, string(data), 0); err != nil {
		return nil, fmt.Errorf("conversations: write log: %w", err)
	}

	count, err := l.kv.Incr(ctx, countKey(ex.FingerprintID, today), countTTL)
	if err != nil {
		return nil, fmt.Errorf("conversations: bump daily count: %w", err)
	}

	log.WithFields(log.Fields{
		"fingerprint": ex.FingerprintID,
		"daily_count": count,
	}).Debug("conversations: stored exchange")

	return &Stored{ConversationID: conv.ID, DailyCount: count}, nil
}

// DailyCount returns today's exchange count for a fingerprint and how many
// remain under DailyLimit.
func (l *Log) DailyCount(ctx context.Context, fingerprint string) (count, remaining int64, err error) {
	if fingerprint == "" {
		return 0, 0, ErrMissingFingerprint
	}
	raw, err := l.kv.Get(ctx, countKey(fingerprint, l.now().UTC().Format("2006-01-02")))
	if err != nil {
		return 0, 0, fmt.Errorf("conversations: read daily count: %w", err)
	}
	if raw != "" {
		if _, err := fmt.Sscan(raw, &count); err != nil {
			return 0, 0, fmt.Errorf("conversations: parse daily count %q: %w", raw, err)
		}
	}
	return count, max(0, DailyLimit-count), nil
}

// List returns the stored exchanges of one fingerprint in insertion order.
func (l *Log) List(ctx context.Context, fingerprint string) ([]models.Conversation, error) {
	if fingerprint == "" {
		return nil, ErrMissingFingerprint
	}
	return l.read(ctx, logPrefix+fingerprint)
}

// ListAll returns every stored exchange, newest first.
func (l *Log) ListAll(ctx context.Context) ([]models.Conversation, error) {
	keys, err := l.kv.Keys(ctx, logPrefix)
	if err != nil {
		return nil, fmt.Errorf("conversations: list keys: %w", err)
	}

	all := []models.Conversation{}
	for _, key := range keys {
		convs, err := l.read(ctx, key)
		if err != nil {
			return nil, err
		}
		all = append(all, convs...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return parseTimestamp(all[i].Timestamp).After(parseTimestamp(all[j].Timestamp))
	})
	return all, nil
}

func (l *Log) read(ctx context.Context, key string) ([]models.Conversation, error) {
	raw, err := l.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("conversations: read %s: %w", key, err)
	}
	convs := []models.Conversation{}
	if raw == "" {
		return convs, nil
	}
	if err := json.Unmarshal([]byte(raw), &convs); err != nil {
		return nil, fmt.Errorf("conversations: decode %s: %w", key, err)
	}
	return convs, nil
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
