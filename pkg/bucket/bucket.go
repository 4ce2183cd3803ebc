package bucket

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quotaflow-ai/quotaflow/pkg/models"
)

// historyLimit caps the per-user usage history.
const historyLimit = 1000

// Config configures a Bucket.
type Config struct {
	// DailyTokenAllocation is the base daily quota for every user.
	DailyTokenAllocation int64

	// ResetHourUTC is the hour of day (0-23, UTC) at which allocations
	// reset. Zero means midnight UTC.
	ResetHourUTC int

	// BonusTokens holds initial per-user extra allocations.
	BonusTokens map[string]int64

	// OnExhausted, if set, is called when a request is denied against a
	// still-full bucket, i.e. a single request that alone exceeds the whole
	// daily quota. It deliberately does not fire on gradual exhaustion
	// through many small requests. The hook runs synchronously on the
	// caller's goroutine and must not call back into the bucket.
	OnExhausted func(userID string)

	// Logger receives structured logs. Nil disables logging.
	Logger *zap.Logger
}

// userBucket is one user's allocation ledger for the current period.
type userBucket struct {
	remaining  int64
	allocation int64
	lastRefill time.Time
}

// userUsage tracks a user's activity. Counters reset with the bucket; the
// history does not.
type userUsage struct {
	tokensToday   int64
	requestsToday int64
	history       []models.UsageEntry
}

// Bucket enforces a per-user daily token ceiling with a lazily evaluated
// scheduled reset. There is no background timer: boundary crossings are
// detected on every read or write touching a user's ledger, so multiple
// missed resets collapse into one. State is process-lifetime only; a
// restart hands every user a fresh full allocation.
type Bucket struct {
	allocation  int64
	resetHour   int
	onExhausted func(string)
	log         *zap.Logger

	mu      sync.Mutex
	bonus   map[string]int64
	buckets map[string]*userBucket
	usage   map[string]*userUsage

	now func() time.Time
}

// New creates a Bucket from cfg. The bonus map is copied.
func New(cfg Config) *Bucket {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	bonus := make(map[string]int64, len(cfg.BonusTokens))
	for id, n := range cfg.BonusTokens {
		bonus[id] = n
	}
	return &Bucket{
		allocation:  cfg.DailyTokenAllocation,
		resetHour:   cfg.ResetHourUTC,
		onExhausted: cfg.OnExhausted,
		log:         log,
		bonus:       bonus,
		buckets:     make(map[string]*userBucket),
		usage:       make(map[string]*userUsage),
		now:         time.Now,
	}
}

// RequestTokens atomically checks and deducts tokens from a user's bucket.
// A denial is reported as data, not an error, and leaves the balance
// untouched. Negative token counts are rejected.
func (b *Bucket) RequestTokens(userID string, tokens int64, modelID string) (models.RequestResult, error) {
	if tokens < 0 {
		return models.RequestResult{}, fmt.Errorf("request tokens: negative count %d for user %s", tokens, userID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ub := b.userBucket(userID)
	b.refillIfDue(userID, ub)

	if ub.remaining < tokens {
		wait := b.untilNextRefill()
		if ub.remaining == ub.allocation && b.onExhausted != nil {
			b.onExhausted(userID)
		}
		b.log.Warn("token request denied",
			zap.String("user", userID),
			zap.String("model", modelID),
			zap.Int64("requested", tokens),
			zap.Int64("remaining", ub.remaining),
			zap.Duration("refill_in", wait))
		return models.RequestResult{
			Allowed:         false,
			RemainingTokens: ub.remaining,
			TimeUntilRefill: wait,
		}, nil
	}

	ub.remaining -= tokens
	b.recordUsage(userID, tokens, modelID)
	b.log.Debug("tokens charged",
		zap.String("user", userID),
		zap.String("model", modelID),
		zap.Int64("tokens", tokens),
		zap.Int64("remaining", ub.remaining))

	return models.RequestResult{Allowed: true, RemainingTokens: ub.remaining}, nil
}

// Balance returns the user's current standing. Like RequestTokens, it runs
// the lazy refill check first, so a read can trigger a reset.
func (b *Bucket) Balance(userID string) models.Balance {
	b.mu.Lock()
	defer b.mu.Unlock()

	ub := b.userBucket(userID)
	b.refillIfDue(userID, ub)
	u := b.userUsage(userID)

	pct := 0
	if ub.allocation > 0 {
		pct = int(math.Round(float64(ub.remaining) / float64(ub.allocation) * 100))
	}

	return models.Balance{
		RemainingTokens:  ub.remaining,
		DailyAllocation:  ub.allocation,
		UsedToday:        u.tokensToday,
		PercentRemaining: pct,
		TimeUntilRefill:  b.untilNextRefill(),
	}
}

// UsageStats returns the user's counters and history. History entries are
// returned oldest first, annotated with RFC 3339 dates.
func (b *Bucket) UsageStats(userID string) models.UsageStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	ub := b.userBucket(userID)
	u := b.userUsage(userID)

	history := make([]models.HistoryEntry, len(u.history))
	for i, e := range u.history {
		history[i] = models.HistoryEntry{
			UsageEntry: e,
			Date:       e.Timestamp.UTC().Format(time.RFC3339),
		}
	}

	return models.UsageStats{
		RequestsToday:   u.requestsToday,
		TokensUsedToday: u.tokensToday,
		DailyAllocation: ub.allocation,
		RemainingTokens: ub.remaining,
		History:         history,
	}
}

// AddBonusTokens raises a user's daily allocation. Grants accumulate. If the
// user already has a live bucket, the delta becomes spendable immediately;
// remaining and allocation rise together, so remaining never exceeds the
// allocation.
func (b *Bucket) AddBonusTokens(userID string, tokens int64) error {
	if tokens < 0 {
		return fmt.Errorf("add bonus tokens: negative count %d for user %s", tokens, userID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.bonus[userID] += tokens
	if ub, ok := b.buckets[userID]; ok {
		old := ub.allocation
		ub.allocation = b.allocation + b.bonus[userID]
		ub.remaining += ub.allocation - old
	}
	b.log.Info("bonus tokens granted",
		zap.String("user", userID),
		zap.Int64("tokens", tokens),
		zap.Int64("total_bonus", b.bonus[userID]))
	return nil
}

// ResetUserBucket restores the user's full allocation and zeroes the daily
// counters. The usage history is preserved.
func (b *Bucket) ResetUserBucket(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset(userID)
}

// userBucket returns the user's ledger, materializing it with a full
// allocation on first touch. Callers must hold b.mu.
func (b *Bucket) userBucket(userID string) *userBucket {
	if ub, ok := b.buckets[userID]; ok {
		return ub
	}
	alloc := b.allocation + b.bonus[userID]
	ub := &userBucket{
		remaining:  alloc,
		allocation: alloc,
		lastRefill: b.now().UTC(),
	}
	b.buckets[userID] = ub
	return ub
}

// userUsage returns the user's usage tracking, created lazily and
// independently of the bucket. Callers must hold b.mu.
func (b *Bucket) userUsage(userID string) *userUsage {
	if u, ok := b.usage[userID]; ok {
		return u
	}
	u := &userUsage{}
	b.usage[userID] = u
	return u
}

// refillIfDue resets the user's bucket when the last refill precedes
// today's reset instant and the current time is at or past it. Only the
// boundary crossing matters, so any number of missed resets collapses into
// one. Callers must hold b.mu.
func (b *Bucket) refillIfDue(userID string, ub *userBucket) {
	now := b.now().UTC()
	todayReset := b.resetInstant(now)
	if ub.lastRefill.Before(todayReset) && !now.Before(todayReset) {
		b.reset(userID)
	}
}

// reset restores the full allocation and zeroes counters in place. Callers
// must hold b.mu.
func (b *Bucket) reset(userID string) {
	alloc := b.allocation + b.bonus[userID]
	ub, ok := b.buckets[userID]
	if !ok {
		ub = &userBucket{}
		b.buckets[userID] = ub
	}
	ub.remaining = alloc
	ub.allocation = alloc
	ub.lastRefill = b.now().UTC()

	u := b.userUsage(userID)
	u.tokensToday = 0
	u.requestsToday = 0

	b.log.Info("bucket reset", zap.String("user", userID), zap.Int64("allocation", alloc))
}

// recordUsage appends a history entry and bumps the daily counters,
// trimming history to the most recent entries. Callers must hold b.mu.
func (b *Bucket) recordUsage(userID string, tokens int64, modelID string) {
	u := b.userUsage(userID)
	u.tokensToday += tokens
	u.requestsToday++
	u.history = append(u.history, models.UsageEntry{
		Timestamp: b.now().UTC(),
		Tokens:    tokens,
		ModelID:   modelID,
	})
	if len(u.history) > historyLimit {
		trimmed := make([]models.UsageEntry, historyLimit)
		copy(trimmed, u.history[len(u.history)-historyLimit:])
		u.history = trimmed
	}
}

// resetInstant returns today's reset time for the day containing now.
func (b *Bucket) resetInstant(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), b.resetHour, 0, 0, 0, time.UTC)
}

// untilNextRefill returns the time to the next reset boundary: today's
// reset instant if it has not passed yet, otherwise tomorrow's.
func (b *Bucket) untilNextRefill() time.Duration {
	now := b.now().UTC()
	todayReset := b.resetInstant(now)
	if now.Before(todayReset) {
		return todayReset.Sub(now)
	}
	return todayReset.AddDate(0, 0, 1).Sub(now)
}
