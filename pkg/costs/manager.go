package costs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/quotaflow-ai/quotaflow/pkg/bucket"
	"github.com/quotaflow-ai/quotaflow/pkg/journal"
	"github.com/quotaflow-ai/quotaflow/pkg/models"
)

// ErrUnknownModel is returned when an operation references a model that was
// never registered. This is a configuration error, distinct from a capacity
// denial, which is reported as data.
var ErrUnknownModel = errors.New("model not registered")

// Config configures a Manager.
type Config struct {
	// DailyTokenAllocation is the base daily quota for every user.
	DailyTokenAllocation int64

	// ResetHourUTC is the hour of day (0-23, UTC) at which allocations
	// reset.
	ResetHourUTC int

	// PremiumAllocations holds extra per-user daily tokens.
	PremiumAllocations map[string]int64

	// OnExhausted is passed through to the underlying bucket.
	OnExhausted func(userID string)

	// Journal, if set, receives an audit entry for every allowed charge,
	// refund, and grant. Journal failures are logged and never fail the
	// operation.
	Journal journal.Journal

	// Logger receives structured logs. Nil disables logging.
	Logger *zap.Logger
}

// Manager translates per-model, asymmetric input/output pricing into a
// single fungible token currency managed by one bucket, and picks models
// under a budget and capability constraint.
type Manager struct {
	bucket  *bucket.Bucket
	journal journal.Journal
	log     *zap.Logger

	mu       sync.RWMutex
	registry map[string]models.ModelInfo
	order    []string
}

// New creates a Manager and its underlying token bucket.
func New(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		bucket: bucket.New(bucket.Config{
			DailyTokenAllocation: cfg.DailyTokenAllocation,
			ResetHourUTC:         cfg.ResetHourUTC,
			BonusTokens:          cfg.PremiumAllocations,
			OnExhausted:          cfg.OnExhausted,
			Logger:               cfg.Logger,
		}),
		journal:  cfg.Journal,
		log:      log,
		registry: make(map[string]models.ModelInfo),
	}
}

// RegisterModel upserts a model into the catalog. Re-registering an ID
// replaces its pricing but keeps its position in catalog order.
func (m *Manager) RegisterModel(info models.ModelInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registry[info.ID]; !ok {
		m.order = append(m.order, info.ID)
	}
	m.registry[info.ID] = info
}

// RegisterModels upserts several models at once.
func (m *Manager) RegisterModels(infos []models.ModelInfo) {
	for _, info := range infos {
		m.RegisterModel(info)
	}
}

// Models returns the catalog in registration order.
func (m *Manager) Models() []models.ModelInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ModelInfo, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.registry[id])
	}
	return out
}

// CanUseModel checks whether a user can afford a call to the given model
// and charges the estimated cost in the same step. A denial carries the
// estimate and the time until the next refill; an unknown model is an
// error, not a denial.
func (m *Manager) CanUseModel(ctx context.Context, userID, modelID string, inputTokens, estimatedOutputTokens int64) (models.CheckResult, error) {
	info, err := m.model(modelID)
	if err != nil {
		return models.CheckResult{}, err
	}
	cost, err := tokenCost(info, inputTokens, estimatedOutputTokens)
	if err != nil {
		return models.CheckResult{}, err
	}

	res, err := m.bucket.RequestTokens(userID, cost, modelID)
	if err != nil {
		return models.CheckResult{}, err
	}
	if res.Allowed {
		m.journalRecord(ctx, models.JournalEntry{
			UserID:       userID,
			ModelID:      modelID,
			Kind:         models.JournalCharge,
			Tokens:       cost,
			InputTokens:  inputTokens,
			OutputTokens: estimatedOutputTokens,
		})
	}
	return models.CheckResult{
		Allowed:         res.Allowed,
		RemainingTokens: res.RemainingTokens,
		EstimatedCost:   cost,
		TimeUntilRefill: res.TimeUntilRefill,
	}, nil
}

// RecordActualUsage reconciles an earlier estimated charge against the
// call's actual token counts and returns the refunded amount. A refund is
// granted as bonus tokens, so it raises the user's allocation for the rest
// of the period. Underestimates are absorbed, never billed retroactively.
func (m *Manager) RecordActualUsage(ctx context.Context, userID, modelID string, actualInput, actualOutput, estimatedInput, estimatedOutput int64) (int64, error) {
	info, err := m.model(modelID)
	if err != nil {
		return 0, err
	}
	actual, err := tokenCost(info, actualInput, actualOutput)
	if err != nil {
		return 0, err
	}
	estimated, err := tokenCost(info, estimatedInput, estimatedOutput)
	if err != nil {
		return 0, err
	}

	if estimated <= actual {
		return 0, nil
	}
	refund := estimated - actual
	if err := m.bucket.AddBonusTokens(userID, refund); err != nil {
		return 0, err
	}
	m.journalRecord(ctx, models.JournalEntry{
		UserID:       userID,
		ModelID:      modelID,
		Kind:         models.JournalRefund,
		Tokens:       refund,
		InputTokens:  actualInput,
		OutputTokens: actualOutput,
	})
	m.log.Debug("usage reconciled",
		zap.String("user", userID),
		zap.String("model", modelID),
		zap.Int64("estimated_cost", estimated),
		zap.Int64("actual_cost", actual),
		zap.Int64("refund", refund))
	return refund, nil
}

// FindAffordableModel returns the most rate-efficient model that carries
// every required feature and whose estimated cost fits the user's current
// balance, or nil when none qualifies. The search is read-only: nothing is
// charged. Among candidates the lowest cost per combined token wins, so a
// pricier model serving a larger combined count can beat a nominally
// cheaper one; exact rate ties go to the earlier-registered model.
func (m *Manager) FindAffordableModel(userID string, requiredFeatures []string, inputTokens, estimatedOutputTokens int64) (*models.ModelChoice, error) {
	if inputTokens < 0 || estimatedOutputTokens < 0 {
		return nil, fmt.Errorf("find affordable model: negative token counts (%d, %d)", inputTokens, estimatedOutputTokens)
	}
	balance := m.bucket.Balance(userID)

	m.mu.RLock()
	defer m.mu.RUnlock()

	combined := inputTokens + estimatedOutputTokens
	var best *models.ModelChoice
	var bestRate float64
	for _, id := range m.order {
		info := m.registry[id]
		if !info.HasFeatures(requiredFeatures) {
			continue
		}
		cost, err := tokenCost(info, inputTokens, estimatedOutputTokens)
		if err != nil {
			return nil, err
		}
		if cost > balance.RemainingTokens {
			continue
		}
		rate := 0.0
		if combined > 0 {
			rate = float64(cost) / float64(combined)
		}
		if best == nil || rate < bestRate {
			best = &models.ModelChoice{
				ModelID:         id,
				RemainingTokens: balance.RemainingTokens - cost,
				EstimatedCost:   cost,
			}
			bestRate = rate
		}
	}
	return best, nil
}

// EstimateCost returns the bucket charge for a prospective call without
// touching any balance.
func (m *Manager) EstimateCost(modelID string, inputTokens, outputTokens int64) (int64, error) {
	info, err := m.model(modelID)
	if err != nil {
		return 0, err
	}
	return tokenCost(info, inputTokens, outputTokens)
}

// EstimateTokenCount approximates the token count of text at roughly four
// characters per token. It is a fixed approximation, not a tokenizer;
// callers should treat the result as an estimate with a known accuracy
// bound, reconciled later via RecordActualUsage.
func (m *Manager) EstimateTokenCount(text string) int64 {
	return int64((len(text) + 3) / 4)
}

// Balance returns the user's current bucket standing.
func (m *Manager) Balance(userID string) models.Balance {
	return m.bucket.Balance(userID)
}

// UsageStats returns the user's counters and usage history.
func (m *Manager) UsageStats(userID string) models.UsageStats {
	return m.bucket.UsageStats(userID)
}

// AddUserTokens grants extra tokens to a user's daily allocation.
func (m *Manager) AddUserTokens(ctx context.Context, userID string, tokens int64) error {
	if err := m.bucket.AddBonusTokens(userID, tokens); err != nil {
		return err
	}
	m.journalRecord(ctx, models.JournalEntry{
		UserID: userID,
		Kind:   models.JournalGrant,
		Tokens: tokens,
	})
	return nil
}

// ResetUserBucket restores a user's full allocation.
func (m *Manager) ResetUserBucket(userID string) {
	m.bucket.ResetUserBucket(userID)
}

func (m *Manager) model(modelID string) (models.ModelInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.registry[modelID]
	if !ok {
		return models.ModelInfo{}, fmt.Errorf("model %q: %w", modelID, ErrUnknownModel)
	}
	return info, nil
}

func (m *Manager) journalRecord(ctx context.Context, e models.JournalEntry) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Record(ctx, e); err != nil {
		m.log.Warn("journal write failed",
			zap.String("user", e.UserID),
			zap.String("kind", string(e.Kind)),
			zap.Error(err))
	}
}

// tokenCost converts a call's token counts into a whole-token bucket
// charge. Rates are per 1K tokens, so the per-mille scaling and the
// conversion back to whole tokens cancel out: the charge is the token count
// times the configured rate, rounded up.
func tokenCost(info models.ModelInfo, inputTokens, outputTokens int64) (int64, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return 0, fmt.Errorf("token cost for %q: negative token counts (%d, %d)", info.ID, inputTokens, outputTokens)
	}
	cost := float64(inputTokens)*info.InputTokenCost + float64(outputTokens)*info.OutputTokenCost
	return int64(math.Ceil(cost)), nil
}
