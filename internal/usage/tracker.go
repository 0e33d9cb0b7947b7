package usage

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/theirongolddev/chatstate/internal/config"
	"github.com/theirongolddev/chatstate/internal/model"
	"github.com/theirongolddev/chatstate/internal/store"
)

// Prompt cache lifetimes by write class.
const (
	cacheTTL5m = 5 * time.Minute
	cacheTTL1h = time.Hour
)

// ErrTurnFinished is returned when a turn is finished twice.
var ErrTurnFinished = errors.New("turn already finished")

// TurnStore is what a Tracker needs from the conversation backend.
type TurnStore interface {
	store.ExchangeStore
	GetConversationState(ctx context.Context, chatID string) (model.ChatSession, bool, error)
	UpdateCacheInfo(ctx context.Context, chatID string, info model.CacheInfo) error
}

// Tracker opens one exchange per agent turn and prices it when the turn ends.
type Tracker struct {
	st     TurnStore
	pricer *Pricer
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker returns a Tracker recording into st.
func NewTracker(st TurnStore, pricer *Pricer, logger *slog.Logger) *Tracker {
	if pricer == nil {
		pricer = NewPricer(config.PricingOverrides{})
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tracker{st: st, pricer: pricer, logger: logger, now: time.Now}
}

// Turn is an open exchange.
type Turn struct {
	tracker *Tracker

	mu       sync.Mutex
	exchange model.Exchange
	finished bool
}

// Begin records the start of a turn for chatID.
func (t *Tracker) Begin(ctx context.Context, chatID, modelName, request string) (*Turn, error) {
	ex, err := t.st.BeginExchange(ctx, chatID, modelName, request)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("turn started", "chat_id", chatID, "exchange_id", ex.ExchangeID, "model", modelName)
	return &Turn{tracker: t, exchange: ex}, nil
}

// Exchange returns a snapshot of the turn's exchange record.
func (turn *Turn) Exchange() model.Exchange {
	turn.mu.Lock()
	defer turn.mu.Unlock()
	return turn.exchange
}

// Finish prices u, finalizes the exchange, and refreshes the chat's cache
// info when the call wrote or read the prompt cache.
func (turn *Turn) Finish(ctx context.Context, u model.Usage) (model.Cost, error) {
	turn.mu.Lock()
	defer turn.mu.Unlock()
	if turn.finished {
		return model.Cost{}, ErrTurnFinished
	}

	t := turn.tracker
	end := t.now()
	cost := t.pricer.Cost(turn.exchange.Model, u)
	if !cost.Priced {
		t.logger.Warn("no pricing for model, recording tokens only", "model", turn.exchange.Model)
	}
	if err := t.st.FinishExchange(ctx, turn.exchange.ExchangeID, cost, end); err != nil {
		return model.Cost{}, err
	}
	turn.exchange.Cost = cost
	turn.exchange.End = end
	turn.finished = true

	if info, ok := CacheInfoFromUsage(turn.exchange.Model, u, end); ok {
		if err := t.refreshCacheInfo(ctx, turn.exchange.ChatID, info); err != nil {
			return cost, err
		}
	}

	t.logger.Debug("turn finished",
		"chat_id", turn.exchange.ChatID,
		"exchange_id", turn.exchange.ExchangeID,
		"tokens", u.TotalTokens(),
		"cost_usd", cost.EstimatedCost,
	)
	return cost, nil
}

// refreshCacheInfo stores info for chatID, keeping the breakpoints already
// recorded for the chat. Usage carries token counts only.
func (t *Tracker) refreshCacheInfo(ctx context.Context, chatID string, info model.CacheInfo) error {
	prev, found, err := t.st.GetConversationState(ctx, chatID)
	if err != nil {
		return err
	}
	if found && prev.CacheInfo != nil && len(prev.CacheInfo.Breakpoints) > 0 {
		info.Breakpoints = append([]model.CacheBreakpoint(nil), prev.CacheInfo.Breakpoints...)
	}
	return t.st.UpdateCacheInfo(ctx, chatID, info)
}

// CacheInfoFromUsage derives prompt-cache metadata from a call's usage.
// ok is false when the call neither wrote nor read the cache.
func CacheInfoFromUsage(modelName string, u model.Usage, at time.Time) (model.CacheInfo, bool) {
	written := u.CacheCreation5mTokens + u.CacheCreation1hTokens
	if written == 0 && u.CacheReadTokens == 0 {
		return model.CacheInfo{}, false
	}
	ttl := cacheTTL5m
	if u.CacheCreation1hTokens > 0 {
		ttl = cacheTTL1h
	}
	return model.CacheInfo{
		Provider:            providerFor(modelName),
		TokensCached:        written + u.CacheReadTokens,
		CacheCreationTokens: written,
		CacheReadTokens:     u.CacheReadTokens,
		ExpiresAt:           at.Add(ttl).UTC(),
	}, true
}

func providerFor(modelName string) string {
	switch {
	case strings.HasPrefix(modelName, "claude"):
		return "anthropic"
	case strings.HasPrefix(modelName, "gpt"), strings.HasPrefix(modelName, "o1"),
		strings.HasPrefix(modelName, "o3"), strings.HasPrefix(modelName, "o4"):
		return "openai"
	case strings.HasPrefix(modelName, "gemini"):
		return "google"
	default:
		return ""
	}
}
