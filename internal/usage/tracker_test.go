package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/theirongolddev/chatstate/internal/config"
	"github.com/theirongolddev/chatstate/internal/model"
	"github.com/theirongolddev/chatstate/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(nil)
	t.Cleanup(func() { _ = st.Close() })
	return NewTracker(st, NewPricer(config.PricingOverrides{}), nil), st
}

func TestTrackerBeginFinish(t *testing.T) {
	ctx := context.Background()
	tr, st := newTestTracker(t)
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return end }

	turn, err := tr.Begin(ctx, "c1", "claude-sonnet-4-5", "fix the tests")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if turn.Exchange().ExchangeID == 0 {
		t.Fatal("Begin returned exchange without id")
	}

	cost, err := turn.Finish(ctx, model.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000})
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if !almostEqual(cost.EstimatedCost, 18.0) {
		t.Fatalf("EstimatedCost = %.4f, want 18.0", cost.EstimatedCost)
	}

	exs, err := st.ListExchanges(ctx, "c1")
	if err != nil {
		t.Fatalf("ListExchanges: %v", err)
	}
	if len(exs) != 1 {
		t.Fatalf("got %d exchanges, want 1", len(exs))
	}
	if !exs[0].End.Equal(end) {
		t.Errorf("End = %v, want %v", exs[0].End, end)
	}
	if exs[0].Request != "fix the tests" {
		t.Errorf("Request = %q", exs[0].Request)
	}
	if !almostEqual(exs[0].Cost.EstimatedCost, 18.0) {
		t.Errorf("stored cost = %.4f, want 18.0", exs[0].Cost.EstimatedCost)
	}

	// No cache activity, so no chat row is created.
	if _, ok, _ := st.GetConversationState(ctx, "c1"); ok {
		t.Error("Finish without cache usage created a chat row")
	}
}

func TestTrackerFinishTwice(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)
	turn, err := tr.Begin(ctx, "c1", "gpt-4o", "")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := turn.Finish(ctx, model.Usage{}); err != nil {
		t.Fatalf("first Finish: %v", err)
	}
	if _, err := turn.Finish(ctx, model.Usage{}); !errors.Is(err, ErrTurnFinished) {
		t.Fatalf("second Finish err = %v, want ErrTurnFinished", err)
	}
}

func TestTrackerUpdatesCacheInfo(t *testing.T) {
	ctx := context.Background()
	tr, st := newTestTracker(t)
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return end }

	if err := st.SaveConversationState(ctx, "c1", []model.Message{{Role: model.RoleUser, Content: "hi"}}, model.Metadata{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	turn, err := tr.Begin(ctx, "c1", "claude-opus-4-5-20251101", "")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := turn.Finish(ctx, model.Usage{InputTokens: 10, CacheCreation1hTokens: 100, CacheReadTokens: 20}); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got, ok, err := st.GetConversationState(ctx, "c1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if len(got.Messages) != 1 {
		t.Errorf("messages clobbered: %d", len(got.Messages))
	}
	ci := got.CacheInfo
	if ci == nil {
		t.Fatal("cache info not set")
	}
	if ci.Provider != "anthropic" || ci.TokensCached != 120 || ci.CacheCreationTokens != 100 || ci.CacheReadTokens != 20 {
		t.Errorf("cache info = %+v", *ci)
	}
	if !ci.ExpiresAt.Equal(end.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", ci.ExpiresAt, end.Add(time.Hour))
	}
}

func TestTrackerKeepsCacheBreakpoints(t *testing.T) {
	ctx := context.Background()
	tr, st := newTestTracker(t)

	bps := []model.CacheBreakpoint{{MessageIndex: 3, Tokens: 2048, TTL: "1h"}}
	if err := st.UpdateCacheInfo(ctx, "c1", model.CacheInfo{Provider: "anthropic", Breakpoints: bps}); err != nil {
		t.Fatalf("UpdateCacheInfo: %v", err)
	}
	turn, err := tr.Begin(ctx, "c1", "claude-sonnet-4-5", "")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := turn.Finish(ctx, model.Usage{InputTokens: 10, CacheReadTokens: 2048}); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got, ok, err := st.GetConversationState(ctx, "c1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	ci := got.CacheInfo
	if ci == nil {
		t.Fatal("cache info not set")
	}
	if ci.CacheReadTokens != 2048 {
		t.Errorf("CacheReadTokens = %d, want 2048", ci.CacheReadTokens)
	}
	if len(ci.Breakpoints) != 1 || ci.Breakpoints[0] != bps[0] {
		t.Errorf("Breakpoints = %+v, want %+v", ci.Breakpoints, bps)
	}
}

func TestCacheInfoFromUsage(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, ok := CacheInfoFromUsage("claude-sonnet-4-5", model.Usage{InputTokens: 5}, at); ok {
		t.Fatal("ok for usage without cache activity")
	}
	info, ok := CacheInfoFromUsage("gpt-4o", model.Usage{CacheReadTokens: 64}, at)
	if !ok {
		t.Fatal("!ok for cache read")
	}
	if info.Provider != "openai" {
		t.Errorf("Provider = %q, want openai", info.Provider)
	}
	if !info.ExpiresAt.Equal(at.Add(5 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want 5m TTL", info.ExpiresAt)
	}
}

func TestTrackerBeginRejectsEmptyChat(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.Begin(context.Background(), "", "gpt-4o", ""); !errors.Is(err, store.ErrEmptyChatID) {
		t.Fatalf("err = %v, want ErrEmptyChatID", err)
	}
}
