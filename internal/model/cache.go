package model

import "time"

// CacheBreakpoint marks a prefix of the conversation the provider can reuse.
type CacheBreakpoint struct {
	// MessageIndex is the last message (inclusive) covered by the cached prefix.
	MessageIndex int    `json:"message_index"`
	Tokens       int64  `json:"tokens"`
	TTL          string `json:"ttl,omitempty"` // "5m" or "1h"
}

// CacheInfo describes provider-side prompt-cache state for a chat.
// It is not user-visible and is updated independently of messages.
type CacheInfo struct {
	Provider            string            `json:"provider,omitempty"`
	TokensCached        int64             `json:"tokens_cached,omitempty"`
	CacheCreationTokens int64             `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int64             `json:"cache_read_tokens,omitempty"`
	Breakpoints         []CacheBreakpoint `json:"breakpoints,omitempty"`
	ExpiresAt           time.Time         `json:"expires_at,omitzero"`
}

// Clone returns a deep copy, or nil for a nil receiver.
func (c *CacheInfo) Clone() *CacheInfo {
	if c == nil {
		return nil
	}
	out := *c
	if c.Breakpoints != nil {
		out.Breakpoints = append([]CacheBreakpoint(nil), c.Breakpoints...)
	}
	return &out
}

// Expired reports whether the cached prefix has lapsed at now.
func (c *CacheInfo) Expired(now time.Time) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt)
}
