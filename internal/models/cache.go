package models

import "time"

// CacheEntry is one cached generation response. Entries are never updated in place.
type CacheEntry struct {
	ID           string    `json:"id"`
	ExactHash    string    `json:"exactHash"`
	Embedding    []float32 `json:"-"`
	SystemPrompt string    `json:"systemPrompt"`
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response"`
	Temperature  float64   `json:"temperature"`
	ModelName    string    `json:"modelName"`
	CreatedAt    time.Time `json:"createdAt"`
	TTLSeconds   int64     `json:"ttlSeconds"`
}

// Expired reports whether the entry is no longer valid at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) >= time.Duration(e.TTLSeconds)*time.Second
}
