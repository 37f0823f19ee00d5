package models

import "time"

// BackendStats is the per-site engine counters exposed for introspection.
type BackendStats struct {
	SiteKey      string     `json:"siteKey"`
	Kind         ParserKind `json:"kind"`
	Success      int64      `json:"success"`
	Failure      int64      `json:"failure"`
	Demoted      bool       `json:"demoted"` // backend init failed, running on fallback rules
	TotalMillis  int64      `json:"totalMillis"`
	LastUsed     time.Time  `json:"lastUsed,omitempty"`
	RecentErrors []string   `json:"recentErrors,omitempty"`
}

// HookStats is the per-hook counters for one interceptor.
type HookStats struct {
	Name        string `json:"name"`
	Chain       string `json:"chain"` // request | response | player
	Success     int64  `json:"success"`
	Failure     int64  `json:"failure"`
	Skipped     int64  `json:"skipped"`
	TotalMillis int64  `json:"totalMillis"`
}

// CacheStats summarizes tiered cache behavior.
type CacheStats struct {
	MemoryHits    int64 `json:"memoryHits"`
	DiskHits      int64 `json:"diskHits"`
	Misses        int64 `json:"misses"`
	Evictions     int64 `json:"evictions"`
	Entries       int   `json:"entries"`
	SizeBytes     int64 `json:"sizeBytes"`
	SharedCalls   int64 `json:"sharedCalls"`   // upstream calls saved by singleflight
	WritesSkipped int64 `json:"writesSkipped"` // cancelled or errored results not cached
}

// SiteHealth is the optimizer's view of one upstream site.
type SiteHealth struct {
	SiteKey   string  `json:"siteKey"`
	State     string  `json:"state"` // healthy | degraded
	Calls     int64   `json:"calls"`
	Failures  int64   `json:"failures"`
	Retries   int64   `json:"retries"`
	SlowCalls int64   `json:"slowCalls"`
	AvgMillis int64   `json:"avgMillis"`
	ErrorRate float64 `json:"errorRate"`
}

// Suggestion is an operator-facing hint derived from performance stats.
type Suggestion struct {
	SiteKey string `json:"siteKey"`
	Level   string `json:"level"` // info | warn
	Message string `json:"message"`
}

// StatsSnapshot is the full introspection payload served by /api/stats.
type StatsSnapshot struct {
	Engine      []BackendStats `json:"engine"`
	Hooks       []HookStats    `json:"hooks"`
	Cache       CacheStats     `json:"cache"`
	Sites       []SiteHealth   `json:"sites"`
	Suggestions []Suggestion   `json:"suggestions"`
	Queries     int64          `json:"queries"` // aggregate searches served
}
