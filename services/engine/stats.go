package engine

import (
	"sort"
	"sync"
	"time"

	"vodstream/models"
)

// recentErrorLimit bounds the per-site error ring buffer.
const recentErrorLimit = 5

type siteCounters struct {
	kind        models.ParserKind
	success     int64
	failure     int64
	demoted     bool
	totalMillis int64
	lastUsed    time.Time
	recentErrs  []string
}

// Stats tracks per-site backend counters. Created on first use, reset on
// Clear, never persisted.
type Stats struct {
	mu    sync.Mutex
	sites map[string]*siteCounters
}

func NewStats() *Stats {
	return &Stats{sites: make(map[string]*siteCounters)}
}

func (s *Stats) record(site models.Site, demoted bool, err error, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.sites[site.Key]
	if !ok {
		c = &siteCounters{kind: site.Kind}
		s.sites[site.Key] = c
	}
	c.demoted = c.demoted || demoted
	c.totalMillis += elapsed.Milliseconds()
	c.lastUsed = time.Now()
	if err != nil {
		c.failure++
		c.recentErrs = append(c.recentErrs, err.Error())
		if len(c.recentErrs) > recentErrorLimit {
			c.recentErrs = c.recentErrs[len(c.recentErrs)-recentErrorLimit:]
		}
		return
	}
	c.success++
}

// markDemoted records a fallback demotion before any call completes, so
// operators see degraded sites even if the site is then never queried again.
func (s *Stats) markDemoted(site models.Site) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.sites[site.Key]
	if !ok {
		c = &siteCounters{kind: site.Kind}
		s.sites[site.Key] = c
	}
	c.demoted = true
}

// Snapshot returns the current per-site counters sorted by site key.
func (s *Stats) Snapshot() []models.BackendStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.BackendStats, 0, len(s.sites))
	for key, c := range s.sites {
		out = append(out, models.BackendStats{
			SiteKey:      key,
			Kind:         c.kind,
			Success:      c.success,
			Failure:      c.failure,
			Demoted:      c.demoted,
			TotalMillis:  c.totalMillis,
			LastUsed:     c.lastUsed,
			RecentErrors: append([]string(nil), c.recentErrs...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SiteKey < out[j].SiteKey })
	return out
}

// Clear drops all counters.
func (s *Stats) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites = make(map[string]*siteCounters)
}
