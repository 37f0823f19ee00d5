package aggregator

import (
	"context"
	"errors"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"vodstream/config"
	"vodstream/models"
	"vodstream/services/spider"
)

// Resolver executes one operation against one site; in production this is
// the reliability optimizer.
type Resolver interface {
	Resolve(ctx context.Context, site models.Site, op spider.Operation) (models.Result, error)
}

// Update is one per-site result emitted while a search fan-out is running.
type Update struct {
	QueryID  string
	Site     models.Site
	Result   models.Result
	Err      error
	TimedOut bool
	Elapsed  time.Duration
}

// Service fans a single query out across many sites with bounded
// parallelism. Results stream back as they complete; closing the update
// channel is the query-complete signal and happens exactly once, after every
// site has succeeded, failed, timed out or been cancelled.
type Service struct {
	resolver Resolver

	cfgMu    sync.RWMutex
	settings config.Settings
	workers  int

	queries atomic.Int64

	pageMu sync.Mutex
	pages  map[string]int // siteKey|typeID -> last served page
}

// New constructs the aggregator. A zero worker setting derives the bound
// from the CPU count.
func New(resolver Resolver, settings config.Settings) *Service {
	return &Service{
		resolver: resolver,
		settings: settings,
		workers:  workerBound(settings),
		pages:    make(map[string]int),
	}
}

func workerBound(settings config.Settings) int {
	workers := settings.Aggregator.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers < 2 {
		workers = 2
	}
	return workers
}

// UpdateSettings swaps in reloaded settings so timeout and deadline changes
// apply to subsequent queries without a restart. In-flight queries keep the
// snapshot they started with.
func (s *Service) UpdateSettings(settings config.Settings) {
	s.cfgMu.Lock()
	s.settings = settings
	s.workers = workerBound(settings)
	s.cfgMu.Unlock()
}

// Search fans the keyword out to every eligible site. Quick search trades
// thoroughness for latency: it only queries quick-search capable sites and
// shortens the per-site timeout.
func (s *Service) Search(ctx context.Context, sites []models.Site, keyword string, quick bool) <-chan Update {
	queryID := uuid.NewString()
	s.queries.Add(1)

	s.cfgMu.RLock()
	settings := s.settings
	workers := s.workers
	s.cfgMu.RUnlock()

	eligible := make([]models.Site, 0, len(sites))
	for _, site := range sites {
		if !site.Searchable {
			continue
		}
		if quick && !site.QuickSearch {
			continue
		}
		eligible = append(eligible, site)
	}

	updates := make(chan Update, len(eligible))
	deadline := time.Duration(settings.Aggregator.QueryDeadlineSec) * time.Second
	log.Printf("[aggregator] query %s: searching %d/%d sites for %q (quick=%v)", queryID, len(eligible), len(sites), keyword, quick)

	go func() {
		defer close(updates)
		qctx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()

		p := pool.New().WithMaxGoroutines(workers)
		for _, site := range eligible {
			site := site
			p.Go(func() {
				timeout := settings.SiteTimeout(site)
				if quick {
					timeout = time.Duration(settings.Aggregator.QuickTimeoutSeconds) * time.Second
				}
				sctx, scancel := context.WithTimeout(qctx, timeout)
				defer scancel()

				start := time.Now()
				res, err := s.resolver.Resolve(sctx, site, spider.Search(keyword, quick))
				elapsed := time.Since(start)

				timedOut := errors.Is(err, context.DeadlineExceeded)
				if err != nil {
					log.Printf("[aggregator] query %s: site %s failed after %s: %v", queryID, site.Key, elapsed.Round(time.Millisecond), err)
				}
				res.StampSite(site)
				updates <- Update{
					QueryID:  queryID,
					Site:     site,
					Result:   res,
					Err:      err,
					TimedOut: timedOut,
					Elapsed:  elapsed,
				}
			})
		}
		p.Wait()
		log.Printf("[aggregator] query %s complete", queryID)
	}()

	return updates
}

// Category serves one site's category page and records it, so LoadMore can
// continue from where that site's listing left off. Pagination is per-site
// state: scrolling one site's list never refans the whole query.
func (s *Service) Category(ctx context.Context, site models.Site, typeID string, page int, filter bool, ext map[string]string) (models.Result, error) {
	if page < 1 {
		page = 1
	}
	res, err := s.resolver.Resolve(ctx, site, spider.Category(typeID, page, filter, ext))
	if err == nil {
		s.pageMu.Lock()
		s.pages[pageKey(site.Key, typeID)] = page
		s.pageMu.Unlock()
	}
	return res, err
}

// LoadMore re-issues the category operation for the next page of the one
// site the user is scrolling.
func (s *Service) LoadMore(ctx context.Context, site models.Site, typeID string, filter bool, ext map[string]string) (models.Result, error) {
	s.pageMu.Lock()
	next := s.pages[pageKey(site.Key, typeID)] + 1
	s.pageMu.Unlock()
	return s.Category(ctx, site, typeID, next, filter, ext)
}

// ResetPaging forgets a site's scroll position, typically when the user
// switches category or filters.
func (s *Service) ResetPaging(siteKey, typeID string) {
	s.pageMu.Lock()
	delete(s.pages, pageKey(siteKey, typeID))
	s.pageMu.Unlock()
}

// Queries returns the number of aggregate searches served.
func (s *Service) Queries() int64 { return s.queries.Load() }

func pageKey(siteKey, typeID string) string { return siteKey + "|" + typeID }
