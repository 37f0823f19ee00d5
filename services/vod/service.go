package vod

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/spf13/afero"

	"vodstream/config"
	"vodstream/models"
	"vodstream/services/aggregator"
	"vodstream/services/cache"
	"vodstream/services/engine"
	"vodstream/services/hooks"
	"vodstream/services/optimizer"
	"vodstream/services/spider"
)

// Service is the engine facade external callers use: resolve operations for
// one site, aggregate search across many, and introspect stats. All engine
// state (spider cache, result cache, counters) is owned here and dies with
// the instance; there are no process-wide singletons.
type Service struct {
	cfg *config.Manager

	mu       sync.RWMutex
	settings config.Settings // replaced wholesale by ReloadSites, never mutated in place

	pipeline  *hooks.Pipeline
	eng       *engine.Engine
	store     *cache.Cache
	opt       *optimizer.Optimizer
	aggregate *aggregator.Service
}

// Options carries the external collaborators the engine depends on but does
// not implement: the transport client, the script runtime bridge and the
// dynamic module loader. Any of them may be nil.
type Options struct {
	HTTPClient *http.Client
	Runtime    spider.ScriptRuntime
	Loader     spider.ModuleLoader
	CacheFs    afero.Fs // defaults to the OS filesystem
}

// NewService wires the full engine stack from settings.
func NewService(cfgManager *config.Manager, opts Options) (*Service, error) {
	settings, err := cfgManager.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	pipeline := hooks.NewPipeline()
	client := spider.NewClient(opts.HTTPClient, pipeline)
	eng := engine.New(engine.Options{
		Client:       client,
		Pipeline:     pipeline,
		Runtime:      opts.Runtime,
		Loader:       opts.Loader,
		InitCooldown: time.Duration(settings.Engine.InitRetryCooldownMin) * time.Minute,
	})

	fs := opts.CacheFs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	store := cache.New(settings.Cache, fs)
	opt := optimizer.New(eng, store, settings.Engine, settings.Cache)
	agg := aggregator.New(opt, settings)

	return &Service{
		cfg:       cfgManager,
		settings:  settings,
		pipeline:  pipeline,
		eng:       eng,
		store:     store,
		opt:       opt,
		aggregate: agg,
	}, nil
}

// current returns the settings snapshot under the read lock. The returned
// value shares backing arrays with the stored struct, which is safe because
// reloads swap in a freshly loaded struct instead of mutating the old one.
func (s *Service) current() config.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Sites lists the configured sites.
func (s *Service) Sites() []models.Site {
	return append([]models.Site(nil), s.current().Sites...)
}

func (s *Service) site(key string) (models.Site, error) {
	site, ok := s.current().Site(key)
	if !ok {
		return models.Site{}, fmt.Errorf("%w: %s", spider.ErrSiteNotFound, key)
	}
	return site, nil
}

// ResolveHome returns a site's home categories and shelf.
func (s *Service) ResolveHome(ctx context.Context, siteKey string, filter bool) (models.Result, error) {
	site, err := s.site(siteKey)
	if err != nil {
		return models.ErrorResult(err.Error()), err
	}
	return s.opt.Resolve(ctx, site, spider.Home(filter))
}

// ResolveCategory returns one page of a site's category listing and records
// the page for LoadMore.
func (s *Service) ResolveCategory(ctx context.Context, siteKey, typeID string, page int, filter bool, ext map[string]string) (models.Result, error) {
	site, err := s.site(siteKey)
	if err != nil {
		return models.ErrorResult(err.Error()), err
	}
	return s.aggregate.Category(ctx, site, typeID, page, filter, ext)
}

// LoadMore continues the category listing for the one site being scrolled.
func (s *Service) LoadMore(ctx context.Context, siteKey, typeID string, filter bool, ext map[string]string) (models.Result, error) {
	site, err := s.site(siteKey)
	if err != nil {
		return models.ErrorResult(err.Error()), err
	}
	return s.aggregate.LoadMore(ctx, site, typeID, filter, ext)
}

// ResolveDetail returns details for the given content ids.
func (s *Service) ResolveDetail(ctx context.Context, siteKey string, ids []string) (models.Result, error) {
	site, err := s.site(siteKey)
	if err != nil {
		return models.ErrorResult(err.Error()), err
	}
	return s.opt.Resolve(ctx, site, spider.Detail(ids))
}

// Search fans the keyword out across the named sites, or all searchable
// sites when keys is empty. Per-site results stream on the returned channel;
// it closes exactly once when every site has resolved.
func (s *Service) Search(ctx context.Context, keys []string, keyword string, quick bool) <-chan aggregator.Update {
	settings := s.current()
	var sites []models.Site
	if len(keys) == 0 {
		sites = settings.Sites
	} else {
		for _, key := range keys {
			if site, ok := settings.Site(key); ok {
				sites = append(sites, site)
			} else {
				log.Printf("[vod] search: skipping unknown site %q", key)
			}
		}
	}
	return s.aggregate.Search(ctx, sites, keyword, quick)
}

// ResolvePlay resolves a playable descriptor for one episode of one flag.
func (s *Service) ResolvePlay(ctx context.Context, siteKey, flag, id string) (models.Result, error) {
	site, err := s.site(siteKey)
	if err != nil {
		return models.ErrorResult(err.Error()), err
	}
	return s.opt.Resolve(ctx, site, spider.Player(flag, id, s.current().VipFlags))
}

// ResolveAction forwards a spider-defined custom action.
func (s *Service) ResolveAction(ctx context.Context, siteKey, action string) (models.Result, error) {
	site, err := s.site(siteKey)
	if err != nil {
		return models.ErrorResult(err.Error()), err
	}
	return s.opt.Resolve(ctx, site, spider.Act(action))
}

// ReloadSites re-reads settings and evicts engine and cache state for sites
// whose configuration changed or disappeared.
func (s *Service) ReloadSites() error {
	fresh, err := s.cfg.Load()
	if err != nil {
		return fmt.Errorf("reload settings: %w", err)
	}
	s.mu.Lock()
	old := s.settings.Sites
	s.settings = fresh
	s.mu.Unlock()
	s.aggregate.UpdateSettings(fresh)
	for _, site := range old {
		updated, ok := fresh.Site(site.Key)
		if !ok || !reflect.DeepEqual(siteComparable(updated), siteComparable(site)) {
			s.opt.InvalidateSite(site.Key)
		}
	}
	log.Printf("[vod] reloaded %d site(s)", len(fresh.Sites))
	return nil
}

// siteComparable strips non-comparable fields for change detection.
func siteComparable(site models.Site) models.Site {
	site.Headers = nil
	site.Categories = nil
	return site
}

// SweepExpired drops expired result-cache entries in both tiers.
func (s *Service) SweepExpired() int {
	return s.store.SweepExpired()
}

// RegisterRequestHook exposes pipeline extension to embedding applications.
func (s *Service) RegisterRequestHook(h hooks.RequestHook) { s.pipeline.RegisterRequest(h) }

// RegisterResponseHook exposes pipeline extension to embedding applications.
func (s *Service) RegisterResponseHook(h hooks.ResponseHook) { s.pipeline.RegisterResponse(h) }

// RegisterPlayerHook exposes pipeline extension to embedding applications.
func (s *Service) RegisterPlayerHook(h hooks.PlayerHook) { s.pipeline.RegisterPlayer(h) }

// Stats assembles the introspection snapshot across all engine components.
func (s *Service) Stats() models.StatsSnapshot {
	return models.StatsSnapshot{
		Engine:      s.eng.Stats().Snapshot(),
		Hooks:       s.pipeline.Stats(),
		Cache:       s.store.Stats(),
		Sites:       s.opt.Health(),
		Suggestions: s.opt.Suggestions(),
		Queries:     s.aggregate.Queries(),
	}
}
