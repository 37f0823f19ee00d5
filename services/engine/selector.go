package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"vodstream/models"
	"vodstream/services/hooks"
	"vodstream/services/spider"
)

// Engine selects and executes the right parser backend for each site.
// Backends initialize once and are cached per site key; a failed script or
// module init demotes the site to the JSON rule backend and is only retried
// after a cool-down window.
type Engine struct {
	client   *spider.Client
	pipeline *hooks.Pipeline
	runtime  spider.ScriptRuntime
	loader   spider.ModuleLoader
	cooldown time.Duration

	mu       sync.Mutex
	spiders  map[string]spider.Spider
	demoted  map[string]bool
	failures map[string]initFailure

	stats *Stats
}

type initFailure struct {
	at  time.Time
	err error
}

// Options configures engine construction. Runtime and Loader may be nil when
// no script or module bridge is wired; affected sites then run on fallback
// rules.
type Options struct {
	Client       *spider.Client
	Pipeline     *hooks.Pipeline
	Runtime      spider.ScriptRuntime
	Loader       spider.ModuleLoader
	InitCooldown time.Duration
}

// New constructs the engine selector.
func New(opts Options) *Engine {
	cooldown := opts.InitCooldown
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Engine{
		client:   opts.Client,
		pipeline: opts.Pipeline,
		runtime:  opts.Runtime,
		loader:   opts.Loader,
		cooldown: cooldown,
		spiders:  make(map[string]spider.Spider),
		demoted:  make(map[string]bool),
		failures: make(map[string]initFailure),
		stats:    NewStats(),
	}
}

// Execute runs one parser operation against a site. Backend initialization
// may block on cold-start I/O (script download, module resolve); callers
// apply their own timeout via ctx.
func (e *Engine) Execute(ctx context.Context, site models.Site, op spider.Operation) (models.Result, error) {
	sp, demoted := e.spiderFor(ctx, site)
	start := time.Now()
	res, err := spider.Dispatch(ctx, sp, op)
	e.stats.record(site, demoted, err, time.Since(start))
	if err != nil {
		return res, err
	}
	if op.Name == spider.OpPlayer {
		res = e.applyPlayerHooks(ctx, site, res)
	}
	res.StampSite(site)
	return res, nil
}

// applyPlayerHooks folds the player-url chain over a resolved play result.
func (e *Engine) applyPlayerHooks(ctx context.Context, site models.Site, res models.Result) models.Result {
	if e.pipeline == nil || res.URL == "" {
		return res
	}
	player := &hooks.Player{
		URL:     res.URL,
		Headers: res.Header,
		Parse:   res.Parse,
		SiteKey: site.Key,
		Flag:    res.Flag,
	}
	player = e.pipeline.RunPlayer(ctx, player)
	res.URL = player.URL
	res.Header = player.Headers
	res.Parse = player.Parse
	return res
}

// spiderFor returns the cached backend for a site, creating it on first use.
// The second return reports whether the site is running demoted on fallback
// rules.
func (e *Engine) spiderFor(ctx context.Context, site models.Site) (spider.Spider, bool) {
	e.mu.Lock()
	if sp, ok := e.spiders[site.Key]; ok {
		demoted := e.demoted[site.Key]
		// Retry the preferred backend once the cool-down has passed.
		if demoted {
			if f, failed := e.failures[site.Key]; failed && time.Since(f.at) >= e.cooldown {
				delete(e.spiders, site.Key)
				delete(e.failures, site.Key)
				delete(e.demoted, site.Key)
			} else {
				e.mu.Unlock()
				return sp, true
			}
		} else {
			e.mu.Unlock()
			return sp, false
		}
	}
	e.mu.Unlock()

	sp, demoted := e.create(ctx, site)

	e.mu.Lock()
	e.spiders[site.Key] = sp
	e.demoted[site.Key] = demoted
	e.mu.Unlock()
	return sp, demoted
}

// create builds the preferred backend, demoting to the JSON rule backend on
// init failure.
func (e *Engine) create(ctx context.Context, site models.Site) (spider.Spider, bool) {
	if site.IsEmpty() {
		return spider.NullSpider{}, false
	}
	var (
		sp  spider.Spider
		err error
	)
	switch site.Kind {
	case models.KindScript:
		sp, err = spider.NewScriptSpider(ctx, site, e.runtime, e.client)
	case models.KindModule:
		sp, err = spider.NewModuleSpider(ctx, site, e.loader)
	case models.KindXPath:
		sp, err = spider.NewXPathSpider(site, e.client)
	default:
		sp = spider.NewJSONSpider(site, e.client)
	}
	if err == nil {
		return sp, false
	}

	log.Printf("[engine] %s backend init failed for site %s, demoting to rule fallback: %v", site.Kind, site.Key, err)
	e.mu.Lock()
	e.failures[site.Key] = initFailure{at: time.Now(), err: err}
	e.mu.Unlock()
	e.stats.markDemoted(site)
	return spider.NewJSONSpider(site, e.client), true
}

// RemoveSpider evicts one site's cached backend, forcing re-init on next use.
func (e *Engine) RemoveSpider(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sp, ok := e.spiders[key]; ok {
		sp.Destroy()
		delete(e.spiders, key)
	}
	delete(e.demoted, key)
	delete(e.failures, key)
}

// Clear evicts every cached backend.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, sp := range e.spiders {
		sp.Destroy()
		delete(e.spiders, key)
	}
	e.demoted = make(map[string]bool)
	e.failures = make(map[string]initFailure)
}

// Stats returns the engine's per-site counters.
func (e *Engine) Stats() *Stats { return e.stats }
