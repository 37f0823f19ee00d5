package optimizer

import (
	"context"
	"log"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"vodstream/config"
	"vodstream/models"
	"vodstream/services/cache"
	"vodstream/services/engine"
	"vodstream/services/spider"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodstream_parser_requests_total",
		Help: "Parser invocations by site, operation and outcome.",
	}, []string{"site", "op", "status"})
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vodstream_parser_request_seconds",
		Help:    "Parser invocation latency by site and operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"site", "op"})
)

// Optimizer wraps every parser invocation with caching, per-site concurrency
// permits, classified retry with exponential backoff, and performance
// accounting feeding the operator suggestion report.
type Optimizer struct {
	engine   *engine.Engine
	cache    *cache.Cache
	cfg      config.EngineSettings
	cacheCfg config.CacheSettings
	health   *healthTracker
}

// New constructs the reliability wrapper around the engine selector.
func New(eng *engine.Engine, store *cache.Cache, engineCfg config.EngineSettings, cacheCfg config.CacheSettings) *Optimizer {
	return &Optimizer{
		engine:   eng,
		cache:    store,
		cfg:      engineCfg,
		cacheCfg: cacheCfg,
		health:   newHealthTracker(engineCfg),
	}
}

// Resolve executes one operation against one site through the full pipeline:
// cache → permit → engine → classify/retry → cache write. It always returns
// a usable envelope; on exhausted retries the envelope is empty and
// error-flagged, and the error is also returned for callers that track
// per-site status.
func (o *Optimizer) Resolve(ctx context.Context, site models.Site, op spider.Operation) (models.Result, error) {
	if op.Name == spider.OpAction {
		// Custom actions have side effects upstream and are never cached.
		res, err := o.call(ctx, site, op)
		if err != nil {
			return models.ErrorResult(err.Error()), err
		}
		return res, nil
	}

	key := op.CacheKey(site.Key)
	res, _, err := o.cache.Fetch(ctx, key, o.ttlFor(op.Name), func(fctx context.Context) (models.Result, error) {
		return o.call(fctx, site, op)
	})
	if err != nil {
		return models.ErrorResult(err.Error()), err
	}
	return res, nil
}

// call runs the engine invocation under permit, rate limit and retry.
func (o *Optimizer) call(ctx context.Context, site models.Site, op spider.Operation) (models.Result, error) {
	st := o.health.state(site.Key)

	if err := st.sem.Acquire(ctx, 1); err != nil {
		return models.EmptyResult(), err
	}
	defer st.sem.Release(1)
	if err := st.limiter.Wait(ctx); err != nil {
		return models.EmptyResult(), err
	}

	timeout := o.timeoutFor(site, st)
	slowThreshold := time.Duration(o.cfg.SlowCallThresholdMillis) * time.Millisecond

	var res models.Result
	err := retry.Do(
		func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			r, callErr := o.engine.Execute(cctx, site, op)
			elapsed := time.Since(start)

			requestDuration.WithLabelValues(site.Key, string(op.Name)).Observe(elapsed.Seconds())
			slow := elapsed >= slowThreshold
			if slow {
				log.Printf("[optimizer] slow call: site=%s op=%s took %s", site.Key, op.Name, elapsed.Round(10*time.Millisecond))
			}
			st.record(callErr == nil, elapsed, slow)

			if callErr != nil {
				requestsTotal.WithLabelValues(site.Key, string(op.Name), classify(callErr)).Inc()
				return callErr
			}
			requestsTotal.WithLabelValues(site.Key, string(op.Name), "ok").Inc()
			res = r
			return nil
		},
		retry.Attempts(uint(o.cfg.MaxRetries)),
		retry.Delay(time.Duration(o.cfg.RetryBaseMillis)*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(10*time.Second),
		retry.RetryIf(spider.IsTransient),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			st.addRetry()
			log.Printf("[optimizer] retry %d for site=%s op=%s: %v", n, site.Key, op.Name, err)
		}),
	)
	if err != nil {
		return models.EmptyResult(), err
	}
	return res, nil
}

// timeoutFor shortens the per-call timeout for degraded sites so they fail
// fast instead of dominating the aggregate latency budget.
func (o *Optimizer) timeoutFor(site models.Site, st *siteState) time.Duration {
	if st.isDegraded() && o.cfg.DegradedTimeoutSeconds > 0 {
		return time.Duration(o.cfg.DegradedTimeoutSeconds) * time.Second
	}
	if site.TimeoutSeconds > 0 {
		return time.Duration(site.TimeoutSeconds) * time.Second
	}
	return time.Duration(o.cfg.SiteTimeoutSeconds) * time.Second
}

// ttlFor applies the per-operation TTL policy: listings turn over quickly,
// details are stabler, play urls barely outlive the request that fetched them.
func (o *Optimizer) ttlFor(name spider.OpName) time.Duration {
	switch name {
	case spider.OpDetail:
		return time.Duration(o.cacheCfg.DetailTTLMin) * time.Minute
	case spider.OpPlayer:
		return time.Duration(o.cacheCfg.PlayerTTLSec) * time.Second
	default:
		return time.Duration(o.cacheCfg.ListingTTLMin) * time.Minute
	}
}

func classify(err error) string {
	if spider.IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

// InvalidateSite drops every cached result for one site, typically after its
// configuration changed.
func (o *Optimizer) InvalidateSite(key string) {
	o.cache.Invalidate(key + "|")
	o.engine.RemoveSpider(key)
}

// Health returns the per-site health view.
func (o *Optimizer) Health() []models.SiteHealth { return o.health.snapshot() }

// Suggestions derives the operator-facing report from collected stats.
func (o *Optimizer) Suggestions() []models.Suggestion { return o.health.suggestions(o.cfg) }
