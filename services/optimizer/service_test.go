package optimizer

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vodstream/config"
	"vodstream/services/cache"
	"vodstream/services/engine"
	"vodstream/services/spider"

	"vodstream/models"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func testEngineCfg() config.EngineSettings {
	return config.EngineSettings{
		SiteTimeoutSeconds:      5,
		DegradedTimeoutSeconds:  1,
		InitRetryCooldownMin:    5,
		MaxRetries:              3,
		RetryBaseMillis:         5,
		SlowCallThresholdMillis: 5000,
		PerSitePermits:          3,
		PerSiteRatePerSec:       1000,
		DegradedErrorRate:       0.5,
		HealthWindow:            10,
	}
}

func testCacheCfg() config.CacheSettings {
	return config.CacheSettings{
		MemoryMaxItems: 64,
		MemoryMaxBytes: 1 << 20,
		ListingTTLMin:  5,
		DetailTTLMin:   30,
		PlayerTTLSec:   30,
	}
}

func newOptimizer(rt roundTripFunc, cfg config.EngineSettings) *Optimizer {
	client := spider.NewClient(&http.Client{Transport: rt}, nil)
	eng := engine.New(engine.Options{Client: client})
	store := cache.New(testCacheCfg(), nil)
	return New(eng, store, cfg, testCacheCfg())
}

func jsonSite(key string) models.Site {
	return models.Site{Key: key, Name: key, Kind: models.KindJSON, API: "https://api.example.com/vod", Searchable: true, VideoList: true}
}

const listingBody = `{"list":[{"vod_id":"1","vod_name":"A","vod_pic":"p"}]}`

func TestResolveCachesSuccess(t *testing.T) {
	var calls atomic.Int64
	o := newOptimizer(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return response(http.StatusOK, listingBody), nil
	}, testEngineCfg())

	site := jsonSite("demo")
	for i := 0; i < 3; i++ {
		res, err := o.Resolve(context.Background(), site, spider.Home(false))
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		if len(res.List) != 1 {
			t.Fatalf("resolve %d: bad result %+v", i, res)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 upstream call, got %d", calls.Load())
	}
}

func TestTransientErrorRetriedThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	o := newOptimizer(func(*http.Request) (*http.Response, error) {
		if calls.Add(1) <= 2 {
			return response(http.StatusServiceUnavailable, "overloaded"), nil
		}
		return response(http.StatusOK, listingBody), nil
	}, testEngineCfg())

	res, err := o.Resolve(context.Background(), jsonSite("flaky"), spider.Search("a", false))
	if err != nil {
		t.Fatalf("resolve should succeed on the third attempt: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if len(res.List) != 1 {
		t.Fatalf("bad result %+v", res)
	}

	health := o.Health()
	if len(health) != 1 || health[0].Retries != 2 {
		t.Fatalf("retries not recorded: %+v", health)
	}
}

func TestRetryBackoffNonDecreasingAndBounded(t *testing.T) {
	cfg := testEngineCfg()
	cfg.MaxRetries = 4
	cfg.RetryBaseMillis = 40

	var mu sync.Mutex
	var attempts []time.Time
	o := newOptimizer(func(*http.Request) (*http.Response, error) {
		mu.Lock()
		attempts = append(attempts, time.Now())
		mu.Unlock()
		return response(http.StatusServiceUnavailable, "overloaded"), nil
	}, cfg)

	if _, err := o.Resolve(context.Background(), jsonSite("throttled"), spider.Home(false)); err == nil {
		t.Fatal("expected error after exhausting retries")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != cfg.MaxRetries {
		t.Fatalf("expected %d attempts, got %d", cfg.MaxRetries, len(attempts))
	}
	base := time.Duration(cfg.RetryBaseMillis) * time.Millisecond
	if first := attempts[1].Sub(attempts[0]); first < base {
		t.Fatalf("first backoff %s shorter than base delay %s", first, base)
	}
	var prev time.Duration
	for i := 1; i < len(attempts); i++ {
		delay := attempts[i].Sub(attempts[i-1])
		// Small tolerance for timer scheduling noise.
		if delay < prev-5*time.Millisecond {
			t.Fatalf("backoff shrank between attempts %d and %d: %s after %s", i, i+1, delay, prev)
		}
		prev = delay
	}
}

func TestZeroValuedSettingsDoNotBreakHealthTracking(t *testing.T) {
	tr := newHealthTracker(config.EngineSettings{})
	st := tr.state("bare")
	for i := 0; i < 3; i++ {
		st.record(i%2 == 0, time.Millisecond, false)
	}
	if err := st.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("acquire permit: %v", err)
	}
	st.sem.Release(1)
	if err := st.limiter.Wait(context.Background()); err != nil {
		t.Fatalf("rate wait: %v", err)
	}
}

func TestPermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	o := newOptimizer(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return response(http.StatusNotFound, "gone"), nil
	}, testEngineCfg())

	res, err := o.Resolve(context.Background(), jsonSite("dead"), spider.Home(false))
	if err == nil {
		t.Fatal("expected error for 404 upstream")
	}
	if calls.Load() != 1 {
		t.Fatalf("permanent error retried: %d attempts", calls.Load())
	}
	if !res.IsError() {
		t.Fatalf("callers must still get an error envelope: %+v", res)
	}
}

func TestFailedResultNeverCached(t *testing.T) {
	var calls atomic.Int64
	o := newOptimizer(func(*http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			return response(http.StatusNotFound, "gone"), nil
		}
		return response(http.StatusOK, listingBody), nil
	}, testEngineCfg())

	site := jsonSite("recovering")
	if _, err := o.Resolve(context.Background(), site, spider.Home(false)); err == nil {
		t.Fatal("first resolve should fail")
	}
	res, err := o.Resolve(context.Background(), site, spider.Home(false))
	if err != nil {
		t.Fatalf("second resolve should reach upstream again: %v", err)
	}
	if len(res.List) != 1 {
		t.Fatalf("bad result %+v", res)
	}
}

func TestActionBypassesCache(t *testing.T) {
	var calls atomic.Int64
	o := newOptimizer(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return response(http.StatusOK, `{"list":[]}`), nil
	}, testEngineCfg())

	site := jsonSite("acting")
	op := spider.Act("https://api.example.com/refresh")
	for i := 0; i < 2; i++ {
		if _, err := o.Resolve(context.Background(), site, op); err != nil {
			t.Fatalf("action %d: %v", i, err)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("custom actions must not be cached: %d upstream calls", calls.Load())
	}
}

func TestPerSitePermitsBoundConcurrency(t *testing.T) {
	cfg := testEngineCfg()
	cfg.PerSitePermits = 1

	var inFlight, maxInFlight atomic.Int64
	o := newOptimizer(func(*http.Request) (*http.Response, error) {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		return response(http.StatusOK, listingBody), nil
	}, cfg)

	site := jsonSite("narrow")
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Distinct pages so the cache cannot collapse the calls.
			if _, err := o.Resolve(context.Background(), site, spider.Category("1", i+1, false, nil)); err != nil {
				t.Errorf("resolve page %d: %v", i+1, err)
			}
		}()
	}
	wg.Wait()

	if maxInFlight.Load() > 1 {
		t.Fatalf("permit cap exceeded: %d concurrent upstream calls", maxInFlight.Load())
	}
}

func TestDegradedSiteGetsShortenedTimeout(t *testing.T) {
	cfg := testEngineCfg()
	o := newOptimizer(func(*http.Request) (*http.Response, error) {
		return response(http.StatusOK, listingBody), nil
	}, cfg)

	site := jsonSite("slowpoke")
	st := o.health.state(site.Key)

	if got := o.timeoutFor(site, st); got != 5*time.Second {
		t.Fatalf("healthy timeout %s, want 5s", got)
	}
	for i := 0; i < 10; i++ {
		st.record(false, 100*time.Millisecond, false)
	}
	if !st.isDegraded() {
		t.Fatal("site should be degraded after sustained failures")
	}
	if got := o.timeoutFor(site, st); got != 1*time.Second {
		t.Fatalf("degraded timeout %s, want 1s", got)
	}
}

func TestInvalidateSiteDropsCachedResults(t *testing.T) {
	var calls atomic.Int64
	o := newOptimizer(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return response(http.StatusOK, listingBody), nil
	}, testEngineCfg())

	site := jsonSite("mutable")
	if _, err := o.Resolve(context.Background(), site, spider.Home(false)); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	o.InvalidateSite(site.Key)
	if _, err := o.Resolve(context.Background(), site, spider.Home(false)); err != nil {
		t.Fatalf("resolve after invalidate: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("invalidate did not evict cache: %d upstream calls", calls.Load())
	}
}

func TestTTLForByOperation(t *testing.T) {
	o := newOptimizer(func(*http.Request) (*http.Response, error) {
		return response(http.StatusOK, listingBody), nil
	}, testEngineCfg())

	if got := o.ttlFor(spider.OpDetail); got != 30*time.Minute {
		t.Fatalf("detail ttl %s", got)
	}
	if got := o.ttlFor(spider.OpPlayer); got != 30*time.Second {
		t.Fatalf("player ttl %s", got)
	}
	if got := o.ttlFor(spider.OpSearch); got != 5*time.Minute {
		t.Fatalf("listing ttl %s", got)
	}
}
