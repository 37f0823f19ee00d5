package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vodstream/config"
	"vodstream/models"
)

func testSettings() config.CacheSettings {
	return config.CacheSettings{
		Directory:       "cache-test",
		MemoryMaxItems:  8,
		MemoryMaxBytes:  1 << 20,
		DiskTierEnabled: true,
	}
}

func listResult(names ...string) models.Result {
	res := models.EmptyResult()
	for _, n := range names {
		res.List = append(res.List, models.Vod{ID: n, Name: n})
	}
	return res
}

func TestGetPutRoundTrip(t *testing.T) {
	c := New(testSettings(), afero.NewMemMapFs())
	c.Put("site|home", listResult("a", "b"), time.Minute)

	res, tier, ok := c.Get("site|home")
	require.True(t, ok)
	assert.Equal(t, TierMemory, tier)
	require.Len(t, res.List, 2)
	assert.Equal(t, "a", res.List[0].ID)
}

func TestExpiredEntryIsMiss(t *testing.T) {
	c := New(testSettings(), afero.NewMemMapFs())
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Put("site|home", listResult("a"), time.Minute)

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, _, ok := c.Get("site|home")
	assert.False(t, ok, "expired entry must not be served")
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestLRUEviction(t *testing.T) {
	cfg := testSettings()
	cfg.MemoryMaxItems = 2
	cfg.DiskTierEnabled = false
	c := New(cfg, nil)

	c.Put("k1", listResult("1"), time.Minute)
	c.Put("k2", listResult("2"), time.Minute)
	_, _, ok := c.Get("k1") // k1 becomes most recently used
	require.True(t, ok)
	c.Put("k3", listResult("3"), time.Minute)

	_, _, ok = c.Get("k2")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, _, ok = c.Get("k1")
	assert.True(t, ok)
	_, _, ok = c.Get("k3")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestByteBoundEviction(t *testing.T) {
	cfg := testSettings()
	cfg.MemoryMaxItems = 100
	cfg.MemoryMaxBytes = 300
	cfg.DiskTierEnabled = false
	c := New(cfg, nil)

	for _, k := range []string{"k1", "k2", "k3", "k4"} {
		c.Put(k, listResult("some-reasonably-long-name"), time.Minute)
	}
	stats := c.Stats()
	assert.LessOrEqual(t, stats.SizeBytes, int64(300))
	assert.Greater(t, stats.Evictions, int64(0))
}

func TestErrorEnvelopeNeverCached(t *testing.T) {
	c := New(testSettings(), afero.NewMemMapFs())
	c.Put("site|search|boom", models.ErrorResult("upstream down"), time.Minute)

	_, _, ok := c.Get("site|search|boom")
	assert.False(t, ok, "error envelopes must not be cached")
	assert.Equal(t, int64(1), c.Stats().WritesSkipped)
}

func TestDiskPromotion(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := testSettings()

	first := New(cfg, fs)
	first.Put("site|detail|ep1", listResult("ep1"), time.Hour)

	// A fresh cache over the same filesystem simulates a restart: memory is
	// empty, the disk tier still holds the entry.
	second := New(cfg, fs)
	res, tier, ok := second.Get("site|detail|ep1")
	require.True(t, ok)
	assert.Equal(t, TierDisk, tier)
	assert.Equal(t, "ep1", res.List[0].ID)

	// The hit promoted the entry; the next read is served from memory.
	_, tier, ok = second.Get("site|detail|ep1")
	require.True(t, ok)
	assert.Equal(t, TierMemory, tier)
}

func TestDiskEntryExpires(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := testSettings()

	first := New(cfg, fs)
	base := time.Now()
	first.now = func() time.Time { return base }
	first.Put("site|home", listResult("a"), time.Minute)

	second := New(cfg, fs)
	second.now = func() time.Time { return base.Add(5 * time.Minute) }
	_, _, ok := second.Get("site|home")
	assert.False(t, ok, "expired disk entry must not be promoted")
}

func TestInvalidatePrefixBothTiers(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := New(testSettings(), fs)
	c.Put("siteA|home", listResult("a"), time.Hour)
	c.Put("siteA|detail|1", listResult("d"), time.Hour)
	c.Put("siteB|home", listResult("b"), time.Hour)

	c.Invalidate("siteA|")

	_, _, ok := c.Get("siteA|home")
	assert.False(t, ok)
	_, _, ok = c.Get("siteA|detail|1")
	assert.False(t, ok)
	_, _, ok = c.Get("siteB|home")
	assert.True(t, ok)

	// Disk tier must be purged too, or a restart would resurrect the entry.
	fresh := New(testSettings(), fs)
	_, _, ok = fresh.Get("siteA|home")
	assert.False(t, ok)
}

func TestFetchCollapsesConcurrentMisses(t *testing.T) {
	c := New(testSettings(), afero.NewMemMapFs())
	var calls atomic.Int64
	release := make(chan struct{})

	fn := func(context.Context) (models.Result, error) {
		calls.Add(1)
		<-release
		return listResult("shared"), nil
	}

	var wg sync.WaitGroup
	const workers = 8
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _, err := c.Fetch(context.Background(), "site|search|key", time.Minute, fn)
			assert.NoError(t, err)
			assert.Equal(t, "shared", res.List[0].ID)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load(), "concurrent misses must share one upstream call")
	assert.Greater(t, c.Stats().SharedCalls, int64(0))
}

func TestFetchCancelledContextNotCached(t *testing.T) {
	c := New(testSettings(), afero.NewMemMapFs())
	ctx, cancel := context.WithCancel(context.Background())

	_, _, err := c.Fetch(ctx, "site|home", time.Minute, func(context.Context) (models.Result, error) {
		cancel() // simulate cancellation racing the computation
		return listResult("partial"), nil
	})
	require.ErrorIs(t, err, context.Canceled)

	_, _, ok := c.Get("site|home")
	assert.False(t, ok, "cancelled computation must not be cached")
}

func TestFetchErrorNotCached(t *testing.T) {
	c := New(testSettings(), afero.NewMemMapFs())
	sentinel := errors.New("upstream 500")

	res, _, err := c.Fetch(context.Background(), "site|home", time.Minute, func(context.Context) (models.Result, error) {
		return models.EmptyResult(), sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.True(t, res.IsError(), "callers still get a renderable envelope")

	var calls atomic.Int64
	_, _, err = c.Fetch(context.Background(), "site|home", time.Minute, func(context.Context) (models.Result, error) {
		calls.Add(1)
		return listResult("ok"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load(), "failed fetch must not suppress the retry")
}

func TestFetchServesCachedWithoutCalling(t *testing.T) {
	c := New(testSettings(), afero.NewMemMapFs())
	c.Put("site|home", listResult("cached"), time.Minute)

	res, hit, err := c.Fetch(context.Background(), "site|home", time.Minute, func(context.Context) (models.Result, error) {
		t.Fatal("upstream called despite cache hit")
		return models.Result{}, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "cached", res.List[0].ID)
}
