package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"vodstream/models"
	"vodstream/services/hooks"
	"vodstream/services/spider"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func fixedClient(body string) *spider.Client {
	return spider.NewClient(&http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(body)),
		}, nil
	})}, nil)
}

// fakeInvoker answers every script call with a fixed payload.
type fakeInvoker struct {
	mu      sync.Mutex
	payload string
	calls   []string
}

func (f *fakeInvoker) Call(_ context.Context, fn string, _ ...string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fn)
	f.mu.Unlock()
	if fn == "init" {
		return "", nil
	}
	return f.payload, nil
}

// fakeRuntime can be toggled between failing and succeeding compiles.
type fakeRuntime struct {
	mu       sync.Mutex
	fail     bool
	compiles int
	invoker  *fakeInvoker
}

func (f *fakeRuntime) Compile(context.Context, string, string) (spider.Invoker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compiles++
	if f.fail {
		return nil, errors.New("syntax error at line 1")
	}
	return f.invoker, nil
}

func scriptSite() models.Site {
	return models.Site{
		Key:       "scripted",
		Name:      "Scripted Site",
		Kind:      models.KindScript,
		API:       "https://cdn.example.com/spider.js",
		VideoList: true,
	}
}

func TestExecuteJSONSite(t *testing.T) {
	eng := New(Options{Client: fixedClient(`{"list":[{"vod_id":"1","vod_name":"A","vod_pic":"p"}]}`)})
	site := models.Site{Key: "json", Name: "JSON Site", Kind: models.KindJSON, API: "https://api.example.com/vod"}

	res, err := eng.Execute(context.Background(), site, spider.Home(false))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(res.List) != 1 || res.List[0].SiteKey != "json" {
		t.Fatalf("result not stamped with site: %+v", res.List)
	}
}

func TestScriptInitFailureDemotesToRules(t *testing.T) {
	rt := &fakeRuntime{fail: true}
	// The demoted rule backend fetches the same api url and must still get a
	// usable listing out of it.
	eng := New(Options{
		Client:  fixedClient(`{"list":[{"vod_id":"1","vod_name":"Fallback","vod_pic":"p"}]}`),
		Runtime: rt,
	})

	res, err := eng.Execute(context.Background(), scriptSite(), spider.Search("a", false))
	if err != nil {
		t.Fatalf("demoted execute should succeed: %v", err)
	}
	if len(res.List) != 1 || res.List[0].Name != "Fallback" {
		t.Fatalf("fallback result wrong: %+v", res.List)
	}

	snap := eng.Stats().Snapshot()
	if len(snap) != 1 || !snap[0].Demoted {
		t.Fatalf("demotion not recorded: %+v", snap)
	}
}

func TestDemotionStickyUntilCooldown(t *testing.T) {
	rt := &fakeRuntime{fail: true, invoker: &fakeInvoker{payload: `{"list":[{"vod_id":"1","vod_name":"Scripted"}]}`}}
	eng := New(Options{
		Client:  fixedClient(`{"list":[{"vod_id":"1","vod_name":"Fallback","vod_pic":"p"}]}`),
		Runtime: rt,
	})
	eng.cooldown = 50 * time.Millisecond

	site := scriptSite()
	if _, err := eng.Execute(context.Background(), site, spider.Home(false)); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	// Inside the cool-down the failed compile must not be retried.
	if _, err := eng.Execute(context.Background(), site, spider.Home(false)); err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if rt.compiles != 1 {
		t.Fatalf("compile retried inside cool-down: %d attempts", rt.compiles)
	}

	// After the cool-down the preferred backend is retried and wins.
	rt.mu.Lock()
	rt.fail = false
	rt.mu.Unlock()
	time.Sleep(60 * time.Millisecond)

	res, err := eng.Execute(context.Background(), site, spider.Home(false))
	if err != nil {
		t.Fatalf("post-cooldown execute: %v", err)
	}
	if rt.compiles != 2 {
		t.Fatalf("preferred backend not retried after cool-down: %d compiles", rt.compiles)
	}
	if len(res.List) != 1 || res.List[0].Name != "Scripted" {
		t.Fatalf("script backend not promoted back: %+v", res.List)
	}
}

func TestSpiderCachedAcrossCalls(t *testing.T) {
	rt := &fakeRuntime{invoker: &fakeInvoker{payload: `{"list":[{"vod_id":"1","vod_name":"S"}]}`}}
	eng := New(Options{Client: fixedClient("// js"), Runtime: rt})

	site := scriptSite()
	for i := 0; i < 3; i++ {
		if _, err := eng.Execute(context.Background(), site, spider.Search("a", false)); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}
	if rt.compiles != 1 {
		t.Fatalf("backend recompiled per call: %d compiles", rt.compiles)
	}
}

func TestRemoveSpiderForcesReinit(t *testing.T) {
	rt := &fakeRuntime{invoker: &fakeInvoker{payload: `{"list":[]}`}}
	eng := New(Options{Client: fixedClient("// js"), Runtime: rt})

	site := scriptSite()
	if _, err := eng.Execute(context.Background(), site, spider.Home(false)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	eng.RemoveSpider(site.Key)
	if _, err := eng.Execute(context.Background(), site, spider.Home(false)); err != nil {
		t.Fatalf("execute after eviction: %v", err)
	}
	if rt.compiles != 2 {
		t.Fatalf("eviction did not force re-init: %d compiles", rt.compiles)
	}
}

func TestPlayerResultRunsHookChain(t *testing.T) {
	invoker := &fakeInvoker{payload: `{"url":"https://cdn.example.com/ep1.m3u8?utm_source=share","parse":0}`}
	eng := New(Options{
		Client:   fixedClient("// js"),
		Pipeline: hooks.NewPipeline(),
		Runtime:  &fakeRuntime{invoker: invoker},
	})

	res, err := eng.Execute(context.Background(), scriptSite(), spider.Player("m3u8", "ep1", nil))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.Contains(res.URL, "utm_source") {
		t.Fatalf("player hooks not applied: %q", res.URL)
	}
	if res.Parse != 0 {
		t.Fatalf("direct media reclassified: %+v", res)
	}
	if res.Header["User-Agent"] == "" {
		t.Fatalf("playback headers not injected: %+v", res.Header)
	}
}

func TestEmptySiteGetsNullSpider(t *testing.T) {
	eng := New(Options{Client: fixedClient("")})
	res, err := eng.Execute(context.Background(), models.Site{Key: "empty"}, spider.Home(false))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(res.List) != 0 {
		t.Fatalf("expected empty envelope: %+v", res)
	}
}
