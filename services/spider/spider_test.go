package spider

import (
	"context"
	"errors"
	"net"
	"testing"

	"vodstream/models"
)

func TestCacheKeyCanonicalization(t *testing.T) {
	a := Search(" Gundam ", false).CacheKey("demo")
	b := Search("gundam", false).CacheKey("demo")
	if a != b {
		t.Fatalf("keyword canonicalization broken: %q vs %q", a, b)
	}

	c := Category("1", 2, true, map[string]string{"year": "2024", "area": "JP"}).CacheKey("demo")
	d := Category("1", 2, true, map[string]string{"area": "JP", "year": "2024"}).CacheKey("demo")
	if c != d {
		t.Fatalf("ext map order leaked into key: %q vs %q", c, d)
	}

	e := Detail([]string{"b", "a"}).CacheKey("demo")
	f := Detail([]string{"a", "b"}).CacheKey("demo")
	if e != f {
		t.Fatalf("id order leaked into key: %q vs %q", e, f)
	}
}

func TestCacheKeyDistinguishesOperations(t *testing.T) {
	keys := map[string]bool{}
	ops := []Operation{
		Home(false),
		Home(true),
		Category("1", 1, false, nil),
		Category("1", 2, false, nil),
		Category("2", 1, false, nil),
		Detail([]string{"1"}),
		Search("a", false),
		Search("a", true),
		Player("m3u8", "ep1", nil),
		Player("mp4", "ep1", nil),
	}
	for _, op := range ops {
		key := op.CacheKey("demo")
		if keys[key] {
			t.Fatalf("duplicate cache key %q for %+v", key, op)
		}
		keys[key] = true
	}
	if Home(false).CacheKey("siteA") == Home(false).CacheKey("siteB") {
		t.Fatal("cache keys must be per-site")
	}
}

// recordingSpider captures which contract methods Dispatch routed to.
type recordingSpider struct {
	NullSpider
	home      models.Result
	homeVideo models.Result
	calls     []string
}

func (r *recordingSpider) HomeContent(context.Context, bool) (models.Result, error) {
	r.calls = append(r.calls, "home")
	return r.home, nil
}

func (r *recordingSpider) HomeVideoContent(context.Context) (models.Result, error) {
	r.calls = append(r.calls, "homeVideo")
	return r.homeVideo, nil
}

func TestDispatchHomeVideoFallback(t *testing.T) {
	sp := &recordingSpider{
		home: models.Result{
			Classes: []models.Class{{TypeID: "1", TypeName: "Movies"}},
			List:    []models.Vod{},
		},
		homeVideo: models.Result{List: []models.Vod{{ID: "1", Name: "A"}}},
	}

	res, err := Dispatch(context.Background(), sp, Home(false))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(sp.calls) != 2 || sp.calls[1] != "homeVideo" {
		t.Fatalf("fallback not invoked: %v", sp.calls)
	}
	if len(res.List) != 1 || len(res.Classes) != 1 {
		t.Fatalf("merged result wrong: %+v", res)
	}
}

func TestDispatchHomeNoFallbackWhenListPresent(t *testing.T) {
	sp := &recordingSpider{
		home: models.Result{
			Classes: []models.Class{{TypeID: "1"}},
			List:    []models.Vod{{ID: "1"}},
		},
	}
	if _, err := Dispatch(context.Background(), sp, Home(false)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	for _, call := range sp.calls {
		if call == "homeVideo" {
			t.Fatal("fallback invoked despite populated list")
		}
	}
}

func TestDispatchUnknownOperation(t *testing.T) {
	_, err := Dispatch(context.Background(), &NullSpider{}, Operation{Name: "bogus"})
	if !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}
}

type timeoutNetErr struct{}

func (timeoutNetErr) Error() string   { return "i/o timeout" }
func (timeoutNetErr) Timeout() bool   { return true }
func (timeoutNetErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancel", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"server error", &StatusError{URL: "u", Code: 503}, true},
		{"client error", &StatusError{URL: "u", Code: 404}, false},
		{"malformed", &MalformedError{SiteKey: "s", Cause: errors.New("bad json")}, false},
		{"init failure", ErrBackendInit, false},
		{"net timeout", net.Error(timeoutNetErr{}), true},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("%s: IsTransient=%v, want %v", tc.name, got, tc.want)
		}
	}
}
