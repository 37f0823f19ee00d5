package vod

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"vodstream/config"
	"vodstream/models"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

const listingBody = `{"class":[{"type_id":"1","type_name":"Movies"}],"list":[{"vod_id":"1","vod_name":"A","vod_pic":"p"}]}`

func testSites() []models.Site {
	return []models.Site{
		{Key: "alpha", Name: "Alpha", Kind: models.KindJSON, API: "https://alpha.example.com/vod", Searchable: true, VideoList: true},
		{Key: "beta", Name: "Beta", Kind: models.KindJSON, API: "https://beta.example.com/vod", Searchable: true, VideoList: true},
	}
}

func newTestService(t *testing.T, rt roundTripFunc) (*Service, *config.Manager) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	settings := config.DefaultSettings()
	settings.Sites = testSites()
	data, err := json.Marshal(settings)
	if err != nil {
		t.Fatalf("marshal settings: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	manager := config.NewManager(path)
	svc, err := NewService(manager, Options{
		HTTPClient: &http.Client{Transport: rt},
		CacheFs:    afero.NewMemMapFs(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, manager
}

// Reloads race content requests in production: PUT /api/settings lands while
// handler goroutines are mid-search. Run under the race detector this covers
// the settings snapshot swap.
func TestReloadWhileServingIsSafe(t *testing.T) {
	svc, manager := newTestService(t, func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(listingBody)),
		}, nil
	})

	const rounds = 25
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		settings, err := manager.Load()
		if err != nil {
			t.Errorf("load: %v", err)
			return
		}
		for i := 0; i < rounds; i++ {
			// Alternate one site's endpoint so reloads also exercise the
			// changed-site invalidation path.
			settings.Sites[1].API = fmt.Sprintf("https://beta.example.com/vod?rev=%d", i%2)
			if err := manager.Save(settings); err != nil {
				t.Errorf("save: %v", err)
				return
			}
			if err := svc.ReloadSites(); err != nil {
				t.Errorf("reload: %v", err)
				return
			}
		}
	}()

	for g := 0; g < 3; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				if sites := svc.Sites(); len(sites) != 2 {
					t.Errorf("sites snapshot wrong: %+v", sites)
					return
				}
				if _, err := svc.ResolveHome(context.Background(), "alpha", false); err != nil {
					t.Errorf("home: %v", err)
					return
				}
				for range svc.Search(context.Background(), nil, "gundam", false) {
				}
			}
		}()
	}
	wg.Wait()
}

func TestReloadSitesPicksUpNewSite(t *testing.T) {
	svc, manager := newTestService(t, func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(listingBody)),
		}, nil
	})

	settings, err := manager.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	settings.Sites = append(settings.Sites, models.Site{
		Key: "gamma", Name: "Gamma", Kind: models.KindJSON, API: "https://gamma.example.com/vod", Searchable: true, VideoList: true,
	})
	if err := manager.Save(settings); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := svc.ReloadSites(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if sites := svc.Sites(); len(sites) != 3 {
		t.Fatalf("expected 3 sites after reload, got %d", len(sites))
	}
	if _, err := svc.ResolveHome(context.Background(), "gamma", false); err != nil {
		t.Fatalf("new site not resolvable: %v", err)
	}
}
