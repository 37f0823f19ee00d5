package optimizer

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"vodstream/config"
	"vodstream/models"
)

// minHealthSamples is the smallest window before the error rate can trip the
// degraded state; a single early failure shouldn't mark a site bad.
const minHealthSamples = 5

// siteState carries the per-site concurrency limiter and the rolling health
// window. One instance per site key, created on first use.
type siteState struct {
	key     string
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	mu          sync.Mutex
	window      []bool // ring of recent outcomes, true = success
	windowPos   int
	windowFull  bool
	degraded    bool
	calls       int64
	failures    int64
	retries     int64
	slowCalls   int64
	totalMillis int64
	threshold   float64
}

func (s *siteState) record(success bool, elapsed time.Duration, slow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.totalMillis += elapsed.Milliseconds()
	if slow {
		s.slowCalls++
	}
	if !success {
		s.failures++
	}
	s.window[s.windowPos] = success
	s.windowPos = (s.windowPos + 1) % len(s.window)
	if s.windowPos == 0 {
		s.windowFull = true
	}
	s.transitionLocked()
}

func (s *siteState) addRetry() {
	s.mu.Lock()
	s.retries++
	s.mu.Unlock()
}

// transitionLocked drives the Healthy <-> Degraded state machine with a
// little hysteresis: degrading needs the full threshold, recovering needs
// the rate to fall below half of it.
func (s *siteState) transitionLocked() {
	samples, failures := s.windowCountsLocked()
	if samples < minHealthSamples {
		return
	}
	errRate := float64(failures) / float64(samples)
	switch {
	case !s.degraded && errRate >= s.threshold:
		s.degraded = true
		log.Printf("[optimizer] site %s degraded: error rate %.0f%% over last %d calls", s.key, errRate*100, samples)
	case s.degraded && errRate < s.threshold/2:
		s.degraded = false
		log.Printf("[optimizer] site %s recovered: error rate %.0f%% over last %d calls", s.key, errRate*100, samples)
	}
}

func (s *siteState) windowCountsLocked() (samples, failures int) {
	n := s.windowPos
	if s.windowFull {
		n = len(s.window)
	}
	for i := 0; i < n; i++ {
		if !s.window[i] {
			failures++
		}
	}
	return n, failures
}

func (s *siteState) isDegraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// healthTracker owns all per-site states.
type healthTracker struct {
	mu      sync.Mutex
	sites   map[string]*siteState
	permits int64
	perSec  rate.Limit
	window  int
	errRate float64
}

// newHealthTracker clamps zero-valued settings so a tracker built without
// config fallbacks still gets a usable window, at least one permit, and a
// limiter that admits requests.
func newHealthTracker(cfg config.EngineSettings) *healthTracker {
	permits := int64(cfg.PerSitePermits)
	if permits < 1 {
		permits = 1
	}
	window := cfg.HealthWindow
	if window < 1 {
		window = 1
	}
	perSec := rate.Limit(cfg.PerSiteRatePerSec)
	if perSec <= 0 {
		perSec = rate.Inf
	}
	return &healthTracker{
		sites:   make(map[string]*siteState),
		permits: permits,
		perSec:  perSec,
		window:  window,
		errRate: cfg.DegradedErrorRate,
	}
}

func (t *healthTracker) state(key string) *siteState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.sites[key]
	if !ok {
		st = &siteState{
			key:       key,
			sem:       semaphore.NewWeighted(t.permits),
			limiter:   rate.NewLimiter(t.perSec, int(t.permits)),
			window:    make([]bool, t.window),
			threshold: t.errRate,
		}
		t.sites[key] = st
	}
	return st
}

func (t *healthTracker) snapshot() []models.SiteHealth {
	t.mu.Lock()
	states := make([]*siteState, 0, len(t.sites))
	for _, st := range t.sites {
		states = append(states, st)
	}
	t.mu.Unlock()

	out := make([]models.SiteHealth, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		state := "healthy"
		if st.degraded {
			state = "degraded"
		}
		var avg int64
		if st.calls > 0 {
			avg = st.totalMillis / st.calls
		}
		samples, failures := st.windowCountsLocked()
		var rateVal float64
		if samples > 0 {
			rateVal = float64(failures) / float64(samples)
		}
		out = append(out, models.SiteHealth{
			SiteKey:   st.key,
			State:     state,
			Calls:     st.calls,
			Failures:  st.failures,
			Retries:   st.retries,
			SlowCalls: st.slowCalls,
			AvgMillis: avg,
			ErrorRate: rateVal,
		})
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SiteKey < out[j].SiteKey })
	return out
}

// suggestions turns collected stats into operator hints.
func (t *healthTracker) suggestions(cfg config.EngineSettings) []models.Suggestion {
	var out []models.Suggestion
	for _, h := range t.snapshot() {
		if h.State == "degraded" {
			out = append(out, models.Suggestion{
				SiteKey: h.SiteKey,
				Level:   "warn",
				Message: fmt.Sprintf("site %s is degraded (error rate %.0f%%), check upstream availability or disable the site", h.SiteKey, h.ErrorRate*100),
			})
		}
		if h.Calls > 0 && h.AvgMillis > int64(cfg.SlowCallThresholdMillis) {
			out = append(out, models.Suggestion{
				SiteKey: h.SiteKey,
				Level:   "warn",
				Message: fmt.Sprintf("site %s averaging %dms per call, consider raising its cache TTL or investigating upstream", h.SiteKey, h.AvgMillis),
			})
		}
		if h.Calls >= 10 && h.Retries > h.Calls/2 {
			out = append(out, models.Suggestion{
				SiteKey: h.SiteKey,
				Level:   "info",
				Message: fmt.Sprintf("site %s needed %d retries across %d calls, upstream looks flaky", h.SiteKey, h.Retries, h.Calls),
			})
		}
	}
	return out
}
