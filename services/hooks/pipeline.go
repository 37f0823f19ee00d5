package hooks

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"vodstream/models"
)

// Pipeline holds the three ordered interceptor chains. Chains are sorted by
// priority at registration time so execution order is deterministic.
type Pipeline struct {
	mu       sync.RWMutex
	request  []RequestHook
	response []ResponseHook
	player   []PlayerHook

	statsMu sync.Mutex
	stats   map[string]*hookCounters

	timeout time.Duration
}

type hookCounters struct {
	chain       string
	success     atomic.Int64
	failure     atomic.Int64
	skipped     atomic.Int64
	totalMillis atomic.Int64
}

// NewPipeline returns a pipeline preloaded with the built-in hooks.
func NewPipeline() *Pipeline {
	p := &Pipeline{
		stats:   make(map[string]*hookCounters),
		timeout: hookTimeout,
	}
	p.RegisterRequest(&headerNormalizer{})
	p.RegisterResponse(&charsetFixer{})
	p.RegisterResponse(&contentTypeSniffer{})
	p.RegisterPlayer(&trackingParamStripper{})
	p.RegisterPlayer(&schemeUpgrader{})
	p.RegisterPlayer(&mediaClassifier{})
	p.RegisterPlayer(&playerHeaderInjector{})
	return p
}

// RegisterRequest adds a request hook, keeping the chain priority-sorted.
func (p *Pipeline) RegisterRequest(h RequestHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.request = append(p.request, h)
	sort.SliceStable(p.request, func(i, j int) bool { return p.request[i].Priority() < p.request[j].Priority() })
}

// RegisterResponse adds a response hook, keeping the chain priority-sorted.
func (p *Pipeline) RegisterResponse(h ResponseHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.response = append(p.response, h)
	sort.SliceStable(p.response, func(i, j int) bool { return p.response[i].Priority() < p.response[j].Priority() })
}

// RegisterPlayer adds a player-url hook, keeping the chain priority-sorted.
func (p *Pipeline) RegisterPlayer(h PlayerHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.player = append(p.player, h)
	sort.SliceStable(p.player, func(i, j int) bool { return p.player[i].Priority() < p.player[j].Priority() })
}

func (p *Pipeline) counters(name, chain string) *hookCounters {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	c, ok := p.stats[chain+"/"+name]
	if !ok {
		c = &hookCounters{chain: chain}
		p.stats[chain+"/"+name] = c
	}
	return c
}

// RunRequest folds the request chain over the value. Hook failures and
// timeouts degrade to passing the prior value through unmodified.
func (p *Pipeline) RunRequest(ctx context.Context, req *Request) *Request {
	p.mu.RLock()
	chain := append([]RequestHook(nil), p.request...)
	p.mu.RUnlock()

	current := req
	for _, h := range chain {
		if !h.Enabled() || !h.Matches(current) {
			p.counters(h.Name(), "request").skipped.Add(1)
			continue
		}
		out, elapsed := p.executeRequest(ctx, h, current.Clone())
		c := p.counters(h.Name(), "request")
		c.totalMillis.Add(elapsed.Milliseconds())
		switch out.Status {
		case StatusSuccess:
			c.success.Add(1)
			if out.Value != nil {
				current = out.Value
			}
		case StatusStop:
			c.success.Add(1)
			if out.Value != nil {
				current = out.Value
			}
			return current
		case StatusSkip:
			c.skipped.Add(1)
		case StatusFailure:
			c.failure.Add(1)
			log.Printf("[hooks] request hook %s failed: %v", h.Name(), out.Err)
		}
	}
	return current
}

// RunResponse folds the response chain over the value.
func (p *Pipeline) RunResponse(ctx context.Context, res *Response) *Response {
	p.mu.RLock()
	chain := append([]ResponseHook(nil), p.response...)
	p.mu.RUnlock()

	current := res
	for _, h := range chain {
		if !h.Enabled() || !h.Matches(current) {
			p.counters(h.Name(), "response").skipped.Add(1)
			continue
		}
		out, elapsed := p.executeResponse(ctx, h, current.Clone())
		c := p.counters(h.Name(), "response")
		c.totalMillis.Add(elapsed.Milliseconds())
		switch out.Status {
		case StatusSuccess:
			c.success.Add(1)
			if out.Value != nil {
				current = out.Value
			}
		case StatusStop:
			c.success.Add(1)
			if out.Value != nil {
				current = out.Value
			}
			return current
		case StatusSkip:
			c.skipped.Add(1)
		case StatusFailure:
			c.failure.Add(1)
			log.Printf("[hooks] response hook %s failed: %v", h.Name(), out.Err)
		}
	}
	return current
}

// RunPlayer folds the player chain over the resolved url.
func (p *Pipeline) RunPlayer(ctx context.Context, pl *Player) *Player {
	p.mu.RLock()
	chain := append([]PlayerHook(nil), p.player...)
	p.mu.RUnlock()

	current := pl
	for _, h := range chain {
		if !h.Enabled() || !h.Matches(current) {
			p.counters(h.Name(), "player").skipped.Add(1)
			continue
		}
		out, elapsed := p.executePlayer(ctx, h, current.Clone())
		c := p.counters(h.Name(), "player")
		c.totalMillis.Add(elapsed.Milliseconds())
		switch out.Status {
		case StatusSuccess:
			c.success.Add(1)
			if out.Value != nil {
				current = out.Value
			}
		case StatusStop:
			c.success.Add(1)
			if out.Value != nil {
				current = out.Value
			}
			return current
		case StatusSkip:
			c.skipped.Add(1)
		case StatusFailure:
			c.failure.Add(1)
			log.Printf("[hooks] player hook %s failed: %v", h.Name(), out.Err)
		}
	}
	return current
}

// executeRequest runs one hook under the per-hook timeout. The hook gets its
// own clone, so a stuck hook finishing late cannot race the continued chain.
func (p *Pipeline) executeRequest(ctx context.Context, h RequestHook, in *Request) (Outcome[Request], time.Duration) {
	start := time.Now()
	hctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan Outcome[Request], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Fail[Request](fmt.Errorf("panic: %v", r))
			}
		}()
		done <- h.Execute(hctx, in)
	}()
	select {
	case out := <-done:
		return out, time.Since(start)
	case <-hctx.Done():
		return Fail[Request](fmt.Errorf("timeout after %s", p.timeout)), time.Since(start)
	}
}

func (p *Pipeline) executeResponse(ctx context.Context, h ResponseHook, in *Response) (Outcome[Response], time.Duration) {
	start := time.Now()
	hctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan Outcome[Response], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Fail[Response](fmt.Errorf("panic: %v", r))
			}
		}()
		done <- h.Execute(hctx, in)
	}()
	select {
	case out := <-done:
		return out, time.Since(start)
	case <-hctx.Done():
		return Fail[Response](fmt.Errorf("timeout after %s", p.timeout)), time.Since(start)
	}
}

func (p *Pipeline) executePlayer(ctx context.Context, h PlayerHook, in *Player) (Outcome[Player], time.Duration) {
	start := time.Now()
	hctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan Outcome[Player], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Fail[Player](fmt.Errorf("panic: %v", r))
			}
		}()
		done <- h.Execute(hctx, in)
	}()
	select {
	case out := <-done:
		return out, time.Since(start)
	case <-hctx.Done():
		return Fail[Player](fmt.Errorf("timeout after %s", p.timeout)), time.Since(start)
	}
}

// Stats returns per-hook counters for introspection.
func (p *Pipeline) Stats() []models.HookStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	out := make([]models.HookStats, 0, len(p.stats))
	for key, c := range p.stats {
		name := key
		if i := len(c.chain) + 1; i <= len(key) {
			name = key[i:]
		}
		out = append(out, models.HookStats{
			Name:        name,
			Chain:       c.chain,
			Success:     c.success.Load(),
			Failure:     c.failure.Load(),
			Skipped:     c.skipped.Load(),
			TotalMillis: c.totalMillis.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Chain != out[j].Chain {
			return out[i].Chain < out[j].Chain
		}
		return out[i].Name < out[j].Name
	})
	return out
}
